package board

import (
	"math"
	"testing"

	"github.com/go-playground/assert/v2"
)

func assertPointNear(t *testing.T, expected Point, actual Point) {
	t.Helper()
	if 1e-9 < math.Abs(expected.X-actual.X) || 1e-9 < math.Abs(expected.Y-actual.Y) {
		t.Fatalf("expected (%f, %f), got (%f, %f)", expected.X, expected.Y, actual.X, actual.Y)
	}
}

func TestAnchorPointNamed(t *testing.T) {
	shape := &Shape{
		ShapeId: NewId(),
		Type:    ShapeTypeRect,
		X:       10,
		Y:       20,
		Width:   100,
		Height:  40,
	}

	assertPointNear(t, Point{X: 60, Y: 20}, AnchorPoint(shape, AnchorTop, Point{}))
	assertPointNear(t, Point{X: 60, Y: 60}, AnchorPoint(shape, AnchorBottom, Point{}))
	assertPointNear(t, Point{X: 10, Y: 40}, AnchorPoint(shape, AnchorLeft, Point{}))
	assertPointNear(t, Point{X: 110, Y: 40}, AnchorPoint(shape, AnchorRight, Point{}))
}

func TestAutoAnchorRect(t *testing.T) {
	shape := &Shape{
		ShapeId: NewId(),
		Type:    ShapeTypeRect,
		X:       0,
		Y:       0,
		Width:   100,
		Height:  40,
	}

	// target directly to the right exits through the right edge
	assertPointNear(t, Point{X: 100, Y: 20}, AnchorPoint(shape, AnchorAuto, Point{X: 1000, Y: 20}))
	// target directly below exits through the bottom edge
	assertPointNear(t, Point{X: 50, Y: 40}, AnchorPoint(shape, AnchorAuto, Point{X: 50, Y: 1000}))
	// a degenerate target at the center collapses to the center
	assertPointNear(t, Point{X: 50, Y: 20}, AnchorPoint(shape, AnchorAuto, Point{X: 50, Y: 20}))
}

func TestAutoAnchorEllipse(t *testing.T) {
	shape := &Shape{
		ShapeId: NewId(),
		Type:    ShapeTypeEllipse,
		X:       0,
		Y:       0,
		Width:   100,
		Height:  40,
	}

	// the boundary point lies on the ellipse along the target angle
	assertPointNear(t, Point{X: 100, Y: 20}, AnchorPoint(shape, AnchorAuto, Point{X: 1000, Y: 20}))
	assertPointNear(t, Point{X: 50, Y: 0}, AnchorPoint(shape, AnchorAuto, Point{X: 50, Y: -1000}))
}

func TestAutoAnchorDiamond(t *testing.T) {
	shape := &Shape{
		ShapeId: NewId(),
		Type:    ShapeTypeDiamond,
		X:       0,
		Y:       0,
		Width:   100,
		Height:  100,
	}

	// along the axes, the diamond boundary meets the vertex
	assertPointNear(t, Point{X: 100, Y: 50}, AnchorPoint(shape, AnchorAuto, Point{X: 1000, Y: 50}))
	// along the 45 degree diagonal, it meets the edge midpoint
	assertPointNear(t, Point{X: 75, Y: 75}, AnchorPoint(shape, AnchorAuto, Point{X: 1000, Y: 1000}))
}

func TestConnectorPathStraight(t *testing.T) {
	a := &Shape{ShapeId: NewId(), Type: ShapeTypeRect, X: 0, Y: 0, Width: 10, Height: 10}
	b := &Shape{ShapeId: NewId(), Type: ShapeTypeRect, X: 100, Y: 0, Width: 10, Height: 10}
	shapes := map[Id]*Shape{
		a.ShapeId: a,
		b.ShapeId: b,
	}

	connector := &Connector{
		ConnectorId: NewId(),
		From:        ConnectorEndpoint{ShapeId: &a.ShapeId, Anchor: AnchorAuto},
		To:          ConnectorEndpoint{ShapeId: &b.ShapeId, Anchor: AnchorAuto},
		Routing:     RoutingStraight,
	}

	path := ConnectorPath(shapes, connector)
	assert.Equal(t, 2, len(path))
	assertPointNear(t, Point{X: 10, Y: 5}, path[0])
	assertPointNear(t, Point{X: 100, Y: 5}, path[1])
}

func TestConnectorPathFreeEndpoint(t *testing.T) {
	a := &Shape{ShapeId: NewId(), Type: ShapeTypeRect, X: 0, Y: 0, Width: 10, Height: 10}
	shapes := map[Id]*Shape{
		a.ShapeId: a,
	}

	free := Point{X: 100, Y: 5}
	connector := &Connector{
		ConnectorId: NewId(),
		From:        ConnectorEndpoint{ShapeId: &a.ShapeId, Anchor: AnchorAuto},
		To:          ConnectorEndpoint{Point: &free},
		Routing:     RoutingStraight,
	}

	path := ConnectorPath(shapes, connector)
	assert.Equal(t, 2, len(path))
	assertPointNear(t, Point{X: 10, Y: 5}, path[0])
	assertPointNear(t, free, path[1])
}

func TestConnectorPathDangling(t *testing.T) {
	a := &Shape{ShapeId: NewId(), Type: ShapeTypeRect, X: 0, Y: 0, Width: 10, Height: 10}
	shapes := map[Id]*Shape{
		a.ShapeId: a,
	}

	missing := NewId()
	connector := &Connector{
		ConnectorId: NewId(),
		From:        ConnectorEndpoint{ShapeId: &a.ShapeId, Anchor: AnchorAuto},
		To:          ConnectorEndpoint{ShapeId: &missing, Anchor: AnchorAuto},
		Routing:     RoutingStraight,
	}

	// a dangling reference with no free point yields no path
	assert.Equal(t, ([]Point)(nil), ConnectorPath(shapes, connector))

	// a dangling reference with a free point falls back to the point
	fallback := Point{X: 200, Y: 5}
	connector.To.Point = &fallback
	path := ConnectorPath(shapes, connector)
	assert.Equal(t, 2, len(path))
	assertPointNear(t, fallback, path[1])
}

func TestElbowPathHorizontalFirst(t *testing.T) {
	a := Point{X: 0, Y: 0}
	b := Point{X: 100, Y: 40}

	// an explicit side anchor forces the horizontal-first route
	path := elbowPath(a, b, AnchorRight, AnchorAuto)
	assert.Equal(t, 4, len(path))
	assertPointNear(t, Point{X: 50, Y: 0}, path[1])
	assertPointNear(t, Point{X: 50, Y: 40}, path[2])

	// both auto: larger x displacement also routes horizontal-first
	path = elbowPath(a, b, AnchorAuto, AnchorAuto)
	assertPointNear(t, Point{X: 50, Y: 0}, path[1])
}

func TestElbowPathVerticalFirst(t *testing.T) {
	a := Point{X: 0, Y: 0}
	b := Point{X: 40, Y: 100}

	path := elbowPath(a, b, AnchorBottom, AnchorAuto)
	assert.Equal(t, 4, len(path))
	assertPointNear(t, Point{X: 0, Y: 50}, path[1])
	assertPointNear(t, Point{X: 40, Y: 50}, path[2])

	// both auto: larger y displacement routes vertical-first
	path = elbowPath(a, b, AnchorAuto, AnchorAuto)
	assertPointNear(t, Point{X: 0, Y: 50}, path[1])
}
