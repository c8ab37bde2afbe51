package board

import (
	"math"
)

// pure geometry for connector anchor resolution and routing.
// rendering consumes the returned polylines; the core tolerates
// dangling shape references by returning no path.

func ShapeCenter(shape *Shape) Point {
	return Point{
		X: shape.X + shape.Width/2,
		Y: shape.Y + shape.Height/2,
	}
}

// AnchorPoint resolves a named or auto anchor on the shape boundary.
// The auto anchor is the boundary point nearest `toward`,
// by shape-specific parametrization.
func AnchorPoint(shape *Shape, anchor AnchorName, toward Point) Point {
	center := ShapeCenter(shape)
	switch anchor {
	case AnchorTop:
		return Point{X: center.X, Y: shape.Y}
	case AnchorBottom:
		return Point{X: center.X, Y: shape.Y + shape.Height}
	case AnchorLeft:
		return Point{X: shape.X, Y: center.Y}
	case AnchorRight:
		return Point{X: shape.X + shape.Width, Y: center.Y}
	default:
		return autoAnchorPoint(shape, toward)
	}
}

func autoAnchorPoint(shape *Shape, toward Point) Point {
	center := ShapeCenter(shape)
	dx := toward.X - center.X
	dy := toward.Y - center.Y
	if dx == 0 && dy == 0 {
		return center
	}
	hw := shape.Width / 2
	hh := shape.Height / 2

	switch shape.Type {
	case ShapeTypeEllipse:
		// polar parametrization by the angle to the target
		angle := math.Atan2(dy, dx)
		return Point{
			X: center.X + hw*math.Cos(angle),
			Y: center.Y + hh*math.Sin(angle),
		}
	case ShapeTypeDiamond:
		// L1-normalized edge intersection along the direction vector
		t := (hw * hh) / (math.Abs(dx)*hh + math.Abs(dy)*hw)
		return Point{
			X: center.X + t*dx,
			Y: center.Y + t*dy,
		}
	default:
		// rectangle boundary: the smaller of the two
		// axis-aligned scale factors to the half-extents
		sx := math.Inf(1)
		sy := math.Inf(1)
		if dx != 0 {
			sx = hw / math.Abs(dx)
		}
		if dy != 0 {
			sy = hh / math.Abs(dy)
		}
		t := math.Min(sx, sy)
		return Point{
			X: center.X + t*dx,
			Y: center.Y + t*dy,
		}
	}
}

// ConnectorPath computes the rendered polyline for a connector.
// Returns nil when an endpoint references a missing shape and has no
// free point to fall back on; rendering decides whether to drop it.
func ConnectorPath(shapes map[Id]*Shape, connector *Connector) []Point {
	fromShape, fromPoint, ok := resolveEndpoint(shapes, connector.From)
	if !ok {
		return nil
	}
	toShape, toPoint, ok := resolveEndpoint(shapes, connector.To)
	if !ok {
		return nil
	}

	// each shape endpoint is anchored toward the other endpoint's center
	fromToward := toPoint
	if toShape != nil {
		fromToward = ShapeCenter(toShape)
	}
	toToward := fromPoint
	if fromShape != nil {
		toToward = ShapeCenter(fromShape)
	}

	a := fromPoint
	if fromShape != nil {
		a = AnchorPoint(fromShape, connector.From.Anchor, fromToward)
	}
	b := toPoint
	if toShape != nil {
		b = AnchorPoint(toShape, connector.To.Anchor, toToward)
	}

	if connector.Routing == RoutingOrthogonal {
		return elbowPath(a, b, connector.From.Anchor, connector.To.Anchor)
	}
	return []Point{a, b}
}

func resolveEndpoint(shapes map[Id]*Shape, endpoint ConnectorEndpoint) (shape *Shape, point Point, ok bool) {
	if endpoint.ShapeId != nil {
		if shape, ok := shapes[*endpoint.ShapeId]; ok {
			return shape, ShapeCenter(shape), true
		}
		// dangling shape reference
		if endpoint.Point == nil {
			return nil, Point{}, false
		}
	}
	if endpoint.Point != nil {
		return nil, *endpoint.Point, true
	}
	return nil, Point{}, false
}

func horizontalAnchor(anchor AnchorName) bool {
	return anchor == AnchorLeft || anchor == AnchorRight
}

func verticalAnchor(anchor AnchorName) bool {
	return anchor == AnchorTop || anchor == AnchorBottom
}

// elbowPath produces a single-bend orthogonal route.
// An explicit left/right anchor routes horizontal-then-vertical through
// the midpoint x; top/bottom routes vertical-then-horizontal through
// the midpoint y. With both anchors auto, the axis with the larger
// absolute displacement decides.
func elbowPath(a Point, b Point, fromAnchor AnchorName, toAnchor AnchorName) []Point {
	horizontalFirst := false
	switch {
	case horizontalAnchor(fromAnchor) || horizontalAnchor(toAnchor):
		horizontalFirst = true
	case verticalAnchor(fromAnchor) || verticalAnchor(toAnchor):
		horizontalFirst = false
	default:
		horizontalFirst = math.Abs(b.Y-a.Y) <= math.Abs(b.X-a.X)
	}

	if horizontalFirst {
		midX := (a.X + b.X) / 2
		return []Point{
			a,
			{X: midX, Y: a.Y},
			{X: midX, Y: b.Y},
			b,
		}
	}
	midY := (a.Y + b.Y) / 2
	return []Point{
		a,
		{X: a.X, Y: midY},
		{X: b.X, Y: midY},
		b,
	}
}
