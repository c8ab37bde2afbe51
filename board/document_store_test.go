package board

import (
	"reflect"
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestDocumentStoreCopyOnWrite(t *testing.T) {
	store := NewDocumentStore()

	before := store.Shapes()
	shape := &Shape{
		ShapeId: NewId(),
		Type:    ShapeTypeRect,
		X:       10,
		Y:       20,
		Width:   100,
		Height:  50,
	}
	store.AddShape(OriginLocal, shape)
	after := store.Shapes()

	// a mutation installs a new collection reference
	if reflect.ValueOf(before).Pointer() == reflect.ValueOf(after).Pointer() {
		t.Fatal("expected a new map reference after mutation")
	}
	assert.Equal(t, 0, len(before))
	assert.Equal(t, 1, len(after))

	// a deep-equal update is a no-op
	unchanged := store.UpdateShape(OriginLocal, shape.Copy())
	assert.Equal(t, false, unchanged)

	moved := shape.Copy()
	moved.X = 50
	changed := store.UpdateShape(OriginLocal, moved)
	assert.Equal(t, true, changed)
	assert.Equal(t, 50.0, store.Shape(shape.ShapeId).X)
}

func TestDocumentStoreCascadeDelete(t *testing.T) {
	store := NewDocumentStore()

	a := &Shape{ShapeId: NewId(), Type: ShapeTypeRect, Width: 10, Height: 10}
	b := &Shape{ShapeId: NewId(), Type: ShapeTypeRect, X: 100, Width: 10, Height: 10}
	c := &Shape{ShapeId: NewId(), Type: ShapeTypeRect, Y: 100, Width: 10, Height: 10}
	store.AddShape(OriginLocal, a)
	store.AddShape(OriginLocal, b)
	store.AddShape(OriginLocal, c)

	ab := &Connector{
		ConnectorId: NewId(),
		From:        ConnectorEndpoint{ShapeId: &a.ShapeId, Anchor: AnchorAuto},
		To:          ConnectorEndpoint{ShapeId: &b.ShapeId, Anchor: AnchorAuto},
	}
	bc := &Connector{
		ConnectorId: NewId(),
		From:        ConnectorEndpoint{ShapeId: &b.ShapeId, Anchor: AnchorAuto},
		To:          ConnectorEndpoint{ShapeId: &c.ShapeId, Anchor: AnchorAuto},
	}
	ca := &Connector{
		ConnectorId: NewId(),
		From:        ConnectorEndpoint{ShapeId: &c.ShapeId, Anchor: AnchorAuto},
		To:          ConnectorEndpoint{ShapeId: &a.ShapeId, Anchor: AnchorAuto},
	}
	store.AddConnector(OriginLocal, ab)
	store.AddConnector(OriginLocal, bc)
	store.AddConnector(OriginLocal, ca)

	removed := store.RemoveShape(OriginLocal, b.ShapeId)
	assert.Equal(t, true, removed)

	// every connector referencing b is gone in the same operation
	connectors := store.Connectors()
	assert.Equal(t, 1, len(connectors))
	for _, connector := range connectors {
		assert.Equal(t, false, connector.References(b.ShapeId))
	}
	assert.Equal(t, ca.ConnectorId, connectors[ca.ConnectorId].ConnectorId)
}

func TestDocumentStoreGroupUngroup(t *testing.T) {
	store := NewDocumentStore()

	a := &Shape{ShapeId: NewId(), Type: ShapeTypeRect}
	b := &Shape{ShapeId: NewId(), Type: ShapeTypeEllipse}
	store.AddShape(OriginLocal, a)
	store.AddShape(OriginLocal, b)

	// grouping needs at least two selected shapes
	store.SetSelection(SelectionKindShape, []Id{a.ShapeId})
	assert.Equal(t, nil, store.GroupSelection(OriginLocal))

	store.SetSelection(SelectionKindShape, []Id{a.ShapeId, b.ShapeId})
	groupId := store.GroupSelection(OriginLocal)
	assert.NotEqual(t, nil, groupId)
	assert.Equal(t, *groupId, *store.Shape(a.ShapeId).GroupId)
	assert.Equal(t, *groupId, *store.Shape(b.ShapeId).GroupId)

	ungrouped := store.UngroupSelection(OriginLocal)
	assert.Equal(t, true, ungrouped)
	assert.Equal(t, (*Id)(nil), store.Shape(a.ShapeId).GroupId)
	assert.Equal(t, (*Id)(nil), store.Shape(b.ShapeId).GroupId)
}

func TestDocumentStoreConnectorSelectionSingular(t *testing.T) {
	store := NewDocumentStore()

	c1 := NewId()
	c2 := NewId()
	store.SetSelection(SelectionKindConnector, []Id{c1, c2})

	selection := store.Selection()
	assert.Equal(t, SelectionKindConnector, selection.Kind)
	assert.Equal(t, []Id{c1}, selection.Ids)
}

func TestDocumentStoreImportValidation(t *testing.T) {
	store := NewDocumentStore()
	shape := &Shape{ShapeId: NewId(), Type: ShapeTypeRect}
	store.AddShape(OriginLocal, shape)

	// a malformed payload is rejected before any mutation
	err := store.ReplaceDocument(OriginLocal, nil)
	assert.NotEqual(t, err, nil)
	err = store.ReplaceDocument(OriginLocal, &Document{Connectors: map[Id]*Connector{}})
	assert.NotEqual(t, err, nil)
	err = store.ReplaceDocument(OriginLocal, &Document{Shapes: map[Id]*Shape{}})
	assert.NotEqual(t, err, nil)
	assert.Equal(t, 1, len(store.Shapes()))

	document := NewDocument()
	other := &Shape{ShapeId: NewId(), Type: ShapeTypeEllipse}
	document.Shapes[other.ShapeId] = other
	err = store.ReplaceDocument(OriginLocal, document)
	assert.Equal(t, err, nil)
	assert.Equal(t, 1, len(store.Shapes()))
	assert.NotEqual(t, store.Shape(other.ShapeId), nil)
	assert.Equal(t, store.Shape(shape.ShapeId), (*Shape)(nil))
}

func TestDocumentStoreChangeOrigin(t *testing.T) {
	store := NewDocumentStore()

	origins := []MutationOrigin{}
	unsub := store.AddChangeCallback(func(change *DocumentChange) {
		origins = append(origins, change.Origin)
	})
	defer unsub()

	store.AddShape(OriginLocal, &Shape{ShapeId: NewId(), Type: ShapeTypeRect})
	store.SetDocument(OriginRemoteApply, map[Id]*Shape{}, map[Id]*Connector{})
	store.SetDocument(OriginUndoRedo, map[Id]*Shape{}, map[Id]*Connector{})

	assert.Equal(t, []MutationOrigin{OriginLocal, OriginRemoteApply, OriginUndoRedo}, origins)
}
