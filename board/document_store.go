package board

import (
	"errors"
	"sync"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// the origin tag is carried synchronously with each mutation event
// and consumed by both the history wiring and the sync bridge,
// so that loop prevention is structural rather than timing-dependent
type MutationOrigin string

const (
	OriginLocal       MutationOrigin = "local"
	OriginRemoteApply MutationOrigin = "remoteApply"
	OriginUndoRedo    MutationOrigin = "undoRedo"
)

type Tool string

const (
	ToolSelect    Tool = "select"
	ToolRect      Tool = "rect"
	ToolEllipse   Tool = "ellipse"
	ToolDiamond   Tool = "diamond"
	ToolText      Tool = "text"
	ToolDraw      Tool = "draw"
	ToolConnector Tool = "connector"
)

type DocumentChange struct {
	Origin     MutationOrigin
	Shapes     map[Id]*Shape
	Connectors map[Id]*Connector
}

type DocumentChangeFunction = func(change *DocumentChange)

type SelectionChangeFunction = func(selection Selection)

// DocumentStore is the canonical in-memory document state:
// shapes, connectors, selection, and tool.
// Mutations are copy-on-write: every mutating call installs freshly
// cloned collections, so callers can detect "did anything change" by
// comparing references before deep-comparing.
// All mutation flows through this surface; there are no external
// direct field writes.
type DocumentStore struct {
	stateLock sync.Mutex

	shapes     map[Id]*Shape
	connectors map[Id]*Connector
	selection  Selection
	tool       Tool

	changeCallbacks    *CallbackList[DocumentChangeFunction]
	selectionCallbacks *CallbackList[SelectionChangeFunction]
}

func NewDocumentStore() *DocumentStore {
	return &DocumentStore{
		shapes:     map[Id]*Shape{},
		connectors: map[Id]*Connector{},
		selection: Selection{
			Kind: SelectionKindNone,
			Ids:  []Id{},
		},
		tool:               ToolSelect,
		changeCallbacks:    NewCallbackList[DocumentChangeFunction](),
		selectionCallbacks: NewCallbackList[SelectionChangeFunction](),
	}
}

func (self *DocumentStore) AddChangeCallback(changeCallback DocumentChangeFunction) func() {
	callbackId := self.changeCallbacks.Add(changeCallback)
	return func() {
		self.changeCallbacks.Remove(callbackId)
	}
}

func (self *DocumentStore) AddSelectionCallback(selectionCallback SelectionChangeFunction) func() {
	callbackId := self.selectionCallbacks.Add(selectionCallback)
	return func() {
		self.selectionCallbacks.Remove(callbackId)
	}
}

// Shapes returns the current shape collection reference.
// The returned map must be treated as immutable.
func (self *DocumentStore) Shapes() map[Id]*Shape {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.shapes
}

func (self *DocumentStore) Connectors() map[Id]*Connector {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.connectors
}

func (self *DocumentStore) Shape(shapeId Id) *Shape {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.shapes[shapeId]
}

func (self *DocumentStore) Connector(connectorId Id) *Connector {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.connectors[connectorId]
}

func (self *DocumentStore) Selection() Selection {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.selection.Copy()
}

func (self *DocumentStore) Tool() Tool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.tool
}

// SetTool changes the active tool. Tool state is not document content:
// it is not recorded in history and not synced.
func (self *DocumentStore) SetTool(tool Tool) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.tool = tool
}

func (self *DocumentStore) AddShape(origin MutationOrigin, shape *Shape) {
	var change *DocumentChange
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		nextShapes := maps.Clone(self.shapes)
		nextShapes[shape.ShapeId] = shape.Copy()
		self.shapes = nextShapes
		change = self.changeLocked(origin)
	}()
	self.fireChange(change)
}

// UpdateShape replaces the shape record. A deep-equal update is a no-op
// and fires no change event.
func (self *DocumentStore) UpdateShape(origin MutationOrigin, shape *Shape) bool {
	var change *DocumentChange
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		if prior, ok := self.shapes[shape.ShapeId]; ok && prior.Equals(shape) {
			return
		}
		nextShapes := maps.Clone(self.shapes)
		nextShapes[shape.ShapeId] = shape.Copy()
		self.shapes = nextShapes
		change = self.changeLocked(origin)
	}()
	if change == nil {
		return false
	}
	self.fireChange(change)
	return true
}

// RemoveShape deletes the shape and, in the same logical operation,
// every connector whose endpoint references the shape id.
func (self *DocumentStore) RemoveShape(origin MutationOrigin, shapeId Id) bool {
	var change *DocumentChange
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		if _, ok := self.shapes[shapeId]; !ok {
			return
		}
		nextShapes := maps.Clone(self.shapes)
		delete(nextShapes, shapeId)
		self.shapes = nextShapes

		nextConnectors := maps.Clone(self.connectors)
		for connectorId, connector := range self.connectors {
			if connector.References(shapeId) {
				delete(nextConnectors, connectorId)
			}
		}
		self.connectors = nextConnectors
		change = self.changeLocked(origin)
	}()
	if change == nil {
		return false
	}
	self.fireChange(change)
	return true
}

func (self *DocumentStore) AddConnector(origin MutationOrigin, connector *Connector) {
	var change *DocumentChange
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		nextConnectors := maps.Clone(self.connectors)
		nextConnectors[connector.ConnectorId] = connector.Copy()
		self.connectors = nextConnectors
		change = self.changeLocked(origin)
	}()
	self.fireChange(change)
}

func (self *DocumentStore) UpdateConnector(origin MutationOrigin, connector *Connector) bool {
	var change *DocumentChange
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		if prior, ok := self.connectors[connector.ConnectorId]; ok && prior.Equals(connector) {
			return
		}
		nextConnectors := maps.Clone(self.connectors)
		nextConnectors[connector.ConnectorId] = connector.Copy()
		self.connectors = nextConnectors
		change = self.changeLocked(origin)
	}()
	if change == nil {
		return false
	}
	self.fireChange(change)
	return true
}

func (self *DocumentStore) RemoveConnector(origin MutationOrigin, connectorId Id) bool {
	var change *DocumentChange
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		if _, ok := self.connectors[connectorId]; !ok {
			return
		}
		nextConnectors := maps.Clone(self.connectors)
		delete(nextConnectors, connectorId)
		self.connectors = nextConnectors
		change = self.changeLocked(origin)
	}()
	if change == nil {
		return false
	}
	self.fireChange(change)
	return true
}

// SetDocument replaces both collections in one bulk mutation.
// Used by inbound sync, undo/redo application, and import.
func (self *DocumentStore) SetDocument(origin MutationOrigin, shapes map[Id]*Shape, connectors map[Id]*Connector) {
	var change *DocumentChange
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		self.shapes = copyShapes(shapes)
		self.connectors = copyConnectors(connectors)
		change = self.changeLocked(origin)
	}()
	self.fireChange(change)
}

// ReplaceDocument validates and imports a full document.
// A malformed payload is rejected before any mutation.
func (self *DocumentStore) ReplaceDocument(origin MutationOrigin, document *Document) error {
	if document == nil {
		return errors.New("import: missing document")
	}
	if document.Shapes == nil {
		return errors.New("import: missing shapes collection")
	}
	if document.Connectors == nil {
		return errors.New("import: missing connectors collection")
	}
	self.SetDocument(origin, document.Shapes, document.Connectors)
	return nil
}

func (self *DocumentStore) Export() *Document {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return &Document{
		Shapes:     copyShapes(self.shapes),
		Connectors: copyConnectors(self.connectors),
	}
}

func (self *DocumentStore) SetSelection(kind SelectionKind, ids []Id) {
	var selection Selection
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		if kind == SelectionKindConnector && 1 < len(ids) {
			// a connector selection is always singular
			ids = ids[0:1]
		}
		self.selection = Selection{
			Kind: kind,
			Ids:  slices.Clone(ids),
		}
		selection = self.selection.Copy()
	}()
	self.fireSelection(selection)
}

func (self *DocumentStore) ClearSelection() {
	self.SetSelection(SelectionKindNone, []Id{})
}

// GroupSelection assigns a shared group id across the selected shapes.
// No other structural effect.
func (self *DocumentStore) GroupSelection(origin MutationOrigin) *Id {
	var change *DocumentChange
	var groupId Id
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		if self.selection.Kind != SelectionKindShape || len(self.selection.Ids) < 2 {
			return
		}
		groupId = NewId()
		nextShapes := maps.Clone(self.shapes)
		for _, shapeId := range self.selection.Ids {
			if shape, ok := nextShapes[shapeId]; ok {
				nextShape := shape.Copy()
				shapeGroupId := groupId
				nextShape.GroupId = &shapeGroupId
				nextShapes[shapeId] = nextShape
			}
		}
		self.shapes = nextShapes
		change = self.changeLocked(origin)
	}()
	if change == nil {
		return nil
	}
	self.fireChange(change)
	return &groupId
}

func (self *DocumentStore) UngroupSelection(origin MutationOrigin) bool {
	var change *DocumentChange
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		if self.selection.Kind != SelectionKindShape {
			return
		}
		grouped := false
		nextShapes := maps.Clone(self.shapes)
		for _, shapeId := range self.selection.Ids {
			if shape, ok := nextShapes[shapeId]; ok && shape.GroupId != nil {
				nextShape := shape.Copy()
				nextShape.GroupId = nil
				nextShapes[shapeId] = nextShape
				grouped = true
			}
		}
		if !grouped {
			return
		}
		self.shapes = nextShapes
		change = self.changeLocked(origin)
	}()
	if change == nil {
		return false
	}
	self.fireChange(change)
	return true
}

// must be called with `stateLock`
func (self *DocumentStore) changeLocked(origin MutationOrigin) *DocumentChange {
	return &DocumentChange{
		Origin:     origin,
		Shapes:     self.shapes,
		Connectors: self.connectors,
	}
}

func (self *DocumentStore) fireChange(change *DocumentChange) {
	if change == nil {
		return
	}
	for _, changeCallback := range self.changeCallbacks.Get() {
		func() {
			defer recover()
			changeCallback(change)
		}()
	}
}

func (self *DocumentStore) fireSelection(selection Selection) {
	for _, selectionCallback := range self.selectionCallbacks.Get() {
		func() {
			defer recover()
			selectionCallback(selection)
		}()
	}
}
