package board

import (
	"reflect"
	"time"

	"golang.org/x/exp/slices"
)

type ShapeType string

const (
	ShapeTypeRect    ShapeType = "rect"
	ShapeTypeEllipse ShapeType = "ellipse"
	ShapeTypeDiamond ShapeType = "diamond"
	ShapeTypeText    ShapeType = "text"
	ShapeTypeDraw    ShapeType = "draw"
	ShapeTypeTable   ShapeType = "table"
	ShapeTypeMindMap ShapeType = "mindmap"
	ShapeTypeEmbed   ShapeType = "embed"
)

type ShapeStyle struct {
	Fill        string  `json:"fill,omitempty"`
	Stroke      string  `json:"stroke,omitempty"`
	StrokeWidth float64 `json:"strokeWidth,omitempty"`
	Opacity     float64 `json:"opacity,omitempty"`
	FontSize    float64 `json:"fontSize,omitempty"`
	Dashed      bool    `json:"dashed,omitempty"`
}

// row-major cell text, len(Cells) == Rows*Cols
type TableGrid struct {
	Rows  int      `json:"rows"`
	Cols  int      `json:"cols"`
	Cells []string `json:"cells"`
}

func (self *TableGrid) Copy() *TableGrid {
	if self == nil {
		return nil
	}
	return &TableGrid{
		Rows:  self.Rows,
		Cols:  self.Cols,
		Cells: slices.Clone(self.Cells),
	}
}

type MindMapNode struct {
	Text     string         `json:"text"`
	Children []*MindMapNode `json:"children,omitempty"`
}

func (self *MindMapNode) Copy() *MindMapNode {
	if self == nil {
		return nil
	}
	node := &MindMapNode{
		Text: self.Text,
	}
	for _, child := range self.Children {
		node.Children = append(node.Children, child.Copy())
	}
	return node
}

type EmbedMeta struct {
	Url   string `json:"url"`
	Title string `json:"title,omitempty"`
}

type Shape struct {
	ShapeId  Id        `json:"shapeId"`
	Type     ShapeType `json:"type"`
	X        float64   `json:"x"`
	Y        float64   `json:"y"`
	Width    float64   `json:"width"`
	Height   float64   `json:"height"`
	Rotation float64   `json:"rotation,omitempty"`

	Style ShapeStyle `json:"style"`

	// type-specific payloads
	Text    string       `json:"text,omitempty"`
	Points  []Point      `json:"points,omitempty"`
	Table   *TableGrid   `json:"table,omitempty"`
	MindMap *MindMapNode `json:"mindMap,omitempty"`
	Embed   *EmbedMeta   `json:"embed,omitempty"`

	GroupId *Id  `json:"groupId,omitempty"`
	Locked  bool `json:"locked,omitempty"`
	Hidden  bool `json:"hidden,omitempty"`
}

func (self *Shape) Copy() *Shape {
	if self == nil {
		return nil
	}
	shape := *self
	shape.Points = slices.Clone(self.Points)
	shape.Table = self.Table.Copy()
	shape.MindMap = self.MindMap.Copy()
	if self.Embed != nil {
		embed := *self.Embed
		shape.Embed = &embed
	}
	if self.GroupId != nil {
		groupId := *self.GroupId
		shape.GroupId = &groupId
	}
	return &shape
}

func (self *Shape) Equals(other *Shape) bool {
	return reflect.DeepEqual(self, other)
}

type AnchorName string

const (
	AnchorAuto   AnchorName = "auto"
	AnchorTop    AnchorName = "top"
	AnchorBottom AnchorName = "bottom"
	AnchorLeft   AnchorName = "left"
	AnchorRight  AnchorName = "right"
)

type ArrowHead string

const (
	ArrowHeadNone     ArrowHead = "none"
	ArrowHeadArrow    ArrowHead = "arrow"
	ArrowHeadTriangle ArrowHead = "triangle"
	ArrowHeadDot      ArrowHead = "dot"
)

type RoutingMode string

const (
	RoutingStraight   RoutingMode = "straight"
	RoutingOrthogonal RoutingMode = "orthogonal"
)

// either a shape id plus anchor, or a free-floating point
type ConnectorEndpoint struct {
	ShapeId *Id        `json:"shapeId,omitempty"`
	Anchor  AnchorName `json:"anchor,omitempty"`
	Point   *Point     `json:"point,omitempty"`
}

func (self ConnectorEndpoint) Copy() ConnectorEndpoint {
	endpoint := self
	if self.ShapeId != nil {
		shapeId := *self.ShapeId
		endpoint.ShapeId = &shapeId
	}
	if self.Point != nil {
		point := *self.Point
		endpoint.Point = &point
	}
	return endpoint
}

type Connector struct {
	ConnectorId Id                `json:"connectorId"`
	From        ConnectorEndpoint `json:"from"`
	To          ConnectorEndpoint `json:"to"`
	Style       ShapeStyle        `json:"style"`
	StartArrow  ArrowHead         `json:"startArrow,omitempty"`
	EndArrow    ArrowHead         `json:"endArrow,omitempty"`
	Routing     RoutingMode       `json:"routing,omitempty"`
}

func (self *Connector) Copy() *Connector {
	if self == nil {
		return nil
	}
	connector := *self
	connector.From = self.From.Copy()
	connector.To = self.To.Copy()
	return &connector
}

func (self *Connector) Equals(other *Connector) bool {
	return reflect.DeepEqual(self, other)
}

// References returns whether either endpoint references the shape id.
func (self *Connector) References(shapeId Id) bool {
	if self.From.ShapeId != nil && *self.From.ShapeId == shapeId {
		return true
	}
	if self.To.ShapeId != nil && *self.To.ShapeId == shapeId {
		return true
	}
	return false
}

// a document is a pair of id-keyed collections.
// map order carries no semantic meaning.
type Document struct {
	Shapes     map[Id]*Shape     `json:"shapes"`
	Connectors map[Id]*Connector `json:"connectors"`
}

func NewDocument() *Document {
	return &Document{
		Shapes:     map[Id]*Shape{},
		Connectors: map[Id]*Connector{},
	}
}

func (self *Document) Copy() *Document {
	return &Document{
		Shapes:     copyShapes(self.Shapes),
		Connectors: copyConnectors(self.Connectors),
	}
}

func copyShapes(shapes map[Id]*Shape) map[Id]*Shape {
	next := make(map[Id]*Shape, len(shapes))
	for shapeId, shape := range shapes {
		next[shapeId] = shape.Copy()
	}
	return next
}

func copyConnectors(connectors map[Id]*Connector) map[Id]*Connector {
	next := make(map[Id]*Connector, len(connectors))
	for connectorId, connector := range connectors {
		next[connectorId] = connector.Copy()
	}
	return next
}

type SelectionKind string

const (
	SelectionKindNone      SelectionKind = "none"
	SelectionKindShape     SelectionKind = "shape"
	SelectionKindConnector SelectionKind = "connector"
)

// a connector selection is always singular
type Selection struct {
	Kind SelectionKind `json:"kind"`
	Ids  []Id          `json:"ids"`
}

func (self Selection) Copy() Selection {
	return Selection{
		Kind: self.Kind,
		Ids:  slices.Clone(self.Ids),
	}
}

// immutable deep snapshot of the document collections
type HistoryEntry struct {
	Shapes     map[Id]*Shape
	Connectors map[Id]*Connector
	EventTime  time.Time
}

func (self *HistoryEntry) Copy() *HistoryEntry {
	return &HistoryEntry{
		Shapes:     copyShapes(self.Shapes),
		Connectors: copyConnectors(self.Connectors),
		EventTime:  self.EventTime,
	}
}

// ephemeral per-peer broadcast state. never persisted.
type PresenceRecord struct {
	PeerId       Id       `json:"peerId"`
	Name         string   `json:"name"`
	Color        string   `json:"color"`
	Cursor       *Point   `json:"cursor,omitempty"`
	SelectionIds []Id     `json:"selectionIds,omitempty"`
	Viewport     Viewport `json:"viewport"`
	Presenting   bool     `json:"presenting,omitempty"`
}

func (self *PresenceRecord) Copy() *PresenceRecord {
	if self == nil {
		return nil
	}
	record := *self
	if self.Cursor != nil {
		cursor := *self.Cursor
		record.Cursor = &cursor
	}
	record.SelectionIds = slices.Clone(self.SelectionIds)
	return &record
}
