package board

import (
	"sync"
	"time"

	"golang.org/x/exp/maps"
)

// whole-record, per-id, last-write-wins. concurrent edits to different
// fields of the same record do not merge field-by-field: the later
// write fully replaces the record.

type ShapeRecord struct {
	Shape   *Shape  `json:"shape"`
	Version Version `json:"version"`
}

func (self *ShapeRecord) Copy() *ShapeRecord {
	return &ShapeRecord{
		Shape:   self.Shape.Copy(),
		Version: self.Version,
	}
}

type ConnectorRecord struct {
	Connector *Connector `json:"connector"`
	Version   Version    `json:"version"`
}

func (self *ConnectorRecord) Copy() *ConnectorRecord {
	return &ConnectorRecord{
		Connector: self.Connector.Copy(),
		Version:   self.Version,
	}
}

// a batch of whole-record writes and deletes
type RecordUpdate struct {
	Shapes              map[Id]*ShapeRecord     `json:"shapes,omitempty"`
	Connectors          map[Id]*ConnectorRecord `json:"connectors,omitempty"`
	RemovedShapeIds     []Id                    `json:"removedShapeIds,omitempty"`
	RemovedConnectorIds []Id                    `json:"removedConnectorIds,omitempty"`
}

func (self *RecordUpdate) IsEmpty() bool {
	return len(self.Shapes) == 0 &&
		len(self.Connectors) == 0 &&
		len(self.RemovedShapeIds) == 0 &&
		len(self.RemovedConnectorIds) == 0
}

// mergeRecordUpdate folds `src` into the accumulated `dst` by version.
// used by the relay and the memory bus to retain room state for late
// joiners without replaying the full frame history.
func mergeRecordUpdate(dst *RecordUpdate, src *RecordUpdate) {
	if dst.Shapes == nil {
		dst.Shapes = map[Id]*ShapeRecord{}
	}
	if dst.Connectors == nil {
		dst.Connectors = map[Id]*ConnectorRecord{}
	}
	for shapeId, record := range src.Shapes {
		if held, ok := dst.Shapes[shapeId]; !ok || record.Version.After(held.Version) {
			dst.Shapes[shapeId] = record
		}
	}
	for connectorId, record := range src.Connectors {
		if held, ok := dst.Connectors[connectorId]; !ok || record.Version.After(held.Version) {
			dst.Connectors[connectorId] = record
		}
	}
	for _, shapeId := range src.RemovedShapeIds {
		delete(dst.Shapes, shapeId)
	}
	for _, connectorId := range src.RemovedConnectorIds {
		delete(dst.Connectors, connectorId)
	}
}

type UpdateOrigin string

const (
	UpdateOriginLocal  UpdateOrigin = "local"
	UpdateOriginRemote UpdateOrigin = "remote"
)

type ReplicaUpdateFunction = func(origin UpdateOrigin, update *RecordUpdate)

// Replica is the replicated id->record map for shapes and connectors,
// merged without coordination. It is mutated only through the sync
// bridge (local path) and the transport/cache merge (remote path).
type Replica struct {
	roomId string
	peerId Id

	stateLock sync.Mutex

	shapes     map[Id]*ShapeRecord
	connectors map[Id]*ConnectorRecord

	lastVersionWall int64

	transport      RoomTransport
	transportUnsub func()
	cache          *RoomCache

	destroyed bool

	updateCallbacks *CallbackList[ReplicaUpdateFunction]

	log LogFunction
}

func NewReplica(roomId string, peerId Id) *Replica {
	return &Replica{
		roomId:          roomId,
		peerId:          peerId,
		shapes:          map[Id]*ShapeRecord{},
		connectors:      map[Id]*ConnectorRecord{},
		updateCallbacks: NewCallbackList[ReplicaUpdateFunction](),
		log:             LogFn(LogLevelDebug, "replica"),
	}
}

func (self *Replica) RoomId() string {
	return self.roomId
}

func (self *Replica) AddUpdateCallback(updateCallback ReplicaUpdateFunction) func() {
	callbackId := self.updateCallbacks.Add(updateCallback)
	return func() {
		self.updateCallbacks.Remove(callbackId)
	}
}

func (self *Replica) HasData() bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return 0 < len(self.shapes) || 0 < len(self.connectors)
}

// Shapes materializes the current shape values as deep copies.
func (self *Replica) Shapes() map[Id]*Shape {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	shapes := make(map[Id]*Shape, len(self.shapes))
	for shapeId, record := range self.shapes {
		shapes[shapeId] = record.Shape.Copy()
	}
	return shapes
}

func (self *Replica) Connectors() map[Id]*Connector {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	connectors := make(map[Id]*Connector, len(self.connectors))
	for connectorId, record := range self.connectors {
		connectors[connectorId] = record.Connector.Copy()
	}
	return connectors
}

// State snapshots all held records.
func (self *Replica) State() *RecordUpdate {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	state := &RecordUpdate{
		Shapes:     make(map[Id]*ShapeRecord, len(self.shapes)),
		Connectors: make(map[Id]*ConnectorRecord, len(self.connectors)),
	}
	for shapeId, record := range self.shapes {
		state.Shapes[shapeId] = record.Copy()
	}
	for connectorId, record := range self.connectors {
		state.Connectors[connectorId] = record.Copy()
	}
	return state
}

// must be called with `stateLock`.
// monotonic per peer: two writes within one clock tick still order,
// so remote replicas never drop the later one as a stale version.
func (self *Replica) nextVersion() Version {
	wall := time.Now().UnixNano()
	if wall <= self.lastVersionWall {
		wall = self.lastVersionWall + 1
	}
	self.lastVersionWall = wall
	return Version{
		Wall: wall,
		Peer: self.peerId,
	}
}

// SetShape writes the full record under the shape id.
// Writing a deep-equal value is a no-op: no version bump, no event,
// no outbound publish. This upholds "at most one outbound write per
// actual change" when an inbound merge echoes unchanged content.
func (self *Replica) SetShape(shape *Shape) {
	update := &RecordUpdate{}
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		if self.destroyed {
			return
		}
		if held, ok := self.shapes[shape.ShapeId]; ok && held.Shape.Equals(shape) {
			return
		}
		record := &ShapeRecord{
			Shape:   shape.Copy(),
			Version: self.nextVersion(),
		}
		self.shapes[shape.ShapeId] = record
		update.Shapes = map[Id]*ShapeRecord{
			shape.ShapeId: record.Copy(),
		}
	}()
	self.publishLocal(update)
}

func (self *Replica) RemoveShape(shapeId Id) {
	update := &RecordUpdate{}
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		if self.destroyed {
			return
		}
		if _, ok := self.shapes[shapeId]; !ok {
			return
		}
		delete(self.shapes, shapeId)
		update.RemovedShapeIds = []Id{shapeId}
	}()
	self.publishLocal(update)
}

func (self *Replica) SetConnector(connector *Connector) {
	update := &RecordUpdate{}
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		if self.destroyed {
			return
		}
		if held, ok := self.connectors[connector.ConnectorId]; ok && held.Connector.Equals(connector) {
			return
		}
		record := &ConnectorRecord{
			Connector: connector.Copy(),
			Version:   self.nextVersion(),
		}
		self.connectors[connector.ConnectorId] = record
		update.Connectors = map[Id]*ConnectorRecord{
			connector.ConnectorId: record.Copy(),
		}
	}()
	self.publishLocal(update)
}

func (self *Replica) RemoveConnector(connectorId Id) {
	update := &RecordUpdate{}
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		if self.destroyed {
			return
		}
		if _, ok := self.connectors[connectorId]; !ok {
			return
		}
		delete(self.connectors, connectorId)
		update.RemovedConnectorIds = []Id{connectorId}
	}()
	self.publishLocal(update)
}

func (self *Replica) publishLocal(update *RecordUpdate) {
	if update.IsEmpty() {
		return
	}

	var transport RoomTransport
	var cache *RoomCache
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		transport = self.transport
		cache = self.cache
	}()

	if transport != nil {
		transport.Send(&Frame{
			Type:   FrameTypeUpdate,
			Update: update,
		})
	}
	if cache != nil {
		if err := cache.WriteUpdate(update); err != nil {
			self.log("cache write error = %s", err)
		}
	}
	self.fireUpdate(UpdateOriginLocal, update)
}

// Merge applies a remote record batch: a record is applied iff its
// version is newer than the held version (whole-record replace).
// Returns the applied subset.
func (self *Replica) Merge(update *RecordUpdate) *RecordUpdate {
	applied := &RecordUpdate{}
	var cache *RoomCache
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		if self.destroyed {
			return
		}
		for shapeId, record := range update.Shapes {
			if held, ok := self.shapes[shapeId]; ok && !record.Version.After(held.Version) {
				continue
			}
			self.shapes[shapeId] = record.Copy()
			if applied.Shapes == nil {
				applied.Shapes = map[Id]*ShapeRecord{}
			}
			applied.Shapes[shapeId] = record.Copy()
		}
		for connectorId, record := range update.Connectors {
			if held, ok := self.connectors[connectorId]; ok && !record.Version.After(held.Version) {
				continue
			}
			self.connectors[connectorId] = record.Copy()
			if applied.Connectors == nil {
				applied.Connectors = map[Id]*ConnectorRecord{}
			}
			applied.Connectors[connectorId] = record.Copy()
		}
		for _, shapeId := range update.RemovedShapeIds {
			if _, ok := self.shapes[shapeId]; ok {
				delete(self.shapes, shapeId)
				applied.RemovedShapeIds = append(applied.RemovedShapeIds, shapeId)
			}
		}
		for _, connectorId := range update.RemovedConnectorIds {
			if _, ok := self.connectors[connectorId]; ok {
				delete(self.connectors, connectorId)
				applied.RemovedConnectorIds = append(applied.RemovedConnectorIds, connectorId)
			}
		}
		cache = self.cache
	}()

	if applied.IsEmpty() {
		return applied
	}
	if cache != nil {
		if err := cache.WriteUpdate(applied); err != nil {
			self.log("cache write error = %s", err)
		}
	}
	self.fireUpdate(UpdateOriginRemote, applied)
	return applied
}

func (self *Replica) fireUpdate(origin UpdateOrigin, update *RecordUpdate) {
	for _, updateCallback := range self.updateCallbacks.Get() {
		func() {
			defer recover()
			updateCallback(origin, update)
		}()
	}
}

// AttachTransport subscribes the replica to inbound update frames and
// publishes local writes through the transport.
func (self *Replica) AttachTransport(transport RoomTransport) {
	transportUnsub := transport.AddReceiveCallback(func(frame *Frame) {
		if frame.Type != FrameTypeUpdate || frame.Update == nil {
			return
		}
		self.Merge(frame.Update)
	})

	self.stateLock.Lock()
	self.transport = transport
	self.transportUnsub = transportUnsub
	self.stateLock.Unlock()

	// announce the local state so peers that joined earlier converge
	if state := self.State(); !state.IsEmpty() {
		transport.Send(&Frame{
			Type:   FrameTypeUpdate,
			Update: state,
		})
	}
}

// AttachCache hydrates the replica from the durable cache with a
// last-write-wins merge and write-throughs subsequent updates.
func (self *Replica) AttachCache(cache *RoomCache) error {
	cached, err := cache.Load()
	if err != nil {
		return err
	}

	self.stateLock.Lock()
	self.cache = cache
	self.stateLock.Unlock()

	if !cached.IsEmpty() {
		self.Merge(cached)
	}
	return nil
}

// Destroy detaches every observer first, then drops the record state.
// The replica must not be used after destroy.
func (self *Replica) Destroy() {
	self.updateCallbacks.Clear()

	var transportUnsub func()
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		self.destroyed = true
		transportUnsub = self.transportUnsub
		self.transport = nil
		self.transportUnsub = nil
		self.cache = nil
		maps.Clear(self.shapes)
		maps.Clear(self.connectors)
	}()
	if transportUnsub != nil {
		transportUnsub()
	}
}
