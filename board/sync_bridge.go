package board

import (
	"sync"
	"time"

	"golang.org/x/exp/maps"
)

type SyncBridgeSettings struct {
	// batches rapid inbound bursts. batching optimization only,
	// never the correctness mechanism: loop prevention is the
	// mutation origin tag.
	InboundDebounce time.Duration
}

func DefaultSyncBridgeSettings() *SyncBridgeSettings {
	return &SyncBridgeSettings{
		InboundDebounce: 0,
	}
}

// SyncBridge connects the document store and the replica in both
// directions. There is a single outbound path (store change -> diff ->
// replica write) and a single inbound path (replica merge -> per-record
// store apply with a RemoteApply origin). A store event with a
// RemoteApply origin is never re-diffed, so a bridge can never feed its
// own inbound apply back out.
type SyncBridge struct {
	store   *DocumentStore
	replica *Replica

	settings *SyncBridgeSettings

	// serializes outbound diff passes and inbound applies. a diff pass
	// reads the store's current state under this lock, so it can never
	// observe a document mid-application from an inbound merge, and an
	// inbound apply can never land between a diff pass and its snapshot
	// advance.
	diffLock       sync.Mutex
	prevShapes     map[Id]*Shape
	prevConnectors map[Id]*Connector

	debounceLock   sync.Mutex
	pendingUpdates []*RecordUpdate
	applyPending   bool

	storeUnsub   func()
	replicaUnsub func()

	log LogFunction
}

func NewSyncBridgeWithDefaults(store *DocumentStore, replica *Replica) *SyncBridge {
	return NewSyncBridge(store, replica, DefaultSyncBridgeSettings())
}

func NewSyncBridge(store *DocumentStore, replica *Replica, settings *SyncBridgeSettings) *SyncBridge {
	return &SyncBridge{
		store:          store,
		replica:        replica,
		settings:       settings,
		prevShapes:     map[Id]*Shape{},
		prevConnectors: map[Id]*Connector{},
		log:            LogFn(LogLevelDebug, "bridge"),
	}
}

// Start applies the initial-join policy and subscribes both directions.
// If the replica already holds data (pre-existing room), the remote
// state is authoritative and replaces any local pre-join shapes.
// Otherwise the local initial document is pushed to the replica.
func (self *SyncBridge) Start() {
	if self.replica.HasData() {
		self.pull()
	} else {
		self.diff()
	}

	self.storeUnsub = self.store.AddChangeCallback(self.handleStoreChange)
	self.replicaUnsub = self.replica.AddUpdateCallback(self.handleReplicaUpdate)
}

func (self *SyncBridge) Stop() {
	if self.storeUnsub != nil {
		self.storeUnsub()
		self.storeUnsub = nil
	}
	if self.replicaUnsub != nil {
		self.replicaUnsub()
		self.replicaUnsub = nil
	}
}

func (self *SyncBridge) handleStoreChange(change *DocumentChange) {
	if change.Origin == OriginRemoteApply {
		// inbound apply. structurally excluded from the outbound path.
		return
	}
	self.diff()
}

// diff computes the id-set difference between the store's current state
// and the previously-observed snapshot, writing whole records for new
// or deep-changed ids and deletes for ids no longer present. The store
// read and the snapshot advance happen under diffLock, so a pass for a
// stale change event re-reads the latest state and converges instead of
// deleting concurrently merged records.
func (self *SyncBridge) diff() {
	self.diffLock.Lock()
	defer self.diffLock.Unlock()

	shapes := self.store.Shapes()
	connectors := self.store.Connectors()

	writes := 0
	for shapeId, shape := range shapes {
		if prev, ok := self.prevShapes[shapeId]; !ok || !prev.Equals(shape) {
			self.replica.SetShape(shape)
			writes += 1
		}
	}
	for shapeId := range self.prevShapes {
		if _, ok := shapes[shapeId]; !ok {
			self.replica.RemoveShape(shapeId)
			writes += 1
		}
	}
	for connectorId, connector := range connectors {
		if prev, ok := self.prevConnectors[connectorId]; !ok || !prev.Equals(connector) {
			self.replica.SetConnector(connector)
			writes += 1
		}
	}
	for connectorId := range self.prevConnectors {
		if _, ok := connectors[connectorId]; !ok {
			self.replica.RemoveConnector(connectorId)
			writes += 1
		}
	}

	// the pass is complete. advance the observed snapshot.
	self.prevShapes = shapes
	self.prevConnectors = connectors
	if 0 < writes {
		self.log("outbound pass: %d writes", writes)
	}
}

func (self *SyncBridge) handleReplicaUpdate(origin UpdateOrigin, update *RecordUpdate) {
	if origin != UpdateOriginRemote {
		// the bridge's own outbound writes
		return
	}
	if self.settings.InboundDebounce <= 0 {
		self.apply(update)
		return
	}

	self.debounceLock.Lock()
	self.pendingUpdates = append(self.pendingUpdates, update)
	if self.applyPending {
		self.debounceLock.Unlock()
		return
	}
	self.applyPending = true
	self.debounceLock.Unlock()

	time.AfterFunc(self.settings.InboundDebounce, func() {
		self.debounceLock.Lock()
		pending := self.pendingUpdates
		self.pendingUpdates = nil
		self.applyPending = false
		self.debounceLock.Unlock()
		for _, update := range pending {
			self.apply(update)
		}
	})
}

// apply folds an inbound merge batch into the store as per-record
// deltas with a RemoteApply origin. Only the batch's ids are touched,
// so a local mutation racing the apply survives in the store and is
// picked up by its own diff pass.
func (self *SyncBridge) apply(update *RecordUpdate) {
	self.diffLock.Lock()
	defer self.diffLock.Unlock()

	prevShapes := maps.Clone(self.prevShapes)
	prevConnectors := maps.Clone(self.prevConnectors)
	for shapeId, record := range update.Shapes {
		self.store.UpdateShape(OriginRemoteApply, record.Shape)
		prevShapes[shapeId] = record.Shape.Copy()
	}
	for connectorId, record := range update.Connectors {
		self.store.UpdateConnector(OriginRemoteApply, record.Connector)
		prevConnectors[connectorId] = record.Connector.Copy()
	}
	for _, shapeId := range update.RemovedShapeIds {
		self.store.RemoveShape(OriginRemoteApply, shapeId)
		delete(prevShapes, shapeId)
	}
	for _, connectorId := range update.RemovedConnectorIds {
		self.store.RemoveConnector(OriginRemoteApply, connectorId)
		delete(prevConnectors, connectorId)
	}
	self.prevShapes = prevShapes
	self.prevConnectors = prevConnectors
}

// pull materializes the replica's full contents into the store with a
// RemoteApply origin. Join-time only: at Start there are no
// subscriptions yet, so the wholesale replace cannot race a local
// mutation.
func (self *SyncBridge) pull() {
	shapes := self.replica.Shapes()
	connectors := self.replica.Connectors()
	self.store.SetDocument(OriginRemoteApply, shapes, connectors)

	self.diffLock.Lock()
	self.prevShapes = self.store.Shapes()
	self.prevConnectors = self.store.Connectors()
	self.diffLock.Unlock()
}
