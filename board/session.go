package board

import (
	"context"
	"errors"
	"sync"
)

type SessionSettings struct {
	PeerName  string
	PeerColor string

	Connection *ConnectionManagerSettings
	Presence   *PresenceChannelSettings
	Bridge     *SyncBridgeSettings
}

func DefaultSessionSettings() *SessionSettings {
	return &SessionSettings{
		PeerName:   "anonymous",
		PeerColor:  "#4f46e5",
		Connection: DefaultConnectionManagerSettings(),
		Presence:   DefaultPresenceChannelSettings(),
		Bridge:     DefaultSyncBridgeSettings(),
	}
}

// Session is the per-room service container: it constructs and owns
// the document store, history, replica, sync bridge, presence, and
// spotlight for one room. There are no shared globals, so multiple
// concurrent sessions never cross-contaminate.
type Session struct {
	ctx    context.Context
	cancel context.CancelFunc

	peerId   Id
	settings *SessionSettings

	store      *DocumentStore
	history    *HistoryManager
	presence   *PresenceChannel
	spotlight  *SpotlightController
	connection *ConnectionManager

	stateLock sync.Mutex

	bridge *SyncBridge
	joined bool

	viewport Viewport

	storeChangeUnsub    func()
	storeSelectionUnsub func()
}

func NewSessionWithDefaults(ctx context.Context) *Session {
	return NewSession(ctx, DefaultSessionSettings())
}

func NewSession(ctx context.Context, settings *SessionSettings) *Session {
	cancelCtx, cancel := context.WithCancel(ctx)

	peerId := NewId()
	if settings.Connection.AuthToken != "" {
		if claims, err := ParseRoomTokenUnverified(settings.Connection.AuthToken); err == nil {
			peerId = claims.PeerId
		}
	}

	session := &Session{
		ctx:      cancelCtx,
		cancel:   cancel,
		peerId:   peerId,
		settings: settings,
		store:    NewDocumentStore(),
		history:  NewHistoryManager(),
		viewport: Viewport{Scale: 1},
	}
	session.presence = NewPresenceChannel(peerId, settings.PeerName, settings.PeerColor, settings.Presence)
	session.spotlight = NewSpotlightController(session.presence, session.applyFollowViewport)
	session.connection = NewConnectionManager(cancelCtx, peerId, settings.Connection)

	// document mutations feed history. remote applies bypass it by
	// origin; undo/redo applications bypass it by consuming the
	// history manager's one-shot suppress flag.
	session.storeChangeUnsub = session.store.AddChangeCallback(func(change *DocumentChange) {
		if change.Origin != OriginRemoteApply {
			session.history.PushState(change.Shapes, change.Connectors)
		}
	})
	// selection changes are broadcast on presence, not synced
	session.storeSelectionUnsub = session.store.AddSelectionCallback(func(selection Selection) {
		session.presence.SetSelection(selection.Ids)
	})

	return session
}

func (self *Session) PeerId() Id {
	return self.peerId
}

func (self *Session) Store() *DocumentStore {
	return self.store
}

func (self *Session) History() *HistoryManager {
	return self.history
}

func (self *Session) Presence() *PresenceChannel {
	return self.presence
}

func (self *Session) Spotlight() *SpotlightController {
	return self.spotlight
}

func (self *Session) Connection() *ConnectionManager {
	return self.connection
}

// Join connects the session to a room: replica + transport + cache via
// the connection manager, then the sync bridge, presence, and
// spotlight. A session can be in one room at a time.
func (self *Session) Join(roomId string) error {
	self.stateLock.Lock()
	if self.joined {
		self.stateLock.Unlock()
		return errors.New("session already in a room; leave first")
	}
	self.joined = true
	self.stateLock.Unlock()

	replica, err := self.connection.Join(roomId)
	if err != nil {
		self.stateLock.Lock()
		self.joined = false
		self.stateLock.Unlock()
		return err
	}

	bridge := NewSyncBridge(self.store, replica, self.settings.Bridge)
	bridge.Start()
	self.stateLock.Lock()
	self.bridge = bridge
	self.stateLock.Unlock()

	if transport := self.connection.Transport(); transport != nil {
		self.presence.AttachTransport(transport)
	}
	self.spotlight.Start()

	// baseline snapshot so the first local mutation can be undone
	self.history.PushState(self.store.Shapes(), self.store.Connectors())
	return nil
}

// Leave tears the room down synchronously, in strict order:
// bridge observers, replica, transport, cache, presence, history,
// document. The document belongs to the room: the next join starts
// from an empty store, hydrated from the cache or the replica.
func (self *Session) Leave() {
	self.stateLock.Lock()
	bridge := self.bridge
	self.bridge = nil
	joined := self.joined
	self.joined = false
	self.stateLock.Unlock()

	if !joined {
		return
	}

	self.spotlight.Stop()
	if bridge != nil {
		bridge.Stop()
	}
	self.connection.Leave()
	self.presence.Reset()
	self.history.Reset()
	// a teardown clear, not a user edit: the RemoteApply origin keeps
	// it out of history
	self.store.SetDocument(OriginRemoteApply, map[Id]*Shape{}, map[Id]*Connector{})
	self.store.ClearSelection()
}

// Undo applies the previous history snapshot to the store with an
// UndoRedo origin and clears the selection. Silent no-op at the start.
func (self *Session) Undo() bool {
	entry := self.history.Undo()
	if entry == nil {
		return false
	}
	self.store.SetDocument(OriginUndoRedo, entry.Shapes, entry.Connectors)
	self.store.ClearSelection()
	return true
}

func (self *Session) Redo() bool {
	entry := self.history.Redo()
	if entry == nil {
		return false
	}
	self.store.SetDocument(OriginUndoRedo, entry.Shapes, entry.Connectors)
	self.store.ClearSelection()
	return true
}

// ImportDocument replaces the entire document in one bulk mutation.
// The import flows through the same outbound sync path as any other
// edit. A malformed payload is rejected before any mutation.
func (self *Session) ImportDocument(document *Document) error {
	return self.store.ReplaceDocument(OriginLocal, document)
}

// ExportDocument returns a full deep-copied document snapshot for
// serialization.
func (self *Session) ExportDocument() *Document {
	return self.store.Export()
}

func (self *Session) Viewport() Viewport {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.viewport
}

// SetViewport is the local user moving their own viewport.
// It is broadcast on presence.
func (self *Session) SetViewport(viewport Viewport) {
	self.stateLock.Lock()
	self.viewport = viewport
	self.stateLock.Unlock()
	self.presence.SetViewport(viewport)
}

// applyFollowViewport applies a presenter's viewport one-way while
// following. It does not publish presence: the follower's viewport is
// never re-broadcast as if presenting.
func (self *Session) applyFollowViewport(viewport Viewport) {
	self.stateLock.Lock()
	self.viewport = viewport
	self.stateLock.Unlock()
}

// Close leaves the room and releases the session.
func (self *Session) Close() {
	self.Leave()
	if self.storeChangeUnsub != nil {
		self.storeChangeUnsub()
		self.storeChangeUnsub = nil
	}
	if self.storeSelectionUnsub != nil {
		self.storeSelectionUnsub()
		self.storeSelectionUnsub = nil
	}
	self.cancel()
}
