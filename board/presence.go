package board

import (
	"sync"
	"time"

	"golang.org/x/exp/slices"
)

type PresenceChannelSettings struct {
	// cursor publishes are rate-limited; intermediate updates are
	// dropped, never queued
	CursorMinPublishInterval time.Duration
}

func DefaultPresenceChannelSettings() *PresenceChannelSettings {
	return &PresenceChannelSettings{
		// ~30 updates/second
		CursorMinPublishInterval: 33 * time.Millisecond,
	}
}

type PresenceUpdateFunction = func(peers map[Id]*PresenceRecord)

// PresenceChannel holds one local presence record and a keyed map of
// remote records, one per connected peer. Remote records are replaced
// wholesale per update. Nothing here is persisted.
type PresenceChannel struct {
	settings *PresenceChannelSettings

	stateLock sync.Mutex

	local *PresenceRecord
	peers map[Id]*PresenceRecord

	lastCursorPublishTime time.Time

	transport      RoomTransport
	transportUnsub func()

	updateCallbacks *CallbackList[PresenceUpdateFunction]
}

func NewPresenceChannelWithDefaults(peerId Id, name string, color string) *PresenceChannel {
	return NewPresenceChannel(peerId, name, color, DefaultPresenceChannelSettings())
}

func NewPresenceChannel(peerId Id, name string, color string, settings *PresenceChannelSettings) *PresenceChannel {
	return &PresenceChannel{
		settings: settings,
		local: &PresenceRecord{
			PeerId:   peerId,
			Name:     name,
			Color:    color,
			Viewport: Viewport{Scale: 1},
		},
		peers:           map[Id]*PresenceRecord{},
		updateCallbacks: NewCallbackList[PresenceUpdateFunction](),
	}
}

func (self *PresenceChannel) AddUpdateCallback(updateCallback PresenceUpdateFunction) func() {
	callbackId := self.updateCallbacks.Add(updateCallback)
	return func() {
		self.updateCallbacks.Remove(callbackId)
	}
}

func (self *PresenceChannel) Local() *PresenceRecord {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.local.Copy()
}

func (self *PresenceChannel) PeerId() Id {
	return self.local.PeerId
}

// Peers returns the derived list of remote records.
func (self *PresenceChannel) Peers() []*PresenceRecord {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	peers := make([]*PresenceRecord, 0, len(self.peers))
	for _, record := range self.peers {
		peers = append(peers, record.Copy())
	}
	return peers
}

func (self *PresenceChannel) PeersById() map[Id]*PresenceRecord {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	peers := make(map[Id]*PresenceRecord, len(self.peers))
	for peerId, record := range self.peers {
		peers[peerId] = record.Copy()
	}
	return peers
}

// SetCursor publishes the cursor point. Updates arriving faster than
// the configured rate are dropped. Returns whether the update
// published.
func (self *PresenceChannel) SetCursor(cursor Point) bool {
	var record *PresenceRecord
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		now := time.Now()
		if now.Sub(self.lastCursorPublishTime) < self.settings.CursorMinPublishInterval {
			// drop, never queue
			return
		}
		self.lastCursorPublishTime = now
		self.local.Cursor = &cursor
		record = self.local.Copy()
	}()
	if record == nil {
		return false
	}
	self.publish(record)
	return true
}

func (self *PresenceChannel) SetSelection(selectionIds []Id) {
	var record *PresenceRecord
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		self.local.SelectionIds = slices.Clone(selectionIds)
		record = self.local.Copy()
	}()
	self.publish(record)
}

func (self *PresenceChannel) SetViewport(viewport Viewport) {
	var record *PresenceRecord
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		self.local.Viewport = viewport
		record = self.local.Copy()
	}()
	self.publish(record)
}

func (self *PresenceChannel) SetPresenting(presenting bool) {
	var record *PresenceRecord
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		self.local.Presenting = presenting
		record = self.local.Copy()
	}()
	self.publish(record)
}

func (self *PresenceChannel) publish(record *PresenceRecord) {
	var transport RoomTransport
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		transport = self.transport
	}()
	if transport != nil {
		transport.Send(&Frame{
			Type:     FrameTypePresence,
			Presence: record,
		})
	}
}

// applyRemote replaces the peer's record wholesale.
// no merge is needed: the last received value for a peer key wins.
func (self *PresenceChannel) applyRemote(record *PresenceRecord) {
	var peers map[Id]*PresenceRecord
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		if record.PeerId == self.local.PeerId {
			return
		}
		self.peers[record.PeerId] = record.Copy()
		peers = self.peersLocked()
	}()
	if peers != nil {
		self.fireUpdate(peers)
	}
}

// removePeer drops a departed peer's record.
// a message for an already-departed peer is dropped idempotently.
func (self *PresenceChannel) removePeer(peerId Id) {
	var peers map[Id]*PresenceRecord
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		if _, ok := self.peers[peerId]; !ok {
			return
		}
		delete(self.peers, peerId)
		peers = self.peersLocked()
	}()
	if peers != nil {
		self.fireUpdate(peers)
	}
}

// must be called with `stateLock`
func (self *PresenceChannel) peersLocked() map[Id]*PresenceRecord {
	peers := make(map[Id]*PresenceRecord, len(self.peers))
	for peerId, record := range self.peers {
		peers[peerId] = record.Copy()
	}
	return peers
}

func (self *PresenceChannel) fireUpdate(peers map[Id]*PresenceRecord) {
	for _, updateCallback := range self.updateCallbacks.Get() {
		func() {
			defer recover()
			updateCallback(peers)
		}()
	}
}

// AttachTransport subscribes to presence and leave frames and
// announces the local record.
func (self *PresenceChannel) AttachTransport(transport RoomTransport) {
	transportUnsub := transport.AddReceiveCallback(func(frame *Frame) {
		switch frame.Type {
		case FrameTypePresence:
			if frame.Presence != nil {
				self.applyRemote(frame.Presence)
			}
		case FrameTypeLeave:
			self.removePeer(frame.PeerId)
		case FrameTypeHello:
			// a peer joined. announce the local record so it sees us.
			self.publish(self.Local())
		}
	})

	var record *PresenceRecord
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		self.transport = transport
		self.transportUnsub = transportUnsub
		record = self.local.Copy()
	}()
	self.publish(record)
}

// Reset detaches the transport and clears all presence state.
// Called on room teardown.
func (self *PresenceChannel) Reset() {
	var transportUnsub func()
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		transportUnsub = self.transportUnsub
		self.transport = nil
		self.transportUnsub = nil
		self.peers = map[Id]*PresenceRecord{}
		self.local.Cursor = nil
		self.local.SelectionIds = nil
		self.local.Presenting = false
	}()
	if transportUnsub != nil {
		transportUnsub()
	}
}
