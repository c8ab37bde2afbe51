package board

import (
	"context"
	"errors"
	"sync"

	"github.com/golang/glog"
)

// dials a transport for a room. overridable for tests and in-process
// buses.
type TransportDialFunction = func(ctx context.Context, roomId string, peerId Id) (RoomTransport, error)

type ConnectionManagerSettings struct {
	// websocket relay endpoint. empty means offline-only mode, which
	// is first-class, not degraded.
	Endpoint string
	// room auth token for the endpoint
	AuthToken string
	// bbolt file path for the durable room cache. empty disables the
	// cache.
	CachePath string

	TransportSettings *WebsocketTransportSettings

	// overrides Endpoint dialing when set
	TransportDial TransportDialFunction
}

func DefaultConnectionManagerSettings() *ConnectionManagerSettings {
	return &ConnectionManagerSettings{
		TransportSettings: DefaultWebsocketTransportSettings(),
	}
}

// ConnectionManager owns the room lifecycle. Join attaches the replica
// to the transport and the durable cache; Leave tears down in strict
// order: detach replica observers, destroy the replica, destroy the
// transport handle, destroy the cache handle. Teardown is synchronous,
// so a new join can never interleave with a previous teardown.
type ConnectionManager struct {
	ctx context.Context

	peerId   Id
	settings *ConnectionManagerSettings

	stateLock sync.Mutex

	status ConnectionStatus
	roomId string

	replica     *Replica
	transport   RoomTransport
	cache       *RoomCache
	statusUnsub func()

	statusCallbacks *CallbackList[StatusFunction]
}

func NewConnectionManager(ctx context.Context, peerId Id, settings *ConnectionManagerSettings) *ConnectionManager {
	return &ConnectionManager{
		ctx:             ctx,
		peerId:          peerId,
		settings:        settings,
		status:          ConnectionStatusUninitialized,
		statusCallbacks: NewCallbackList[StatusFunction](),
	}
}

func (self *ConnectionManager) AddStatusCallback(statusCallback StatusFunction) func() {
	callbackId := self.statusCallbacks.Add(statusCallback)
	return func() {
		self.statusCallbacks.Remove(callbackId)
	}
}

func (self *ConnectionManager) Status() ConnectionStatus {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.status
}

func (self *ConnectionManager) RoomId() string {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.roomId
}

func (self *ConnectionManager) Replica() *Replica {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.replica
}

func (self *ConnectionManager) Transport() RoomTransport {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.transport
}

func (self *ConnectionManager) setStatus(status ConnectionStatus) {
	changed := false
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		if self.status != status {
			self.status = status
			changed = true
		}
	}()
	if changed {
		for _, statusCallback := range self.statusCallbacks.Get() {
			func() {
				defer recover()
				statusCallback(status)
			}()
		}
	}
}

// Join creates the room replica and attaches it to the configured
// transport and durable cache. Joining while a room is live is an
// error: the caller must Leave first.
func (self *ConnectionManager) Join(roomId string) (*Replica, error) {
	self.stateLock.Lock()
	if self.replica != nil {
		self.stateLock.Unlock()
		return nil, errors.New("room already joined; leave first")
	}
	self.stateLock.Unlock()

	replica := NewReplica(roomId, self.peerId)

	var cache *RoomCache
	if self.settings.CachePath != "" {
		var err error
		cache, err = OpenRoomCache(self.settings.CachePath, roomId)
		if err != nil {
			return nil, err
		}
		if err := replica.AttachCache(cache); err != nil {
			cache.Close()
			return nil, err
		}
	}

	var transport RoomTransport
	var statusUnsub func()
	if self.settings.TransportDial != nil || self.settings.Endpoint != "" {
		self.setStatus(ConnectionStatusConnecting)

		var err error
		if self.settings.TransportDial != nil {
			transport, err = self.settings.TransportDial(self.ctx, roomId, self.peerId)
		} else {
			transport, err = NewWebsocketTransport(
				self.ctx,
				self.settings.Endpoint,
				&RoomAuth{
					Token:  self.settings.AuthToken,
					RoomId: roomId,
				},
				self.settings.TransportSettings,
			)
		}
		if err != nil {
			if cache != nil {
				cache.Close()
			}
			self.setStatus(ConnectionStatusDisconnected)
			return nil, err
		}
		statusUnsub = transport.AddStatusCallback(self.setStatus)
		replica.AttachTransport(transport)
		self.setStatus(transport.Status())
	} else {
		// offline-only mode
		self.setStatus(ConnectionStatusDisconnected)
	}

	// room state is installed only once every join step succeeded, so
	// a failed join leaves nothing behind
	self.stateLock.Lock()
	self.roomId = roomId
	self.replica = replica
	self.transport = transport
	self.cache = cache
	self.statusUnsub = statusUnsub
	self.stateLock.Unlock()

	glog.V(1).Infof("[c]joined room %s as %s\n", roomId, self.peerId)
	return replica, nil
}

// Leave tears the room down synchronously and in strict order.
func (self *ConnectionManager) Leave() {
	self.stateLock.Lock()
	replica := self.replica
	transport := self.transport
	cache := self.cache
	statusUnsub := self.statusUnsub
	roomId := self.roomId
	self.replica = nil
	self.transport = nil
	self.cache = nil
	self.statusUnsub = nil
	self.roomId = ""
	self.stateLock.Unlock()

	if replica != nil {
		// detaches every replica observer, then destroys the replica
		replica.Destroy()
	}
	if transport != nil {
		if statusUnsub != nil {
			statusUnsub()
		}
		transport.Close()
	}
	if cache != nil {
		if err := cache.Close(); err != nil {
			glog.Infof("[c]cache close error = %s\n", err)
		}
	}
	self.setStatus(ConnectionStatusUninitialized)
	if roomId != "" {
		glog.V(1).Infof("[c]left room %s\n", roomId)
	}
}
