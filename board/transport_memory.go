package board

import (
	"sync"

	"golang.org/x/exp/slices"
)

// MemoryBus is an in-process frame bus keyed by room id, with the same
// frame semantics as the relay: frames are delivered synchronously to
// the other peers in the room, update frames are folded into retained
// room state and replayed to late joiners.
// Used by tests and offline demos.
type MemoryBus struct {
	stateLock sync.Mutex

	rooms map[string]*memoryRoom
}

type memoryRoom struct {
	transports []*MemoryTransport
	retained   *RecordUpdate
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		rooms: map[string]*memoryRoom{},
	}
}

func (self *MemoryBus) Connect(roomId string, peerId Id) *MemoryTransport {
	transport := &MemoryTransport{
		bus:              self,
		roomId:           roomId,
		peerId:           peerId,
		status:           ConnectionStatusConnected,
		receiveCallbacks: NewCallbackList[TransportReceiveFunction](),
		statusCallbacks:  NewCallbackList[StatusFunction](),
	}

	var retained *RecordUpdate
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		room, ok := self.rooms[roomId]
		if !ok {
			room = &memoryRoom{
				retained: &RecordUpdate{},
			}
			self.rooms[roomId] = room
		}
		room.transports = append(room.transports, transport)
		if !room.retained.IsEmpty() {
			retained = room.retained
		}
	}()

	if retained != nil {
		// replay retained room state to the late joiner
		transport.deliver(&Frame{
			Type:   FrameTypeUpdate,
			Update: retained,
		})
	}
	return transport
}

func (self *MemoryBus) send(from *MemoryTransport, frame *Frame) {
	var targets []*MemoryTransport
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		room, ok := self.rooms[from.roomId]
		if !ok {
			return
		}
		if frame.Type == FrameTypeUpdate && frame.Update != nil {
			mergeRecordUpdate(room.retained, frame.Update)
		}
		for _, transport := range room.transports {
			if transport != from {
				targets = append(targets, transport)
			}
		}
	}()

	for _, transport := range targets {
		transport.deliver(frame)
	}
}

func (self *MemoryBus) disconnect(transport *MemoryTransport) {
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		room, ok := self.rooms[transport.roomId]
		if !ok {
			return
		}
		i := slices.Index(room.transports, transport)
		if 0 <= i {
			room.transports = slices.Delete(slices.Clone(room.transports), i, i+1)
		}
	}()
	self.send(transport, &Frame{
		Type:   FrameTypeLeave,
		PeerId: transport.peerId,
	})
}

type MemoryTransport struct {
	bus    *MemoryBus
	roomId string
	peerId Id

	stateLock sync.Mutex
	status    ConnectionStatus
	// frames received before the first receive callback is attached
	pending []*Frame

	receiveCallbacks *CallbackList[TransportReceiveFunction]
	statusCallbacks  *CallbackList[StatusFunction]
}

func (self *MemoryTransport) Send(frame *Frame) bool {
	self.stateLock.Lock()
	closed := self.status == ConnectionStatusDisconnected
	self.stateLock.Unlock()
	if closed {
		return false
	}
	frame.PeerId = self.peerId
	self.bus.send(self, frame)
	return true
}

func (self *MemoryTransport) deliver(frame *Frame) {
	receiveCallbacks := self.receiveCallbacks.Get()
	if len(receiveCallbacks) == 0 {
		self.stateLock.Lock()
		self.pending = append(self.pending, frame)
		self.stateLock.Unlock()
		return
	}
	for _, receiveCallback := range receiveCallbacks {
		func() {
			defer recover()
			receiveCallback(frame)
		}()
	}
}

func (self *MemoryTransport) AddReceiveCallback(receiveCallback TransportReceiveFunction) func() {
	callbackId := self.receiveCallbacks.Add(receiveCallback)

	// flush frames buffered before any observer existed
	var pending []*Frame
	self.stateLock.Lock()
	pending = self.pending
	self.pending = nil
	self.stateLock.Unlock()
	for _, frame := range pending {
		func() {
			defer recover()
			receiveCallback(frame)
		}()
	}

	return func() {
		self.receiveCallbacks.Remove(callbackId)
	}
}

func (self *MemoryTransport) AddStatusCallback(statusCallback StatusFunction) func() {
	callbackId := self.statusCallbacks.Add(statusCallback)
	return func() {
		self.statusCallbacks.Remove(callbackId)
	}
}

func (self *MemoryTransport) Status() ConnectionStatus {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.status
}

func (self *MemoryTransport) Close() {
	self.stateLock.Lock()
	if self.status == ConnectionStatusDisconnected {
		self.stateLock.Unlock()
		return
	}
	self.status = ConnectionStatusDisconnected
	self.stateLock.Unlock()

	self.bus.disconnect(self)
	for _, statusCallback := range self.statusCallbacks.Get() {
		func() {
			defer recover()
			statusCallback(ConnectionStatusDisconnected)
		}()
	}
}
