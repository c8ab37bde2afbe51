package board

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

type RelaySettings struct {
	// hmac secret for room tokens. empty disables auth: the hello
	// frame's peer id is trusted as-is.
	TokenSecret []byte

	ReadBufferSize  int
	WriteBufferSize int
	SendBufferSize  int
	HelloTimeout    time.Duration
	WriteTimeout    time.Duration
}

func DefaultRelaySettings() *RelaySettings {
	return &RelaySettings{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBufferSize:  256,
		HelloTimeout:    5 * time.Second,
		WriteTimeout:    5 * time.Second,
	}
}

// Relay is the room relay server: one hub per room, broadcasting each
// peer's frames to the other peers. Update frames are folded into
// retained room state and replayed to late joiners, so a peer joining
// a pre-existing room converges without a full frame history.
type Relay struct {
	settings *RelaySettings

	stateLock sync.Mutex
	rooms     map[string]*relayRoom

	upgrader websocket.Upgrader
}

type relayRoom struct {
	roomId   string
	clients  map[*relayClient]bool
	retained *RecordUpdate
}

type relayClient struct {
	relay  *Relay
	room   *relayRoom
	peerId Id
	conn   *websocket.Conn
	send   chan []byte
}

func NewRelayWithDefaults() *Relay {
	return NewRelay(DefaultRelaySettings())
}

func NewRelay(settings *RelaySettings) *Relay {
	return &Relay{
		settings: settings,
		rooms:    map[string]*relayRoom{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  settings.ReadBufferSize,
			WriteBufferSize: settings.WriteBufferSize,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Router exposes the relay's http routes.
func (self *Relay) Router() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/rooms/{roomId}/ws", self.serveWs)
	return router
}

func (self *Relay) serveWs(w http.ResponseWriter, r *http.Request) {
	roomId := mux.Vars(r)["roomId"]

	conn, err := self.upgrader.Upgrade(w, r, nil)
	if err != nil {
		glog.Infof("[r]upgrade error = %s\n", err)
		return
	}

	// the first frame on the wire must be a hello
	conn.SetReadDeadline(time.Now().Add(self.settings.HelloTimeout))
	_, message, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return
	}
	hello := &Frame{}
	if err := json.Unmarshal(message, hello); err != nil || hello.Type != FrameTypeHello {
		glog.Infof("[r]bad hello from %s\n", r.RemoteAddr)
		conn.Close()
		return
	}
	peerId := hello.PeerId
	if 0 < len(self.settings.TokenSecret) {
		claims, err := VerifyRoomToken(self.settings.TokenSecret, hello.Token)
		if err != nil || claims.RoomId != roomId {
			glog.Infof("[r]auth rejected for room %s = %v\n", roomId, err)
			conn.Close()
			return
		}
		peerId = claims.PeerId
	}
	conn.SetReadDeadline(time.Time{})

	client := &relayClient{
		relay:  self,
		peerId: peerId,
		conn:   conn,
		send:   make(chan []byte, self.settings.SendBufferSize),
	}

	var retained *RecordUpdate
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		room, ok := self.rooms[roomId]
		if !ok {
			room = &relayRoom{
				roomId:   roomId,
				clients:  map[*relayClient]bool{},
				retained: &RecordUpdate{},
			}
			self.rooms[roomId] = room
		}
		room.clients[client] = true
		client.room = room
		if !room.retained.IsEmpty() {
			retained = room.retained
		}
	}()

	glog.V(1).Infof("[r]%s joined room %s\n", peerId, roomId)

	go client.writePump()

	// replay retained state to the late joiner
	if retained != nil {
		client.enqueue(&Frame{
			Type:   FrameTypeUpdate,
			Update: retained,
		})
	}
	// let the other peers re-announce presence
	self.broadcast(client, &Frame{
		Type:   FrameTypeHello,
		PeerId: peerId,
	})

	client.readPump()
}

func (self *Relay) broadcast(from *relayClient, frame *Frame) {
	message, err := json.Marshal(frame)
	if err != nil {
		return
	}
	// sends are serialized with unregister's channel close on
	// stateLock. the sends never block (select/default), so holding
	// the lock across them is safe.
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if frame.Type == FrameTypeUpdate && frame.Update != nil {
		mergeRecordUpdate(from.room.retained, frame.Update)
	}
	for client := range from.room.clients {
		if client == from {
			continue
		}
		select {
		case client.send <- message:
		default:
			// slow consumer
			glog.Infof("[r]drop frame for %s\n", client.peerId)
		}
	}
}

func (self *Relay) unregister(client *relayClient) {
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		if _, ok := client.room.clients[client]; ok {
			delete(client.room.clients, client)
			close(client.send)
		}
	}()
	self.broadcast(client, &Frame{
		Type:   FrameTypeLeave,
		PeerId: client.peerId,
	})
	glog.V(1).Infof("[r]%s left room %s\n", client.peerId, client.room.roomId)
}

func (self *relayClient) enqueue(frame *Frame) {
	message, err := json.Marshal(frame)
	if err != nil {
		return
	}
	select {
	case self.send <- message:
	default:
	}
}

func (self *relayClient) readPump() {
	defer func() {
		self.relay.unregister(self)
		self.conn.Close()
	}()
	for {
		messageType, message, err := self.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			// ping
			continue
		}
		frame := &Frame{}
		if err := json.Unmarshal(message, frame); err != nil {
			glog.Infof("[r]bad frame from %s = %s\n", self.peerId, err)
			continue
		}
		// the relay stamps the authenticated peer id
		frame.PeerId = self.peerId
		switch frame.Type {
		case FrameTypeUpdate, FrameTypePresence, FrameTypeLeave:
			self.relay.broadcast(self, frame)
		}
	}
}

func (self *relayClient) writePump() {
	defer self.conn.Close()
	for message := range self.send {
		self.conn.SetWriteDeadline(time.Now().Add(self.relay.settings.WriteTimeout))
		if err := self.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
	self.conn.WriteMessage(websocket.CloseMessage, []byte{})
}
