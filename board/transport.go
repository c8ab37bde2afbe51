package board

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/golang/glog"
	"github.com/gorilla/websocket"
)

const TransportSendBufferSize = 32

type ConnectionStatus string

const (
	ConnectionStatusUninitialized ConnectionStatus = "uninitialized"
	ConnectionStatusConnecting    ConnectionStatus = "connecting"
	ConnectionStatusConnected     ConnectionStatus = "connected"
	ConnectionStatusDisconnected  ConnectionStatus = "disconnected"
)

type FrameType string

const (
	// a batch of whole-record writes and deletes
	FrameTypeUpdate FrameType = "update"
	// ephemeral per-peer state, never persisted
	FrameTypePresence FrameType = "presence"
	// a peer left the room
	FrameTypeLeave FrameType = "leave"
	// sent by a joining peer, first frame on the wire
	FrameTypeHello FrameType = "hello"
)

// one frame per message. the wire encoding is json; no bit-format is
// prescribed beyond one replicated record per id, whole-record replace.
type Frame struct {
	Type     FrameType       `json:"type"`
	PeerId   Id              `json:"peerId"`
	Token    string          `json:"token,omitempty"`
	Update   *RecordUpdate   `json:"update,omitempty"`
	Presence *PresenceRecord `json:"presence,omitempty"`
}

type TransportReceiveFunction = func(frame *Frame)

type StatusFunction = func(status ConnectionStatus)

// RoomTransport is the generic room-connection contract.
// Automatic retry is the transport provider's responsibility;
// failures surface to the core only as status transitions.
type RoomTransport interface {
	Send(frame *Frame) bool
	AddReceiveCallback(receiveCallback TransportReceiveFunction) func()
	AddStatusCallback(statusCallback StatusFunction) func()
	Status() ConnectionStatus
	Close()
}

// room auth token. the peer id claim is extracted client-side with an
// unverified parse; the relay is the verifying party.
type RoomAuth struct {
	Token  string
	RoomId string
}

func (self *RoomAuth) PeerId() (Id, error) {
	claims, err := ParseRoomTokenUnverified(self.Token)
	if err != nil {
		return Id{}, err
	}
	return claims.PeerId, nil
}

type RoomTokenClaims struct {
	PeerId Id
	RoomId string
	Name   string
}

func MintRoomToken(secret []byte, peerId Id, roomId string, name string) (string, error) {
	token := gojwt.NewWithClaims(gojwt.SigningMethodHS256, gojwt.MapClaims{
		"peerId": peerId.String(),
		"roomId": roomId,
		"name":   name,
		"iat":    time.Now().Unix(),
	})
	return token.SignedString(secret)
}

func ParseRoomTokenUnverified(token string) (*RoomTokenClaims, error) {
	claims := gojwt.MapClaims{}
	_, _, err := gojwt.NewParser().ParseUnverified(token, claims)
	if err != nil {
		return nil, err
	}
	peerIdStr, ok := claims["peerId"].(string)
	if !ok {
		return nil, errors.New("room token missing peerId claim")
	}
	peerId, err := ParseId(peerIdStr)
	if err != nil {
		return nil, err
	}
	roomId, _ := claims["roomId"].(string)
	name, _ := claims["name"].(string)
	return &RoomTokenClaims{
		PeerId: peerId,
		RoomId: roomId,
		Name:   name,
	}, nil
}

func VerifyRoomToken(secret []byte, token string) (*RoomTokenClaims, error) {
	parsed, err := gojwt.Parse(token, func(token *gojwt.Token) (any, error) {
		if _, ok := token.Method.(*gojwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(gojwt.MapClaims)
	if !ok {
		return nil, errors.New("bad room token claims")
	}
	peerIdStr, _ := claims["peerId"].(string)
	peerId, err := ParseId(peerIdStr)
	if err != nil {
		return nil, err
	}
	roomId, _ := claims["roomId"].(string)
	name, _ := claims["name"].(string)
	return &RoomTokenClaims{
		PeerId: peerId,
		RoomId: roomId,
		Name:   name,
	}, nil
}

type WebsocketTransportSettings struct {
	WsHandshakeTimeout       time.Duration
	PingTimeout              time.Duration
	WriteTimeout             time.Duration
	ReadTimeout              time.Duration
	ReconnectInitialInterval time.Duration
	ReconnectMaxInterval     time.Duration
}

func DefaultWebsocketTransportSettings() *WebsocketTransportSettings {
	return &WebsocketTransportSettings{
		WsHandshakeTimeout:       2 * time.Second,
		PingTimeout:              1 * time.Second,
		WriteTimeout:             5 * time.Second,
		ReadTimeout:              15 * time.Second,
		ReconnectInitialInterval: 500 * time.Millisecond,
		ReconnectMaxInterval:     15 * time.Second,
	}
}

// WebsocketTransport connects one room on a relay endpoint.
// Reconnects internally with exponential backoff; the core only sees
// status transitions.
type WebsocketTransport struct {
	ctx    context.Context
	cancel context.CancelFunc

	endpoint string
	auth     *RoomAuth
	peerId   Id

	settings *WebsocketTransportSettings

	stateLock sync.Mutex
	status    ConnectionStatus

	send chan *Frame

	receiveCallbacks *CallbackList[TransportReceiveFunction]
	statusCallbacks  *CallbackList[StatusFunction]
}

func NewWebsocketTransportWithDefaults(
	ctx context.Context,
	endpoint string,
	auth *RoomAuth,
) (*WebsocketTransport, error) {
	return NewWebsocketTransport(ctx, endpoint, auth, DefaultWebsocketTransportSettings())
}

func NewWebsocketTransport(
	ctx context.Context,
	endpoint string,
	auth *RoomAuth,
	settings *WebsocketTransportSettings,
) (*WebsocketTransport, error) {
	peerId, err := auth.PeerId()
	if err != nil {
		return nil, err
	}
	cancelCtx, cancel := context.WithCancel(ctx)
	transport := &WebsocketTransport{
		ctx:              cancelCtx,
		cancel:           cancel,
		endpoint:         endpoint,
		auth:             auth,
		peerId:           peerId,
		settings:         settings,
		status:           ConnectionStatusConnecting,
		send:             make(chan *Frame, TransportSendBufferSize),
		receiveCallbacks: NewCallbackList[TransportReceiveFunction](),
		statusCallbacks:  NewCallbackList[StatusFunction](),
	}
	go transport.run()
	return transport, nil
}

func (self *WebsocketTransport) AddReceiveCallback(receiveCallback TransportReceiveFunction) func() {
	callbackId := self.receiveCallbacks.Add(receiveCallback)
	return func() {
		self.receiveCallbacks.Remove(callbackId)
	}
}

func (self *WebsocketTransport) AddStatusCallback(statusCallback StatusFunction) func() {
	callbackId := self.statusCallbacks.Add(statusCallback)
	return func() {
		self.statusCallbacks.Remove(callbackId)
	}
}

func (self *WebsocketTransport) Status() ConnectionStatus {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.status
}

func (self *WebsocketTransport) setStatus(status ConnectionStatus) {
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

// Send enqueues a frame. Drops and returns false when the buffer is
// full or the transport is closed.
func (self *WebsocketTransport) Send(frame *Frame) bool {
	frame.PeerId = self.peerId
	select {
	case <-self.ctx.Done():
		return false
	case self.send <- frame:
		return true
	default:
		// full
		glog.Infof("[t]send buffer full %s\n", self.peerId)
		return false
	}
}

func (self *WebsocketTransport) roomUrl() string {
	return fmt.Sprintf(
		"%s/rooms/%s/ws?token=%s",
		self.endpoint,
		url.PathEscape(self.auth.RoomId),
		url.QueryEscape(self.auth.Token),
	)
}

func (self *WebsocketTransport) run() {
	defer func() {
		self.cancel()
		self.setStatus(ConnectionStatusDisconnected)
	}()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = self.settings.ReconnectInitialInterval
	b.MaxInterval = self.settings.ReconnectMaxInterval
	// retry until the transport is closed
	b.MaxElapsedTime = 0

	for {
		self.setStatus(ConnectionStatusConnecting)

		dialer := &websocket.Dialer{
			HandshakeTimeout: self.settings.WsHandshakeTimeout,
		}
		ws, _, err := dialer.DialContext(self.ctx, self.roomUrl(), nil)
		if err == nil {
			ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
			err = ws.WriteJSON(&Frame{
				Type:   FrameTypeHello,
				PeerId: self.peerId,
				Token:  self.auth.Token,
			})
			if err != nil {
				ws.Close()
			}
		}
		if err != nil {
			glog.Infof("[t]connect error %s = %s\n", self.peerId, err)
			select {
			case <-self.ctx.Done():
				return
			case <-time.After(b.NextBackOff()):
				continue
			}
		}

		b.Reset()
		self.setStatus(ConnectionStatusConnected)
		self.pump(ws)
		self.setStatus(ConnectionStatusDisconnected)

		select {
		case <-self.ctx.Done():
			return
		case <-time.After(b.NextBackOff()):
		}
	}
}

func (self *WebsocketTransport) pump(ws *websocket.Conn) {
	defer ws.Close()

	handleCtx, handleCancel := context.WithCancel(self.ctx)
	defer handleCancel()

	go func() {
		defer func() {
			handleCancel()
			// unblocks the read loop, which is otherwise parked in
			// ReadMessage until the read deadline
			ws.Close()
		}()

		for {
			select {
			case <-handleCtx.Done():
				return
			case frame, ok := <-self.send:
				if !ok {
					return
				}
				ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
				if err := ws.WriteJSON(frame); err != nil {
					// note that for websocket a deadline timeout cannot be recovered
					glog.Infof("[ts]%s-> error = %s\n", self.peerId, err)
					return
				}
				glog.V(2).Infof("[ts]%s->\n", self.peerId)
			case <-time.After(self.settings.PingTimeout):
				ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
				if err := ws.WriteMessage(websocket.BinaryMessage, make([]byte, 0)); err != nil {
					return
				}
			}
		}
	}()

	for {
		select {
		case <-handleCtx.Done():
			return
		default:
		}

		ws.SetReadDeadline(time.Now().Add(self.settings.ReadTimeout))
		messageType, message, err := ws.ReadMessage()
		if err != nil {
			glog.Infof("[tr]%s<- error = %s\n", self.peerId, err)
			return
		}

		switch messageType {
		case websocket.TextMessage:
			frame := &Frame{}
			if err := json.Unmarshal(message, frame); err != nil {
				glog.Infof("[tr]bad frame %s<- = %s\n", self.peerId, err)
				continue
			}
			self.dispatch(frame)
		case websocket.BinaryMessage:
			if len(message) == 0 {
				// ping
				glog.V(2).Infof("[tr]ping %s<-\n", self.peerId)
				continue
			}
		}
	}
}

func (self *WebsocketTransport) dispatch(frame *Frame) {
	for _, receiveCallback := range self.receiveCallbacks.Get() {
		func() {
			defer recover()
			receiveCallback(frame)
		}()
	}
}

func (self *WebsocketTransport) Close() {
	self.cancel()
	self.setStatus(ConnectionStatusDisconnected)
}
