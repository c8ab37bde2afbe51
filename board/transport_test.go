package board

import (
	"encoding/json"
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestRoomTokenRoundTrip(t *testing.T) {
	secret := []byte("test-secret")
	peerId := NewId()

	token, err := MintRoomToken(secret, peerId, "r1", "alice")
	assert.Equal(t, err, nil)

	claims, err := VerifyRoomToken(secret, token)
	assert.Equal(t, err, nil)
	assert.Equal(t, peerId, claims.PeerId)
	assert.Equal(t, "r1", claims.RoomId)
	assert.Equal(t, "alice", claims.Name)

	// the wrong secret fails verification
	_, err = VerifyRoomToken([]byte("other-secret"), token)
	assert.NotEqual(t, err, nil)
}

func TestRoomTokenUnverifiedParse(t *testing.T) {
	peerId := NewId()
	token, err := MintRoomToken([]byte("test-secret"), peerId, "r1", "alice")
	assert.Equal(t, err, nil)

	// the client extracts its peer id without the secret
	claims, err := ParseRoomTokenUnverified(token)
	assert.Equal(t, err, nil)
	assert.Equal(t, peerId, claims.PeerId)

	auth := &RoomAuth{Token: token, RoomId: "r1"}
	authPeerId, err := auth.PeerId()
	assert.Equal(t, err, nil)
	assert.Equal(t, peerId, authPeerId)

	_, err = ParseRoomTokenUnverified("not-a-token")
	assert.NotEqual(t, err, nil)
}

func TestFrameWireEncoding(t *testing.T) {
	shape := &Shape{ShapeId: NewId(), Type: ShapeTypeRect, X: 1, Width: 2, Height: 3}
	frame := &Frame{
		Type:   FrameTypeUpdate,
		PeerId: NewId(),
		Update: &RecordUpdate{
			Shapes: map[Id]*ShapeRecord{
				shape.ShapeId: {
					Shape:   shape,
					Version: Version{Wall: 123, Peer: NewId()},
				},
			},
			RemovedConnectorIds: []Id{NewId()},
		},
	}

	// record maps are keyed by id on the wire
	message, err := json.Marshal(frame)
	assert.Equal(t, err, nil)

	decoded := &Frame{}
	assert.Equal(t, json.Unmarshal(message, decoded), nil)
	assert.Equal(t, frame.PeerId, decoded.PeerId)

	record := decoded.Update.Shapes[shape.ShapeId]
	assert.Equal(t, true, record.Shape.Equals(shape))
	assert.Equal(t, int64(123), record.Version.Wall)
	assert.Equal(t, frame.Update.RemovedConnectorIds, decoded.Update.RemovedConnectorIds)
}
