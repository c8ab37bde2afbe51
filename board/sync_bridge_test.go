package board

import (
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func TestSyncBridgeOutbound(t *testing.T) {
	store := NewDocumentStore()
	replica := NewReplica("r1", NewId())

	bridge := NewSyncBridgeWithDefaults(store, replica)
	bridge.Start()
	defer bridge.Stop()

	shape := &Shape{ShapeId: NewId(), Type: ShapeTypeRect, X: 1, Width: 10, Height: 10}
	store.AddShape(OriginLocal, shape)
	assert.Equal(t, 1.0, replica.Shapes()[shape.ShapeId].X)

	moved := shape.Copy()
	moved.X = 2
	store.UpdateShape(OriginLocal, moved)
	assert.Equal(t, 2.0, replica.Shapes()[shape.ShapeId].X)

	store.RemoveShape(OriginLocal, shape.ShapeId)
	assert.Equal(t, false, replica.HasData())
}

func TestSyncBridgeInbound(t *testing.T) {
	store := NewDocumentStore()
	replica := NewReplica("r1", NewId())

	bridge := NewSyncBridgeWithDefaults(store, replica)
	bridge.Start()
	defer bridge.Stop()

	origins := []MutationOrigin{}
	unsub := store.AddChangeCallback(func(change *DocumentChange) {
		origins = append(origins, change.Origin)
	})
	defer unsub()

	shapeId := NewId()
	remotePeer := NewId()
	replica.Merge(&RecordUpdate{
		Shapes: map[Id]*ShapeRecord{
			shapeId: {
				Shape:   &Shape{ShapeId: shapeId, Type: ShapeTypeEllipse, X: 9},
				Version: Version{Wall: time.Now().UnixNano(), Peer: remotePeer},
			},
		},
	})

	// the merge landed in the store, tagged as a remote apply
	assert.Equal(t, 9.0, store.Shape(shapeId).X)
	assert.Equal(t, []MutationOrigin{OriginRemoteApply}, origins)
}

func TestSyncBridgeNoEcho(t *testing.T) {
	store := NewDocumentStore()
	replica := NewReplica("r1", NewId())

	bridge := NewSyncBridgeWithDefaults(store, replica)
	bridge.Start()
	defer bridge.Stop()

	localWrites := 0
	unsub := replica.AddUpdateCallback(func(origin UpdateOrigin, update *RecordUpdate) {
		if origin == UpdateOriginLocal {
			localWrites += 1
		}
	})
	defer unsub()

	// an inbound merge must not be fed back out as an outbound write
	shapeId := NewId()
	replica.Merge(&RecordUpdate{
		Shapes: map[Id]*ShapeRecord{
			shapeId: {
				Shape:   &Shape{ShapeId: shapeId, Type: ShapeTypeRect, X: 3},
				Version: Version{Wall: time.Now().UnixNano(), Peer: NewId()},
			},
		},
	})
	assert.Equal(t, 0, localWrites)

	// and one real local change produces exactly one outbound write
	store.AddShape(OriginLocal, &Shape{ShapeId: NewId(), Type: ShapeTypeRect})
	assert.Equal(t, 1, localWrites)
}

func TestSyncBridgeInitialJoinRemoteAuthoritative(t *testing.T) {
	store := NewDocumentStore()
	preJoin := &Shape{ShapeId: NewId(), Type: ShapeTypeRect, X: 1}
	store.AddShape(OriginLocal, preJoin)

	// the replica already holds room state
	replica := NewReplica("r1", NewId())
	remote := &Shape{ShapeId: NewId(), Type: ShapeTypeEllipse, X: 2}
	replica.Merge(&RecordUpdate{
		Shapes: map[Id]*ShapeRecord{
			remote.ShapeId: {
				Shape:   remote,
				Version: Version{Wall: time.Now().UnixNano(), Peer: NewId()},
			},
		},
	})

	bridge := NewSyncBridgeWithDefaults(store, replica)
	bridge.Start()
	defer bridge.Stop()

	// remote state replaced the local pre-join document
	shapes := store.Shapes()
	assert.Equal(t, 1, len(shapes))
	assert.NotEqual(t, shapes[remote.ShapeId], nil)
}

func TestSyncBridgeInitialJoinLocalSeed(t *testing.T) {
	store := NewDocumentStore()
	seed := &Shape{ShapeId: NewId(), Type: ShapeTypeRect, X: 4}
	store.AddShape(OriginLocal, seed)

	replica := NewReplica("r1", NewId())
	bridge := NewSyncBridgeWithDefaults(store, replica)
	bridge.Start()
	defer bridge.Stop()

	// an empty replica is seeded from the local document
	assert.Equal(t, 4.0, replica.Shapes()[seed.ShapeId].X)
}

func TestSyncBridgeInterleavedInboundMerge(t *testing.T) {
	store := NewDocumentStore()
	replica := NewReplica("r1", NewId())

	remoteShape := &Shape{ShapeId: NewId(), Type: ShapeTypeEllipse, X: 9}
	remoteUpdate := &RecordUpdate{
		Shapes: map[Id]*ShapeRecord{
			remoteShape.ShapeId: {
				Shape:   remoteShape,
				Version: Version{Wall: time.Now().UnixNano(), Peer: NewId()},
			},
		},
	}

	// this callback is registered before the bridge, so it observes the
	// local edit first and merges a remote record before the bridge's
	// own diff pass runs, like a transport read landing mid-mutation
	merged := false
	unsub := store.AddChangeCallback(func(change *DocumentChange) {
		if change.Origin == OriginLocal && !merged {
			merged = true
			replica.Merge(remoteUpdate)
		}
	})
	defer unsub()

	bridge := NewSyncBridgeWithDefaults(store, replica)
	bridge.Start()
	defer bridge.Stop()

	local := &Shape{ShapeId: NewId(), Type: ShapeTypeRect, X: 1}
	store.AddShape(OriginLocal, local)

	// both writes survive on both sides: the local edit is not dropped
	// by the inbound apply, and the stale diff pass does not delete the
	// freshly merged record
	assert.NotEqual(t, store.Shape(local.ShapeId), nil)
	assert.NotEqual(t, store.Shape(remoteShape.ShapeId), nil)
	replicaShapes := replica.Shapes()
	assert.NotEqual(t, replicaShapes[local.ShapeId], nil)
	assert.NotEqual(t, replicaShapes[remoteShape.ShapeId], nil)
}

func TestSyncBridgeEndToEnd(t *testing.T) {
	bus := NewMemoryBus()

	peerA := NewId()
	storeA := NewDocumentStore()
	replicaA := NewReplica("r1", peerA)
	replicaA.AttachTransport(bus.Connect("r1", peerA))
	bridgeA := NewSyncBridgeWithDefaults(storeA, replicaA)
	bridgeA.Start()
	defer bridgeA.Stop()

	peerB := NewId()
	storeB := NewDocumentStore()
	replicaB := NewReplica("r1", peerB)
	replicaB.AttachTransport(bus.Connect("r1", peerB))
	bridgeB := NewSyncBridgeWithDefaults(storeB, replicaB)
	bridgeB.Start()
	defer bridgeB.Stop()

	// a local edit on A lands in B's store
	shape := &Shape{ShapeId: NewId(), Type: ShapeTypeRect, X: 10, Width: 10, Height: 10}
	storeA.AddShape(OriginLocal, shape)
	assert.Equal(t, 10.0, storeB.Shape(shape.ShapeId).X)

	// concurrent edits to the same shape: the later whole-record
	// write wins on both sides
	movedA := shape.Copy()
	movedA.X = 15
	storeA.UpdateShape(OriginLocal, movedA)
	time.Sleep(2 * time.Millisecond)
	movedB := shape.Copy()
	movedB.X = 20
	storeB.UpdateShape(OriginLocal, movedB)

	assert.Equal(t, 20.0, storeA.Shape(shape.ShapeId).X)
	assert.Equal(t, 20.0, storeB.Shape(shape.ShapeId).X)

	// a delete on B cascades to A
	storeB.RemoveShape(OriginLocal, shape.ShapeId)
	assert.Equal(t, storeA.Shape(shape.ShapeId), (*Shape)(nil))
}
