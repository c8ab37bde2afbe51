package board

import (
	"encoding/json"
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestIdRoundTrip(t *testing.T) {
	id := NewId()
	assert.Equal(t, false, id.IsZero())

	parsed, err := ParseId(id.String())
	assert.Equal(t, err, nil)
	assert.Equal(t, id, parsed)

	_, err = ParseId("not-an-id")
	assert.NotEqual(t, err, nil)

	var zero Id
	assert.Equal(t, true, zero.IsZero())
}

func TestIdJson(t *testing.T) {
	id := NewId()

	encoded, err := json.Marshal(id)
	assert.Equal(t, err, nil)
	assert.Equal(t, "\""+id.String()+"\"", string(encoded))

	var decoded Id
	assert.Equal(t, json.Unmarshal(encoded, &decoded), nil)
	assert.Equal(t, id, decoded)

	// ids work as json map keys
	m := map[Id]int{id: 1}
	encoded, err = json.Marshal(m)
	assert.Equal(t, err, nil)
	decodedMap := map[Id]int{}
	assert.Equal(t, json.Unmarshal(encoded, &decodedMap), nil)
	assert.Equal(t, 1, decodedMap[id])
}

func TestVersionOrdering(t *testing.T) {
	peerA := RequireIdFromBytes([]byte("version-peer-aa!"))
	peerB := RequireIdFromBytes([]byte("version-peer-bb!"))

	older := Version{Wall: 100, Peer: peerA}
	newer := Version{Wall: 200, Peer: peerA}
	assert.Equal(t, true, newer.After(older))
	assert.Equal(t, false, older.After(newer))
	assert.Equal(t, false, older.After(older))

	// equal wall clocks: exactly one side wins, by peer id
	tieA := Version{Wall: 300, Peer: peerA}
	tieB := Version{Wall: 300, Peer: peerB}
	assert.Equal(t, true, tieA.After(tieB) != tieB.After(tieA))
}

func TestShapeCopyIsolation(t *testing.T) {
	groupId := NewId()
	shape := &Shape{
		ShapeId: NewId(),
		Type:    ShapeTypeTable,
		Table: &TableGrid{
			Rows:  2,
			Cols:  2,
			Cells: []string{"a", "b", "c", "d"},
		},
		GroupId: &groupId,
	}

	copied := shape.Copy()
	assert.Equal(t, true, copied.Equals(shape))

	copied.Table.Cells[0] = "mutated"
	copied.GroupId = nil
	assert.Equal(t, "a", shape.Table.Cells[0])
	assert.Equal(t, groupId, *shape.GroupId)
}

func TestConnectorReferences(t *testing.T) {
	shapeId := NewId()
	other := NewId()
	free := Point{X: 1, Y: 1}

	connector := &Connector{
		ConnectorId: NewId(),
		From:        ConnectorEndpoint{ShapeId: &shapeId, Anchor: AnchorAuto},
		To:          ConnectorEndpoint{Point: &free},
	}
	assert.Equal(t, true, connector.References(shapeId))
	assert.Equal(t, false, connector.References(other))
}
