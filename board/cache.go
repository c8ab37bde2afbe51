package board

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

// RoomCache persists the replica's records across process restarts,
// keyed by room id. One json-encoded versioned record per id,
// whole-record replace. Merged back into the replica on reconnect.
type RoomCache struct {
	db     *bolt.DB
	roomId string
}

func OpenRoomCache(path string, roomId string) (*RoomCache, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("open room cache: %w", err)
	}

	cache := &RoomCache{
		db:     db,
		roomId: roomId,
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(cache.shapesBucket()); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(cache.connectorsBucket()); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init room cache: %w", err)
	}
	return cache, nil
}

func (self *RoomCache) shapesBucket() []byte {
	return []byte("shapes:" + self.roomId)
}

func (self *RoomCache) connectorsBucket() []byte {
	return []byte("connectors:" + self.roomId)
}

// Load reads every cached record for the room.
func (self *RoomCache) Load() (*RecordUpdate, error) {
	update := &RecordUpdate{
		Shapes:     map[Id]*ShapeRecord{},
		Connectors: map[Id]*ConnectorRecord{},
	}
	err := self.db.View(func(tx *bolt.Tx) error {
		shapes := tx.Bucket(self.shapesBucket())
		if shapes != nil {
			err := shapes.ForEach(func(k []byte, v []byte) error {
				shapeId, err := IdFromBytes(k)
				if err != nil {
					return err
				}
				record := &ShapeRecord{}
				if err := json.Unmarshal(v, record); err != nil {
					return err
				}
				update.Shapes[shapeId] = record
				return nil
			})
			if err != nil {
				return err
			}
		}
		connectors := tx.Bucket(self.connectorsBucket())
		if connectors != nil {
			err := connectors.ForEach(func(k []byte, v []byte) error {
				connectorId, err := IdFromBytes(k)
				if err != nil {
					return err
				}
				record := &ConnectorRecord{}
				if err := json.Unmarshal(v, record); err != nil {
					return err
				}
				update.Connectors[connectorId] = record
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load room cache: %w", err)
	}
	return update, nil
}

// WriteUpdate applies a record batch to the cache in one transaction.
func (self *RoomCache) WriteUpdate(update *RecordUpdate) error {
	return self.db.Update(func(tx *bolt.Tx) error {
		shapes := tx.Bucket(self.shapesBucket())
		for shapeId, record := range update.Shapes {
			value, err := json.Marshal(record)
			if err != nil {
				return err
			}
			if err := shapes.Put(shapeId.Bytes(), value); err != nil {
				return err
			}
		}
		for _, shapeId := range update.RemovedShapeIds {
			if err := shapes.Delete(shapeId.Bytes()); err != nil {
				return err
			}
		}
		connectors := tx.Bucket(self.connectorsBucket())
		for connectorId, record := range update.Connectors {
			value, err := json.Marshal(record)
			if err != nil {
				return err
			}
			if err := connectors.Put(connectorId.Bytes(), value); err != nil {
				return err
			}
		}
		for _, connectorId := range update.RemovedConnectorIds {
			if err := connectors.Delete(connectorId.Bytes()); err != nil {
				return err
			}
		}
		return nil
	})
}

func (self *RoomCache) Close() error {
	return self.db.Close()
}
