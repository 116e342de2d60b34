// Package history provides the spawn journal: an append-only record of every
// child taskmaster started, backed by bbolt. The journal is an audit trail
// queried by the REPL `history` command; supervisor state is never rebuilt
// from it.
//
// Records are keyed by an insertion sequence so recency scans are a reverse
// cursor walk; a secondary bucket maps spawn ids back to sequence keys for
// exit updates.
package history

import (
	"encoding/binary"
	"encoding/json"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Bucket names for the journal database
const (
	BucketSpawns  = "spawns"
	BucketSpawnID = "spawn_ids"
)

// SpawnRecord is one child's journal entry. EndTime stays zero until the
// exit is recorded.
type SpawnRecord struct {
	SpawnID   string    `json:"spawn_id"`
	Program   string    `json:"program"`
	Replica   int       `json:"replica"`
	PID       int       `json:"pid"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	// Exit classification: "exited" or "signaled"; empty while running.
	ExitKind string `json:"exit_kind"`
	ExitCode int    `json:"exit_code"`
}

// DB wraps a bbolt database holding the spawn journal.
type DB struct {
	db   *bolt.DB
	path string
}

// OpenDB opens or creates the journal at the given path, initializing the
// required buckets. The database is opened with 0600 permissions.
func OpenDB(path string) (*DB, error) {
	bdb, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, &DatabaseError{Op: "open", Err: err}
	}

	err = bdb.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(BucketSpawns)); err != nil {
			return &DatabaseError{Op: "create bucket", Bucket: BucketSpawns, Err: err}
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(BucketSpawnID)); err != nil {
			return &DatabaseError{Op: "create bucket", Bucket: BucketSpawnID, Err: err}
		}
		return nil
	})
	if err != nil {
		bdb.Close()
		return nil, err
	}

	return &DB{db: bdb, path: path}, nil
}

// Close closes the database. Safe to call on a nil-wrapped handle.
func (db *DB) Close() error {
	if db == nil || db.db == nil {
		return nil
	}
	return db.db.Close()
}

// SpawnStarted appends a record for a fresh spawn.
func (db *DB) SpawnStarted(rec *SpawnRecord) error {
	if rec.SpawnID == "" {
		return &RecordError{Op: "record spawn", Err: ErrEmptySpawnID}
	}

	return db.db.Update(func(tx *bolt.Tx) error {
		spawns := tx.Bucket([]byte(BucketSpawns))
		if spawns == nil {
			return &DatabaseError{Op: "get bucket", Bucket: BucketSpawns, Err: ErrBucketNotFound}
		}

		seq, err := spawns.NextSequence()
		if err != nil {
			return &DatabaseError{Op: "sequence", Bucket: BucketSpawns, Err: err}
		}
		key := seqKey(seq)

		data, err := json.Marshal(rec)
		if err != nil {
			return &RecordError{Op: "marshal", SpawnID: rec.SpawnID, Err: err}
		}
		if err := spawns.Put(key, data); err != nil {
			return &DatabaseError{Op: "put", Bucket: BucketSpawns, Err: err}
		}

		index := tx.Bucket([]byte(BucketSpawnID))
		if index == nil {
			return &DatabaseError{Op: "get bucket", Bucket: BucketSpawnID, Err: ErrBucketNotFound}
		}
		return index.Put([]byte(rec.SpawnID), key)
	})
}

// SpawnFinished records the exit of a previously journaled spawn.
func (db *DB) SpawnFinished(spawnID, exitKind string, exitCode int, endTime time.Time) error {
	if spawnID == "" {
		return &RecordError{Op: "record exit", Err: ErrEmptySpawnID}
	}

	return db.db.Update(func(tx *bolt.Tx) error {
		index := tx.Bucket([]byte(BucketSpawnID))
		spawns := tx.Bucket([]byte(BucketSpawns))
		if index == nil || spawns == nil {
			return &DatabaseError{Op: "get bucket", Err: ErrBucketNotFound}
		}

		key := index.Get([]byte(spawnID))
		if key == nil {
			return &RecordError{Op: "record exit", SpawnID: spawnID, Err: ErrRecordNotFound}
		}
		data := spawns.Get(key)
		if data == nil {
			return &RecordError{Op: "record exit", SpawnID: spawnID, Err: ErrRecordNotFound}
		}

		var rec SpawnRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return &RecordError{Op: "unmarshal", SpawnID: spawnID, Err: err}
		}
		rec.EndTime = endTime
		rec.ExitKind = exitKind
		rec.ExitCode = exitCode

		out, err := json.Marshal(&rec)
		if err != nil {
			return &RecordError{Op: "marshal", SpawnID: spawnID, Err: err}
		}
		return spawns.Put(key, out)
	})
}

// Recent returns up to limit records, newest first. An empty program name
// matches every program.
func (db *DB) Recent(program string, limit int) ([]*SpawnRecord, error) {
	var out []*SpawnRecord

	err := db.db.View(func(tx *bolt.Tx) error {
		spawns := tx.Bucket([]byte(BucketSpawns))
		if spawns == nil {
			return &DatabaseError{Op: "get bucket", Bucket: BucketSpawns, Err: ErrBucketNotFound}
		}

		c := spawns.Cursor()
		for k, v := c.Last(); k != nil && len(out) < limit; k, v = c.Prev() {
			var rec SpawnRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return &RecordError{Op: "unmarshal", Err: err}
			}
			if program != "" && rec.Program != program {
				continue
			}
			out = append(out, &rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}
