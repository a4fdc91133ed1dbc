// Package session implements the external Session contract (record.Session)
// and the Database monitor: the single coarse lock guarding every
// structural mutation across DiskFile, Storage, the record cache, and the
// undo log, per the single-coarse-monitor concurrency model.
package session

import (
	"os"
	"sync"

	"pagestore/pkg/diskfile"
	"pagestore/pkg/record"
	"pagestore/pkg/storage"
	"pagestore/pkg/storeerr"
)

// Database is the database-wide monitor every Session routes structural
// operations through. Holding db.mu is equivalent to "holding the database
// monitor" in the concurrency model: Storage and DiskFile themselves take
// no locks of their own.
type Database struct {
	mu sync.Mutex

	path     string
	lockFile *os.File
	diskFile *diskfile.DiskFile

	storages      map[int]*storage.Storage
	nextSessionID int

	closed bool
}

// Open opens (or creates) the database file at path and acquires its
// exclusive file lock, the way turdb.OpenWithOptions does before handing
// the file to its pager.
func Open(path string, opts diskfile.Options) (*Database, error) {
	var lf *os.File
	if path != ":memory:" {
		var err error
		lf, err = os.OpenFile(path+".lock", os.O_RDWR|os.O_CREATE, 0644)
		if err != nil {
			return nil, err
		}
		if err := lockFile(lf); err != nil {
			lf.Close()
			return nil, err
		}
	}

	df, err := diskfile.Open(path, opts)
	if err != nil {
		if lf != nil {
			unlockFile(lf)
			lf.Close()
		}
		return nil, err
	}

	db := &Database{
		path:     path,
		lockFile: lf,
		diskFile: df,
		storages: make(map[int]*storage.Storage),
	}
	df.AttachSession(&rootSession{db: db})
	return db, nil
}

// rootSession is the Session WriteBack's eviction path uses when no
// caller-supplied session is in scope — record serialization that needs a
// Session only ever reads identity/admin accessors, never needed here.
type rootSession struct{ db *Database }

func (r *rootSession) GetDatabase() interface{}     { return r.db }
func (r *rootSession) GetUser() string              { return "" }
func (r *rootSession) GetRandom() int64             { return 0 }
func (r *rootSession) GetCurrentCommand() string    { return "" }
func (r *rootSession) GetLastIdentity() int64       { return 0 }
func (r *rootSession) GetLockTimeout() int          { return 0 }
func (r *rootSession) GetAutoCommit() bool          { return true }
func (r *rootSession) GetCurrentSchemaName() string { return "" }
func (r *rootSession) GetID() int                   { return -1 }
func (r *rootSession) CreateConnection() (record.Session, error) {
	return nil, storeerr.Internal("createConnection", "rootSession cannot spawn connections")
}

// NewSession creates a new Session onto db with the next free id, with
// autoCommit enabled and an empty schema name.
func (db *Database) NewSession(user string) *Session {
	db.mu.Lock()
	defer db.mu.Unlock()
	id := db.nextSessionID
	db.nextSessionID++
	return &Session{db: db, id: id, user: user, autoCommit: true}
}

// CreateStorage registers a new Storage with id, serialized by id, backed
// by the database's DiskFile and serializing through reader.
func (db *Database) CreateStorage(id int, reader record.Reader) *storage.Storage {
	db.mu.Lock()
	defer db.mu.Unlock()
	s := storage.New(id, db.diskFile, reader)
	db.storages[id] = s
	return s
}

// Storage returns the registered Storage for id.
func (db *Database) Storage(id int) (*storage.Storage, bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	s, ok := db.storages[id]
	return s, ok
}

// DropStorage truncates and unregisters the storage with id.
func (db *Database) DropStorage(session record.Session, id int) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	s, ok := db.storages[id]
	if !ok {
		return storeerr.Internal("dropStorage", "unknown storage id")
	}
	if err := s.Truncate(session); err != nil {
		return err
	}
	delete(db.storages, id)
	return nil
}

// Checkpoint flushes all dirty cached records, persists bookkeeping pages,
// and rotates the undo log. This is the durability boundary: everything
// issued before Checkpoint returns is guaranteed on disk afterward.
func (db *Database) Checkpoint() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return storeerr.New(storeerr.InternalError, "checkpoint", db.path)
	}
	return db.diskFile.Checkpoint()
}

// Close checkpoints the database, closes the DiskFile, and releases the
// file lock, guaranteed even if the checkpoint itself failed.
func (db *Database) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil
	}
	db.closed = true

	closeErr := db.diskFile.Close()

	if db.lockFile != nil {
		unlockFile(db.lockFile)
		db.lockFile.Close()
		db.lockFile = nil
	}
	return closeErr
}

// IsClosed reports whether Close has been called.
func (db *Database) IsClosed() bool {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.closed
}

// Path returns the database's file path.
func (db *Database) Path() string { return db.path }
