package session

import (
	"math/rand"

	"pagestore/pkg/record"
	"pagestore/pkg/storeerr"
)

// Session is one connection onto a Database. It implements record.Session
// and is the only handle callers use to reach Storage and DiskFile
// operations: every method that touches mutable state acquires the
// Database's single coarse monitor before delegating.
type Session struct {
	db  *Database
	id  int
	rng *rand.Rand

	user           string
	currentCommand string
	lastIdentity   int64
	lockTimeoutMs  int
	autoCommit     bool
	schemaName     string
}

var _ record.Session = (*Session)(nil)

// GetDatabase returns the owning Database, opaque to callers outside this
// package per the record.Session contract.
func (s *Session) GetDatabase() interface{} { return s.db }

// GetUser returns the user name this session was opened under.
func (s *Session) GetUser() string { return s.user }

// GetRandom returns a pseudo-random int64 local to this session, used by
// RecordReaders that need e.g. identity assignment jitter.
func (s *Session) GetRandom() int64 {
	if s.rng == nil {
		s.rng = rand.New(rand.NewSource(int64(s.id) + 1))
	}
	return s.rng.Int63()
}

// GetCurrentCommand returns the label of the operation currently executing
// on this session, for diagnostics.
func (s *Session) GetCurrentCommand() string { return s.currentCommand }

// SetCurrentCommand updates the label returned by GetCurrentCommand.
func (s *Session) SetCurrentCommand(cmd string) { s.currentCommand = cmd }

// GetLastIdentity returns the identity value most recently assigned on
// this session.
func (s *Session) GetLastIdentity() int64 { return s.lastIdentity }

// SetLastIdentity records the identity value most recently assigned.
func (s *Session) SetLastIdentity(id int64) { s.lastIdentity = id }

// GetLockTimeout returns this session's lock wait timeout in milliseconds.
func (s *Session) GetLockTimeout() int { return s.lockTimeoutMs }

// SetLockTimeout sets this session's lock wait timeout in milliseconds.
func (s *Session) SetLockTimeout(ms int) { s.lockTimeoutMs = ms }

// GetAutoCommit reports whether this session commits each operation
// immediately.
func (s *Session) GetAutoCommit() bool { return s.autoCommit }

// SetAutoCommit toggles auto-commit mode for this session.
func (s *Session) SetAutoCommit(on bool) { s.autoCommit = on }

// GetCurrentSchemaName returns the schema this session resolves unqualified
// names against.
func (s *Session) GetCurrentSchemaName() string { return s.schemaName }

// SetCurrentSchemaName changes the schema this session resolves unqualified
// names against.
func (s *Session) SetCurrentSchemaName(name string) { s.schemaName = name }

// GetID returns this session's connection id, unique within the Database.
func (s *Session) GetID() int { return s.id }

// CreateConnection opens a new Session on the same Database, with a fresh
// id and the parent's user and schema but auto-commit reset to true.
func (s *Session) CreateConnection() (record.Session, error) {
	if s.db.IsClosed() {
		return nil, storeerr.Internal("createConnection", "database is closed")
	}
	child := s.db.NewSession(s.user)
	child.schemaName = s.schemaName
	return child, nil
}

// Checkpoint flushes the Database this session belongs to.
func (s *Session) Checkpoint() error {
	return s.db.Checkpoint()
}

// Close releases the Database this session belongs to. Any other live
// Session on the same Database is invalidated along with it, since a
// Database has exactly one underlying DiskFile.
func (s *Session) Close() error {
	return s.db.Close()
}
