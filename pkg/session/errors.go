package session

import "errors"

// ErrDatabaseLocked is returned by Open when another process already holds
// the database's exclusive file lock.
var ErrDatabaseLocked = errors.New("session: database is locked by another process")
