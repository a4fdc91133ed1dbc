package session

import (
	"pagestore/pkg/record"
	"pagestore/pkg/storeerr"
)

// CreateStorage registers a new Storage with storageID under the Database,
// serialized by the Database monitor.
func (s *Session) CreateStorage(storageID int, reader record.Reader) {
	s.db.CreateStorage(storageID, reader)
}

// DropStorage truncates and unregisters storageID.
func (s *Session) DropStorage(storageID int) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	st, ok := s.db.storages[storageID]
	if !ok {
		return storeerr.Internal("dropStorage", "unknown storage id")
	}
	if err := st.Truncate(s); err != nil {
		return err
	}
	delete(s.db.storages, storageID)
	return nil
}

// AddRecord adds rec to storageID at pos (or an allocated position, if pos
// is layout.AllocatePos), under the Database monitor.
func (s *Session) AddRecord(storageID int, rec *record.Record, pos int) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	st, ok := s.db.storages[storageID]
	if !ok {
		return storeerr.Internal("addRecord", "unknown storage id")
	}
	return st.AddRecord(s, rec, pos)
}

// UpdateRecord re-serializes rec in place within storageID.
func (s *Session) UpdateRecord(storageID int, rec *record.Record) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	st, ok := s.db.storages[storageID]
	if !ok {
		return storeerr.Internal("updateRecord", "unknown storage id")
	}
	return st.UpdateRecord(s, rec)
}

// RemoveRecord deletes the record at pos within storageID.
func (s *Session) RemoveRecord(storageID int, pos int) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	st, ok := s.db.storages[storageID]
	if !ok {
		return storeerr.Internal("removeRecord", "unknown storage id")
	}
	return st.RemoveRecord(s, pos)
}

// GetRecord reads the record at pos within storageID.
func (s *Session) GetRecord(storageID int, pos int) (*record.Record, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	st, ok := s.db.storages[storageID]
	if !ok {
		return nil, storeerr.Internal("getRecord", "unknown storage id")
	}
	return st.GetRecord(s, pos)
}

// GetRecordIfStored reads the record at pos within storageID, or returns
// (nil, nil) if pos does not currently hold a live record of that storage.
func (s *Session) GetRecordIfStored(storageID int, pos int) (*record.Record, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	st, ok := s.db.storages[storageID]
	if !ok {
		return nil, storeerr.Internal("getRecordIfStored", "unknown storage id")
	}
	return st.GetRecordIfStored(s, pos)
}

// GetNext returns the next live record position in storageID after cur (or
// the first, if cur is nil), or -1 when exhausted.
func (s *Session) GetNext(storageID int, cur *record.Record) (int, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	st, ok := s.db.storages[storageID]
	if !ok {
		return -1, storeerr.Internal("getNext", "unknown storage id")
	}
	return st.GetNext(cur), nil
}

// Truncate empties storageID, freeing all of its pages back to the shared
// pool.
func (s *Session) Truncate(storageID int) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	st, ok := s.db.storages[storageID]
	if !ok {
		return storeerr.Internal("truncate", "unknown storage id")
	}
	return st.Truncate(s)
}
