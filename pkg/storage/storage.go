// Package storage implements Storage: the per-table/per-index facade over
// a DiskFile. A Storage owns the set of pages belonging to one logical
// object, services record add/update/remove/iterate, and maintains its own
// bounded free-block list and record count.
package storage

import (
	"pagestore/pkg/bitset"
	"pagestore/pkg/diskfile"
	"pagestore/pkg/layout"
	"pagestore/pkg/record"
	"pagestore/pkg/storeerr"
)

// Storage is a logical collection of records sharing one storage id,
// backed by a single DiskFile.
type Storage struct {
	id       int
	diskFile *diskfile.DiskFile
	reader   record.Reader

	recordCount int
	pages       *bitset.IntArray // sorted, owned page ids
	freeList    []int            // bounded, not deduplicated; staleness filtered on reuse

	reclaimCursor int // round-robin index into pages for checkOnePage
}

// New creates a Storage for id, backed by diskFile and serializing records
// through reader. If diskFile already owns pages for id (a reopen of an
// existing store), its page set and live record count are restored from
// the diskFile's durable owner table and per-storage counters rather than
// starting empty, so GetNext and GetRecordCount behave correctly without a
// fresh scan.
func New(id int, diskFile *diskfile.DiskFile, reader record.Reader) *Storage {
	pages := bitset.NewIntArray()
	for _, pageID := range diskFile.PagesOwnedBy(id) {
		pages.Insert(int(pageID))
	}
	return &Storage{
		id:          id,
		diskFile:    diskFile,
		reader:      reader,
		pages:       pages,
		recordCount: diskFile.StorageRecordCount(id),
	}
}

func (s *Storage) blocksPerPage() int { return s.diskFile.BlocksPerPage() }

// usableBlocksPerPage excludes the page's last block, which overlaps the
// checksum trailer page.WriteChecksum writes (see layout.UsableBlocksPerPage).
func (s *Storage) usableBlocksPerPage() int {
	return layout.UsableBlocksPerPage(s.diskFile.PageSize())
}

// GetID returns the storage's id.
func (s *Storage) GetID() int { return s.id }

// GetRecordCount returns the number of live (non-deleted) records.
func (s *Storage) GetRecordCount() int { return s.recordCount }

// SetReader installs the RecordReader used to parse and serialize this
// storage's records.
func (s *Storage) SetReader(r record.Reader) { s.reader = r }

// AddPage records that pageID belongs to this storage, for pages assigned
// outside the normal allocate(n) path (e.g. index chain root pages fixed
// at creation time).
func (s *Storage) AddPage(pageID int) {
	s.pages.Insert(pageID)
	s.diskFile.SetPageOwner(uint32(pageID), s.id)
}

// RemovePage drops pageID from this storage's page set without reclaiming
// it to the global free pool — the caller is taking direct ownership of
// its lifecycle.
func (s *Storage) RemovePage(pageID int) {
	s.pages.Remove(pageID)
}

// AddRecord sizes rec from its Reader, assigns it a position (via
// allocate(n) when pos is layout.AllocatePos, or the caller-supplied range
// otherwise), and installs it into the DiskFile's record cache.
func (s *Storage) AddRecord(session record.Session, rec *record.Record, pos int) error {
	if s.diskFile.ReadOnly() {
		return storeerr.New(storeerr.InvalidParameter, "addRecord", s.diskFile.Path())
	}

	size := 8 + s.reader.SizeOf(rec) // 8 = blockSize + storageId prefix DiskFile writes
	blockCount := (size + layout.BlockSize - 1) / layout.BlockSize

	if pos == layout.AllocatePos {
		p, err := s.allocate(blockCount)
		if err != nil {
			return err
		}
		pos = p
	} else {
		s.ensurePageOwned(pos)
		s.diskFile.MarkUsed(pos, blockCount)
	}

	rec.StorageID = s.id
	rec.Position = pos
	rec.BlockCount = blockCount
	rec.Deleted = false
	rec.Reader = s.reader

	s.recordCount++
	s.diskFile.SetStorageRecordCount(s.id, s.recordCount)
	s.diskFile.PutRecord(rec)
	return nil
}

// ensurePageOwned registers pos's page as belonging to this storage if it
// isn't tracked yet, for callers supplying an explicit position.
func (s *Storage) ensurePageOwned(pos int) {
	pageID := int(s.diskFile.PageOf(pos))
	if !s.pages.Contains(pageID) {
		s.AddPage(pageID)
	}
}

// UpdateRecord re-serializes rec in place. The record's block count must
// not change — a record whose payload grows or shrinks past its current
// block range must be removed and re-added instead.
func (s *Storage) UpdateRecord(session record.Session, rec *record.Record) error {
	if s.diskFile.ReadOnly() {
		return storeerr.New(storeerr.InvalidParameter, "updateRecord", s.diskFile.Path())
	}

	size := 8 + s.reader.SizeOf(rec)
	blockCount := (size + layout.BlockSize - 1) / layout.BlockSize
	if blockCount != rec.BlockCount {
		return storeerr.Internal("updateRecord", "record block count changed; remove and re-add instead")
	}
	rec.Reader = s.reader
	s.diskFile.PutRecord(rec)
	return nil
}

// RemoveRecord marks the record at pos deleted, frees its blocks, and
// evicts it from the cache. Removing an already-deleted record is a
// programmer error.
func (s *Storage) RemoveRecord(session record.Session, pos int) error {
	if s.diskFile.ReadOnly() {
		return storeerr.New(storeerr.InvalidParameter, "removeRecord", s.diskFile.Path())
	}

	s.checkOnePage()

	// A removed record's blocks are already free and its cache entry is
	// gone, so a second remove is detected through the used bitmap.
	if !s.diskFile.IsUsed(pos) {
		return storeerr.Internal("removeRecord", "duplicate delete")
	}

	rec, err := s.diskFile.GetRecord(session, pos, s.reader)
	if err != nil {
		return err
	}
	if rec.Deleted {
		return storeerr.Internal("removeRecord", "duplicate delete")
	}

	rec.Deleted = true
	s.free(rec.Position, rec.BlockCount)
	s.recordCount--
	s.diskFile.SetStorageRecordCount(s.id, s.recordCount)
	s.diskFile.RemoveRecord(pos)
	return nil
}

// GetRecord returns the record at pos, reading it through the DiskFile if
// not already cached.
func (s *Storage) GetRecord(session record.Session, pos int) (*record.Record, error) {
	return s.diskFile.GetRecord(session, pos, s.reader)
}

// GetRecordIfStored returns the record at pos if pos belongs to this
// storage and is currently allocated, or (nil, nil) otherwise.
func (s *Storage) GetRecordIfStored(session record.Session, pos int) (*record.Record, error) {
	if pos < 0 {
		return nil, nil
	}
	pageID := s.diskFile.PageOf(pos)
	if s.diskFile.PageOwner(pageID) != s.id {
		return nil, nil
	}
	if !s.diskFile.IsUsed(pos) {
		return nil, nil
	}
	return s.GetRecord(session, pos)
}

// GetNext returns the position of the next live record after rec (or the
// first live record of the storage, if rec is nil), or -1 if the storage's
// records are exhausted.
func (s *Storage) GetNext(rec *record.Record) int {
	bpp := s.blocksPerPage()
	var pos int
	if rec == nil {
		if s.pages.Len() == 0 {
			return -1
		}
		pos = s.pages.At(0) * bpp
	} else {
		pos = rec.Position + rec.BlockCount
	}

	for {
		pageID := pos / bpp
		if !s.pages.Contains(pageID) {
			next, ok := s.pages.FindNextGE(pageID)
			if !ok {
				return -1
			}
			pos = next * bpp
			continue
		}
		if s.diskFile.IsUsed(pos) {
			return pos
		}
		if s.diskFile.AllZeroInWindow(pos) {
			pos = s.diskFile.NextAligned64(pos)
		} else {
			pos++
		}
	}
}

// Truncate frees every page this storage owns back to the global pool and
// resets it to empty, preserving its id.
func (s *Storage) Truncate(session record.Session) error {
	if s.diskFile.ReadOnly() {
		return storeerr.New(storeerr.InvalidParameter, "truncate", s.diskFile.Path())
	}

	for _, pageID := range append([]int(nil), s.pages.Values()...) {
		if err := s.diskFile.FreePage(uint32(pageID)); err != nil {
			return err
		}
	}
	s.pages = bitset.NewIntArray()
	s.recordCount = 0
	s.diskFile.SetStorageRecordCount(s.id, 0)
	s.freeList = nil
	s.reclaimCursor = 0
	return nil
}

// FlushRecord writes rec back immediately, outside the normal
// eviction/checkpoint path.
func (s *Storage) FlushRecord(rec *record.Record) error {
	return s.diskFile.WriteBack(rec)
}

// allocate implements the free-list-first block allocation policy: reuse a
// same-storage freed range first, then a gap on an already-owned page,
// then claim a fresh page from DiskFile.
func (s *Storage) allocate(n int) (int, error) {
	if n > s.usableBlocksPerPage() {
		return 0, storeerr.New(storeerr.InvalidParameter, "addRecord", s.diskFile.Path())
	}

	for i := 0; i < len(s.freeList); i++ {
		p := s.freeList[i]
		if s.diskFile.IsUsed(p) {
			s.freeList = append(s.freeList[:i], s.freeList[i+1:]...)
			i--
			continue
		}
		if s.isFreeAndMine(p, n) {
			s.freeList = append(s.freeList[:i], s.freeList[i+1:]...)
			s.diskFile.MarkUsed(p, n)
			return p, nil
		}
	}

	bpp := s.blocksPerPage()
	usable := s.usableBlocksPerPage()
	for _, pageID := range s.pages.Values() {
		base := pageID * bpp
		if pos, ok := s.findContiguousFree(base, usable, n); ok {
			s.diskFile.MarkUsed(pos, n)
			return pos, nil
		}
	}

	pageID, err := s.diskFile.AllocatePage(s.id)
	if err != nil {
		return 0, err
	}
	s.pages.Insert(int(pageID))
	pos := int(pageID) * bpp
	s.diskFile.MarkUsed(pos, n)
	return pos, nil
}

// free clears the used bits for [pos, pos+n) and offers pos to the
// per-storage free list if it has room. Entries are never deduplicated or
// compacted; staleness is filtered lazily by allocate.
func (s *Storage) free(pos, n int) {
	s.diskFile.MarkFree(pos, n)
	if len(s.freeList) < layout.FreeListSize(s.diskFile.PageSize()) {
		s.freeList = append(s.freeList, pos)
	}
}

func (s *Storage) isFreeAndMine(pos, n int) bool {
	pageID := s.diskFile.PageOf(pos)
	if s.diskFile.PageOwner(pageID) != s.id {
		return false
	}
	for i := pos; i < pos+n; i++ {
		if s.diskFile.IsUsed(i) {
			return false
		}
	}
	return true
}

func (s *Storage) findContiguousFree(pageStart, bpp, n int) (int, bool) {
	run := 0
	for i := pageStart; i < pageStart+bpp; i++ {
		if s.diskFile.IsUsed(i) {
			run = 0
			continue
		}
		run++
		if run == n {
			return i - n + 1, true
		}
	}
	return 0, false
}

// checkOnePage advances the round-robin reclamation cursor by one page,
// releasing it to the global page pool if it is fully free and still
// owned by this storage. Bounds reclamation work per remove call; a page
// whose last record was just removed lags behind by up to pages.Len()
// further removes before it is actually reclaimed.
func (s *Storage) checkOnePage() {
	n := s.pages.Len()
	if n == 0 {
		return
	}
	if s.reclaimCursor >= n {
		s.reclaimCursor = 0
	}
	pageID := uint32(s.pages.At(s.reclaimCursor))
	s.reclaimCursor++

	if s.diskFile.PageOwner(pageID) != s.id {
		return
	}
	bpp := s.blocksPerPage()
	base := int(pageID) * bpp
	for i := base; i < base+bpp; i++ {
		if s.diskFile.IsUsed(i) {
			return
		}
	}

	s.pages.Remove(int(pageID))
	s.diskFile.FreePage(pageID)
}
