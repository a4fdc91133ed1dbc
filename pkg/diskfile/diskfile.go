// Package diskfile implements DiskFile, the single physical heap file a
// database opens: page 0's fixed header, the block-used bitmap, the page
// owner table, page allocation and reclamation, and the write-back path a
// record cache calls into when it evicts a dirty record.
//
// DiskFile holds no lock of its own. Per the single coarse monitor
// architecture, every method here is called with the session's database
// lock already held.
package diskfile

import (
	"encoding/binary"
	"sort"

	"pagestore/pkg/bitset"
	"pagestore/pkg/cache"
	"pagestore/pkg/layout"
	"pagestore/pkg/page"
	"pagestore/pkg/pagefreelist"
	"pagestore/pkg/pagelog"
	"pagestore/pkg/record"
	"pagestore/pkg/storeerr"

	"pagestore/pkg/filestore"
)

// systemOwner marks a page as belonging to DiskFile's own bookkeeping (the
// system chain's overflow pages), never to a Storage.
const systemOwner = -2

// reserved page ids fixed at format time: page 0 is the header, 1/2/3 are
// the system/free-list/log roots the header records.
const (
	pageHeader   = 0
	pageSystem   = 1
	pageFreeList = 2
	pageLogRoot  = 3
)

// Options configures Open.
type Options struct {
	PageSize     int
	ReadOnly     bool
	CachePolicy  cache.Policy
	CacheSize    int
	MemoryBudget *cache.MemoryBudget
}

func (o Options) normalize() Options {
	if o.PageSize == 0 {
		o.PageSize = layout.DefaultPageSize
	}
	if o.CacheSize == 0 {
		o.CacheSize = 1000
	}
	return o
}

// DiskFile is the physical page store backing every Storage and the
// session monitor's checkpoint boundary.
type DiskFile struct {
	path     string
	fs       *filestore.FileStore
	log      *pagelog.PageLog
	pageSize int

	writeVersion byte
	readVersion  byte
	readOnly     bool

	systemRootPageID   uint32
	freeListRootPageID uint32
	logRootPageID      uint32

	pageCount     uint32
	lastUsedPage  uint32
	freePageCount uint32

	used                *bitset.BitField
	pageOwners          map[uint32]int32
	storageRecordCounts map[int32]int32
	freeList            *pagefreelist.PageFreeList
	systemChain         []uint32
	corruptionHook      func(error)

	recordCache *cache.Cache
	session     record.Session
}

func logPath(path string) string {
	if path == ":memory:" {
		return ":memory:"
	}
	return path + ".undolog"
}

// Open opens the file at path, creating and formatting it if it doesn't
// exist, replaying any pending undo log, and wiring up the record cache.
func Open(path string, opts Options) (*DiskFile, error) {
	opts = opts.normalize()

	initial := int64(opts.PageSize)
	fs, err := filestore.Open(path, initial)
	if err != nil {
		return nil, err
	}

	raw, err := fs.ReadFully(0, opts.PageSize)
	if err != nil {
		fs.Close()
		return nil, err
	}

	d := &DiskFile{
		path:                path,
		fs:                  fs,
		pageOwners:          make(map[uint32]int32),
		storageRecordCounts: make(map[int32]int32),
	}

	if isZero(raw[:16]) {
		if err := d.format(opts); err != nil {
			fs.Close()
			return nil, err
		}
	} else {
		h, err := DecodeHeader(raw, path)
		if err != nil {
			fs.Close()
			return nil, err
		}
		d.pageSize = int(h.PageSize)
		d.writeVersion = h.WriteVersion
		d.readVersion = h.ReadVersion
		d.readOnly = opts.ReadOnly || h.WriteVersion != 0
		d.systemRootPageID = h.SystemRootPageID
		d.freeListRootPageID = h.FreeListRootPageID
		d.logRootPageID = h.LogRootPageID

		if err := d.loadSystemChain(); err != nil {
			fs.Close()
			return nil, err
		}
		if err := d.loadFreeListPage(); err != nil {
			fs.Close()
			return nil, err
		}
	}

	log, err := pagelog.Open(logPath(path), d.pageSize)
	if err != nil {
		fs.Close()
		return nil, err
	}
	d.log = log

	if log.FrameCount() > 0 {
		if err := d.replayUndoLog(); err != nil {
			fs.Close()
			return nil, err
		}
	}

	d.recordCache = cache.New(opts.CachePolicy, opts.CacheSize, d, opts.MemoryBudget)
	return d, nil
}

func isZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

// format initializes a brand-new file: page 0's header, the system and
// free-list root pages, and INCREMENT_PAGES of preallocated headroom.
func (d *DiskFile) format(opts Options) error {
	d.pageSize = opts.PageSize
	d.readOnly = opts.ReadOnly
	d.systemRootPageID = pageSystem
	d.freeListRootPageID = pageFreeList
	d.logRootPageID = pageLogRoot

	d.pageCount = 4 // pages 0-3: header, system root, free-list root, log root
	d.lastUsedPage = pageLogRoot
	d.freePageCount = 0
	d.used = bitset.NewBitField(0)
	d.freeList = pagefreelist.New()
	d.pageOwners[pageSystem] = systemOwner
	d.pageOwners[pageFreeList] = systemOwner
	d.systemChain = []uint32{pageSystem}

	if err := d.fs.SetLength(int64(d.pageCount) * int64(d.pageSize)); err != nil {
		return err
	}

	newPageCount := d.pageCount + uint32(layout.IncrementPages)
	if err := d.fs.SetLength(int64(newPageCount) * int64(d.pageSize)); err != nil {
		return err
	}
	d.pageCount = newPageCount

	header := &Header{
		PageSize:           uint32(d.pageSize),
		WriteVersion:       0,
		ReadVersion:        0,
		SystemRootPageID:   d.systemRootPageID,
		FreeListRootPageID: d.freeListRootPageID,
		LogRootPageID:      d.logRootPageID,
	}
	buf, err := d.fs.ReadFully(0, d.pageSize)
	if err != nil {
		return err
	}
	header.Encode(buf)
	if err := d.fs.Write(0, buf); err != nil {
		return err
	}

	if err := d.persistSystemChain(); err != nil {
		return err
	}
	if err := d.writeFreeListPage(); err != nil {
		return err
	}
	return d.fs.Sync()
}

func (d *DiskFile) pageOffset(pageID uint32) int64 {
	return int64(pageID) * int64(d.pageSize)
}

// loadSystemChain walks the system chain starting at systemRootPageID,
// rebuilding pageCount/lastUsedPage/freePageCount/used/pageOwners.
func (d *DiskFile) loadSystemChain() error {
	var chunks [][]byte
	var chain []uint32
	pageID := d.systemRootPageID
	for {
		buf, err := d.fs.ReadFully(d.pageOffset(pageID), d.pageSize)
		if err != nil {
			return err
		}
		chunk := make([]byte, len(buf))
		copy(chunk, buf)
		chunks = append(chunks, chunk)
		chain = append(chain, pageID)

		next := binary.BigEndian.Uint32(chunk[0:4])
		if next == 0 {
			break
		}
		pageID = next
	}

	payload := joinChunks(chunks)
	state := decodeSystemState(payload)
	d.pageCount = state.PageCount
	d.lastUsedPage = state.LastUsedPage
	d.freePageCount = state.FreePageCount
	d.used = state.Used
	d.pageOwners = make(map[uint32]int32, len(state.Owners))
	for k, v := range state.Owners {
		d.pageOwners[k] = v
	}
	d.storageRecordCounts = make(map[int32]int32, len(state.RecordCounts))
	for k, v := range state.RecordCounts {
		d.storageRecordCounts[k] = v
	}
	d.systemChain = chain
	return nil
}

func (d *DiskFile) persistSystemChain() error {
	owners := make(map[uint32]int32, len(d.pageOwners))
	for k, v := range d.pageOwners {
		owners[k] = v
	}
	counts := make(map[int32]int32, len(d.storageRecordCounts))
	for k, v := range d.storageRecordCounts {
		counts[k] = v
	}
	payload := encodeSystemState(&systemState{
		PageCount:     d.pageCount,
		LastUsedPage:  d.lastUsedPage,
		FreePageCount: d.freePageCount,
		Used:          d.used,
		Owners:        owners,
		RecordCounts:  counts,
	})
	chunks := chunkPayload(payload, d.pageSize)

	for len(d.systemChain) < len(chunks) {
		id, err := d.allocatePageWithOwner(systemOwner)
		if err != nil {
			return err
		}
		d.systemChain = append(d.systemChain, id)
	}
	chain := d.systemChain[:len(chunks)]

	for i, chunk := range chunks {
		var next uint32
		if i+1 < len(chunks) {
			next = chain[i+1]
		}
		binary.BigEndian.PutUint32(chunk[0:4], next)
		if err := d.fs.Write(d.pageOffset(chain[i]), chunk); err != nil {
			return err
		}
	}
	return nil
}

func (d *DiskFile) loadFreeListPage() error {
	buf, err := d.fs.ReadFully(d.pageOffset(d.freeListRootPageID), d.pageSize)
	if err != nil {
		return err
	}
	chunk := make([]byte, len(buf))
	copy(chunk, buf)
	d.freeList = pagefreelist.DecodeChunks([][]byte{chunk}, 4)
	return nil
}

func (d *DiskFile) writeFreeListPage() error {
	chunks := d.freeList.EncodeChunks(d.pageSize, 4)
	if len(chunks) > 1 {
		return storeerr.Internal("checkpoint", "free list exceeds single page capacity")
	}
	return d.fs.Write(d.pageOffset(d.freeListRootPageID), chunks[0])
}

func (d *DiskFile) replayUndoLog() error {
	if err := d.log.ReplayBackward(func(pageNo uint32, oldImage []byte) error {
		return d.fs.Write(d.pageOffset(pageNo), oldImage)
	}); err != nil {
		return err
	}
	return d.log.Reopen()
}

// AttachSession stashes the Session a write-back-triggered serialization
// must hand to the record's Reader, since cache.Writer's signature carries
// none. Called once, right after the owning session.Database is built.
func (d *DiskFile) AttachSession(s record.Session) {
	d.session = s
}

// OnCorruption installs a hook invoked whenever GetRecord detects a
// corrupted page (bad checksum or out-of-range page id), mirroring the
// CorruptionChecker callback the teacher's pager exposes. It never changes
// GetRecord's return value; it exists purely so a host can log or alert.
func (d *DiskFile) OnCorruption(hook func(error)) {
	d.corruptionHook = hook
}

func (d *DiskFile) reportCorruption(err error) {
	if d.corruptionHook != nil {
		d.corruptionHook(err)
	}
}

// PageSize returns the page size this file was opened (or formatted) with.
func (d *DiskFile) PageSize() int { return d.pageSize }

// BlocksPerPage returns how many fixed-size blocks fit in one page.
func (d *DiskFile) BlocksPerPage() int { return layout.BlocksPerPage(d.pageSize) }

// PageOf returns the page id containing block position pos.
func (d *DiskFile) PageOf(pos int) uint32 { return uint32(pos / d.BlocksPerPage()) }

// OffsetInPage returns the byte offset within a page of block position pos.
func (d *DiskFile) OffsetInPage(pos int) int {
	return (pos % d.BlocksPerPage()) * layout.BlockSize
}

// ReadOnly reports whether the file was opened (or downgraded, because its
// writeVersion exceeds what this build understands) read-only.
func (d *DiskFile) ReadOnly() bool { return d.readOnly }

// Path returns the path this file was opened with, or ":memory:".
func (d *DiskFile) Path() string { return d.path }

// Stats is a point-in-time snapshot of bookkeeping state, for inspection
// tooling.
type Stats struct {
	PageSize      int
	PageCount     uint32
	LastUsedPage  uint32
	FreePageCount uint32
	UsedBlocks    int
	StorageCount  int
}

// Stats returns a snapshot of the file's current bookkeeping state.
func (d *DiskFile) Stats() Stats {
	storageIDs := make(map[int]struct{})
	for _, owner := range d.pageOwners {
		if owner != systemOwner {
			storageIDs[int(owner)] = struct{}{}
		}
	}
	return Stats{
		PageSize:      d.pageSize,
		PageCount:     d.pageCount,
		LastUsedPage:  d.lastUsedPage,
		FreePageCount: d.freePageCount,
		UsedBlocks:    d.used.Count(),
		StorageCount:  len(storageIDs),
	}
}

// IsUsed reports whether block position pos is currently allocated.
func (d *DiskFile) IsUsed(pos int) bool { return d.used.Get(pos) }

// MarkUsed marks n consecutive block positions starting at pos allocated.
func (d *DiskFile) MarkUsed(pos, n int) {
	for i := pos; i < pos+n; i++ {
		d.used.Set(i)
	}
}

// MarkFree marks n consecutive block positions starting at pos free.
func (d *DiskFile) MarkFree(pos, n int) {
	for i := pos; i < pos+n; i++ {
		d.used.Clear(i)
	}
}

// Window64 returns the 64-bit-aligned word of the used bitmap containing
// block position pos, for getNext's fast-skip.
func (d *DiskFile) Window64(pos int) uint64 { return d.used.Window64(pos) }

// AllZeroInWindow reports whether the 64-bit-aligned window containing pos
// is entirely free.
func (d *DiskFile) AllZeroInWindow(pos int) bool { return d.used.AllZeroInWindow(pos) }

// NextAligned64 rounds pos up to the start of the next 64-bit window.
func (d *DiskFile) NextAligned64(pos int) int { return bitset.NextAligned64(pos) }

// PageOwner returns the storage id that owns pageID, or -1 if the page is
// unowned (free, or owned by DiskFile's own bookkeeping).
func (d *DiskFile) PageOwner(pageID uint32) int {
	if v, ok := d.pageOwners[pageID]; ok && v != systemOwner {
		return int(v)
	}
	return -1
}

// PagesOwnedBy returns every page id currently owned by storageID, in
// ascending order. Storage uses this on open to reconstruct its page set
// from the durable owner table, since Storage itself keeps no persisted
// state of its own.
func (d *DiskFile) PagesOwnedBy(storageID int) []uint32 {
	var pages []uint32
	for pageID, owner := range d.pageOwners {
		if owner == int32(storageID) {
			pages = append(pages, pageID)
		}
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i] < pages[j] })
	return pages
}

// SetPageOwner records that pageID belongs to storageID.
func (d *DiskFile) SetPageOwner(pageID uint32, storageID int) {
	d.pageOwners[pageID] = int32(storageID)
}

// StorageRecordCount returns the last persisted live record count for
// storageID, or 0 if none has ever been recorded.
func (d *DiskFile) StorageRecordCount(storageID int) int {
	return int(d.storageRecordCounts[int32(storageID)])
}

// SetStorageRecordCount persists storageID's current live record count so
// Storage.New can restore GetRecordCount() on reopen. Storage calls this
// whenever its count changes; the value only reaches disk at the next
// Checkpoint, same as every other system-chain field.
func (d *DiskFile) SetStorageRecordCount(storageID int, count int) {
	if count == 0 {
		delete(d.storageRecordCounts, int32(storageID))
		return
	}
	d.storageRecordCounts[int32(storageID)] = int32(count)
}

// AllocatePage claims a wholly fresh page for storageID: first from
// preallocated headroom, then from the page free list, then by growing the
// file by IncrementPages.
func (d *DiskFile) AllocatePage(storageID int) (uint32, error) {
	return d.allocatePageWithOwner(int32(storageID))
}

func (d *DiskFile) allocatePageWithOwner(owner int32) (uint32, error) {
	if d.lastUsedPage+1 < d.pageCount {
		d.lastUsedPage++
		d.pageOwners[d.lastUsedPage] = owner
		return d.lastUsedPage, nil
	}
	if id, ok := d.freeList.Allocate(); ok {
		if d.freePageCount > 0 {
			d.freePageCount--
		}
		d.pageOwners[id] = owner
		return id, nil
	}

	newPageCount := d.pageCount + uint32(layout.IncrementPages)
	if err := d.fs.SetLength(int64(newPageCount) * int64(d.pageSize)); err != nil {
		return 0, err
	}
	d.pageCount = newPageCount
	d.lastUsedPage++
	d.pageOwners[d.lastUsedPage] = owner
	return d.lastUsedPage, nil
}

// FreePage releases pageID back to the page free list and clears its
// cached records and owner.
func (d *DiskFile) FreePage(pageID uint32) error {
	d.freeList.MarkFree(pageID)
	d.freePageCount++
	delete(d.pageOwners, pageID)

	bpp := d.BlocksPerPage()
	base := int(pageID) * bpp
	for i := 0; i < bpp; i++ {
		d.recordCache.Remove(base + i)
	}
	return nil
}

// GetRecord returns the record at block position pos, parsing it from disk
// through reader if it isn't already cached.
func (d *DiskFile) GetRecord(session record.Session, pos int, reader record.Reader) (*record.Record, error) {
	if rec, ok := d.recordCache.Find(pos); ok {
		return rec, nil
	}

	pageID := d.PageOf(pos)
	if pageID >= d.pageCount {
		err := storeerr.New(storeerr.FileCorrupted, "getRecord", d.path)
		d.reportCorruption(err)
		return nil, err
	}
	buf, err := d.fs.ReadFully(d.pageOffset(pageID), d.pageSize)
	if err != nil {
		return nil, err
	}
	p := page.WithData(pageID, buf)
	if !p.VerifyChecksum() {
		err := storeerr.New(storeerr.FileCorrupted, "getRecord", d.path)
		d.reportCorruption(err)
		return nil, err
	}

	p.Reset(d.OffsetInPage(pos))
	blockCount := int(p.ReadInt32())
	storageID := int(p.ReadInt32())

	rec, err := reader.Read(session, p)
	if err != nil {
		return nil, err
	}
	rec.Position = pos
	rec.BlockCount = blockCount
	rec.StorageID = storageID
	rec.Reader = reader
	rec.Changed = false

	d.recordCache.Update(pos, rec)
	return rec, nil
}

// PutRecord installs rec (freshly allocated or just mutated) into the
// cache, marked dirty so it reaches disk at the next eviction or
// checkpoint.
func (d *DiskFile) PutRecord(rec *record.Record) {
	rec.Changed = true
	d.recordCache.Update(rec.Position, rec)
}

// RemoveRecord drops pos from the cache without writing it back — the
// caller (a remove, or a free-page reclaim) has already decided its bytes
// no longer matter.
func (d *DiskFile) RemoveRecord(pos int) {
	d.recordCache.Remove(pos)
}

// WriteBack serializes rec into its page and writes the page to disk,
// logging the page's pre-mutation image first. It implements
// cache.Writer, called both by the cache's own eviction and explicitly by
// Checkpoint.
func (d *DiskFile) WriteBack(rec *record.Record) error {
	pageID := d.PageOf(rec.Position)
	buf, err := d.fs.ReadFully(d.pageOffset(pageID), d.pageSize)
	if err != nil {
		return err
	}

	oldImage := make([]byte, len(buf))
	copy(oldImage, buf)
	if err := d.log.AddUndo(pageID, oldImage); err != nil {
		return err
	}

	p := page.WithData(pageID, buf)
	p.Reset(d.OffsetInPage(rec.Position))
	p.WriteInt32(int32(rec.BlockCount))
	p.WriteInt32(int32(rec.StorageID))
	if err := rec.Reader.Write(d.session, p, rec); err != nil {
		return err
	}
	p.WriteChecksum()

	if err := d.fs.Write(d.pageOffset(pageID), buf); err != nil {
		return err
	}
	rec.Changed = false
	return nil
}

// Checkpoint flushes every dirty cached record, persists the system and
// free-list bookkeeping pages, fsyncs, and rotates the undo log. This is
// the durability boundary: anything that reaches disk before the fsync
// survives a crash, and the undo log discarded by Reopen is no longer
// needed because every page it covered is now durably in place.
//
// Unlike a file that truncates to its last used page, this file is left at
// its full preallocated length: pageCount tracks the file's physical
// length and lastUsedPage tracks the high-water mark separately, so the
// IncrementPages headroom AllocatePage hands out between checkpoints
// remains valid without a SetLength call on every checkpoint.
func (d *DiskFile) Checkpoint() error {
	for _, rec := range d.recordCache.GetAllChanged() {
		if err := d.WriteBack(rec); err != nil {
			return err
		}
	}
	if err := d.persistSystemChain(); err != nil {
		return err
	}
	if err := d.writeFreeListPage(); err != nil {
		return err
	}
	if err := d.fs.Sync(); err != nil {
		return err
	}
	return d.log.Reopen()
}

// Close checkpoints and releases the underlying file handles.
func (d *DiskFile) Close() error {
	if err := d.Checkpoint(); err != nil {
		return err
	}
	if err := d.log.Close(); err != nil {
		return err
	}
	return d.fs.Close()
}
