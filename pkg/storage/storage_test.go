package storage

import (
	"path/filepath"
	"testing"

	"pagestore/pkg/diskfile"
	"pagestore/pkg/layout"
	"pagestore/pkg/page"
	"pagestore/pkg/record"
	"pagestore/pkg/storeerr"
)

type fakeSession struct{ id int }

func (s *fakeSession) GetDatabase() interface{}     { return nil }
func (s *fakeSession) GetUser() string              { return "test" }
func (s *fakeSession) GetRandom() int64              { return 0 }
func (s *fakeSession) GetCurrentCommand() string    { return "" }
func (s *fakeSession) GetLastIdentity() int64       { return 0 }
func (s *fakeSession) GetLockTimeout() int          { return 0 }
func (s *fakeSession) GetAutoCommit() bool          { return true }
func (s *fakeSession) GetCurrentSchemaName() string { return "" }
func (s *fakeSession) GetID() int                   { return s.id }
func (s *fakeSession) CreateConnection() (record.Session, error) {
	return &fakeSession{id: s.id + 1}, nil
}

// fixedReader serializes a fixed-length payload, so every record this test
// adds occupies the same block count.
type fixedReader struct{ payloadLen int }

func (r fixedReader) Read(session record.Session, p *page.DataPage) (*record.Record, error) {
	data := make([]byte, r.payloadLen)
	copy(data, p.ReadBytes(r.payloadLen))
	return &record.Record{Payload: data}, nil
}

func (r fixedReader) Write(session record.Session, p *page.DataPage, rec *record.Record) error {
	buf := make([]byte, r.payloadLen)
	copy(buf, rec.Payload)
	p.WriteBytes(buf)
	return nil
}

func (r fixedReader) SizeOf(rec *record.Record) int { return r.payloadLen }

func newTestStorage(t *testing.T, id int) (*Storage, *diskfile.DiskFile, record.Session) {
	t.Helper()
	dir := t.TempDir()
	d, err := diskfile.Open(filepath.Join(dir, "store.db"), diskfile.Options{PageSize: 1024})
	if err != nil {
		t.Fatalf("diskfile.Open: %v", err)
	}
	sess := &fakeSession{id: 1}
	d.AttachSession(sess)
	t.Cleanup(func() { d.Close() })

	s := New(id, d, fixedReader{payloadLen: 50})
	return s, d, sess
}

func TestAddRecordAndGetRecordRoundtrip(t *testing.T) {
	s, _, sess := newTestStorage(t, 7)

	rec := &record.Record{Payload: []byte("0123456789012345678901234567890123456789012345678")[:50]}
	if err := s.AddRecord(sess, rec, layout.AllocatePos); err != nil {
		t.Fatalf("AddRecord: %v", err)
	}
	if rec.StorageID != 7 {
		t.Errorf("expected storage id 7, got %d", rec.StorageID)
	}
	if s.GetRecordCount() != 1 {
		t.Errorf("expected record count 1, got %d", s.GetRecordCount())
	}

	got, err := s.GetRecord(sess, rec.Position)
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if string(got.Payload) != string(rec.Payload) {
		t.Errorf("payload mismatch: got %q want %q", got.Payload, rec.Payload)
	}
}

func TestAddHundredRecordsAllOwnedByStorage(t *testing.T) {
	s, d, sess := newTestStorage(t, 7)

	positions := make([]int, 0, 100)
	for i := 0; i < 100; i++ {
		rec := &record.Record{Payload: make([]byte, 50)}
		if err := s.AddRecord(sess, rec, layout.AllocatePos); err != nil {
			t.Fatalf("AddRecord %d: %v", i, err)
		}
		positions = append(positions, rec.Position)
	}
	if s.GetRecordCount() != 100 {
		t.Fatalf("expected 100 records, got %d", s.GetRecordCount())
	}
	for _, pageID := range s.pages.Values() {
		if d.PageOwner(uint32(pageID)) != 7 {
			t.Errorf("page %d not owned by storage 7", pageID)
		}
	}
	for _, pos := range positions {
		if !d.IsUsed(pos) {
			t.Errorf("position %d expected used", pos)
		}
	}
}

func TestRemoveRecordFreesBlocksAndReuseViaFreeList(t *testing.T) {
	s, d, sess := newTestStorage(t, 1)

	var positions []int
	for i := 0; i < 10; i++ {
		rec := &record.Record{Payload: make([]byte, 50)}
		if err := s.AddRecord(sess, rec, layout.AllocatePos); err != nil {
			t.Fatalf("AddRecord: %v", err)
		}
		positions = append(positions, rec.Position)
	}

	for i := 0; i < len(positions); i += 2 {
		if err := s.RemoveRecord(sess, positions[i]); err != nil {
			t.Fatalf("RemoveRecord: %v", err)
		}
	}
	if s.GetRecordCount() != 5 {
		t.Fatalf("expected 5 remaining records, got %d", s.GetRecordCount())
	}
	for i := 0; i < len(positions); i += 2 {
		if d.IsUsed(positions[i]) {
			t.Errorf("position %d expected free after remove", positions[i])
		}
	}

	reused := 0
	for i := 0; i < 5; i++ {
		rec := &record.Record{Payload: make([]byte, 50)}
		if err := s.AddRecord(sess, rec, layout.AllocatePos); err != nil {
			t.Fatalf("AddRecord (reuse): %v", err)
		}
		for j := 0; j < len(positions); j += 2 {
			if rec.Position == positions[j] {
				reused++
			}
		}
	}
	if reused == 0 {
		t.Error("expected at least one freed position to be reused")
	}
}

func TestRemoveRecordTwiceIsProgrammerError(t *testing.T) {
	s, _, sess := newTestStorage(t, 1)

	rec := &record.Record{Payload: make([]byte, 50)}
	if err := s.AddRecord(sess, rec, layout.AllocatePos); err != nil {
		t.Fatalf("AddRecord: %v", err)
	}
	if err := s.RemoveRecord(sess, rec.Position); err != nil {
		t.Fatalf("RemoveRecord: %v", err)
	}
	if err := s.RemoveRecord(sess, rec.Position); err == nil {
		t.Error("expected duplicate delete to return an error")
	}
}

func TestGetNextEnumeratesLiveRecordsInOrder(t *testing.T) {
	s, _, sess := newTestStorage(t, 1)

	var positions []int
	for i := 0; i < 20; i++ {
		rec := &record.Record{Payload: make([]byte, 50)}
		if err := s.AddRecord(sess, rec, layout.AllocatePos); err != nil {
			t.Fatalf("AddRecord: %v", err)
		}
		positions = append(positions, rec.Position)
	}
	for i := 0; i < len(positions); i += 3 {
		if err := s.RemoveRecord(sess, positions[i]); err != nil {
			t.Fatalf("RemoveRecord: %v", err)
		}
	}

	var seen []int
	var cur *record.Record
	for {
		pos := s.GetNext(cur)
		if pos == -1 {
			break
		}
		rec, err := s.GetRecord(sess, pos)
		if err != nil {
			t.Fatalf("GetRecord: %v", err)
		}
		seen = append(seen, pos)
		cur = rec
		cur.Position = pos
	}

	expected := s.GetRecordCount()
	if len(seen) != expected {
		t.Fatalf("expected %d live records, saw %d", expected, len(seen))
	}
	for i := 1; i < len(seen); i++ {
		if seen[i] <= seen[i-1] {
			t.Errorf("expected strictly ascending positions, got %v", seen)
		}
	}
}

func TestTwoStoragesNeverShareBlocks(t *testing.T) {
	dir := t.TempDir()
	d, err := diskfile.Open(filepath.Join(dir, "store.db"), diskfile.Options{PageSize: 1024})
	if err != nil {
		t.Fatalf("diskfile.Open: %v", err)
	}
	sess := &fakeSession{id: 1}
	d.AttachSession(sess)
	defer d.Close()

	s1 := New(1, d, fixedReader{payloadLen: 50})
	s2 := New(2, d, fixedReader{payloadLen: 50})

	for i := 0; i < 50; i++ {
		r1 := &record.Record{Payload: make([]byte, 50)}
		if err := s1.AddRecord(sess, r1, layout.AllocatePos); err != nil {
			t.Fatalf("s1.AddRecord: %v", err)
		}
		r2 := &record.Record{Payload: make([]byte, 50)}
		if err := s2.AddRecord(sess, r2, layout.AllocatePos); err != nil {
			t.Fatalf("s2.AddRecord: %v", err)
		}
	}

	for _, pageID := range s1.pages.Values() {
		if d.PageOwner(uint32(pageID)) != 1 {
			t.Errorf("page %d owned by s1 should report owner 1, got %d", pageID, d.PageOwner(uint32(pageID)))
		}
	}
	for _, pageID := range s2.pages.Values() {
		if d.PageOwner(uint32(pageID)) != 2 {
			t.Errorf("page %d owned by s2 should report owner 2, got %d", pageID, d.PageOwner(uint32(pageID)))
		}
	}

	var cur *record.Record
	count := 0
	for {
		pos := s1.GetNext(cur)
		if pos == -1 {
			break
		}
		rec, err := s1.GetRecord(sess, pos)
		if err != nil {
			t.Fatalf("GetRecord: %v", err)
		}
		if rec.StorageID != 1 {
			t.Errorf("s1.GetNext returned a record owned by storage %d", rec.StorageID)
		}
		rec.Position = pos
		cur = rec
		count++
	}
	if count != 50 {
		t.Errorf("expected s1 to enumerate 50 records, got %d", count)
	}
}

func TestTruncateFreesAllPages(t *testing.T) {
	s, d, sess := newTestStorage(t, 7)

	for i := 0; i < 30; i++ {
		rec := &record.Record{Payload: make([]byte, 50)}
		if err := s.AddRecord(sess, rec, layout.AllocatePos); err != nil {
			t.Fatalf("AddRecord: %v", err)
		}
	}
	pages := append([]int(nil), s.pages.Values()...)
	if len(pages) == 0 {
		t.Fatal("expected storage to own at least one page")
	}

	if err := s.Truncate(sess); err != nil {
		t.Fatalf("Truncate: %v", err)
	}
	if s.GetRecordCount() != 0 {
		t.Errorf("expected record count 0 after truncate, got %d", s.GetRecordCount())
	}
	if s.pages.Len() != 0 {
		t.Errorf("expected empty page list after truncate, got %v", s.pages.Values())
	}
	for _, pageID := range pages {
		if d.PageOwner(uint32(pageID)) != -1 {
			t.Errorf("page %d expected unowned after truncate, got owner %d", pageID, d.PageOwner(uint32(pageID)))
		}
	}
}

func TestStorageSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "store.db")
	reader := fixedReader{payloadLen: 50}

	d, err := diskfile.Open(path, diskfile.Options{PageSize: 1024})
	if err != nil {
		t.Fatalf("diskfile.Open: %v", err)
	}
	sess := &fakeSession{id: 1}
	d.AttachSession(sess)

	s := New(2, d, reader)
	var positions []int
	for i := 0; i < 80; i++ {
		rec := &record.Record{Payload: make([]byte, 50)}
		if err := s.AddRecord(sess, rec, layout.AllocatePos); err != nil {
			t.Fatalf("AddRecord %d: %v", i, err)
		}
		positions = append(positions, rec.Position)
	}
	for i := 0; i < len(positions); i += 4 {
		if err := s.RemoveRecord(sess, positions[i]); err != nil {
			t.Fatalf("RemoveRecord: %v", err)
		}
	}
	want := s.GetRecordCount()

	if err := d.Checkpoint(); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := diskfile.Open(path, diskfile.Options{PageSize: 1024})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	reopened.AttachSession(sess)

	s2 := New(2, reopened, reader)
	if s2.GetRecordCount() != want {
		t.Fatalf("expected record count %d to survive reopen, got %d", want, s2.GetRecordCount())
	}

	count := 0
	var cur *record.Record
	for {
		pos := s2.GetNext(cur)
		if pos == -1 {
			break
		}
		rec, err := s2.GetRecord(sess, pos)
		if err != nil {
			t.Fatalf("GetRecord after reopen: %v", err)
		}
		rec.Position = pos
		cur = rec
		count++
	}
	if count != want {
		t.Fatalf("expected GetNext to enumerate %d records after reopen, got %d", want, count)
	}
}

func TestReadOnlyOpenRejectsMutationButAllowsRead(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "store.db")
	reader := fixedReader{payloadLen: 50}

	d, err := diskfile.Open(path, diskfile.Options{PageSize: 1024})
	if err != nil {
		t.Fatalf("diskfile.Open: %v", err)
	}
	sess := &fakeSession{id: 1}
	d.AttachSession(sess)

	s := New(3, d, reader)
	rec := &record.Record{Payload: make([]byte, 50)}
	if err := s.AddRecord(sess, rec, layout.AllocatePos); err != nil {
		t.Fatalf("AddRecord: %v", err)
	}
	if err := d.Checkpoint(); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	ro, err := diskfile.Open(path, diskfile.Options{PageSize: 1024, ReadOnly: true})
	if err != nil {
		t.Fatalf("reopen read-only: %v", err)
	}
	defer ro.Close()
	ro.AttachSession(sess)

	roStorage := New(3, ro, reader)

	newRec := &record.Record{Payload: make([]byte, 50)}
	if err := roStorage.AddRecord(sess, newRec, layout.AllocatePos); err == nil {
		t.Error("expected addRecord to fail against a read-only store")
	} else if !storeerr.Is(err, storeerr.InvalidParameter) {
		t.Errorf("expected InvalidParameter, got %v", err)
	}

	got, err := roStorage.GetRecord(sess, rec.Position)
	if err != nil {
		t.Fatalf("expected getRecord to still succeed against a read-only store: %v", err)
	}
	if string(got.Payload) != string(rec.Payload) {
		t.Errorf("payload mismatch after read-only reopen: got %q want %q", got.Payload, rec.Payload)
	}

	if err := roStorage.RemoveRecord(sess, rec.Position); err == nil {
		t.Error("expected removeRecord to fail against a read-only store")
	} else if !storeerr.Is(err, storeerr.InvalidParameter) {
		t.Errorf("expected InvalidParameter, got %v", err)
	}
}
