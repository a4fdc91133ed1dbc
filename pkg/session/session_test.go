package session

import (
	"path/filepath"
	"testing"

	"pagestore/pkg/diskfile"
	"pagestore/pkg/layout"
	"pagestore/pkg/page"
	"pagestore/pkg/record"
	"pagestore/pkg/storeerr"
)

// fixedReader serializes a fixed-length payload.
type fixedReader struct{ payloadLen int }

func (r fixedReader) Read(sess record.Session, p *page.DataPage) (*record.Record, error) {
	data := make([]byte, r.payloadLen)
	copy(data, p.ReadBytes(r.payloadLen))
	return &record.Record{Payload: data}, nil
}

func (r fixedReader) Write(sess record.Session, p *page.DataPage, rec *record.Record) error {
	buf := make([]byte, r.payloadLen)
	copy(buf, rec.Payload)
	p.WriteBytes(buf)
	return nil
}

func (r fixedReader) SizeOf(rec *record.Record) int { return r.payloadLen }

func TestOpenAcquiresExclusiveLockAndClosingReleasesIt(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "store.db")

	db, err := Open(path, diskfile.Options{PageSize: 512})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if _, err := Open(path, diskfile.Options{PageSize: 512}); err != ErrDatabaseLocked {
		t.Fatalf("expected ErrDatabaseLocked from concurrent Open, got %v", err)
	}

	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db2, err := Open(path, diskfile.Options{PageSize: 512})
	if err != nil {
		t.Fatalf("Open after Close should succeed, got %v", err)
	}
	db2.Close()
}

func TestSessionAddRecordAndGetRecordRoundtrip(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(filepath.Join(dir, "store.db"), diskfile.Options{PageSize: 1024})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	sess := db.NewSession("alice")
	sess.CreateStorage(1, fixedReader{payloadLen: 40})

	rec := &record.Record{Payload: make([]byte, 40)}
	if err := sess.AddRecord(1, rec, layout.AllocatePos); err != nil {
		t.Fatalf("AddRecord: %v", err)
	}

	got, err := sess.GetRecord(1, rec.Position)
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if len(got.Payload) != 40 {
		t.Errorf("expected payload length 40, got %d", len(got.Payload))
	}
}

func TestSessionOperationOnUnknownStorageIsInternalError(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(filepath.Join(dir, "store.db"), diskfile.Options{PageSize: 512})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	sess := db.NewSession("bob")
	if _, err := sess.GetRecord(99, 0); err == nil {
		t.Error("expected error referencing an unregistered storage id")
	} else if !storeerr.Is(err, storeerr.InternalError) {
		t.Errorf("expected InternalError, got %v", err)
	}
}

func TestCreateConnectionInheritsUserAndSchema(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(filepath.Join(dir, "store.db"), diskfile.Options{PageSize: 512})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	sess := db.NewSession("carol")
	sess.SetCurrentSchemaName("main")

	connIface, err := sess.CreateConnection()
	if err != nil {
		t.Fatalf("CreateConnection: %v", err)
	}
	conn := connIface.(*Session)
	if conn.GetUser() != "carol" {
		t.Errorf("expected inherited user carol, got %q", conn.GetUser())
	}
	if conn.GetCurrentSchemaName() != "main" {
		t.Errorf("expected inherited schema main, got %q", conn.GetCurrentSchemaName())
	}
	if conn.GetID() == sess.GetID() {
		t.Error("expected CreateConnection to assign a distinct session id")
	}
}

func TestMemoryDatabaseSkipsFileLock(t *testing.T) {
	db, err := Open(":memory:", diskfile.Options{PageSize: 512})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	db2, err := Open(":memory:", diskfile.Options{PageSize: 512})
	if err != nil {
		t.Fatalf("second in-memory Open should not be blocked by a file lock: %v", err)
	}
	db2.Close()
}

func TestCheckpointAndTruncateThroughSession(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(filepath.Join(dir, "store.db"), diskfile.Options{PageSize: 1024})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	sess := db.NewSession("dave")
	sess.CreateStorage(1, fixedReader{payloadLen: 20})

	for i := 0; i < 5; i++ {
		rec := &record.Record{Payload: make([]byte, 20)}
		if err := sess.AddRecord(1, rec, layout.AllocatePos); err != nil {
			t.Fatalf("AddRecord: %v", err)
		}
	}
	if err := sess.Checkpoint(); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	if err := sess.Truncate(1); err != nil {
		t.Fatalf("Truncate: %v", err)
	}
	if n, _ := sess.GetNext(1, nil); n != -1 {
		t.Errorf("expected empty storage after truncate, got next position %d", n)
	}
}
