package record

import (
	"testing"

	"pagestore/pkg/page"
)

// fakeSession is the minimal Session a reader test needs.
type fakeSession struct{ db interface{} }

func (s *fakeSession) GetDatabase() interface{}            { return s.db }
func (s *fakeSession) GetUser() string                     { return "test" }
func (s *fakeSession) GetRandom() int64                    { return 0 }
func (s *fakeSession) GetCurrentCommand() string           { return "" }
func (s *fakeSession) GetLastIdentity() int64              { return 0 }
func (s *fakeSession) GetLockTimeout() int                 { return 0 }
func (s *fakeSession) GetAutoCommit() bool                 { return true }
func (s *fakeSession) GetCurrentSchemaName() string        { return "" }
func (s *fakeSession) GetID() int                          { return 1 }
func (s *fakeSession) CreateConnection() (Session, error)  { return s, nil }

// blobReader is a trivial Reader: payload is a fixed-length opaque blob,
// prefixed with nothing beyond what DiskFile itself writes.
type blobReader struct{}

func (blobReader) SizeOf(rec *Record) int { return len(rec.Payload) }

func (blobReader) Write(session Session, p *page.DataPage, rec *Record) error {
	p.WriteBytes(rec.Payload)
	return nil
}

func (blobReader) Read(session Session, p *page.DataPage) (*Record, error) {
	return &Record{Payload: p.ReadBytes(p.Len() - p.Position())}, nil
}

func TestRecordSizeBytes(t *testing.T) {
	r := &Record{Payload: []byte("hello")}
	if got := r.SizeBytes(); got != 5 {
		t.Errorf("expected 5, got %d", got)
	}
}

func TestReaderWriteReadRoundtrip(t *testing.T) {
	reader := blobReader{}
	sess := &fakeSession{}

	p := page.New(1, 64)
	rec := &Record{Payload: []byte("payload bytes"), Reader: reader}

	p.Reset(0)
	if err := reader.Write(sess, p, rec); err != nil {
		t.Fatalf("Write: %v", err)
	}

	p.Reset(0)
	got, err := reader.Read(sess, p)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got.Payload[:len(rec.Payload)]) != string(rec.Payload) {
		t.Errorf("expected %q, got %q", rec.Payload, got.Payload[:len(rec.Payload)])
	}
}
