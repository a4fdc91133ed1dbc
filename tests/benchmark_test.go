package tests

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"pagestore/pkg/diskfile"
	"pagestore/pkg/layout"
	"pagestore/pkg/page"
	"pagestore/pkg/record"
	"pagestore/pkg/session"
)

func diskfileOptionsFor(b *testing.B) diskfile.Options {
	b.Helper()
	return diskfile.Options{PageSize: 4096}
}

// benchReader serializes a fixed-width 48-byte row (the callers here put a
// short name string in Payload; the rest is zero padding), the closest
// page-store analogue to the SQLite benchmarks' `bench` table.
type benchReader struct{}

const benchRecordSize = 48

func (benchReader) Read(sess record.Session, p *page.DataPage) (*record.Record, error) {
	data := make([]byte, benchRecordSize)
	copy(data, p.ReadBytes(benchRecordSize))
	return &record.Record{Payload: data}, nil
}

func (benchReader) Write(sess record.Session, p *page.DataPage, rec *record.Record) error {
	buf := make([]byte, benchRecordSize)
	copy(buf, rec.Payload)
	p.WriteBytes(buf)
	return nil
}

func (benchReader) SizeOf(rec *record.Record) int { return benchRecordSize }

// BenchmarkInsert_PageStore benchmarks record insertion throughput for the
// page store, the durability-layer analogue of an uncommitted SQL INSERT.
func BenchmarkInsert_PageStore(b *testing.B) {
	tmpDir := b.TempDir()
	dbPath := filepath.Join(tmpDir, "bench.db")

	db, err := session.Open(dbPath, diskfileOptionsFor(b))
	if err != nil {
		b.Fatalf("session.Open: %v", err)
	}
	defer db.Close()

	sess := db.NewSession("bench")
	sess.CreateStorage(1, benchReader{})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		rec := &record.Record{Payload: []byte(fmt.Sprintf("name%d", i))}
		if err := sess.AddRecord(1, rec, layout.AllocatePos); err != nil {
			b.Fatalf("AddRecord failed at iteration %d: %v", i, err)
		}
	}
}

// BenchmarkInsert_SQLite benchmarks INSERT performance for SQLite.
func BenchmarkInsert_SQLite(b *testing.B) {
	tmpDir := b.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		b.Fatalf("Failed to open SQLite: %v", err)
	}
	defer db.Close()

	_, err = db.Exec("CREATE TABLE bench (id INT PRIMARY KEY, name TEXT, value INT)")
	if err != nil {
		b.Fatalf("CREATE TABLE failed: %v", err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, err := db.Exec(fmt.Sprintf("INSERT INTO bench VALUES (%d, 'name%d', %d)", i, i, i*10))
		if err != nil {
			b.Fatalf("INSERT failed: %v", err)
		}
	}
}

// BenchmarkCheckpointRecovery_PageStore benchmarks the full
// insert-then-checkpoint-then-reopen cycle: the page store's durability
// boundary, compared against SQLite's commit-then-reopen cycle below.
func BenchmarkCheckpointRecovery_PageStore(b *testing.B) {
	tmpDir := b.TempDir()
	dbPath := filepath.Join(tmpDir, "bench.db")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		b.StopTimer()
		os.Remove(dbPath)
		os.Remove(dbPath + ".lock")
		os.Remove(dbPath + ".undolog")
		db, err := session.Open(dbPath, diskfileOptionsFor(b))
		if err != nil {
			b.Fatalf("session.Open: %v", err)
		}
		sess := db.NewSession("bench")
		sess.CreateStorage(1, benchReader{})
		for j := 0; j < 100; j++ {
			rec := &record.Record{Payload: []byte(fmt.Sprintf("name%d", j))}
			if err := sess.AddRecord(1, rec, layout.AllocatePos); err != nil {
				b.Fatalf("AddRecord: %v", err)
			}
		}
		b.StartTimer()

		if err := sess.Checkpoint(); err != nil {
			b.Fatalf("Checkpoint: %v", err)
		}
		db.Close()

		b.StopTimer()
		reopened, err := session.Open(dbPath, diskfileOptionsFor(b))
		if err != nil {
			b.Fatalf("reopen: %v", err)
		}
		reopened.Close()
		b.StartTimer()
	}
}

// BenchmarkCheckpointRecovery_SQLite benchmarks SQLite's equivalent
// commit-then-reopen cycle.
func BenchmarkCheckpointRecovery_SQLite(b *testing.B) {
	tmpDir := b.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		b.StopTimer()
		os.Remove(dbPath)
		db, err := sql.Open("sqlite3", dbPath)
		if err != nil {
			b.Fatalf("sql.Open: %v", err)
		}
		db.Exec("CREATE TABLE bench (id INT PRIMARY KEY, name TEXT, value INT)")
		tx, _ := db.Begin()
		for j := 0; j < 100; j++ {
			tx.Exec(fmt.Sprintf("INSERT INTO bench VALUES (%d, 'name%d', %d)", j, j, j*10))
		}
		b.StartTimer()

		if err := tx.Commit(); err != nil {
			b.Fatalf("Commit: %v", err)
		}
		db.Close()

		b.StopTimer()
		reopened, err := sql.Open("sqlite3", dbPath)
		if err != nil {
			b.Fatalf("reopen: %v", err)
		}
		reopened.Close()
		b.StartTimer()
	}
}

// TestPrintBenchmarkComparison, when RUN_BENCHMARK_COMPARISON=1, logs how to
// run and compare the benchmarks; it runs none of them itself.
func TestPrintBenchmarkComparison(t *testing.T) {
	if os.Getenv("RUN_BENCHMARK_COMPARISON") != "1" {
		t.Skip("Skipping benchmark comparison. Set RUN_BENCHMARK_COMPARISON=1 to run.")
	}

	t.Log("Run benchmarks with: go test -bench=. -benchmem ./tests/")
	t.Log("Compare the page store vs SQLite results")
}
