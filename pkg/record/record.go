// Package record defines the Record the core moves around, the Session
// contract external collaborators are consumed through, and the
// RecordReader strategy a Storage uses to parse one.
//
// The core treats a Record as opaque beyond its header fields — position,
// block count, storage id, deleted/changed flags — plus a serializer handle
// it never inspects. Payload shape (row of typed columns, index entry, LOB
// chunk) is entirely the RecordReader's business.
package record

import "pagestore/pkg/page"

// Record is a logical item persisted as one contiguous block range within
// a single page: ⟨blockCount/storageId header, opaque payload, padding⟩.
// There is no per-record checksum; the page's CRC32 trailer covers it.
type Record struct {
	Position   int    // first block index
	BlockCount int    // number of BLOCK_SIZE blocks occupied
	StorageID  int    // owning storage's id
	Deleted    bool   // true once removed; the position may be reused
	Changed    bool   // true if not yet written back by the cache
	Payload    []byte // reader-owned bytes; opaque to the core
	Reader     Reader // the serializer that produced/will write this record
}

// SizeBytes returns the payload length a RecordReader reported for this
// record, independent of block rounding.
func (r *Record) SizeBytes() int { return len(r.Payload) }

// Reader is the per-storage strategy for parsing a Record from a DataPage
// and for serializing one back into a DataPage at write-back time. It is
// the sole source of type knowledge: the core never interprets Payload.
type Reader interface {
	// Read parses a Record starting at the current cursor of p, which
	// DiskFile has already positioned just past the record's
	// blockSize/storageId prefix. DiskFile does not compare that prefix
	// against any expected value before calling Read.
	Read(session Session, p *page.DataPage) (*Record, error)

	// Write serializes rec's payload into p at the current cursor, after
	// the core has written the shared blockSize/storageId prefix.
	Write(session Session, p *page.DataPage, rec *Record) error

	// SizeOf reports the payload length addRecord should size the block
	// range for, before the record has been assigned a position.
	SizeOf(rec *Record) int
}

// Session is the external interface the core consumes from its host.
// Only GetDatabase (to reach the monitor) and the identity/admin accessors
// are used directly by Storage/DiskFile; the rest exists so one contract
// can be threaded down into RecordReader implementations that need it.
type Session interface {
	GetDatabase() interface{}
	GetUser() string
	GetRandom() int64
	GetCurrentCommand() string
	GetLastIdentity() int64
	GetLockTimeout() int
	GetAutoCommit() bool
	GetCurrentSchemaName() string
	GetID() int
	CreateConnection() (Session, error)
}
