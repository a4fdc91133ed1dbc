// Package pagelog implements the undo log a DiskFile writes pre-mutation
// page images into before overwriting a page in place.
//
// # LOG FILE FORMAT
//
// A log file consists of a 32-byte header followed by zero or more frames,
// mirroring the teacher's write-ahead log on disk but run in the opposite
// direction: a frame holds the page image as it looked BEFORE the write
// that is about to happen, not after. Header layout, little-endian:
//
//	0-3:   Magic number
//	4-7:   Format version
//	8-11:  Page size
//	12-15: Checkpoint sequence number
//	16-19: Salt-1 (random, changed at each reopen)
//	20-23: Salt-2 (random, changed at each reopen)
//	24-27: Checksum-1
//	28-31: Checksum-2
//
// Each frame is a 16-byte frame-header followed by pageSize bytes of the
// page's pre-mutation image:
//
//	0-3:   Page number
//	4-7:   Salt-1 (copied from header)
//	8-11:  Checksum-1
//	12-15: Checksum-2
package pagelog

import (
	"encoding/binary"
	"errors"
	"math/rand"
	"os"
	"sync"
)

const (
	HeaderSize      = 32
	FrameHeaderSize = 16

	MagicNumber = 0x706c6f67 // "plog"
	Version     = 1
)

var (
	ErrInvalidMagic   = errors.New("pagelog: invalid magic number")
	ErrInvalidVersion = errors.New("pagelog: invalid version")
	ErrChecksumFailed = errors.New("pagelog: checksum verification failed")
)

// Frame is one undo record: the image a page held immediately before the
// write that prompted logging it.
type Frame struct {
	Index    uint32 // 1-based
	PageNo   uint32
	OldImage []byte
}

// PageLog is the append-only pre-image log backing DiskFile's checkpoint
// recovery. It never replays forward: its only job at Open is to undo
// whatever an interrupted checkpoint interval left half-written.
type PageLog struct {
	mu       sync.Mutex
	file     *os.File
	pageSize int
	salt1    uint32
	salt2    uint32
	ckptSeq  uint32

	checksum1 uint32
	checksum2 uint32

	frameCount uint32

	// mem holds the log entirely in memory for ":memory:" stores, which
	// have no path to sidecar a log file next to.
	mem       bool
	memFrames []memFrame
}

type memFrame struct {
	pageNo   uint32
	oldImage []byte
}

// Open opens or creates a pagelog file at path for the given page size. A
// path of ":memory:" keeps the log in memory instead, mirroring
// filestore's ":memory:" convention.
func Open(path string, pageSize int) (*PageLog, error) {
	if pageSize <= 0 {
		pageSize = 4096
	}

	if path == ":memory:" {
		return &PageLog{mem: true, pageSize: pageSize, ckptSeq: 1}, nil
	}

	file, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		if os.IsNotExist(err) {
			return create(path, pageSize)
		}
		return nil, err
	}

	l := &PageLog{file: file, pageSize: pageSize}
	if err := l.readHeader(); err != nil {
		file.Close()
		return create(path, pageSize)
	}
	return l, nil
}

func create(path string, pageSize int) (*PageLog, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, err
	}
	l := &PageLog{
		file:     file,
		pageSize: pageSize,
		salt1:    rand.Uint32(),
		salt2:    rand.Uint32(),
		ckptSeq:  1,
	}
	if err := l.writeHeaderLocked(); err != nil {
		file.Close()
		return nil, err
	}
	return l, nil
}

func (l *PageLog) frameSize() int64 { return int64(FrameHeaderSize) + int64(l.pageSize) }

func (l *PageLog) writeHeaderLocked() error {
	header := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(header[0:4], MagicNumber)
	binary.LittleEndian.PutUint32(header[4:8], Version)
	binary.LittleEndian.PutUint32(header[8:12], uint32(l.pageSize))
	binary.LittleEndian.PutUint32(header[12:16], l.ckptSeq)
	binary.LittleEndian.PutUint32(header[16:20], l.salt1)
	binary.LittleEndian.PutUint32(header[20:24], l.salt2)

	l.checksum1, l.checksum2 = logChecksum(header[0:24], 0, 0)
	binary.LittleEndian.PutUint32(header[24:28], l.checksum1)
	binary.LittleEndian.PutUint32(header[28:32], l.checksum2)

	if _, err := l.file.WriteAt(header, 0); err != nil {
		return err
	}
	return l.file.Sync()
}

func (l *PageLog) readHeader() error {
	header := make([]byte, HeaderSize)
	n, err := l.file.ReadAt(header, 0)
	if err != nil {
		return err
	}
	if n < HeaderSize {
		return ErrInvalidMagic
	}

	if binary.LittleEndian.Uint32(header[0:4]) != MagicNumber {
		return ErrInvalidMagic
	}
	if binary.LittleEndian.Uint32(header[4:8]) != Version {
		return ErrInvalidVersion
	}

	l.pageSize = int(binary.LittleEndian.Uint32(header[8:12]))
	l.ckptSeq = binary.LittleEndian.Uint32(header[12:16])
	l.salt1 = binary.LittleEndian.Uint32(header[16:20])
	l.salt2 = binary.LittleEndian.Uint32(header[20:24])

	storedCksum1 := binary.LittleEndian.Uint32(header[24:28])
	storedCksum2 := binary.LittleEndian.Uint32(header[28:32])
	computedCksum1, computedCksum2 := logChecksum(header[0:24], 0, 0)
	if storedCksum1 != computedCksum1 || storedCksum2 != computedCksum2 {
		return ErrChecksumFailed
	}
	l.checksum1, l.checksum2 = storedCksum1, storedCksum2

	l.frameCount = l.countValidFrames()
	return nil
}

// countValidFrames scans the file from the header forward, stopping at the
// first frame whose salt or checksum doesn't match — the same truncated-tail
// tolerance the teacher's WAL uses for a log that was killed mid-append.
func (l *PageLog) countValidFrames() uint32 {
	info, err := l.file.Stat()
	if err != nil {
		return 0
	}
	contentSize := info.Size() - HeaderSize
	if contentSize <= 0 {
		return 0
	}
	maxFrames := uint32(contentSize / l.frameSize())

	valid := uint32(0)
	cksum1, cksum2 := l.checksum1, l.checksum2

	for i := uint32(0); i < maxFrames; i++ {
		offset := HeaderSize + int64(i)*l.frameSize()

		fh := make([]byte, FrameHeaderSize)
		if _, err := l.file.ReadAt(fh, offset); err != nil {
			break
		}
		frameSalt1 := binary.LittleEndian.Uint32(fh[4:8])
		if frameSalt1 != l.salt1 {
			break
		}

		img := make([]byte, l.pageSize)
		if _, err := l.file.ReadAt(img, offset+FrameHeaderSize); err != nil {
			break
		}

		data := make([]byte, 4+l.pageSize)
		copy(data[0:4], fh[0:4])
		copy(data[4:], img)
		cksum1, cksum2 = logChecksum(data, cksum1, cksum2)

		if cksum1 != binary.LittleEndian.Uint32(fh[8:12]) || cksum2 != binary.LittleEndian.Uint32(fh[12:16]) {
			break
		}
		valid++
	}

	l.checksum1, l.checksum2 = cksum1, cksum2
	return valid
}

// logChecksum is the teacher's Fibonacci-weighted rolling checksum, unchanged.
func logChecksum(data []byte, s0, s1 uint32) (uint32, uint32) {
	for len(data)%4 != 0 {
		data = append(data, 0)
	}
	for i := 0; i < len(data); i += 8 {
		var x0, x1 uint32
		x0 = binary.LittleEndian.Uint32(data[i : i+4])
		if i+4 < len(data) {
			x1 = binary.LittleEndian.Uint32(data[i+4 : i+8])
		}
		s0 += x0 + s1
		s1 += x1 + s0
	}
	return s0, s1
}

// PageSize returns the page size this log was opened with.
func (l *PageLog) PageSize() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pageSize
}

// FrameCount returns the number of valid undo frames currently on disk.
func (l *PageLog) FrameCount() uint32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.frameCount
}

// AddUndo appends oldImage, the page's content immediately before the write
// about to happen, as the next frame. oldImage must be exactly pageSize
// bytes.
func (l *PageLog) AddUndo(pageNo uint32, oldImage []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(oldImage) != l.pageSize {
		return errors.New("pagelog: image size mismatch")
	}

	if l.mem {
		img := make([]byte, len(oldImage))
		copy(img, oldImage)
		l.memFrames = append(l.memFrames, memFrame{pageNo: pageNo, oldImage: img})
		l.frameCount++
		return nil
	}

	offset := HeaderSize + int64(l.frameCount)*l.frameSize()

	fh := make([]byte, FrameHeaderSize)
	binary.LittleEndian.PutUint32(fh[0:4], pageNo)
	binary.LittleEndian.PutUint32(fh[4:8], l.salt1)

	data := make([]byte, 4+len(oldImage))
	copy(data[0:4], fh[0:4])
	copy(data[4:], oldImage)
	l.checksum1, l.checksum2 = logChecksum(data, l.checksum1, l.checksum2)
	binary.LittleEndian.PutUint32(fh[8:12], l.checksum1)
	binary.LittleEndian.PutUint32(fh[12:16], l.checksum2)

	if _, err := l.file.WriteAt(fh, offset); err != nil {
		return err
	}
	if _, err := l.file.WriteAt(oldImage, offset+FrameHeaderSize); err != nil {
		return err
	}
	l.frameCount++
	return nil
}

// ReplayBackward calls apply once per logged frame, from the most recently
// appended back to the first, restoring each logged page to its
// pre-checkpoint-interval state. It is the recovery path run at Open before a DiskFile accepts any
// new operation: the log, if non-empty, means the previous checkpoint
// interval never completed, so every write it covers must be undone.
func (l *PageLog) ReplayBackward(apply func(pageNo uint32, oldImage []byte) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.mem {
		for i := len(l.memFrames) - 1; i >= 0; i-- {
			f := l.memFrames[i]
			if err := apply(f.pageNo, f.oldImage); err != nil {
				return err
			}
		}
		return nil
	}

	for i := l.frameCount; i >= 1; i-- {
		offset := HeaderSize + int64(i-1)*l.frameSize()

		fh := make([]byte, FrameHeaderSize)
		if _, err := l.file.ReadAt(fh, offset); err != nil {
			return err
		}
		img := make([]byte, l.pageSize)
		if _, err := l.file.ReadAt(img, offset+FrameHeaderSize); err != nil {
			return err
		}
		pageNo := binary.LittleEndian.Uint32(fh[0:4])
		if err := apply(pageNo, img); err != nil {
			return err
		}
	}
	return nil
}

// Reopen checkpoints the log: the caller has just durably written every
// page the log covers to its real location, so the pre-images are no
// longer needed to recover from a crash between here and the next
// checkpoint. fsync happens BEFORE truncation — truncating first and
// crashing before the fsync lands would leave a log that looks valid
// (non-empty, past frames still readable) pointing at pre-images whose
// on-disk writes were never guaranteed durable, silently losing the undo
// record that write needed.
func (l *PageLog) Reopen() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.mem {
		l.ckptSeq++
		l.frameCount = 0
		l.memFrames = nil
		return nil
	}

	if err := l.file.Sync(); err != nil {
		return err
	}

	l.ckptSeq++
	l.salt1++
	l.salt2 = rand.Uint32()
	l.frameCount = 0

	if err := l.writeHeaderLocked(); err != nil {
		return err
	}
	if err := l.file.Truncate(HeaderSize); err != nil {
		return err
	}
	return l.file.Sync()
}

// Close syncs and closes the underlying file.
func (l *PageLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.mem || l.file == nil {
		return nil
	}
	if err := l.file.Sync(); err != nil {
		l.file.Close()
		return err
	}
	return l.file.Close()
}
