package diskfile

import (
	"encoding/binary"

	"pagestore/pkg/bitset"
)

// systemState is the full set of DiskFile-wide bookkeeping that must
// survive a reopen: the counters from spec's PageStore entity, the
// block-used bitmap, and the page-owner table. The fixed 66-byte page-0
// header (header.go) has room only for the identity/versioning fields
// external readers rely on; everything else is chained off
// systemRootPageId the same way PageFreeList chains its bitmap off
// freeListRootPageId.
type systemState struct {
	PageCount     uint32
	LastUsedPage  uint32
	FreePageCount uint32
	Used          *bitset.BitField
	Owners        map[uint32]int32

	// RecordCounts holds each storage's live record count, keyed by storage
	// id, so Storage.New can restore GetRecordCount() on reopen without a
	// full page scan.
	RecordCounts map[int32]int32
}

func encodeSystemState(s *systemState) []byte {
	usedBytes := s.Used.Encode()
	buf := make([]byte, 16+len(usedBytes)+4+8*len(s.Owners)+4+8*len(s.RecordCounts))

	binary.BigEndian.PutUint32(buf[0:4], s.PageCount)
	binary.BigEndian.PutUint32(buf[4:8], s.LastUsedPage)
	binary.BigEndian.PutUint32(buf[8:12], s.FreePageCount)
	binary.BigEndian.PutUint32(buf[12:16], uint32(len(usedBytes)))
	copy(buf[16:16+len(usedBytes)], usedBytes)

	off := 16 + len(usedBytes)
	binary.BigEndian.PutUint32(buf[off:off+4], uint32(len(s.Owners)))
	off += 4
	for pageID, storageID := range s.Owners {
		binary.BigEndian.PutUint32(buf[off:off+4], pageID)
		binary.BigEndian.PutUint32(buf[off+4:off+8], uint32(storageID))
		off += 8
	}

	binary.BigEndian.PutUint32(buf[off:off+4], uint32(len(s.RecordCounts)))
	off += 4
	for storageID, count := range s.RecordCounts {
		binary.BigEndian.PutUint32(buf[off:off+4], uint32(storageID))
		binary.BigEndian.PutUint32(buf[off+4:off+8], uint32(count))
		off += 8
	}
	return buf
}

func decodeSystemState(data []byte) *systemState {
	pageCount := binary.BigEndian.Uint32(data[0:4])
	lastUsedPage := binary.BigEndian.Uint32(data[4:8])
	freePageCount := binary.BigEndian.Uint32(data[8:12])
	usedLen := binary.BigEndian.Uint32(data[12:16])
	used := bitset.Decode(data[16 : 16+usedLen])

	off := 16 + int(usedLen)
	ownerCount := binary.BigEndian.Uint32(data[off : off+4])
	off += 4
	owners := make(map[uint32]int32, ownerCount)
	for i := uint32(0); i < ownerCount; i++ {
		pageID := binary.BigEndian.Uint32(data[off : off+4])
		storageID := int32(binary.BigEndian.Uint32(data[off+4 : off+8]))
		owners[pageID] = storageID
		off += 8
	}

	recordCounts := make(map[int32]int32)
	if off < len(data) {
		countEntries := binary.BigEndian.Uint32(data[off : off+4])
		off += 4
		recordCounts = make(map[int32]int32, countEntries)
		for i := uint32(0); i < countEntries; i++ {
			storageID := int32(binary.BigEndian.Uint32(data[off : off+4]))
			count := int32(binary.BigEndian.Uint32(data[off+4 : off+8]))
			recordCounts[storageID] = count
			off += 8
		}
	}

	return &systemState{
		PageCount:     pageCount,
		LastUsedPage:  lastUsedPage,
		FreePageCount: freePageCount,
		Used:          used,
		Owners:        owners,
		RecordCounts:  recordCounts,
	}
}

// chunkPayload splits payload into pageSize-sized chunks, each reserving a
// 4-byte chain-next pointer at its front, the same convention
// pagefreelist.EncodeChunks uses.
func chunkPayload(payload []byte, pageSize int) [][]byte {
	const headerSize = 4
	chunkCap := pageSize - headerSize

	var chunks [][]byte
	for off := 0; off < len(payload) || len(chunks) == 0; off += chunkCap {
		end := off + chunkCap
		if end > len(payload) {
			end = len(payload)
		}
		chunk := make([]byte, pageSize)
		if off < len(payload) {
			copy(chunk[headerSize:], payload[off:end])
		}
		chunks = append(chunks, chunk)
		if end >= len(payload) {
			break
		}
	}
	return chunks
}

func joinChunks(chunks [][]byte) []byte {
	out := make([]byte, 0, len(chunks)*256)
	for _, c := range chunks {
		if len(c) > 4 {
			out = append(out, c[4:]...)
		}
	}
	return out
}
