package diskfile

import (
	"encoding/binary"

	"pagestore/pkg/storeerr"
)

// banner is repeated three times at the start of page 0, the way the
// teacher's dbfile.MagicString identifies a valid file — here the fixed
// 16-byte string the external interface names, tripled to 48 bytes.
const banner = "-- H2 0.5/B -- \n"

const (
	bannerSize  = 48 // 16 * 3
	offPageSize = 48
	offWriteVer = 52
	offReadVer  = 53
	offSysRoot  = 54
	offFreeRoot = 58
	offLogRoot  = 62

	// HeaderSize is the number of bytes of page 0 the header occupies.
	HeaderSize = 66
)

// Header is the fixed header stored in page 0 of a pagestore file.
type Header struct {
	PageSize           uint32
	WriteVersion       byte
	ReadVersion        byte
	SystemRootPageID   uint32
	FreeListRootPageID uint32
	LogRootPageID      uint32
}

// Encode writes the header into the first HeaderSize bytes of data, which
// must be at least that long.
func (h *Header) Encode(data []byte) {
	copy(data[0:16], banner)
	copy(data[16:32], banner)
	copy(data[32:48], banner)

	binary.BigEndian.PutUint32(data[offPageSize:], h.PageSize)
	data[offWriteVer] = h.WriteVersion
	data[offReadVer] = h.ReadVersion
	binary.BigEndian.PutUint32(data[offSysRoot:], h.SystemRootPageID)
	binary.BigEndian.PutUint32(data[offFreeRoot:], h.FreeListRootPageID)
	binary.BigEndian.PutUint32(data[offLogRoot:], h.LogRootPageID)
}

// DecodeHeader parses a header previously written by Encode, validating
// the banner and the page size bounds.
func DecodeHeader(data []byte, path string) (*Header, error) {
	if len(data) < HeaderSize {
		return nil, storeerr.New(storeerr.FileCorrupted, "open", path)
	}
	for i := 0; i < 3; i++ {
		if string(data[i*16:i*16+16]) != banner {
			return nil, storeerr.New(storeerr.FileCorrupted, "open", path)
		}
	}

	h := &Header{
		PageSize:           binary.BigEndian.Uint32(data[offPageSize:]),
		WriteVersion:       data[offWriteVer],
		ReadVersion:        data[offReadVer],
		SystemRootPageID:   binary.BigEndian.Uint32(data[offSysRoot:]),
		FreeListRootPageID: binary.BigEndian.Uint32(data[offFreeRoot:]),
		LogRootPageID:      binary.BigEndian.Uint32(data[offLogRoot:]),
	}

	if h.PageSize < 512 || h.PageSize > 32768 || h.PageSize&(h.PageSize-1) != 0 {
		return nil, storeerr.New(storeerr.FileCorrupted, "open", path)
	}
	if h.ReadVersion != 0 {
		return nil, storeerr.New(storeerr.FileVersion, "open", path)
	}

	return h, nil
}
