package page

import "testing"

func TestDataPageCreate(t *testing.T) {
	p := New(1, 4096)
	if p.PageNo() != 1 {
		t.Errorf("expected page number 1, got %d", p.PageNo())
	}
	if p.Len() != 4096 {
		t.Errorf("expected 4096 bytes, got %d", p.Len())
	}
}

func TestDataPageDirty(t *testing.T) {
	p := New(1, 4096)
	if p.IsDirty() {
		t.Error("new page should not be dirty")
	}
	p.Reset(8)
	p.WriteInt32(42)
	if !p.IsDirty() {
		t.Error("page should be dirty after a write")
	}
}

func TestDataPageTypedReadWrite(t *testing.T) {
	p := New(1, 4096)

	p.Reset(8)
	p.WriteInt32(1234)
	p.WriteByte(0x7f)
	p.WriteBytes([]byte("payload"))

	p.Reset(8)
	if got := p.ReadInt32(); got != 1234 {
		t.Errorf("expected 1234, got %d", got)
	}
	if got := p.ReadByte(); got != 0x7f {
		t.Errorf("expected 0x7f, got %#x", got)
	}
	if got := string(p.ReadBytes(7)); got != "payload" {
		t.Errorf("expected payload, got %q", got)
	}
}

func TestDataPageType(t *testing.T) {
	p := New(1, 4096)
	p.SetType(TypeData)
	if p.Type() != TypeData {
		t.Errorf("expected TypeData, got %v", p.Type())
	}
}

func TestDataPageChecksumRoundtrip(t *testing.T) {
	p := New(1, 128)
	p.Reset(4)
	p.WriteBytes([]byte("some record bytes"))
	p.WriteChecksum()

	if !p.VerifyChecksum() {
		t.Error("expected checksum to verify after WriteChecksum")
	}

	p.Data()[10] ^= 0xff
	if p.VerifyChecksum() {
		t.Error("expected checksum mismatch after corrupting a byte")
	}
}

func TestDataPagePinning(t *testing.T) {
	p := New(1, 4096)
	if p.IsPinned() {
		t.Error("new page should not be pinned")
	}
	p.Pin()
	if !p.IsPinned() {
		t.Error("page should be pinned after Pin")
	}
	p.Unpin()
	if p.IsPinned() {
		t.Error("page should not be pinned after matching Unpin")
	}
}
