package sdcard

import (
	"bytes"
	"errors"
	"testing"

	"github.com/go-restruct/restruct"

	"github.com/moffa90/go-sdlog/nvstore"
	"github.com/moffa90/go-sdlog/protocol"
)

func TestPageChecksum(t *testing.T) {
	tests := []struct {
		page uint32
		want byte
	}{
		{0, 0x00},
		{1, 0x03},
		{2, 0x06},
		{5, 0x0F},
		{6, 0x0A},
		{41, 0x7B},
		{42, 0x7E},
		{1000, 0x5B},
	}

	for _, tt := range tests {
		if got := pageChecksum(tt.page); got != tt.want {
			t.Errorf("pageChecksum(%d) = 0x%02X, want 0x%02X", tt.page, got, tt.want)
		}
	}
}

func valid(page uint32) cursorCopy {
	return cursorCopy{Page: page, CRC: pageChecksum(page)}
}

func damaged(page uint32) cursorCopy {
	return cursorCopy{Page: page, CRC: pageChecksum(page) ^ 0x01}
}

func TestResolveCursor(t *testing.T) {
	tests := []struct {
		name   string
		first  cursorCopy
		second cursorCopy
		want   uint32
		ok     bool
	}{
		{
			name:   "both valid and equal",
			first:  valid(41),
			second: valid(41),
			want:   41,
			ok:     true,
		},
		{
			name:   "second one ahead",
			first:  valid(41),
			second: valid(42),
			want:   42,
			ok:     true,
		},
		{
			name:   "second far ahead",
			first:  valid(41),
			second: valid(45),
			want:   41,
			ok:     true,
		},
		{
			name:   "second behind",
			first:  valid(42),
			second: valid(41),
			want:   42,
			ok:     true,
		},
		{
			name:   "second damaged",
			first:  valid(5),
			second: damaged(6),
			want:   5,
			ok:     true,
		},
		{
			name:   "first damaged",
			first:  damaged(5),
			second: valid(6),
			want:   6,
			ok:     true,
		},
		{
			name:   "both damaged",
			first:  damaged(5),
			second: damaged(6),
			want:   0,
			ok:     false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := resolveCursor(tt.first, tt.second)
			if got != tt.want || ok != tt.ok {
				t.Errorf("resolveCursor() = %d, %v, want %d, %v", got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestPositionRecordLayout(t *testing.T) {
	rec := newPositionRecord(1, 42)
	rec.ManufacturerID = 0x03
	rec.SerialNumber = [4]byte{0x12, 0x34, 0x56, 0x78}

	buf, err := restruct.Pack(recordOrder, &rec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []byte{
		0x03, 0x12, 0x34, 0x56, 0x78,
		0x03, 0x01, 0x00, 0x00, 0x00,
		0x03, 0x01, 0x00, 0x00, 0x00,
		0x7E, 0x2A, 0x00, 0x00, 0x00,
		0x7E, 0x2A, 0x00, 0x00, 0x00,
	}
	if !bytes.Equal(buf, want) {
		t.Errorf("packed record = % X\nwant % X", buf, want)
	}
}

func TestRecordStoreSaveKeepsIdentity(t *testing.T) {
	mem := nvstore.NewMemory(64)
	rs := recordStore{store: mem, base: 8}

	id := identity{ManufacturerID: 0x1B, SerialNumber: [4]byte{1, 2, 3, 4}}
	if err := rs.reset(id); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if err := rs.save(6, 9); err != nil {
		t.Fatalf("save: %v", err)
	}

	rec, err := rs.load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if rec.identity() != id {
		t.Errorf("identity = %+v, want %+v", rec.identity(), id)
	}
	if rec.ReadPage1 != 6 || rec.ReadPage2 != 6 || rec.WritePage1 != 9 || rec.WritePage2 != 9 {
		t.Errorf("cursors = %+v", rec)
	}

	raw := mem.Bytes()
	for i := 0; i < 8; i++ {
		if raw[i] != nvstore.ErasedByte {
			t.Fatalf("byte %d before the record was written: 0x%02X", i, raw[i])
		}
	}
}

func TestRecordStoreLoadShortStore(t *testing.T) {
	rs := recordStore{store: nvstore.NewMemory(10)}

	rec, err := rs.load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.ManufacturerID != 0xFF || rec.WritePage2 != 0xFFFFFFFF {
		t.Errorf("short store should read as erased, got %+v", rec)
	}
}

func TestRecordStoreWriteError(t *testing.T) {
	mem := nvstore.NewMemory(32)
	boom := errors.New("eeprom busy")
	mem.FailWrites(boom)

	rs := recordStore{store: mem}
	if err := rs.save(1, 2); !errors.Is(err, boom) {
		t.Errorf("save() error = %v, want %v", err, boom)
	}
}

func TestRecoveryErr(t *testing.T) {
	if err := (Recovery{ReadValid: true, WriteValid: true}).Err(); err != nil {
		t.Errorf("Err() = %v, want nil", err)
	}
	if err := (Recovery{CardChanged: true}).Err(); err != nil {
		t.Errorf("Err() = %v for a changed card, want nil", err)
	}
	if err := (Recovery{ReadValid: true}).Err(); !errors.Is(err, ErrRecordCorrupt) {
		t.Errorf("Err() = %v, want ErrRecordCorrupt", err)
	}
}

// seedRecord stores a record tagged for cid with the given cursors.
func seedRecord(t *testing.T, mem *nvstore.Memory, cid protocol.CID, read, write uint32) {
	t.Helper()

	rec := newPositionRecord(read, write)
	id := identityOf(cid)
	rec.ManufacturerID = id.ManufacturerID
	rec.SerialNumber = id.SerialNumber

	buf, err := restruct.Pack(recordOrder, &rec)
	if err != nil {
		t.Fatalf("pack record: %v", err)
	}
	mem.Poke(0, buf)
}
