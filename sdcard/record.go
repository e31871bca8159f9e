package sdcard

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/go-restruct/restruct"

	"github.com/moffa90/go-sdlog/protocol"
)

// Position record layout.
//
//	[MID][PSN 4][rCRC][read 4][rCRC][read 4][wCRC][write 4][wCRC][write 4]
//
// Every cursor is stored twice, each copy preceded by the CRC7 of its four
// little-endian bytes. Both copies are written identically on every update,
// so an interrupted write leaves at least one valid copy.
const (
	recordSize         = 25
	recordCursorOffset = 5
)

var recordOrder = binary.LittleEndian

// positionRecord is the on-store image of the position record.
type positionRecord struct {
	ManufacturerID byte
	SerialNumber   [4]byte

	ReadCRC1  byte
	ReadPage1 uint32
	ReadCRC2  byte
	ReadPage2 uint32

	WriteCRC1  byte
	WritePage1 uint32
	WriteCRC2  byte
	WritePage2 uint32
}

// identity is the card tag kept at the start of the record.
type identity struct {
	ManufacturerID byte
	SerialNumber   [4]byte
}

func identityOf(cid protocol.CID) identity {
	return identity{ManufacturerID: cid.ManufacturerID(), SerialNumber: cid.SerialBytes()}
}

func (r positionRecord) identity() identity {
	return identity{ManufacturerID: r.ManufacturerID, SerialNumber: r.SerialNumber}
}

// pageChecksum returns the CRC7 of a page index as it is stored.
func pageChecksum(page uint32) byte {
	var b [4]byte
	recordOrder.PutUint32(b[:], page)
	return protocol.CRC7Bytes(b[:])
}

// cursorCopy is one stored copy of a cursor.
type cursorCopy struct {
	Page uint32
	CRC  byte
}

func (c cursorCopy) valid() bool {
	return pageChecksum(c.Page) == c.CRC
}

// resolveCursor picks the cursor value from its two stored copies.
//
// When both copies are valid, copy 2 wins only if it is exactly one page
// ahead of copy 1; otherwise copy 1 wins. A single valid copy is used as
// is. The bool is false when neither copy is valid and the cursor
// restarts at 0.
func resolveCursor(first, second cursorCopy) (uint32, bool) {
	firstOK, secondOK := first.valid(), second.valid()
	switch {
	case firstOK && secondOK:
		if second.Page == first.Page+1 {
			return second.Page, true
		}
		return first.Page, true
	case firstOK:
		return first.Page, true
	case secondOK:
		return second.Page, true
	default:
		return 0, false
	}
}

// Recovery describes what was found in the position record at Initialize.
type Recovery struct {
	// CardChanged is set when the stored identity did not match the card
	// and the cursors were reset
	CardChanged bool

	// ReadValid and WriteValid report whether at least one copy of the
	// cursor passed its checksum
	ReadValid  bool
	WriteValid bool
}

// Err returns ErrRecordCorrupt when a cursor had no valid copy.
func (r Recovery) Err() error {
	if r.CardChanged || (r.ReadValid && r.WriteValid) {
		return nil
	}
	return ErrRecordCorrupt
}

// recordStore reads and writes the position record at a fixed address.
type recordStore struct {
	store Store
	base  int64
}

// load reads the whole record. Bytes past the end of the store read as
// erased memory (0xFF).
func (r *recordStore) load() (positionRecord, error) {
	var rec positionRecord

	buf := make([]byte, recordSize)
	n, err := r.store.ReadAt(buf, r.base)
	if err != nil && !errors.Is(err, io.EOF) {
		return rec, fmt.Errorf("read position record: %w", err)
	}
	for i := n; i < len(buf); i++ {
		buf[i] = 0xFF
	}

	if err := restruct.Unpack(buf, recordOrder, &rec); err != nil {
		return rec, fmt.Errorf("decode position record: %w", err)
	}
	return rec, nil
}

// reset writes a new identity tag with both cursors at page 0.
func (r *recordStore) reset(id identity) error {
	rec := newPositionRecord(0, 0)
	rec.ManufacturerID = id.ManufacturerID
	rec.SerialNumber = id.SerialNumber
	return r.write(rec, 0)
}

// save writes both copies of both cursors. The identity tag is left untouched.
func (r *recordStore) save(read, write uint32) error {
	return r.write(newPositionRecord(read, write), recordCursorOffset)
}

func (r *recordStore) write(rec positionRecord, from int) error {
	buf, err := restruct.Pack(recordOrder, &rec)
	if err != nil {
		return fmt.Errorf("encode position record: %w", err)
	}
	if _, err := r.store.WriteAt(buf[from:], r.base+int64(from)); err != nil {
		return fmt.Errorf("write position record: %w", err)
	}
	return nil
}

func newPositionRecord(read, write uint32) positionRecord {
	readCRC, writeCRC := pageChecksum(read), pageChecksum(write)
	return positionRecord{
		ReadCRC1:   readCRC,
		ReadPage1:  read,
		ReadCRC2:   readCRC,
		ReadPage2:  read,
		WriteCRC1:  writeCRC,
		WritePage1: write,
		WriteCRC2:  writeCRC,
		WritePage2: write,
	}
}

// recoverPositions loads the position record for the card just identified.
// A record tagged for another card is replaced by a fresh one.
func (d *Driver) recoverPositions() error {
	rec, err := d.record.load()
	if err != nil {
		return err
	}

	id := identityOf(d.cid)
	if rec.identity() != id {
		d.logInfo("new card, resetting position record",
			"mid", fmt.Sprintf("0x%02X", id.ManufacturerID),
			"serial", fmt.Sprintf("% X", id.SerialNumber))
		d.recovery = Recovery{CardChanged: true, ReadValid: true, WriteValid: true}
		d.readPage, d.writePage = 0, 0
		return d.record.reset(id)
	}

	read, readOK := resolveCursor(
		cursorCopy{Page: rec.ReadPage1, CRC: rec.ReadCRC1},
		cursorCopy{Page: rec.ReadPage2, CRC: rec.ReadCRC2},
	)
	write, writeOK := resolveCursor(
		cursorCopy{Page: rec.WritePage1, CRC: rec.WriteCRC1},
		cursorCopy{Page: rec.WritePage2, CRC: rec.WriteCRC2},
	)
	d.recovery = Recovery{ReadValid: readOK, WriteValid: writeOK}
	if err := d.recovery.Err(); err != nil {
		d.logError("position record damaged", "error", err, "read_valid", readOK, "write_valid", writeOK)
	}

	d.readPage, d.writePage = d.wrap(read), d.wrap(write)
	d.logDebug("positions recovered", "read_page", d.readPage, "write_page", d.writePage)
	return nil
}

// persist writes the current cursors, wrapping any cursor past the end of
// the card back to page 0 first.
func (d *Driver) persist() error {
	d.readPage, d.writePage = d.wrap(d.readPage), d.wrap(d.writePage)
	return d.record.save(d.readPage, d.writePage)
}

// wrap maps cursors outside the card onto page 0.
func (d *Driver) wrap(page uint32) uint32 {
	if page >= d.totalPages {
		return 0
	}
	return page
}
