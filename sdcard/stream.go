package sdcard

import (
	"github.com/moffa90/go-sdlog/protocol"
)

// ReadByte returns the next byte at the read cursor.
//
// The first byte of a page opens a block read; the 512th closes it,
// verifies its CRC16, advances the read cursor and persists it. When the
// card refuses to open the block the last byte it sent is returned, the
// cursor stays put and LastTransfer describes the failure. A pending
// write block is completed first.
//
// Reads are not bounded by the write cursor: reading past it returns
// whatever the card holds. Use Backlog to know how much was written.
func (d *Driver) ReadByte() (byte, error) {
	if !d.ready {
		return 0, ErrNotInitialized
	}
	if d.mode == modeWriting {
		if err := d.complete(); err != nil {
			return 0, err
		}
	}

	if d.mode == modeIdle {
		ok, err := d.openRead(protocol.CmdReadSingleBlock, d.readPage, d.address(d.readPage))
		if err != nil {
			return 0, err
		}
		if !ok {
			d.logError("read block failed", "page", d.readPage, "error", d.transfer.Err())
			return d.transfer.Token, nil
		}
		d.mode = modeReading
		d.offset = 0
	}

	return d.nextReadByte()
}

func (d *Driver) nextReadByte() (byte, error) {
	c, err := d.readPayload()
	if err != nil {
		return 0, err
	}
	d.offset++
	if d.offset == protocol.PageSize {
		return c, d.finishRead()
	}
	return c, nil
}

// finishRead closes the open read block and advances the read cursor.
func (d *Driver) finishRead() error {
	err := d.closeRead()
	d.mode = modeIdle
	d.offset = 0
	if err != nil {
		return err
	}

	if err := d.transfer.Err(); err != nil {
		d.logError("read block failed", "page", d.transfer.Page, "error", err)
	} else {
		d.logDebug("page committed", "page", d.transfer.Page)
	}
	d.readPage = d.next(d.readPage)
	return d.persist()
}

// WriteByte appends a byte at the write cursor.
//
// The first byte of a page opens a block write; the 512th closes it and,
// when the card accepted the block, advances the write cursor and
// persists it. A rejected block is dropped and the cursor stays put so
// the page is written again. A pending read block is completed first.
func (d *Driver) WriteByte(c byte) error {
	if !d.ready {
		return ErrNotInitialized
	}
	if d.mode == modeReading {
		if err := d.complete(); err != nil {
			return err
		}
	}

	if d.mode == modeIdle {
		ok, err := d.openWrite(d.writePage)
		if err != nil {
			return err
		}
		if !ok {
			d.logError("write block failed", "page", d.writePage, "error", d.transfer.Err())
			return nil
		}
		d.mode = modeWriting
		d.offset = 0
	}

	return d.nextWriteByte(c)
}

func (d *Driver) nextWriteByte(c byte) error {
	if err := d.writePayload(c); err != nil {
		return err
	}
	d.offset++
	if d.offset == protocol.PageSize {
		return d.finishWrite()
	}
	return nil
}

// finishWrite closes the open write block and advances the write cursor
// when the card accepted the block. A busy timeout after an accepted
// block is only reported.
func (d *Driver) finishWrite() error {
	err := d.closeWrite()
	d.mode = modeIdle
	d.offset = 0
	if err != nil {
		return err
	}

	if !d.transfer.Accepted {
		d.logError("write block failed", "page", d.transfer.Page, "error", d.transfer.Err())
		return nil
	}
	if d.transfer.TimedOut {
		d.logError("card still busy after write", "page", d.transfer.Page, "error", d.transfer.Err())
	}
	d.logDebug("page committed", "page", d.transfer.Page)
	d.writePage = d.next(d.writePage)
	return d.persist()
}

// complete force-finishes the open block. A read block is drained, a
// write block is padded with zero bytes.
func (d *Driver) complete() error {
	for d.mode == modeReading {
		if _, err := d.nextReadByte(); err != nil {
			return err
		}
	}
	for d.mode == modeWriting {
		if err := d.nextWriteByte(0); err != nil {
			return err
		}
	}
	return nil
}

// next returns the page after page, wrapping at the end of the card.
func (d *Driver) next(page uint32) uint32 {
	return d.wrap(page + 1)
}

// Read fills p from the read cursor. It implements io.Reader.
// Read never returns io.EOF; the card is a circular buffer. Unlike
// ReadByte it stops with the transfer error when a block cannot be opened.
func (d *Driver) Read(p []byte) (int, error) {
	for i := range p {
		c, err := d.ReadByte()
		if err == nil {
			err = d.openErr()
		}
		if err != nil {
			return i, err
		}
		p[i] = c
	}
	return len(p), nil
}

// Write appends p at the write cursor. It implements io.Writer.
// Bytes of a page only reach the card once the page is full; call Flush
// to commit a partial page.
func (d *Driver) Write(p []byte) (int, error) {
	for i, c := range p {
		err := d.WriteByte(c)
		if err == nil {
			err = d.openErr()
		}
		if err != nil {
			return i, err
		}
	}
	return len(p), nil
}

// openErr returns the transfer error when the last block could not be opened.
func (d *Driver) openErr() error {
	if d.transfer.Started {
		return nil
	}
	return d.transfer.Err()
}

// Flush completes the open block, if any. A partial write page is padded
// with zeros and committed.
func (d *Driver) Flush() error {
	if !d.ready {
		return ErrNotInitialized
	}
	return d.complete()
}

// Erase discards everything written but not read by moving the read
// cursor onto the write cursor and persisting both. No data on the card
// is touched.
func (d *Driver) Erase() error {
	if !d.ready {
		return ErrNotInitialized
	}
	if err := d.complete(); err != nil {
		return err
	}
	d.readPage = d.writePage
	d.logInfo("log erased", "page", d.writePage)
	return d.persist()
}

// Status completes the open block and returns the 16-bit card status from
// CMD13. Zero means the card is ready and reports no error.
func (d *Driver) Status() (uint16, error) {
	if !d.ready {
		return 0, ErrNotInitialized
	}
	if err := d.complete(); err != nil {
		return 0, err
	}
	return d.cardStatus()
}
