package sdcard

import (
	"github.com/moffa90/go-sdlog/protocol"
)

// address converts a page index into a block command argument.
// High capacity cards are block addressed, standard capacity cards are
// byte addressed.
func (d *Driver) address(page uint32) uint32 {
	if d.highCapacity {
		return page
	}
	return page * protocol.PageSize
}

// openRead issues a block read command and waits for the start token.
// It reports whether a payload follows. On failure the transfer status
// holds the reason and Token holds the last byte observed.
func (d *Driver) openRead(cmd protocol.Command, page, arg uint32) (bool, error) {
	d.crc = 0
	r1, err := d.command(cmd, arg)
	if err != nil {
		return false, err
	}

	d.transfer = TransferStatus{
		Command:  cmd,
		Page:     page,
		Reading:  true,
		R1:       r1,
		Token:    byte(r1),
		CRCValid: true,
	}
	if !r1.Ready() {
		return false, nil
	}

	err = d.selected(func() error {
		for i := 0; i < protocol.StartTokenRetries; i++ {
			b, err := d.exchange(protocol.IdleByte)
			if err != nil {
				return err
			}
			d.transfer.Token = b
			if b == protocol.StartBlockToken {
				d.transfer.Started = true
				return nil
			}
			if b != protocol.IdleByte {
				d.transfer.ErrorToken = true
				return nil
			}
		}
		d.transfer.TimedOut = true
		return nil
	})
	if err != nil {
		return false, err
	}
	d.transfer.Done = !d.transfer.Started
	return d.transfer.Started, nil
}

// readPayload clocks one payload byte in and folds it into the running CRC16.
func (d *Driver) readPayload() (byte, error) {
	var c byte
	err := d.selected(func() error {
		var err error
		c, err = d.exchange(protocol.IdleByte)
		return err
	})
	if err != nil {
		return 0, err
	}
	d.crc = protocol.CRC16(c, d.crc)
	return c, nil
}

// closeRead receives the block CRC16, the filler byte after it and waits
// for the card to report ready.
func (d *Driver) closeRead() error {
	err := d.selected(func() error {
		hi, err := d.exchange(protocol.IdleByte)
		if err != nil {
			return err
		}
		lo, err := d.exchange(protocol.IdleByte)
		if err != nil {
			return err
		}
		if _, err := d.exchange(protocol.IdleByte); err != nil {
			return err
		}

		d.transfer.Received = uint16(hi)<<8 | uint16(lo)
		d.transfer.Computed = d.crc
		d.transfer.CRCValid = d.transfer.Received == d.transfer.Computed

		return d.waitReady()
	})
	d.transfer.Done = true
	return err
}

// openWrite issues CMD24 and sends the start token. It reports whether
// the card accepted the command.
func (d *Driver) openWrite(page uint32) (bool, error) {
	d.crc = 0
	r1, err := d.command(protocol.CmdWriteBlock, d.address(page))
	if err != nil {
		return false, err
	}

	d.transfer = TransferStatus{
		Command:  protocol.CmdWriteBlock,
		Page:     page,
		R1:       r1,
		Token:    byte(r1),
		CRCValid: true,
	}
	if !r1.Ready() {
		return false, nil
	}

	err = d.selected(func() error {
		_, err := d.exchange(protocol.StartBlockToken)
		return err
	})
	if err != nil {
		return false, err
	}
	d.transfer.Started = true
	return true, nil
}

// writePayload clocks one payload byte out and folds it into the running CRC16.
func (d *Driver) writePayload(c byte) error {
	err := d.selected(func() error {
		_, err := d.exchange(c)
		return err
	})
	if err != nil {
		return err
	}
	d.crc = protocol.CRC16(c, d.crc)
	return nil
}

// closeWrite sends the block CRC16, reads the data response token and
// waits while the card is programming.
func (d *Driver) closeWrite() error {
	err := d.selected(func() error {
		if _, err := d.exchange(byte(d.crc >> 8)); err != nil {
			return err
		}
		if _, err := d.exchange(byte(d.crc)); err != nil {
			return err
		}
		resp, err := d.exchange(protocol.IdleByte)
		if err != nil {
			return err
		}

		status := resp & protocol.DataResponseMask
		d.transfer.Token = resp
		d.transfer.Computed = d.crc
		d.transfer.Accepted = status == protocol.DataAccepted
		d.transfer.CRCValid = status != protocol.DataRejectedCRC

		return d.waitReady()
	})
	d.transfer.Done = true
	return err
}

// waitReady polls until the card drives IdleByte. Must run with chip
// select asserted.
func (d *Driver) waitReady() error {
	for i := 0; i < protocol.BusyRetries; i++ {
		b, err := d.exchange(protocol.IdleByte)
		if err != nil {
			return err
		}
		d.transfer.Busy = b
		if b == protocol.IdleByte {
			return nil
		}
	}
	d.transfer.TimedOut = true
	return nil
}

// readRegister reads a 16-byte register block (CID or CSD). The returned
// status is the R1 of the register command.
func (d *Driver) readRegister(cmd protocol.Command) ([protocol.RegisterSize]byte, protocol.R1, error) {
	var reg [protocol.RegisterSize]byte

	ok, err := d.openRead(cmd, 0, 0)
	if err != nil || !ok {
		return reg, d.transfer.R1, err
	}
	for i := range reg {
		if reg[i], err = d.readPayload(); err != nil {
			return reg, d.transfer.R1, err
		}
	}
	if err := d.closeRead(); err != nil {
		return reg, d.transfer.R1, err
	}
	if !d.transfer.CRCValid {
		d.logError("register CRC16 mismatch", "cmd", cmd.String(),
			"expected", d.transfer.Computed, "actual", d.transfer.Received)
	}
	return reg, d.transfer.R1, nil
}
