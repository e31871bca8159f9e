package sdcard

import (
	"fmt"

	"github.com/moffa90/go-sdlog/protocol"
)

// exchange clocks one byte with chip select already asserted.
func (d *Driver) exchange(out byte) (byte, error) {
	in, err := d.bus.Exchange(out)
	if err != nil {
		return protocol.IdleByte, fmt.Errorf("exchange: %w", err)
	}
	return in, nil
}

// selected runs fn with chip select asserted and always releases it.
func (d *Driver) selected(fn func() error) (err error) {
	if err := d.bus.Select(); err != nil {
		return fmt.Errorf("select: %w", err)
	}
	defer func() {
		if rerr := d.bus.Release(); rerr != nil && err == nil {
			err = fmt.Errorf("release: %w", rerr)
		}
	}()
	return fn()
}

// send transmits a command frame and collects the response the command
// answers with.
func (d *Driver) send(cmd protocol.Command, arg uint32) (protocol.Response, error) {
	return d.sendShape(cmd, arg, protocol.ShapeFor(cmd))
}

// sendShape transmits a command frame and reads a response of the given shape.
//
// The first response byte is polled for up to ResponseRetries bytes. When it
// never arrives the response holds IdleByte, which no R1 accessor treats as
// a valid status. For R1b the busy phase is clocked out before returning.
func (d *Driver) sendShape(cmd protocol.Command, arg uint32, shape protocol.Shape) (protocol.Response, error) {
	frame, err := protocol.BuildCommandFrame(cmd, arg)
	if err != nil {
		return protocol.Response{}, err
	}

	var raw [protocol.MaxResponseSize]byte
	err = d.selected(func() error {
		for _, b := range frame {
			if _, err := d.exchange(b); err != nil {
				return err
			}
		}

		first := byte(protocol.IdleByte)
		for i := 0; i < protocol.ResponseRetries && first == protocol.IdleByte; i++ {
			if first, err = d.exchange(protocol.IdleByte); err != nil {
				return err
			}
		}
		raw[0] = first
		if first == protocol.IdleByte {
			return nil
		}

		for i := 1; i < shape.Len(); i++ {
			if raw[i], err = d.exchange(protocol.IdleByte); err != nil {
				return err
			}
		}

		if shape == protocol.ShapeR1b {
			for i := 0; i < protocol.BusyRetries; i++ {
				b, err := d.exchange(protocol.IdleByte)
				if err != nil {
					return err
				}
				if b != protocol.BusyByte {
					break
				}
			}
		}
		return nil
	})
	if err != nil {
		return protocol.Response{}, fmt.Errorf("%s: %w", cmd, err)
	}

	resp := protocol.NewResponse(shape, raw[:shape.Len()])
	d.logDebug("command", "cmd", cmd.String(), "arg", fmt.Sprintf("0x%08X", arg), "response", fmt.Sprintf("% X", resp.Bytes()))
	return resp, nil
}

// command sends an R1 command and returns its status byte.
func (d *Driver) command(cmd protocol.Command, arg uint32) (protocol.R1, error) {
	resp, err := d.send(cmd, arg)
	if err != nil {
		return protocol.IdleByte, err
	}
	return resp.R1(), nil
}

// appCommand sends CMD55 followed by the application command.
// The CMD55 status is not inspected; the card reports problems on the
// application command itself.
func (d *Driver) appCommand(cmd protocol.Command, arg uint32) (protocol.R1, error) {
	if _, err := d.send(protocol.CmdAppCmd, 0); err != nil {
		return protocol.IdleByte, err
	}
	return d.command(cmd, arg)
}

// cardStatus issues CMD13 and returns the 16-bit card status.
func (d *Driver) cardStatus() (uint16, error) {
	resp, err := d.send(protocol.CmdSendStatus, 0)
	if err != nil {
		return 0, err
	}
	r2, err := protocol.ParseR2(resp)
	if err != nil {
		return 0, err
	}
	return r2.Value(), nil
}
