package sdsim

import (
	"maps"

	"github.com/moffa90/go-sdlog/protocol"
)

// Fail makes the card answer cmd with r1 until ClearFailures. The command
// has no other effect.
func (c *Card) Fail(cmd protocol.Command, r1 protocol.R1) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[cmd] = r1
}

// ClearFailures removes every injected failure.
func (c *Card) ClearFailures() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.failures)
	c.writeToken = 0
	c.corruptReads = false
	c.skipToken = false
	c.readToken = 0
	c.voltage = defaultVoltage
	c.echoOverride = nil
	c.busErr = nil
}

// RejectWrites makes the card answer every data block with token instead
// of accepting it. Zero restores normal behavior.
func (c *Card) RejectWrites(token byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeToken = token
}

// CorruptReads makes the card send a wrong CRC16 with every data block.
func (c *Card) CorruptReads(corrupt bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.corruptReads = corrupt
}

// DropStartToken makes block reads never start.
func (c *Card) DropStartToken(drop bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.skipToken = drop
}

// SendReadErrorToken makes block reads answer with a data error token.
// Zero restores normal behavior.
func (c *Card) SendReadErrorToken(token byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readToken = token
}

// SetVoltage sets the voltage code echoed in R7.
func (c *Card) SetVoltage(v byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.voltage = v
}

// SetEcho sets the check pattern echoed in R7 regardless of the argument.
func (c *Card) SetEcho(e byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.echoOverride = &e
}

// SetBusError makes every bus operation fail with err. Nil clears it.
func (c *Card) SetBusError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.busErr = err
}

// Stats returns a copy of the card counters.
func (c *Card) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Commands = maps.Clone(c.stats.Commands)
	return s
}

// Commands returns the commands received since the last ResetStats, in order.
func (c *Card) Commands() []protocol.Command {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.Command(nil), c.log...)
}

// ResetStats clears the counters and the command log.
func (c *Card) ResetStats() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetStats()
}

func (c *Card) resetStats() {
	c.stats = Stats{Commands: make(map[protocol.Command]int)}
	c.log = nil
}

// ClockRate returns the last bus clock set by the host.
func (c *Card) ClockRate() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clockHz
}

// Selected reports whether chip select is asserted.
func (c *Card) Selected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selected
}

// CSD returns the card-specific data register the card reports.
func (c *Card) CSD() protocol.CSD {
	return c.csd
}

// Page returns the stored contents of a page.
func (c *Card) Page(page uint32) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return readPage(c.media, page)
}

// SetPage stores data at a page, bypassing the SPI protocol.
func (c *Card) SetPage(page uint32, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	buf := make([]byte, protocol.PageSize)
	copy(buf, data)
	_, err := c.media.WriteAt(buf, int64(page)*protocol.PageSize)
	return err
}
