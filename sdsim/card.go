package sdsim

import (
	"fmt"
	"sync"

	"github.com/moffa90/go-sdlog/protocol"
)

type state int

const (
	stateReady     state = iota // waiting for a command
	stateCommand                // collecting a command frame
	stateWriteWait              // CMD24 accepted, waiting for the start token
	stateWriteData              // collecting payload and CRC16
)

// blockSize is the payload plus its CRC16.
const blockSize = protocol.PageSize + 2

// Data response tokens as clocked out by the card.
const (
	tokenAccepted    = 0x05
	tokenCRCError    = 0x0B
	tokenWriteError  = 0x0D
	tokenReadError   = 0x01
	defaultVoltage   = protocol.IfCondVoltage
	ocrVoltageWindow = protocol.OCRVoltageMask
)

// Card is a byte-level simulation of an SD card in SPI mode. It
// implements the transport the sdcard driver talks through.
//
// The card only listens while selected. Whatever it has to say is queued
// and clocked out one byte per exchange, filler bytes included, so the
// driver sees the same byte stream a real card produces.
type Card struct {
	mu     sync.Mutex
	config Config
	media  Media
	csd    protocol.CSD

	selected    bool
	clockHz     uint32
	state       state
	frame       []byte
	block       []byte
	queue       []byte
	initialized bool
	appCmd      bool
	initPolls   int
	writeAddr   uint32

	failures     map[protocol.Command]protocol.R1
	writeToken   byte
	corruptReads bool
	skipToken    bool
	readToken    byte
	voltage      byte
	echoOverride *byte
	busErr       error

	stats Stats
	log   []protocol.Command
}

// Stats counts what the card saw.
type Stats struct {
	Commands       map[protocol.Command]int
	BlocksRead     int
	BlocksWritten  int
	WritesRejected int
	Exchanges      int
}

// New creates a simulated card. It panics when the page count cannot be
// encoded for the card kind; see CheckPages.
//
// Example:
//
//	card := sdsim.New(sdsim.WithKind(sdsim.KindSDHC), sdsim.WithPages(8192))
//	drv := sdcard.New(card, nvstore.NewMemory(64))
func New(opts ...Option) *Card {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	c := &Card{
		config:   cfg,
		media:    cfg.Media,
		failures: make(map[protocol.Command]protocol.R1),
		voltage:  defaultVoltage,
	}
	if c.media == nil {
		c.media = newMemoryMedia()
	}
	csd, err := buildCSD(cfg.Kind, cfg.Pages)
	if err != nil {
		panic("sdsim: " + err.Error())
	}
	c.csd = csd
	c.resetStats()
	c.powerOn()
	return c
}

// CheckPages reports whether a card of kind can advertise exactly pages
// in its CSD.
func CheckPages(kind Kind, pages uint32) error {
	_, err := buildCSD(kind, pages)
	return err
}

// buildCSD returns the CSD advertising pages for the card kind.
func buildCSD(kind Kind, pages uint32) (protocol.CSD, error) {
	if kind == KindSDHC {
		if pages < 1024 || pages%1024 != 0 {
			return protocol.CSD{}, fmt.Errorf("%s capacity must be a non-zero multiple of 1024 pages, got %d", kind, pages)
		}
		return protocol.BuildCSDv2(pages), nil
	}

	// (C_SIZE+1) << (C_SIZE_MULT+2) pages with 512-byte blocks
	for mult := byte(0); mult < 8; mult++ {
		shift := uint(mult) + 2
		if pages%(1<<shift) == 0 && pages>>shift >= 1 && pages>>shift <= 4096 {
			return protocol.BuildCSDv1(uint16(pages>>shift-1), mult), nil
		}
	}
	return protocol.CSD{}, fmt.Errorf("%s capacity of %d pages is not (C_SIZE+1) << (C_SIZE_MULT+2)", kind, pages)
}

func (c *Card) powerOn() {
	c.state = stateReady
	c.frame = c.frame[:0]
	c.block = c.block[:0]
	c.queue = c.queue[:0]
	c.initialized = false
	c.appCmd = false
	c.initPolls = c.config.InitPolls
}

// PowerCycle drops the card back to its power-on state. Media contents
// survive.
func (c *Card) PowerCycle() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.powerOn()
}

// Select drives chip select low.
func (c *Card) Select() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busErr != nil {
		return c.busErr
	}
	c.selected = true
	return nil
}

// Release drives chip select high.
func (c *Card) Release() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selected = false
	return nil
}

// SetClockRate records the bus clock.
func (c *Card) SetClockRate(hz uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clockHz = hz
	return nil
}

// Exchange clocks one byte. The card answers with the next queued byte
// and then consumes what the host sent.
func (c *Card) Exchange(out byte) (byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.busErr != nil {
		return protocol.IdleByte, c.busErr
	}
	c.stats.Exchanges++
	if !c.selected {
		return protocol.IdleByte, nil
	}

	in := byte(protocol.IdleByte)
	if len(c.queue) > 0 {
		in = c.queue[0]
		c.queue = c.queue[1:]
	}
	c.receive(out)
	return in, nil
}

func isCommandStart(b byte) bool {
	return b != protocol.IdleByte && b&0xC0 == protocol.CommandBit
}

func (c *Card) receive(b byte) {
	switch c.state {
	case stateReady:
		if isCommandStart(b) {
			c.frame = append(c.frame[:0], b)
			c.state = stateCommand
		}
	case stateCommand:
		c.frame = append(c.frame, b)
		if len(c.frame) == protocol.CommandFrameSize {
			c.execute()
		}
	case stateWriteWait:
		switch {
		case b == protocol.StartBlockToken:
			c.block = c.block[:0]
			c.state = stateWriteData
		case isCommandStart(b):
			c.frame = append(c.frame[:0], b)
			c.state = stateCommand
		}
	case stateWriteData:
		c.block = append(c.block, b)
		if len(c.block) == blockSize {
			c.commitWrite()
		}
	}
}

// status returns the R1 flags that are not tied to a single command.
func (c *Card) status() protocol.R1 {
	if c.initialized {
		return 0
	}
	return protocol.R1Idle
}

// respond queues the response delay and the response bytes.
func (c *Card) respond(resp ...byte) {
	for i := 0; i < c.config.ResponseDelay; i++ {
		c.queue = append(c.queue, protocol.IdleByte)
	}
	c.queue = append(c.queue, resp...)
}

// sendData queues a data packet: access delay, start token, payload, CRC16.
func (c *Card) sendData(payload []byte) {
	for i := 0; i < c.config.AccessDelay; i++ {
		c.queue = append(c.queue, protocol.IdleByte)
	}
	if c.skipToken {
		return
	}
	if c.readToken != 0 {
		c.queue = append(c.queue, c.readToken)
		return
	}

	crc := protocol.CRC16Bytes(payload)
	if c.corruptReads {
		crc ^= 0xFFFF
	}
	c.queue = append(c.queue, protocol.StartBlockToken)
	c.queue = append(c.queue, payload...)
	c.queue = append(c.queue, byte(crc>>8), byte(crc))
}

func (c *Card) execute() {
	c.state = stateReady
	c.queue = c.queue[:0]

	cmd, arg, err := protocol.ParseCommandFrame(c.frame)
	if err != nil {
		c.respond(byte(c.status() | protocol.R1CommandCRCError))
		return
	}

	app := c.appCmd
	c.appCmd = false
	if app && cmd != protocol.ACmdSendOpCond {
		// only ACMD41 is supported as an application command
		c.respond(byte(c.status() | protocol.R1IllegalCommand))
		return
	}

	c.stats.Commands[cmd]++
	c.log = append(c.log, cmd)

	if r1, ok := c.failures[cmd]; ok {
		c.respond(byte(r1))
		return
	}

	switch cmd {
	case protocol.CmdGoIdleState:
		c.initialized = false
		c.initPolls = c.config.InitPolls
		c.respond(protocol.R1Idle)

	case protocol.CmdSendIfCond:
		if c.config.Kind == KindSDSCv1 {
			c.respond(byte(c.status() | protocol.R1IllegalCommand))
			return
		}
		echo := byte(arg)
		if c.echoOverride != nil {
			echo = *c.echoOverride
		}
		c.respond(byte(c.status()), 0x00, 0x00, c.voltage, echo)

	case protocol.CmdAppCmd:
		c.appCmd = true
		c.respond(byte(c.status()))

	case protocol.ACmdSendOpCond:
		if !app {
			c.respond(byte(c.status() | protocol.R1IllegalCommand))
			return
		}
		// a high capacity card never leaves idle for a host without HCS
		hcs := arg&protocol.ArgHighCapacitySupport != 0
		if c.config.Kind == KindSDHC && !hcs {
			c.respond(byte(c.status()))
			return
		}
		if c.initPolls > 0 {
			c.initPolls--
		} else {
			c.initialized = true
		}
		c.respond(byte(c.status()))

	case protocol.CmdReadOCR:
		if c.config.Kind == KindSDSCv1 {
			c.respond(byte(c.status() | protocol.R1IllegalCommand))
			return
		}
		ocr := uint32(ocrVoltageWindow)
		if c.initialized {
			ocr |= protocol.OCRPowerUpDone
			if c.config.Kind == KindSDHC {
				ocr |= protocol.OCRHighCapacity
			}
		}
		c.respond(byte(c.status()), byte(ocr>>24), byte(ocr>>16), byte(ocr>>8), byte(ocr))

	default:
		if !c.initialized {
			c.respond(byte(c.status() | protocol.R1IllegalCommand))
			return
		}
		c.executeReady(cmd, arg)
	}
}

// executeReady handles the commands only accepted after initialization.
func (c *Card) executeReady(cmd protocol.Command, arg uint32) {
	switch cmd {
	case protocol.CmdSetBlockLen:
		if arg != protocol.PageSize {
			c.respond(protocol.R1ParameterError)
			return
		}
		c.respond(0x00)

	case protocol.CmdSendCID:
		c.respond(0x00)
		c.sendData(c.config.CID[:])

	case protocol.CmdSendCSD:
		c.respond(0x00)
		c.sendData(c.csd[:])

	case protocol.CmdSendStatus:
		c.respond(0x00, 0x00)

	case protocol.CmdReadSingleBlock:
		page, r1 := c.page(arg)
		if r1 != 0 {
			c.respond(byte(r1))
			return
		}
		data, err := readPage(c.media, page)
		if err != nil {
			c.respond(0x00)
			c.queue = append(c.queue, tokenReadError)
			return
		}
		c.stats.BlocksRead++
		c.respond(0x00)
		c.sendData(data)

	case protocol.CmdWriteBlock:
		page, r1 := c.page(arg)
		if r1 != 0 {
			c.respond(byte(r1))
			return
		}
		c.writeAddr = page
		c.respond(0x00)
		c.state = stateWriteWait

	default:
		c.respond(protocol.R1IllegalCommand)
	}
}

// page converts a block command argument into a page index.
func (c *Card) page(arg uint32) (uint32, protocol.R1) {
	page := arg
	if c.config.Kind != KindSDHC {
		if arg%protocol.PageSize != 0 {
			return 0, protocol.R1AddressError
		}
		page = arg / protocol.PageSize
	}
	if page >= c.csd.Pages() {
		return 0, protocol.R1ParameterError
	}
	return page, 0
}

// commitWrite checks the CRC16 of a received block and stores it.
func (c *Card) commitWrite() {
	c.state = stateReady

	payload := c.block[:protocol.PageSize]
	received := uint16(c.block[protocol.PageSize])<<8 | uint16(c.block[protocol.PageSize+1])

	token := byte(tokenAccepted)
	switch {
	case c.writeToken != 0:
		token = c.writeToken
	case received != protocol.CRC16Bytes(payload):
		token = tokenCRCError
	default:
		if _, err := c.media.WriteAt(payload, int64(c.writeAddr)*protocol.PageSize); err != nil {
			token = tokenWriteError
		}
	}

	c.queue = append(c.queue[:0], token)
	if token == tokenAccepted {
		c.stats.BlocksWritten++
		for i := 0; i < c.config.BusyBytes; i++ {
			c.queue = append(c.queue, protocol.BusyByte)
		}
	} else {
		c.stats.WritesRejected++
	}
}
