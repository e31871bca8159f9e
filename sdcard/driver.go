package sdcard

import (
	"context"
	"fmt"
	"time"

	"github.com/moffa90/go-sdlog/protocol"
)

// mode is the block the driver currently has open on the card.
// Reading and writing are exclusive by construction.
type mode int

const (
	modeIdle mode = iota
	modeReading
	modeWriting
)

func (m mode) String() string {
	switch m {
	case modeReading:
		return "reading"
	case modeWriting:
		return "writing"
	default:
		return "idle"
	}
}

// Driver negotiates with an SD card over SPI and streams bytes through
// whole 512-byte blocks, keeping a circular read cursor and write cursor
// in a power-fail-safe record.
//
// Driver is not safe for concurrent use. It owns the bus and the store.
type Driver struct {
	bus    Transport
	record recordStore
	config Config

	version      protocol.Version
	highCapacity bool
	totalPages   uint32
	cid          protocol.CID
	csd          protocol.CSD

	readPage  uint32
	writePage uint32
	offset    int
	mode      mode
	crc       uint16

	ready    bool
	lastStep StepReport
	transfer TransferStatus
	recovery Recovery
}

// New creates a new Driver for the card behind bus, keeping its position
// record in store.
//
// Example:
//
//	card := sdcard.New(bus, eeprom,
//	    sdcard.WithLogger(slog.Default()),
//	    sdcard.WithRecordAddress(0),
//	)
//	if err := card.Initialize(ctx); err != nil {
//	    log.Fatal(err)
//	}
func New(bus Transport, store Store, opts ...Option) *Driver {
	if bus == nil {
		panic("transport cannot be nil")
	}
	if store == nil {
		panic("store cannot be nil")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Driver{
		bus:    bus,
		record: recordStore{store: store, base: cfg.RecordAddress},
		config: cfg,
	}
}

// Initialize performs the negotiation sequence:
//  1. Power up: slow clock, 74+ clocks with chip select high
//  2. CMD0 to enter SPI mode
//  3. CMD8 to tell version 1 from version 2 cards
//  4. Switch to the fast clock
//  5. ACMD41 until the card leaves idle state
//  6. CMD58 to read the capacity class (version 2)
//  7. CMD16 to fix the block length at 512
//  8. Read CID and CSD
//  9. Recover the cursors from the position record
//
// Every step is reported to the StepCallback. On failure the driver stays
// uninitialized and the last reported step tells where it stopped.
// The context is checked while the card is initializing.
func (d *Driver) Initialize(ctx context.Context) error {
	d.ready = false
	d.version = protocol.VersionUnknown
	d.highCapacity = false
	d.totalPages = 0
	d.mode = modeIdle
	d.offset = 0
	d.transfer = TransferStatus{}
	d.recovery = Recovery{}

	if err := d.negotiate(ctx); err != nil {
		d.version = protocol.VersionUnknown
		d.logError("initialization failed", "step", d.lastStep.Step.String(), "error", err)
		return fmt.Errorf("initialize: %w", err)
	}

	d.ready = true
	d.logInfo("card ready",
		"version", d.version.String(),
		"high_capacity", d.highCapacity,
		"pages", d.totalPages,
		"read_page", d.readPage,
		"write_page", d.writePage)
	return nil
}

func (d *Driver) negotiate(ctx context.Context) error {
	// Phase 1: Power up
	if err := d.bus.SetClockRate(d.config.SlowClockHz); err != nil {
		return fmt.Errorf("set clock rate: %w", err)
	}
	time.Sleep(d.config.PowerUpDelay)
	if err := d.bus.Release(); err != nil {
		return fmt.Errorf("release: %w", err)
	}
	for i := 0; i < protocol.PowerUpClocks; i++ {
		if _, err := d.exchange(protocol.IdleByte); err != nil {
			return err
		}
	}
	d.report(StepPowerUp, 0)

	// Phase 2: Enter SPI mode
	r1, err := d.command(protocol.CmdGoIdleState, 0)
	if err != nil {
		return err
	}
	d.report(StepSPIMode, r1)
	if r1 != protocol.R1Idle {
		return &protocol.StatusError{Command: protocol.CmdGoIdleState, Status: r1}
	}

	// Phase 3: Interface condition
	resp, err := d.send(protocol.CmdSendIfCond, protocol.IfCondArgument)
	if err != nil {
		return err
	}
	r7, err := protocol.ParseR7(resp)
	if err != nil {
		return err
	}
	d.report(StepVoltageCheck, r7.R1)

	var opCondArg uint32
	switch {
	case r7.R1.IllegalCommand() && r7.R1&^(protocol.R1Idle|protocol.R1IllegalCommand) == 0:
		d.version = protocol.Version1
	case r7.R1 == protocol.R1Idle:
		d.version = protocol.Version2
		opCondArg = protocol.ArgHighCapacitySupport
	default:
		return &protocol.StatusError{Command: protocol.CmdSendIfCond, Status: r7.R1}
	}

	if d.version == protocol.Version2 {
		d.report(StepVoltageStatus, r7.R1)
		d.report(StepVoltageRange, protocol.R1(r7.Voltage))
		if r7.Voltage != protocol.IfCondVoltage {
			return &UnsupportedCardError{Reason: "voltage range not accepted", Value: uint32(r7.Voltage)}
		}
		d.report(StepVoltageEcho, protocol.R1(r7.Echo))
		if r7.Echo != protocol.IfCondCheckPattern {
			return &UnsupportedCardError{Reason: "check pattern not echoed", Value: uint32(r7.Echo)}
		}
	}

	// Phase 4: Operating clock
	if err := d.bus.SetClockRate(d.config.FastClockHz); err != nil {
		return fmt.Errorf("set clock rate: %w", err)
	}
	time.Sleep(d.config.SettleDelay)
	d.report(StepClockRate, 0)

	// Phase 5: Card initialization
	r1, err = d.appCommand(protocol.ACmdSendOpCond, opCondArg)
	if err != nil {
		return err
	}
	d.report(StepInitStarted, r1)
	if r1&^protocol.R1Idle != 0 {
		return &protocol.StatusError{Command: protocol.ACmdSendOpCond, Status: r1}
	}

	for polls := 1; r1 == protocol.R1Idle; polls++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.config.InitRetries > 0 && polls > d.config.InitRetries {
			return &TimeoutError{Operation: "ACMD41", Polls: polls - 1, Last: byte(r1)}
		}
		if r1, err = d.appCommand(protocol.ACmdSendOpCond, opCondArg); err != nil {
			return err
		}
	}
	d.report(StepInitWaited, r1)
	if r1 != 0 {
		return &protocol.StatusError{Command: protocol.ACmdSendOpCond, Status: r1}
	}

	// Phase 6: Capacity class
	if d.version == protocol.Version2 {
		resp, err := d.send(protocol.CmdReadOCR, 0)
		if err != nil {
			return err
		}
		r3, err := protocol.ParseR3(resp)
		if err != nil {
			return err
		}
		d.highCapacity = r3.OCR.HighCapacity()
		d.report(StepOCRRead, r3.R1)
		if r3.R1 != 0 {
			return &protocol.StatusError{Command: protocol.CmdReadOCR, Status: r3.R1}
		}
	}

	// Phase 7: Block length
	if r1, err = d.command(protocol.CmdSetBlockLen, protocol.PageSize); err != nil {
		return err
	}
	if r1.HasError() || !r1.Valid() {
		return &protocol.StatusError{Command: protocol.CmdSetBlockLen, Status: r1}
	}

	// Phase 8: Identification
	cid, err := d.readIdentity(protocol.CmdSendCID, StepCIDRead)
	if err != nil {
		return err
	}
	d.cid = cid

	csd, err := d.readIdentity(protocol.CmdSendCSD, StepCSDRead)
	if err != nil {
		return err
	}
	d.csd = csd

	d.totalPages = d.csd.Pages()
	if d.totalPages == 0 {
		return &UnsupportedCardError{Reason: "card reports no capacity", Value: d.csd.DeviceSize()}
	}

	// Phase 9: Positions
	if err := d.recoverPositions(); err != nil {
		return err
	}

	if d.highCapacity {
		d.report(StepDoneHighCapacity, 0)
	} else {
		d.report(StepDoneStandard, 0)
	}
	return nil
}

// readIdentity reads a register block. A non-zero R1 only fails the read
// when CMD13 confirms a non-zero card status.
func (d *Driver) readIdentity(cmd protocol.Command, step Step) ([protocol.RegisterSize]byte, error) {
	reg, r1, err := d.readRegister(cmd)
	if err != nil {
		return reg, err
	}
	d.report(step, r1)
	if r1.Ready() {
		return reg, nil
	}

	status, err := d.cardStatus()
	if err != nil {
		return reg, err
	}
	if status != 0 {
		return reg, &CardStatusError{Command: cmd, Status: status}
	}
	return reg, nil
}

// report records a step and passes it to the step callback.
func (d *Driver) report(step Step, r1 protocol.R1) {
	d.lastStep = StepReport{Step: step, R1: r1, Version: d.version}
	d.logDebug("step", "step", step.String(), "r1", r1.String(), "version", d.version.String())
	if d.config.StepCallback != nil {
		d.config.StepCallback(d.lastStep)
	}
}

// Ready reports whether Initialize completed successfully.
func (d *Driver) Ready() bool {
	return d.ready
}

// LastStep returns the last negotiation step reached.
func (d *Driver) LastStep() StepReport {
	return d.lastStep
}

// Version returns the detected card version, VersionUnknown before a
// successful Initialize.
func (d *Driver) Version() protocol.Version {
	return d.version
}

// HighCapacity reports whether the card is block addressed (SDHC/SDXC).
func (d *Driver) HighCapacity() bool {
	return d.highCapacity
}

// TotalPages returns the card capacity in 512-byte pages.
func (d *Driver) TotalPages() uint32 {
	return d.totalPages
}

// CID returns the card identification register read at Initialize.
func (d *Driver) CID() protocol.CID {
	return d.cid
}

// CSD returns the card-specific data register read at Initialize.
func (d *Driver) CSD() protocol.CSD {
	return d.csd
}

// LastTransfer returns the status of the most recent block transfer.
func (d *Driver) LastTransfer() TransferStatus {
	return d.transfer
}

// Recovery returns what Initialize found in the position record.
func (d *Driver) Recovery() Recovery {
	return d.recovery
}

// Cursors returns the read and write page cursors.
func (d *Driver) Cursors() (read, write uint32) {
	return d.readPage, d.writePage
}

// Backlog returns the number of pages written but not read yet.
func (d *Driver) Backlog() uint32 {
	if d.totalPages == 0 {
		return 0
	}
	return (d.writePage + d.totalPages - d.readPage) % d.totalPages
}

// State is a snapshot of the driver position.
type State struct {
	Version      protocol.Version
	HighCapacity bool
	TotalPages   uint32
	ReadPage     uint32
	WritePage    uint32

	// Offset is the position inside the open block
	Offset int

	Reading bool
	Writing bool
}

// State returns a snapshot of the driver position.
func (d *Driver) State() State {
	return State{
		Version:      d.version,
		HighCapacity: d.highCapacity,
		TotalPages:   d.totalPages,
		ReadPage:     d.readPage,
		WritePage:    d.writePage,
		Offset:       d.offset,
		Reading:      d.mode == modeReading,
		Writing:      d.mode == modeWriting,
	}
}

func (d *Driver) logDebug(msg string, keysAndValues ...any) {
	if d.config.Logger != nil {
		d.config.Logger.Debug(msg, keysAndValues...)
	}
}

func (d *Driver) logInfo(msg string, keysAndValues ...any) {
	if d.config.Logger != nil {
		d.config.Logger.Info(msg, keysAndValues...)
	}
}

func (d *Driver) logError(msg string, keysAndValues ...any) {
	if d.config.Logger != nil {
		d.config.Logger.Error(msg, keysAndValues...)
	}
}
