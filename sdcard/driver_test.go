package sdcard

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/go-restruct/restruct"

	"github.com/moffa90/go-sdlog/nvstore"
	"github.com/moffa90/go-sdlog/protocol"
	"github.com/moffa90/go-sdlog/sdsim"
)

// Mock logger for testing
type MockLogger struct {
	debugMsgs []string
	infoMsgs  []string
	errorMsgs []string
}

func (l *MockLogger) Debug(msg string, kv ...any) {
	l.debugMsgs = append(l.debugMsgs, msg)
}

func (l *MockLogger) Info(msg string, kv ...any) {
	l.infoMsgs = append(l.infoMsgs, msg)
}

func (l *MockLogger) Error(msg string, kv ...any) {
	l.errorMsgs = append(l.errorMsgs, msg)
}

// recordingBus wraps a simulated card and keeps every byte the host sent,
// split by chip select state.
type recordingBus struct {
	*sdsim.Card
	selected []byte
	released []byte
}

func (b *recordingBus) Exchange(out byte) (byte, error) {
	if b.Card.Selected() {
		b.selected = append(b.selected, out)
	} else {
		b.released = append(b.released, out)
	}
	return b.Card.Exchange(out)
}

func newTestDriver(bus Transport, store Store, opts ...Option) *Driver {
	opts = append([]Option{WithPowerUpDelay(0), WithSettleDelay(0)}, opts...)
	return New(bus, store, opts...)
}

func initDriver(t *testing.T, card *sdsim.Card, store Store, opts ...Option) *Driver {
	t.Helper()
	d := newTestDriver(card, store, opts...)
	if err := d.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	return d
}

func TestNew(t *testing.T) {
	card := sdsim.New()
	mem := nvstore.NewMemory(32)

	tests := []struct {
		name string
		opts []Option
	}{
		{
			name: "default options",
			opts: nil,
		},
		{
			name: "with options",
			opts: []Option{
				WithLogger(&MockLogger{}),
				WithClockRates(100_000, 8_000_000),
				WithRecordAddress(4),
				WithInitRetries(10),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := New(card, mem, tt.opts...)
			if d == nil {
				t.Fatal("New() returned nil")
			}
			if d.Ready() {
				t.Error("new driver reports ready")
			}
		})
	}
}

func TestNewNilArguments(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("New() with nil transport did not panic")
		}
	}()
	New(nil, nvstore.NewMemory(32))
}

func TestInitializeCardKinds(t *testing.T) {
	tests := []struct {
		name         string
		kind         sdsim.Kind
		pages        uint32
		version      protocol.Version
		highCapacity bool
		steps        []Step
	}{
		{
			name:         "sdhc",
			kind:         sdsim.KindSDHC,
			pages:        8192,
			version:      protocol.Version2,
			highCapacity: true,
			steps: []Step{
				StepPowerUp, StepSPIMode, StepVoltageCheck,
				StepVoltageStatus, StepVoltageRange, StepVoltageEcho,
				StepClockRate, StepInitStarted, StepInitWaited, StepOCRRead,
				StepCIDRead, StepCSDRead, StepDoneHighCapacity,
			},
		},
		{
			name:    "sdsc version 2",
			kind:    sdsim.KindSDSCv2,
			pages:   2048,
			version: protocol.Version2,
			steps: []Step{
				StepPowerUp, StepSPIMode, StepVoltageCheck,
				StepVoltageStatus, StepVoltageRange, StepVoltageEcho,
				StepClockRate, StepInitStarted, StepInitWaited, StepOCRRead,
				StepCIDRead, StepCSDRead, StepDoneStandard,
			},
		},
		{
			name:    "sdsc version 1",
			kind:    sdsim.KindSDSCv1,
			pages:   64,
			version: protocol.Version1,
			steps: []Step{
				StepPowerUp, StepSPIMode, StepVoltageCheck,
				StepClockRate, StepInitStarted, StepInitWaited,
				StepCIDRead, StepCSDRead, StepDoneStandard,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			card := sdsim.New(sdsim.WithKind(tt.kind), sdsim.WithPages(tt.pages))

			var steps []Step
			d := initDriver(t, card, nvstore.NewMemory(32),
				WithStepCallback(func(r StepReport) {
					steps = append(steps, r.Step)
				}),
			)

			if d.Version() != tt.version {
				t.Errorf("Version() = %s, want %s", d.Version(), tt.version)
			}
			if d.HighCapacity() != tt.highCapacity {
				t.Errorf("HighCapacity() = %v, want %v", d.HighCapacity(), tt.highCapacity)
			}
			if d.TotalPages() != tt.pages {
				t.Errorf("TotalPages() = %d, want %d", d.TotalPages(), tt.pages)
			}
			if d.CID() != sdsim.DefaultCID() {
				t.Errorf("CID() = %s", d.CID())
			}
			if !d.Ready() {
				t.Error("Ready() = false after Initialize")
			}

			if len(steps) != len(tt.steps) {
				t.Fatalf("steps = %v, want %v", steps, tt.steps)
			}
			for i := range steps {
				if steps[i] != tt.steps[i] {
					t.Errorf("step %d = %s, want %s", i, steps[i], tt.steps[i])
				}
			}
			if d.LastStep().Step != tt.steps[len(tt.steps)-1] {
				t.Errorf("LastStep() = %s", d.LastStep().Step)
			}
		})
	}
}

func TestInitializeWireBytes(t *testing.T) {
	bus := &recordingBus{Card: sdsim.New()}
	d := newTestDriver(bus, nvstore.NewMemory(32))

	if err := d.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	if len(bus.released) < protocol.PowerUpClocks {
		t.Fatalf("sent %d bytes with CS high, want at least %d", len(bus.released), protocol.PowerUpClocks)
	}
	for i, b := range bus.released[:protocol.PowerUpClocks] {
		if b != protocol.IdleByte {
			t.Errorf("power-up byte %d = 0x%02X, want 0xFF", i, b)
		}
	}

	cmd0 := []byte{0x40, 0x00, 0x00, 0x00, 0x00, 0x95}
	if !bytes.HasPrefix(bus.selected, cmd0) {
		t.Errorf("first selected bytes = % X, want % X", bus.selected[:6], cmd0)
	}
	cmd8 := []byte{0x48, 0x00, 0x00, 0x01, 0xAA, 0x87}
	if !bytes.Contains(bus.selected, cmd8) {
		t.Error("CMD8 frame with 0x1AA argument not sent")
	}
	acmd41 := []byte{0x69, 0x40, 0x00, 0x00, 0x00, 0x77}
	if !bytes.Contains(bus.selected, acmd41) {
		t.Error("ACMD41 frame with HCS not sent")
	}

	if bus.ClockRate() != 4_000_000 {
		t.Errorf("clock rate = %d, want 4000000", bus.ClockRate())
	}
	if bus.Selected() {
		t.Error("chip select left asserted")
	}
}

func TestInitializeFailures(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(*sdsim.Card)
		opts     []Option
		lastStep Step
		check    func(t *testing.T, err error)
	}{
		{
			name:     "no response to CMD0",
			setup:    func(c *sdsim.Card) { c.Fail(protocol.CmdGoIdleState, protocol.IdleByte) },
			lastStep: StepSPIMode,
			check: func(t *testing.T, err error) {
				var se *protocol.StatusError
				if !errors.As(err, &se) || se.Command != protocol.CmdGoIdleState {
					t.Errorf("error = %v, want CMD0 StatusError", err)
				}
			},
		},
		{
			name:     "CMD8 with unexpected flags",
			setup:    func(c *sdsim.Card) { c.Fail(protocol.CmdSendIfCond, 0x09) },
			lastStep: StepVoltageCheck,
			check: func(t *testing.T, err error) {
				var se *protocol.StatusError
				if !errors.As(err, &se) || se.Status != 0x09 {
					t.Errorf("error = %v, want CMD8 StatusError 0x09", err)
				}
			},
		},
		{
			name:     "voltage not accepted",
			setup:    func(c *sdsim.Card) { c.SetVoltage(0x02) },
			lastStep: StepVoltageRange,
			check: func(t *testing.T, err error) {
				var ue *UnsupportedCardError
				if !errors.As(err, &ue) {
					t.Errorf("error = %v, want UnsupportedCardError", err)
				}
			},
		},
		{
			name:     "check pattern not echoed",
			setup:    func(c *sdsim.Card) { c.SetEcho(0x55) },
			lastStep: StepVoltageEcho,
			check: func(t *testing.T, err error) {
				var ue *UnsupportedCardError
				if !errors.As(err, &ue) || ue.Value != 0x55 {
					t.Errorf("error = %v, want UnsupportedCardError 0x55", err)
				}
			},
		},
		{
			name:     "ACMD41 error",
			setup:    func(c *sdsim.Card) { c.Fail(protocol.ACmdSendOpCond, 0x05) },
			lastStep: StepInitStarted,
			check: func(t *testing.T, err error) {
				if !protocol.IsStatusError(errors.Unwrap(err)) {
					t.Errorf("error = %v, want StatusError", err)
				}
			},
		},
		{
			name:     "ACMD41 retries exhausted",
			setup:    func(c *sdsim.Card) {},
			opts:     []Option{WithInitRetries(3)},
			lastStep: StepInitStarted,
			check: func(t *testing.T, err error) {
				var te *TimeoutError
				if !errors.As(err, &te) || te.Polls != 3 {
					t.Errorf("error = %v, want TimeoutError after 3 polls", err)
				}
			},
		},
		{
			name:     "OCR read error",
			setup:    func(c *sdsim.Card) { c.Fail(protocol.CmdReadOCR, protocol.R1IllegalCommand) },
			lastStep: StepOCRRead,
			check: func(t *testing.T, err error) {
				var se *protocol.StatusError
				if !errors.As(err, &se) || se.Command != protocol.CmdReadOCR {
					t.Errorf("error = %v, want CMD58 StatusError", err)
				}
			},
		},
		{
			name: "CID read error confirmed by status",
			setup: func(c *sdsim.Card) {
				c.Fail(protocol.CmdSendCID, protocol.R1ParameterError)
				c.Fail(protocol.CmdSendStatus, protocol.R1ParameterError)
			},
			lastStep: StepCIDRead,
			check: func(t *testing.T, err error) {
				var ce *CardStatusError
				if !errors.As(err, &ce) || ce.Command != protocol.CmdSendCID {
					t.Errorf("error = %v, want CardStatusError for CMD10", err)
				}
			},
		},
		{
			name: "CSD read error confirmed by status",
			setup: func(c *sdsim.Card) {
				c.Fail(protocol.CmdSendCSD, protocol.R1ParameterError)
				c.Fail(protocol.CmdSendStatus, protocol.R1AddressError)
			},
			lastStep: StepCSDRead,
			check: func(t *testing.T, err error) {
				var ce *CardStatusError
				if !errors.As(err, &ce) || ce.Command != protocol.CmdSendCSD {
					t.Errorf("error = %v, want CardStatusError for CMD9", err)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			card := sdsim.New(sdsim.WithKind(sdsim.KindSDHC), sdsim.WithInitPolls(5))
			tt.setup(card)

			logger := &MockLogger{}
			d := newTestDriver(card, nvstore.NewMemory(32), append(tt.opts, WithLogger(logger))...)

			err := d.Initialize(context.Background())
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			tt.check(t, err)

			if d.LastStep().Step != tt.lastStep {
				t.Errorf("LastStep() = %s, want %s", d.LastStep().Step, tt.lastStep)
			}
			if d.Version() != protocol.VersionUnknown {
				t.Errorf("Version() = %s after failure, want unknown", d.Version())
			}
			if d.Ready() {
				t.Error("Ready() = true after failure")
			}
			if len(logger.errorMsgs) == 0 {
				t.Error("expected an error log message")
			}
			if _, err := d.ReadByte(); !errors.Is(err, ErrNotInitialized) {
				t.Errorf("ReadByte() error = %v, want ErrNotInitialized", err)
			}
			if err := d.WriteByte(0); !errors.Is(err, ErrNotInitialized) {
				t.Errorf("WriteByte() error = %v, want ErrNotInitialized", err)
			}
		})
	}
}

func TestInitializeCIDErrorWithCleanStatus(t *testing.T) {
	card := sdsim.New()
	card.Fail(protocol.CmdSendCID, protocol.R1ParameterError)

	d := initDriver(t, card, nvstore.NewMemory(32))

	if d.CID() != (protocol.CID{}) {
		t.Errorf("CID() = %s, want zero register", d.CID())
	}
	if card.Stats().Commands[protocol.CmdSendStatus] != 1 {
		t.Error("CMD13 not used to confirm the CID failure")
	}
}

func TestInitializeContextCancelled(t *testing.T) {
	card := sdsim.New(sdsim.WithInitPolls(100))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := newTestDriver(card, nvstore.NewMemory(32))
	err := d.Initialize(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Initialize() error = %v, want context.Canceled", err)
	}
}

func TestInitializeHighCapacityWithoutHCSNeverReady(t *testing.T) {
	// A version 1 host never sends HCS; the simulated SDHC card then stays
	// idle, which only a retry bound ends.
	card := sdsim.New(sdsim.WithKind(sdsim.KindSDHC))
	card.Fail(protocol.CmdSendIfCond, protocol.R1Idle|protocol.R1IllegalCommand)

	d := newTestDriver(card, nvstore.NewMemory(32), WithInitRetries(4))
	err := d.Initialize(context.Background())

	var te *TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("Initialize() error = %v, want TimeoutError", err)
	}
}

func TestInitializeBusError(t *testing.T) {
	card := sdsim.New()
	boom := errors.New("spi: device gone")
	card.SetBusError(boom)

	d := newTestDriver(card, nvstore.NewMemory(32))
	if err := d.Initialize(context.Background()); !errors.Is(err, boom) {
		t.Errorf("Initialize() error = %v, want %v", err, boom)
	}
}

func TestInitializeResponseTimeout(t *testing.T) {
	card := sdsim.New(sdsim.WithResponseDelay(protocol.ResponseRetries))

	d := newTestDriver(card, nvstore.NewMemory(32))
	err := d.Initialize(context.Background())

	var se *protocol.StatusError
	if !errors.As(err, &se) || se.Status.Valid() {
		t.Errorf("Initialize() error = %v, want no-response StatusError", err)
	}
}

func TestInitializeWithLogging(t *testing.T) {
	logger := &MockLogger{}
	initDriver(t, sdsim.New(), nvstore.NewMemory(32), WithLogger(logger))

	if len(logger.infoMsgs) == 0 {
		t.Error("expected info log messages, got none")
	}
	if len(logger.debugMsgs) == 0 {
		t.Error("expected debug log messages, got none")
	}
}

func TestInitializeAgainAfterPowerCycle(t *testing.T) {
	card := sdsim.New()
	mem := nvstore.NewMemory(32)
	d := initDriver(t, card, mem)

	if _, err := d.Write(bytes.Repeat([]byte{0x5A}, protocol.PageSize)); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	card.PowerCycle()
	if err := d.Initialize(context.Background()); err != nil {
		t.Fatalf("second Initialize() error = %v", err)
	}
	if _, w := d.Cursors(); w != 1 {
		t.Errorf("write cursor = %d after re-initialize, want 1", w)
	}
}

func TestInitializeResetsRecordOfAnotherCard(t *testing.T) {
	card := sdsim.New()
	mem := nvstore.NewMemory(32)
	seedRecord(t, mem, sdsim.NewCID(0x03, 0x12345678), 7, 9)

	d := initDriver(t, card, mem)

	if r, w := d.Cursors(); r != 0 || w != 0 {
		t.Errorf("Cursors() = %d, %d, want 0, 0", r, w)
	}
	if !d.Recovery().CardChanged {
		t.Error("Recovery().CardChanged = false")
	}

	var rec positionRecord
	if err := restruct.Unpack(mem.Bytes()[:recordSize], recordOrder, &rec); err != nil {
		t.Fatalf("unpack record: %v", err)
	}
	if rec.identity() != identityOf(sdsim.DefaultCID()) {
		t.Errorf("stored identity = %+v, want the current card", rec.identity())
	}
	if rec.ReadPage1 != 0 || rec.ReadPage2 != 0 || rec.WritePage1 != 0 || rec.WritePage2 != 0 {
		t.Errorf("stored cursors = %+v, want zero", rec)
	}
}
