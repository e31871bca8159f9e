package sdsim

import (
	"bytes"
	"testing"

	"github.com/moffa90/go-sdlog/protocol"
)

// transact sends frame with chip select asserted and returns the next n
// bytes the card clocks out.
func transact(t *testing.T, c *Card, frame []byte, n int) []byte {
	t.Helper()
	if err := c.Select(); err != nil {
		t.Fatal(err)
	}
	defer c.Release()

	for _, b := range frame {
		if _, err := c.Exchange(b); err != nil {
			t.Fatal(err)
		}
	}
	out := make([]byte, n)
	for i := range out {
		out[i], _ = c.Exchange(protocol.IdleByte)
	}
	return out
}

func command(t *testing.T, c *Card, cmd protocol.Command, arg uint32, n int) []byte {
	t.Helper()
	frame, err := protocol.BuildCommandFrame(cmd, arg)
	if err != nil {
		t.Fatal(err)
	}
	return transact(t, c, frame, n)
}

// bringUp runs the minimal initialization sequence.
func bringUp(t *testing.T, c *Card) {
	t.Helper()
	command(t, c, protocol.CmdGoIdleState, 0, 2)
	for i := 0; i < 10; i++ {
		command(t, c, protocol.CmdAppCmd, 0, 2)
		resp := command(t, c, protocol.ACmdSendOpCond, protocol.ArgHighCapacitySupport, 2)
		if resp[1] == 0x00 {
			return
		}
	}
	t.Fatal("card never left idle state")
}

func TestIgnoresBytesWhileReleased(t *testing.T) {
	c := New()
	frame, _ := protocol.BuildCommandFrame(protocol.CmdGoIdleState, 0)
	for _, b := range frame {
		if in, _ := c.Exchange(b); in != protocol.IdleByte {
			t.Fatalf("released card drove 0x%02X", in)
		}
	}

	resp := transact(t, c, nil, 4)
	if !bytes.Equal(resp, []byte{0xFF, 0xFF, 0xFF, 0xFF}) {
		t.Errorf("card answered a command sent while released: % X", resp)
	}
}

func TestGoIdleState(t *testing.T) {
	c := New(WithResponseDelay(2))
	resp := command(t, c, protocol.CmdGoIdleState, 0, 4)
	if !bytes.Equal(resp, []byte{0xFF, 0xFF, 0x01, 0xFF}) {
		t.Errorf("CMD0 response = % X", resp)
	}
}

func TestCommandCRCError(t *testing.T) {
	c := New()
	frame, _ := protocol.BuildCommandFrame(protocol.CmdGoIdleState, 0)
	frame[5] ^= 0x02

	resp := transact(t, c, frame, 2)
	if resp[1] != protocol.R1Idle|protocol.R1CommandCRCError {
		t.Errorf("R1 = 0x%02X, want CRC error", resp[1])
	}
}

func TestSendIfCond(t *testing.T) {
	tests := []struct {
		kind Kind
		want []byte
	}{
		{KindSDHC, []byte{0x01, 0x00, 0x00, 0x01, 0xAA}},
		{KindSDSCv2, []byte{0x01, 0x00, 0x00, 0x01, 0xAA}},
		{KindSDSCv1, []byte{0x05, 0xFF, 0xFF, 0xFF, 0xFF}},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			c := New(WithKind(tt.kind))
			command(t, c, protocol.CmdGoIdleState, 0, 2)
			resp := command(t, c, protocol.CmdSendIfCond, protocol.IfCondArgument, 6)
			if !bytes.Equal(resp[1:], tt.want) {
				t.Errorf("CMD8 response = % X, want % X", resp[1:], tt.want)
			}
		})
	}
}

func TestOpCondNeedsApplicationPrefix(t *testing.T) {
	c := New()
	command(t, c, protocol.CmdGoIdleState, 0, 2)

	resp := command(t, c, protocol.ACmdSendOpCond, protocol.ArgHighCapacitySupport, 2)
	if resp[1] != protocol.R1Idle|protocol.R1IllegalCommand {
		t.Errorf("CMD41 without CMD55 = 0x%02X, want illegal", resp[1])
	}
}

func TestInitPolls(t *testing.T) {
	c := New(WithInitPolls(3))
	command(t, c, protocol.CmdGoIdleState, 0, 2)

	var answers []byte
	for i := 0; i < 4; i++ {
		command(t, c, protocol.CmdAppCmd, 0, 2)
		resp := command(t, c, protocol.ACmdSendOpCond, protocol.ArgHighCapacitySupport, 2)
		answers = append(answers, resp[1])
	}
	if !bytes.Equal(answers, []byte{0x01, 0x01, 0x01, 0x00}) {
		t.Errorf("ACMD41 answers = % X", answers)
	}
}

func TestReadOCR(t *testing.T) {
	c := New(WithKind(KindSDHC))
	bringUp(t, c)

	resp := command(t, c, protocol.CmdReadOCR, 0, 6)
	r3, err := protocol.ParseR3(protocol.NewResponse(protocol.ShapeR3, resp[1:]))
	if err != nil {
		t.Fatal(err)
	}
	if !r3.OCR.PowerUpDone() || !r3.OCR.HighCapacity() {
		t.Errorf("OCR = 0x%08X, want power up and CCS", uint32(r3.OCR))
	}
}

func TestCommandsBeforeInit(t *testing.T) {
	c := New()
	command(t, c, protocol.CmdGoIdleState, 0, 2)

	resp := command(t, c, protocol.CmdReadSingleBlock, 0, 2)
	if resp[1] != protocol.R1Idle|protocol.R1IllegalCommand {
		t.Errorf("CMD17 before init = 0x%02X, want idle and illegal", resp[1])
	}
}

func TestBlockRoundTrip(t *testing.T) {
	c := New()
	bringUp(t, c)

	payload := bytes.Repeat([]byte{0xA5, 0x5A}, protocol.PageSize/2)
	crc := protocol.CRC16Bytes(payload)

	command(t, c, protocol.CmdWriteBlock, 7, 2)
	frame := append([]byte{protocol.StartBlockToken}, payload...)
	frame = append(frame, byte(crc>>8), byte(crc))
	resp := transact(t, c, frame, 4)
	if resp[0]&0x1F != tokenAccepted {
		t.Fatalf("data response = 0x%02X, want accepted", resp[0])
	}
	if !bytes.Equal(resp[1:], []byte{0x00, 0x00, 0xFF}) {
		t.Errorf("busy bytes = % X", resp[1:])
	}

	got := command(t, c, protocol.CmdReadSingleBlock, 7, 2+2+1+protocol.PageSize+2)
	data := got[4:]
	if data[0] != protocol.StartBlockToken {
		t.Fatalf("start token = 0x%02X", data[0])
	}
	if !bytes.Equal(data[1:1+protocol.PageSize], payload) {
		t.Error("read payload differs")
	}
	if rcrc := uint16(data[1+protocol.PageSize])<<8 | uint16(data[2+protocol.PageSize]); rcrc != crc {
		t.Errorf("read CRC16 = 0x%04X, want 0x%04X", rcrc, crc)
	}

	stats := c.Stats()
	if stats.BlocksWritten != 1 || stats.BlocksRead != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestWriteBadCRC(t *testing.T) {
	c := New()
	bringUp(t, c)

	command(t, c, protocol.CmdWriteBlock, 1, 2)
	frame := append([]byte{protocol.StartBlockToken}, make([]byte, protocol.PageSize)...)
	frame = append(frame, 0x12, 0x34)
	resp := transact(t, c, frame, 1)

	if resp[0] != tokenCRCError {
		t.Errorf("data response = 0x%02X, want CRC error", resp[0])
	}
	if c.Stats().WritesRejected != 1 {
		t.Error("rejected write not counted")
	}
}

func TestStandardCapacityAddressCheck(t *testing.T) {
	c := New(WithKind(KindSDSCv2), WithPages(64))
	bringUp(t, c)

	resp := command(t, c, protocol.CmdReadSingleBlock, 100, 2)
	if resp[1] != protocol.R1AddressError {
		t.Errorf("misaligned read = 0x%02X, want address error", resp[1])
	}

	resp = command(t, c, protocol.CmdReadSingleBlock, 64*protocol.PageSize, 2)
	if resp[1] != protocol.R1ParameterError {
		t.Errorf("read past the end = 0x%02X, want parameter error", resp[1])
	}
}

func TestBuildCSD(t *testing.T) {
	tests := []struct {
		kind  Kind
		pages uint32
	}{
		{KindSDHC, 8192},
		{KindSDHC, 1024},
		{KindSDSCv1, 64},
		{KindSDSCv1, 4},
		{KindSDSCv2, 2048},
		{KindSDSCv2, 1 << 21},
	}

	for _, tt := range tests {
		csd, err := buildCSD(tt.kind, tt.pages)
		if err != nil {
			t.Errorf("buildCSD(%s, %d) error = %v", tt.kind, tt.pages, err)
			continue
		}
		if got := csd.Pages(); got != tt.pages {
			t.Errorf("buildCSD(%s, %d).Pages() = %d", tt.kind, tt.pages, got)
		}
	}
}

func TestCheckPagesRejectsUnencodable(t *testing.T) {
	tests := []struct {
		kind  Kind
		pages uint32
	}{
		{KindSDSCv1, 3},
		{KindSDSCv2, 2},
		{KindSDSCv2, 4097 * 4},
		{KindSDSCv1, 1<<22 + 512},
		{KindSDHC, 100},
		{KindSDHC, 1500},
	}

	for _, tt := range tests {
		if err := CheckPages(tt.kind, tt.pages); err == nil {
			t.Errorf("CheckPages(%s, %d) = nil, want error", tt.kind, tt.pages)
		}
	}
}

func TestNewPanicsOnUnencodablePages(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("New() did not panic for 3 pages")
		}
	}()
	New(WithKind(KindSDSCv2), WithPages(3))
}

func TestMemoryMediaSpansPages(t *testing.T) {
	m := newMemoryMedia()
	data := bytes.Repeat([]byte{0x77}, 700)

	if _, err := m.WriteAt(data, 400); err != nil {
		t.Fatal(err)
	}

	got := make([]byte, 1200)
	if _, err := m.ReadAt(got, 0); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got[400:1100], data) {
		t.Error("data across the page boundary differs")
	}
	if got[399] != 0 || got[1100] != 0 {
		t.Error("bytes around the write are not zero")
	}
	if len(m.pages) != 3 {
		t.Errorf("allocated %d pages, want 3", len(m.pages))
	}
}

func TestParseKind(t *testing.T) {
	for _, k := range []Kind{KindSDSCv1, KindSDSCv2, KindSDHC} {
		got, err := ParseKind(k.String())
		if err != nil || got != k {
			t.Errorf("ParseKind(%q) = %v, %v", k.String(), got, err)
		}
	}
	if _, err := ParseKind("mmc"); err == nil {
		t.Error("ParseKind(\"mmc\") should fail")
	}
}
