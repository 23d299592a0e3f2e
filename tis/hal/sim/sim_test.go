package sim

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/canonical/go-tpm2"
	"github.com/canonical/go-tpm2/mu"

	"github.com/ardnew/softtpm/pkg"
	"github.com/ardnew/softtpm/tis/hal"
)

// =============================================================================
// Test Helpers
// =============================================================================

func readByte(t *testing.T, c *Chip, addr hal.Address) uint8 {
	t.Helper()
	var b [1]byte
	if err := c.ReadBytes(addr, b[:]); err != nil {
		t.Fatalf("ReadBytes(%v) error = %v", addr, err)
	}
	return b[0]
}

func writeByte(t *testing.T, c *Chip, addr hal.Address, v uint8) {
	t.Helper()
	if err := c.WriteBytes(addr, []byte{v}); err != nil {
		t.Fatalf("WriteBytes(%v) error = %v", addr, err)
	}
}

func grant(t *testing.T, c *Chip, l int) {
	t.Helper()
	writeByte(t, c, hal.Reg(l, hal.RegAccess), hal.AccessRequestUse)
	if got := c.ActiveLocality(); got != l {
		t.Fatalf("ActiveLocality() = %d, want %d", got, l)
	}
}

func command(size int) []byte {
	cmd := make([]byte, size)
	binary.BigEndian.PutUint16(cmd[0:], uint16(tpm2.TagNoSessions))
	binary.BigEndian.PutUint32(cmd[2:], uint32(size))
	binary.BigEndian.PutUint32(cmd[6:], uint32(tpm2.CommandSelfTest))
	return cmd
}

// =============================================================================
// Clock Tests
// =============================================================================

func TestClock(t *testing.T) {
	c := NewClock()
	if !c.Now().Equal(Epoch) {
		t.Errorf("Now() = %v, want %v", c.Now(), Epoch)
	}

	fired := <-c.After(5 * time.Millisecond)
	if !fired.Equal(Epoch.Add(5 * time.Millisecond)) {
		t.Errorf("After() fired at %v, want %v", fired, Epoch.Add(5*time.Millisecond))
	}

	c.Advance(-time.Second)
	if got := c.Elapsed(); got != 5*time.Millisecond {
		t.Errorf("Elapsed() = %v, want 5ms", got)
	}
}

// =============================================================================
// Transport Tests
// =============================================================================

func TestOpKind_String(t *testing.T) {
	tests := []struct {
		kind OpKind
		want string
	}{
		{OpReadBytes, "ReadBytes"},
		{OpWriteBytes, "WriteBytes"},
		{OpRead16, "Read16"},
		{OpRead32, "Read32"},
		{OpWrite32, "Write32"},
		{OpKind(99), "Unknown"},
	}

	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("OpKind(%d).String() = %q, want %q", tt.kind, got, tt.want)
		}
	}
}

func TestChip_Identity(t *testing.T) {
	c := NewChip(nil)
	c.VendorID = 0x104A
	c.DeviceID = 0x0000
	c.Revision = 0x4E

	v, err := c.Read32(hal.Reg(0, hal.RegDIDVID))
	if err != nil {
		t.Fatalf("Read32() error = %v", err)
	}
	if v != 0x0000104A {
		t.Errorf("DID_VID = 0x%08x, want 0x0000104a", v)
	}
	vid, _ := c.Read16(hal.Reg(3, hal.RegDIDVID))
	if vid != 0x104A {
		t.Errorf("VID = 0x%04x, want 0x104a", vid)
	}
	if got := readByte(t, c, hal.Reg(0, hal.RegRID)); got != 0x4E {
		t.Errorf("RID = 0x%02x, want 0x4e", got)
	}
	if got := c.String(); got != "sim(104a:0000)" {
		t.Errorf("String() = %q, want %q", got, "sim(104a:0000)")
	}
}

func TestChip_OutOfRange(t *testing.T) {
	c := NewChip(nil)

	tests := []struct {
		name string
		call func() error
	}{
		{"read past window", func() error { return c.ReadBytes(hal.WindowSize, make([]byte, 1)) }},
		{"read straddling end", func() error { _, err := c.Read32(hal.WindowSize - 2); return err }},
		{"write locality 5", func() error { return c.WriteBytes(hal.Reg(5, hal.RegAccess), []byte{1}) }},
		{"empty read", func() error { return c.ReadBytes(0, nil) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); !errors.Is(err, pkg.ErrInvalidAddress) {
				t.Errorf("error = %v, want %v", err, pkg.ErrInvalidAddress)
			}
		})
	}
}

func TestChip_Fault(t *testing.T) {
	c := NewChip(nil)
	c.SetFault(func(op Op) error {
		if op.Kind == OpRead32 {
			return ErrBusFault
		}
		return nil
	})

	if _, err := c.Read32(hal.Reg(0, hal.RegStatus)); !errors.Is(err, ErrBusFault) {
		t.Errorf("Read32() error = %v, want %v", err, ErrBusFault)
	}
	if _, err := c.Read16(hal.Reg(0, hal.RegStatus)); err != nil {
		t.Errorf("Read16() error = %v", err)
	}
	if got := c.Count(OpRead32, hal.RegStatus); got != 1 {
		t.Errorf("Count() = %d, want 1 (faulted calls are recorded)", got)
	}
}

// =============================================================================
// Locality Model Tests
// =============================================================================

func TestChip_Locality(t *testing.T) {
	c := NewChip(nil)

	if got := readByte(t, c, hal.Reg(0, hal.RegAccess)); got != hal.AccessValid {
		t.Errorf("idle ACCESS = 0x%02x, want 0x%02x", got, hal.AccessValid)
	}

	grant(t, c, 1)
	if got := readByte(t, c, hal.Reg(1, hal.RegAccess)); got != hal.AccessValid|hal.AccessActive {
		t.Errorf("active ACCESS = 0x%02x, want 0x%02x", got, hal.AccessValid|hal.AccessActive)
	}

	// A second requester waits behind the active locality.
	writeByte(t, c, hal.Reg(0, hal.RegAccess), hal.AccessRequestUse)
	if got := readByte(t, c, hal.Reg(0, hal.RegAccess)); got != hal.AccessValid|hal.AccessRequestUse {
		t.Errorf("waiting ACCESS = 0x%02x, want 0x%02x", got, hal.AccessValid|hal.AccessRequestUse)
	}
	if got := readByte(t, c, hal.Reg(1, hal.RegAccess)); got&hal.AccessRequestPend == 0 {
		t.Errorf("active ACCESS = 0x%02x, want pendingRequest set", got)
	}

	// Relinquishing hands the chip to the waiter.
	writeByte(t, c, hal.Reg(1, hal.RegAccess), hal.AccessActive)
	if got := c.ActiveLocality(); got != 0 {
		t.Errorf("ActiveLocality() = %d after release, want 0", got)
	}
}

func TestChip_ActivationDelay(t *testing.T) {
	c := NewChip(nil)
	c.ActivationDelay = 10 * time.Millisecond

	writeByte(t, c, hal.Reg(0, hal.RegAccess), hal.AccessRequestUse)
	if got := c.ActiveLocality(); got != -1 {
		t.Fatalf("ActiveLocality() = %d before delay, want -1", got)
	}
	c.Clock().Advance(10 * time.Millisecond)
	if got := c.ActiveLocality(); got != 0 {
		t.Errorf("ActiveLocality() = %d after delay, want 0", got)
	}
}

func TestChip_Hold(t *testing.T) {
	c := NewChip(nil)
	c.Hold(3, 20*time.Millisecond)

	writeByte(t, c, hal.Reg(0, hal.RegAccess), hal.AccessRequestUse)
	if got := c.ActiveLocality(); got != 3 {
		t.Fatalf("ActiveLocality() = %d while held, want 3", got)
	}
	c.Clock().Advance(20 * time.Millisecond)
	if got := c.ActiveLocality(); got != 0 {
		t.Errorf("ActiveLocality() = %d after hold, want 0", got)
	}
}

// =============================================================================
// Command State Machine Tests
// =============================================================================

func TestChip_Exchange(t *testing.T) {
	c := NewChip(nil)
	c.Bursts = []uint16{4}
	grant(t, c, 0)
	sts := hal.Reg(0, hal.RegStatus)
	fifo := hal.Reg(0, hal.RegDataFIFO)

	if got := readByte(t, c, sts); got != hal.StatusValid {
		t.Errorf("idle STS = 0x%02x, want 0x%02x", got, hal.StatusValid)
	}
	writeByte(t, c, sts, hal.StatusCommandReady)
	if got := readByte(t, c, sts); got != hal.StatusValid|hal.StatusCommandReady {
		t.Errorf("ready STS = 0x%02x, want 0x%02x", got, hal.StatusValid|hal.StatusCommandReady)
	}

	cmd := command(12)
	if err := c.WriteBytes(fifo, cmd[:8]); err != nil {
		t.Fatalf("WriteBytes() error = %v", err)
	}
	if got := readByte(t, c, sts); got != hal.StatusValid|hal.StatusDataExpect {
		t.Errorf("reception STS = 0x%02x, want 0x%02x", got, hal.StatusValid|hal.StatusDataExpect)
	}
	if err := c.WriteBytes(fifo, cmd[8:]); err != nil {
		t.Fatalf("WriteBytes() error = %v", err)
	}
	if got := readByte(t, c, sts); got != hal.StatusValid {
		t.Errorf("complete STS = 0x%02x, want 0x%02x", got, hal.StatusValid)
	}

	writeByte(t, c, sts, hal.StatusGo)
	if got := readByte(t, c, sts); got != hal.StatusValid|hal.StatusDataAvail {
		t.Errorf("completion STS = 0x%02x, want 0x%02x", got, hal.StatusValid|hal.StatusDataAvail)
	}

	rsp := make([]byte, 10)
	if err := c.ReadBytes(fifo, rsp); err != nil {
		t.Fatalf("ReadBytes() error = %v", err)
	}
	if want := Response(tpm2.ResponseSuccess, nil); !bytes.Equal(rsp, want) {
		t.Errorf("response = %x, want %x", rsp, want)
	}
	if got := readByte(t, c, sts); got != hal.StatusValid {
		t.Errorf("drained STS = 0x%02x, want 0x%02x", got, hal.StatusValid)
	}

	// responseRetry rewinds the response.
	writeByte(t, c, sts, hal.StatusResponseRetry)
	if got := readByte(t, c, fifo); got != rsp[0] {
		t.Errorf("first byte after retry = 0x%02x, want 0x%02x", got, rsp[0])
	}

	if cmds := c.Commands(); len(cmds) != 1 || !bytes.Equal(cmds[0], cmd) {
		t.Errorf("Commands() = %x, want [%x]", cmds, cmd)
	}
}

func TestChip_BurstCount(t *testing.T) {
	c := NewChip(nil)
	c.Bursts = []uint16{0, 8, 300}
	grant(t, c, 0)
	sts := hal.Reg(0, hal.RegStatus)

	for i, want := range []uint16{0, 8, 300, 0} {
		v, err := c.Read32(sts)
		if err != nil {
			t.Fatalf("Read32() error = %v", err)
		}
		if got := uint16(v >> hal.BurstCountShift); got != want {
			t.Errorf("burst #%d = %d, want %d", i, got, want)
		}
	}

	// One-byte status reads do not consume the schedule.
	readByte(t, c, sts)
	if got, _ := c.Read16(hal.Reg(0, hal.RegStatus+1)); got != 8 {
		t.Errorf("Read16 burst = %d, want 8", got)
	}
}

func TestChip_BurstClampedToResponse(t *testing.T) {
	c := NewChip(nil)
	c.QueueResponse(Response(tpm2.ResponseSuccess, []byte{1, 2}))
	grant(t, c, 0)
	sts := hal.Reg(0, hal.RegStatus)

	writeByte(t, c, sts, hal.StatusCommandReady)
	if err := c.WriteBytes(hal.Reg(0, hal.RegDataFIFO), command(10)); err != nil {
		t.Fatalf("WriteBytes() error = %v", err)
	}
	writeByte(t, c, sts, hal.StatusGo)

	v, _ := c.Read32(sts)
	if got := int(v>>hal.BurstCountShift) & hal.BurstCountMask; got != 12 {
		t.Errorf("burst = %d, want 12", got)
	}
}

func TestChip_InactiveLocality(t *testing.T) {
	c := NewChip(nil)
	grant(t, c, 0)

	if got := readByte(t, c, hal.Reg(1, hal.RegStatus)); got != 0xFF {
		t.Errorf("inactive STS = 0x%02x, want 0xff", got)
	}
	writeByte(t, c, hal.Reg(1, hal.RegStatus), hal.StatusCommandReady)
	if c.CommandReady() {
		t.Error("commandReady from inactive locality was accepted")
	}
	if err := c.Write32(hal.Reg(1, hal.RegIntEnable), 0); err != nil {
		t.Fatalf("Write32() error = %v", err)
	}
	if got := c.IntEnable(1); got == 0 {
		t.Error("INT_ENABLE write from inactive locality was accepted")
	}
}

func TestChip_StatusOverride(t *testing.T) {
	c := NewChip(nil)
	c.SetStatusOverride(0x23)
	if got := readByte(t, c, hal.Reg(0, hal.RegStatus)); got != 0x23 {
		t.Errorf("STS = 0x%02x, want 0x23", got)
	}
	c.ClearStatusOverride()
	if got := readByte(t, c, hal.Reg(0, hal.RegStatus)); got != 0xFF {
		t.Errorf("STS = 0x%02x, want 0xff", got)
	}
}

// =============================================================================
// Default Handler Tests
// =============================================================================

func TestDefaultHandler(t *testing.T) {
	getRandom := func(n uint16) []byte {
		return tpm2.MarshalCommandPacket(tpm2.CommandGetRandom, nil, nil, mu.MustMarshalToBytes(n))
	}

	tests := []struct {
		name    string
		cmd     []byte
		wantRC  tpm2.ResponseCode
		wantLen int // Random bytes returned
	}{
		{"startup", tpm2.MarshalCommandPacket(tpm2.CommandStartup, nil, nil, mu.MustMarshalToBytes(tpm2.StartupClear)), tpm2.ResponseSuccess, 0},
		{"self test", tpm2.MarshalCommandPacket(tpm2.CommandSelfTest, nil, nil, []byte{1}), tpm2.ResponseSuccess, 0},
		{"get random", getRandom(16), tpm2.ResponseSuccess, 16},
		{"get random capped", getRandom(100), tpm2.ResponseSuccess, MaxRandomBytes},
		{"unknown command", tpm2.MarshalCommandPacket(tpm2.CommandPCRExtend, nil, nil, nil), RCCommandCode, 0},
		{"truncated", []byte{0x80, 0x01, 0x00}, RCCommandSize, 0},
		{"size mismatch", command(12)[:11], RCCommandSize, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rsp := DefaultHandler(tt.cmd)

			var hdr tpm2.ResponseHeader
			if _, err := mu.UnmarshalFromBytes(rsp, &hdr); err != nil {
				t.Fatalf("response header: %v", err)
			}
			if hdr.ResponseCode != tt.wantRC {
				t.Errorf("response code = 0x%x, want 0x%x", hdr.ResponseCode, tt.wantRC)
			}
			if int(hdr.ResponseSize) != len(rsp) {
				t.Errorf("responseSize = %d, packet is %d bytes", hdr.ResponseSize, len(rsp))
			}
			if tt.wantLen == 0 {
				return
			}

			rc, params, _, err := tpm2.ResponsePacket(rsp).Unmarshal(nil)
			if err != nil || rc != tpm2.ResponseSuccess {
				t.Fatalf("Unmarshal() = 0x%x, %v", rc, err)
			}
			var random tpm2.Digest
			if _, err := mu.UnmarshalFromBytes(params, &random); err != nil {
				t.Fatalf("random bytes: %v", err)
			}
			if len(random) != tt.wantLen {
				t.Errorf("random bytes = %d, want %d", len(random), tt.wantLen)
			}
		})
	}
}

func TestDefaultHandler_RandReader(t *testing.T) {
	saved := RandReader
	defer func() { RandReader = saved }()
	RandReader = bytes.NewReader([]byte{0xDE, 0xAD})

	cmd := tpm2.MarshalCommandPacket(tpm2.CommandGetRandom, nil, nil, mu.MustMarshalToBytes(uint16(4)))
	var hdr tpm2.ResponseHeader
	if _, err := mu.UnmarshalFromBytes(DefaultHandler(cmd), &hdr); err != nil {
		t.Fatalf("response header: %v", err)
	}
	if hdr.ResponseCode != RCFailure {
		t.Errorf("response code = 0x%x, want 0x%x", hdr.ResponseCode, RCFailure)
	}
}
