package tpmdev_test

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/canonical/go-tpm2"
	"github.com/canonical/go-tpm2/mu"
	. "gopkg.in/check.v1"
	"gopkg.in/retry.v1"

	"github.com/ardnew/softtpm/pkg"
	"github.com/ardnew/softtpm/tis"
	"github.com/ardnew/softtpm/tis/hal"
	"github.com/ardnew/softtpm/tis/hal/sim"
	"github.com/ardnew/softtpm/tpmdev"
)

func Test(t *testing.T) { TestingT(t) }

type tctiSuite struct {
	sim  *sim.Chip
	chip *tis.Chip
	tcti *tpmdev.TCTI
}

var _ = Suite(&tctiSuite{})

func (s *tctiSuite) SetUpTest(c *C) {
	s.setup(c)
}

func (s *tctiSuite) setup(c *C, opts ...tis.Option) {
	s.sim = sim.NewChip(nil)
	chip, err := tis.New(s.sim, append([]tis.Option{tis.WithClock(s.sim.Clock())}, opts...)...)
	c.Assert(err, IsNil)
	c.Assert(chip.Init(), IsNil)
	s.chip = chip
	s.tcti = tpmdev.New(chip, tpmdev.WithClock(s.sim.Clock()))
}

func selfTestCommand(c *C) []byte {
	return tpm2.MarshalCommandPacket(tpm2.CommandSelfTest, nil, nil, mu.MustMarshalToBytes(true))
}

func (s *tctiSuite) TestWriteRead(c *C) {
	cmd := selfTestCommand(c)

	n, err := s.tcti.Write(cmd)
	c.Assert(err, IsNil)
	c.Check(n, Equals, len(cmd))

	rsp, err := io.ReadAll(s.tcti)
	c.Assert(err, IsNil)
	c.Check(rsp, DeepEquals, sim.Response(tpm2.ResponseSuccess, nil))
	c.Check(s.sim.Commands(), DeepEquals, [][]byte{cmd})

	// Drained.
	n, err = s.tcti.Read(make([]byte, 1))
	c.Check(n, Equals, 0)
	c.Check(err, Equals, io.EOF)
}

func (s *tctiSuite) TestReadWithoutWrite(c *C) {
	n, err := s.tcti.Read(make([]byte, 16))
	c.Check(n, Equals, 0)
	c.Check(err, Equals, io.EOF)
}

func (s *tctiSuite) TestPartialRead(c *C) {
	_, err := s.tcti.Write(selfTestCommand(c))
	c.Assert(err, IsNil)

	var got []byte
	buf := make([]byte, 3)
	for {
		n, err := s.tcti.Read(buf)
		got = append(got, buf[:n]...)
		if err == io.EOF {
			break
		}
		c.Assert(err, IsNil)
	}
	c.Check(got, HasLen, tis.HeaderSize)
}

func (s *tctiSuite) TestWriteWithUnreadResponse(c *C) {
	cmd := selfTestCommand(c)
	_, err := s.tcti.Write(cmd)
	c.Assert(err, IsNil)

	_, err = s.tcti.Write(cmd)
	c.Check(errors.Is(err, pkg.ErrBusy), Equals, true)
	_, err = s.tcti.Exchange(cmd)
	c.Check(errors.Is(err, pkg.ErrBusy), Equals, true)
	c.Check(s.sim.Commands(), HasLen, 1)
}

func (s *tctiSuite) TestExchange(c *C) {
	rsp, err := s.tcti.Exchange(selfTestCommand(c))
	c.Assert(err, IsNil)
	c.Check(rsp, DeepEquals, sim.Response(tpm2.ResponseSuccess, nil))

	// Exchange leaves nothing for Read.
	_, err = s.tcti.Read(make([]byte, 1))
	c.Check(err, Equals, io.EOF)
}

func (s *tctiSuite) TestBusyRetried(c *C) {
	s.setup(c, tis.WithTimeouts(tis.Timeouts{A: 10 * time.Millisecond}))
	s.sim.Hold(2, 30*time.Millisecond)

	rsp, err := s.tcti.Exchange(selfTestCommand(c))
	c.Assert(err, IsNil)
	c.Check(rsp, DeepEquals, sim.Response(tpm2.ResponseSuccess, nil))
	c.Check(s.sim.Commands(), HasLen, 1)
}

func (s *tctiSuite) TestBusyExhausted(c *C) {
	s.setup(c, tis.WithTimeouts(tis.Timeouts{A: 10 * time.Millisecond}))
	s.sim.Hold(2, 0)
	s.sim.ResetOps()

	_, err := s.tcti.Write(selfTestCommand(c))
	c.Assert(err, NotNil)
	c.Check(errors.Is(err, pkg.ErrBusy), Equals, true)
	c.Check(s.sim.Count(sim.OpWriteBytes, hal.RegAccess), Equals, 4)
	c.Check(s.sim.Commands(), HasLen, 0)
}

func (s *tctiSuite) TestCustomRetry(c *C) {
	s.setup(c, tis.WithTimeouts(tis.Timeouts{A: 10 * time.Millisecond}))
	s.tcti = tpmdev.New(s.chip,
		tpmdev.WithClock(s.sim.Clock()),
		tpmdev.WithRetry(retry.LimitCount(1, retry.Exponential{Initial: time.Millisecond, Factor: 1})))
	s.sim.Hold(2, 0)
	s.sim.ResetOps()

	_, err := s.tcti.Exchange(selfTestCommand(c))
	c.Check(errors.Is(err, pkg.ErrBusy), Equals, true)
	c.Check(s.sim.Count(sim.OpWriteBytes, hal.RegAccess), Equals, 1)
}

func (s *tctiSuite) TestOtherErrorsNotRetried(c *C) {
	s.sim.SetStatusOverride(0xFF)
	s.sim.ResetOps()

	_, err := s.tcti.Write(selfTestCommand(c))
	c.Check(errors.Is(err, pkg.ErrInvalidStatus), Equals, true)
	c.Check(s.sim.Count(sim.OpReadBytes, hal.RegStatus), Equals, 1)
	c.Check(s.sim.Commands(), HasLen, 0)
}

func (s *tctiSuite) TestSetLocality(c *C) {
	c.Check(s.tcti.SetLocality(0), IsNil)
	err := s.tcti.SetLocality(3)
	c.Check(errors.Is(err, pkg.ErrNotSupported), Equals, true)
	c.Check(err, ErrorMatches, ".*locality 3")
}

func (s *tctiSuite) TestMakeSticky(c *C) {
	err := s.tcti.MakeSticky(tpm2.Handle(0x80000001), true)
	c.Check(errors.Is(err, pkg.ErrNotSupported), Equals, true)
}

func (s *tctiSuite) TestClose(c *C) {
	c.Assert(s.chip.Open(), IsNil)

	c.Check(s.tcti.Close(), IsNil)
	c.Check(s.chip.IsOpen(), Equals, false)
	c.Check(s.sim.ActiveLocality(), Equals, -1)

	c.Check(s.tcti.Close(), IsNil)
	_, err := s.tcti.Write(selfTestCommand(c))
	c.Check(err, Equals, pkg.ErrClosed)
	_, err = s.tcti.Exchange(selfTestCommand(c))
	c.Check(err, Equals, pkg.ErrClosed)
}

func (s *tctiSuite) TestTPMContextSelfTest(c *C) {
	tpm := tpmdev.NewTPMContext(s.chip, tpmdev.WithClock(s.sim.Clock()))
	c.Assert(tpm.SelfTest(true), IsNil)
	c.Check(tpm.Close(), IsNil)

	cmds := s.sim.Commands()
	c.Assert(cmds, HasLen, 1)
	code, err := tpm2.CommandPacket(cmds[0]).GetCommandCode()
	c.Assert(err, IsNil)
	c.Check(code, Equals, tpm2.CommandSelfTest)
}

func (s *tctiSuite) TestTPMContextGetRandom(c *C) {
	tpm := tpmdev.NewTPMContext(s.chip, tpmdev.WithClock(s.sim.Clock()))
	defer tpm.Close()

	cmd := tpm2.MarshalCommandPacket(tpm2.CommandGetRandom, nil, nil, mu.MustMarshalToBytes(uint16(8)))
	rsp, err := tpm.RunCommandBytes(cmd)
	c.Assert(err, IsNil)

	rc, params, _, err := rsp.Unmarshal(nil)
	c.Assert(err, IsNil)
	c.Check(rc, Equals, tpm2.ResponseSuccess)
	var random tpm2.Digest
	_, err = mu.UnmarshalFromBytes(params, &random)
	c.Assert(err, IsNil)
	c.Check(random, HasLen, 8)
}
