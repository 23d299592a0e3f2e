package main

import (
	"fmt"

	"github.com/jessevdk/go-flags"

	"github.com/ardnew/softtpm/tis"
)

type cmdRegs struct {
	global   *globalOptions
	Locality int `short:"l" long:"locality" default:"0" description:"Locality whose registers to read"`
}

func init() {
	addCommand("regs", "Dump one locality's registers",
		"Read the ACCESS, STS, INT_ENABLE, INTF_CAPS, DID_VID and RID registers of a locality without writing anything.",
		func(g *globalOptions) flags.Commander { return &cmdRegs{global: g} })
}

func (x *cmdRegs) Execute(args []string) error {
	if len(args) > 0 {
		return ErrExtraArgs
	}
	d, err := x.global.open()
	if err != nil {
		return err
	}
	defer d.Close()

	s, err := d.chip.Registers(x.Locality)
	if err != nil {
		return err
	}

	fmt.Fprintf(Stdout, "Locality %d\n", s.Locality)
	fmt.Fprintf(Stdout, "  ACCESS      %s\n", tis.AccessString(s.Access))
	fmt.Fprintf(Stdout, "  STS         %s\n", tis.StatusString(s.Status))
	fmt.Fprintf(Stdout, "  BURST       %d\n", s.BurstCount)
	fmt.Fprintf(Stdout, "  INT_ENABLE  0x%08x\n", s.IntEnable)
	fmt.Fprintf(Stdout, "  INTF_CAPS   0x%08x\n", s.IntfCaps)
	fmt.Fprintf(Stdout, "  DID_VID     0x%04x:0x%04x\n", s.DeviceID, s.VendorID)
	fmt.Fprintf(Stdout, "  RID         0x%02x\n", s.RevisionID)
	return nil
}
