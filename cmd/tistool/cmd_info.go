package main

import (
	"fmt"

	"github.com/jessevdk/go-flags"

	"github.com/ardnew/softtpm/tis"
)

type cmdInfoChip struct {
	global *globalOptions
}

func init() {
	addCommand("info", "Identify the chip",
		"Initialize the chip and print its identity, vendor and timeouts.",
		func(g *globalOptions) flags.Commander { return &cmdInfoChip{global: g} })
}

func (x *cmdInfoChip) Execute(args []string) error {
	if len(args) > 0 {
		return ErrExtraArgs
	}
	d, err := x.global.open()
	if err != nil {
		return err
	}
	defer d.Close()

	buf := make([]byte, 2*tis.DescribeMinSize)
	n, err := d.chip.Describe(buf)
	if err != nil {
		return err
	}
	info := d.chip.Info()

	fmt.Fprintf(Stdout, "%s\n", buf[:n])
	fmt.Fprintf(Stdout, "Vendor:    %s\n", d.vendors().Describe(info.VendorID, info.DeviceID))
	fmt.Fprintf(Stdout, "Variant:   %s (%d PCRs)\n", info.Variant.Name, info.Variant.PCRCount)
	fmt.Fprintf(Stdout, "Transport: %v\n", d.transport)
	fmt.Fprintf(Stdout, "Timeouts:  A=%v B=%v C=%v D=%v\n",
		info.Timeouts.A, info.Timeouts.B, info.Timeouts.C, info.Timeouts.D)
	return nil
}
