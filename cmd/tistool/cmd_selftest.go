package main

import (
	"fmt"

	"github.com/canonical/go-tpm2"
	"github.com/jessevdk/go-flags"
)

type cmdSelfTest struct {
	global *globalOptions
	Full   bool `long:"full" description:"Test every function rather than only untested ones"`
}

func init() {
	addCommand("selftest", "Run TPM2_SelfTest",
		"Ask the TPM to test its capabilities and report the outcome.",
		func(g *globalOptions) flags.Commander { return &cmdSelfTest{global: g} })
}

func (x *cmdSelfTest) Execute(args []string) error {
	if len(args) > 0 {
		return ErrExtraArgs
	}
	d, err := x.global.open()
	if err != nil {
		return err
	}
	defer d.Close()

	tpm := tpm2.NewTPMContext(d.tcti())
	defer tpm.Close()

	if err := tpm.SelfTest(x.Full); err != nil {
		return fmt.Errorf("self test: %w", err)
	}
	fmt.Fprintln(Stdout, "self test passed")
	return nil
}
