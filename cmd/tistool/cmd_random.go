package main

import (
	"encoding/hex"
	"fmt"

	"github.com/canonical/go-tpm2"
	"github.com/canonical/go-tpm2/mu"
	"github.com/jessevdk/go-flags"

	"github.com/ardnew/softtpm/pkg"
)

type cmdRandom struct {
	global *globalOptions
	Count  uint16 `short:"n" long:"count" default:"16" description:"Number of bytes to request"`
}

func init() {
	addCommand("random", "Fetch random bytes with TPM2_GetRandom",
		"Request random bytes from the TPM and print them in hex. The TPM may return fewer than requested.",
		func(g *globalOptions) flags.Commander { return &cmdRandom{global: g} })
}

func (x *cmdRandom) Execute(args []string) error {
	if len(args) > 0 {
		return ErrExtraArgs
	}
	if x.Count == 0 {
		return fmt.Errorf("%w: count must be positive", pkg.ErrInvalidParameter)
	}

	cmd := tpm2.MarshalCommandPacket(tpm2.CommandGetRandom, nil, nil, mu.MustMarshalToBytes(x.Count))

	d, err := x.global.open()
	if err != nil {
		return err
	}
	defer d.Close()

	tpm := tpm2.NewTPMContext(d.tcti())
	defer tpm.Close()

	rsp, err := tpm.RunCommandBytes(cmd)
	if err != nil {
		return err
	}
	rc, params, _, err := rsp.Unmarshal(nil)
	if err != nil {
		return fmt.Errorf("%w: %w", pkg.ErrProtocol, err)
	}
	if rc != tpm2.ResponseSuccess {
		return fmt.Errorf("TPM2_GetRandom: response code 0x%08x", uint32(rc))
	}

	var random tpm2.Digest
	if _, err := mu.UnmarshalFromBytes(params, &random); err != nil {
		return fmt.Errorf("%w: %w", pkg.ErrProtocol, err)
	}
	fmt.Fprintln(Stdout, hex.EncodeToString(random))
	return nil
}
