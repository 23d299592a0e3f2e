package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/jessevdk/go-flags"

	"github.com/ardnew/softtpm/pkg"
)

// ErrExtraArgs is returned when a command is given unexpected arguments.
var ErrExtraArgs = errors.New("too many arguments for command")

type cmdSend struct {
	global     *globalOptions
	Positional struct {
		Command []string `positional-arg-name:"<hex>" required:"1"`
	} `positional-args:"yes"`
}

func init() {
	addCommand("send", "Exchange a raw command given in hex",
		"Send a complete TPM command, given as hex digits that may be split across arguments, and print the response in hex.",
		func(g *globalOptions) flags.Commander { return &cmdSend{global: g} })
}

func (x *cmdSend) Execute(args []string) error {
	if len(args) > 0 {
		return ErrExtraArgs
	}
	cmd, err := hex.DecodeString(strings.Join(x.Positional.Command, ""))
	if err != nil {
		return fmt.Errorf("%w: command: %w", pkg.ErrInvalidParameter, err)
	}

	d, err := x.global.open()
	if err != nil {
		return err
	}
	defer d.Close()

	rsp, err := d.tcti().Exchange(cmd)
	if err != nil {
		return err
	}
	fmt.Fprintln(Stdout, hex.EncodeToString(rsp))
	return nil
}
