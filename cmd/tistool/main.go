// Command tistool inspects and drives a TPM 2.0 chip over its TIS
// register interface.
//
// Usage:
//
//	tistool [global options] <command> [command options]
//
// Commands:
//
//	info      Identify the chip
//	regs      Dump one locality's registers
//	send      Exchange a raw command given in hex
//	selftest  Run TPM2_SelfTest
//	random    Fetch random bytes with TPM2_GetRandom
//
// Global options:
//
//	-c, --config   TOML configuration file
//	    --sim      Use a simulated chip instead of hardware
//	-v, --verbose  Increase log verbosity (repeatable)
//	    --json     Log JSON instead of text
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/jessevdk/go-flags"

	"github.com/ardnew/softtpm/pkg"
)

const component = pkg.ComponentCLI

var (
	Stdout io.Writer = os.Stdout
	Stderr io.Writer = os.Stderr
)

type globalOptions struct {
	Config  string `short:"c" long:"config" value-name:"FILE" description:"TOML configuration file"`
	Sim     bool   `long:"sim" description:"Use a simulated chip instead of hardware"`
	Verbose []bool `short:"v" long:"verbose" description:"Increase log verbosity (repeatable)"`
	JSON    bool   `long:"json" description:"Log JSON instead of text"`
}

type cmdInfo struct {
	name      string
	shortHelp string
	longHelp  string
	builder   func(*globalOptions) flags.Commander
}

var commands []*cmdInfo

func addCommand(name, shortHelp, longHelp string, builder func(*globalOptions) flags.Commander) {
	commands = append(commands, &cmdInfo{
		name:      name,
		shortHelp: shortHelp,
		longHelp:  longHelp,
		builder:   builder,
	})
}

// Parser returns a parser with every command registered against a fresh
// set of global options.
func Parser() *flags.Parser {
	opts := &globalOptions{}
	parser := flags.NewParser(opts, flags.HelpFlag|flags.PassDoubleDash)
	parser.ShortDescription = "TPM 2.0 TIS tool"
	parser.LongDescription = "Inspect and drive a TPM 2.0 chip over its TIS register interface."

	for _, c := range commands {
		if _, err := parser.AddCommand(c.name, c.shortHelp, c.longHelp, c.builder(opts)); err != nil {
			panic(fmt.Sprintf("cannot add command %q: %v", c.name, err))
		}
	}
	return parser
}

func run(args []string) error {
	_, err := Parser().ParseArgs(args)
	return err
}

func main() {
	pkg.ConfigureFromEnv()

	if err := run(os.Args[1:]); err != nil {
		var ferr *flags.Error
		if errors.As(err, &ferr) && ferr.Type == flags.ErrHelp {
			fmt.Fprintln(Stdout, ferr.Message)
			return
		}
		fmt.Fprintf(Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
