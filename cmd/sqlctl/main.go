package main

import (
	"github.com/jessevdk/go-flags"
	"go.sqlcluster.dev/core/cmd/sqlctl/sqlctlcmd"
	mbp "go.sqlcluster.dev/core/mainboilerplate"
)

const iniFilename = "sqlctl.ini"

func main() {
	var parser = flags.NewParser(sqlctlcmd.Config, flags.Default)

	parser.LongDescription = `sqlctl is a tool for interacting with a Raft-replicated SQL cluster.

	See --help pages of each sub-command for documentation and usage examples.
	Optionally configure sqlctl with a '` + iniFilename + `' file in the current working directory,
	or with '~/.config/sqlcluster/` + iniFilename + `'. Use the 'print-config' sub-command to inspect
	the tool's current configuration.
	`
	mbp.AddPrintConfigCmd(parser, iniFilename)

	// Add all registered commands to the root parser.Command
	mbp.Must(sqlctlcmd.CommandRegistry.AddCommands("", parser.Command, true), "could not add subcommand")

	// Parse config and start app
	mbp.MustParseConfig(parser, iniFilename)
}
