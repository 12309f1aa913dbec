package mainboilerplate

import (
	"strings"

	"github.com/jessevdk/go-flags"
)

// AddCommandFunc registers a sub-command with a parent flags.Command.
type AddCommandFunc func(*flags.Command) error

// CommandRegistry collects sub-command registrations, keyed on the dotted path
// of their parent command, so that commands of a program may be declared in
// separate files (typically, from init functions) and then assembled into a
// single flags.Command tree.
type CommandRegistry map[string][]AddCommandFunc

// NewCommandRegistry returns an empty CommandRegistry.
func NewCommandRegistry() CommandRegistry { return make(CommandRegistry) }

// AddCommand registers |command| under the parent at dotted path
// |parentName|, with arguments as for flags.Command.AddCommand.
// The empty |parentName| is the root:
//
//	AddCommand("", "members", ...)
//	AddCommand("members", "add", ...) // "members add"
func (cr CommandRegistry) AddCommand(parentName, command, shortDescription, longDescription string, data interface{}) {
	cr[parentName] = append(cr[parentName], func(cmd *flags.Command) error {
		var _, err = cmd.AddCommand(command, shortDescription, longDescription, data)
		return err
	})
}

// AddCommands adds the commands registered under |rootName| to |rootCmd|.
// If |recursive|, commands registered under those commands are added as well.
func (cr CommandRegistry) AddCommands(rootName string, rootCmd *flags.Command, recursive bool) error {
	for _, fn := range cr[rootName] {
		if err := fn(rootCmd); err != nil {
			return err
		}
	}
	if !recursive {
		return nil
	}
	for _, cmd := range rootCmd.Commands() {
		var name = strings.TrimPrefix(rootName+"."+cmd.Name, ".")
		if err := cr.AddCommands(name, cmd, true); err != nil {
			return err
		}
	}
	return nil
}
