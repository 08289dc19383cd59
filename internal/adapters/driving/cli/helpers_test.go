package cli

import (
	"bytes"
	"context"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// executeCommand runs the root command with args and returns its output.
func executeCommand(args ...string) (string, error) {
	return executeCommandContext(context.Background(), "", args...)
}

// executeCommandContext runs the root command with ctx, feeding input to
// interactive prompts.
func executeCommandContext(ctx context.Context, input string, args ...string) (string, error) {
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)

	previousStdin := stdin
	stdin = strings.NewReader(input)
	defer func() {
		rootCmd.SetArgs(nil)
		stdin = previousStdin
		resetFlags()
	}()

	err := rootCmd.ExecuteContext(ctx)
	return buf.String(), err
}

// resetFlags restores flag defaults, which persist across executions.
func resetFlags() {
	reset := func(fs *pflag.FlagSet) {
		fs.VisitAll(func(f *pflag.Flag) {
			if !f.Changed {
				return
			}
			if f.Value.Type() != "stringArray" {
				_ = f.Value.Set(f.DefValue)
			}
			f.Changed = false
		})
	}
	reset(rootCmd.PersistentFlags())
	var walk func(cmds []*cobra.Command)
	walk = func(cmds []*cobra.Command) {
		for _, c := range cmds {
			reset(c.Flags())
			walk(c.Commands())
		}
	}
	walk(rootCmd.Commands())

	// StringArray flags append on Set, so clear them directly.
	askDocuments = nil
}
