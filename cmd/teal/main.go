// Command teal is the local development CLI: a one-shot runner for a
// compiled executable against an in-process session, plus an interactive
// REPL for driving a session step by step (new/wait/resume/output).
// Grounded on cmd/hey/main.go's cli.Command-with-subcommands shape and its
// bufio.Scanner-driven runInteractiveShell loop, swapped for
// chzyer/readline since this REPL drives sessions across multiple
// commands rather than re-parsing a language on every line.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/tealrun/teal/bytecode"
	"github.com/tealrun/teal/controller"
	"github.com/tealrun/teal/invoker"
	"github.com/tealrun/teal/store"
	"github.com/tealrun/teal/value"
	"github.com/tealrun/teal/version"
	"github.com/tealrun/teal/vm"
)

func main() {
	app := &cli.Command{
		Name:    "teal",
		Usage:   "Teal distributed bytecode execution runtime -- local dev CLI",
		Version: version.Version(),
		Commands: []*cli.Command{
			runCommand,
			replCommand,
			disassembleCommand,
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "teal: %v\n", err)
		os.Exit(1)
	}
}

var runCommand = &cli.Command{
	Name:      "run",
	Usage:     "Run a compiled executable's function to completion, in-process",
	ArgsUsage: "<file.teal-exe> <function> [int-args...]",
	Action: func(ctx context.Context, cmd *cli.Command) error {
		args := cmd.Args().Slice()
		if len(args) < 2 {
			return fmt.Errorf("usage: teal run <file.teal-exe> <function> [int-args...]")
		}
		exe, err := loadExecutable(args[0])
		if err != nil {
			return err
		}

		fnArgs := make([]value.Value, 0, len(args)-2)
		for _, raw := range args[2:] {
			n, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return fmt.Errorf("argument %q is not an integer: %w", raw, err)
			}
			fnArgs = append(fnArgs, value.Int(n))
		}

		ctrl, backend := newInProcessController(exe)
		sess, err := ctrl.NewSession(ctx, "main", args[1], fnArgs)
		if err != nil {
			return err
		}
		for !sess.Finished {
			time.Sleep(5 * time.Millisecond)
			locked, err := backend.Lock(ctx, sess.ID)
			if err != nil {
				return err
			}
			sess = locked.Session()
			locked.Unlock()
		}
		fmt.Println(sess.Result.String())
		return nil
	},
}

var disassembleCommand = &cli.Command{
	Name:      "disassemble",
	Usage:     "Print a disassembly of a compiled executable",
	ArgsUsage: "<file.teal-exe>",
	Action: func(ctx context.Context, cmd *cli.Command) error {
		args := cmd.Args().Slice()
		if len(args) < 1 {
			return fmt.Errorf("usage: teal disassemble <file.teal-exe>")
		}
		exe, err := loadExecutable(args[0])
		if err != nil {
			return err
		}
		exe.Disassemble(os.Stdout)
		return nil
	},
}

var replCommand = &cli.Command{
	Name:  "repl",
	Usage: "Drive a session interactively: new, wait, resume, output, status, quit",
	ArgsUsage: "<file.teal-exe>",
	Action: func(ctx context.Context, cmd *cli.Command) error {
		args := cmd.Args().Slice()
		if len(args) < 1 {
			return fmt.Errorf("usage: teal repl <file.teal-exe>")
		}
		exe, err := loadExecutable(args[0])
		if err != nil {
			return err
		}
		return runREPL(ctx, exe)
	},
}

func loadExecutable(path string) (*bytecode.Executable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return bytecode.Deserialize(f)
}

func newInProcessController(exe *bytecode.Executable) (*controller.Controller, store.Backend) {
	backend := store.NewMemory()

	var ctrl *controller.Controller
	pool := invoker.NewPool(func(ctx context.Context, sessionID string, threadID int) error {
		return ctrl.RunCycle(ctx, sessionID, threadID)
	}, 2, 32)
	pool.Start()

	ctrl = controller.New(backend, singleExecutable{exe}, pool, defaultForeign(), vm.DefaultLimits)
	return ctrl, backend
}

// singleExecutable is a trivial controller.Executables that always serves
// the one executable the CLI loaded from disk, regardless of ref.
type singleExecutable struct {
	exe *bytecode.Executable
}

func (s singleExecutable) Load(ctx context.Context, ref string) (*bytecode.Executable, error) {
	return s.exe, nil
}

func defaultForeign() map[string]vm.Foreign {
	return map[string]vm.Foreign{
		"add": func(args []value.Value) (value.Value, error) { return value.Int(args[0].AsInt() + args[1].AsInt()), nil },
		"sub": func(args []value.Value) (value.Value, error) { return value.Int(args[0].AsInt() - args[1].AsInt()), nil },
		"mul": func(args []value.Value) (value.Value, error) { return value.Int(args[0].AsInt() * args[1].AsInt()), nil },
	}
}

// parseArgs turns trailing integer tokens into fork/call arguments, the
// same convention runCommand uses.
func parseArgs(tokens []string) ([]value.Value, error) {
	args := make([]value.Value, 0, len(tokens))
	for _, t := range tokens {
		n, err := strconv.ParseInt(t, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("argument %q is not an integer: %w", t, err)
		}
		args = append(args, value.Int(n))
	}
	return args, nil
}
