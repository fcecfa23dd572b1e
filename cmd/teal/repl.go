package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/mattn/go-isatty"

	"github.com/tealrun/teal/bytecode"
	"github.com/tealrun/teal/session"
	"github.com/tealrun/teal/store"
)

// runREPL drives a single in-process session interactively, the spiritual
// successor of cmd/hey/main.go's runInteractiveShell: instead of
// accumulating PHP source across lines until needsMoreInput is satisfied,
// each line here is one command against the current session.
//
// Commands:
//
//	new <function> [int-args...]   start a session calling function
//	wait                           re-read the session and print its status; runs no cycle itself and does not block (cycles run on the in-process pool)
//	resume <thread-id>             run one more cycle on a suspended thread
//	output                         print stdout/exceptions/probe events for every thread
//	status                         print finished/result
//	quit                           exit
func runREPL(ctx context.Context, exe *bytecode.Executable) error {
	ctrl, backend := newInProcessController(exe)

	prompt := "teal> "
	if !isatty.IsTerminal(os.Stdin.Fd()) {
		prompt = ""
	}

	rl, err := readline.NewEx(&readline.Config{Prompt: prompt})
	if err != nil {
		return fmt.Errorf("starting readline: %w", err)
	}
	defer rl.Close()

	var sess *session.Session

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "quit", "exit":
			return nil

		case "new":
			if len(fields) < 2 {
				fmt.Println("usage: new <function> [int-args...]")
				continue
			}
			args, err := parseArgs(fields[2:])
			if err != nil {
				fmt.Println(err)
				continue
			}
			sess, err = ctrl.NewSession(ctx, "main", fields[1], args)
			if err != nil {
				fmt.Println(err)
				continue
			}
			printSessionStatus(sess)

		case "wait":
			if sess == nil {
				fmt.Println("no session yet; run new <function> first")
				continue
			}
			sess, err = refreshSession(ctx, backend, sess.ID)
			if err != nil {
				fmt.Println(err)
				continue
			}
			printSessionStatus(sess)

		case "resume":
			if sess == nil {
				fmt.Println("no session yet; run new <function> first")
				continue
			}
			if len(fields) < 2 {
				fmt.Println("usage: resume <thread-id>")
				continue
			}
			threadID, convErr := parseThreadID(fields[1])
			if convErr != nil {
				fmt.Println(convErr)
				continue
			}
			if err := ctrl.RunCycle(ctx, sess.ID, threadID); err != nil {
				fmt.Println(err)
				continue
			}
			sess, err = refreshSession(ctx, backend, sess.ID)
			if err != nil {
				fmt.Println(err)
				continue
			}
			printSessionStatus(sess)

		case "output":
			if sess == nil {
				fmt.Println("no session yet; run new <function> first")
				continue
			}
			sess, err = refreshSession(ctx, backend, sess.ID)
			if err != nil {
				fmt.Println(err)
				continue
			}
			printSessionOutput(sess)

		case "status":
			if sess == nil {
				fmt.Println("no session yet; run new <function> first")
				continue
			}
			sess, err = refreshSession(ctx, backend, sess.ID)
			if err != nil {
				fmt.Println(err)
				continue
			}
			printSessionStatus(sess)

		default:
			fmt.Printf("unknown command %q (try: new wait resume output status quit)\n", fields[0])
		}
	}
}

func refreshSession(ctx context.Context, backend store.Backend, sessionID string) (*session.Session, error) {
	locked, err := backend.Lock(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer locked.Unlock()
	return locked.Session(), nil
}

func parseThreadID(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("thread id %q is not an integer: %w", s, err)
	}
	return n, nil
}

func printSessionStatus(sess *session.Session) {
	fmt.Printf("session=%s finished=%v", sess.ID, sess.Finished)
	if sess.Finished {
		fmt.Printf(" result=%s", sess.Result.String())
	}
	fmt.Println()
	for _, t := range sess.Threads {
		fmt.Printf("  thread=%d state=%v top_level=%v\n", t.ID, t.State, t.IsTopLevel)
	}
}

func printSessionOutput(sess *session.Session) {
	for _, t := range sess.Threads {
		fmt.Printf("thread %d stdout: %s\n", t.ID, t.Stdout)
		if t.HasException {
			fmt.Printf("thread %d exception: %s\n", t.ID, t.Exception)
		}
		for _, p := range t.Probe {
			fmt.Printf("thread %d event: %s\n", t.ID, p)
		}
	}
}
