package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"
)

// printlnFn is a test seam for user-facing output.
var printlnFn = fmt.Println

// execIface is the minimal command surface the REPL needs. App satisfies
// it; tests provide a stub.
type execIface interface {
	isLoggedIn() bool
	Register(ctx context.Context) error
	Login(ctx context.Context) error
	OpenChannel(ctx context.Context, name string) error
	OpenDM(ctx context.Context, userID string) error
	OpenThread(ctx context.Context, rootID string) error
	ShowMessages(ctx context.Context) error
	Send(ctx context.Context, text string) error
	ShowUnread(ctx context.Context) error
	MarkRead(ctx context.Context) error
}

// runREPL reads a line, dispatches the first token as the command, and
// loops until EOF or exit/quit. Handler errors are printed, not fatal.
func runREPL(ctx context.Context, a execIface, statusFn func() string, scanner *bufio.Scanner) {
	for {
		printlnFn(fmt.Sprintf("chatsync> %s > ", statusFn()))
		if !scanner.Scan() {
			return
		}
		parts := strings.Fields(scanner.Text())
		if len(parts) == 0 {
			continue
		}
		cmd, args := parts[0], parts[1:]

		var err error
		switch cmd {
		case "help":
			if a.isLoggedIn() {
				printlnFn("Available commands: open <channel>, dm <user-id>, thread <root-id>, msgs, send <text>, unread, read, exit")
			} else {
				printlnFn("Available commands: register, login, exit")
			}

		case "register":
			err = a.Register(ctx)

		case "login":
			err = a.Login(ctx)

		case "open":
			if len(args) == 0 {
				printlnFn("Usage: open <channel>")
				continue
			}
			err = a.OpenChannel(ctx, args[0])

		case "dm":
			if len(args) == 0 {
				printlnFn("Usage: dm <user-id>")
				continue
			}
			err = a.OpenDM(ctx, args[0])

		case "thread":
			if len(args) == 0 {
				printlnFn("Usage: thread <root-id>")
				continue
			}
			err = a.OpenThread(ctx, args[0])

		case "m", "msgs":
			err = a.ShowMessages(ctx)

		case "send":
			if len(args) == 0 {
				printlnFn("Usage: send <text>")
				continue
			}
			err = a.Send(ctx, strings.Join(args, " "))

		case "u", "unread":
			err = a.ShowUnread(ctx)

		case "read":
			err = a.MarkRead(ctx)

		case "exit", "quit":
			printlnFn("Bye!")
			return

		default:
			printlnFn("Unknown command:", cmd)
		}

		if err != nil {
			printlnFn("Error:", err.Error())
		}
	}
}
