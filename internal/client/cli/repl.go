package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
)

// Main starts a simple read-eval-print loop for the journalsync CLI.
//
// It reads a line from stdin, parses the first token as the command, and
// dispatches to methods on a. Unknown commands are reported back to the
// user. The loop exits on EOF or when the user types "exit" or "quit".
//
// Commands before an identity exists: create, import, exit.
// Commands afterwards: addnote, list, sync, devices, keys, stats, clear,
// destroy, exit.
//
// Errors returned by command handlers are ignored here; handlers print
// their own errors. This keeps the REPL loop resilient and focused on I/O.
func (a *App) Main(ctx context.Context) {

	fmt.Println("journalsync CLI (type 'help' for commands)")
	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Printf("journalsync %s > ", a.status())
		if !scanner.Scan() {
			break
		}
		line := scanner.Text()
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}

		cmd := parts[0]

		switch cmd {
		case "help":
			if a.isInitialized() {
				fmt.Println("Available commands: addnote, (l)ist, sync, devices, keys, stats, clear, destroy, exit")
			} else {
				fmt.Println("Available commands: create, import, exit")
			}

		case "create":
			_ = a.Create(ctx)
		case "import":
			_ = a.Import(ctx)
		case "clear":
			_ = a.Clear(ctx)
		case "addnote":
			_ = a.AddNote(ctx)
		case "l", "list":
			_ = a.List(ctx)
		case "sync":
			_ = a.Sync(ctx)
		case "devices":
			_ = a.Devices(ctx)
		case "keys":
			_ = a.Keys(ctx)
		case "stats":
			_ = a.Stats(ctx)
		case "destroy":
			_ = a.Destroy(ctx)
		case "exit", "quit":
			fmt.Println("Bye!")
			return

		default:
			fmt.Println("Unknown command:", cmd)
		}
	}
}

func (a *App) status() string {
	if a.isInitialized() {
		return "ready"
	}
	return "no identity"
}
