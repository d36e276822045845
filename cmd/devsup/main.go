package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/localserve/devsup/pkg/cli"
	"github.com/localserve/devsup/pkg/logger"
)

func main() {
	args := os.Args[1:]
	verbose := false
	if len(args) > 0 && (args[0] == "--verbose" || args[0] == "-V") {
		verbose = true
		args = args[1:]
	}
	logger.Init(verbose)

	app, err := cli.NewApp()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if len(args) < 1 {
		if err := app.TopCmd(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	command := args[0]

	switch command {
	case "ls":
		err = handleLS(app, args[1:])
	case "add":
		err = handleAdd(app, args[1:])
	case "rm":
		err = handleRM(app, args[1:])
	case "start":
		err = handleStart(app, args[1:])
	case "stop":
		err = handleStop(app, args[1:])
	case "restart":
		err = handleRestart(app, args[1:])
	case "kill-conflict":
		err = handleKillConflict(app, args[1:])
	case "status":
		err = handleStatus(app, args[1:])
	case "check":
		err = handleCheck(app, args[1:])
	case "logs":
		err = handleLogs(app, args[1:])
	case "errors":
		err = handleErrors(app, args[1:])
	case "import":
		err = handleImport(app, args[1:])
	case "export":
		err = handleExport(app, args[1:])
	case "serve":
		err = handleServe(app, args[1:])
	case "--help", "-h", "help":
		printUsage()
		os.Exit(0)
	case "--version", "-v":
		fmt.Println("devsup version 0.1.0")
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func handleLS(app *cli.App, args []string) error {
	fs := flag.NewFlagSet("ls", flag.ContinueOnError)
	detailed := fs.Bool("details", false, "Show extended metadata")

	if err := fs.Parse(args); err != nil {
		return err
	}

	return app.ListCmd(*detailed)
}

func handleAdd(app *cli.App, args []string) error {
	if len(args) < 3 {
		fmt.Println("Usage: devsup add <name> <cwd> <command> [port]")
		return fmt.Errorf("insufficient arguments")
	}

	name := args[0]
	cwd := args[1]
	command := args[2]

	port := 0
	if len(args) > 3 {
		p, err := strconv.Atoi(args[3])
		if err != nil {
			return fmt.Errorf("invalid port: %s", args[3])
		}
		port = p
	}

	return app.AddCmd(name, cwd, command, port)
}

func handleRM(app *cli.App, args []string) error {
	if len(args) < 1 {
		fmt.Println("Usage: devsup rm <name>")
		return fmt.Errorf("service name required")
	}

	return app.RemoveCmd(args[0])
}

func handleStart(app *cli.App, args []string) error {
	if len(args) < 1 {
		fmt.Println("Usage: devsup start <name>")
		return fmt.Errorf("service name required")
	}

	return app.StartCmd(args[0])
}

func handleStop(app *cli.App, args []string) error {
	if len(args) < 1 {
		fmt.Println("Usage: devsup stop <name>")
		return fmt.Errorf("service name required")
	}

	return app.StopCmd(args[0])
}

func handleRestart(app *cli.App, args []string) error {
	if len(args) < 1 {
		fmt.Println("Usage: devsup restart <name>")
		return fmt.Errorf("service name required")
	}

	return app.RestartCmd(args[0])
}

func handleKillConflict(app *cli.App, args []string) error {
	if len(args) < 1 {
		fmt.Println("Usage: devsup kill-conflict <name>")
		return fmt.Errorf("service name required")
	}

	return app.KillConflictCmd(args[0])
}

func handleStatus(app *cli.App, args []string) error {
	if len(args) < 1 {
		fmt.Println("Usage: devsup status <name>")
		return fmt.Errorf("service name required")
	}

	return app.StatusCmd(args[0])
}

func handleCheck(app *cli.App, args []string) error {
	name := ""
	if len(args) > 0 {
		name = args[0]
	}
	return app.CheckCmd(name)
}

func handleLogs(app *cli.App, args []string) error {
	if len(args) < 1 {
		fmt.Println("Usage: devsup logs <name> [--lines N]")
		return fmt.Errorf("service name required")
	}

	name := args[0]
	lines := 50

	// Parse optional --lines flag
	for i := 1; i < len(args); i++ {
		if args[i] == "--lines" && i+1 < len(args) {
			if n, err := strconv.Atoi(args[i+1]); err == nil {
				lines = n
			}
		}
	}

	return app.LogsCmd(name, lines)
}

func handleErrors(app *cli.App, args []string) error {
	if len(args) < 1 {
		fmt.Println("Usage: devsup errors <name>")
		return fmt.Errorf("service name required")
	}

	return app.ErrorsCmd(args[0])
}

func handleImport(app *cli.App, args []string) error {
	if len(args) < 1 {
		fmt.Println("Usage: devsup import <file>")
		return fmt.Errorf("import file required")
	}

	return app.ImportCmd(args[0])
}

func handleExport(app *cli.App, args []string) error {
	path := ""
	if len(args) > 0 {
		path = args[0]
	}
	return app.ExportCmd(path)
}

func handleServe(app *cli.App, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	addr := fs.String("addr", "127.0.0.1:7466", "Listen address for the control API")

	if err := fs.Parse(args); err != nil {
		return err
	}

	return app.ServeCmd(*addr)
}

func printUsage() {
	usage := `Dev Service Supervisor

Default:
  devsup                            Open interactive top UI

Manage services:
  devsup add <name> <cwd> "<cmd>" [port]
  devsup rm <name>
  devsup start <name>
  devsup stop <name>
  devsup restart <name>
  devsup kill-conflict <name>

Inspect:
  devsup ls [--details]
  devsup status <name>
  devsup check [name]
  devsup logs <name> [--lines N]
  devsup errors <name>

Config:
  devsup import <file>
  devsup export [file]

Server:
  devsup serve [--addr HOST:PORT]

Meta:
  devsup help
  devsup --version

Options:
  --verbose       Enable debug logging (must come first)
  --details       Show extended metadata in ls output
  --lines N       Number of log lines to show (default: 50)

Quick start:
  devsup
  devsup add my-app ~/projects/my-app "npm run dev" 3000
  devsup start my-app
  devsup errors my-app

Top UI tips:
  j/k select, Enter logs, s start, x stop, r restart, ? help
`
	fmt.Print(usage)
}
