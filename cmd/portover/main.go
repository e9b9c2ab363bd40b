package main

import (
	"fmt"
	"os"

	"github.com/portover/portover/internal/cli/source"
	"github.com/portover/portover/internal/cli/target"
)

const (
	version = "v0.1.0"
	banner  = `
██████╗  ██████╗ ██████╗ ████████╗ ██████╗ ██╗   ██╗███████╗██████╗
██╔══██╗██╔═══██╗██╔══██╗╚══██╔══╝██╔═══██╗██║   ██║██╔════╝██╔══██╗
██████╔╝██║   ██║██████╔╝   ██║   ██║   ██║██║   ██║█████╗  ██████╔╝
██╔═══╝ ██║   ██║██╔══██╗   ██║   ██║   ██║╚██╗ ██╔╝██╔══╝  ██╔══██╗
██║     ╚██████╔╝██║  ██║   ██║   ╚██████╔╝ ╚████╔╝ ███████╗██║  ██║
╚═╝      ╚═════╝ ╚═╝  ╚═╝   ╚═╝    ╚═════╝   ╚═══╝  ╚══════╝╚═╝  ╚═╝
Portover ` + version + `
One-way device migration. Pack once, move everything.
`
)

func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		printBanner()
		printUsage()
		return
	}
	if hasVersionFlag(args) {
		printBanner()
		return
	}

	switch args[0] {
	case "send":
		source.Run(args[1:])
	case "receive":
		target.Run(args[1:])
	default:
		if hasHelpFlag(args) {
			printUsage()
			return
		}
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(2)
	}
}

func printBanner() {
	fmt.Fprint(os.Stdout, banner)
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: portover <command> [args]")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  send     migrate files to a paired target device")
	fmt.Fprintln(os.Stderr, "  receive  accept a migration from a paired source device")
	fmt.Fprintln(os.Stderr, "run 'portover <command> --help' for command flags")
}

func hasVersionFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--version" || arg == "-v" {
			return true
		}
	}
	return false
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}
