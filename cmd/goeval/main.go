package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/repltools/goeval/pkg/eval"
)

const cliToolVersion = "goeval 0.1.0-dev"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	configPath := ""
	remaining := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--config":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "--config expects a path")
				return 1
			}
			configPath = args[i+1]
			i++
		case strings.HasPrefix(arg, "--config="):
			configPath = strings.TrimPrefix(arg, "--config=")
		case arg == "--help", arg == "-h":
			printUsage()
			return 0
		case arg == "--version", arg == "-V":
			fmt.Fprintln(os.Stdout, cliToolVersion)
			return 0
		default:
			remaining = append(remaining, arg)
		}
	}

	cfg := eval.DefaultConfig()
	if configPath != "" {
		loaded, err := eval.LoadConfig(configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
			return 1
		}
		cfg = loaded
	}

	if len(remaining) > 0 {
		fmt.Fprintf(os.Stderr, "unexpected arguments: %s\n", strings.Join(remaining, " "))
		return 1
	}
	return runRepl(cfg)
}

func printUsage() {
	fmt.Fprint(os.Stdout, `goeval - incremental Go evaluation

Usage:
  goeval [--config path]

Flags:
  --config path   YAML engine configuration
  --version, -V   print version
  --help, -h      this text

REPL commands:
  :dep path [version]   add an external module dependency
  :vars                 list session variables and their types
  :clear                discard all session state
  :quit                 exit
`)
}
