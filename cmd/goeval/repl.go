package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/peterh/liner"

	"github.com/repltools/goeval/pkg/eval"
	"github.com/repltools/goeval/pkg/segment"
)

const (
	promptMain  = ">> "
	promptCont  = ".. "
	historyFile = ".goeval_history"
)

func runRepl(cfg *eval.Config) int {
	evalCtx, err := eval.NewContext(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer evalCtx.Close()

	fmt.Printf("%s (workspace %s)\n", cliToolVersion, evalCtx.WorkDir())

	home, _ := os.UserHomeDir()
	histPath := filepath.Join(home, historyFile)

	ln := liner.NewLiner()
	defer ln.Close()
	ln.SetCtrlCAborts(true)

	if f, err := os.Open(histPath); err == nil {
		_, _ = ln.ReadHistory(f)
		_ = f.Close()
	}
	defer func() {
		if f, err := os.Create(histPath); err == nil {
			_, _ = ln.WriteHistory(f)
			_ = f.Close()
		}
	}()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigc)
	go func() {
		<-sigc
		ln.Close()
		os.Exit(130)
	}()

	for {
		code, ok := readSnippet(ln)
		if !ok {
			fmt.Println()
			return 0
		}
		trimmed := strings.TrimSpace(code)
		if trimmed == "" {
			continue
		}
		ln.AppendHistory(strings.ReplaceAll(code, "\n", " "))

		if strings.HasPrefix(trimmed, ":") {
			if quit := command(evalCtx, trimmed); quit {
				return 0
			}
			continue
		}

		outcome, err := evalCtx.Evaluate(context.Background(), code)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			continue
		}
		report(outcome)
	}
}

// readSnippet keeps prompting while the input is bracket-incomplete, so
// multi-line declarations read naturally.
func readSnippet(ln *liner.State) (string, bool) {
	var b strings.Builder
	for {
		prompt := promptMain
		if b.Len() > 0 {
			prompt = promptCont
		}
		line, err := ln.Prompt(prompt)
		if errors.Is(err, io.EOF) {
			return "", false
		}
		if err != nil {
			return "", true
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)
		if !segment.Incomplete(b.String()) {
			return b.String(), true
		}
	}
}

func command(evalCtx *eval.Context, input string) bool {
	fields := strings.Fields(input)
	switch fields[0] {
	case ":quit", ":q":
		return true
	case ":vars":
		for _, rec := range evalCtx.Variables() {
			typeName := rec.TypeName
			if typeName == "" {
				typeName = "<unresolved>"
			}
			fmt.Printf("%s: %s\n", rec.Name, typeName)
		}
	case ":clear":
		evalCtx.Reset()
		fmt.Println("session state cleared")
	case ":dep":
		if len(fields) < 2 {
			fmt.Fprintln(os.Stderr, ":dep expects a module path and optional version")
			return false
		}
		version := "latest"
		if len(fields) > 2 {
			version = fields[2]
		}
		if err := evalCtx.AddDependency(context.Background(), fields[1], version); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return false
		}
		fmt.Printf("added %s %s\n", fields[1], version)
	case ":help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %s (:help for help)\n", fields[0])
	}
	return false
}

func report(outcome *eval.Outcome) {
	if outcome.Stdout != "" {
		fmt.Print(outcome.Stdout)
		if !strings.HasSuffix(outcome.Stdout, "\n") {
			fmt.Println()
		}
	}
	if outcome.Stderr != "" {
		fmt.Fprint(os.Stderr, outcome.Stderr)
		if !strings.HasSuffix(outcome.Stderr, "\n") {
			fmt.Fprintln(os.Stderr)
		}
	}
	for _, block := range outcome.Content {
		fmt.Printf("[%s content, %d bytes]\n", block.Mime, len(block.Data))
	}
	if outcome.HasLastValue {
		fmt.Println(outcome.LastValue)
	}
	for _, name := range outcome.DroppedVariables {
		fmt.Fprintf(os.Stderr, "note: %s was not preserved (type cannot cross evaluations)\n", name)
	}
}
