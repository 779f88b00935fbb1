// Command dipeoctl is a standalone CLI that loads a diagram file from
// disk, runs it against an embedded, in-memory Runtime, and prints its
// outcome — the single-shot path spec §6.4 describes, for use in CI or
// local development without a running dipeod process.
//
// No CLI framework (cobra, urfave/cli, ...) appears anywhere in the
// retrieval pack, so flag parsing uses the standard library's flag
// package, following the shape of the teacher's cmd/runner/main.go
// (the pack's only other non-Echo, stdlib-first binary).
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/dipeo/dipeo-core/internal/compiler"
	"github.com/dipeo/dipeo-core/internal/config"
	"github.com/dipeo/dipeo-core/internal/diagram"
	"github.com/dipeo/dipeo-core/internal/diagram/importer"
	"github.com/dipeo/dipeo-core/internal/runtime"
	"github.com/dipeo/dipeo-core/internal/state"
)

// Exit codes spec §6.4 names for scripted/CI use.
const (
	exitSuccess       = 0
	exitExecFailed    = 1
	exitTimeout       = 2
	exitAborted       = 3
	exitLoadOrValidate = 4
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("dipeoctl", flag.ContinueOnError)
	var (
		format  = fs.String("format", "", "force a diagram format (native_json|light_yaml|readable_yaml); default auto-detect")
		strict  = fs.Bool("strict", false, "reject dangling handle references instead of repairing them")
		timeout = fs.Duration("timeout", 30*time.Minute, "execution timeout")
		inputs  = fs.String("input", "", "comma-separated key=value pairs merged into the diagram's initial input")
	)
	if err := fs.Parse(args); err != nil {
		return exitLoadOrValidate
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: dipeoctl [flags] <diagram-file>")
		return exitLoadOrValidate
	}
	path := fs.Arg(0)

	cfg, err := config.Load("dipeoctl")
	if err != nil {
		fmt.Fprintf(os.Stderr, "dipeoctl: load config: %v\n", err)
		return exitLoadOrValidate
	}
	cfg.Cache.Backend = "memory"

	content, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dipeoctl: read %s: %v\n", path, err)
		return exitLoadOrValidate
	}

	imp := importer.New()
	opts := importer.ImportOptions{Strict: *strict}
	if *format != "" {
		opts.Format = importer.Format(*format)
	}
	d, err := imp.Import(content, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dipeoctl: import %s: %v\n", path, err)
		return exitLoadOrValidate
	}
	if _, err := compiler.Compile(d, compiler.Options{}); err != nil {
		fmt.Fprintf(os.Stderr, "dipeoctl: compile %s: %v\n", path, err)
		return exitLoadOrValidate
	}

	initialInput, err := parseInputs(*inputs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dipeoctl: %v\n", err)
		return exitLoadOrValidate
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	rt, err := runtime.New(ctx, cfg, runtime.Options{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "dipeoctl: build runtime: %v\n", err)
		return exitLoadOrValidate
	}
	defer rt.Close()

	routerCtx, cancelRouter := context.WithCancel(ctx)
	defer cancelRouter()
	rt.Router.Start(routerCtx)
	rt.StartObservers()

	executionID := diagram.ExecutionID(uuid.NewString())
	es, runErr := rt.CompileAndRun(ctx, d, executionID, initialInput)

	// The engine reports the expiry of ctx as an abort; --timeout firing
	// is what made ctx expire, so it maps to the timeout code.
	code := report(es, runErr)
	if code == exitAborted && ctx.Err() == context.DeadlineExceeded {
		return exitTimeout
	}
	return code
}

// report prints the final execution state and maps its outcome to one
// of spec §6.4's exit codes. The engine's driving loop reports timeout,
// abort, and failure as terminal ExecutionStatus values rather than a
// returned error (see internal/engine.Engine.run); runErr is non-nil
// only for infrastructure failures (state store unreachable, etc).
func report(es *state.ExecutionState, runErr error) int {
	if runErr != nil {
		fmt.Fprintf(os.Stderr, "dipeoctl: execution failed: %v\n", runErr)
		return exitExecFailed
	}

	out, _ := json.MarshalIndent(es, "", "  ")
	fmt.Println(string(out))

	switch es.Status {
	case state.ExecutionCompleted, state.ExecutionMaxIterReached:
		return exitSuccess
	case state.ExecutionAborted:
		return exitAborted
	case state.ExecutionFailed:
		if strings.Contains(es.Error, "timed out") {
			return exitTimeout
		}
		return exitExecFailed
	default:
		return exitExecFailed
	}
}

func parseInputs(raw string) (map[string]any, error) {
	if raw == "" {
		return nil, nil
	}
	result := make(map[string]any)
	for _, pair := range strings.Split(raw, ",") {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("invalid --input entry %q, want key=value", pair)
		}
		result[kv[0]] = kv[1]
	}
	return result, nil
}
