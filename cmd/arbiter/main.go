// Arbiter runs the incident triage pipeline over a batch of incidents and
// writes decisions.jsonl, run_summary.json and the enrichment audit log.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/linnemanlabs/go-core/cfg"
	"github.com/linnemanlabs/go-core/log"
	v "github.com/linnemanlabs/go-core/version"

	"github.com/linnemanlabs/arbiter/internal/app"
	ac "github.com/linnemanlabs/arbiter/internal/cfg"
	"github.com/linnemanlabs/arbiter/internal/incident"
	"github.com/linnemanlabs/arbiter/internal/scenario"
	"github.com/linnemanlabs/arbiter/internal/summary"
)

const appName = "arbiter"
const component = "batch"

const (
	decisionsFile = "decisions.jsonl"
	summaryFile   = "run_summary.json"
	auditFile     = "llm_calls.jsonl"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, "fatal error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	v.AppName = appName
	v.Component = component
	vi := v.Get()

	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		triageCfg ac.Triage
		logCfg    log.Config
	)
	triageCfg.RegisterFlags(fs)
	logCfg.RegisterFlags(fs)

	var (
		selector    string
		outputDir   string
		resetOutput bool
		showVersion bool
	)
	fs.StringVar(&selector, "scenario", scenario.All, "incident id, comma-separated ids, or 'all'")
	fs.StringVar(&outputDir, "output-dir", "outputs", "directory for decisions, summary and audit log")
	fs.BoolVar(&resetOutput, "reset-output", false, "delete output-dir before running for a clean run")
	fs.BoolVar(&showVersion, "V", false, "Print version+build information and exit")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if showVersion {
		fmt.Fprintf(stdout, "%s (%s) %s (commit=%s, build_date=%s, go=%s)\n",
			vi.AppName, vi.Component, vi.Version, vi.Commit, vi.BuildDate, vi.GoVersion)
		return nil
	}

	// environment fills anything not given on the command line
	cfg.FillFromEnv(fs, "ARBITER_", func(format string, args ...any) {
		fmt.Fprintf(stderr, format+"\n", args...)
	})

	if err := errors.Join(triageCfg.Validate(), logCfg.Validate()); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	lg, err := log.New(logCfg.ToOptions(v.AppName))
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = lg.Sync() }()
	L := lg.With("component", vi.Component)
	ctx = log.WithContext(ctx, L)

	if resetOutput {
		if err := os.RemoveAll(outputDir); err != nil {
			return fmt.Errorf("reset output: %w", err)
		}
	}
	if err := os.MkdirAll(outputDir, 0o750); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	auditPath := filepath.Join(outputDir, auditFile)

	a, err := app.New(ctx, triageCfg, app.Options{Logger: L, AuditPath: auditPath})
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			L.Error(ctx, err, "failed to close audit log")
		}
	}()

	L.Info(ctx, "starting batch",
		"version", vi.Version,
		"scenario", selector,
		"enrich", triageCfg.Enrich,
		"model", triageCfg.ClaudeModel,
		"workers", triageCfg.Workers,
		"output_dir", outputDir,
	)

	triageRun, runErr := a.Service.Run(ctx, splitSelectors(selector))
	if triageRun == nil {
		return runErr
	}

	// completed decisions are written even when the batch was cut short
	if err := writeDecisions(filepath.Join(outputDir, decisionsFile), triageRun.Decisions()); err != nil {
		return errors.Join(runErr, err)
	}

	// flush the audit log before counting its lines
	if err := a.Close(); err != nil {
		return errors.Join(runErr, fmt.Errorf("close audit log: %w", err))
	}
	rt, err := summary.ReadRuntime(triageCfg.Enrich, triageCfg.ClaudeModel, a.Enricher.Status(), auditPath)
	if err != nil {
		return errors.Join(runErr, err)
	}
	s := summary.Build(triageRun.Decisions(), rt)
	if err := summary.Write(filepath.Join(outputDir, summaryFile), s); err != nil {
		return errors.Join(runErr, err)
	}

	b, err := s.JSON()
	if err != nil {
		return errors.Join(runErr, err)
	}
	fmt.Fprintln(stdout, "Run summary:")
	fmt.Fprintln(stdout, string(b))

	return runErr
}

func splitSelectors(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// writeDecisions writes one JSON decision per line, replacing any previous file.
func writeDecisions(path string, decisions []incident.Decision) (err error) {
	f, err := os.Create(path) // #nosec G304 -- path is built from the operator's output dir
	if err != nil {
		return fmt.Errorf("create decisions file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close decisions file: %w", cerr)
		}
	}()

	enc := json.NewEncoder(f)
	enc.SetEscapeHTML(false)
	for i := range decisions {
		if err := enc.Encode(&decisions[i]); err != nil {
			return fmt.Errorf("write decision %s: %w", decisions[i].IncidentID, err)
		}
	}
	return nil
}
