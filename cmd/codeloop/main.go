// Command codeloop runs a task described in a YAML file against a language model: the
// model writes code, the code runs in a sandbox, and the run ends when an exit succeeds.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/term"

	"codeloop/pkg/config"
	"codeloop/pkg/engine"
	"codeloop/pkg/eventlog"
	"codeloop/pkg/llm"
	"codeloop/pkg/llm/factory"
	llmmetrics "codeloop/pkg/llm/middleware/metrics"
	"codeloop/pkg/logx"
	"codeloop/pkg/metrics"
	"codeloop/pkg/version"
)

// clientFunc builds the LLM client for a configuration.
type clientFunc func(cfg *config.Config, rec llmmetrics.Recorder) (llm.LLMClient, error)

// environment is everything run touches outside its arguments.
type environment struct {
	stdin       io.Reader
	stdout      io.Writer
	stderr      io.Writer
	interactive bool
	newClient   clientFunc
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	env := environment{
		stdin:       os.Stdin,
		stdout:      os.Stdout,
		stderr:      os.Stderr,
		interactive: term.IsTerminal(int(os.Stdin.Fd())),
		newClient:   defaultClient,
	}
	code := run(ctx, os.Args[1:], env)
	stop()
	os.Exit(code)
}

func defaultClient(cfg *config.Config, rec llmmetrics.Recorder) (llm.LLMClient, error) {
	client, err := factory.NewLLMClientFactory(*cfg, factory.WithRecorder(rec)).CreateClient(cfg.Model)
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM client: %w", err)
	}
	return client, nil
}

// run executes the command line and returns the process exit code.
func run(ctx context.Context, args []string, env environment) int {
	if len(args) > 0 && args[0] == "usage" {
		return runUsage(ctx, args[1:], env)
	}

	fs := flag.NewFlagSet("codeloop", flag.ContinueOnError)
	fs.SetOutput(env.stderr)
	var (
		configPath  = fs.String("config", "", "Path to the YAML configuration and task file")
		taskText    = fs.String("task", "", "Task instructions (overrides task.instructions)")
		model       = fs.String("model", "", "Model to use (overrides the configuration)")
		loop        = fs.Int("loop", 0, "Maximum number of iterations (overrides the configuration)")
		metricsOut  = fs.String("metrics-out", "", "Write Prometheus metrics in text format to this file")
		otelStdout  = fs.Bool("otel-stdout", false, "Print OpenTelemetry spans to stderr")
		dumpLog     = fs.Bool("dump-log", false, "Print buffered warnings and errors when the run ends")
		eventsDir   = fs.String("events", "", "Append traces and iteration results as JSONL to this directory")
		jsonOutput  = fs.Bool("json", false, "Print the exit value as JSON")
		showVersion = fs.Bool("version", false, "Show version information")
	)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *showVersion {
		fmt.Fprintf(env.stdout, "codeloop %s\n", version.String())
		return 0
	}

	logx.SetOutput(env.stderr)
	logger := logx.NewLogger("codeloop")

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(env.stderr, "Failed to load configuration: %v\n", err)
		return 1
	}
	if *model != "" {
		cfg.Model = *model
	}
	if *loop > 0 {
		cfg.Loop = *loop
	}
	if *taskText != "" {
		cfg.Task.Instructions = *taskText
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(env.stderr, "Invalid configuration: %v\n", err)
		return 1
	}

	if cfg.Task.Instructions == "" && env.interactive {
		cfg.Task.Instructions, err = promptLine(env, "📝 What should I do? ")
		if err != nil {
			fmt.Fprintf(env.stderr, "Failed to read task: %v\n", err)
			return 1
		}
	}

	if *otelStdout {
		shutdown, err := setupTracing(env.stderr)
		if err != nil {
			fmt.Fprintf(env.stderr, "Failed to set up tracing: %v\n", err)
			return 1
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				logger.Warn("failed to flush spans: %v", err)
			}
		}()
	}

	reg := prometheus.NewRegistry()
	usage := llmmetrics.NewInternalRecorder()
	client, err := env.newClient(cfg, llmmetrics.Fanout(usage, llmmetrics.NewPrometheusRecorder(reg)))
	if err != nil {
		fmt.Fprintf(env.stderr, "%v\n", err)
		return 1
	}

	t, err := buildTask(cfg)
	if err != nil {
		fmt.Fprintf(env.stderr, "Invalid task: %v\n", err)
		return 1
	}
	tools, err := builtinTools(env)
	if err != nil {
		fmt.Fprintf(env.stderr, "Failed to create tools: %v\n", err)
		return 1
	}

	hooks := engine.Hooks{
		OnIterationEnd: func(_ context.Context, it *engine.Iteration) error {
			logger.Info("🔁 Iteration %d: %s", it.Number, it.Status())
			return nil
		},
	}
	if *eventsDir != "" {
		events, err := eventlog.NewWriter(*eventsDir)
		if err != nil {
			fmt.Fprintf(env.stderr, "Failed to open event log: %v\n", err)
			return 1
		}
		defer func() {
			if err := events.Close(); err != nil {
				logger.Warn("%v", err)
			}
		}()
		hooks = recordEvents(hooks, events)
	}

	logger.Info("🚀 Running task with %s (loop=%d)", cfg.Model, cfg.Loop)
	res := engine.Execute(ctx, engine.Options{
		Loop:               cfg.Loop,
		Temperature:        cfg.Temperature,
		Model:              cfg.Model,
		Instructions:       engine.Static(t.instructions),
		Objects:            engine.Static(t.objects),
		Tools:              engine.Static(tools),
		Exits:              engine.Static(t.exits),
		Transcript:         engine.Static(t.transcript),
		Client:             client,
		Metrics:            metrics.NewPrometheusRecorder(reg),
		MaxConcurrentTools: cfg.Sandbox.MaxConcurrentTools,
		SlowToolWarning:    cfg.Sandbox.SlowToolWarning,
		ContextWindow:      cfg.ContextWindow(),
		Hooks:              hooks,
	})

	if res.Context != nil {
		if m := usage.GetRunMetrics(res.Context.ID); m != nil {
			logger.Info("💰 Usage: %d prompt + %d completion tokens, $%.4f over %d requests",
				m.PromptTokens, m.CompletionTokens, m.TotalCost, m.RequestCount)
		}
	}

	if *metricsOut != "" {
		if err := writeMetrics(reg, *metricsOut); err != nil {
			logger.Warn("failed to write metrics: %v", err)
		}
	}
	if *dumpLog {
		dumpEntries(env.stderr)
	}

	return report(env, res, *jsonOutput)
}

func report(env environment, res *engine.Result, asJSON bool) int {
	if !res.Succeeded() {
		fmt.Fprintf(env.stderr, "❌ Run failed after %d iteration(s): %s\n", len(res.Iterations), res.Error)
		return 1
	}

	e, _ := res.Exit()
	if asJSON {
		data, err := json.MarshalIndent(map[string]any{"exit": e.Name, "value": res.Value()}, "", "  ")
		if err != nil {
			fmt.Fprintf(env.stderr, "Failed to encode result: %v\n", err)
			return 1
		}
		fmt.Fprintln(env.stdout, string(data))
		return 0
	}

	fmt.Fprintf(env.stdout, "✅ %s", e.Name)
	if v := res.Value(); v != nil {
		data, err := json.Marshal(v)
		if err != nil {
			data = []byte(fmt.Sprint(v))
		}
		fmt.Fprintf(env.stdout, ": %s", data)
	}
	fmt.Fprintln(env.stdout)
	return 0
}

// recordEvents chains event log writes in front of the existing hooks.
func recordEvents(h engine.Hooks, w *eventlog.Writer) engine.Hooks {
	next := h.OnIterationEnd
	h.OnTrace = func(ev engine.TraceEvent) {
		t := ev.Trace
		if err := w.Write(eventlog.Event{Type: eventlog.TypeTrace, Iteration: ev.Iteration, Trace: &t}); err != nil {
			logx.Warnf("event log: %v", err)
		}
	}
	h.OnIterationEnd = func(ctx context.Context, it *engine.Iteration) error {
		ev := eventlog.Event{
			Type:      eventlog.TypeIteration,
			RunID:     logx.RunIDFrom(ctx),
			Iteration: it.Number,
			Status:    string(it.Status()),
			Code:      it.Code,
		}
		if err := it.Detail().Err; err != nil {
			ev.Error = err.Error()
		}
		if err := w.Write(ev); err != nil {
			return err
		}
		if next != nil {
			return next(ctx, it)
		}
		return nil
	}
	return h
}

func dumpEntries(w io.Writer) {
	entries := logx.RecentEntries(logx.LevelWarn)
	if len(entries) == 0 {
		return
	}
	fmt.Fprintln(w, "--- warnings and errors ---")
	for _, e := range entries {
		fmt.Fprintf(w, "[%s] [%s] %s: %s\n", e.Timestamp, e.Scope, e.Level, e.Message)
	}
}

// runUsage prints per-model token usage and cost from a Prometheus server.
func runUsage(ctx context.Context, args []string, env environment) int {
	fs := flag.NewFlagSet("codeloop usage", flag.ContinueOnError)
	fs.SetOutput(env.stderr)
	url := fs.String("prometheus", "http://localhost:9090", "Prometheus server URL")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	q, err := metrics.NewQueryService(*url)
	if err != nil {
		fmt.Fprintf(env.stderr, "%v\n", err)
		return 1
	}
	usage, err := q.UsageByModel(ctx)
	if err != nil {
		fmt.Fprintf(env.stderr, "Failed to query usage: %v\n", err)
		return 1
	}
	if len(usage) == 0 {
		fmt.Fprintln(env.stdout, "No usage recorded.")
		return 0
	}

	fmt.Fprintf(env.stdout, "%-32s %12s %12s %12s %10s\n", "MODEL", "PROMPT", "COMPLETION", "TOTAL", "COST")
	for _, u := range usage {
		fmt.Fprintf(env.stdout, "%-32s %12d %12d %12d %10.4f\n",
			u.Model, u.PromptTokens, u.CompletionTokens, u.TotalTokens, u.TotalCost)
	}
	return 0
}
