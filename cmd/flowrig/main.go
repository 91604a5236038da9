// Command flowrig validates and runs workflow graph documents.
//
//	flowrig validate <graph.json>
//	flowrig run <graph.json>
//	flowrig schedule <graph.json> "<cron expression>"
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/flowrig/flowrig/internal/engine"
	"github.com/flowrig/flowrig/internal/journal"
	"github.com/flowrig/flowrig/internal/logging"
	"github.com/flowrig/flowrig/internal/scheduler"
	"github.com/flowrig/flowrig/internal/validation"
	"github.com/flowrig/flowrig/pkg/schema"
)

func main() {
	cfg := loadConfig()
	logger := newLogger(cfg.LogLevel)

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "validate":
		err = cmdValidate(os.Args[2:])
	case "run":
		err = cmdRun(ctx, cfg, logger, os.Args[2:])
	case "schedule":
		err = cmdSchedule(ctx, cfg, logger, os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		logger.Error("command failed", "error", err.Error())
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: flowrig <validate|run|schedule> <graph.json> [cron]")
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(logging.NewCorrelationHandler(handler))
}

// loadGraph validates the document against the JSON Schema, then decodes it.
func loadGraph(path string) (*schema.WorkflowGraph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read graph: %w", err)
	}

	validator, err := validation.NewGraphValidator()
	if err != nil {
		return nil, err
	}
	result, err := validator.ValidateDocument(data)
	if err != nil {
		return nil, err
	}
	for _, w := range result.Warnings {
		fmt.Fprintf(os.Stderr, "warning: %s: %s\n", w.Path, w.Message)
	}
	if !result.Valid() {
		for _, e := range result.Errors {
			fmt.Fprintf(os.Stderr, "error: %s: %s\n", e.Path, e.Message)
		}
		return nil, result.ToError()
	}

	var def schema.WorkflowGraph
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("decode graph: %w", err)
	}
	return &def, nil
}

func cmdValidate(args []string) error {
	if len(args) < 1 {
		usage()
		return fmt.Errorf("validate: missing graph file")
	}
	def, err := loadGraph(args[0])
	if err != nil {
		return err
	}
	fmt.Printf("%s: valid (%d nodes, %d edges)\n", def.ID, len(def.Nodes), len(def.Edges))
	return nil
}

func cmdRun(ctx context.Context, cfg Config, logger *slog.Logger, args []string) error {
	if len(args) < 1 {
		usage()
		return fmt.Errorf("run: missing graph file")
	}
	def, err := loadGraph(args[0])
	if err != nil {
		return err
	}

	j, err := openJournal(ctx, cfg)
	if err != nil {
		return err
	}
	defer j.Close()

	eng, err := engine.New(def, engine.Options{
		Invoker:  echoInvoker(logger),
		Resolver: stdinResolver(os.Stdin, os.Stdout),
		Observer: func(st *schema.ExecutionState) {
			logger.Debug("state changed", "status", string(st.Status), "current_node", st.CurrentNodeID)
		},
		Logger:  logger,
		Journal: j,
	})
	if err != nil {
		return err
	}

	// An interrupt stops the run instead of killing the process mid-node.
	go func() {
		<-ctx.Done()
		eng.Stop()
	}()

	if err := eng.Start(ctx); err != nil {
		return err
	}

	st := eng.State()
	fmt.Printf("run %s finished with status %s\n", st.RunID, st.Status)
	for _, id := range st.VisitedNodes {
		if out, ok := st.NodeOutputs[id]; ok {
			fmt.Printf("  %s: %s\n", id, out)
		} else {
			fmt.Printf("  %s\n", id)
		}
	}
	return nil
}

func cmdSchedule(ctx context.Context, cfg Config, logger *slog.Logger, args []string) error {
	if len(args) < 2 {
		usage()
		return fmt.Errorf("schedule: missing graph file or cron expression")
	}
	def, err := loadGraph(args[0])
	if err != nil {
		return err
	}

	launcher := scheduler.RunLauncherFunc(func(ctx context.Context, workflowID string) error {
		j, err := openJournal(ctx, cfg)
		if err != nil {
			return err
		}
		defer j.Close()

		eng, err := engine.New(def, engine.Options{
			Invoker: echoInvoker(logger),
			Logger:  logger,
			Journal: j,
		})
		if err != nil {
			return err
		}
		return eng.Start(ctx)
	})

	sched := scheduler.NewScheduler(launcher, logger)
	if err := sched.AddJob(scheduler.ScheduledRun{
		ID:             "cli",
		WorkflowID:     def.ID,
		CronExpression: args[1],
		Enabled:        true,
	}); err != nil {
		return err
	}

	if err := sched.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return sched.Stop()
}

func openJournal(ctx context.Context, cfg Config) (journal.Journal, error) {
	if cfg.DBPath == "" {
		return journal.NewMemory(), nil
	}
	return journal.OpenLibSQL(ctx, cfg.DBPath)
}

// echoInvoker is a stand-in agent for local runs: it echoes what it was
// given instead of calling a model.
func echoInvoker(logger *slog.Logger) engine.AgentInvoker {
	return engine.AgentInvokerFunc(func(ctx context.Context, agentID, previousOutput string) (string, error) {
		logger.InfoContext(ctx, "invoking agent", "agent_id", agentID)
		if previousOutput == "" {
			return fmt.Sprintf("%s: done", agentID), nil
		}
		return fmt.Sprintf("%s: done (input: %s)", agentID, previousOutput), nil
	})
}

// stdinResolver prompts on stdout and reads the chosen option ID from stdin.
func stdinResolver(in io.Reader, out io.Writer) engine.DecisionResolver {
	reader := bufio.NewReader(in)
	return engine.DecisionResolverFunc(func(ctx context.Context, req engine.DecisionRequest) (string, error) {
		fmt.Fprintf(out, "\n%s\n", req.Question)
		for _, opt := range req.Options {
			label := opt.Label
			if label == "" {
				label = opt.ID
			}
			fmt.Fprintf(out, "  [%s] %s\n", opt.ID, label)
		}
		fmt.Fprint(out, "choice> ")

		line, err := reader.ReadString('\n')
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(line), nil
	})
}
