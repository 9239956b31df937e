package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Esk3nder/promptdial-standalone-sub001/classify"
	"github.com/Esk3nder/promptdial-standalone-sub001/core"
	"github.com/Esk3nder/promptdial-standalone-sub001/discovery"
	"github.com/Esk3nder/promptdial-standalone-sub001/evaluate"
	"github.com/Esk3nder/promptdial-standalone-sub001/gateway"
	"github.com/Esk3nder/promptdial-standalone-sub001/orchestration"
	"github.com/Esk3nder/promptdial-standalone-sub001/plan"
	"github.com/Esk3nder/promptdial-standalone-sub001/retrieval"
	"github.com/Esk3nder/promptdial-standalone-sub001/runner"
	"github.com/Esk3nder/promptdial-standalone-sub001/safety"
	"github.com/Esk3nder/promptdial-standalone-sub001/selector"
	"github.com/Esk3nder/promptdial-standalone-sub001/technique"
	"github.com/Esk3nder/promptdial-standalone-sub001/telemetry"

	_ "github.com/Esk3nder/promptdial-standalone-sub001/runner/providers/anthropic"
	_ "github.com/Esk3nder/promptdial-standalone-sub001/runner/providers/gemini"
	_ "github.com/Esk3nder/promptdial-standalone-sub001/runner/providers/openai"
	_ "github.com/Esk3nder/promptdial-standalone-sub001/runner/providers/safecall"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the optimization gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	}
}

func serve() error {
	var opts []core.Option
	if configPath != "" {
		opts = append(opts, core.WithConfigFile(configPath))
	}
	cfg, err := core.NewConfig(opts...)
	if err != nil {
		return fmt.Errorf("configuration: %w", err)
	}

	logger := core.NewProductionLogger("promptdial")
	if _, err := telemetry.Init(cfg.Telemetry.ServiceName, cfg.Telemetry.StdoutExporter); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}

	guard := safety.NewGuard(nil, nil, logger)
	classifier := classify.New(logger)

	run, err := runner.FromConfig(cfg, logger)
	if err != nil {
		return fmt.Errorf("runner: %w", err)
	}

	var registry discovery.Registry
	if cfg.Discovery.Enabled {
		if cfg.Discovery.RedisURL != "" {
			registry, err = discovery.NewRedisRegistry(cfg.Discovery.RedisURL, cfg.Discovery.TTL, logger)
			if err != nil {
				return fmt.Errorf("discovery: %w", err)
			}
		} else {
			registry = discovery.NewMemoryRegistry(cfg.Discovery.TTL)
		}
	}

	// Stages with a configured or registered worker run out of process.
	var classifierStage orchestration.Classifier = classifier
	if url := workerURL(registry, "classifier", cfg.Services.ClassifierURL); url != "" {
		classifierStage = orchestration.NewRemoteClassifier(url, cfg.Timeouts.Short, logger)
	}
	var plannerStage orchestration.StrategyPlanner = plan.New(nil, logger)
	if url := workerURL(registry, "planner", cfg.Services.PlannerURL); url != "" {
		plannerStage = orchestration.NewRemotePlanner(url, cfg.Timeouts.Short, logger)
	}

	monitor := evaluate.NewMonitorWithLogger(logger)
	pipeline, err := orchestration.New(orchestration.Deps{
		Sanitizer:  guard,
		Classifier: classifierStage,
		Planner:    plannerStage,
		Retriever:  retrieval.NewDegraded(retrieval.NewMemoryStore(), logger),
		Builder:    technique.NewEngine(logger, 0),
		Runner:     run,
		Evaluator:  evaluate.NewEnsemble(monitor, true, logger),
		Selector:   &orchestration.SelectorAdapter{Inner: selector.New(guard, logger)},
		Logger:     logger,

		RunnerConcurrency: cfg.Pipeline.RunnerConcurrency,
	})
	if err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Pipeline.CanaryEnabled {
		go orchestration.NewCanary(pipeline, logger).Start(ctx)
	}
	go driftLoop(ctx, monitor)

	checks := map[string]core.HealthChecker{
		"classifier": classifierStage,
		"safety":     guard,
		"runner":     run,
	}
	server := gateway.NewServer(cfg, pipeline, checks, logger)

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()

	select {
	case <-ctx.Done():
		logger.Info("Shutting down", map[string]interface{}{"operation": "serve"})
		return nil
	case err := <-errCh:
		return err
	}
}

// workerURL prefers the configured override, then the first live worker
// registered for the service. Empty means the stage runs in process.
func workerURL(registry discovery.Registry, service, override string) string {
	if override != "" {
		return override
	}
	if registry == nil {
		return ""
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	workers, err := registry.Lookup(ctx, service)
	if err != nil {
		return ""
	}
	for _, w := range workers {
		if w.Healthy {
			return w.URL()
		}
	}
	return ""
}

// driftLoop periodically re-checks evaluator calibration against the
// accumulated human feedback.
func driftLoop(ctx context.Context, monitor *evaluate.Monitor) {
	names := []string{"g_eval", "chat_eval", "role_debate", "self_consistency"}
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			monitor.CheckDrift(names)
		}
	}
}
