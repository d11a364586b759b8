package main

import (
	"context"
	"fmt"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ShayCichocki/conductor/internal/admission"
	"github.com/ShayCichocki/conductor/internal/api"
	"github.com/ShayCichocki/conductor/internal/approval"
	"github.com/ShayCichocki/conductor/internal/clarify"
	"github.com/ShayCichocki/conductor/internal/config"
	"github.com/ShayCichocki/conductor/internal/convergence"
	"github.com/ShayCichocki/conductor/internal/filelock"
	"github.com/ShayCichocki/conductor/internal/hierarchy"
	"github.com/ShayCichocki/conductor/internal/logging"
	"github.com/ShayCichocki/conductor/internal/metrics"
	"github.com/ShayCichocki/conductor/internal/notify"
	"github.com/ShayCichocki/conductor/internal/orchestrator"
	"github.com/ShayCichocki/conductor/internal/protect"
	"github.com/ShayCichocki/conductor/internal/state"
	"github.com/ShayCichocki/conductor/pkg/models"
)

// stack is a fully wired orchestrator plus everything that must be closed
// after it.
type stack struct {
	orch     *orchestrator.Orchestrator
	runtime  *api.Runtime
	db       *state.DB
	registry *prometheus.Registry
}

func (s *stack) Close() {
	s.orch.Close()
	s.runtime.Close()
	if err := s.db.Close(); err != nil {
		env.log.Warn().Err(err).Msg("close state database")
	}
}

func ledgerPath(cfg *config.Config, root string) string {
	return config.Resolve(root, cfg.Approvals.LedgerPath)
}

func openLedger(cfg *config.Config, root string) (*approval.Ledger, error) {
	ledger := approval.NewLedger(
		approval.NewFileStore(ledgerPath(cfg, root)),
		approval.WithMaxEntries(cfg.Approvals.MaxEntries),
		approval.WithLedgerLogger(logging.Component("approval")),
	)
	if err := ledger.Reload(); err != nil {
		return nil, fmt.Errorf("load approval ledger: %w", err)
	}
	return ledger, nil
}

func newGate(cfg *config.Config, root string, ledger *approval.Ledger) *approval.Gate {
	opts := []approval.GateOption{
		approval.WithFreshness(cfg.Approvals.Freshness),
		approval.WithStaleCheck(cfg.Approvals.StaleCheck),
		approval.WithWorkspace(root),
		approval.WithPlanGlobs(cfg.Locks.PlanGlobs),
		approval.WithGateLogger(logging.Component("gate")),
	}
	for category, approver := range cfg.Approvals.Requirements {
		opts = append(opts, approval.WithRequirement(models.ParseCategory(category), approver))
	}
	return approval.NewGate(ledger, opts...)
}

func openState(cfg *config.Config, root string) (*state.DB, error) {
	db, err := state.Open(config.Resolve(root, cfg.State.DBPath))
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func newRuntime(ctx context.Context, cfg *config.Config, root string, gate *approval.Gate) (*api.Runtime, error) {
	key := ""
	if !cfg.Anthropic.Bedrock {
		k, _, err := config.APIKey(cfg)
		if err != nil {
			return nil, err
		}
		key = k
	}
	client, err := api.NewClient(ctx, api.ClientConfig{
		Model:      anthropic.Model(cfg.Anthropic.Model),
		APIKey:     key,
		Bedrock:    cfg.Anthropic.Bedrock,
		AWSRegion:  cfg.Anthropic.AWSRegion,
		AWSProfile: cfg.Anthropic.AWSProfile,
	})
	if err != nil {
		return nil, fmt.Errorf("create API client: %w", err)
	}
	return api.NewRuntime(client, api.RuntimeConfig{
		WorkDir: root,
		// Verifiers judge work; they never edit it.
		ReadOnly: func(agent string) bool {
			_, ok := gate.Verifier(agent)
			return ok
		},
		Protect: protect.New(
			protect.WithPatterns(cfg.Protect.Patterns...),
			protect.WithFileTypes(cfg.Protect.FileTypes...),
		),
		Logger: logging.Component("runtime"),
	}), nil
}

// buildStack wires the orchestrator from cfg. The caller must Close it.
func buildStack(ctx context.Context, cfg *config.Config, root string) (*stack, error) {
	ledger, err := openLedger(cfg, root)
	if err != nil {
		return nil, err
	}
	gate := newGate(cfg, root, ledger)

	db, err := openState(cfg, root)
	if err != nil {
		return nil, err
	}

	rt, err := newRuntime(ctx, cfg, root, gate)
	if err != nil {
		db.Close()
		return nil, err
	}

	log := logging.Component("orchestrator")
	reg := prometheus.NewRegistry()

	admOpts := []admission.Option{admission.WithLimit(cfg.Concurrency.Limit)}
	for category, n := range cfg.CategoryLimits() {
		admOpts = append(admOpts, admission.WithCategoryLimit(category, n))
	}

	sink := notify.Multi{
		notify.NewTerminalSink(os.Stderr),
		notify.LogSink{Log: logging.Component("notify")},
	}

	orch := orchestrator.New(rt,
		orchestrator.WithGraph(hierarchy.Default()),
		orchestrator.WithRegistry(filelock.NewRegistry(filelock.WithLogger(logging.Component("filelock")))),
		orchestrator.WithExtractor(filelock.NewExtractor(
			filelock.WithPlanGlobs(cfg.Locks.PlanGlobs),
			filelock.WithExtractorLogger(logging.Component("extract")),
		)),
		orchestrator.WithAdmission(admOpts...),
		orchestrator.WithConvergence(convergence.WithConfig(convergence.Config{
			PollInterval:    cfg.Convergence.PollInterval,
			StablePolls:     cfg.Convergence.StablePolls,
			MinStability:    cfg.Convergence.MinStability,
			NoOutputTimeout: cfg.Convergence.NoOutputTimeout,
			MaxWait:         cfg.Convergence.MaxWait,
		})),
		orchestrator.WithBackgroundMaxWait(cfg.Convergence.BackgroundMaxWait),
		orchestrator.WithGate(gate),
		orchestrator.WithProtocol(clarify.NewProtocol(
			clarify.NewStore(clarify.WithStoreLogger(logging.Component("clarify"))),
			clarify.WithMaxRounds(cfg.Clarification.MaxRounds),
			clarify.WithLogger(logging.Component("clarify")),
		)),
		orchestrator.WithStore(db),
		orchestrator.WithNotifier(sink),
		orchestrator.WithMetrics(metrics.MustNew(reg)),
		orchestrator.WithSweep(cfg.Locks.SweepInterval, cfg.Locks.StaleAfter, cfg.Clarification.StaleAfter),
		orchestrator.WithLedgerWatch(ledgerPath(cfg, root)),
		orchestrator.WithLogger(log),
	)
	orch.Start(ctx)

	return &stack{orch: orch, runtime: rt, db: db, registry: reg}, nil
}
