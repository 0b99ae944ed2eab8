// Command govagentd runs the autonomous governance voting agent described
// in spec section 6: a daemon that discovers ProposalCreated events, decodes
// the dapp action, fetches and reviews the referenced bundle, decides a
// recommended vote, and — only with auto_vote enabled — casts it on chain.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"govagent/agent"
	"govagent/bundle"
	"govagent/chain"
	"govagent/config"
	"govagent/crypto"
	"govagent/crypto/passphrase"
	"govagent/decision"
	"govagent/doctor"
	"govagent/llm"
	"govagent/notifier"
	"govagent/observability/metrics"
	telemetry "govagent/observability/logging"
	otelinit "govagent/observability/otel"
	"govagent/proposal"
	"govagent/review"
	"govagent/storage"
	"govagent/vote"
)

const (
	exitOK             = 0
	exitGeneric        = 1
	exitConfigError    = 2
	exitDoctorFailure  = 3
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return exitGeneric
	}

	sub, rest := args[0], args[1:]
	switch sub {
	case "run":
		return cmdRun(rest)
	case "review-once":
		return cmdReviewOnce(rest)
	case "backfill":
		return cmdBackfill(rest)
	case "doctor":
		return cmdDoctor(rest)
	case "config":
		return cmdConfig(rest)
	default:
		fmt.Fprintf(os.Stderr, "govagentd: unknown command %q\n", sub)
		printUsage()
		return exitGeneric
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: govagentd <run|review-once|backfill|doctor|config> [flags]")
}

// loadConfig loads and validates configuration from the --config flag, the
// layered precedence documented in spec section 9.
func loadConfig(fs *flag.FlagSet, args []string) (config.Config, string, error) {
	var cfgPath string
	fs.StringVar(&cfgPath, "config", "", "path to govagentd config file")
	if err := fs.Parse(args); err != nil {
		return config.Config{}, "", err
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Config{}, "", err
	}
	return cfg, cfgPath, nil
}

func cmdDoctor(args []string) int {
	fs := flag.NewFlagSet("doctor", flag.ContinueOnError)
	cfg, _, err := loadConfig(fs, args)
	if err != nil {
		fmt.Fprintln(os.Stderr, "govagentd: doctor:", err)
		return exitConfigError
	}
	logger := telemetry.Setup("govagentd", cfg.Environment, cfg.DataDir)
	logger.Info("running doctor checks")

	report := doctor.Run(context.Background(), cfg)
	for _, c := range report.Checks {
		if c.OK {
			logger.Info("doctor check passed", "check", c.Name)
		} else {
			logger.Error("doctor check failed", "check", c.Name, "error", c.Err)
		}
	}
	if !report.Passed {
		return exitDoctorFailure
	}
	logger.Info("doctor checks passed")
	return exitOK
}

func cmdConfig(args []string) int {
	if len(args) == 0 || args[0] != "print" {
		fmt.Fprintln(os.Stderr, "usage: govagentd config print [flags]")
		return exitGeneric
	}
	fs := flag.NewFlagSet("config print", flag.ContinueOnError)
	cfg, _, err := loadConfig(fs, args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "govagentd: config:", err)
		return exitConfigError
	}
	encoded, err := json.MarshalIndent(cfg.Redacted(), "", "  ")
	if err != nil {
		fmt.Fprintln(os.Stderr, "govagentd: config: marshal:", err)
		return exitGeneric
	}
	fmt.Println(string(encoded))
	return exitOK
}

func cmdRun(args []string) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	once := fs.Bool("once", false, "run exactly one scheduler tick and exit")
	autoVote := fs.Bool("auto-vote", false, "override config auto_vote to true for this invocation")
	var cfgPath string
	fs.StringVar(&cfgPath, "config", "", "path to govagentd config file")
	if err := fs.Parse(args); err != nil {
		return exitGeneric
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "govagentd: run:", err)
		return exitConfigError
	}
	if *autoVote {
		cfg.AutoVote = true
	}

	logger := telemetry.Setup("govagentd", cfg.Environment, cfg.DataDir)
	shutdownTelemetry := initTelemetry(logger)
	defer shutdownTelemetry()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	boot, err := bootstrap(ctx, cfg, logger)
	if err != nil {
		logger.Error("bootstrap failed", "error", err)
		return exitGeneric
	}
	defer boot.Close()

	if *once {
		if err := boot.Scheduler.RunOnce(ctx); err != nil {
			logger.Error("single tick failed", "error", err)
			return exitGeneric
		}
		return exitOK
	}

	errCh := make(chan error, 1)
	go func() { errCh <- boot.Scheduler.Run(ctx) }()

	statusHandler := otelhttp.NewHandler(agent.NewStatusRouter(boot.Store, cfg.SafeConfirmations), "govagentd")
	statusErrCh := make(chan error, 1)
	go func() { statusErrCh <- agent.ServeStatus(ctx, cfg.StatusListenAddress, statusHandler) }()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		return exitOK
	case err := <-errCh:
		if err != nil && err != context.Canceled {
			logger.Error("scheduler stopped", "error", err)
			return exitGeneric
		}
		return exitOK
	case err := <-statusErrCh:
		if err != nil {
			logger.Error("status server stopped", "error", err)
			return exitGeneric
		}
		return exitOK
	}
}

func cmdReviewOnce(args []string) int {
	fs := flag.NewFlagSet("review-once", flag.ContinueOnError)
	proposalIDFlag := fs.String("proposal-id", "", "decimal proposal id to drive through the pipeline")
	var cfgPath string
	fs.StringVar(&cfgPath, "config", "", "path to govagentd config file")
	if err := fs.Parse(args); err != nil {
		return exitGeneric
	}
	if strings.TrimSpace(*proposalIDFlag) == "" {
		fmt.Fprintln(os.Stderr, "govagentd: review-once: --proposal-id is required")
		return exitGeneric
	}
	id, err := proposal.IDFromDecimal(*proposalIDFlag)
	if err != nil {
		fmt.Fprintln(os.Stderr, "govagentd: review-once:", err)
		return exitGeneric
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "govagentd: review-once:", err)
		return exitConfigError
	}
	logger := telemetry.Setup("govagentd", cfg.Environment, cfg.DataDir)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	boot, err := bootstrap(ctx, cfg, logger)
	if err != nil {
		logger.Error("bootstrap failed", "error", err)
		return exitGeneric
	}
	defer boot.Close()

	if err := boot.Scheduler.ReviewOnce(ctx, id); err != nil {
		logger.Error("review-once failed", "proposal_id", id.String(), "error", err)
		return exitGeneric
	}
	return exitOK
}

func cmdBackfill(args []string) int {
	fs := flag.NewFlagSet("backfill", flag.ContinueOnError)
	fromBlock := fs.Uint64("from-block", 0, "block number to rewind discovery to")
	var cfgPath string
	fs.StringVar(&cfgPath, "config", "", "path to govagentd config file")
	if err := fs.Parse(args); err != nil {
		return exitGeneric
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "govagentd: backfill:", err)
		return exitConfigError
	}
	logger := telemetry.Setup("govagentd", cfg.Environment, cfg.DataDir)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	boot, err := bootstrap(ctx, cfg, logger)
	if err != nil {
		logger.Error("bootstrap failed", "error", err)
		return exitGeneric
	}
	defer boot.Close()

	if err := boot.Scheduler.Backfill(ctx, *fromBlock); err != nil {
		logger.Error("backfill failed", "error", err)
		return exitGeneric
	}
	return exitOK
}

func initTelemetry(logger *slog.Logger) func() {
	endpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	headers := otelinit.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"))
	insecure := true
	if v := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			insecure = parsed
		}
	}
	shutdown, err := otelinit.Init(context.Background(), otelinit.Config{
		ServiceName: "govagentd",
		Endpoint:    endpoint,
		Insecure:    insecure,
		Headers:     headers,
		Metrics:     true,
		Traces:      true,
	})
	if err != nil {
		logger.Warn("telemetry init failed, continuing without it", "error", err)
		return func() {}
	}
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdown(shutdownCtx)
	}
}

// boot holds every component the run/review-once/backfill subcommands share.
type boot struct {
	Core      *agent.Core
	Scheduler *agent.Scheduler
	Store     *storage.Store
	adapter   *chain.EthAdapter
	webhook   *notifierCloser
}

type notifierCloser struct {
	close func()
}

func (b *boot) Close() {
	if b.Store != nil {
		_ = b.Store.Close()
	}
	if b.adapter != nil {
		b.adapter.Close()
	}
	if b.webhook != nil && b.webhook.close != nil {
		b.webhook.close()
	}
}

// bootstrap wires every pipeline component behind agent.Core, the one place
// spec section 9 allows cross-package orchestration to happen.
func bootstrap(ctx context.Context, cfg config.Config, logger *slog.Logger) (*boot, error) {
	if cfg.KeystorePassword == "" {
		resolved, err := passphrase.NewSource(cfg.KeystorePasswordEnv).Get()
		if err != nil {
			return nil, fmt.Errorf("resolve keystore passphrase: %w", err)
		}
		cfg.KeystorePassword = resolved
	}

	signer, err := crypto.NewKeystoreSigner(cfg.KeystorePath, cfg.KeystorePassword)
	if err != nil {
		return nil, fmt.Errorf("load signer: %w", err)
	}

	agentMetrics := metrics.Registry()

	adapter, err := chain.NewEthAdapter(ctx, cfg.RPCURL, cfg.GovernorAddress, cfg.LogChunkSize, cfg.SafeConfirmations, agentMetrics)
	if err != nil {
		return nil, fmt.Errorf("dial chain: %w", err)
	}

	store, err := storage.Open(cfg.DataDir)
	if err != nil {
		adapter.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}

	gateways := make([]bundle.Gateway, 0, len(cfg.Gateways))
	for _, gw := range cfg.Gateways {
		gateways = append(gateways, bundle.Gateway{URL: gw.URL, MaxAttempts: gw.MaxAttempts, Timeout: gw.Timeout})
	}
	fetcher := bundle.NewFetcher(gateways, cfg.IPFSCacheDir, cfg.MaxBundleBytes, cfg.MaxBundleFiles, 2*time.Minute, agentMetrics)

	registry := llm.NewRegistry()
	var providers []llm.NamedProvider
	for _, p := range cfg.Providers {
		built, err := registry.Build(p.Kind, p.BaseURL, p.APIKey, p.Model)
		if err != nil {
			logger.Warn("skipping misconfigured llm provider", "name", p.Name, "error", err)
			continue
		}
		providers = append(providers, llm.NamedProvider{Provider: built, Model: p.Model})
	}
	redactor := llm.NewRedactor(cfg.SecretPatterns)
	dispatcher := llm.NewDispatcher(providers, redactor)

	reviewEngine := review.Engine{
		Deterministic: review.DeterministicConfig{ForbiddenPatterns: cfg.ForbiddenPatterns},
		Prompt:        review.PromptBuilder{},
		Dispatcher:    dispatcher,
	}

	policy, err := decision.ResolvePolicy(cfg.DecisionProfile, cfg.ApproveThreshold, cfg.RejectThreshold)
	if err != nil {
		store.Close()
		adapter.Close()
		return nil, fmt.Errorf("resolve decision policy: %w", err)
	}

	voteConfig := vote.DefaultConfig()
	voteConfig.AutoVote = cfg.AutoVote
	if cfg.MinVoteBlocksRemaining > 0 {
		voteConfig.MinVoteBlocksRemaining = cfg.MinVoteBlocksRemaining
	}
	voteConfig.MaxGasPriceGwei = cfg.MaxGasPriceGwei
	voteConfig.MaxPriorityFeeGwei = cfg.MaxPriorityFeeGwei
	executor := &vote.Executor{Adapter: adapter, Signer: signer, Store: store, Config: voteConfig}

	notifierEntries := []notifier.Notifier{notifier.LogNotifier{Logger: logger}}
	var webhookClose func()
	if cfg.NotifierWebhookURL != "" {
		webhookDispatcher, err := notifier.NewWebhookDispatcher(
			cfg.NotifierWebhookURL, []byte(cfg.NotifierWebhookSecret),
			notifier.WithLogger(logger),
		)
		if err != nil {
			logger.Warn("webhook notifier disabled", "error", err)
		} else {
			notifierEntries = append(notifierEntries, webhookDispatcher)
			webhookClose = webhookDispatcher.Close
		}
	}

	core := &agent.Core{
		Adapter:           adapter,
		DappRegistry:      cfg.DappRegistryAddress,
		Store:             store,
		Fetcher:           fetcher,
		ReviewEngine:      reviewEngine,
		DecisionPolicy:    policy,
		VoteExecutor:      executor,
		Notifier:          notifier.Multi{Notifiers: notifierEntries},
		Metrics:           agentMetrics,
		Logger:            logger,
		SafeConfirmations: cfg.SafeConfirmations,
		LogChunkSize:      cfg.LogChunkSize,
	}

	scheduler := &agent.Scheduler{
		Core:         core,
		Store:        store,
		PollInterval: cfg.PollInterval,
		ChunkSize:    cfg.LogChunkSize,
	}

	if strings.HasPrefix(cfg.RPCURL, "ws://") || strings.HasPrefix(cfg.RPCURL, "wss://") {
		watcher := chain.NewHeadWatcher(cfg.RPCURL)
		go watcher.Run(ctx)
		scheduler.Wake = watcher.Heads()
	}

	return &boot{Core: core, Scheduler: scheduler, Store: store, adapter: adapter, webhook: &notifierCloser{close: webhookClose}}, nil
}
