// caserisk - SOC case risk scoring pipeline
//
// Subcommands:
//
//	score  - score one case and exit
//	    caserisk score -case <id> [-profile business|consumer] [-exposure ssn] [-config caserisk.yaml] [-json]
//
//	watch  - poll the case store and score open cases continuously
//	    caserisk watch [-config caserisk.yaml] [-interval 30s] [-concurrency 4] [-listen :9090]
//
//	health - ping the collaborators and exit
//	    caserisk health [-config caserisk.yaml]
//
// Exit codes: 0 success, 1 scoring or configuration error, 2 unreachable
// collaborator.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/soclabs/caserisk/pkg/audit"
	"github.com/soclabs/caserisk/pkg/compress"
	"github.com/soclabs/caserisk/pkg/config"
	"github.com/soclabs/caserisk/pkg/credentials"
	"github.com/soclabs/caserisk/pkg/errors"
	"github.com/soclabs/caserisk/pkg/escalate"
	"github.com/soclabs/caserisk/pkg/health"
	"github.com/soclabs/caserisk/pkg/logging"
	"github.com/soclabs/caserisk/pkg/metrics"
	"github.com/soclabs/caserisk/pkg/profile"
	"github.com/soclabs/caserisk/pkg/record"
	"github.com/soclabs/caserisk/pkg/report"
	"github.com/soclabs/caserisk/pkg/risk"
	"github.com/soclabs/caserisk/pkg/scoring"
	"github.com/soclabs/caserisk/pkg/sources"
	"github.com/soclabs/caserisk/pkg/verdict"
	"github.com/soclabs/caserisk/pkg/watch"
)

const (
	appName    = "caserisk"
	appVersion = "1.0.0"
)

const (
	exitOK          = 0
	exitError       = 1
	exitUnreachable = 2
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(exitError)
	}

	switch os.Args[1] {
	case "score":
		os.Exit(runScore(os.Args[2:]))
	case "watch":
		os.Exit(runWatch(os.Args[2:]))
	case "health":
		os.Exit(runHealth(os.Args[2:]))
	case "version", "-version", "--version":
		fmt.Printf("%s version %s\n", appName, appVersion)
		os.Exit(exitOK)
	case "-h", "-help", "--help", "help":
		usage()
		os.Exit(exitOK)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		usage()
		os.Exit(exitError)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: %s <command> [flags]

Commands:
  score    Score one case and exit
  watch    Poll the case store and score open cases continuously
  health   Ping the collaborators and exit
  version  Print the version

Run "%s <command> -h" for command flags.
`, appName, appName)
}

// ===== score =====

func runScore(args []string) int {
	fs := flag.NewFlagSet("score", flag.ExitOnError)
	caseID := fs.String("case", "", "Case id to score (required)")
	profileFlag := fs.String("profile", "", "Force the scoring profile: business or consumer")
	exposure := fs.String("exposure", "", "Force the consumer exposure type (e.g. ssn)")
	configPath := fs.String("config", "", "Path to config file (or CASERISK_CONFIG env)")
	asJSON := fs.Bool("json", false, "Print the outcome as JSON")
	fs.Parse(args)

	if *caseID == "" {
		fmt.Fprintln(os.Stderr, "score: -case is required")
		return exitError
	}

	cfg, log, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		return exitError
	}

	ctx, cancel := signalContext()
	defer cancel()

	deps, err := buildPipeline(ctx, cfg, log, &metrics.NopCollector{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error building pipeline: %v\n", err)
		return exitError
	}
	defer deps.close()

	overrides := profile.Overrides{Profile: *profileFlag, Exposure: *exposure}
	orch, err := deps.orchestrator(scoring.WithOverrides(overrides))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error building pipeline: %v\n", err)
		return exitError
	}

	out, err := orch.ScoreCase(ctx, *caseID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error scoring case %s: %v\n", *caseID, err)
		return exitCode(err)
	}

	if *asJSON {
		printOutcomeJSON(out)
	} else {
		printOutcome(out)
	}
	return exitOK
}

func printOutcome(out scoring.Outcome) {
	switch out.Disposition {
	case scoring.DispositionCached:
		fmt.Printf("case %s unchanged, cached score %s (%s), report %s\n",
			out.CaseID, out.Score.Severity, out.Score.Profile, out.ReportID)
	default:
		fmt.Printf("case %s scored %s (%s), composite %.2f %s, report %s\n",
			out.CaseID, out.Score.Severity, out.Score.Profile,
			out.Score.Composite, out.Score.Unit, out.ReportID)
	}
}

func printOutcomeJSON(out scoring.Outcome) {
	data, _ := json.MarshalIndent(struct {
		CaseID      string  `json:"case_id"`
		Disposition string  `json:"disposition"`
		Severity    string  `json:"severity"`
		Profile     string  `json:"profile"`
		Composite   float64 `json:"composite"`
		Unit        string  `json:"unit"`
		ReportID    string  `json:"report_id"`
	}{
		CaseID:      out.CaseID,
		Disposition: string(out.Disposition),
		Severity:    string(out.Score.Severity),
		Profile:     string(out.Score.Profile.Kind),
		Composite:   out.Score.Composite,
		Unit:        string(out.Score.Unit),
		ReportID:    out.ReportID,
	}, "", "  ")
	fmt.Println(string(data))
}

// ===== watch =====

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file (or CASERISK_CONFIG env)")
	interval := fs.Duration("interval", 0, "Pause between polling passes (overrides config)")
	concurrency := fs.Int("concurrency", 0, "Cases scored in parallel per pass (overrides config)")
	listen := fs.String("listen", "", "Metrics/health listen address (overrides config)")
	fs.Parse(args)

	cfg, log, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		return exitError
	}
	if *interval > 0 {
		cfg.Watch.Interval = *interval
	}
	if *concurrency > 0 {
		cfg.Watch.Concurrency = *concurrency
	}
	if *listen != "" {
		cfg.Watch.Listen = *listen
	}

	ctx, cancel := signalContext()
	defer cancel()

	collector := metrics.NewPrometheusCollector(&metrics.PrometheusConfig{
		RegisterPipelineMetrics: true,
	})

	deps, err := buildPipeline(ctx, cfg, log, collector)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error building pipeline: %v\n", err)
		return exitError
	}
	defer deps.close()

	// A watch loop against an unreachable case store would spin and log
	// every pass; refuse to start instead.
	if err := deps.caseStore.Ping(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Case store unreachable: %v\n", err)
		return exitUnreachable
	}
	if err := deps.analyzer.Ping(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Analyzer unreachable: %v\n", err)
		return exitUnreachable
	}

	// Audit trail.
	var auditLog *audit.Logger
	var orchOpts []scoring.OrchestratorOption
	if cfg.Audit.Path != "" {
		auditLog, err = audit.NewLogger(&audit.LoggerConfig{
			LogFile:    cfg.Audit.Path,
			BufferSize: cfg.Audit.BufferSize,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening audit log: %v\n", err)
			return exitError
		}
		auditLog.Start()
		defer auditLog.Stop()
		orchOpts = append(orchOpts, scoring.WithHook(auditLog.Hook()))
	}

	// Escalation.
	escOpts := []escalate.Option{
		escalate.WithLogger(log),
		escalate.WithMetrics(collector),
	}
	if auditLog != nil {
		escOpts = append(escOpts, escalate.WithRecorder(auditLog))
	}
	escCfg, err := escalationConfig(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error resolving escalation tokens: %v\n", err)
		return exitError
	}
	escalator, err := escalate.NewFromConfig(escCfg, escOpts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error configuring escalation: %v\n", err)
		return exitError
	}
	if escalator != nil {
		orchOpts = append(orchOpts, scoring.WithHook(escalator.Hook()))
	}

	orch, err := deps.orchestrator(orchOpts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error building pipeline: %v\n", err)
		return exitError
	}

	watcher := watch.NewWatcher(deps.caseStore, orch, watch.Config{
		Interval:    cfg.Watch.Interval,
		Concurrency: cfg.Watch.Concurrency,
		Filter: scoring.Filter{
			Tags:  cfg.Watch.Tags,
			Limit: cfg.Watch.Limit,
		},
	}, watch.WithLogger(log), watch.WithMetrics(collector))

	// Metrics and health endpoints.
	handler := health.NewHandler(health.WithVersion(appVersion))
	handler.Register("casestore", &health.CollaboratorCheck{Pinger: deps.caseStore})
	handler.Register("analyzer", &health.CollaboratorCheck{Pinger: deps.analyzer})
	handler.Register("records", &health.RecordStoreCheck{Store: deps.records})
	handler.Register("watcher", &health.WatcherCheck{Running: watcher.Running})
	handler.Register("system_memory", &health.SystemMemoryCheck{MaxUsagePercent: 90})
	if cfg.Record.Backend == "sqlite" {
		handler.Register("disk", &health.DiskCheck{
			Path:           cfg.Record.Path,
			MinFreePercent: 5,
		})
	}

	var srv *http.Server
	if cfg.Watch.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", collector.Handler())
		handler.RegisterRoutes(mux, health.DefaultRoutesConfig())
		srv = &http.Server{Addr: cfg.Watch.Listen, Handler: mux}
		go func() {
			log.Info("serving metrics and health on %s", cfg.Watch.Listen)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("metrics listener: %v", err)
			}
		}()
	}

	if err := watcher.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error starting watcher: %v\n", err)
		return exitError
	}
	handler.SetReady(true)
	if auditLog != nil {
		auditLog.WatchStarted(cfg.Watch.Interval, cfg.Watch.Concurrency)
	}
	log.Info("%s watching cases every %s with concurrency %d",
		appName, cfg.Watch.Interval, cfg.Watch.Concurrency)

	<-ctx.Done()
	log.Info("shutting down")
	handler.SetReady(false)

	if err := watcher.Stop(30 * time.Second); err != nil {
		log.Warn("watcher stop: %v", err)
	}
	if auditLog != nil {
		auditLog.WatchStopped()
	}
	if srv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		srv.Shutdown(shutdownCtx)
	}
	return exitOK
}

// ===== health =====

func runHealth(args []string) int {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file (or CASERISK_CONFIG env)")
	fs.Parse(args)

	cfg, log, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		return exitError
	}

	ctx, cancel := signalContext()
	defer cancel()

	deps, err := buildPipeline(ctx, cfg, log, &metrics.NopCollector{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error building pipeline: %v\n", err)
		return exitError
	}
	defer deps.close()

	code := exitOK
	for _, p := range []interface {
		Name() string
		Ping(ctx context.Context) error
	}{deps.caseStore, deps.analyzer} {
		if err := p.Ping(ctx); err != nil {
			fmt.Printf("%-10s unreachable: %v\n", p.Name(), err)
			code = exitError
		} else {
			fmt.Printf("%-10s ok\n", p.Name())
		}
	}
	return code
}

// ===== Wiring =====

// pipelineDeps holds the shared collaborator clients and stores a
// subcommand wires into an orchestrator.
type pipelineDeps struct {
	cfg       *config.Config
	log       logging.Logger
	metrics   metrics.Collector
	caseStore *sources.CaseStore
	analyzer  *sources.AnalyzerClient
	records   record.Store
}

func loadConfig(path string) (*config.Config, logging.Logger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	log := logging.New(appName, logging.ParseLevel(cfg.LogLevel))
	return cfg, log, nil
}

func buildPipeline(ctx context.Context, cfg *config.Config, log logging.Logger, collector metrics.Collector) (*pipelineDeps, error) {
	caseStore, err := buildCaseStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	analyzer, err := buildAnalyzer(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	records, err := buildRecordStore(cfg, log)
	if err != nil {
		return nil, err
	}
	return &pipelineDeps{
		cfg:       cfg,
		log:       log,
		metrics:   collector,
		caseStore: caseStore,
		analyzer:  analyzer,
		records:   records,
	}, nil
}

func buildCaseStore(ctx context.Context, cfg *config.Config, log logging.Logger) (*sources.CaseStore, error) {
	cc, err := clientConfig(ctx, cfg.CaseStore, credentials.KeyCaseStoreAPIKey)
	if err != nil {
		return nil, err
	}
	return sources.NewCaseStore(cc, sources.WithLogger(log))
}

func buildAnalyzer(ctx context.Context, cfg *config.Config, log logging.Logger) (*sources.AnalyzerClient, error) {
	cc, err := clientConfig(ctx, cfg.Analyzer, credentials.KeyAnalyzerAPIKey)
	if err != nil {
		return nil, err
	}
	return sources.NewAnalyzerClient(cc, sources.WithLogger(log))
}

// clientConfig resolves the collaborator API key: an inline key wins,
// otherwise the key comes from the environment or the encrypted key
// file named in the config.
func clientConfig(ctx context.Context, src config.Source, key string) (sources.Config, error) {
	cc := src.ClientConfig()
	store, err := credentials.Open(src.KeyFile)
	if err != nil {
		return sources.Config{}, err
	}
	apiKey, err := credentials.Resolve(ctx, store, src.APIKey, key)
	if err != nil {
		return sources.Config{}, err
	}
	cc.APIKey = apiKey
	return cc, nil
}

func buildRecordStore(cfg *config.Config, log logging.Logger) (record.Store, error) {
	switch cfg.Record.Backend {
	case "sqlite":
		return record.NewSQLiteStore(cfg.Record.Path,
			record.WithCompressor(compress.New(compress.AlgorithmZSTD, compress.LevelDefault)),
			record.WithLogger(log),
		)
	default:
		return record.NewMemoryStore(), nil
	}
}

func (d *pipelineDeps) orchestrator(opts ...scoring.OrchestratorOption) (*scoring.Orchestrator, error) {
	tables, err := d.cfg.Tables()
	if err != nil {
		return nil, err
	}
	calculator, err := risk.NewCalculator(tables)
	if err != nil {
		return nil, err
	}
	extractorOpts, err := d.cfg.ExtractorOptions()
	if err != nil {
		return nil, err
	}
	renderer, err := report.NewRenderer()
	if err != nil {
		return nil, err
	}

	opts = append([]scoring.OrchestratorOption{
		scoring.WithLogger(d.log),
		scoring.WithMetrics(d.metrics),
	}, opts...)

	return scoring.NewOrchestrator(
		d.caseStore,
		d.analyzer,
		d.records,
		verdict.NewExtractor(extractorOpts...),
		profile.NewResolver(d.cfg.ProfileConfig(tables)),
		calculator,
		renderer,
		opts...,
	), nil
}

func (d *pipelineDeps) close() {
	if d.records != nil {
		if err := d.records.Close(); err != nil {
			d.log.Warn("closing record store: %v", err)
		}
	}
}

// escalationConfig bridges the file config to the escalate package,
// resolving tracker tokens from the environment when they are not
// inlined in the config.
func escalationConfig(ctx context.Context, cfg *config.Config) (escalate.Config, error) {
	env := credentials.NewEnvStore(credentials.DefaultEnvPrefix)
	ghToken, err := credentials.Resolve(ctx, env, cfg.Escalation.GitHub.Token, credentials.KeyGitHubToken)
	if err != nil {
		return escalate.Config{}, err
	}
	glToken, err := credentials.Resolve(ctx, env, cfg.Escalation.GitLab.Token, credentials.KeyGitLabToken)
	if err != nil {
		return escalate.Config{}, err
	}

	return escalate.Config{
		Notifier:    cfg.Escalation.Notifier,
		MinSeverity: cfg.Escalation.MinSeverity,
		Labels:      cfg.Escalation.Labels,
		GitHub: escalate.GitHubConfig{
			Token: ghToken,
			Owner: cfg.Escalation.GitHub.Owner,
			Repo:  cfg.Escalation.GitHub.Repo,
		},
		GitLab: escalate.GitLabConfig{
			Token:   glToken,
			Project: cfg.Escalation.GitLab.Project,
			BaseURL: cfg.Escalation.GitLab.BaseURL,
		},
	}, nil
}

// signalContext cancels on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// exitCode maps a scoring error to the process exit code. Transport
// failures mean the collaborator is unreachable.
func exitCode(err error) int {
	switch errors.GetKind(err) {
	case errors.KindNetwork, errors.KindTimeout, errors.KindServer, errors.KindRateLimit:
		return exitUnreachable
	default:
		return exitError
	}
}
