package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"warden/internal/config"
	"warden/internal/eligibility"
	"warden/internal/envelope"
	"warden/internal/gate"
	"warden/internal/grounding"
	"warden/internal/journal"
	"warden/internal/llm"
	"warden/internal/logging"
	"warden/internal/proposal"
	"warden/internal/reduction"
)

const version = "0.3.0"

var (
	// Global flags
	verbose    bool
	configPath string
	workspace  string

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "warden",
	Short: "warden - output validation and execution gate",
	Long: `warden sits between a generative model and an embodied executor.

Raw model output is canonicalized into a request envelope and sent to an
external semantic authority (the reducer). Only text the authority marks
executable may be converted into action; every failure path fails closed.

The proposal flow extends the same gate to self-generated capabilities:
when the agent hits an impasse, a staged pipeline synthesizes a candidate
specification and the reducer decides whether it may be registered.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Initialize logger
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		if err := logging.Initialize(workspace); err != nil {
			logger.Warn("category logging unavailable", zap.Error(err))
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAll()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// reduceCmd sends one piece of text through the gate
var reduceCmd = &cobra.Command{
	Use:   "reduce [text]",
	Short: "Reduce one piece of model output and report eligibility",
	Long: `Canonicalizes the given text into a request envelope, sends it to the
configured reducer, and prints the outcome with the derived eligibility.
When the reducer is unreachable the outcome is a fallback and eligibility
is false; the command still exits 0 because fail-closed is not an error.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runReduce,
}

// proposeCmd runs the capability proposal flow once
var proposeCmd = &cobra.Command{
	Use:   "propose [task-id] [impasse description]",
	Short: "Run one capability proposal for a simulated impasse",
	Long: `Drives the full proposal flow: staged candidate generation, local
validation, gate submission, and registration or rejection. Without a
configured reducer the proposal is skipped before any model call unless
the advisory override is set.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runPropose,
}

// healthCmd reports gate wiring and history state
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Report reducer binding, history size, and journal counts",
	RunE:  runHealth,
}

// historyCmd lists persisted proposal history for a task
var historyCmd = &cobra.Command{
	Use:   "history [task-id]",
	Short: "List journaled proposal outcomes for a task",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistory,
}

// initCmd writes a default config file
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default .warden/config.yaml",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath
		if path == "" {
			path = config.DefaultPath
		}
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}
		if err := config.DefaultConfig().Save(path); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", path)
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the warden version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("warden %s\n", version)
	},
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func buildBinding(cfg *config.Config) *gate.Binding {
	if !cfg.Reducer.Enabled || cfg.Reducer.Endpoint == "" {
		return gate.NewBinding(nil)
	}
	client := reduction.NewClient(reduction.Config{
		Endpoint: cfg.Reducer.Endpoint,
		Timeout:  cfg.GetReducerTimeout(),
	})
	return gate.NewBinding(client)
}

func buildLLM(ctx context.Context, cfg *config.Config) (llm.Client, error) {
	switch cfg.LLM.Provider {
	case "", "gemini":
		if cfg.LLM.APIKey == "" {
			return nil, fmt.Errorf("no LLM API key configured (set GEMINI_API_KEY or llm.api_key)")
		}
		return llm.NewGeminiClient(ctx, cfg.LLM.APIKey, cfg.LLM.Model)
	case "openai":
		if cfg.LLM.APIKey == "" {
			return nil, fmt.Errorf("no LLM API key configured (set OPENAI_API_KEY or llm.api_key)")
		}
		return llm.NewOpenAICompatClient(llm.OpenAICompatConfig{
			APIKey:  cfg.LLM.APIKey,
			BaseURL: cfg.LLM.BaseURL,
			Model:   cfg.LLM.Model,
			Timeout: cfg.GetLLMTimeout(),
		}), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.LLM.Provider)
	}
}

func flowConfig(cfg *config.Config) proposal.Config {
	defaults := proposal.DefaultBudgets()
	return proposal.Config{
		MaxRefineIterations: cfg.Proposal.MaxRefineIterations,
		ConfidenceThreshold: cfg.Proposal.ConfidenceThreshold,
		RingCapacity:        cfg.Proposal.RingCapacity,
		HistoryTTL:          cfg.GetHistoryTTL(),
		DebounceWindow:      cfg.GetDebounceWindow(),
		GateRetries:         cfg.Proposal.GateRetries,
		AdvisoryOverride:    cfg.Proposal.AdvisoryOverride,
		Budgets: proposal.Budgets{
			Abstract: proposal.StageBudget{
				MaxTokens:   cfg.Proposal.Budgets.Abstract.MaxTokens,
				Temperature: cfg.Proposal.Budgets.Abstract.Temperature,
				Timeout:     cfg.Proposal.Budgets.Abstract.StageTimeout(defaults.Abstract.Timeout),
			},
			Detailed: proposal.StageBudget{
				MaxTokens:   cfg.Proposal.Budgets.Detailed.MaxTokens,
				Temperature: cfg.Proposal.Budgets.Detailed.Temperature,
				Timeout:     cfg.Proposal.Budgets.Detailed.StageTimeout(defaults.Detailed.Timeout),
			},
			Refine: proposal.StageBudget{
				MaxTokens:   cfg.Proposal.Budgets.Refine.MaxTokens,
				Temperature: cfg.Proposal.Budgets.Refine.Temperature,
				Timeout:     cfg.Proposal.Budgets.Refine.StageTimeout(defaults.Refine.Timeout),
			},
		},
	}
}

// openJournal returns a nil interface when journaling is off so the flow's
// nil check stays meaningful.
func openJournal(cfg *config.Config) (proposal.Journal, func(), error) {
	if !cfg.Journal.Enabled {
		return nil, func() {}, nil
	}
	store, err := journal.Open(cfg.Journal.Path)
	if err != nil {
		return nil, nil, err
	}
	return store, func() { _ = store.Close() }, nil
}

func runReduce(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	binding := buildBinding(cfg)
	client, bound := binding.Get()
	if !bound {
		return fmt.Errorf("no reducer configured (set reducer.enabled and reducer.endpoint)")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	text := strings.Join(args, " ")
	env := envelope.Build(text, envelope.Meta{ModelID: "cli"})

	start := time.Now()
	outcome := client.Reduce(ctx, env)
	res := eligibility.Derive(&outcome)
	view := grounding.Ground(&outcome)

	report := map[string]any{
		"envelope_id":      env.ID,
		"request_hash":     outcome.RequestHash(),
		"processed":        outcome.Processed(),
		"executable":       outcome.Executable(),
		"convert_eligible": res.ConvertEligible,
		"reasoning":        string(res.Reasoning),
		"grounding_pass":   view.Pass,
		"grounding_reason": view.Reason,
		"elapsed":          time.Since(start).String(),
	}
	if !outcome.Processed() {
		report["fallback_reason"] = string(outcome.FallbackReason())
	}
	if r, ok := outcome.Result(); ok {
		report["intent_family"] = r.IntentFamily
		report["intent_type"] = r.IntentType
		if r.BlockReason != "" {
			report["block_reason"] = r.BlockReason
		}
	}

	out, _ := json.MarshalIndent(report, "", "  ")
	fmt.Println(string(out))
	return nil
}

func runPropose(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	binding := buildBinding(cfg)

	var client llm.Client
	if _, bound := binding.Get(); bound || cfg.Proposal.AdvisoryOverride {
		client, err = buildLLM(ctx, cfg)
		if err != nil {
			return err
		}
	}

	jrnl, closeJournal, err := openJournal(cfg)
	if err != nil {
		return err
	}
	defer closeJournal()

	flow := proposal.NewFlow(binding, client, proposal.NewRegistry(), jrnl, flowConfig(cfg))

	imp := proposal.Impasse{
		Task:         proposal.TaskRef{ID: args[0], Description: strings.Join(args[1:], " ")},
		Reason:       strings.Join(args[1:], " "),
		FailureCount: 1,
	}
	decision, err := flow.Propose(ctx, imp)
	if err != nil {
		return err
	}

	report := map[string]any{
		"state":  string(decision.State),
		"tag":    string(decision.Tag),
		"reason": decision.Reason,
	}
	if decision.Candidate != nil {
		report["candidate"] = decision.Candidate
	}
	if decision.Provenance != nil {
		report["proposal_id"] = decision.Provenance.ProposalID
		report["stages"] = len(decision.Provenance.Stages)
	}
	if decision.RequestHash != "" {
		report["request_hash"] = decision.RequestHash
	}

	out, _ := json.MarshalIndent(report, "", "  ")
	fmt.Println(string(out))
	return nil
}

func runHealth(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	binding := buildBinding(cfg)
	flow := proposal.NewFlow(binding, nil, proposal.NewRegistry(), nil, flowConfig(cfg))
	health := gate.Snapshot(binding, flow.History())

	report := map[string]any{
		"reducer_bound": health.ReducerBound,
		"endpoint":      health.Endpoint,
		"total_entries": health.TotalEntries,
		"task_count":    health.TaskCount,
	}

	if cfg.Journal.Enabled {
		store, err := journal.Open(cfg.Journal.Path)
		if err != nil {
			report["journal_error"] = err.Error()
		} else {
			defer store.Close()
			if counts, err := store.CountReductions(cmd.Context()); err == nil {
				report["journal_reductions"] = counts
			}
		}
	}

	out, _ := json.MarshalIndent(report, "", "  ")
	fmt.Println(string(out))
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.Journal.Enabled {
		return fmt.Errorf("journal is disabled (set journal.enabled)")
	}

	store, err := journal.Open(cfg.Journal.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.RecentProposals(cmd.Context(), args[0], 50)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Printf("no journaled proposals for %s\n", args[0])
		return nil
	}
	for _, r := range records {
		line := fmt.Sprintf("%s  %-28s", r.At.Format(time.RFC3339), r.Tag)
		if r.CandidateName != "" {
			line += "  " + r.CandidateName
		}
		if r.Detail != "" {
			line += "  (" + r.Detail + ")"
		}
		fmt.Println(line)
	}
	return nil
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path (default: .warden/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Workspace directory (default: current)")

	rootCmd.AddCommand(reduceCmd)
	rootCmd.AddCommand(proposeCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
