package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gryagbot/gryag/ai"
	aicontext "github.com/gryagbot/gryag/ai/context"
	"github.com/gryagbot/gryag/ai/episodes"
	"github.com/gryagbot/gryag/ai/gemini"
	"github.com/gryagbot/gryag/ai/learning"
	"github.com/gryagbot/gryag/ai/memory"
	"github.com/gryagbot/gryag/ai/retrieval"
	"github.com/gryagbot/gryag/bot"
	"github.com/gryagbot/gryag/bot/metrics"
	"github.com/gryagbot/gryag/internal/profile"
	"github.com/gryagbot/gryag/internal/version"
	"github.com/gryagbot/gryag/ratelimit"
	"github.com/gryagbot/gryag/store"
	"github.com/gryagbot/gryag/store/db"
)

// botProfileID is the fact-store entity id of the bot's own profile.
const botProfileID = 1

var rootCmd = &cobra.Command{
	Use:   "gryag",
	Short: "A Telegram group-chat assistant with persistent multi-level memory.",
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		if !isRunningAsSystemdService() {
			_ = godotenv.Load()
		}
		return nil
	},
	Run: func(_ *cobra.Command, _ []string) {
		instanceProfile := &profile.Profile{
			Mode:     viper.GetString("mode"),
			Data:     viper.GetString("data"),
			DSN:      viper.GetString("dsn"),
			RedisURL: viper.GetString("redis-url"),
			OpsAddr:  viper.GetString("ops-addr"),
			Version:  version.String(),
		}
		if err := instanceProfile.Validate(); err != nil {
			panic(err)
		}
		if err := run(instanceProfile); err != nil {
			slog.Error("gryag exited with error", "error", err)
			os.Exit(1)
		}
	},
}

func run(instanceProfile *profile.Profile) error {
	cfg := ai.LoadConfig()
	if cfg.TelegramToken == "" {
		return fmt.Errorf("GRYAG_TELEGRAM_TOKEN is required")
	}
	if len(cfg.GeminiAPIKeys) == 0 {
		return fmt.Errorf("GRYAG_GEMINI_API_KEYS is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dbDriver, err := db.NewDBDriver(instanceProfile)
	if err != nil {
		return fmt.Errorf("failed to create db driver: %w", err)
	}
	storeInstance := store.New(dbDriver, instanceProfile)
	defer storeInstance.Close()
	if err := storeInstance.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}

	var rdb *redis.Client
	if instanceProfile.RedisURL != "" {
		opts, err := redis.ParseURL(instanceProfile.RedisURL)
		if err != nil {
			return fmt.Errorf("invalid redis url: %w", err)
		}
		rdb = redis.NewClient(opts)
		defer rdb.Close()
	}

	gateway, err := gemini.NewClient(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create gemini client: %w", err)
	}
	var embedder ai.Embedder = gateway
	if cfg.EmbedProvider != "" {
		embedder = ai.NewOpenAIEmbedder(cfg.EmbedAPIKey, cfg.EmbedBaseURL, cfg.EmbedModel)
	}

	limiter := ratelimit.New(ratelimit.Config{
		PerUserPerHour:  cfg.PerUserPerHour,
		FeatureLimits:   cfg.FeatureLimits,
		CooldownSeconds: mergedCooldowns(cfg),
		ImageDailyLimit: cfg.ImageDailyLimit,
		IsAdmin:         cfg.IsAdmin,
	}, storeInstance, rdb)

	facts := memory.NewFactStore(memory.FactConfig{
		DedupThreshold:   cfg.FactDedupThreshold,
		EnableDecay:      cfg.EnableFactDecay,
		EnableEmbeddings: cfg.EnableFactEmbeddings,
		MaxFactsPerUser:  cfg.MaxFactsPerUser,
	}, storeInstance, embedder)

	searcher := retrieval.NewSearcher(retrieval.Config{
		SemanticWeight:   cfg.SemanticWeight,
		KeywordWeight:    cfg.KeywordWeight,
		TemporalWeight:   cfg.TemporalWeight,
		TemporalHalfLife: cfg.TemporalHalfLifeDays,
		MaxCandidates:    cfg.MaxSearchCandidates,
		HybridEnabled:    true,
	}, storeInstance, embedder)

	episodeEngine := episodes.NewEngine(episodes.EngineConfig{
		Detector: episodes.DetectorConfig{
			ShortGapSeconds:   cfg.ShortGapSeconds,
			MediumGapSeconds:  cfg.MediumGapSeconds,
			LongGapSeconds:    cfg.LongGapSeconds,
			SimilarityLow:     cfg.SimilarityLow,
			BoundaryThreshold: cfg.BoundaryThreshold,
			MinMessages:       cfg.EpisodeMinMessages,
		},
		AutoCreate:           cfg.EnableEpisodicMemory && cfg.AutoCreateEpisodes,
		WindowTimeoutSeconds: cfg.WindowTimeoutSeconds,
		MaxMessagesPerWindow: cfg.MaxMessagesPerWindow,
		MonitorInterval:      time.Duration(cfg.MonitorIntervalSeconds) * time.Second,
		GeminiSummaries:      cfg.EpisodeGeminiSummaries,
		SummariesPerMin:      cfg.EpisodeSummariesPerMin,
	}, storeInstance, embedder, gateway)

	assembler := aicontext.NewAssembler(aicontext.Config{
		TokenBudget:    cfg.ContextTokenBudget,
		MaxTurns:       cfg.MaxTurns,
		CharsPerToken:  cfg.TokenCharsPerToken,
		EnableRelevant: cfg.EnableMultiLevelContext,
		EnableEpisodic: cfg.EnableEpisodicMemory,
		MinFactConf:    cfg.FactConfidenceThreshold,
	}, storeInstance, storeInstance, searcher, facts, episodeEngine, rdb)

	tracker := learning.NewTracker(learning.TrackerConfig{
		BotProfileID:    botProfileID,
		ReactionTimeout: time.Duration(cfg.ReactionTimeoutSeconds) * time.Second,
	}, storeInstance, facts)
	insights := learning.NewInsightGenerator(storeInstance, tracker, gateway,
		func(ctx context.Context, limit int) ([]*store.Fact, error) {
			return facts.GetFacts(ctx, memory.FactQuery{
				EntityType: store.FactEntityBot,
				EntityID:   botProfileID,
				Limit:      limit,
			})
		})

	summarizer := memory.NewSummarizer(memory.SummarizerConfig{
		Hour:          cfg.SummarizationHour,
		MaxPerDay:     cfg.MaxProfilesPerDay,
		MinConfidence: cfg.FactConfidenceThreshold,
	}, storeInstance, facts, gateway)

	b, err := bot.New(bot.Deps{
		Config:    cfg,
		Store:     storeInstance,
		Limiter:   limiter,
		Generator: gateway,
		Embedder:  embedder,
		Assembler: assembler,
		Facts:     facts,
		Episodes:  episodeEngine,
		Learning:  tracker,
		Insights:  insights,
	})
	if err != nil {
		return err
	}

	// Background services.
	episodeEngine.Start(ctx)
	if cfg.EnableUserProfiling {
		summarizer.Start(ctx)
	}
	go retentionLoop(ctx, storeInstance, cfg.RetentionDays)
	go donationLoop(ctx, b, cfg)
	metrics.NewServer(instanceProfile.OpsAddr).Start(ctx)

	c := make(chan os.Signal, 1)
	signal.Notify(c, terminationSignals...)
	go func() {
		<-c
		slog.Info("shutdown signal received")
		cancel()
	}()

	printGreetings(instanceProfile)
	err = b.Run(ctx)
	episodeEngine.Wait()
	return err
}

// retentionLoop prunes messages older than the retention window once a day,
// then reclaims free pages.
func retentionLoop(ctx context.Context, st *store.Store, retentionDays int) {
	if retentionDays <= 0 {
		return
	}
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().AddDate(0, 0, -retentionDays).Unix()
			pruned, err := st.PruneMessages(ctx, cutoff, 500)
			if err != nil {
				slog.Error("retention prune failed", "error", err)
				continue
			}
			if pruned > 0 {
				slog.Info("retention prune", "messages", pruned, "cutoff", cutoff)
				if err := st.Vacuum(ctx); err != nil {
					slog.Warn("vacuum failed", "error", err)
				}
			}
		}
	}
}

// donationLoop periodically posts the donation notice to the configured
// chats. Disabled unless an interval and a chat whitelist are set.
func donationLoop(ctx context.Context, b *bot.Bot, cfg *ai.Config) {
	if cfg.DonationIntervalDays <= 0 || len(cfg.AllowedChatIDs) == 0 {
		return
	}
	ticker := time.NewTicker(time.Duration(cfg.DonationIntervalDays) * 24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, chatID := range cfg.AllowedChatIDs {
				if err := b.SendDonationNotice(chatID); err != nil {
					slog.Warn("donation notice failed", "chat_id", chatID, "error", err)
				}
			}
		}
	}
}

// mergedCooldowns folds the command cooldown into the per-feature map.
func mergedCooldowns(cfg *ai.Config) map[string]int {
	out := make(map[string]int, len(cfg.FeatureCooldownSeconds)+1)
	for k, v := range cfg.FeatureCooldownSeconds {
		out[k] = v
	}
	out[ai.FeatureCommand] = cfg.CommandCooldownSeconds
	return out
}

func init() {
	viper.SetDefault("mode", "dev")

	rootCmd.PersistentFlags().String("mode", "dev", `mode of the process, can be "prod" or "dev" or "demo"`)
	rootCmd.PersistentFlags().String("data", "", "data directory")
	rootCmd.PersistentFlags().String("dsn", "", "sqlite data source name")
	rootCmd.PersistentFlags().String("redis-url", "", "redis url for the shared-cache fast path")
	rootCmd.PersistentFlags().String("ops-addr", "", "listen address of the health/metrics endpoint")

	for _, flag := range []string{"mode", "data", "dsn", "redis-url", "ops-addr"} {
		if err := viper.BindPFlag(flag, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("gryag")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}

func printGreetings(p *profile.Profile) {
	fmt.Printf("gryag %s started\n", p.Version)
	fmt.Printf("Mode: %s\n", p.Mode)
	fmt.Printf("Data directory: %s\n", p.Data)
	if p.IsDev() {
		fmt.Fprintf(os.Stderr, "Database: %s\n", p.DSN)
	}
	if p.OpsAddr != "" {
		fmt.Printf("Ops endpoint: http://%s/healthz\n", p.OpsAddr)
	}
}

// isRunningAsSystemdService detects a systemd invocation; the unit provides
// its own environment there.
func isRunningAsSystemdService() bool {
	return os.Getenv("INVOCATION_ID") != "" || os.Getenv("WATCHDOG_USEC") != ""
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		panic(err)
	}
}
