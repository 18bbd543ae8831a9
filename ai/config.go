// Package ai holds the LLM-facing configuration and shared types for the
// generation, embedding, retrieval and memory services.
package ai

import (
	"os"
	"strconv"
	"strings"
)

// Feature names for rate limiting and cooldowns.
const (
	FeatureChat      = "chat"
	FeatureWeather   = "weather"
	FeatureCurrency  = "currency"
	FeatureWebSearch = "web_search"
	FeaturePolls     = "polls"
	FeatureMemory    = "memory"
	FeatureImage     = "image"
	FeatureCommand   = "command"
)

// Config is the full behavior configuration. It is read once at startup and
// passed explicitly to every constructor; nothing reads the environment after
// that.
type Config struct {
	// Auth & models.
	TelegramToken   string
	GeminiAPIKeys   []string
	GenerateModel   string
	EmbedModel      string
	FreeTierMode    bool
	KeyBlockSeconds int
	ThinkingBudget  int

	// Google Search grounding. Filtered out for the process lifetime when the
	// serving model rejects it.
	EnableSearchGrounding bool

	// Alternative OpenAI-compatible embedding endpoint. When set, embeddings
	// are produced there instead of the Gemini embed model.
	EmbedProvider string
	EmbedAPIKey   string
	EmbedBaseURL  string

	// Limits.
	PerUserPerHour         int
	FeatureLimits          map[string]int
	FeatureCooldownSeconds map[string]int
	CommandCooldownSeconds int
	ImageDailyLimit        int

	// Context.
	EnableMultiLevelContext bool
	ContextTokenBudget      int
	MaxTurns                int
	SemanticWeight          float64
	KeywordWeight           float64
	TemporalWeight          float64
	TemporalHalfLifeDays    float64
	MaxSearchCandidates     int
	TokenCharsPerToken      int

	// Episodes.
	EnableEpisodicMemory    bool
	AutoCreateEpisodes      bool
	ShortGapSeconds         int
	MediumGapSeconds        int
	LongGapSeconds          int
	SimilarityLow           float64
	SimilarityMedium        float64
	SimilarityHigh          float64
	BoundaryThreshold       float64
	EpisodeMinMessages      int
	WindowTimeoutSeconds    int
	MaxMessagesPerWindow    int
	MonitorIntervalSeconds  int
	EpisodeSummariesPerMin  int
	EpisodeGeminiSummaries  bool

	// Profiles & facts.
	EnableUserProfiling     bool
	EnableChatProfiling     bool
	EnableBotProfiling      bool
	RetentionDays           int
	MaxFactsPerUser         int
	FactConfidenceThreshold float64
	FactDedupThreshold      float64
	EnableFactDecay         bool
	EnableFactEmbeddings    bool
	SummarizationHour       int
	MaxProfilesPerDay       int

	// Filter.
	FilterMode     string // global, whitelist or blacklist
	AllowedChatIDs []int64
	BlockedChatIDs []int64

	// Operational.
	AdminUserIDs           []int64
	BotUsername            string
	BotNames               []string
	ReactionTimeoutSeconds int
	GenerateTimeoutSeconds int

	// Donation notices: the text an admin (or the scheduler) posts to chats.
	// Interval 0 disables the scheduler; the admin command always works.
	DonationText         string
	DonationIntervalDays int
}

// DefaultConfig returns the configuration defaults before env overrides.
func DefaultConfig() *Config {
	return &Config{
		GenerateModel:   "gemini-2.5-flash",
		EmbedModel:      "text-embedding-004",
		KeyBlockSeconds: 300,
		ThinkingBudget:  -1,

		EnableSearchGrounding: true,

		PerUserPerHour: 5,
		FeatureLimits: map[string]int{
			FeatureWeather:   10,
			FeatureCurrency:  10,
			FeatureWebSearch: 5,
			FeaturePolls:     5,
			FeatureMemory:    20,
			FeatureImage:     10,
		},
		FeatureCooldownSeconds: map[string]int{
			FeatureWeather:   30,
			FeatureCurrency:  30,
			FeatureWebSearch: 60,
			FeaturePolls:     60,
			FeatureImage:     120,
		},
		CommandCooldownSeconds: 5,
		ImageDailyLimit:        5,

		EnableMultiLevelContext: true,
		ContextTokenBudget:      8000,
		MaxTurns:                50,
		SemanticWeight:          0.5,
		KeywordWeight:           0.3,
		TemporalWeight:          0.2,
		TemporalHalfLifeDays:    7,
		MaxSearchCandidates:     500,
		TokenCharsPerToken:      4,

		EnableEpisodicMemory:   true,
		AutoCreateEpisodes:     true,
		ShortGapSeconds:        120,
		MediumGapSeconds:       900,
		LongGapSeconds:         3600,
		SimilarityLow:          0.5,
		SimilarityMedium:       0.7,
		SimilarityHigh:         0.85,
		BoundaryThreshold:      0.6,
		EpisodeMinMessages:     5,
		WindowTimeoutSeconds:   1800,
		MaxMessagesPerWindow:   50,
		MonitorIntervalSeconds: 300,
		EpisodeSummariesPerMin: 1,

		EnableUserProfiling:     true,
		EnableChatProfiling:     true,
		EnableBotProfiling:      true,
		RetentionDays:           90,
		MaxFactsPerUser:         100,
		FactConfidenceThreshold: 0.3,
		FactDedupThreshold:      0.85,
		EnableFactDecay:         true,
		EnableFactEmbeddings:    true,
		SummarizationHour:       3,
		MaxProfilesPerDay:       50,

		FilterMode: "global",

		BotNames:               []string{"gryag", "гряг", "гряга"},
		ReactionTimeoutSeconds: 300,
		GenerateTimeoutSeconds: 45,

		DonationText: "Подобається гряг? Підтримати хостинг можна тут: https://send.monobank.ua/gryag",
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvOrDefaultFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvOrDefaultBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}

func getEnvInt64List(key string) []int64 {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	var out []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if id, err := strconv.ParseInt(part, 10, 64); err == nil {
			out = append(out, id)
		}
	}
	return out
}

func getEnvStringList(key string, defaultValue []string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// LoadConfig reads the configuration from GRYAG_* environment variables on
// top of the defaults.
func LoadConfig() *Config {
	c := DefaultConfig()

	c.TelegramToken = getEnvOrDefault("GRYAG_TELEGRAM_TOKEN", "")
	c.GeminiAPIKeys = getEnvStringList("GRYAG_GEMINI_API_KEYS", nil)
	if len(c.GeminiAPIKeys) == 0 {
		if key := os.Getenv("GRYAG_GEMINI_API_KEY"); key != "" {
			c.GeminiAPIKeys = []string{key}
		}
	}
	c.GenerateModel = getEnvOrDefault("GRYAG_GENERATE_MODEL", c.GenerateModel)
	c.EmbedModel = getEnvOrDefault("GRYAG_EMBED_MODEL", c.EmbedModel)
	c.FreeTierMode = getEnvOrDefaultBool("GRYAG_FREE_TIER_MODE", c.FreeTierMode)
	c.KeyBlockSeconds = getEnvOrDefaultInt("GRYAG_KEY_BLOCK_SECONDS", c.KeyBlockSeconds)
	c.ThinkingBudget = getEnvOrDefaultInt("GRYAG_THINKING_BUDGET", c.ThinkingBudget)
	c.EnableSearchGrounding = getEnvOrDefaultBool("GRYAG_ENABLE_SEARCH_GROUNDING", c.EnableSearchGrounding)

	c.EmbedProvider = getEnvOrDefault("GRYAG_EMBED_PROVIDER", "")
	c.EmbedAPIKey = getEnvOrDefault("GRYAG_EMBED_API_KEY", "")
	c.EmbedBaseURL = getEnvOrDefault("GRYAG_EMBED_BASE_URL", "")

	c.PerUserPerHour = getEnvOrDefaultInt("GRYAG_PER_USER_PER_HOUR", c.PerUserPerHour)
	for feature := range c.FeatureLimits {
		key := "GRYAG_LIMIT_" + strings.ToUpper(feature)
		c.FeatureLimits[feature] = getEnvOrDefaultInt(key, c.FeatureLimits[feature])
	}
	for feature := range c.FeatureCooldownSeconds {
		key := "GRYAG_COOLDOWN_" + strings.ToUpper(feature)
		c.FeatureCooldownSeconds[feature] = getEnvOrDefaultInt(key, c.FeatureCooldownSeconds[feature])
	}
	c.CommandCooldownSeconds = getEnvOrDefaultInt("GRYAG_COMMAND_COOLDOWN_SECONDS", c.CommandCooldownSeconds)
	c.ImageDailyLimit = getEnvOrDefaultInt("GRYAG_IMAGE_DAILY_LIMIT", c.ImageDailyLimit)

	c.EnableMultiLevelContext = getEnvOrDefaultBool("GRYAG_ENABLE_MULTI_LEVEL_CONTEXT", c.EnableMultiLevelContext)
	c.ContextTokenBudget = getEnvOrDefaultInt("GRYAG_CONTEXT_TOKEN_BUDGET", c.ContextTokenBudget)
	c.MaxTurns = getEnvOrDefaultInt("GRYAG_MAX_TURNS", c.MaxTurns)
	c.SemanticWeight = getEnvOrDefaultFloat("GRYAG_SEMANTIC_WEIGHT", c.SemanticWeight)
	c.KeywordWeight = getEnvOrDefaultFloat("GRYAG_KEYWORD_WEIGHT", c.KeywordWeight)
	c.TemporalWeight = getEnvOrDefaultFloat("GRYAG_TEMPORAL_WEIGHT", c.TemporalWeight)
	c.TemporalHalfLifeDays = getEnvOrDefaultFloat("GRYAG_TEMPORAL_HALF_LIFE_DAYS", c.TemporalHalfLifeDays)
	c.MaxSearchCandidates = getEnvOrDefaultInt("GRYAG_MAX_SEARCH_CANDIDATES", c.MaxSearchCandidates)

	c.EnableEpisodicMemory = getEnvOrDefaultBool("GRYAG_ENABLE_EPISODIC_MEMORY", c.EnableEpisodicMemory)
	c.AutoCreateEpisodes = getEnvOrDefaultBool("GRYAG_AUTO_CREATE_EPISODES", c.AutoCreateEpisodes)
	c.ShortGapSeconds = getEnvOrDefaultInt("GRYAG_EPISODE_SHORT_GAP_SECONDS", c.ShortGapSeconds)
	c.MediumGapSeconds = getEnvOrDefaultInt("GRYAG_EPISODE_MEDIUM_GAP_SECONDS", c.MediumGapSeconds)
	c.LongGapSeconds = getEnvOrDefaultInt("GRYAG_EPISODE_LONG_GAP_SECONDS", c.LongGapSeconds)
	c.SimilarityLow = getEnvOrDefaultFloat("GRYAG_SIMILARITY_LOW", c.SimilarityLow)
	c.SimilarityMedium = getEnvOrDefaultFloat("GRYAG_SIMILARITY_MEDIUM", c.SimilarityMedium)
	c.SimilarityHigh = getEnvOrDefaultFloat("GRYAG_SIMILARITY_HIGH", c.SimilarityHigh)
	c.BoundaryThreshold = getEnvOrDefaultFloat("GRYAG_BOUNDARY_THRESHOLD", c.BoundaryThreshold)
	c.EpisodeMinMessages = getEnvOrDefaultInt("GRYAG_EPISODE_MIN_MESSAGES", c.EpisodeMinMessages)
	c.WindowTimeoutSeconds = getEnvOrDefaultInt("GRYAG_WINDOW_TIMEOUT_SECONDS", c.WindowTimeoutSeconds)
	c.MaxMessagesPerWindow = getEnvOrDefaultInt("GRYAG_MAX_MESSAGES_PER_WINDOW", c.MaxMessagesPerWindow)
	c.MonitorIntervalSeconds = getEnvOrDefaultInt("GRYAG_MONITOR_INTERVAL_SECONDS", c.MonitorIntervalSeconds)
	c.EpisodeSummariesPerMin = getEnvOrDefaultInt("GRYAG_EPISODE_SUMMARIES_PER_MINUTE", c.EpisodeSummariesPerMin)
	c.EpisodeGeminiSummaries = getEnvOrDefaultBool("GRYAG_EPISODE_GEMINI_SUMMARIES", c.EpisodeGeminiSummaries)

	c.EnableUserProfiling = getEnvOrDefaultBool("GRYAG_ENABLE_USER_PROFILING", c.EnableUserProfiling)
	c.EnableChatProfiling = getEnvOrDefaultBool("GRYAG_ENABLE_CHAT_PROFILING", c.EnableChatProfiling)
	c.EnableBotProfiling = getEnvOrDefaultBool("GRYAG_ENABLE_BOT_PROFILING", c.EnableBotProfiling)
	c.RetentionDays = getEnvOrDefaultInt("GRYAG_RETENTION_DAYS", c.RetentionDays)
	c.MaxFactsPerUser = getEnvOrDefaultInt("GRYAG_MAX_FACTS_PER_USER", c.MaxFactsPerUser)
	c.FactConfidenceThreshold = getEnvOrDefaultFloat("GRYAG_FACT_CONFIDENCE_THRESHOLD", c.FactConfidenceThreshold)
	c.FactDedupThreshold = getEnvOrDefaultFloat("GRYAG_FACT_DEDUP_THRESHOLD", c.FactDedupThreshold)
	c.EnableFactDecay = getEnvOrDefaultBool("GRYAG_ENABLE_FACT_DECAY", c.EnableFactDecay)
	c.EnableFactEmbeddings = getEnvOrDefaultBool("GRYAG_ENABLE_FACT_EMBEDDINGS", c.EnableFactEmbeddings)
	c.SummarizationHour = getEnvOrDefaultInt("GRYAG_SUMMARIZATION_HOUR", c.SummarizationHour)
	c.MaxProfilesPerDay = getEnvOrDefaultInt("GRYAG_MAX_PROFILES_PER_DAY", c.MaxProfilesPerDay)

	c.FilterMode = getEnvOrDefault("GRYAG_FILTER_MODE", c.FilterMode)
	c.AllowedChatIDs = getEnvInt64List("GRYAG_ALLOWED_CHAT_IDS")
	c.BlockedChatIDs = getEnvInt64List("GRYAG_BLOCKED_CHAT_IDS")

	c.AdminUserIDs = getEnvInt64List("GRYAG_ADMIN_USER_IDS")
	c.BotNames = getEnvStringList("GRYAG_BOT_NAMES", c.BotNames)
	c.ReactionTimeoutSeconds = getEnvOrDefaultInt("GRYAG_REACTION_TIMEOUT_SECONDS", c.ReactionTimeoutSeconds)
	c.GenerateTimeoutSeconds = getEnvOrDefaultInt("GRYAG_GENERATE_TIMEOUT_SECONDS", c.GenerateTimeoutSeconds)

	c.DonationText = getEnvOrDefault("GRYAG_DONATION_TEXT", c.DonationText)
	c.DonationIntervalDays = getEnvOrDefaultInt("GRYAG_DONATION_INTERVAL_DAYS", c.DonationIntervalDays)

	return c
}

// IsAdmin reports whether a user is in the admin ID set.
func (c *Config) IsAdmin(userID int64) bool {
	for _, id := range c.AdminUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}
