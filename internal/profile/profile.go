package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Profile is the configuration to start the main server.
type Profile struct {
	// Mode can be "prod" or "dev" or "demo"
	Mode string
	// Addr is the binding address for the server
	Addr string
	// Port is the binding port for the server
	Port int
	// Data is the data directory
	Data string
	// DSN points to where chanticle stores its own data
	DSN string
	// Driver is the database driver (postgres or sqlite)
	Driver string
	// Version is the current version of the server
	Version string

	// Embedding / LLM configuration
	OpenAIAPIKey   string // CHANTICLE_OPENAI_API_KEY
	OpenAIBaseURL  string // CHANTICLE_OPENAI_BASE_URL (default: https://api.openai.com/v1)
	EmbeddingModel string // CHANTICLE_EMBEDDING_MODEL (default: text-embedding-3-small)
	EmbeddingDims  int    // CHANTICLE_EMBEDDING_DIMS (default: 1536)
	ChatModel      string // CHANTICLE_CHAT_MODEL (default: gpt-4o-mini)

	// Ticket tracker configuration
	TrackerBaseURL    string // CHANTICLE_TRACKER_BASE_URL (default: https://api.atlassian.com)
	TrackerOAuthToken string // CHANTICLE_TRACKER_OAUTH_TOKEN
	TrackerProjectKey string // CHANTICLE_TRACKER_PROJECT_KEY

	// Chat gateway configuration
	BotUserID     string // CHANTICLE_BOT_USER_ID, mention tag of the bot in chat events
	WebhookSecret string // CHANTICLE_WEBHOOK_SECRET, HMAC signing secret for inbound events

	// Pipeline configuration
	PipelineWorkers  int           // CHANTICLE_PIPELINE_WORKERS (default: 4)
	StepTimeout      time.Duration // CHANTICLE_STEP_TIMEOUT (default: 10s)
	StepMaxAttempts  int           // CHANTICLE_STEP_MAX_ATTEMPTS (default: 3)
	RunDefaultTopK   int           // CHANTICLE_RUN_TOP_K (default: 5)
	RunThreshold     float64       // CHANTICLE_RUN_THRESHOLD (default: 0.5)
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// IsTrackerEnabled returns true if the ticket tracker is configured.
func (p *Profile) IsTrackerEnabled() bool {
	return p.TrackerOAuthToken != "" && p.TrackerProjectKey != ""
}

// getEnvOrDefault returns the environment variable value or the default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// FromEnv loads configuration from environment variables.
// Skips empty values so that defaults take effect.
func (p *Profile) FromEnv() {
	p.OpenAIAPIKey = getEnvOrDefault("CHANTICLE_OPENAI_API_KEY", p.OpenAIAPIKey)
	p.OpenAIBaseURL = getEnvOrDefault("CHANTICLE_OPENAI_BASE_URL", "https://api.openai.com/v1")
	p.EmbeddingModel = getEnvOrDefault("CHANTICLE_EMBEDDING_MODEL", "text-embedding-3-small")
	p.EmbeddingDims = getIntEnv("CHANTICLE_EMBEDDING_DIMS", 1536)
	p.ChatModel = getEnvOrDefault("CHANTICLE_CHAT_MODEL", "gpt-4o-mini")

	p.TrackerBaseURL = getEnvOrDefault("CHANTICLE_TRACKER_BASE_URL", "https://api.atlassian.com")
	p.TrackerOAuthToken = getEnvOrDefault("CHANTICLE_TRACKER_OAUTH_TOKEN", p.TrackerOAuthToken)
	p.TrackerProjectKey = getEnvOrDefault("CHANTICLE_TRACKER_PROJECT_KEY", p.TrackerProjectKey)

	p.BotUserID = getEnvOrDefault("CHANTICLE_BOT_USER_ID", p.BotUserID)
	p.WebhookSecret = getEnvOrDefault("CHANTICLE_WEBHOOK_SECRET", p.WebhookSecret)

	p.PipelineWorkers = getIntEnv("CHANTICLE_PIPELINE_WORKERS", 4)
	p.StepTimeout = getDurationEnv("CHANTICLE_STEP_TIMEOUT", 10*time.Second)
	p.StepMaxAttempts = getIntEnv("CHANTICLE_STEP_MAX_ATTEMPTS", 3)
	p.RunDefaultTopK = getIntEnv("CHANTICLE_RUN_TOP_K", 5)
	p.RunThreshold = getFloatEnv("CHANTICLE_RUN_THRESHOLD", 0.5)
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if a relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		relativeDir := filepath.Join(filepath.Dir(os.Args[0]), dataDir)
		absDir, err := filepath.Abs(relativeDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	// Trim trailing \ or / in case the user supplies one.
	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}

	if p.Driver != "postgres" && p.Driver != "sqlite" {
		return errors.Errorf("unsupported database driver %q", p.Driver)
	}

	if p.Driver == "postgres" && p.DSN == "" {
		return errors.New("postgres driver requires a DSN")
	}

	if p.Driver == "sqlite" && p.DSN == "" {
		dataDir, err := checkDataDir(p.Data)
		if err != nil {
			return err
		}
		p.Data = dataDir
		dbFile := fmt.Sprintf("chanticle_%s.db", p.Mode)
		p.DSN = filepath.Join(dataDir, dbFile)
	}

	if p.Mode == "prod" && p.WebhookSecret == "" {
		return errors.New("prod mode requires a webhook signing secret")
	}

	if p.EmbeddingDims <= 0 {
		return errors.Errorf("embedding dimensions must be positive, got %d", p.EmbeddingDims)
	}
	if p.PipelineWorkers <= 0 {
		p.PipelineWorkers = 4
	}
	if p.StepMaxAttempts <= 0 {
		p.StepMaxAttempts = 3
	}
	if p.StepTimeout <= 0 {
		p.StepTimeout = 10 * time.Second
	}

	return nil
}
