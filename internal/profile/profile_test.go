package profile

import (
	"os"
	"testing"
	"time"
)

func TestProfileDefaults(t *testing.T) {
	clearEnvVars()

	profile := &Profile{}
	profile.FromEnv()

	tests := []struct {
		name     string
		expected string
		actual   string
	}{
		{"OpenAIBaseURL default", "https://api.openai.com/v1", profile.OpenAIBaseURL},
		{"EmbeddingModel default", "text-embedding-3-small", profile.EmbeddingModel},
		{"ChatModel default", "gpt-4o-mini", profile.ChatModel},
		{"TrackerBaseURL default", "https://api.atlassian.com", profile.TrackerBaseURL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.actual != tt.expected {
				t.Errorf("%s: expected %q, got %q", tt.name, tt.expected, tt.actual)
			}
		})
	}

	if profile.EmbeddingDims != 1536 {
		t.Errorf("EmbeddingDims: expected 1536, got %d", profile.EmbeddingDims)
	}
	if profile.PipelineWorkers != 4 {
		t.Errorf("PipelineWorkers: expected 4, got %d", profile.PipelineWorkers)
	}
	if profile.StepTimeout != 10*time.Second {
		t.Errorf("StepTimeout: expected 10s, got %v", profile.StepTimeout)
	}
	if profile.RunDefaultTopK != 5 {
		t.Errorf("RunDefaultTopK: expected 5, got %d", profile.RunDefaultTopK)
	}
	if profile.RunThreshold != 0.5 {
		t.Errorf("RunThreshold: expected 0.5, got %v", profile.RunThreshold)
	}
}

func TestProfileFromEnv(t *testing.T) {
	clearEnvVars()

	os.Setenv("CHANTICLE_EMBEDDING_DIMS", "768")
	os.Setenv("CHANTICLE_STEP_TIMEOUT", "30s")
	os.Setenv("CHANTICLE_RUN_THRESHOLD", "0.35")
	defer clearEnvVars()

	profile := &Profile{}
	profile.FromEnv()

	if profile.EmbeddingDims != 768 {
		t.Errorf("EmbeddingDims: expected 768, got %d", profile.EmbeddingDims)
	}
	if profile.StepTimeout != 30*time.Second {
		t.Errorf("StepTimeout: expected 30s, got %v", profile.StepTimeout)
	}
	if profile.RunThreshold != 0.35 {
		t.Errorf("RunThreshold: expected 0.35, got %v", profile.RunThreshold)
	}
}

func TestProfileValidate(t *testing.T) {
	clearEnvVars()

	t.Run("unsupported driver", func(t *testing.T) {
		p := &Profile{Mode: "dev", Driver: "mysql"}
		p.FromEnv()
		if err := p.Validate(); err == nil {
			t.Error("expected error for unsupported driver")
		}
	})

	t.Run("postgres requires DSN", func(t *testing.T) {
		p := &Profile{Mode: "dev", Driver: "postgres"}
		p.FromEnv()
		if err := p.Validate(); err == nil {
			t.Error("expected error for missing DSN")
		}
	})

	t.Run("sqlite derives DSN from data dir", func(t *testing.T) {
		p := &Profile{Mode: "dev", Driver: "sqlite", Data: t.TempDir()}
		p.FromEnv()
		if err := p.Validate(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if p.DSN == "" {
			t.Error("expected DSN to be derived from data dir")
		}
	})

	t.Run("prod requires webhook secret", func(t *testing.T) {
		p := &Profile{Mode: "prod", Driver: "sqlite", Data: t.TempDir()}
		p.FromEnv()
		if err := p.Validate(); err == nil {
			t.Error("expected error for missing webhook secret in prod mode")
		}

		p.WebhookSecret = "signing-secret"
		if err := p.Validate(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("invalid mode falls back to demo", func(t *testing.T) {
		p := &Profile{Mode: "staging", Driver: "sqlite", Data: t.TempDir()}
		p.FromEnv()
		if err := p.Validate(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if p.Mode != "demo" {
			t.Errorf("expected mode demo, got %q", p.Mode)
		}
	})
}

func clearEnvVars() {
	vars := []string{
		"CHANTICLE_OPENAI_API_KEY",
		"CHANTICLE_OPENAI_BASE_URL",
		"CHANTICLE_EMBEDDING_MODEL",
		"CHANTICLE_EMBEDDING_DIMS",
		"CHANTICLE_CHAT_MODEL",
		"CHANTICLE_TRACKER_BASE_URL",
		"CHANTICLE_TRACKER_OAUTH_TOKEN",
		"CHANTICLE_TRACKER_PROJECT_KEY",
		"CHANTICLE_BOT_USER_ID",
		"CHANTICLE_WEBHOOK_SECRET",
		"CHANTICLE_PIPELINE_WORKERS",
		"CHANTICLE_STEP_TIMEOUT",
		"CHANTICLE_STEP_MAX_ATTEMPTS",
		"CHANTICLE_RUN_TOP_K",
		"CHANTICLE_RUN_THRESHOLD",
	}
	for _, v := range vars {
		os.Unsetenv(v)
	}
}
