package config

import (
	"testing"
	"time"
)

func TestGetEnv(t *testing.T) {
	tests := []struct {
		name      string
		key       string
		envValue  string
		shouldSet bool
		want      string
	}{
		{"returns environment variable when set", "TEST_VAR", "custom", true, "custom"},
		{"returns default when environment variable not set", "TEST_VAR_MISSING", "", false, "default"},
		{"returns default when environment variable is empty string", "TEST_VAR_EMPTY", "", true, "default"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.shouldSet {
				t.Setenv(tt.key, tt.envValue)
			}

			if got := getEnv(tt.key, "default"); got != tt.want {
				t.Errorf("getEnv() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetEnvAsInt(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		want     int
	}{
		{"valid integer", "200", 200},
		{"empty string", "", 100},
		{"not a number", "not_a_number", 100},
		{"negative", "-50", -50},
		{"zero", "0", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_INT_VAR", tt.envValue)

			if got := getEnvAsInt("TEST_INT_VAR", 100); got != tt.want {
				t.Errorf("getEnvAsInt() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetEnvTyped(t *testing.T) {
	t.Run("float", func(t *testing.T) {
		t.Setenv("TEST_FLOAT", "0.42")

		if got := getEnvAsFloat("TEST_FLOAT", 0.1); got != 0.42 {
			t.Errorf("getEnvAsFloat() = %v, want 0.42", got)
		}

		t.Setenv("TEST_FLOAT", "abc")

		if got := getEnvAsFloat("TEST_FLOAT", 0.1); got != 0.1 {
			t.Errorf("getEnvAsFloat() = %v, want default 0.1", got)
		}
	})

	t.Run("duration", func(t *testing.T) {
		t.Setenv("TEST_DURATION", "1500ms")

		if got := getEnvAsDuration("TEST_DURATION", time.Second); got != 1500*time.Millisecond {
			t.Errorf("getEnvAsDuration() = %v, want 1.5s", got)
		}

		t.Setenv("TEST_DURATION", "15")

		if got := getEnvAsDuration("TEST_DURATION", time.Second); got != time.Second {
			t.Errorf("getEnvAsDuration() = %v, want default 1s", got)
		}
	})

	t.Run("bool", func(t *testing.T) {
		t.Setenv("TEST_BOOL", "false")

		if got := getEnvAsBool("TEST_BOOL", true); got {
			t.Error("getEnvAsBool() = true, want false")
		}
	})
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("API_KEY", "test-api-key")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	checks := []struct {
		name string
		got  any
		want any
	}{
		{"Port", cfg.Port, "8080"},
		{"VectorStore", cfg.VectorStore, VectorStorePostgres},
		{"CompletionProvider", cfg.CompletionProvider, "template"},
		{"GenerationMaxAttempts", cfg.GenerationMaxAttempts, 3},
		{"SearchThresholdQA", cfg.SearchThresholdQA, 0.3},
		{"SearchThresholdSummary", cfg.SearchThresholdSummary, 0.5},
		{"SearchThresholdFull", cfg.SearchThresholdFull, 0.45},
		{"KeywordFallbackScore", cfg.KeywordFallbackScore, 0.2},
		{"ConfidenceCeiling", cfg.ConfidenceCeiling, 0.95},
		{"AnswerCacheTTL", cfg.AnswerCacheTTL, time.Hour},
		{"PopularQuestionsMax", cfg.PopularQuestionsMax, 100},
		{"BatchSize", cfg.BatchSize, 4},
		{"BatchPause", cfg.BatchPause, time.Second},
		{"OpenFDABaseURL", cfg.OpenFDABaseURL, "https://api.fda.gov"},
	}

	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestLoad_RequiresAPIKey(t *testing.T) {
	t.Setenv("API_KEY", "")

	if _, err := Load(); err == nil {
		t.Error("Load() error = nil, want error when API_KEY is unset")
	}

	cfg, err := LoadForTool()
	if err != nil {
		t.Fatalf("LoadForTool() error = %v", err)
	}

	if cfg.APIKey != "" {
		t.Errorf("APIKey = %q, want empty", cfg.APIKey)
	}
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"non-positive generation attempts", "GENERATION_MAX_ATTEMPTS", "0"},
		{"non-positive batch size", "BATCH_SIZE", "-1"},
		{"threshold above one", "SEARCH_THRESHOLD_QA", "1.5"},
		{"negative keyword relevance", "KEYWORD_FALLBACK_RELEVANCE", "-0.1"},
		{"keyword relevance at qa threshold", "KEYWORD_FALLBACK_RELEVANCE", "0.3"},
		{"threshold below keyword relevance", "SEARCH_THRESHOLD_FULL_TEXT", "0.1"},
		{"unknown vector store", "VECTOR_STORE", "milvus"},
		{"unknown answer cache", "ANSWER_CACHE", "memcached"},
		{"file labels without path", "LABELS_SOURCE", "file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("API_KEY", "test-api-key")
			t.Setenv(tt.key, tt.value)

			if _, err := Load(); err == nil {
				t.Errorf("Load() error = nil, want error for %s=%s", tt.key, tt.value)
			}
		})
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("API_KEY", "test-api-key")
	t.Setenv("VECTOR_STORE", "MEMORY")
	t.Setenv("LABELS_SOURCE", "file")
	t.Setenv("LABELS_FILE", "testdata/labels.json")
	t.Setenv("GENERATION_BASE_BACKOFF", "10ms")
	t.Setenv("GENERATION_JITTER", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.VectorStore != VectorStoreMemory {
		t.Errorf("VectorStore = %q, want memory", cfg.VectorStore)
	}

	if cfg.UsesPostgres() {
		t.Error("UsesPostgres() = true, want false for memory store and file labels")
	}

	if cfg.GenerationBaseBackoff != 10*time.Millisecond {
		t.Errorf("GenerationBaseBackoff = %v, want 10ms", cfg.GenerationBaseBackoff)
	}

	if cfg.GenerationJitter {
		t.Error("GenerationJitter = true, want false")
	}

	if cfg.EmbeddingBaseBackoff != time.Second || cfg.EmbeddingMaxBackoff != 10*time.Second {
		t.Errorf("embedding backoff = %v..%v, want 1s..10s", cfg.EmbeddingBaseBackoff, cfg.EmbeddingMaxBackoff)
	}
}
