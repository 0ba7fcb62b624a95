package profile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Profile is configuration to start main server.
type Profile struct {
	// Unified LLM configuration (OpenAI-compatible protocol). These are the
	// instance-level defaults; tenants may register their own provider
	// credentials which take precedence for their conversations.
	LLMProvider string // Provider identifier: openai, deepseek, openrouter, groq, ollama
	LLMAPIKey   string // Default LLM API key
	LLMBaseURL  string // Default LLM base URL (optional, has default per provider)
	LLMModel    string // Default model name: gpt-4o, deepseek-chat, etc.
	LLMTimeout  int    // LLM request timeout in seconds (default: 120)

	// Routing tier overrides. Empty values fall back to per-provider
	// defaults, then to LLMModel.
	LLMModelCheap        string
	LLMModelReasoning    string
	LLMModelLargeContext string

	// Embedding configuration, used for knowledge base indexing and retrieval.
	EmbeddingProvider string
	EmbeddingModel    string
	EmbeddingAPIKey   string
	EmbeddingBaseURL  string
	EmbeddingDim      int

	// Internet retrieval configuration.
	SearchAPIKey  string
	SearchBaseURL string

	// Secret signs session tokens and derives tenant credential keys. It must
	// be stable across restarts or stored provider keys become unreadable.
	Secret string

	// CacheURL is an optional redis URL. When empty the engine uses an
	// in-process LRU cache instead.
	CacheURL string

	Mode        string
	Addr        string
	Port        int
	Data        string
	Driver      string
	DSN         string
	Version     string
	InstanceURL string
	AIEnabled   bool
}

// Provider default configurations for LLM.
// Used when CONVERSIA_AI_LLM_BASE_URL is not explicitly set.
var llmProviderDefaults = map[string]struct {
	BaseURL string
	Model   string
}{
	"openai": {
		BaseURL: "https://api.openai.com/v1",
		Model:   "gpt-4o",
	},
	"deepseek": {
		BaseURL: "https://api.deepseek.com",
		Model:   "deepseek-chat",
	},
	"openrouter": {
		BaseURL: "https://openrouter.ai/api/v1",
		Model:   "openai/gpt-4o",
	},
	"groq": {
		BaseURL: "https://api.groq.com/openai/v1",
		Model:   "llama-3.3-70b-versatile",
	},
	"ollama": {
		BaseURL: "http://localhost:11434/v1",
		Model:   "llama3.1",
	},
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// IsAIEnabled returns true if an instance-level LLM API key is configured.
// Tenants with their own provider credentials can still run the pipeline
// when this is false.
func (p *Profile) IsAIEnabled() bool {
	return p.LLMAPIKey != ""
}

// getEnvOrDefault returns environment variable value or default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvOrDefaultInt returns environment variable value as int or default value.
func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// FromEnv loads configuration from environment variables.
func (p *Profile) FromEnv() {
	// Unified LLM configuration
	p.LLMProvider = getEnvOrDefault("CONVERSIA_AI_LLM_PROVIDER", "openai")
	p.LLMAPIKey = getEnvOrDefault("CONVERSIA_AI_LLM_API_KEY", "")
	p.LLMBaseURL = getEnvOrDefault("CONVERSIA_AI_LLM_BASE_URL", "")
	p.LLMModel = getEnvOrDefault("CONVERSIA_AI_LLM_MODEL", "")
	p.LLMTimeout = getEnvOrDefaultInt("CONVERSIA_AI_LLM_TIMEOUT_SECONDS", 120)
	p.LLMModelCheap = getEnvOrDefault("CONVERSIA_AI_LLM_MODEL_CHEAP", "")
	p.LLMModelReasoning = getEnvOrDefault("CONVERSIA_AI_LLM_MODEL_REASONING", "")
	p.LLMModelLargeContext = getEnvOrDefault("CONVERSIA_AI_LLM_MODEL_LARGE_CONTEXT", "")

	// AI is enabled if API key is configured
	p.AIEnabled = p.LLMAPIKey != ""

	// Validate and apply provider defaults if not explicitly set
	if p.LLMProvider != "" {
		if _, ok := llmProviderDefaults[p.LLMProvider]; !ok {
			slog.Warn("Unknown LLM provider, using default: openai", "provider", p.LLMProvider)
			p.LLMProvider = "openai"
		}
	}
	if p.LLMBaseURL == "" || p.LLMModel == "" {
		if defaults, ok := llmProviderDefaults[p.LLMProvider]; ok {
			if p.LLMBaseURL == "" {
				p.LLMBaseURL = defaults.BaseURL
			}
			if p.LLMModel == "" {
				p.LLMModel = defaults.Model
			}
		}
	}

	// Embedding configuration
	p.EmbeddingProvider = getEnvOrDefault("CONVERSIA_AI_EMBEDDING_PROVIDER", "openai")
	p.EmbeddingModel = getEnvOrDefault("CONVERSIA_AI_EMBEDDING_MODEL", "text-embedding-3-small")
	p.EmbeddingAPIKey = getEnvOrDefault("CONVERSIA_AI_EMBEDDING_API_KEY", p.LLMAPIKey)
	p.EmbeddingBaseURL = getEnvOrDefault("CONVERSIA_AI_EMBEDDING_BASE_URL", "https://api.openai.com/v1")
	p.EmbeddingDim = getEnvOrDefaultInt("CONVERSIA_AI_EMBEDDING_DIM", 1536)

	// Internet retrieval configuration
	p.SearchAPIKey = getEnvOrDefault("CONVERSIA_AI_SEARCH_API_KEY", "")
	p.SearchBaseURL = getEnvOrDefault("CONVERSIA_AI_SEARCH_BASE_URL", "https://api.tavily.com")

	p.Secret = getEnvOrDefault("CONVERSIA_SECRET", "")
	p.CacheURL = getEnvOrDefault("CONVERSIA_CACHE_URL", "")
	p.InstanceURL = getEnvOrDefault("CONVERSIA_INSTANCE_URL", "")
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		relativeDir := filepath.Join(filepath.Dir(os.Args[0]), dataDir)
		absDir, err := filepath.Abs(relativeDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	// Trim trailing \ or / in case user supplies
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

	if p.Mode == "prod" && p.Data == "" {
		if runtime.GOOS == "windows" {
			p.Data = filepath.Join(os.Getenv("ProgramData"), "conversia")
			if _, err := os.Stat(p.Data); os.IsNotExist(err) {
				if err := os.MkdirAll(p.Data, 0770); err != nil {
					slog.Error("failed to create data directory", slog.String("data", p.Data), slog.String("error", err.Error()))
					return err
				}
			}
		} else {
			p.Data = "/var/opt/conversia"
		}
	}

	dataDir, err := checkDataDir(p.Data)
	if err != nil {
		slog.Error("failed to check data dir", slog.String("data", dataDir), slog.String("error", err.Error()))
		return err
	}
	p.Data = dataDir

	if p.Driver == "sqlite" && p.DSN == "" {
		dbFile := fmt.Sprintf("conversia_%s.db", p.Mode)
		p.DSN = filepath.Join(dataDir, dbFile)
	}
	if p.Driver == "postgres" && p.DSN == "" {
		return errors.New("dsn is required for postgres driver")
	}

	if p.Mode == "prod" && p.Secret == "" {
		return errors.New("CONVERSIA_SECRET is required in prod mode")
	}
	if p.Secret == "" {
		// Demo and dev fall back to a fixed secret so local setups work out
		// of the box. Stored provider credentials are not portable to prod.
		p.Secret = "conversia-insecure-dev-secret"
	}

	return nil
}
