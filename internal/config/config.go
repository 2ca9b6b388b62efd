// Package config loads travelbot settings from defaults, an optional YAML
// file and environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the complete application configuration.
type Config struct {
	LLM        LLMConfig        `yaml:"llm"`
	Travel     TravelConfig     `yaml:"travel"`
	RAG        RAGConfig        `yaml:"rag"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	Server     ServerConfig     `yaml:"server"`
	Log        LogConfig        `yaml:"log"`
}

// LLMConfig selects the chat model used by the travel assistant and the
// embedder used for policy lookup and document retrieval.
type LLMConfig struct {
	Provider        string  `yaml:"provider" validate:"oneof=anthropic openai google mock"`
	Model           string  `yaml:"model" validate:"required"`
	Temperature     float64 `yaml:"temperature" validate:"gte=0,lte=2"`
	AnthropicAPIKey string  `yaml:"anthropic_api_key"`
	OpenAIAPIKey    string  `yaml:"openai_api_key"`
	GoogleAPIKey    string  `yaml:"google_api_key"`
	Embeddings      string  `yaml:"embeddings" validate:"oneof=openai mock"`
	EmbeddingModel  string  `yaml:"embedding_model"`

	// Timeout bounds a single node execution, model call included. Zero
	// disables it.
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`
}

// TravelConfig locates the travel database and the policy document.
type TravelConfig struct {
	PassengerID  string `yaml:"passenger_id" validate:"required"`
	DBURL        string `yaml:"db_url" validate:"omitempty,url"`
	LocalDBPath  string `yaml:"local_db_path" validate:"required"`
	BackupDBPath string `yaml:"backup_db_path" validate:"required,nefield=LocalDBPath"`
	PolicyURL    string `yaml:"policy_url" validate:"omitempty,url"`
	TavilyAPIKey string `yaml:"tavily_api_key"`
}

// RAGConfig configures the agentic retrieval flow. Each step may use a
// different model of the same provider.
type RAGConfig struct {
	Provider       string   `yaml:"provider" validate:"oneof=anthropic openai google mock"`
	AgentModel     string   `yaml:"agent_model" validate:"required"`
	GraderModel    string   `yaml:"grader_model" validate:"required"`
	RewriteModel   string   `yaml:"rewrite_model" validate:"required"`
	GeneratorModel string   `yaml:"generator_model" validate:"required"`
	URLs           []string `yaml:"urls" validate:"dive,url"`
	ChunkSize      int      `yaml:"chunk_size" validate:"gt=0"`
	ChunkOverlap   int      `yaml:"chunk_overlap" validate:"gte=0,ltfield=ChunkSize"`
	TopK           int      `yaml:"top_k" validate:"gt=0"`
}

// CheckpointConfig selects the checkpoint store backend.
type CheckpointConfig struct {
	Backend  string `yaml:"backend" validate:"oneof=memory sqlite mysql redis badger"`
	DSN      string `yaml:"dsn" validate:"required_unless=Backend memory"`
	Compress bool   `yaml:"compress"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr string `yaml:"addr" validate:"required"`
}

// LogConfig configures internal/log.
type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=console json"`
}

// Default returns the configuration used when neither a file nor the
// environment says otherwise.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider:       "anthropic",
			Model:          "claude-3-5-haiku-latest",
			Temperature:    1.0,
			Timeout:        2 * time.Minute,
			Embeddings:     "openai",
			EmbeddingModel: "text-embedding-3-small",
		},
		Travel: TravelConfig{
			PassengerID:  "3442 587242",
			DBURL:        "https://storage.googleapis.com/benchmarks-artifacts/travel-db/travel2.sqlite",
			LocalDBPath:  "travel2.sqlite",
			BackupDBPath: "travel2.backup.sqlite",
			PolicyURL:    "https://storage.googleapis.com/benchmarks-artifacts/travel-db/swiss_faq.md",
		},
		RAG: RAGConfig{
			Provider:       "openai",
			AgentModel:     "gpt-4-turbo",
			GraderModel:    "gpt-4o",
			RewriteModel:   "gpt-4-0125-preview",
			GeneratorModel: "gpt-4o-mini",
			URLs: []string{
				"https://lilianweng.github.io/posts/2023-06-23-agent/",
				"https://lilianweng.github.io/posts/2023-03-15-prompt-engineering/",
				"https://lilianweng.github.io/posts/2023-10-25-adv-attack-llm/",
			},
			ChunkSize:    100,
			ChunkOverlap: 50,
			TopK:         4,
		},
		Checkpoint: CheckpointConfig{Backend: "memory"},
		Server:     ServerConfig{Addr: ":8080"},
		Log:        LogConfig{Level: "info", Format: "console"},
	}
}

var validate = validator.New()

// Load builds the configuration. path may be empty, in which case only
// defaults and the environment are used. A path that does not exist is an
// error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the struct tags and returns one error listing every
// failing field.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("invalid config: %w", err)
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// applyEnv overrides fields from environment variables. Unset variables
// leave the field alone; set but empty variables clear it.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := map[string]*string{
		"LLM_PROVIDER":         &c.LLM.Provider,
		"LLM_MODEL":            &c.LLM.Model,
		"ANTHROPIC_API_KEY":    &c.LLM.AnthropicAPIKey,
		"OPENAI_API_KEY":       &c.LLM.OpenAIAPIKey,
		"GOOGLE_API_KEY":       &c.LLM.GoogleAPIKey,
		"EMBEDDINGS":           &c.LLM.Embeddings,
		"EMBEDDING_MODEL":      &c.LLM.EmbeddingModel,
		"DEFAULT_PASSENGER_ID": &c.Travel.PassengerID,
		"DB_URL":               &c.Travel.DBURL,
		"LOCAL_DB_PATH":        &c.Travel.LocalDBPath,
		"BACKUP_DB_PATH":       &c.Travel.BackupDBPath,
		"POLICY_URL":           &c.Travel.PolicyURL,
		"TAVILY_API_KEY":       &c.Travel.TavilyAPIKey,
		"RAG_PROVIDER":         &c.RAG.Provider,
		"AGENT_MODEL":          &c.RAG.AgentModel,
		"GRADER_MODEL":         &c.RAG.GraderModel,
		"REWRITE_MODEL":        &c.RAG.RewriteModel,
		"GENERATOR_MODEL":      &c.RAG.GeneratorModel,
		"CHECKPOINT_BACKEND":   &c.Checkpoint.Backend,
		"CHECKPOINT_DSN":       &c.Checkpoint.DSN,
		"SERVER_ADDR":          &c.Server.Addr,
		"LOG_LEVEL":            &c.Log.Level,
		"LOG_FORMAT":           &c.Log.Format,
	}
	for name, field := range str {
		if v, ok := lookup(name); ok {
			*field = v
		}
	}

	if v, ok := lookup("LLM_TEMPERATURE"); ok {
		t, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("LLM_TEMPERATURE: %w", err)
		}
		c.LLM.Temperature = t
	}
	if v, ok := lookup("RAG_URLS"); ok {
		c.RAG.URLs = splitList(v)
	}
	if v, ok := lookup("CHECKPOINT_COMPRESS"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("CHECKPOINT_COMPRESS: %w", err)
		}
		c.Checkpoint.Compress = b
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
