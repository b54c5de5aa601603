package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	RAG       RAGConfig       `mapstructure:"rag"`
	Vector    VectorConfig    `mapstructure:"vector"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Chunking  ChunkingConfig  `mapstructure:"chunking"`
	Ingestion IngestionConfig `mapstructure:"ingestion"`
	LLM       LLMConfig       `mapstructure:"llm"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Session   SessionConfig   `mapstructure:"session"`
	UploadDir string          `mapstructure:"upload_dir"`
}

type ServerConfig struct {
	Port        string   `mapstructure:"port"`
	CorsOrigins []string `mapstructure:"cors_origins"`
	AdminSecret string   `mapstructure:"admin_secret"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

type RAGConfig struct {
	Enabled         bool    `mapstructure:"enabled"`
	QALearning      bool    `mapstructure:"qa_learning"`
	TopK            int     `mapstructure:"top_k"`
	QATopK          int     `mapstructure:"qa_top_k"`
	QAMinSimilarity float64 `mapstructure:"qa_min_similarity"`
}

type VectorConfig struct {
	Backend  string              `mapstructure:"backend"`
	Path     string              `mapstructure:"path"`
	Weaviate WeaviateStoreConfig `mapstructure:"weaviate"`
	Redis    RedisStoreConfig    `mapstructure:"redis"`
}

type WeaviateStoreConfig struct {
	Host   string `mapstructure:"host"`
	APIKey string `mapstructure:"api_key"`
}

type RedisStoreConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type EmbeddingConfig struct {
	Provider string `mapstructure:"provider"`
	BaseURL  string `mapstructure:"base_url"`
	APIKey   string `mapstructure:"api_key"`
	Model    string `mapstructure:"model"`
}

type ChunkingConfig struct {
	ChunkSize    int `mapstructure:"chunk_size"`
	ChunkOverlap int `mapstructure:"chunk_overlap"`
	MinChunkSize int `mapstructure:"min_chunk_size"`
}

type IngestionConfig struct {
	BatchSize         int           `mapstructure:"batch_size"`
	MaxRetries        int           `mapstructure:"max_retries"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Search            SearchConfig  `mapstructure:"search"`
}

type SearchConfig struct {
	APIKey   string `mapstructure:"api_key"`
	EngineID string `mapstructure:"engine_id"`
}

type LLMConfig struct {
	Provider     string        `mapstructure:"provider"`
	UsePaidLLM   bool          `mapstructure:"use_paid_llm"`
	StreamPacing time.Duration `mapstructure:"stream_pacing"`
	OpenAI       OpenAIConfig  `mapstructure:"openai"`
	Groq         GroqConfig    `mapstructure:"groq"`
	Gemini       GeminiConfig  `mapstructure:"gemini"`
	Ollama       OllamaConfig  `mapstructure:"ollama"`
}

type OpenAIConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
}

type GroqConfig struct {
	APIKey      string  `mapstructure:"api_key"`
	Model       string  `mapstructure:"model"`
	Temperature float32 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

type GeminiConfig struct {
	APIKey      string   `mapstructure:"api_key"`
	APIKeys     []string `mapstructure:"api_keys"`
	Model       string   `mapstructure:"model"`
	Temperature float32  `mapstructure:"temperature"`
}

type OllamaConfig struct {
	Host        string  `mapstructure:"host"`
	Model       string  `mapstructure:"model"`
	Temperature float32 `mapstructure:"temperature"`
	NumPredict  int     `mapstructure:"num_predict"`
}

type RateLimitConfig struct {
	IPPerDay      int `mapstructure:"ip_per_day"`
	SessionPerDay int `mapstructure:"session_per_day"`
	GlobalPerDay  int `mapstructure:"global_per_day"`
}

type SessionConfig struct {
	MaxIdleMinutes int           `mapstructure:"max_idle_minutes"`
	SweepInterval  time.Duration `mapstructure:"sweep_interval"`
}

// GeminiKeys returns every configured Gemini key, the primary one first.
func (c GeminiConfig) GeminiKeys() []string {
	keys := make([]string, 0, len(c.APIKeys)+1)
	seen := map[string]bool{}
	for _, k := range append([]string{c.APIKey}, c.APIKeys...) {
		k = strings.TrimSpace(k)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		keys = append(keys, k)
	}
	return keys
}

var envBindings = map[string][]string{
	"llm.openai.api_key":         {"OPENAI_API_KEY"},
	"llm.groq.api_key":           {"GROQ_API_KEY"},
	"llm.gemini.api_key":         {"GOOGLE_API_KEY", "GEMINI_API_KEY"},
	"llm.provider":               {"LLM_PROVIDER"},
	"llm.use_paid_llm":           {"USE_PAID_LLM"},
	"llm.ollama.host":            {"OLLAMA_HOST"},
	"llm.ollama.model":           {"OLLAMA_MODEL"},
	"rag.enabled":                {"ENABLE_RAG"},
	"rag.qa_learning":            {"ENABLE_QA_LEARNING"},
	"vector.weaviate.api_key":    {"WEAVIATE_APIKEY"},
	"vector.redis.addr":          {"REDIS_ADDR"},
	"server.admin_secret":        {"ADMIN_SECRET"},
	"server.port":                {"PORT"},
	"embedding.api_key":          {"EMBEDDING_API_KEY", "OPENAI_API_KEY"},
	"ingestion.search.api_key":   {"GOOGLE_SEARCH_API_KEY"},
	"ingestion.search.engine_id": {"GOOGLE_SEARCH_ENGINE_ID"},
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.admin_secret", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	v.SetDefault("rag.enabled", false)
	v.SetDefault("rag.qa_learning", false)
	v.SetDefault("rag.top_k", 5)
	v.SetDefault("rag.qa_top_k", 3)
	v.SetDefault("rag.qa_min_similarity", 0.7)

	v.SetDefault("vector.backend", "sqlite")
	v.SetDefault("vector.path", "./vector_db")
	v.SetDefault("vector.weaviate.host", "http://localhost:8080")
	v.SetDefault("vector.redis.addr", "localhost:6379")
	v.SetDefault("vector.redis.db", 0)

	v.SetDefault("embedding.provider", "openai")
	v.SetDefault("embedding.model", "text-embedding-3-small")

	v.SetDefault("chunking.chunk_size", 1000)
	v.SetDefault("chunking.chunk_overlap", 200)
	v.SetDefault("chunking.min_chunk_size", 100)

	v.SetDefault("ingestion.batch_size", 50)
	v.SetDefault("ingestion.max_retries", 3)
	v.SetDefault("ingestion.timeout", 30*time.Second)
	v.SetDefault("ingestion.requests_per_second", 2.0)

	v.SetDefault("llm.provider", "")
	v.SetDefault("llm.use_paid_llm", true)
	v.SetDefault("llm.stream_pacing", 10*time.Millisecond)
	v.SetDefault("llm.openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.openai.model", "gpt-3.5-turbo")
	v.SetDefault("llm.groq.model", "llama-3.1-8b-instant")
	v.SetDefault("llm.groq.temperature", 0.3)
	v.SetDefault("llm.groq.max_tokens", 2048)
	v.SetDefault("llm.gemini.model", "gemini-2.5-flash")
	v.SetDefault("llm.gemini.temperature", 0.3)
	v.SetDefault("llm.ollama.host", "http://localhost:11434")
	v.SetDefault("llm.ollama.model", "llama3.2:3b")
	v.SetDefault("llm.ollama.temperature", 0.3)
	v.SetDefault("llm.ollama.num_predict", 512)

	v.SetDefault("rate_limit.ip_per_day", 10)
	v.SetDefault("rate_limit.session_per_day", 15)
	v.SetDefault("rate_limit.global_per_day", 45)

	v.SetDefault("session.max_idle_minutes", 60)
	v.SetDefault("session.sweep_interval", 30*time.Minute)

	v.SetDefault("upload_dir", "./uploads")
}

// LoadConfig reads configPath (YAML) on top of the built-in defaults, then
// overlays environment variables. A missing file is not an error.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, envs := range envBindings {
		args := append([]string{key}, envs...)
		if err := v.BindEnv(args...); err != nil {
			return nil, fmt.Errorf("error binding env for %s: %w", key, err)
		}
	}

	if configPath != "" {
		if err := v.ReadInConfig(); err != nil && !isNotFound(err) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if raw := os.Getenv("BACKEND_CORS_ORIGINS"); raw != "" {
		config.Server.CorsOrigins = parseOrigins(raw)
	}
	if extra := os.Getenv("GOOGLE_API_KEY_1"); extra != "" {
		config.LLM.Gemini.APIKeys = append(config.LLM.Gemini.APIKeys, extra)
	}

	return &config, nil
}

func isNotFound(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	return errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist)
}

// parseOrigins accepts either a JSON array or a comma separated list.
func parseOrigins(raw string) []string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "[") {
		var origins []string
		if err := json.Unmarshal([]byte(raw), &origins); err == nil {
			return origins
		}
	}
	var origins []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}
