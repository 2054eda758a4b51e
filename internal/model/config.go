package model

import "time"

// Config is the complete, immutable configuration for a session. It is
// built once (flags > env > config file > defaults) and passed into
// session creation; nothing in the protocol mutates it afterwards.
type Config struct {
	Protocol  ProtocolConfig  `json:"protocol" yaml:"protocol" mapstructure:"protocol"`
	LLM       LLMConfig       `json:"llm" yaml:"llm" mapstructure:"llm"`
	HTTP      HTTPConfig      `json:"http" yaml:"http" mapstructure:"http"`
	Cache     CacheConfig     `json:"cache" yaml:"cache" mapstructure:"cache"`
	RateLimit RateLimitConfig `json:"rate_limit" yaml:"rate_limit" mapstructure:"rate_limit"`
	Output    OutputConfig    `json:"output" yaml:"output" mapstructure:"output"`
}

// ProtocolConfig bounds the coordination protocol. Every cap here is a
// hard bound; together they guarantee a session terminates.
type ProtocolConfig struct {
	Workers        int    `json:"workers" yaml:"workers" mapstructure:"workers"`                            // Worker slots per round
	RoundCap       int    `json:"round_cap" yaml:"round_cap" mapstructure:"round_cap"`                      // Max rounds before forced finalize
	RevisionCap    int    `json:"revision_cap" yaml:"revision_cap" mapstructure:"revision_cap"`             // Max revision cycles per task
	PropositionCap int    `json:"proposition_cap" yaml:"proposition_cap" mapstructure:"proposition_cap"`    // Max propositions per session
	MinSources     int    `json:"min_sources" yaml:"min_sources" mapstructure:"min_sources"`                // Min citations per submission
	MaxQuoteChars  int    `json:"max_quote_chars" yaml:"max_quote_chars" mapstructure:"max_quote_chars"`    // Quote length bound per citation
	MaxDescChars   int    `json:"max_desc_chars" yaml:"max_desc_chars" mapstructure:"max_desc_chars"`       // Media description length bound
	SystemPrompt   string `json:"system_prompt,omitempty" yaml:"system_prompt" mapstructure:"system_prompt"` // Shared role preamble for LLM collaborators
}

// LLMConfig selects and configures the model-serving endpoint behind the
// Decomposer, WorkerExecutor, SupervisorReviewer and MediaDescriber
// collaborators. Empty provider means the offline implementations.
type LLMConfig struct {
	Provider  string `json:"provider" yaml:"provider" mapstructure:"provider"` // "openai" or "" (offline)
	Model     string `json:"model" yaml:"model" mapstructure:"model"`
	APIKey    string `json:"-" yaml:"-" mapstructure:"api_key"` // Never serialized
	BaseURL   string `json:"base_url,omitempty" yaml:"base_url" mapstructure:"base_url"`
	Timeout   int    `json:"timeout" yaml:"timeout" mapstructure:"timeout"` // Seconds per call
	MaxTokens int    `json:"max_tokens" yaml:"max_tokens" mapstructure:"max_tokens"`
}

// HTTPConfig configures the evidence fetch tool.
type HTTPConfig struct {
	Timeout      time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`
	UserAgent    string        `json:"user_agent" yaml:"user_agent" mapstructure:"user_agent"`
	MaxBodyBytes int64         `json:"max_body_bytes" yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
	HTTPProxy    string        `json:"http_proxy,omitempty" yaml:"http_proxy" mapstructure:"http_proxy"`
	HTTPSProxy   string        `json:"https_proxy,omitempty" yaml:"https_proxy" mapstructure:"https_proxy"`
	NoProxy      string        `json:"no_proxy,omitempty" yaml:"no_proxy" mapstructure:"no_proxy"`
}

// CacheConfig configures the fetched-page cache and the session registry.
type CacheConfig struct {
	Enabled    bool          `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	Dir        string        `json:"dir,omitempty" yaml:"dir" mapstructure:"dir"`
	MemoryTTL  time.Duration `json:"memory_ttl" yaml:"memory_ttl" mapstructure:"memory_ttl"`
	DiskTTL    time.Duration `json:"disk_ttl" yaml:"disk_ttl" mapstructure:"disk_ttl"`
	SessionTTL time.Duration `json:"session_ttl" yaml:"session_ttl" mapstructure:"session_ttl"` // Finalized session retention
}

// RateLimitConfig bounds outbound fetches per source domain.
type RateLimitConfig struct {
	RequestsPerSecond float64 `json:"requests_per_second" yaml:"requests_per_second" mapstructure:"requests_per_second"`
	BurstSize         int     `json:"burst_size" yaml:"burst_size" mapstructure:"burst_size"`
}

// OutputConfig configures report rendering.
type OutputConfig struct {
	Verbose       bool `json:"verbose" yaml:"verbose" mapstructure:"verbose"`
	IncludeFooter bool `json:"include_footer" yaml:"include_footer" mapstructure:"include_footer"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Protocol: ProtocolConfig{
			Workers:        5,
			RoundCap:       3,
			RevisionCap:    2,
			PropositionCap: 5,
			MinSources:     2,
			MaxQuoteChars:  280,
			MaxDescChars:   20_000,
		},
		LLM: LLMConfig{
			Provider:  "",
			Timeout:   30,
			MaxTokens: 1500,
		},
		HTTP: HTTPConfig{
			Timeout:      20 * time.Second,
			UserAgent:    "Veridict/0.1 (+https://github.com/veridict/veridict)",
			MaxBodyBytes: 2_000_000,
		},
		Cache: CacheConfig{
			Enabled:    true,
			MemoryTTL:  15 * time.Minute,
			DiskTTL:    24 * time.Hour,
			SessionTTL: time.Hour,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 2,
			BurstSize:         5,
		},
		Output: OutputConfig{
			IncludeFooter: true,
		},
	}
}

// Standard derives the deliverable standard every task of a session
// carries from the protocol bounds.
func (c *Config) Standard() DeliverableStandard {
	return DeliverableStandard{
		MinSources:       c.Protocol.MinSources,
		MaxQuoteChars:    c.Protocol.MaxQuoteChars,
		RequireScopeTags: true,
	}
}
