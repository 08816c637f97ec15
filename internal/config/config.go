// Package config loads the process configuration for kaizen from YAML and
// environment variables.
package config

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rakunlabs/chu"
	"github.com/rakunlabs/chu/loader/loaderenv"
	"github.com/rakunlabs/logi"
	"github.com/rakunlabs/tell"
)

// Service is the process identity string ("name/version") set by main
// before Load and used for server middleware/telemetry tagging.
var Service = ""

type Config struct {
	LogLevel string `cfg:"log_level,no_prefix" default:"info"`

	// LLM configures the gateway's conflict-resolution/tip-generation model.
	// Its api_key and base_url also serve Embedding when Embedding's own are
	// empty.
	LLM LLM `cfg:"llm"`

	// Embedding configures the embedding provider used by the vector backend
	// and the tip clusterer. An empty api_key or base_url falls back to LLM's.
	Embedding Embedding `cfg:"embedding"`

	Backend Backend `cfg:"backend"`
	Sync    Sync    `cfg:"sync"`
	Server  Server  `cfg:"server"`

	// ClusteringThreshold is the default cosine similarity cutoff (C10) used
	// when a cluster/consolidate call doesn't specify its own threshold.
	ClusteringThreshold float64 `cfg:"clustering_threshold" default:"0.80"`

	// NamespaceID is the default namespace the tool-protocol surface reads
	// and writes against.
	NamespaceID string `cfg:"namespace_id" default:"default"`

	Telemetry tell.Config `cfg:"telemetry,noprefix"`
}

// LLM describes the provider used for conflict resolution and tip generation.
type LLM struct {
	// Type selects the wire protocol: "openai" (OpenAI-compatible chat
	// completions) or "anthropic".
	Type string `cfg:"type" default:"openai"`

	APIKey  string `cfg:"api_key" log:"-"`
	BaseURL string `cfg:"base_url"`

	// ConflictResolutionModel is used by the conflict resolver (C7).
	ConflictResolutionModel string `cfg:"conflict_resolution_model" default:"gpt-4o-mini"`
	// TipsModel is used by the tip generator (C9) and cluster consolidator (C10).
	TipsModel string `cfg:"tips_model" default:"gpt-4o-mini"`

	// SupportsSchema lists model names that accept a constrained JSON
	// schema response format. Models not listed fall back to free-text
	// mode with the markdown/thinking-block cleanup pipeline.
	SupportsSchema []string `cfg:"supports_schema"`
}

// Embedding configures the embedding provider (C3).
type Embedding struct {
	Type      string `cfg:"type" default:"openai"`
	APIKey    string `cfg:"api_key" log:"-"`
	BaseURL   string `cfg:"base_url"`
	Model     string `cfg:"model" default:"text-embedding-3-small"`
	Dimension int    `cfg:"dimension" default:"384"`
}

// Backend selects and configures the entity store backend (C4/C5/C6).
type Backend struct {
	// Type is "filesystem" or "vector".
	Type string `cfg:"type" default:"filesystem"`

	Filesystem FilesystemBackend `cfg:"filesystem"`
	Vector     VectorBackend     `cfg:"vector"`
}

type FilesystemBackend struct {
	// Dir is the directory holding one JSON file per namespace.
	Dir string `cfg:"dir" default:"./data/kaizen"`
}

type VectorBackend struct {
	MilvusAddress string `cfg:"milvus_address" default:"localhost:19530"`

	// SideDB backs the namespaces existence/uniqueness table.
	SideDB SideDB `cfg:"side_db"`
}

type SideDB struct {
	// Driver is "sqlite" or "postgres".
	Driver     string `cfg:"driver" default:"sqlite"`
	Datasource string `cfg:"datasource" default:"./data/kaizen/namespaces.db" log:"-"`

	Migrate Migrate `cfg:"migrate"`
}

type Migrate struct {
	Schema string            `cfg:"schema"`
	Table  string            `cfg:"table" default:"kaizen_schema_migrations"`
	Values map[string]string `cfg:"values"`
}

// Sync configures the trace-store sync worker (C11).
type Sync struct {
	// Enabled turns on the periodic sync worker.
	Enabled bool `cfg:"enabled"`

	// BaseURL is the trace store's base URL, e.g. "http://phoenix:6006".
	BaseURL string `cfg:"base_url"`
	Project string `cfg:"project" default:"default"`

	// SpanName filters spans by their logical operation name.
	SpanName string `cfg:"span_name" default:"litellm_request"`

	// Namespace is the kaizen namespace trajectories/tips are written to.
	Namespace string `cfg:"namespace" default:"default"`

	// Schedule is a cron expression for how often the sync runs.
	Schedule string `cfg:"schedule" default:"*/15 * * * *"`

	PageSize int `cfg:"page_size" default:"100"`

	// IncludeErrorSpans, when true, keeps spans with an ERROR status
	// instead of dropping them during filtering.
	IncludeErrorSpans bool `cfg:"include_error_spans"`

	// OAuth2, if set, requests a bearer token via client-credentials before
	// each sync run instead of using a static bearer token.
	OAuth2 *OAuth2ClientCredentials `cfg:"oauth2"`
	// BearerToken is used directly when OAuth2 is not configured.
	BearerToken string `cfg:"bearer_token" log:"-"`

	// AlertEmail, if set, sends a summary email once SyncResult.Errors
	// reaches AlertThreshold for a run.
	AlertEmail     *AlertEmail `cfg:"alert_email"`
	AlertThreshold int         `cfg:"alert_threshold" default:"5"`
}

type OAuth2ClientCredentials struct {
	ClientID     string   `cfg:"client_id"`
	ClientSecret string   `cfg:"client_secret" log:"-"`
	TokenURL     string   `cfg:"token_url"`
	Scopes       []string `cfg:"scopes"`
}

type AlertEmail struct {
	SMTPHost string `cfg:"smtp_host"`
	SMTPPort int    `cfg:"smtp_port" default:"587"`
	Username string `cfg:"username"`
	Password string `cfg:"password" log:"-"`
	From     string `cfg:"from"`
	To       string `cfg:"to"`
}

// Server configures the HTTP and tool-protocol surfaces.
type Server struct {
	Port string `cfg:"port" default:"8080"`
	Host string `cfg:"host"`

	// BasePath prefixes every route, e.g. "/kaizen".
	BasePath string `cfg:"base_path"`
}

func Load(ctx context.Context, path string) (*Config, error) {
	var cfg Config
	if err := chu.Load(ctx, path, &cfg, chu.WithLoaderOption(loaderenv.New(loaderenv.WithPrefix("KAIZEN_")))); err != nil {
		return nil, err
	}

	if err := logi.SetLogLevel(cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("set log level %s: %w", cfg.LogLevel, err)
	}

	slog.Info("loaded configuration", "config", chu.MarshalMap(cfg))

	return &cfg, nil
}
