package config

import (
	_ "embed"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Match     MatchConfig     `yaml:"match"`
	HNSW      HNSWConfig      `yaml:"hnsw"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Web       WebConfig       `yaml:"web"`
}

type DatabaseConfig struct {
	URL           string `yaml:"-"`              // PostgreSQL connection URL
	MaxOpenConns  int    `yaml:"max_open_conns"` // Maximum open connections (default 25)
	MaxIdleConns  int    `yaml:"max_idle_conns"` // Maximum idle connections (default 5)
	HNSWIndexPath string `yaml:"-"`              // Path to persist the face HNSW index (optional, if empty index is rebuilt on startup)
}

type MatchConfig struct {
	Threshold     float64 `yaml:"threshold"`      // minimum cosine similarity for a match
	Strategy      string  `yaml:"strategy"`       // scan, pgvector or hnsw
	Dim           int     `yaml:"dim"`            // embedding dimension (512 for buffalo_l)
	NormTolerance float64 `yaml:"norm_tolerance"` // allowed |norm - 1| for registered vectors
}

type HNSWConfig struct {
	M              int `yaml:"m"`
	EfSearch       int `yaml:"ef_search"`
	EfConstruction int `yaml:"ef_construction"`
}

type EmbeddingConfig struct {
	URL   string `yaml:"url"`   // defaults to http://localhost:8000
	Model string `yaml:"model"` // recorded with every stored embedding
}

type WebConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	MaxUploadSize  int64    `yaml:"max_upload_size"` // bytes
}

// Addr returns host:port for the HTTP listener.
func (c *WebConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads an environment variable as a float.
// Returns the default value if the env var is unset or invalid.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

// envList reads a comma separated list.
func envList(key string, defaultVal []string) []string {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Defaults returns the configuration embedded in defaults.yaml.
func Defaults() Config {
	var cfg Config
	if err := yaml.Unmarshal(defaultsYAML, &cfg); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded defaults.yaml: " + err.Error())
	}
	return cfg
}

func Load() *Config {
	d := Defaults()

	return &Config{
		Database: DatabaseConfig{
			URL:           os.Getenv("DATABASE_URL"),
			MaxOpenConns:  envInt("DATABASE_MAX_OPEN_CONNS", d.Database.MaxOpenConns),
			MaxIdleConns:  envInt("DATABASE_MAX_IDLE_CONNS", d.Database.MaxIdleConns),
			HNSWIndexPath: os.Getenv("HNSW_INDEX_PATH"),
		},
		Match: MatchConfig{
			Threshold:     envFloat("MATCH_THRESHOLD", d.Match.Threshold),
			Strategy:      envString("MATCH_STRATEGY", d.Match.Strategy),
			Dim:           envInt("FACE_EMBEDDING_DIM", d.Match.Dim),
			NormTolerance: d.Match.NormTolerance,
		},
		HNSW: HNSWConfig{
			M:              envInt("HNSW_M", d.HNSW.M),
			EfSearch:       envInt("HNSW_EF_SEARCH", d.HNSW.EfSearch),
			EfConstruction: envInt("HNSW_EF_CONSTRUCTION", d.HNSW.EfConstruction),
		},
		Embedding: EmbeddingConfig{
			URL:   envString("EMBEDDING_URL", d.Embedding.URL),
			Model: envString("EMBEDDING_MODEL", d.Embedding.Model),
		},
		Web: WebConfig{
			Host:           envString("WEB_HOST", d.Web.Host),
			Port:           envInt("WEB_PORT", d.Web.Port),
			AllowedOrigins: envList("WEB_ALLOWED_ORIGINS", d.Web.AllowedOrigins),
			MaxUploadSize:  int64(envInt("WEB_MAX_UPLOAD_SIZE", int(d.Web.MaxUploadSize))),
		},
	}
}

// Validate checks the values the match engine depends on.
func (c *Config) Validate() error {
	var errs []error
	if c.Match.Threshold < -1 || c.Match.Threshold > 1 {
		errs = append(errs, fmt.Errorf("MATCH_THRESHOLD %v outside [-1, 1]", c.Match.Threshold))
	}
	switch strings.ToLower(c.Match.Strategy) {
	case "scan", "pgvector", "hnsw":
	default:
		errs = append(errs, fmt.Errorf("MATCH_STRATEGY %q must be scan, pgvector or hnsw", c.Match.Strategy))
	}
	if c.Match.Dim <= 0 {
		errs = append(errs, fmt.Errorf("FACE_EMBEDDING_DIM must be positive, got %d", c.Match.Dim))
	}
	if c.Match.NormTolerance <= 0 {
		errs = append(errs, errors.New("norm tolerance must be positive"))
	}
	return errors.Join(errs...)
}
