package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Catalog   CatalogConfig
	Retrieval RetrievalConfig
	Auth      AuthConfig
	Session   SessionConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port int `validate:"min=1,max=65535"`
}

type StorageConfig struct {
	DataDir string `validate:"required"`
	Backend string `validate:"oneof=sqlite file"`
}

type CatalogConfig struct {
	// Empty paths resolve inside Storage.DataDir.
	Path           string
	SimilarityPath string
}

type RetrievalConfig struct {
	TopK int `validate:"min=1,max=100"`
}

type AuthConfig struct {
	CredentialScheme string `validate:"oneof=plain bcrypt"`
	RequireCaptcha   bool
}

type SessionConfig struct {
	TTL string `validate:"required"`
}

type LogConfig struct {
	Level string `validate:"oneof=debug info warn error"`
}

func defaults() Config {
	return Config{
		Server:    ServerConfig{Port: 4000},
		Storage:   StorageConfig{DataDir: defaultDataDir(), Backend: "sqlite"},
		Retrieval: RetrievalConfig{TopK: 5},
		Auth:      AuthConfig{CredentialScheme: "plain"},
		Session:   SessionConfig{TTL: "24h"},
		Log:       LogConfig{Level: "info"},
	}
}

// Load reads configuration from the JSON file at FilePath and applies
// REELREC_* environment overrides on top.
func Load() (Config, error) {
	return loadWith(newFileBackend(FilePath()))
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)
	cfg.Log.Level = strings.ToLower(cfg.Log.Level)

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks field constraints and reports every violation.
func Validate(cfg Config) error {
	var errs []error
	if err := getValidator().Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("invalid config: %w", err)
		}
		for _, fe := range verrs {
			errs = append(errs, fmt.Errorf("%s: failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
		}
	}
	if _, err := cfg.Session.Duration(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Duration parses TTL. Zero disables idle eviction.
func (s SessionConfig) Duration() (time.Duration, error) {
	d, err := time.ParseDuration(s.TTL)
	if err != nil {
		return 0, fmt.Errorf("session.ttl: %w", err)
	}
	if d < 0 {
		return 0, fmt.Errorf("session.ttl: must not be negative, got %s", s.TTL)
	}
	return d, nil
}

// CatalogPath returns the catalog artifact location.
func (c Config) CatalogPath() string {
	if c.Catalog.Path != "" {
		return c.Catalog.Path
	}
	return filepath.Join(c.Storage.DataDir, "movies.json")
}

// SimilarityPath returns the similarity artifact location.
func (c Config) SimilarityPath() string {
	if c.Catalog.SimilarityPath != "" {
		return c.Catalog.SimilarityPath
	}
	return filepath.Join(c.Storage.DataDir, "similarity.bin")
}

// UsersFilePath is where the file backend keeps the user directory.
func (c Config) UsersFilePath() string {
	return filepath.Join(c.Storage.DataDir, "users.json")
}
