// Package config loads the CUE configuration file and builds the logger
// it describes.
package config

import (
	_ "embed"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/lmittmann/tint"
)

//go:embed schema.cue
var schemaSource []byte

// Config is the decoded configuration. Zero fields are filled from the
// schema defaults.
type Config struct {
	Namespace      string            `json:"namespace"`
	Database       string            `json:"database"`
	Queries        string            `json:"queries"`
	Concurrency    int               `json:"concurrency"`
	MaxDNFTerms    int               `json:"max_dnf_terms"`
	UnorderedLimit bool              `json:"unordered_limit"`
	Log            LoggerConfig      `json:"log"`
	Filters        map[string]string `json:"filters"`
}

type LoggerConfig struct {
	Type  string `json:"type"`
	Level string `json:"level"`
}

// Default returns the configuration an empty file produces.
func Default() (*Config, error) {
	return decode(nil, "")
}

// Load reads a CUE file and unifies it with the schema. Relative
// database, query directory and filter script paths are resolved against
// the file's directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := decode(data, path)
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(path)
	cfg.Database = resolve(dir, cfg.Database)
	cfg.Queries = resolve(dir, cfg.Queries)
	for name, script := range cfg.Filters {
		cfg.Filters[name] = resolve(dir, script)
	}
	return cfg, nil
}

func decode(data []byte, filename string) (*Config, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileBytes(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("config schema: %w", err)
	}
	v := schema.LookupPath(cue.ParsePath("#Config"))
	if data != nil {
		file := ctx.CompileBytes(data, cue.Filename(filename))
		if err := file.Err(); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
		v = v.Unify(file)
	}
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	var cfg Config
	if err := v.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.Filters == nil {
		cfg.Filters = map[string]string{}
	}
	return &cfg, nil
}

func resolve(dir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}

// NewLogger builds the configured slog handler over w.
func NewLogger(cfg LoggerConfig, w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info", "":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, fmt.Errorf("invalid log level: %s", cfg.Level)
	}

	var handler slog.Handler
	switch cfg.Type {
	case "json":
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	case "text":
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	case "colored-text", "":
		handler = tint.NewHandler(w, &tint.Options{Level: level})
	default:
		return nil, fmt.Errorf("invalid log type: %s", cfg.Type)
	}
	return slog.New(handler), nil
}
