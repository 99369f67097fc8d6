package cli

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ivmfnal/metacat-sub001/internal/compiler"
	"github.com/ivmfnal/metacat-sub001/internal/config"
	"github.com/ivmfnal/metacat-sub001/internal/filters"
	"github.com/ivmfnal/metacat-sub001/internal/ir"
	"github.com/ivmfnal/metacat-sub001/internal/mql"
	"github.com/ivmfnal/metacat-sub001/internal/querystore"
	"github.com/ivmfnal/metacat-sub001/internal/store"
)

// queryCatalog is where named queries live: the database or a query
// directory.
type queryCatalog interface {
	compiler.QueryStore
	Queries(ctx context.Context) ([]ir.NamedQuery, error)
	PutQuery(ctx context.Context, q ir.NamedQuery) error
}

// session is the configuration, logger and catalog one command runs
// with.
type session struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *store.Store
	queries queryCatalog
	dir     *querystore.Dir
	filters *filters.Registry
}

// loadConfig reads the config file, if any, and applies flag overrides.
func (o *RootOptions) loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if o.Config != "" {
		cfg, err = config.Load(o.Config)
	} else {
		cfg, err = config.Default()
	}
	if err != nil {
		return nil, err
	}
	if o.Database != "" {
		cfg.Database = o.Database
	}
	if o.Queries != "" {
		cfg.Queries = o.Queries
	}
	if o.Namespace != "" {
		cfg.Namespace = o.Namespace
	}
	if o.Verbose {
		cfg.Log.Level = "debug"
	}
	return cfg, nil
}

// open loads the configuration and opens the catalog. Close the session
// when done.
func (o *RootOptions) open(cmd *cobra.Command) (*session, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := config.NewLogger(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}

	reg := filters.Builtins()
	if err := reg.LoadLua(cfg.Filters); err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.Database)
	if err != nil {
		return nil, err
	}
	s := &session{cfg: cfg, logger: logger, store: st, queries: st, filters: reg}
	if cfg.Queries != "" {
		dir, err := querystore.Open(cfg.Queries, logger)
		if err != nil {
			st.Close()
			return nil, err
		}
		s.dir = dir
		s.queries = dir
	}
	logger.Debug("opened catalog", "database", cfg.Database, "queries", cfg.Queries, "filters", reg.Names())
	return s, nil
}

func (s *session) Close() error {
	return s.store.Close()
}

func (s *session) compile(ctx context.Context, src string, params map[string]ir.Value) (*mql.CompiledQuery, error) {
	return mql.Compile(ctx, src, mql.Options{
		DefaultNamespace: s.cfg.Namespace,
		Params:           params,
		Queries:          s.queries,
		Filters:          s.filters,
		MaxDNFTerms:      s.cfg.MaxDNFTerms,
		UnorderedLimit:   s.cfg.UnorderedLimit,
		Concurrency:      s.cfg.Concurrency,
		Logger:           s.logger,
	})
}

// parseParams turns name=value flags into parameter values. Values are
// read as YAML scalars: 3 is an integer, 2.5 a float, true a boolean,
// anything else a string.
func parseParams(flags []string) (map[string]ir.Value, error) {
	params := make(map[string]ir.Value, len(flags))
	for _, f := range flags {
		name, raw, ok := strings.Cut(f, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid parameter %q: want name=value", f)
		}
		var native any
		if err := yaml.Unmarshal([]byte(raw), &native); err != nil {
			return nil, fmt.Errorf("parameter %s: %w", name, err)
		}
		if native == nil {
			native = raw
		}
		v, err := ir.FromNative(native)
		if err != nil {
			return nil, fmt.Errorf("parameter %s: %w", name, err)
		}
		params[name] = v
	}
	return params, nil
}
