package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/roach88/progsync/internal/catalog"
	"github.com/roach88/progsync/internal/config"
	"github.com/roach88/progsync/internal/metrics"
	"github.com/roach88/progsync/internal/model"
	"github.com/roach88/progsync/internal/remote"
	"github.com/roach88/progsync/internal/session"
	"github.com/roach88/progsync/internal/store"
)

// runtime is everything one command needs: resolved config, the open
// store and catalog, and the learner session.
type runtime struct {
	cfg     config.Config
	store   *store.Store
	catalog *catalog.Catalog
	session *session.Session
	metrics *metrics.Metrics
	out     *OutputFormatter
}

// setupLogging installs the slog text handler on stderr.
func setupLogging(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

// resolveConfig loads the config file and applies flag overrides.
func resolveConfig(opts *RootOptions) (config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return config.Config{}, err
	}
	if opts.Database != "" {
		cfg.DBPath = opts.Database
	}
	if opts.CatalogDir != "" {
		cfg.CatalogDir = opts.CatalogDir
	}
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	if opts.Token != "" {
		cfg.Token = opts.Token
	}
	if opts.Offline {
		cfg.BaseURL = ""
	}
	return cfg, nil
}

// loadCatalog loads the configured catalog directory, or the built-in one.
func loadCatalog(dir string) (*catalog.Catalog, error) {
	if dir == "" {
		return catalog.Default(), nil
	}
	c, errs := catalog.Load(dir, catalog.LoadModeFailFast)
	if len(errs) > 0 {
		return nil, errs[0]
	}
	return c, nil
}

// openRuntime builds the runtime for cmd. The caller must Close it.
func openRuntime(cmd *cobra.Command, opts *RootOptions) (*runtime, error) {
	out := newFormatter(opts, cmd)
	log := setupLogging(cmd.ErrOrStderr(), opts.Verbose)

	cfg, err := resolveConfig(opts)
	if err != nil {
		return nil, out.Fail(ExitCommandError, ErrCodeArgs, "invalid configuration", err)
	}

	cat, err := loadCatalog(cfg.CatalogDir)
	if err != nil {
		code := catalog.ErrCodeGeneric
		var loadErr *catalog.LoadError
		if errors.As(err, &loadErr) {
			code = loadErr.Code
		}
		return nil, out.Fail(ExitCommandError, code, "failed to load catalog", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return nil, out.Fail(ExitCommandError, ErrCodeGeneric, "failed to create data directory", err)
	}
	log.Debug("opening database", "path", cfg.DBPath)
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, out.Fail(ExitCommandError, ErrCodeGeneric, "failed to open database", err)
	}

	m := metrics.New()
	var svc remote.Service
	if !cfg.Offline() {
		client, err := remote.NewClient(remote.Config{
			BaseURL: cfg.BaseURL,
			Token:   cfg.Token,
			Timeout: cfg.Timeout,
			Logger:  log,
			Metrics: m,
		})
		if err != nil {
			st.Close()
			return nil, out.Fail(ExitCommandError, ErrCodeArgs, "invalid remote configuration", err)
		}
		svc = client
	}

	sess, err := session.Open(commandContext(cmd), model.UserID(opts.User), session.Options{
		Store:      st,
		Catalog:    cat,
		Service:    svc,
		Timing:     cfg.Timing,
		JobTimeout: cfg.Timeout,
		Logger:     log,
		Metrics:    m,
	})
	if err != nil {
		st.Close()
		return nil, out.Fail(ExitCommandError, ErrCodeGeneric, "failed to open session", err)
	}

	log.Debug("session open", "user", model.UserID(opts.User).String(), "offline", cfg.Offline())
	return &runtime{cfg: cfg, store: st, catalog: cat, session: sess, metrics: m, out: out}, nil
}

// Close ends the session, delivering what it can, then closes the store.
// Undelivered remote state is logged, not returned: it stays in the local
// cache and is re-sent by a later session.
func (r *runtime) Close(ctx context.Context) error {
	if err := r.session.Close(ctx); err != nil {
		slog.Warn("some progress was not delivered", "error", err)
	}
	if err := r.store.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// withRuntime opens the runtime, runs fn and closes the runtime.
func withRuntime(cmd *cobra.Command, opts *RootOptions, fn func(ctx context.Context, rt *runtime) error) error {
	rt, err := openRuntime(cmd, opts)
	if err != nil {
		return err
	}
	ctx := commandContext(cmd)
	runErr := fn(ctx, rt)
	closeErr := rt.Close(context.WithoutCancel(ctx))
	if runErr != nil {
		return runErr
	}
	if closeErr != nil {
		return WrapExitError(ExitCommandError, "failed to close database", closeErr)
	}
	return nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
