package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sebtcheng/insighted-monitor/internal/diag"
	"github.com/sebtcheng/insighted-monitor/internal/live"
	"github.com/sebtcheng/insighted-monitor/internal/resilience"
	"github.com/sebtcheng/insighted-monitor/internal/roster"
	"github.com/sebtcheng/insighted-monitor/internal/scope"
)

// monitorEnv holds the shared state the serve and stats commands run on:
// the ledger store, the loaded roster, and the process-wide diagnostics.
type monitorEnv struct {
	Store  live.Store
	Roster *roster.Roster
	Diag   *diag.Counters
	Scope  *scope.Resolver
}

// Close releases resources held by the environment.
func (e *monitorEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

func initStore(ctx context.Context, d *diag.Counters) (live.Store, error) {
	switch cfg.Ledger.Driver {
	case "sqlite":
		dsn := cfg.Ledger.DatabaseURL
		if dsn == "" {
			dsn = "ledger.db"
		}
		return live.NewSQLite(dsn, d)
	case "postgres":
		return live.NewPostgres(ctx, cfg.Ledger.DatabaseURL, &cfg.Ledger.Pool, d)
	default:
		return nil, eris.Errorf("unsupported ledger driver: %s", cfg.Ledger.Driver)
	}
}

// initEnv validates config for the given mode, opens the ledger store, and
// loads the roster with retry. Callers should defer env.Close().
func initEnv(ctx context.Context, mode string) (*monitorEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	d := diag.NewCounters()

	st, err := initStore(ctx, d)
	if err != nil {
		return nil, err
	}

	src := roster.Source{
		URL:     cfg.Roster.URL,
		Sheet:   cfg.Roster.Sheet,
		Timeout: cfg.Roster.FetchTimeout,
	}
	retryCfg := resilience.DefaultRetryConfig()
	retryCfg.OnRetry = resilience.RetryLogger(cfg.Roster.URL, "load roster")

	r, err := resilience.DoVal(ctx, retryCfg, func(ctx context.Context) (*roster.Roster, error) {
		return roster.Load(ctx, src, d)
	})
	if err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "load roster")
	}

	zap.L().Info("environment ready",
		zap.String("driver", cfg.Ledger.Driver),
		zap.Int("roster_schools", r.Len()),
		zap.Int("quarantined_rows", r.Quarantined()),
	)

	return &monitorEnv{
		Store:  st,
		Roster: r,
		Diag:   d,
		Scope:  scope.New(d),
	}, nil
}
