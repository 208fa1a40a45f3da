// Package app wires the ledger's components together from loaded
// configuration. Commands construct an App once and use its parts; no
// component reaches for globals.
package app

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"

	"github.com/tracelock/tracelock/internal/capture"
	"github.com/tracelock/tracelock/internal/config"
	"github.com/tracelock/tracelock/internal/differ"
	"github.com/tracelock/tracelock/internal/kv"
	"github.com/tracelock/tracelock/internal/lock"
	"github.com/tracelock/tracelock/internal/logger"
	"github.com/tracelock/tracelock/internal/pack"
	"github.com/tracelock/tracelock/internal/retention"
	"github.com/tracelock/tracelock/internal/store"
	"github.com/tracelock/tracelock/internal/verifier"
)

// App holds one fully wired ledger instance for a single tenant.
type App struct {
	Config    *config.Config
	Log       logger.Logger
	KV        kv.Store
	Ledger    *store.Ledger
	Lock      *lock.Lock
	Enforcer  *retention.Enforcer
	Differ    *differ.Engine
	Verifier  *verifier.Verifier
	Assembler *pack.Assembler
}

// New builds the component graph from configuration.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	log := logger.New(cfg.LogLevel)

	kvStore, err := newKV(ctx, cfg)
	if err != nil {
		return nil, err
	}

	ledger, err := store.New(kvStore, cfg.TenantID, log)
	if err != nil {
		return nil, err
	}

	lk := lock.New(kvStore, cfg.Capture.LockTTL, log)
	v := verifier.New(ledger, log)

	return &App{
		Config:    cfg,
		Log:       log,
		KV:        kvStore,
		Ledger:    ledger,
		Lock:      lk,
		Enforcer:  retention.New(ledger, log),
		Differ:    differ.New(log),
		Verifier:  v,
		Assembler: pack.New(ledger, v, log),
	}, nil
}

// Capturer builds a capture orchestrator around the given upstream
// collector, using the configured scope.
func (a *App) Capturer(collector capture.Collector) *capture.Capturer {
	return capture.New(a.Ledger, a.Lock, collector, a.Config.Scope(), a.Log)
}

func newKV(ctx context.Context, cfg *config.Config) (kv.Store, error) {
	switch cfg.Storage.Backend {
	case config.BackendInMem:
		return kv.NewInMem(), nil
	case config.BackendDynamoDB:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Storage.Region))
		if err != nil {
			return nil, fmt.Errorf("loading aws config: %w", err)
		}
		return kv.NewDynamo(awsCfg, cfg.Storage.TableName), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}
