package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"

	appconfig "github.com/wolfman30/medspa-consent-intake/internal/config"
	"github.com/wolfman30/medspa-consent-intake/internal/submissions"
	"github.com/wolfman30/medspa-consent-intake/pkg/logging"
)

// StoreHandle bundles the selected submission repository with its lifecycle.
type StoreHandle struct {
	Backend    string
	Repository submissions.Repository
	// AuditDB is the database/sql handle for the consent audit trail. Only
	// set for the postgres backend.
	AuditDB *sql.DB

	ping    func(ctx context.Context) error
	closers []func()
}

// Ping reports whether the backing store is reachable.
func (h *StoreHandle) Ping(ctx context.Context) error {
	if h == nil || h.ping == nil {
		return nil
	}
	return h.ping(ctx)
}

func (h *StoreHandle) Close() {
	if h == nil {
		return
	}
	for i := len(h.closers) - 1; i >= 0; i-- {
		h.closers[i]()
	}
}

// BuildSubmissionStore opens the backend named by cfg.StoreBackend. awsCfg is
// only consulted for the dynamodb backend.
func BuildSubmissionStore(ctx context.Context, cfg *appconfig.Config, awsCfg *aws.Config, logger *logging.Logger) (*StoreHandle, error) {
	if cfg == nil {
		return nil, errors.New("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	switch cfg.StoreBackend {
	case appconfig.StoreBackendPostgres:
		if cfg.DatabaseURL == "" {
			return nil, errors.New("bootstrap: DATABASE_URL is required for the postgres store")
		}
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: connect postgres: %w", err)
		}
		handle := &StoreHandle{
			Backend:    cfg.StoreBackend,
			Repository: submissions.NewPostgresRepository(pool),
			ping:       pool.Ping,
			closers:    []func(){pool.Close},
		}
		if cfg.AuditEnabled {
			db, err := sql.Open("postgres", cfg.DatabaseURL)
			if err != nil {
				pool.Close()
				return nil, fmt.Errorf("bootstrap: open audit db: %w", err)
			}
			db.SetMaxOpenConns(4)
			handle.AuditDB = db
			handle.closers = append(handle.closers, func() { _ = db.Close() })
		}
		logger.Info("submission store ready", "backend", cfg.StoreBackend, "audit", handle.AuditDB != nil)
		return handle, nil

	case appconfig.StoreBackendDynamo:
		if awsCfg == nil {
			return nil, errors.New("bootstrap: aws config is required for the dynamodb store")
		}
		client := dynamodb.NewFromConfig(*awsCfg)
		table := cfg.SubmissionsTable
		logger.Info("submission store ready", "backend", cfg.StoreBackend, "table", table)
		return &StoreHandle{
			Backend:    cfg.StoreBackend,
			Repository: submissions.NewDynamoRepository(client, table, logger),
			ping: func(ctx context.Context) error {
				_, err := client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(table)})
				return err
			},
		}, nil

	case appconfig.StoreBackendMemory, "":
		logger.Warn("using in-memory submission store; data is lost on restart")
		return &StoreHandle{
			Backend:    appconfig.StoreBackendMemory,
			Repository: submissions.NewInMemoryRepository(),
		}, nil
	}
	return nil, fmt.Errorf("bootstrap: unknown STORE_BACKEND %q", cfg.StoreBackend)
}
