package pagecycle

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	_ "modernc.org/sqlite"

	"github.com/vango-dev/pagecycle/internal/config"
	"github.com/vango-dev/pagecycle/pkg/session"
)

// sqlitePragmas are applied to every SQLite session database.
var sqlitePragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA busy_timeout = 10000",
	"PRAGMA synchronous = NORMAL",
}

// openStore builds the session store named by the configuration. s3Client
// overrides the client built from the configuration when non-nil.
func openStore(ctx context.Context, cfg *config.Config, s3Client session.S3API, logger *slog.Logger) (session.Store, error) {
	switch cfg.Session.Store {
	case config.StoreMemory, "":
		return session.NewMemoryStore(), nil
	case config.StoreSQLite:
		return openSQLiteStore(ctx, cfg.Session.SQLitePath, logger)
	case config.StoreS3:
		if s3Client == nil {
			client, err := newS3Client(ctx, cfg.Session.S3)
			if err != nil {
				return nil, err
			}
			s3Client = client
		}
		return session.NewS3Store(s3Client, cfg.Session.S3.Bucket, cfg.Session.S3.Prefix), nil
	}
	return nil, fmt.Errorf("pagecycle: unknown session store %q", cfg.Session.Store)
}

func openSQLiteStore(ctx context.Context, path string, logger *slog.Logger) (*session.SQLStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("pagecycle: sqlite dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("pagecycle: open sqlite: %w", err)
	}
	for _, pragma := range sqlitePragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("pagecycle: %s: %w", pragma, err)
		}
	}

	store := session.NewSQLStore(db,
		session.WithSQLDialect(session.DialectSQLite),
		session.WithSQLLogger(logger))
	if err := store.CreateTable(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("pagecycle: create session table: %w", err)
	}
	return store, nil
}

// newS3Client builds a client from the default AWS configuration chain. A
// configured region overrides the chain's, and an endpoint switches to
// path-style addressing for S3-compatible servers.
func newS3Client(ctx context.Context, cfg config.S3Config) (*s3.Client, error) {
	var loaders []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loaders = append(loaders, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		return nil, fmt.Errorf("pagecycle: load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, s3Endpoint(cfg.Endpoint)), nil
}

func s3Endpoint(endpoint string) func(*s3.Options) {
	return func(o *s3.Options) {
		if endpoint == "" {
			return
		}
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	}
}
