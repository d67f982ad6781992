// Package db selects and opens the subscriber registry backend.
package db

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog"

	"telegram-subscriber-notify/internal/config"
	"telegram-subscriber-notify/internal/domain"
	"telegram-subscriber-notify/internal/domain/ports/repository"
	"telegram-subscriber-notify/internal/infra/db/jsonfile"
	"telegram-subscriber-notify/internal/infra/db/postgres"
	"telegram-subscriber-notify/internal/infra/db/sqlite"
)

const (
	BackendJSONFile = "jsonfile"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

// Store is the registry chosen at startup plus the resources behind it.
type Store struct {
	Repo    repository.SubscriberRepository
	Backend string
	// Pool is set only for the postgres backend.
	Pool    *pgxpool.Pool
	closers []func() error
}

func (s *Store) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Open decides once which backend serves the registry: a database URL selects
// a relational backend, otherwise the JSON file is used. Never both.
func Open(ctx context.Context, dbCfg config.DatabaseConfig, stCfg config.StorageConfig, logger *zerolog.Logger) (*Store, error) {
	backend, dsn, err := Resolve(dbCfg.URL)
	if err != nil {
		return nil, err
	}
	l := logger.With().Str("backend", backend).Logger()

	switch backend {
	case BackendPostgres:
		pool, err := postgres.ConnectPostgres(ctx, dsn)
		if err != nil {
			return nil, err
		}
		repo := postgres.NewSubscriberRepo(pool, postgres.NewTxManager(pool), &l)
		if err := repo.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		l.Info().Msg("subscriber registry on postgres")
		return &Store{
			Repo:    repo,
			Backend: backend,
			Pool:    pool,
			closers: []func() error{func() error { pool.Close(); return nil }},
		}, nil

	case BackendSQLite:
		gdb, err := sqlite.OpenDB(dsn, &l)
		if err != nil {
			return nil, err
		}
		repo := sqlite.NewSubscriberRepo(gdb, &l)
		l.Info().Str("dsn", dsn).Msg("subscriber registry on sqlite")
		return &Store{Repo: repo, Backend: backend, closers: []func() error{repo.Close}}, nil

	default:
		repo := jsonfile.NewRegistry(stCfg.SubscribersFile, &l)
		l.Info().Str("path", stCfg.SubscribersFile).Msg("subscriber registry on json file")
		return &Store{Repo: repo, Backend: backend}, nil
	}
}

// Resolve maps a database URL onto a backend and the DSN that backend
// expects. SQLAlchemy-style driver suffixes ("postgresql+asyncpg://",
// "sqlite+aiosqlite:///") are accepted.
func Resolve(url string) (backend, dsn string, err error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return BackendJSONFile, "", nil
	}

	scheme, rest, hasScheme := strings.Cut(url, "://")
	if hasScheme {
		base, _, _ := strings.Cut(strings.ToLower(scheme), "+")
		switch base {
		case "postgres", "postgresql":
			return BackendPostgres, "postgres://" + rest, nil
		case "sqlite":
			// sqlite:///rel.db is relative, sqlite:////abs.db is absolute
			return BackendSQLite, strings.TrimPrefix(rest, "/"), nil
		default:
			return "", "", fmt.Errorf("database url scheme %q: %w", scheme, domain.ErrUnsupportedStorage)
		}
	}

	switch {
	case strings.HasPrefix(url, "file:"), url == ":memory:":
		return BackendSQLite, url, nil
	case strings.HasSuffix(strings.ToLower(strings.Split(url, "?")[0]), ".db"),
		strings.HasSuffix(strings.ToLower(strings.Split(url, "?")[0]), ".sqlite"):
		return BackendSQLite, url, nil
	}
	return "", "", fmt.Errorf("database url %q: %w", url, domain.ErrUnsupportedStorage)
}
