package main

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"navigatum_sync/internal/adapters/cdn"
	redisad "navigatum_sync/internal/adapters/redis"
	"navigatum_sync/internal/app"
	"navigatum_sync/internal/domain"
	"navigatum_sync/internal/shared"
	mysqlrepo "navigatum_sync/internal/storage/mysql"
)

// deps holds the adapters one command invocation needs.
type deps struct {
	db    *sql.DB
	rdb   *goredis.Client // nil when REDIS_ADDR is empty
	repo  *mysqlrepo.Repo
	src   *cdn.Client
	cache domain.Cache
	lock  domain.RunLock
}

func openDB(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	log.Info().Msg("db ping ok")
	return db, nil
}

func newDeps(ctx context.Context, cfg shared.Config) (*deps, error) {
	db, err := openDB(ctx, cfg.MySQLDSN)
	if err != nil {
		return nil, err
	}
	d := &deps{db: db, repo: mysqlrepo.New(db)}

	d.src, err = cdn.New(cfg.CDNURL, cdn.Options{
		SnapshotPath: cfg.SnapshotPath,
		StatusPath:   cfg.StatusPath,
		Timeout:      cfg.FetchTimeout,
		RPS:          cfg.FetchRPS,
		Retries:      cfg.FetchRetries,
		RequireHash:  cfg.RequireHash,
	})
	if err != nil {
		d.close()
		return nil, err
	}

	if cfg.RedisAddr != "" {
		d.rdb = redisad.NewClient(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
		if err := d.rdb.Ping(ctx).Err(); err != nil {
			d.close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		d.cache = redisad.New(d.rdb)
		d.lock = redisad.NewLock(d.rdb, cfg.LockKey)
	}
	return d, nil
}

func (d *deps) close() {
	if d.rdb != nil {
		_ = d.rdb.Close()
	}
	_ = d.db.Close()
}

func (d *deps) syncService(cfg shared.Config) (*app.SyncService, error) {
	langs, err := cfg.HashLangs()
	if err != nil {
		return nil, err
	}
	return app.NewSyncService(d.src, d.repo, d.cache, d.lock, app.SyncOptions{
		Mode:            cfg.Mode(),
		ContinueOnError: cfg.ContinueOnError,
		HashLangs:       langs,
		ExtractScalars:  cfg.ExtractScalars,
		LockTTL:         cfg.LockTTL,
	}), nil
}

func (d *deps) statusService() *app.StatusService {
	return app.NewStatusService(d.src, d.repo)
}
