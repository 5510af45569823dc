package app

import (
	"context"
	"fmt"
	"net/http/cookiejar"
	"os"
	"path/filepath"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"labdash/cmd/internal/auth/credential"
	"labdash/cmd/security/sealing"
)

// credentialDeps is what buildCredentialStore opened and the app must close.
type credentialDeps struct {
	store *credential.Store
	jar   *cookiejar.Jar
	pool  *pgxpool.Pool
	rdb   *redis.Client
}

func (d credentialDeps) Close() {
	if d.rdb != nil {
		_ = d.rdb.Close()
	}
	if d.pool != nil {
		d.pool.Close()
	}
}

// buildCredentialStore wires the two durabilities: SESSION always lives in
// process memory; PERSISTENT uses the configured backend.
func buildCredentialStore(ctx context.Context, cfg Config, log Logger) (credentialDeps, error) {
	var deps credentialDeps

	durable, err := openDurableArea(ctx, cfg, log, &deps)
	if err != nil {
		deps.Close()
		return credentialDeps{}, err
	}

	opts := []credential.Option{
		credential.WithSessionArea(credential.NewMemoryArea()),
		credential.WithDurableArea(durable),
		credential.WithLogger(log),
	}

	if cfg.DashboardURL != "" {
		jar, err := cookiejar.New(nil)
		if err != nil {
			deps.Close()
			return credentialDeps{}, err
		}
		cookie, err := credential.NewCompanionCookie(jar, cfg.DashboardURL, cfg.CookieTTL)
		if err != nil {
			deps.Close()
			return credentialDeps{}, fmt.Errorf("%w: dashboard url: %v", ErrConfig, err)
		}
		deps.jar = jar
		opts = append(opts, credential.WithCompanionCookie(cookie))
	}

	deps.store = credential.NewStore(opts...)
	log.Info("credential.store.ready",
		"backend", cfg.CredentialBackend,
		"profile", cfg.Profile,
		"companion_cookie", deps.jar != nil,
	)
	return deps, nil
}

func openDurableArea(ctx context.Context, cfg Config, log Logger, deps *credentialDeps) (credential.Area, error) {
	switch cfg.CredentialBackend {
	case BackendMemory:
		log.Warn("credential.durable.memory", "note", "remembered sessions do not survive restart")
		return credential.NewMemoryArea(), nil

	case BackendFile:
		var sealer *sealing.Sealer
		if cfg.SealPassphrase != "" {
			scfg, err := sealing.FromEnv()
			if err != nil {
				return nil, err
			}
			sealer, err = sealing.New(scfg, cfg.SealPassphrase)
			if err != nil {
				return nil, err
			}
		}
		if err := os.MkdirAll(cfg.CredentialDir, 0o700); err != nil {
			return nil, fmt.Errorf("credential dir: %w", err)
		}
		area, err := credential.NewFileArea(filepath.Join(cfg.CredentialDir, cfg.Profile+".cred"), sealer)
		if err != nil {
			return nil, err
		}
		if !area.Sealed() {
			log.Warn("credential.file.unsealed", "dir", cfg.CredentialDir)
		}
		return area, nil

	case BackendRedis:
		ropts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("%w: redis url: %v", ErrConfig, err)
		}
		rdb := redis.NewClient(ropts)
		deps.rdb = rdb
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		return credential.NewRedisArea(rdb, cfg.Profile, credential.WithRedisTTL(cfg.RedisTTL))

	case BackendPostgres:
		pool, err := NewDBPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		deps.pool = pool
		area, err := credential.NewPostgresArea(pool, cfg.Profile, credential.WithSchema(cfg.DBSchema))
		if err != nil {
			return nil, err
		}
		if err := area.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("credential schema: %w", err)
		}
		return area, nil

	default:
		return nil, fmt.Errorf("%w: unknown credential backend %q", ErrConfig, cfg.CredentialBackend)
	}
}
