// README: Infrastructure providers with connection teardown on stop.
package infra

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"

	"nelo/internal/config"
)

// Module provides the Postgres pool, the Redis client and the Firebase app,
// closing connections when the app stops.
var Module = fx.Options(
	fx.Provide(
		provideDB,
		provideRedis,
		provideFirebaseApp,
		NewFirebaseVerifier,
	),
)

func provideDB(ctx context.Context, lc fx.Lifecycle, cfg *config.Config) (*DB, error) {
	db, err := NewDB(ctx, cfg.DB.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	lc.Append(fx.StopHook(db.Close))
	return db, nil
}

func provideRedis(ctx context.Context, lc fx.Lifecycle, cfg *config.Config) (*redis.Client, error) {
	client, err := NewRedis(ctx, cfg.Redis.Addr)
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	lc.Append(fx.StopHook(client.Close))
	return client, nil
}

func provideFirebaseApp(ctx context.Context, cfg *config.Config) (*firebase.App, error) {
	return NewFirebaseApp(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile)
}
