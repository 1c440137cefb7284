package main

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/md-rashed-zaman/slotkeeper/libs/config"
	"github.com/md-rashed-zaman/slotkeeper/libs/httpx"
	"github.com/md-rashed-zaman/slotkeeper/services/booking-service/internal/calendars"
	"github.com/md-rashed-zaman/slotkeeper/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotkeeper/services/booking-service/internal/secrets"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
)

// newSealer returns the token cipher. Without CALENDAR_TOKEN_KEY tokens are
// stored unencrypted, which is only acceptable for local runs.
func newSealer(logger *slog.Logger) (secrets.Sealer, error) {
	raw := config.String("CALENDAR_TOKEN_KEY", "")
	if raw == "" {
		logger.Warn("CALENDAR_TOKEN_KEY not set; calendar tokens are stored in plaintext")
		return secrets.Plaintext{}, nil
	}
	key, err := secrets.ParseKey(raw)
	if err != nil {
		return nil, err
	}
	return secrets.NewBox(key)
}

func newRedis(logger *slog.Logger) *redis.Client {
	addr := config.String("REDIS_ADDR", "")
	if addr == "" {
		return nil
	}
	logger.Info("redis configured", "addr", addr)
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: config.String("REDIS_PASSWORD", ""),
		DB:       config.Int("REDIS_DB", 0),
	})
}

func newRateLimit(rdb *redis.Client, logger *slog.Logger) httpx.Middleware {
	perMinute := config.Int("RATE_LIMIT_PER_MINUTE", 60)
	if rdb != nil {
		rl := httpx.NewRedisRateLimiter(rdb, perMinute, time.Minute, config.String("RATE_LIMIT_PREFIX", "rl"))
		logger.Info("rate limiting enabled (redis)", "per_minute", perMinute)
		return rl.Middleware(logger, config.Bool("RATE_LIMIT_FAIL_OPEN", true))
	}
	logger.Info("rate limiting enabled (in-memory)", "per_minute", perMinute)
	return httpx.NewRateLimiter(perMinute, time.Minute).Middleware()
}

func newCalendarHub(store calendars.CredentialStore, logger *slog.Logger) *calendars.Hub {
	client := &http.Client{
		Timeout:   config.Duration("CALENDAR_HTTP_TIMEOUT", 10*time.Second),
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}

	oauth := map[model.CalendarProvider]*oauth2.Config{}
	if id := config.String("GOOGLE_CLIENT_ID", ""); id != "" {
		oauth[model.ProviderGoogle] = &oauth2.Config{
			ClientID:     id,
			ClientSecret: config.String("GOOGLE_CLIENT_SECRET", ""),
			Endpoint:     endpoints.Google,
			Scopes:       []string{"https://www.googleapis.com/auth/calendar"},
		}
	}
	if id := config.String("MICROSOFT_CLIENT_ID", ""); id != "" {
		oauth[model.ProviderOutlook] = &oauth2.Config{
			ClientID:     id,
			ClientSecret: config.String("MICROSOFT_CLIENT_SECRET", ""),
			Endpoint:     endpoints.AzureAD(config.String("MICROSOFT_TENANT", "common")),
			Scopes:       []string{"offline_access", "Calendars.ReadWrite"},
		}
	}

	providers := map[model.CalendarProvider]calendars.Provider{
		model.ProviderGoogle:  calendars.NewGoogle(client),
		model.ProviderOutlook: calendars.NewOutlook(client),
	}
	return calendars.NewHub(store, providers, logger, calendars.HubConfig{
		FetchTimeout: config.Duration("CALENDAR_FETCH_TIMEOUT", 5*time.Second),
		Parallelism:  config.Int("CALENDAR_PARALLELISM", 4),
		OAuth:        oauth,
		TokenClient:  client,
	})
}

func newBusyCache(next calendars.BusySource, rdb *redis.Client, logger *slog.Logger) *calendars.CachedSource {
	return calendars.NewCachedSource(next, rdb, config.Duration("CALENDAR_CACHE_TTL", time.Minute), logger)
}
