package shared

import (
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

type Config struct {
	AppEnv      string
	HTTPAddr    string
	MetricsAddr string
	MySQLDSN    string
	RedisAddr   string
	RedisDB     int
	RedisPass   string

	// Paid places provider.
	PlacesEnabled bool
	PlacesBase    string
	PlacesKey     string
	PlacesRadiusM int
	PlacesQuota   int // per-client daily ceiling
	MaxPhotos     int

	// Secondary/backfill providers.
	GeoapifyBase string
	GeoapifyKey  string
	WikidataBase string
	SearchBase   string
	SearchKey    string
	UnsplashKey  string // empty disables the stock tier

	// Media re-hosting.
	MediaBaseURL string

	CacheTTLDays int
	Workers      int
}

func Load() Config {
	atoi := func(k string, def int) int {
		if v := os.Getenv(k); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				return n
			}
		}
		return def
	}
	c := Config{
		AppEnv:      env("APP_ENV", "prod"),
		HTTPAddr:    env("HTTP_ADDR", ":8080"),
		MetricsAddr: env("METRICS_ADDR", ":9100"),
		MySQLDSN:    env("MYSQL_DSN", "root:root@tcp(localhost:3306)/pinintel?parseTime=true&charset=utf8mb4,utf8&loc=UTC"),
		RedisAddr:   env("REDIS_ADDR", "localhost:6379"),
		RedisPass:   env("REDIS_PASSWORD", ""),
		RedisDB:     atoi("REDIS_DB", 0),

		PlacesEnabled: env("PLACES_ENABLED", "true") == "true",
		PlacesBase:    env("PLACES_BASE_URL", "https://maps.googleapis.com/maps/api/place"),
		PlacesKey:     env("PLACES_API_KEY", ""),
		PlacesRadiusM: atoi("PLACES_SEARCH_RADIUS_M", 100),
		PlacesQuota:   atoi("PLACES_DAILY_QUOTA", 50),
		MaxPhotos:     atoi("PLACES_MAX_PHOTOS", 3),

		GeoapifyBase: env("GEOAPIFY_BASE_URL", "https://api.geoapify.com"),
		GeoapifyKey:  env("GEOAPIFY_API_KEY", ""),
		WikidataBase: env("WIKIDATA_BASE_URL", "https://www.wikidata.org"),
		SearchBase:   env("WEBSEARCH_BASE_URL", "https://api.search.brave.com/res/v1"),
		SearchKey:    env("WEBSEARCH_API_KEY", ""),
		UnsplashKey:  env("UNSPLASH_ACCESS_KEY", ""),

		MediaBaseURL: env("MEDIA_BASE_URL", "http://localhost:8080/media"),

		CacheTTLDays: atoi("PLACE_CACHE_TTL_DAYS", 30),
		Workers:      atoi("WARM_WORKERS", 8),
	}
	if c.PlacesEnabled && c.PlacesKey == "" {
		log.Warn().Msg("PLACES_API_KEY is empty; paid tier will be skipped")
	}
	if c.UnsplashKey == "" {
		log.Info().Msg("UNSPLASH_ACCESS_KEY not set; stock photo tier disabled")
	}
	return c
}

// TierTimeouts returns per-tier ingest download timeouts. Slower third-party
// tiers get shorter budgets so they cannot stall the whole request.
func TierTimeouts() map[string]time.Duration {
	return map[string]time.Duration{
		"provider-photo":  8 * time.Second,
		"website":         6 * time.Second,
		"knowledge-graph": 6 * time.Second,
		"stock":           4 * time.Second,
	}
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
