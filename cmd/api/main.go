package main

import (
	"database/sql"
	"net/http"

	_ "github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog/log"

	"pinintel/internal/adapters/geoapify"
	"pinintel/internal/adapters/google"
	server "pinintel/internal/adapters/http_server"
	"pinintel/internal/adapters/observability"
	"pinintel/internal/adapters/redisstore"
	"pinintel/internal/adapters/scrape"
	"pinintel/internal/adapters/unsplash"
	"pinintel/internal/adapters/websearch"
	"pinintel/internal/adapters/wikidata"
	"pinintel/internal/app"
	"pinintel/internal/domain"
	"pinintel/internal/shared"
	mediastore "pinintel/internal/storage/mysql"
)

func main() {
	cfg := shared.Load()

	// set global logger (console in dev, JSON otherwise)
	log.Logger = observability.NewLogger(cfg.AppEnv)

	observability.Serve()

	// db
	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("sql.Open failed")
	}
	if err := db.Ping(); err != nil {
		log.Fatal().Err(err).Msg("db.Ping failed")
	}
	log.Info().Msg("database connection ok")

	// stores
	media := mediastore.New(db, cfg.MediaBaseURL)
	redis := redisstore.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
	quota := redisstore.NewQuota(redis, cfg.PlacesQuota)

	// providers
	var places domain.PlacesClient
	if cfg.PlacesEnabled && cfg.PlacesKey != "" {
		p, err := google.New(cfg.PlacesBase, cfg.PlacesKey, 5)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize places client")
		}
		places = p
	}
	geo := geoapify.New(cfg.GeoapifyBase, cfg.GeoapifyKey, 5)
	var stock domain.StockPhotoSearcher
	if cfg.UnsplashKey != "" {
		stock = unsplash.New(cfg.UnsplashKey)
	}

	resolver := app.NewResolver(app.Deps{
		Places:    places,
		Geocoder:  geo,
		KG:        wikidata.New(cfg.WikidataBase),
		Search:    websearch.New(cfg.SearchBase, cfg.SearchKey),
		Scraper:   scrape.New(),
		Stock:     stock,
		StaticMap: geo,
		Cache:     redis,
		Quota:     quota,
		Blobs:     media,
	}, app.Options{
		PlacesEnabled: cfg.PlacesEnabled && places != nil,
		RadiusM:       cfg.PlacesRadiusM,
		MaxPhotos:     cfg.MaxPhotos,
		CacheTTLDays:  cfg.CacheTTLDays,
		TierTimeouts:  shared.TierTimeouts(),
	})

	// http
	srv := server.New()
	reg := observability.InitRegistry()
	srv.Mount("/metrics", observability.MetricsHandler(reg))
	srv.MountHandlers(&server.Handlers{R: resolver, Media: media})

	log.Info().Str("addr", cfg.HTTPAddr).Msg("API listening")
	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: srv.Mux()}

	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("http server failed")
	}
}
