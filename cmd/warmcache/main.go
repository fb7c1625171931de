package main

import (
	"bufio"
	"context"
	"database/sql"
	"os"
	"strconv"
	"strings"
	"sync"

	_ "github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"pinintel/internal/adapters/geoapify"
	"pinintel/internal/adapters/google"
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

// warmcache resolves a batch of pins ahead of launch so the first real
// visitors hit a warm place cache. Input: a file of "lat,lon[,hint]" lines,
// one pin per line; # starts a comment.
func main() {
	ctx := context.Background()
	cfg := shared.Load()

	log.Logger = observability.NewLogger(cfg.AppEnv)

	if len(os.Args) < 2 {
		log.Fatal().Msg("usage: warmcache <pins-file>")
	}
	pins, err := readPins(os.Args[1])
	if err != nil {
		log.Fatal().Err(err).Msg("failed to read pins file")
	}
	log.Info().Int("pins", len(pins)).Int("workers", cfg.Workers).Msg("warmcache starting")

	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("sql.Open failed")
	}
	if err := db.Ping(); err != nil {
		log.Fatal().Err(err).Msg("db.Ping failed")
	}

	media := mediastore.New(db, cfg.MediaBaseURL)
	redis := redisstore.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
	quota := redisstore.NewQuota(redis, cfg.PlacesQuota)

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

	sem := semaphore.NewWeighted(int64(cfg.Workers))
	var wg sync.WaitGroup

	for _, p := range pins {
		// acquire before launching the goroutine; release inside it
		if err := sem.Acquire(ctx, 1); err != nil {
			log.Fatal().Err(err).Msg("semaphore acquire failed")
		}

		wg.Add(1)
		go func(p pin) {
			defer wg.Done()
			defer sem.Release(1)

			res, err := resolver.Resolve(ctx, p.at, p.hint, "warmcache")
			if err != nil {
				log.Warn().Str("at", p.at.String()).Err(err).Msg("warm failed")
				return
			}
			log.Info().
				Str("at", p.at.String()).
				Str("name", res.Place.Name).
				Int("images", len(res.Images)).
				Msg("warm ok")
		}(p)
	}

	wg.Wait()
	log.Info().Msg("warmcache completed")
}

type pin struct {
	at   domain.Coords
	hint string
}

func readPins(path string) ([]pin, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []pin
	sc := bufio.NewScanner(f)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, ",", 3)
		if len(parts) < 2 {
			log.Warn().Int("line", lineNo).Msg("skipping malformed pin line")
			continue
		}
		lat, err1 := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		lon, err2 := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err1 != nil || err2 != nil {
			log.Warn().Int("line", lineNo).Msg("skipping malformed pin line")
			continue
		}
		p := pin{at: domain.Coords{Lat: lat, Lon: lon}}
		if len(parts) == 3 {
			p.hint = strings.TrimSpace(parts[2])
		}
		out = append(out, p)
	}
	return out, sc.Err()
}
