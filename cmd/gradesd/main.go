package main

import (
	"context"
	"log"
	"net/http"
	"time"

	auth "github.com/mind-engage/mindengage-grades/internal/auth/middleware"
	"github.com/mind-engage/mindengage-grades/internal/cache"
	"github.com/mind-engage/mindengage-grades/internal/config"
	"github.com/mind-engage/mindengage-grades/internal/db"
	"github.com/mind-engage/mindengage-grades/internal/gradebook"
	"github.com/mind-engage/mindengage-grades/internal/gradestore"
	storage "github.com/mind-engage/mindengage-grades/internal/storage"
	syncx "github.com/mind-engage/mindengage-grades/internal/sync"
	"github.com/mind-engage/mindengage-grades/pkg/lti-ags-gradebook/agshttp"
	ags "github.com/mind-engage/mindengage-grades/pkg/lti-ags-gradebook/gradebook"
	"github.com/mind-engage/mindengage-grades/pkg/lti-ags-gradebook/sqlstore"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// --- DB ---
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dbh, err := db.Open(ctx, db.Driver(cfg.DBDriver), cfg.DBDSN)
	if err != nil {
		log.Fatalf("db open failed: %v", err)
	}
	defer dbh.Close()
	events := syncx.NewEventRepo(dbh).WithSite(cfg.SiteID).WithDriver(cfg.DBDriver)
	store := gradestore.NewSQLStore(dbh, cfg.DBDriver, events)

	// --- Grade summary cache (optional) ---
	var gradeCache gradebook.Cache
	if cfg.RedisAddr != "" {
		rc, err := cache.NewRedis(ctx, cache.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      cfg.CacheTTL,
		})
		if err != nil {
			// grades are always computable from the log; run uncached
			log.Printf("redis cache disabled: %v", err)
		} else {
			defer rc.Close()
			gradeCache = rc
		}
	}

	bs, err := storage.NewFSStore(cfg.BlobBasePath)
	if err != nil {
		log.Fatalf("blob store: %v", err)
	}

	svc := gradebook.NewService(store, gradebook.Options{
		Cache:          gradeCache,
		Blobs:          bs,
		Workers:        cfg.GradebookWorkers,
		MarkSuperseded: cfg.MarkSuperseded,
	})

	deps := routerDeps{
		Grades:      svc,
		Events:      events,
		Auth:        auth.NewAuthService(cfg.AuthHMACSecret),
		CORSOrigins: cfg.CORSOrigins(),
		Ready:       dbh.PingContext,
	}
	if cfg.EnableLocalAuth {
		deps.Login = &auth.LoginOptions{
			AdminUser:     cfg.AdminUser,
			AdminPassHash: cfg.AdminPassHash,
			DevUsers:      cfg.Mode == config.ModeOffline,
		}
	}

	// --- LTI AGS passback (feature-flagged) ---
	if cfg.EnableLTI {
		if err := ags.Migrate(ctx, dbh, cfg.DBDriver); err != nil {
			log.Fatalf("lti schema: %v", err)
		}
		links := &sqlstore.Store{DB: dbh}
		client := agshttp.New(agshttp.Config{
			TokenURL:     cfg.AGSTokenURL,
			ClientID:     cfg.AGSClientID,
			ClientSecret: cfg.AGSClientSecret,
			Timeout:      cfg.AGSTimeout,
		})
		deps.Syncer = ags.New(svc, links, client, nil)
		deps.Links = links
	}

	log.Printf("listening on %s (mode=%s, db=%s, cache=%t, lti=%t)",
		cfg.HTTPAddr, cfg.Mode, cfg.DBDriver, gradeCache != nil, cfg.EnableLTI)
	log.Fatal(http.ListenAndServe(cfg.HTTPAddr, newRouter(deps)))
}
