package main

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	api "github.com/mind-engage/mindengage-grades/internal/api/http"
	auth "github.com/mind-engage/mindengage-grades/internal/auth/middleware"
	rbac "github.com/mind-engage/mindengage-grades/internal/rbac"
)

type routerDeps struct {
	Grades      api.GradeService
	Events      api.EventFeed // optional
	Auth        *auth.AuthService
	Login       *auth.LoginOptions // nil disables local login
	CORSOrigins []string

	// LTI passback; both nil when disabled
	Syncer api.GradeSyncer
	Links  api.LinkStore

	Ready func(ctx context.Context) error
}

func newRouter(d routerDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "Accept"},
		ExposedHeaders:   []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if d.Login != nil {
		r.Post("/auth/login", auth.LoginHandler(d.Auth, *d.Login))
	}

	// Protected API (JWT → role in context → RBAC)
	r.Group(func(pr chi.Router) {
		pr.Use(auth.JWTMiddleware(d.Auth))

		pr.With(rbac.Require("opportunity:manage")).
			Post("/opportunities", api.CreateOpportunityHandler(d.Grades))
		pr.With(rbac.Require("opportunity:manage")).
			Post("/courses/{courseID}/flows/{flowID}/opportunity", api.EnsureFlowOpportunityHandler(d.Grades))
		pr.With(rbac.RequireAny("grades:view-own", "grades:view-all")).
			Get("/opportunities/{oppID}", api.GetOpportunityHandler(d.Grades))

		pr.Route("/opportunities/{oppID}/participants/{participantID}", func(pp chi.Router) {
			pp.With(rbac.Require("grades:record")).
				Post("/changes", api.RecordChangeHandler(d.Grades))
			pp.With(rbac.Require("grades:view-all")).
				Get("/changes", api.ListChangesHandler(d.Grades))
			// students see only their own grade
			pp.With(rbac.Require("grades:view-own"), rbac.RequireOwnerOr("grades:view-all", api.OwnsParticipant)).
				Get("/grade", api.GetGradeHandler(d.Grades))

			if d.Syncer != nil {
				pp.With(rbac.Require("grades:sync")).
					Post("/sync", api.SyncGradeHandler(d.Syncer))
				pp.With(rbac.Require("grades:sync")).
					Get("/sync", api.SyncStatusHandler(d.Links))
			}
		})

		pr.With(rbac.Require("grades:view-all")).
			Get("/courses/{courseID}/gradebook", api.CourseBookHandler(d.Grades))
		pr.With(rbac.Require("gradebook:export")).
			Post("/courses/{courseID}/gradebook/export", api.ExportTranscriptHandler(d.Grades))

		if d.Events != nil {
			pr.With(rbac.Require("events:read")).
				Get("/events", api.EventsHandler(d.Events))
		}

		if d.Links != nil {
			pr.With(rbac.Require("grades:sync")).
				Post("/courses/{courseID}/lti/link", api.LinkCourseHandler(d.Links))
			pr.With(rbac.Require("grades:sync")).
				Post("/lti/users", api.MapUserHandler(d.Links))
		}
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if d.Ready != nil {
			if err := d.Ready(r.Context()); err != nil {
				http.Error(w, "not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	})
	return r
}
