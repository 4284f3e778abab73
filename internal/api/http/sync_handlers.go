package http

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	ags "github.com/mind-engage/mindengage-grades/pkg/lti-ags-gradebook/gradebook"
)

type GradeSyncer interface {
	SyncGrade(ctx context.Context, oppID, participantID string) (ags.Score, error)
}

// LinkStore is the part of the passback store the registration handlers use.
type LinkStore interface {
	UpsertLink(ctx context.Context, link ags.LTILink) error
	MapUser(ctx context.Context, issuer, platformSub, localUserID string) error
	GetSyncStatus(ctx context.Context, oppID, participantID string) (ags.SyncStatus, error)
}

// POST /opportunities/{oppID}/participants/{participantID}/sync
func SyncGradeHandler(s GradeSyncer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		score, err := s.SyncGrade(r.Context(), chi.URLParam(r, "oppID"), chi.URLParam(r, "participantID"))
		if err != nil {
			if isClientError(err) {
				writeError(w, r, err)
				return
			}
			writeJSON(w, http.StatusBadGateway, errorBody{Error: "sync_failed", Detail: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status":           ags.SyncOK,
			"score_given":      score.ScoreGiven,
			"score_maximum":    score.ScoreMaximum,
			"grading_progress": score.GradingProgress,
		})
	}
}

// GET /opportunities/{oppID}/participants/{participantID}/sync
func SyncStatusHandler(st LinkStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, err := st.GetSyncStatus(r.Context(), chi.URLParam(r, "oppID"), chi.URLParam(r, "participantID"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, status)
	}
}

// POST /courses/{courseID}/lti/link
func LinkCourseHandler(st LinkStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Issuer         string   `json:"issuer" validate:"required"`
			DeploymentID   string   `json:"deployment_id" validate:"required"`
			ContextID      string   `json:"context_id" validate:"required"`
			ResourceLinkID string   `json:"resource_link_id" validate:"required"`
			LineItemsURL   string   `json:"lineitems_url" validate:"required,url"`
			Scopes         []string `json:"scopes,omitempty"`
		}
		if !decode(w, r, &req) {
			return
		}
		link := ags.LTILink{
			CourseID:       strings.TrimSpace(chi.URLParam(r, "courseID")),
			PlatformIssuer: req.Issuer,
			DeploymentID:   req.DeploymentID,
			ContextID:      req.ContextID,
			ResourceLinkID: req.ResourceLinkID,
			LineItemsURL:   req.LineItemsURL,
			Scopes:         req.Scopes,
		}
		if err := st.UpsertLink(r.Context(), link); err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// POST /lti/users  { "issuer": "...", "platform_sub": "...", "participant_id": "..." }
func MapUserHandler(st LinkStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Issuer        string `json:"issuer" validate:"required"`
			PlatformSub   string `json:"platform_sub" validate:"required"`
			ParticipantID string `json:"participant_id" validate:"required"`
		}
		if !decode(w, r, &req) {
			return
		}
		if err := st.MapUser(r.Context(), req.Issuer, req.PlatformSub, req.ParticipantID); err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
