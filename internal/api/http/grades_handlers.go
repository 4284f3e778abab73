package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	authmw "github.com/mind-engage/mindengage-grades/internal/auth/middleware"
	"github.com/mind-engage/mindengage-grades/internal/gradebook"
	"github.com/mind-engage/mindengage-grades/internal/grades"
	"github.com/mind-engage/mindengage-grades/internal/gradestore"
)

// GradeService is what the grade handlers need from gradebook.Service.
type GradeService interface {
	Opportunity(ctx context.Context, id string) (grades.Opportunity, error)
	CreateOpportunity(ctx context.Context, o grades.Opportunity) (grades.Opportunity, error)
	EnsureFlowOpportunity(ctx context.Context, courseID, flowID string, desc gradestore.FlowDesc) (grades.Opportunity, bool, error)
	RecordChange(ctx context.Context, c grades.Change) (grades.Change, error)
	History(ctx context.Context, oppID, participantID string) ([]gradebook.AnnotatedChange, gradebook.Grade, error)
	CurrentGrade(ctx context.Context, oppID, participantID string) (gradebook.Grade, error)
	CourseBook(ctx context.Context, courseID string) (gradebook.Book, error)
	ExportTranscript(ctx context.Context, courseID string) (string, string, error)
}

// OwnsParticipant reports whether the caller is the participant named in the
// route. Used with rbac.RequireOwnerOr.
func OwnsParticipant(r *http.Request) bool {
	sub := authmw.SubjectFromContext(r.Context())
	return sub != "" && sub == chi.URLParam(r, "participantID")
}

type opportunityReq struct {
	CourseID            string     `json:"course_id" validate:"required"`
	Identifier          string     `json:"identifier" validate:"required,max=100"`
	Name                string     `json:"name" validate:"required,max=200"`
	FlowID              string     `json:"flow_id,omitempty"`
	AggregationStrategy string     `json:"aggregation_strategy"`
	DueTime             *time.Time `json:"due_time,omitempty"`
	ShownInGradeBook    *bool      `json:"shown_in_grade_book,omitempty"` // default true
}

// POST /opportunities
func CreateOpportunityHandler(svc GradeService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req opportunityReq
		if !decode(w, r, &req) {
			return
		}
		strategy := grades.AggregateMax
		if req.AggregationStrategy != "" {
			s, err := grades.ParseAggregationStrategy(req.AggregationStrategy)
			if err != nil {
				badRequest(w, err.Error())
				return
			}
			strategy = s
		}
		shown := true
		if req.ShownInGradeBook != nil {
			shown = *req.ShownInGradeBook
		}
		opp, err := svc.CreateOpportunity(r.Context(), grades.Opportunity{
			CourseID:            req.CourseID,
			Identifier:          req.Identifier,
			Name:                req.Name,
			FlowID:              req.FlowID,
			AggregationStrategy: strategy,
			DueTime:             req.DueTime,
			ShownInGradeBook:    shown,
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, opp)
	}
}

// POST /courses/{courseID}/flows/{flowID}/opportunity
func EnsureFlowOpportunityHandler(svc GradeService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		courseID := strings.TrimSpace(chi.URLParam(r, "courseID"))
		flowID := strings.TrimSpace(chi.URLParam(r, "flowID"))
		var req struct {
			Title               string `json:"title" validate:"required"`
			AggregationStrategy string `json:"aggregation_strategy"`
		}
		if !decode(w, r, &req) {
			return
		}
		desc := gradestore.FlowDesc{Title: req.Title, AggregationStrategy: grades.AggregateMax}
		if req.AggregationStrategy != "" {
			s, err := grades.ParseAggregationStrategy(req.AggregationStrategy)
			if err != nil {
				badRequest(w, err.Error())
				return
			}
			desc.AggregationStrategy = s
		}
		opp, created, err := svc.EnsureFlowOpportunity(r.Context(), courseID, flowID, desc)
		if err != nil {
			writeError(w, r, err)
			return
		}
		status := http.StatusOK
		if created {
			status = http.StatusCreated
		}
		writeJSON(w, status, opp)
	}
}

// GET /opportunities/{oppID}
func GetOpportunityHandler(svc GradeService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		opp, err := svc.Opportunity(r.Context(), chi.URLParam(r, "oppID"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, opp)
	}
}

type changeReq struct {
	State         string     `json:"state" validate:"required"`
	AttemptID     string     `json:"attempt_id,omitempty"`
	Points        *float64   `json:"points,omitempty" validate:"omitempty,gte=0"`
	MaxPoints     float64    `json:"max_points" validate:"gte=0"`
	Comment       string     `json:"comment,omitempty"`
	DueTime       *time.Time `json:"due_time,omitempty"`
	GradeTime     *time.Time `json:"grade_time,omitempty"` // defaults to now
	FlowSessionID string     `json:"flow_session_id,omitempty"`
}

// POST /opportunities/{oppID}/participants/{participantID}/changes
func RecordChangeHandler(svc GradeService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req changeReq
		if !decode(w, r, &req) {
			return
		}
		state, err := grades.ParseChangeState(req.State)
		if err != nil {
			badRequest(w, err.Error())
			return
		}
		c := grades.Change{
			OpportunityID: chi.URLParam(r, "oppID"),
			ParticipantID: chi.URLParam(r, "participantID"),
			State:         state,
			AttemptID:     req.AttemptID,
			Points:        req.Points,
			MaxPoints:     req.MaxPoints,
			Comment:       req.Comment,
			DueTime:       req.DueTime,
			Creator:       authmw.SubjectFromContext(r.Context()),
			FlowSessionID: req.FlowSessionID,
		}
		if req.GradeTime != nil {
			c.GradeTime = req.GradeTime.UTC()
		}
		saved, err := svc.RecordChange(r.Context(), c)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, saved)
	}
}

// GET /opportunities/{oppID}/participants/{participantID}/changes
func ListChangesHandler(svc GradeService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		changes, g, err := svc.History(r.Context(), chi.URLParam(r, "oppID"), chi.URLParam(r, "participantID"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"changes": changes, "grade": g})
	}
}

// GET /opportunities/{oppID}/participants/{participantID}/grade
func GetGradeHandler(svc GradeService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		g, err := svc.CurrentGrade(r.Context(), chi.URLParam(r, "oppID"), chi.URLParam(r, "participantID"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, g)
	}
}

// GET /courses/{courseID}/gradebook
//
// Responds with CSV when the client asks for text/csv.
func CourseBookHandler(svc GradeService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		book, err := svc.CourseBook(r.Context(), chi.URLParam(r, "courseID"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		if strings.Contains(r.Header.Get("Accept"), "text/csv") {
			w.Header().Set("Content-Type", "text/csv")
			_ = gradebook.WriteCSV(w, book)
			return
		}
		writeJSON(w, http.StatusOK, book)
	}
}

// POST /courses/{courseID}/gradebook/export
func ExportTranscriptHandler(svc GradeService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, url, err := svc.ExportTranscript(r.Context(), chi.URLParam(r, "courseID"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"key": key, "url": url})
	}
}
