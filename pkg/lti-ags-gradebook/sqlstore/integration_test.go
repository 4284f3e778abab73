package sqlstore_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mind-engage/mindengage-grades/pkg/lti-ags-gradebook/agshttp"
	gb "github.com/mind-engage/mindengage-grades/pkg/lti-ags-gradebook/gradebook"
	"github.com/mind-engage/mindengage-grades/pkg/lti-ags-gradebook/sqlstore"

	_ "modernc.org/sqlite" // driver for "sqlite"
)

type staticGrades struct{ g gb.Grade }

func (s staticGrades) PassbackGrade(_ context.Context, oppID, participantID string) (gb.Grade, error) {
	if oppID != s.g.OpportunityID || participantID != s.g.ParticipantID {
		return gb.Grade{}, gb.ErrNotFound
	}
	return s.g, nil
}

func seed(t *testing.T, st *sqlstore.Store, lineItemsURL string) {
	t.Helper()
	ctx := context.Background()
	if err := st.UpsertLink(ctx, gb.LTILink{
		CourseID: "course-1", PlatformIssuer: "iss-1", DeploymentID: "dep-1",
		ContextID: "ctx-1", ResourceLinkID: "rl-1",
		LineItemsURL: lineItemsURL, Scopes: []string{"lineitem", "score"},
	}); err != nil {
		t.Fatalf("seed lti_links: %v", err)
	}
	if err := st.MapUser(ctx, "iss-1", "platform-sub-123", "u1"); err != nil {
		t.Fatalf("seed lti_user_map: %v", err)
	}
}

func Test_EndToEnd_SQLite_WithHTTPAGS(t *testing.T) {
	ctx := context.Background()

	db, err := gb.ConnectAndMigrate(ctx, "sqlite", "file:ags-e2e?mode=memory&cache=shared")
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	st := &sqlstore.Store{DB: db}

	// Fake AGS server (token + lineitems + scores)
	var posted map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if err := r.ParseForm(); err != nil || r.PostForm.Get("grant_type") != "client_credentials" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"test-token","token_type":"Bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/lti/lineitems", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.Method {
		case http.MethodGet:
			_ = json.NewEncoder(w).Encode([]any{})
		case http.MethodPost:
			var in map[string]any
			_ = json.NewDecoder(r.Body).Decode(&in)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"id":             "http://" + r.Host + "/lti/lineitems/123",
				"label":          in["label"],
				"scoreMaximum":   in["scoreMaximum"],
				"resourceId":     in["resourceId"],
				"resourceLinkId": in["resourceLinkId"],
			})
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/lti/lineitems/123/scores", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.Header.Get("Content-Type") == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&posted)
		w.WriteHeader(http.StatusOK)
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	seed(t, st, ts.URL+"/lti/lineitems")

	ags := agshttp.New(agshttp.Config{
		TokenURL:     ts.URL + "/oauth/token",
		ClientID:     "x",
		ClientSecret: "y",
		Timeout:      5 * time.Second,
	})
	grades := staticGrades{gb.Grade{
		OpportunityID: "opp-1", CourseID: "course-1", Identifier: "quiz_1", Name: "Quiz 1",
		ParticipantID: "u1", Percentage: func() *float64 { v := 82.5; return &v }(),
	}}

	syncer := gb.New(grades, st, ags, time.Now)
	if _, err := syncer.SyncGrade(ctx, "opp-1", "u1"); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if posted["userId"] != "platform-sub-123" || posted["scoreGiven"] != 82.5 || posted["gradingProgress"] != "FullyGraded" {
		t.Fatalf("unexpected score payload: %v", posted)
	}

	li, err := st.FindLineItem(ctx, "opp-1", "iss-1", "dep-1", "ctx-1")
	if err != nil {
		t.Fatalf("line item not stored: %v", err)
	}
	if li.LineItemURL != ts.URL+"/lti/lineitems/123" || li.ScoreMax != 100 {
		t.Fatalf("unexpected line item %+v", li)
	}

	status, err := st.GetSyncStatus(ctx, "opp-1", "u1")
	if err != nil {
		t.Fatalf("sync status: %v", err)
	}
	if status.Status != gb.SyncOK || status.LastError != "" {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestStore_NotFound(t *testing.T) {
	ctx := context.Background()
	db, err := gb.ConnectAndMigrate(ctx, "sqlite", "file:ags-notfound?mode=memory&cache=shared")
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	st := &sqlstore.Store{DB: db}

	if _, err := st.GetLinkForCourse(ctx, "nope"); !errors.Is(err, gb.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := st.GetSyncStatus(ctx, "opp", "u"); !errors.Is(err, gb.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := st.MarkSyncFailed(ctx, "opp", "u", "boom"); err != nil {
		t.Fatal(err)
	}
	if err := st.MarkSyncFailed(ctx, "opp", "u", "boom again"); err != nil {
		t.Fatal(err)
	}
	status, err := st.GetSyncStatus(ctx, "opp", "u")
	if err != nil {
		t.Fatal(err)
	}
	if status.Status != gb.SyncFailed || status.Retries != 2 || status.LastError != "boom again" {
		t.Fatalf("unexpected status %+v", status)
	}
}
