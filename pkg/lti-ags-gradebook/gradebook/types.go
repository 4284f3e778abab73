// Package gradebook pushes reduced grades to an LTI platform through the
// Assignment and Grade Services (AGS) line item and score endpoints.
package gradebook

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound      = errors.New("gradebook: not found")
	ErrNoLink        = errors.New("gradebook: course has no LTI link")
	ErrNoUserMapping = errors.New("gradebook: no platform user mapping")
)

// Grade is what the passback needs to know about one participant's grade.
type Grade struct {
	OpportunityID string
	CourseID      string
	Identifier    string
	Name          string
	ParticipantID string
	Percentage    *float64 // nil while nothing is graded
	Comment       string
}

// GradeSource supplies reduced grades; the grades service implements it.
type GradeSource interface {
	PassbackGrade(ctx context.Context, oppID, participantID string) (Grade, error)
}

// LTILink is the launch context a course was linked to.
type LTILink struct {
	CourseID                                                string
	PlatformIssuer, DeploymentID, ContextID, ResourceLinkID string
	LineItemsURL                                            string
	Scopes                                                  []string
}

type GradebookLineItem struct {
	ID                                                                     int64
	OpportunityID, PlatformIssuer, DeploymentID, ContextID, ResourceLinkID string
	Label                                                                  string
	ScoreMax                                                               float64
	LineItemURL                                                            string // absolute URL
}

type SyncState string

const (
	SyncPending SyncState = "pending"
	SyncOK      SyncState = "ok"
	SyncFailed  SyncState = "failed"
)

type SyncStatus struct {
	OpportunityID string    `json:"opportunity_id"`
	ParticipantID string    `json:"participant_id"`
	Status        SyncState `json:"status"`
	Retries       int       `json:"retries"`
	LastError     string    `json:"last_error,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Store persists links, line items, user mappings and sync status. See
// sqlstore.Store for the database/sql implementation.
type Store interface {
	UpsertLink(ctx context.Context, link LTILink) error
	GetLinkForCourse(ctx context.Context, courseID string) (LTILink, error)

	UpsertLineItem(ctx context.Context, li GradebookLineItem) (GradebookLineItem, error)
	FindLineItem(ctx context.Context, oppID, issuer, dep, contextID string) (GradebookLineItem, error)

	MapUser(ctx context.Context, issuer, platformSub, localUserID string) error
	GetPlatformUserID(ctx context.Context, issuer, localUserID string) (string, error)

	MarkSyncPending(ctx context.Context, oppID, participantID string) error
	MarkSyncOK(ctx context.Context, oppID, participantID string) error
	MarkSyncFailed(ctx context.Context, oppID, participantID, lastErr string) error
	GetSyncStatus(ctx context.Context, oppID, participantID string) (SyncStatus, error)
}

type LineItem struct {
	ID, Label, ResourceID, ResourceLinkID string
	ScoreMaximum                          float64
}

type CreateLineItemReq struct {
	Label          string
	ScoreMaximum   float64
	ResourceID     string
	ResourceLinkID string
}

type Score struct {
	UserID, ActivityProgress, GradingProgress string
	ScoreGiven                                *float64 // omitted while pending
	ScoreMaximum                              float64
	Comment                                   string
	Timestamp                                 time.Time
}

type AGSClient interface {
	ListLineItems(ctx context.Context, lineItemsURL string, q map[string]string) ([]LineItem, error)
	CreateLineItem(ctx context.Context, lineItemsURL string, req CreateLineItemReq) (LineItem, error)
	PostScore(ctx context.Context, lineItemURL string, s Score) error
}
