// Package sqlstore implements gradebook.Store on database/sql. Queries use
// $N placeholders, which both pgx and modernc.org/sqlite accept.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/mind-engage/mindengage-grades/pkg/lti-ags-gradebook/gradebook"
)

type Store struct{ DB *sql.DB }

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return gradebook.ErrNotFound
	}
	return err
}

func (s *Store) UpsertLink(ctx context.Context, link gradebook.LTILink) error {
	var scopes any
	if link.Scopes != nil {
		b, err := json.Marshal(link.Scopes)
		if err != nil {
			return err
		}
		scopes = string(b)
	}
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO lti_links (course_id, platform_issuer, deployment_id, context_id, resource_link_id, lineitems_url, scopes)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (platform_issuer, deployment_id, context_id, resource_link_id)
		DO UPDATE SET
			course_id=EXCLUDED.course_id,
			lineitems_url=EXCLUDED.lineitems_url,
			scopes=EXCLUDED.scopes,
			updated_at=CURRENT_TIMESTAMP`,
		link.CourseID, link.PlatformIssuer, link.DeploymentID, link.ContextID, link.ResourceLinkID, link.LineItemsURL, scopes)
	return err
}

func (s *Store) GetLinkForCourse(ctx context.Context, courseID string) (gradebook.LTILink, error) {
	var link gradebook.LTILink
	var lineItems, scopes sql.NullString
	err := s.DB.QueryRowContext(ctx, `
		SELECT course_id, platform_issuer, deployment_id, context_id, resource_link_id, lineitems_url, scopes
		FROM lti_links
		WHERE course_id=$1
		ORDER BY updated_at DESC, id DESC LIMIT 1`, courseID).
		Scan(&link.CourseID, &link.PlatformIssuer, &link.DeploymentID, &link.ContextID, &link.ResourceLinkID, &lineItems, &scopes)
	if err != nil {
		return gradebook.LTILink{}, notFound(err)
	}
	link.LineItemsURL = lineItems.String
	if scopes.Valid {
		_ = json.Unmarshal([]byte(scopes.String), &link.Scopes)
	}
	return link, nil
}

func (s *Store) UpsertLineItem(ctx context.Context, li gradebook.GradebookLineItem) (gradebook.GradebookLineItem, error) {
	err := s.DB.QueryRowContext(ctx, `
		INSERT INTO gradebook_lineitems (opportunity_id, platform_issuer, deployment_id, context_id, resource_link_id, label, score_max, line_item_url)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (opportunity_id, platform_issuer, deployment_id, context_id)
		DO UPDATE SET
			resource_link_id=EXCLUDED.resource_link_id,
			label=EXCLUDED.label,
			score_max=EXCLUDED.score_max,
			line_item_url=EXCLUDED.line_item_url,
			updated_at=CURRENT_TIMESTAMP
		RETURNING id`,
		li.OpportunityID, li.PlatformIssuer, li.DeploymentID, li.ContextID, li.ResourceLinkID, li.Label, li.ScoreMax, li.LineItemURL).
		Scan(&li.ID)
	return li, err
}

func (s *Store) FindLineItem(ctx context.Context, oppID, issuer, dep, contextID string) (gradebook.GradebookLineItem, error) {
	var li gradebook.GradebookLineItem
	err := s.DB.QueryRowContext(ctx, `
		SELECT id, opportunity_id, platform_issuer, deployment_id, context_id, resource_link_id, label, score_max, line_item_url
		FROM gradebook_lineitems
		WHERE opportunity_id=$1 AND platform_issuer=$2 AND deployment_id=$3 AND context_id=$4`,
		oppID, issuer, dep, contextID).
		Scan(&li.ID, &li.OpportunityID, &li.PlatformIssuer, &li.DeploymentID, &li.ContextID, &li.ResourceLinkID, &li.Label, &li.ScoreMax, &li.LineItemURL)
	if err != nil {
		return gradebook.GradebookLineItem{}, notFound(err)
	}
	return li, nil
}

func (s *Store) MapUser(ctx context.Context, issuer, platformSub, localUserID string) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO lti_user_map (platform_issuer, platform_sub, local_user_id)
		VALUES ($1,$2,$3)
		ON CONFLICT (platform_issuer, platform_sub)
		DO UPDATE SET local_user_id=EXCLUDED.local_user_id`,
		issuer, platformSub, localUserID)
	return err
}

func (s *Store) GetPlatformUserID(ctx context.Context, issuer, localUserID string) (string, error) {
	var sub string
	err := s.DB.QueryRowContext(ctx,
		`SELECT platform_sub FROM lti_user_map WHERE platform_issuer=$1 AND local_user_id=$2`,
		issuer, localUserID).Scan(&sub)
	return sub, notFound(err)
}

func (s *Store) MarkSyncPending(ctx context.Context, oppID, participantID string) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO grade_sync_status (opportunity_id, participant_id, status, retries, updated_at)
		VALUES ($1,$2,'pending',0,CURRENT_TIMESTAMP)
		ON CONFLICT (opportunity_id, participant_id)
		DO UPDATE SET status='pending', updated_at=CURRENT_TIMESTAMP`,
		oppID, participantID)
	return err
}

func (s *Store) MarkSyncOK(ctx context.Context, oppID, participantID string) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE grade_sync_status
		   SET status='ok', last_error=NULL, updated_at=CURRENT_TIMESTAMP
		 WHERE opportunity_id=$1 AND participant_id=$2`, oppID, participantID)
	return err
}

func (s *Store) MarkSyncFailed(ctx context.Context, oppID, participantID, lastErr string) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO grade_sync_status (opportunity_id, participant_id, status, retries, last_error, updated_at)
		VALUES ($1,$2,'failed',1,$3,CURRENT_TIMESTAMP)
		ON CONFLICT (opportunity_id, participant_id)
		DO UPDATE SET
			status='failed',
			retries=grade_sync_status.retries+1,
			last_error=EXCLUDED.last_error,
			updated_at=CURRENT_TIMESTAMP`,
		oppID, participantID, lastErr)
	return err
}

func (s *Store) GetSyncStatus(ctx context.Context, oppID, participantID string) (gradebook.SyncStatus, error) {
	st := gradebook.SyncStatus{OpportunityID: oppID, ParticipantID: participantID}
	var lastErr sql.NullString
	err := s.DB.QueryRowContext(ctx, `
		SELECT status, retries, last_error, updated_at
		FROM grade_sync_status
		WHERE opportunity_id=$1 AND participant_id=$2`, oppID, participantID).
		Scan(&st.Status, &st.Retries, &lastErr, &st.UpdatedAt)
	if err != nil {
		return gradebook.SyncStatus{}, notFound(err)
	}
	st.LastError = lastErr.String
	return st, nil
}
