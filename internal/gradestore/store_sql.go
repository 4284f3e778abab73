package gradestore

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/mind-engage/mindengage-grades/internal/grades"
	syncx "github.com/mind-engage/mindengage-grades/internal/sync"
)

type SQLStore struct {
	db     *sql.DB
	driver string // "sqlite" or "postgres"
	events *syncx.EventRepo
	now    func() time.Time
}

func NewSQLStore(db *sql.DB, driver string, events *syncx.EventRepo) *SQLStore {
	return &SQLStore{db: db, driver: driver, events: events, now: time.Now}
}

// WithClock sets the clock used for changes recorded without a grade time.
func (s *SQLStore) WithClock(now func() time.Time) *SQLStore {
	cp := *s
	cp.now = now
	return &cp
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

const oppColumns = `id, course_id, identifier, name, flow_id, aggregation_strategy, due_time, creation_time, shown_in_grade_book`

func (s *SQLStore) CreateOpportunity(ctx context.Context, o grades.Opportunity) (grades.Opportunity, error) {
	o, err := prepareOpportunity(o, s.now())
	if err != nil {
		return grades.Opportunity{}, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return grades.Opportunity{}, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `INSERT INTO grading_opportunities (`+oppColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		o.ID, o.CourseID, o.Identifier, o.Name, nullString(o.FlowID), string(o.AggregationStrategy),
		nullTime(o.DueTime), o.CreationTime.UnixNano(), o.ShownInGradeBook)
	if err != nil {
		if isUniqueViolation(err) {
			return grades.Opportunity{}, ErrConflict
		}
		return grades.Opportunity{}, err
	}
	if s.events != nil {
		if err := s.events.AppendJSON(ctx, tx, syncx.TypeOpportunityCreated, o.ID, o); err != nil {
			return grades.Opportunity{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return grades.Opportunity{}, err
	}
	return o, nil
}

func (s *SQLStore) GetOpportunity(ctx context.Context, id string) (grades.Opportunity, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+oppColumns+` FROM grading_opportunities WHERE id=$1`, id)
	return scanOpportunity(row)
}

func (s *SQLStore) FindFlowOpportunity(ctx context.Context, courseID, flowID string) (grades.Opportunity, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+oppColumns+` FROM grading_opportunities
		WHERE course_id=$1 AND flow_id=$2`, courseID, flowID)
	return scanOpportunity(row)
}

func (s *SQLStore) ListOpportunities(ctx context.Context, courseID string) ([]grades.Opportunity, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+oppColumns+` FROM grading_opportunities
		WHERE course_id=$1 ORDER BY identifier`, courseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []grades.Opportunity
	for rows.Next() {
		o, err := scanOpportunity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortOpportunities(out)
	return out, nil
}

const changeColumns = `id, opportunity_id, participant_id, state, attempt_id, points, max_points, comment, due_time, creator, grade_time, flow_session_id`

// AppendChange validates c, checks it is newer than the pair's last change,
// runs checks against the stored log and records it together with an
// outbound GradeChangeRecorded event.
func (s *SQLStore) AppendChange(ctx context.Context, c grades.Change, checks ...AppendCheck) (grades.Change, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return grades.Change{}, err
	}
	defer tx.Rollback()

	lockQ := `SELECT id FROM grading_opportunities WHERE id=$1`
	if s.driver == "postgres" {
		// serializes appends per opportunity; sqlite runs a single connection
		lockQ += ` FOR UPDATE`
	}
	var oppID string
	if err := tx.QueryRowContext(ctx, lockQ, c.OpportunityID).Scan(&oppID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return grades.Change{}, ErrNotFound
		}
		return grades.Change{}, err
	}

	prior, err := listChanges(ctx, tx, c.OpportunityID, c.ParticipantID)
	if err != nil {
		return grades.Change{}, err
	}
	var latest *time.Time
	if n := len(prior); n > 0 {
		t := prior[n-1].GradeTime
		latest = &t
	}

	c, err = prepareChange(c, s.now(), latest)
	if err != nil {
		return grades.Change{}, err
	}
	// stored precision is nanoseconds since epoch
	c.GradeTime = time.Unix(0, c.GradeTime.UnixNano()).UTC()
	if err := runChecks(checks, prior, c); err != nil {
		return grades.Change{}, err
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO grade_changes (`+changeColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		c.ID, c.OpportunityID, c.ParticipantID, string(c.State), nullString(c.AttemptID),
		nullFloat(c.Points), c.MaxPoints, nullString(c.Comment), nullTime(c.DueTime),
		nullString(c.Creator), c.GradeTime.UnixNano(), nullString(c.FlowSessionID))
	if err != nil {
		if isUniqueViolation(err) {
			return grades.Change{}, ErrConflict
		}
		return grades.Change{}, err
	}
	if s.events != nil {
		key := c.OpportunityID + "/" + c.ParticipantID
		if err := s.events.AppendJSON(ctx, tx, syncx.TypeGradeChangeRecorded, key, c); err != nil {
			return grades.Change{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return grades.Change{}, err
	}
	return c, nil
}

func (s *SQLStore) ListChanges(ctx context.Context, opportunityID, participantID string) ([]grades.Change, error) {
	return listChanges(ctx, s.db, opportunityID, participantID)
}

func listChanges(ctx context.Context, q queryer, opportunityID, participantID string) ([]grades.Change, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+changeColumns+` FROM grade_changes
		WHERE opportunity_id=$1 AND participant_id=$2
		ORDER BY grade_time`, opportunityID, participantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []grades.Change
	for rows.Next() {
		c, err := scanChange(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLStore) ListParticipants(ctx context.Context, opportunityID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT participant_id FROM grade_changes
		WHERE opportunity_id=$1 ORDER BY participant_id`, opportunityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOpportunity(row scanner) (grades.Opportunity, error) {
	var (
		o        grades.Opportunity
		flowID   sql.NullString
		strategy string
		due      sql.NullInt64
		created  int64
	)
	if err := row.Scan(&o.ID, &o.CourseID, &o.Identifier, &o.Name, &flowID, &strategy, &due, &created, &o.ShownInGradeBook); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return grades.Opportunity{}, ErrNotFound
		}
		return grades.Opportunity{}, err
	}
	o.FlowID = flowID.String
	o.AggregationStrategy = grades.AggregationStrategy(strategy)
	o.DueTime = timeFromNull(due)
	o.CreationTime = time.Unix(0, created).UTC()
	return o, nil
}

func scanChange(row scanner) (grades.Change, error) {
	var c grades.Change
	var state string
	var attempt, comment, creator, flowSession sql.NullString
	var points sql.NullFloat64
	var due sql.NullInt64
	var gradeTime int64
	if err := row.Scan(&c.ID, &c.OpportunityID, &c.ParticipantID, &state, &attempt, &points, &c.MaxPoints,
		&comment, &due, &creator, &gradeTime, &flowSession); err != nil {
		return grades.Change{}, err
	}
	// stored states are not re-validated here; the reducer rejects unknown ones
	c.State = grades.ChangeState(state)
	c.AttemptID = attempt.String
	if points.Valid {
		v := points.Float64
		c.Points = &v
	}
	c.Comment = comment.String
	c.DueTime = timeFromNull(due)
	c.Creator = creator.String
	c.GradeTime = time.Unix(0, gradeTime).UTC()
	c.FlowSessionID = flowSession.String
	return c, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func timeFromNull(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.Unix(0, n.Int64).UTC()
	return &t
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint failed") || // sqlite
		strings.Contains(msg, "constraint failed: unique")
}

var _ Store = (*SQLStore)(nil)
