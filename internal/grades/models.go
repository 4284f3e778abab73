package grades

import "time"

// Opportunity is a gradable activity within a course.
type Opportunity struct {
	ID                  string              `json:"id"`
	CourseID            string              `json:"course_id"`
	Identifier          string              `json:"identifier"` // lower_case_with_underscores
	Name                string              `json:"name"`
	FlowID              string              `json:"flow_id,omitempty"`
	AggregationStrategy AggregationStrategy `json:"aggregation_strategy"`
	DueTime             *time.Time          `json:"due_time,omitempty"`
	CreationTime        time.Time           `json:"creation_time"`
	ShownInGradeBook    bool                `json:"shown_in_grade_book"`
}

// Change is one record of the append-only grade change log for an
// (opportunity, participant) pair.
//
// Changes sharing an AttemptID are re-gradings of the same attempt; the later
// one supersedes the earlier.
type Change struct {
	ID            string      `json:"id"`
	OpportunityID string      `json:"opportunity_id"`
	ParticipantID string      `json:"participant_id"`
	State         ChangeState `json:"state"`
	AttemptID     string      `json:"attempt_id,omitempty"`
	Points        *float64    `json:"points,omitempty"`
	MaxPoints     float64     `json:"max_points"`
	Comment       string      `json:"comment,omitempty"`
	DueTime       *time.Time  `json:"due_time,omitempty"` // extension only
	Creator       string      `json:"creator,omitempty"`
	GradeTime     time.Time   `json:"grade_time"`
	FlowSessionID string      `json:"flow_session_id,omitempty"`
}

// Percentage returns 100*points/max_points, or false when the change carries
// no points.
func (c Change) Percentage() (float64, bool) {
	if c.Points == nil || c.MaxPoints <= 0 {
		return 0, false
	}
	return 100 * *c.Points / c.MaxPoints, true
}
