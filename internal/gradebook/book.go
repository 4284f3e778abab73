package gradebook

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/mind-engage/mindengage-grades/internal/grades"
)

var ErrNoBlobStore = errors.New("gradebook: no blob store configured")

type Column struct {
	OpportunityID string `json:"opportunity_id"`
	Identifier    string `json:"identifier"`
	Name          string `json:"name"`
}

// Cell is one participant's grade on one opportunity. Error holds the
// reduction error kind when the change log could not be replayed.
type Cell struct {
	State      grades.ChangeState `json:"state,omitempty"`
	Percentage *float64           `json:"percentage,omitempty"`
	Display    string             `json:"display"`
	Error      string             `json:"error,omitempty"`
}

type Row struct {
	ParticipantID string `json:"participant_id"`
	Cells         []Cell `json:"cells"` // aligned with Book.Columns
}

type Book struct {
	CourseID string   `json:"course_id"`
	Columns  []Column `json:"columns"`
	Rows     []Row    `json:"rows"`
}

// CourseBook reduces every participant on every opportunity shown in the
// course's grade book. Reductions run in parallel; a log that fails to reduce
// marks its cell instead of failing the whole book.
func (s *Service) CourseBook(ctx context.Context, courseID string) (Book, error) {
	opps, err := s.store.ListOpportunities(ctx, courseID)
	if err != nil {
		return Book{}, fmt.Errorf("list opportunities: %w", err)
	}
	shown := opps[:0:0]
	for _, o := range opps {
		if o.ShownInGradeBook {
			shown = append(shown, o)
		}
	}

	book := Book{CourseID: courseID, Columns: make([]Column, len(shown)), Rows: []Row{}}
	participants := map[string]bool{}
	byOpp := make([][]string, len(shown))
	for i, o := range shown {
		book.Columns[i] = Column{OpportunityID: o.ID, Identifier: o.Identifier, Name: o.Name}
		ps, err := s.store.ListParticipants(ctx, o.ID)
		if err != nil {
			return Book{}, fmt.Errorf("list participants of %s: %w", o.ID, err)
		}
		byOpp[i] = ps
		for _, p := range ps {
			participants[p] = true
		}
	}
	ids := make([]string, 0, len(participants))
	for p := range participants {
		ids = append(ids, p)
	}
	sort.Strings(ids)
	rowOf := make(map[string]int, len(ids))
	for i, p := range ids {
		rowOf[p] = i
		cells := make([]Cell, len(shown))
		for j := range cells {
			cells[j] = Cell{Display: "-"}
		}
		book.Rows = append(book.Rows, Row{ParticipantID: p, Cells: cells})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for col, o := range shown {
		for _, p := range byOpp[col] {
			// each goroutine writes a distinct cell
			cell := &book.Rows[rowOf[p]].Cells[col]
			g.Go(func() error {
				grade, err := s.grade(gctx, o, p)
				if err != nil {
					if kind := grades.Kind(err); kind != "" {
						*cell = Cell{Display: "(error)", Error: kind}
						return nil
					}
					return err
				}
				*cell = Cell{State: grade.State, Percentage: grade.Percentage, Display: grade.Display}
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return Book{}, err
	}
	return book, nil
}

// ExportTranscript writes the course grade book as CSV to the blob store and
// returns its key and URL.
func (s *Service) ExportTranscript(ctx context.Context, courseID string) (string, string, error) {
	if s.blobs == nil {
		return "", "", ErrNoBlobStore
	}
	book, err := s.CourseBook(ctx, courseID)
	if err != nil {
		return "", "", err
	}
	var buf bytes.Buffer
	if err := WriteCSV(&buf, book); err != nil {
		return "", "", err
	}
	name := fmt.Sprintf("transcripts/%s/%s.csv", courseID, s.now().UTC().Format("20060102T150405Z"))
	key, err := s.blobs.Put(name, &buf)
	if err != nil {
		return "", "", fmt.Errorf("store transcript: %w", err)
	}
	url, err := s.blobs.SignedURL(key)
	if err != nil {
		return "", "", err
	}
	log.Printf("gradebook: exported transcript course=%s key=%s rows=%d", courseID, key, len(book.Rows))
	return key, url, nil
}

// WriteCSV renders book with one row per participant and one column per
// opportunity identifier.
func WriteCSV(w io.Writer, book Book) error {
	cw := csv.NewWriter(w)
	header := []string{"participant"}
	for _, c := range book.Columns {
		header = append(header, c.Identifier)
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, r := range book.Rows {
		rec := []string{r.ParticipantID}
		for _, c := range r.Cells {
			rec = append(rec, c.Display)
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
