package services

import (
	"context"
	"database/sql/driver"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/JalejandroV93/student-tracking-sub001/models"
)

const importHeader = "id;student_code;student_name;section;created_at;incident_date;conduct_entry;description;remedy_actions;author\n"

func TestParseDelimited(t *testing.T) {
	content := "\xEF\xBB\xBF" + importHeader +
		"501;1234;Ana Gomez;7B;27/08/2025 10:00;26/08/2025;12;Tardiness;Verbal warning;Coord\n" +
		"\n" +
		"502;1235;Luis Rios;10A;28/08/2025 08:15;28/08/2025;;\"Disruption; repeated\";Note home;Coord\n"

	rows, err := ParseDelimited([]byte(content))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows want 2", len(rows))
	}
	if rows[0].Line != 1 || rows[1].Line != 2 {
		t.Errorf("unexpected line numbers %d, %d", rows[0].Line, rows[1].Line)
	}
	if got := rows[1].get(ColDescription); got != "Disruption; repeated" {
		t.Errorf("quoted field mishandled: %q", got)
	}
}

func TestParseDelimitedMissingColumn(t *testing.T) {
	content := "id;student_code;created_at;description\n1;2;3;4\n"
	_, err := ParseDelimited([]byte(content))
	if err == nil || !strings.Contains(err.Error(), "incident_date") {
		t.Fatalf("expected missing-column error, got %v", err)
	}
}

func TestParseDelimitedEmptyFile(t *testing.T) {
	for _, content := range []string{"", "\n\n", importHeader} {
		_, err := ParseDelimited([]byte(content))
		if !errors.Is(err, ErrImportEmptyFile) {
			t.Errorf("content %q: got %v want ErrImportEmptyFile", content, err)
		}
	}
}

func yearLookupSteps() []*queryStep {
	start := time.Date(2025, time.August, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, time.June, 15, 0, 0, 0, 0, time.UTC)
	trimEnd := time.Date(2025, time.October, 15, 0, 0, 0, 0, time.UTC)

	return []*queryStep{
		{
			kind:    kindQuery,
			pattern: regexp.MustCompile("SELECT .* FROM `academic_years` WHERE year_id"),
			args:    []driver.Value{int64(1)},
			columns: []string{"year_id", "name", "start_date", "end_date", "is_active"},
			rows:    [][]driver.Value{{int64(1), "2025-2026", start, end, true}},
		},
		{
			kind:    kindQuery,
			pattern: regexp.MustCompile("SELECT .* FROM `trimesters`"),
			args:    []driver.Value{int64(1)},
			columns: []string{"trimester_id", "academic_year_id", "sort_order", "name", "start_date", "end_date"},
			rows:    [][]driver.Value{{int64(11), int64(1), int64(1), "First Trimester", start, trimEnd}},
		},
		{
			kind:    kindQuery,
			pattern: regexp.MustCompile("SELECT .* FROM `academic_years` WHERE year_id <>"),
			args:    []driver.Value{int64(1)},
			columns: []string{"year_id", "name", "start_date", "end_date", "is_active"},
			rows:    [][]driver.Value{},
		},
		{
			kind:    kindQuery,
			pattern: regexp.MustCompile("SELECT .* FROM `section_levels`"),
			args:    []driver.Value{},
			columns: []string{"id", "section", "level"},
			rows:    [][]driver.Value{},
		},
	}
}

func TestPreviewOutcomeAccounting(t *testing.T) {
	newHash := ContentHash("1234", "27/08/2025 10:00", "Tardiness", "Verbal warning")
	dupHash := ContentHash("1234", "27/08/2025 11:00", "Phone use", "Confiscated")

	steps := append(yearLookupSteps(),
		&queryStep{
			kind:    kindQuery,
			pattern: regexp.MustCompile("SELECT .* FROM `students` WHERE code"),
			args:    []driver.Value{"1234"},
			columns: []string{"student_id", "code", "display_name"},
			rows:    [][]driver.Value{{int64(7), "1234", "Ana Gomez"}},
		},
		&queryStep{
			kind:    kindQuery,
			pattern: regexp.MustCompile("SELECT .* FROM `fault_records` WHERE content_hash"),
			args:    []driver.Value{newHash},
			columns: []string{"fault_id", "content_hash", "student_code", "description", "raw_created_at"},
			rows:    [][]driver.Value{},
		},
		&queryStep{
			kind:    kindQuery,
			pattern: regexp.MustCompile("SELECT .* FROM `fault_records` WHERE content_hash"),
			args:    []driver.Value{dupHash},
			columns: []string{"fault_id", "content_hash", "student_code", "description", "raw_created_at"},
			rows:    [][]driver.Value{{int64(42), dupHash, "1234", "Phone use", "27/08/2025 11:00"}},
		},
	)

	db, state, cleanup := newScriptedGormDB(t, steps)
	defer cleanup()

	content := importHeader +
		"501;1234;Ana Gomez;7B;27/08/2025 10:00;26/08/2025;12;Tardiness;Verbal warning;Coord\n" +
		"502;;Luis Rios;10A;27/08/2025 10:30;27/08/2025;;Disruption;Note home;Coord\n" +
		"503;1234;Ana Gomez;7B;27/08/2025 11:00;27/08/2025;;Phone use;Confiscated;Coord\n"

	svc := &ImportService{db: db}
	outcome, err := svc.Preview(context.Background(), &ImportInput{
		Content:        []byte(content),
		FaultType:      models.FaultTypeMinor,
		AcademicYearID: 1,
	})
	if err != nil {
		t.Fatalf("preview failed: %v", err)
	}

	if outcome.TotalRows != 3 {
		t.Errorf("total: got %d want 3", outcome.TotalRows)
	}
	if outcome.ProcessedRows != 1 || outcome.CreatedRows != 1 {
		t.Errorf("processed/created: got %d/%d want 1/1", outcome.ProcessedRows, outcome.CreatedRows)
	}
	if len(outcome.Duplicates) != 1 {
		t.Fatalf("duplicates: got %d want 1", len(outcome.Duplicates))
	}
	if len(outcome.Errors) != 1 {
		t.Fatalf("errors: got %d want 1", len(outcome.Errors))
	}
	if outcome.TotalRows != outcome.ProcessedRows+len(outcome.Duplicates)+len(outcome.Errors) {
		t.Error("accounting invariant violated")
	}
	if !outcome.Incomplete {
		t.Error("undecided duplicate must mark the outcome incomplete")
	}
	if outcome.TriggerSource != "api" {
		t.Errorf("trigger: got %s want api", outcome.TriggerSource)
	}

	dup := outcome.Duplicates[0]
	if dup.ContentHash != dupHash {
		t.Errorf("duplicate hash: got %s", dup.ContentHash)
	}
	if dup.Row != 3 {
		t.Errorf("duplicate row: got %d want 3", dup.Row)
	}
	if dup.Existing.Description != "Phone use" || dup.Incoming.Description != "Phone use" {
		t.Errorf("duplicate metadata mismatch: %+v", dup)
	}
	if outcome.Errors[0].Field != ColStudentCode {
		t.Errorf("error field: got %s", outcome.Errors[0].Field)
	}

	if err := state.verifyComplete(); err != nil {
		t.Fatalf("unexpected remaining steps: %v", err)
	}
}

func TestCommitDuplicatePolicies(t *testing.T) {
	hash := ContentHash("1234", "27/08/2025 11:00", "Phone use", "Confiscated")
	content := importHeader +
		"503;1234;Ana Gomez;7B;27/08/2025 11:00;27/08/2025;;Phone use;Confiscated;Coord\n"
	input := &ImportInput{
		Content:        []byte(content),
		FaultType:      models.FaultTypeMinor,
		AcademicYearID: 1,
		TriggerSource:  "email",
	}

	duplicateLookup := func() []*queryStep {
		return append(yearLookupSteps(),
			&queryStep{
				kind:    kindQuery,
				pattern: regexp.MustCompile("SELECT .* FROM `students` WHERE code"),
				args:    []driver.Value{"1234"},
				columns: []string{"student_id", "code", "display_name"},
				rows:    [][]driver.Value{{int64(7), "1234", "Ana Gomez"}},
			},
			&queryStep{
				kind:    kindQuery,
				pattern: regexp.MustCompile("SELECT .* FROM `fault_records` WHERE content_hash"),
				args:    []driver.Value{hash},
				columns: []string{"fault_id", "content_hash", "student_code", "description", "raw_created_at"},
				rows:    [][]driver.Value{{int64(42), hash, "1234", "Phone use", "27/08/2025 11:00"}},
			},
		)
	}

	t.Run("update edits metadata", func(t *testing.T) {
		steps := append(duplicateLookup(), &queryStep{
			kind:    kindExec,
			pattern: regexp.MustCompile("UPDATE `fault_records` SET"),
			result:  scriptedResult{rowsAffected: 1},
		})
		db, state, cleanup := newScriptedGormDB(t, steps)
		defer cleanup()

		svc := &ImportService{db: db}
		outcome, err := svc.Commit(context.Background(), input, map[string]DuplicatePolicy{hash: PolicyUpdate})
		if err != nil {
			t.Fatalf("commit failed: %v", err)
		}
		if outcome.ProcessedRows != 1 || outcome.UpdatedRows != 1 {
			t.Errorf("processed/updated: got %d/%d want 1/1", outcome.ProcessedRows, outcome.UpdatedRows)
		}
		if len(outcome.Duplicates) != 0 || outcome.Incomplete {
			t.Errorf("decided duplicate must leave the outcome complete: %+v", outcome)
		}
		if outcome.TriggerSource != "email" {
			t.Errorf("trigger: got %s want email", outcome.TriggerSource)
		}
		if err := state.verifyComplete(); err != nil {
			t.Fatalf("unexpected remaining steps: %v", err)
		}
	})

	t.Run("ignore keeps the candidate reported", func(t *testing.T) {
		db, state, cleanup := newScriptedGormDB(t, duplicateLookup())
		defer cleanup()

		svc := &ImportService{db: db}
		outcome, err := svc.Commit(context.Background(), input, map[string]DuplicatePolicy{hash: PolicyIgnore})
		if err != nil {
			t.Fatalf("commit failed: %v", err)
		}
		if outcome.ProcessedRows != 0 {
			t.Errorf("ignored duplicate must not count as processed: %d", outcome.ProcessedRows)
		}
		if len(outcome.Duplicates) != 1 {
			t.Fatalf("duplicates: got %d want 1", len(outcome.Duplicates))
		}
		if outcome.Incomplete {
			t.Error("an explicit ignore is a decision, the outcome is complete")
		}
		if outcome.TotalRows != outcome.ProcessedRows+len(outcome.Duplicates)+len(outcome.Errors) {
			t.Error("accounting invariant violated")
		}
		if err := state.verifyComplete(); err != nil {
			t.Fatalf("unexpected remaining steps: %v", err)
		}
	})
}

func TestCommitLostInsertRace(t *testing.T) {
	hash := ContentHash("1234", "27/08/2025 11:00", "Phone use", "Confiscated")
	content := importHeader +
		"503;1234;Ana Gomez;7B;27/08/2025 11:00;27/08/2025;;Phone use;Confiscated;Coord\n"
	input := &ImportInput{
		Content:        []byte(content),
		FaultType:      models.FaultTypeMinor,
		AcademicYearID: 1,
	}

	// The hash lookup misses, the insert loses to a concurrent import, and
	// the re-fetch finds the winner's row.
	raceSteps := func() []*queryStep {
		return append(yearLookupSteps(),
			&queryStep{
				kind:    kindQuery,
				pattern: regexp.MustCompile("SELECT .* FROM `students` WHERE code"),
				args:    []driver.Value{"1234"},
				columns: []string{"student_id", "code", "display_name"},
				rows:    [][]driver.Value{{int64(7), "1234", "Ana Gomez"}},
			},
			&queryStep{
				kind:    kindQuery,
				pattern: regexp.MustCompile("SELECT .* FROM `fault_records` WHERE content_hash"),
				args:    []driver.Value{hash},
				columns: []string{"fault_id", "content_hash", "student_code", "description", "raw_created_at"},
				rows:    [][]driver.Value{},
			},
			&queryStep{
				kind:    kindExec,
				pattern: regexp.MustCompile("INSERT INTO `fault_records`"),
				err:     errors.New("Error 1062 (23000): Duplicate entry '" + hash + "' for key 'fault_records.idx_content_hash'"),
			},
			&queryStep{
				kind:    kindQuery,
				pattern: regexp.MustCompile("SELECT .* FROM `fault_records` WHERE content_hash"),
				args:    []driver.Value{hash},
				columns: []string{"fault_id", "content_hash", "student_code", "description", "raw_created_at"},
				rows:    [][]driver.Value{{int64(42), hash, "1234", "Phone use", "27/08/2025 11:00"}},
			},
		)
	}

	t.Run("no policy flags the outcome incomplete", func(t *testing.T) {
		db, state, cleanup := newScriptedGormDB(t, raceSteps())
		defer cleanup()

		svc := &ImportService{db: db}
		outcome, err := svc.Commit(context.Background(), input, nil)
		if err != nil {
			t.Fatalf("commit failed: %v", err)
		}
		if len(outcome.Duplicates) != 1 || outcome.Duplicates[0].ContentHash != hash {
			t.Fatalf("duplicates: %+v", outcome.Duplicates)
		}
		if !outcome.Incomplete {
			t.Error("a raced duplicate without a policy must mark the outcome incomplete")
		}
		if outcome.ProcessedRows != 0 {
			t.Errorf("processed: got %d want 0", outcome.ProcessedRows)
		}
		if outcome.TotalRows != outcome.ProcessedRows+len(outcome.Duplicates)+len(outcome.Errors) {
			t.Error("accounting invariant violated")
		}
		if err := state.verifyComplete(); err != nil {
			t.Fatalf("unexpected remaining steps: %v", err)
		}
	})

	t.Run("update policy still edits metadata", func(t *testing.T) {
		steps := append(raceSteps(), &queryStep{
			kind:    kindExec,
			pattern: regexp.MustCompile("UPDATE `fault_records` SET"),
			result:  scriptedResult{rowsAffected: 1},
		})
		db, state, cleanup := newScriptedGormDB(t, steps)
		defer cleanup()

		svc := &ImportService{db: db}
		outcome, err := svc.Commit(context.Background(), input, map[string]DuplicatePolicy{hash: PolicyUpdate})
		if err != nil {
			t.Fatalf("commit failed: %v", err)
		}
		if outcome.ProcessedRows != 1 || outcome.UpdatedRows != 1 {
			t.Errorf("processed/updated: got %d/%d want 1/1", outcome.ProcessedRows, outcome.UpdatedRows)
		}
		if len(outcome.Duplicates) != 0 || outcome.Incomplete {
			t.Errorf("decided duplicate must leave the outcome complete: %+v", outcome)
		}
		if err := state.verifyComplete(); err != nil {
			t.Fatalf("unexpected remaining steps: %v", err)
		}
	})
}
