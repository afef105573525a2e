package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/JalejandroV93/student-tracking-sub001/config"
	"github.com/JalejandroV93/student-tracking-sub001/models"

	"gorm.io/gorm"
)

var (
	ErrImportYearNotFound = errors.New("academic year not found")
	ErrImportEmptyFile    = errors.New("import file has no data rows")
)

// DuplicatePolicy is the caller's decision for one duplicate candidate.
type DuplicatePolicy string

const (
	PolicyIgnore DuplicatePolicy = "ignore"
	PolicyUpdate DuplicatePolicy = "update"
)

// ImportInput carries one import request end to end.
type ImportInput struct {
	Content        []byte
	FaultType      models.FaultType
	AcademicYearID uint
	TriggerSource  string
}

// RecordMeta is the edit metadata shown to the caller when deciding a
// duplicate candidate.
type RecordMeta struct {
	StudentCode     string     `json:"student_code"`
	Description     string     `json:"description"`
	RecordCreatedAt string     `json:"record_created_at"`
	LastEditedAt    *time.Time `json:"last_edited_at,omitempty"`
	LastEditor      *string    `json:"last_editor,omitempty"`
}

// DuplicateInfo is one duplicate candidate awaiting a policy decision.
type DuplicateInfo struct {
	Row         int        `json:"row"`
	ContentHash string     `json:"content_hash"`
	Existing    RecordMeta `json:"existing"`
	Incoming    RecordMeta `json:"incoming"`
}

// ImportOutcome reports a full import run. Every row lands in exactly one
// bucket: TotalRows == ProcessedRows + len(Duplicates) + len(Errors).
type ImportOutcome struct {
	// TriggerSource tells apart manual API imports from mailbox-driven ones,
	// the same way sync runs carry their trigger.
	TriggerSource string          `json:"trigger_source"`
	TotalRows     int             `json:"total_rows"`
	ProcessedRows int             `json:"processed_rows"`
	CreatedRows   int             `json:"created_rows"`
	UpdatedRows   int             `json:"updated_rows"`
	Duplicates    []DuplicateInfo `json:"duplicates"`
	Errors        []RowError      `json:"errors"`
	// Incomplete is set when duplicate candidates remain without a policy;
	// the caller is expected to review them and commit again.
	Incomplete bool `json:"incomplete"`
}

// ImportService drives the bulk import pipeline: parse, validate, normalize,
// resolve period, assign student, detect duplicates, persist.
type ImportService struct {
	db *gorm.DB
}

func NewImportService(db *gorm.DB) *ImportService {
	if db == nil {
		db = config.DB
	}
	return &ImportService{db: db}
}

// Preview runs the whole pipeline without writing fault records, returning
// the duplicate candidates and row errors a commit would encounter.
func (s *ImportService) Preview(ctx context.Context, input *ImportInput) (*ImportOutcome, error) {
	return s.run(ctx, input, nil, false)
}

// Commit persists the batch. Duplicate candidates are resolved through
// policyByHash (ignore or update); candidates without a policy are returned
// again and flag the outcome incomplete. Re-running the same file with the
// same policy is idempotent because the content hash is stable.
func (s *ImportService) Commit(ctx context.Context, input *ImportInput, policyByHash map[string]DuplicatePolicy) (*ImportOutcome, error) {
	return s.run(ctx, input, policyByHash, true)
}

func (s *ImportService) run(ctx context.Context, input *ImportInput, policyByHash map[string]DuplicatePolicy, persist bool) (*ImportOutcome, error) {
	if input == nil {
		return nil, errors.New("input is nil")
	}
	if !models.ValidFaultType(string(input.FaultType)) {
		return nil, fmt.Errorf("unknown fault type %q", input.FaultType)
	}

	rows, err := ParseDelimited(input.Content)
	if err != nil {
		return nil, err
	}

	assumed, others, err := s.loadYearPeriods(ctx, input.AcademicYearID)
	if err != nil {
		return nil, err
	}

	overrides, err := s.loadSectionOverrides(ctx)
	if err != nil {
		return nil, err
	}

	trigger := input.TriggerSource
	if trigger == "" {
		trigger = "api"
	}
	outcome := &ImportOutcome{
		TriggerSource: trigger,
		TotalRows:     len(rows),
		Duplicates:    []DuplicateInfo{},
		Errors:        []RowError{},
	}
	students := make(map[string]*models.Student)

	for _, row := range rows {
		rec, rowErr := NormalizeRow(row, overrides)
		if rowErr != nil {
			outcome.Errors = append(outcome.Errors, *rowErr)
			continue
		}

		resolution, unresolved := ResolvePeriod(rec.RawCreatedAt, assumed, others)
		if unresolved != nil {
			outcome.Errors = append(outcome.Errors, RowError{
				Row:     row.Line,
				Field:   ColCreatedAt,
				Message: unresolvedMessage(unresolved),
			})
			continue
		}
		if resolution.YearAdjusted {
			log.Printf("import row %d: date %q matched %s of year %s outside the selected year",
				row.Line, rec.RawCreatedAt, resolution.Trimester.Name, resolution.Year.Name)
		}

		student, err := s.resolveStudent(ctx, students, rec, persist)
		if err != nil {
			return nil, err
		}

		var existing models.FaultRecord
		lookupErr := s.db.WithContext(ctx).Where("content_hash = ?", rec.ContentHash).First(&existing).Error
		if lookupErr != nil && !errors.Is(lookupErr, gorm.ErrRecordNotFound) {
			return nil, lookupErr
		}

		if errors.Is(lookupErr, gorm.ErrRecordNotFound) {
			if !persist {
				outcome.ProcessedRows++
				outcome.CreatedRows++
				continue
			}

			fault := buildFaultRecord(rec, resolution, input.FaultType, student.ID)
			createErr := s.db.WithContext(ctx).Create(&fault).Error
			if createErr == nil {
				outcome.ProcessedRows++
				outcome.CreatedRows++
				continue
			}
			// The unique index on content_hash is the real dedup guarantee
			// under concurrent imports; a lost race becomes a candidate.
			if isDuplicateKeyError(createErr) {
				if err := s.db.WithContext(ctx).Where("content_hash = ?", rec.ContentHash).First(&existing).Error; err != nil {
					return nil, err
				}
				if err := s.settleDuplicate(ctx, outcome, policyByHash, rec, &existing, row.Line, persist); err != nil {
					return nil, err
				}
				continue
			}
			return nil, createErr
		}

		if err := s.settleDuplicate(ctx, outcome, policyByHash, rec, &existing, row.Line, persist); err != nil {
			return nil, err
		}
	}

	if persist {
		log.Printf("import via %s: %d rows, %d created, %d updated, %d duplicates, %d errors",
			trigger, outcome.TotalRows, outcome.CreatedRows, outcome.UpdatedRows,
			len(outcome.Duplicates), len(outcome.Errors))
	}

	return outcome, nil
}

// settleDuplicate applies the caller's policy for one duplicate candidate.
// It handles both duplicates found by the hash lookup and rows that lost the
// insert race to a concurrent import.
func (s *ImportService) settleDuplicate(ctx context.Context, outcome *ImportOutcome, policyByHash map[string]DuplicatePolicy, rec *NormalizedRecord, existing *models.FaultRecord, line int, persist bool) error {
	switch policyByHash[rec.ContentHash] {
	case PolicyUpdate:
		if persist {
			updates := map[string]interface{}{
				"last_edited_at": rec.LastEditedAt,
				"last_editor":    rec.LastEditor,
			}
			if err := s.db.WithContext(ctx).Model(&models.FaultRecord{}).
				Where("content_hash = ?", rec.ContentHash).
				Updates(updates).Error; err != nil {
				return err
			}
		}
		outcome.ProcessedRows++
		outcome.UpdatedRows++
	default:
		// No policy yet, or an explicit ignore: either way the candidate
		// is reported, never silently dropped.
		outcome.Duplicates = append(outcome.Duplicates, duplicateInfo(line, rec, existing))
		if _, decided := policyByHash[rec.ContentHash]; !decided {
			outcome.Incomplete = true
		}
	}
	return nil
}

func unresolvedMessage(unresolved *UnresolvedError) string {
	if unresolved.Reason == UnresolvedMalformed {
		return fmt.Sprintf("date %q is not recognizable in any supported format", unresolved.Token)
	}
	return fmt.Sprintf("date %q falls outside every configured period", unresolved.Token)
}

func duplicateInfo(line int, rec *NormalizedRecord, existing *models.FaultRecord) DuplicateInfo {
	return DuplicateInfo{
		Row:         line,
		ContentHash: rec.ContentHash,
		Existing: RecordMeta{
			StudentCode:     existing.StudentCode,
			Description:     existing.Description,
			RecordCreatedAt: existing.RawCreatedAt,
			LastEditedAt:    existing.LastEditedAt,
			LastEditor:      existing.LastEditor,
		},
		Incoming: RecordMeta{
			StudentCode:     rec.StudentCode,
			Description:     rec.Description,
			RecordCreatedAt: rec.RawCreatedAt,
			LastEditedAt:    rec.LastEditedAt,
			LastEditor:      rec.LastEditor,
		},
	}
}

func buildFaultRecord(rec *NormalizedRecord, resolution *PeriodResolution, faultType models.FaultType, studentID uint) models.FaultRecord {
	externalID := rec.ExternalID
	return models.FaultRecord{
		ContentHash:      rec.ContentHash,
		StudentID:        studentID,
		StudentCode:      rec.StudentCode,
		FaultType:        faultType,
		FaultNumber:      rec.FaultNumber,
		Description:      rec.Description,
		RemedyActions:    rec.RemedyActions,
		Author:           rec.Author,
		IncidentDate:     rec.IncidentDate,
		RecordCreatedAt:  resolution.Date,
		RawCreatedAt:     rec.RawCreatedAt,
		LastEditedAt:     rec.LastEditedAt,
		LastEditor:       rec.LastEditor,
		Section:          rec.Section,
		AcademicLevel:    rec.Level,
		TrimesterID:      resolution.Trimester.ID,
		AcademicYearID:   resolution.Year.ID,
		ExternalSourceID: &externalID,
	}
}

// resolveStudent finds or lazily creates the student a row belongs to. The
// id and code never change once created; only the display name is
// reconciled on later sightings.
func (s *ImportService) resolveStudent(ctx context.Context, cache map[string]*models.Student, rec *NormalizedRecord, persist bool) (*models.Student, error) {
	if student, ok := cache[rec.StudentCode]; ok {
		return student, nil
	}

	var student models.Student
	err := s.db.WithContext(ctx).Where("code = ?", rec.StudentCode).First(&student).Error
	if err == nil {
		if persist && rec.StudentName != "" && student.DisplayName != rec.StudentName {
			if err := s.db.WithContext(ctx).Model(&student).
				Update("display_name", rec.StudentName).Error; err != nil {
				return nil, err
			}
			student.DisplayName = rec.StudentName
		}
		cache[rec.StudentCode] = &student
		return &student, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	student = models.Student{Code: rec.StudentCode, DisplayName: rec.StudentName}
	if persist {
		if err := s.db.WithContext(ctx).Create(&student).Error; err != nil {
			return nil, err
		}
	}
	cache[rec.StudentCode] = &student
	return &student, nil
}

func (s *ImportService) loadYearPeriods(ctx context.Context, yearID uint) (YearPeriods, []YearPeriods, error) {
	var year models.AcademicYear
	query := s.db.WithContext(ctx)
	if yearID > 0 {
		query = query.Where("year_id = ?", yearID)
	} else {
		query = query.Where("is_active = ?", true)
	}
	if err := query.First(&year).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return YearPeriods{}, nil, ErrImportYearNotFound
		}
		return YearPeriods{}, nil, err
	}

	assumed, err := s.periodsForYear(ctx, year)
	if err != nil {
		return YearPeriods{}, nil, err
	}

	var otherYears []models.AcademicYear
	if err := s.db.WithContext(ctx).
		Where("year_id <> ?", year.ID).
		Order("start_date DESC").
		Find(&otherYears).Error; err != nil {
		return YearPeriods{}, nil, err
	}

	others := make([]YearPeriods, 0, len(otherYears))
	for _, other := range otherYears {
		yp, err := s.periodsForYear(ctx, other)
		if err != nil {
			return YearPeriods{}, nil, err
		}
		others = append(others, yp)
	}

	return assumed, others, nil
}

func (s *ImportService) periodsForYear(ctx context.Context, year models.AcademicYear) (YearPeriods, error) {
	var trimesters []models.Trimester
	if err := s.db.WithContext(ctx).
		Where("academic_year_id = ?", year.ID).
		Order("sort_order ASC").
		Find(&trimesters).Error; err != nil {
		return YearPeriods{}, err
	}
	return YearPeriods{Year: year, Trimesters: trimesters}, nil
}

func (s *ImportService) loadSectionOverrides(ctx context.Context) (map[string]models.AcademicLevel, error) {
	var rows []models.SectionLevel
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	overrides := make(map[string]models.AcademicLevel, len(rows))
	for _, row := range rows {
		overrides[strings.ToLower(strings.TrimSpace(row.Section))] = row.Level
	}
	return overrides, nil
}

func isDuplicateKeyError(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return err != nil && strings.Contains(err.Error(), "Duplicate entry")
}

// ParseDelimited reads the `;`-separated import payload. The first non-empty
// line is the header; required columns must all be present. Field order in
// the file does not matter.
func ParseDelimited(content []byte) ([]ImportRow, error) {
	content = bytes.TrimPrefix(content, []byte{0xEF, 0xBB, 0xBF})

	reader := csv.NewReader(bytes.NewReader(content))
	reader.Comma = ';'
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse import file: %w", err)
	}

	var header map[string]int
	var rows []ImportRow
	line := 0
	for _, record := range records {
		if emptyRecord(record) {
			continue
		}
		if header == nil {
			header = normalizeHeader(record)
			for _, col := range []string{ColExternalID, ColStudentCode, ColCreatedAt, ColIncidentDate, ColDescription} {
				if _, ok := header[col]; !ok {
					return nil, fmt.Errorf("import file is missing column %q", col)
				}
			}
			continue
		}

		line++
		values := make(map[string]string, len(header))
		for col, idx := range header {
			if idx < len(record) {
				values[col] = record[idx]
			}
		}
		rows = append(rows, ImportRow{Line: line, Values: values})
	}

	if header == nil || len(rows) == 0 {
		return nil, ErrImportEmptyFile
	}
	return rows, nil
}

func normalizeHeader(record []string) map[string]int {
	header := make(map[string]int, len(record))
	for idx, name := range record {
		key := strings.ToLower(strings.TrimSpace(name))
		if key != "" {
			header[key] = idx
		}
	}
	return header
}

func emptyRecord(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}
