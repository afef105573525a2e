package services

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/JalejandroV93/student-tracking-sub001/models"
	"github.com/JalejandroV93/student-tracking-sub001/utils"
)

// Column names expected in the import file header.
const (
	ColExternalID    = "id"
	ColStudentCode   = "student_code"
	ColStudentName   = "student_name"
	ColSection       = "section"
	ColCreatedAt     = "created_at"
	ColIncidentDate  = "incident_date"
	ColConductEntry  = "conduct_entry"
	ColDescription   = "description"
	ColRemedyActions = "remedy_actions"
	ColAuthor        = "author"
	ColLastEditedAt  = "last_edited_at"
	ColLastEditor    = "last_editor"
)

// ImportRow is one parsed line of the delimited import file. It only lives
// for the duration of a single run.
type ImportRow struct {
	Line   int
	Values map[string]string
}

func (r ImportRow) get(col string) string {
	return utils.SanitizeInput(r.Values[col])
}

// RowError reports a per-row validation or resolution failure. The batch
// continues past it.
type RowError struct {
	Row     int    `json:"row"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

// NormalizedRecord is a validated, canonicalized import row. Period and
// student assignment happen later in the pipeline.
type NormalizedRecord struct {
	ExternalID    int64
	StudentCode   string
	StudentName   string
	Section       string
	Level         models.AcademicLevel
	RawCreatedAt  string
	IncidentDate  *time.Time
	FaultNumber   *int
	Description   string
	RemedyActions string
	Author        string
	LastEditedAt  *time.Time
	LastEditor    *string
	ContentHash   string
}

// ContentHash derives the deduplication fingerprint of a record. The raw,
// unparsed creation-date string is hashed on purpose: parsing or
// reformatting it must not change the identity of an otherwise identical
// row on a later re-import.
func ContentHash(studentCode, rawCreatedAt, description, remedyActions string) string {
	sum := sha256.Sum256([]byte(studentCode + "_" + rawCreatedAt + "_" + description + "_" + remedyActions))
	return hex.EncodeToString(sum[:])
}

var faultNumberPattern = regexp.MustCompile(`^\s*(\d+)`)

// ExtractFaultNumber pulls the leading code-of-conduct numeral out of the
// free-text conduct field. Absence is not an error.
func ExtractFaultNumber(conductEntry string) *int {
	match := faultNumberPattern.FindStringSubmatch(conductEntry)
	if match == nil {
		return nil
	}
	n, err := strconv.Atoi(match[1])
	if err != nil {
		return nil
	}
	return &n
}

// NormalizeRow validates and canonicalizes a raw import row. overrides maps
// section labels to levels from the section_levels table and wins over the
// built-in table. A nil return error means the record is ready for period
// and student resolution.
func NormalizeRow(row ImportRow, overrides map[string]models.AcademicLevel) (*NormalizedRecord, *RowError) {
	externalRaw := row.get(ColExternalID)
	if externalRaw == "" {
		return nil, &RowError{Row: row.Line, Field: ColExternalID, Message: "external id is required"}
	}
	externalID, err := strconv.ParseInt(externalRaw, 10, 64)
	if err != nil {
		return nil, &RowError{Row: row.Line, Field: ColExternalID, Message: fmt.Sprintf("external id %q is not numeric", externalRaw)}
	}

	code := row.get(ColStudentCode)
	if code == "" {
		return nil, &RowError{Row: row.Line, Field: ColStudentCode, Message: "student code is required"}
	}
	if _, err := strconv.ParseInt(code, 10, 64); err != nil {
		return nil, &RowError{Row: row.Line, Field: ColStudentCode, Message: fmt.Sprintf("student code %q is not numeric", code)}
	}

	rawCreatedAt := row.get(ColCreatedAt)
	if rawCreatedAt == "" {
		return nil, &RowError{Row: row.Line, Field: ColCreatedAt, Message: "creation date is required"}
	}
	if _, ok := decomposeDateToken(rawCreatedAt); !ok {
		return nil, &RowError{Row: row.Line, Field: ColCreatedAt, Message: fmt.Sprintf("creation date %q is not a recognizable date", rawCreatedAt)}
	}

	incidentRaw := row.get(ColIncidentDate)
	if incidentRaw == "" {
		return nil, &RowError{Row: row.Line, Field: ColIncidentDate, Message: "incident date is required"}
	}
	incidentDate := parseLooseDate(incidentRaw)
	if incidentDate == nil {
		return nil, &RowError{Row: row.Line, Field: ColIncidentDate, Message: fmt.Sprintf("incident date %q is not a recognizable date", incidentRaw)}
	}

	description := row.get(ColDescription)
	if description == "" {
		return nil, &RowError{Row: row.Line, Field: ColDescription, Message: "description is required"}
	}

	remedyActions := row.get(ColRemedyActions)
	section := row.get(ColSection)

	var lastEditor *string
	if editor := row.get(ColLastEditor); editor != "" {
		lastEditor = &editor
	}

	return &NormalizedRecord{
		ExternalID:    externalID,
		StudentCode:   code,
		StudentName:   row.get(ColStudentName),
		Section:       section,
		Level:         LevelForSection(section, overrides),
		RawCreatedAt:  rawCreatedAt,
		IncidentDate:  incidentDate,
		FaultNumber:   ExtractFaultNumber(row.get(ColConductEntry)),
		Description:   description,
		RemedyActions: remedyActions,
		Author:        row.get(ColAuthor),
		LastEditedAt:  parseLooseDate(row.get(ColLastEditedAt)),
		LastEditor:    lastEditor,
		ContentHash:   ContentHash(code, rawCreatedAt, description, remedyActions),
	}, nil
}

// sectionLevelTable collapses the school's section labels into the five
// level categories. Grade sections (1A..11C) are filled in by init.
var sectionLevelTable = map[string]models.AcademicLevel{
	"prejardin":  models.LevelPreschool,
	"prejardín":  models.LevelPreschool,
	"jardin":     models.LevelPreschool,
	"jardín":     models.LevelPreschool,
	"transicion": models.LevelPreschool,
	"transición": models.LevelPreschool,
	"preschool":  models.LevelPreschool,
	"pk":         models.LevelPreschool,
	"k":          models.LevelPreschool,
}

func init() {
	for grade := 1; grade <= 11; grade++ {
		level := models.LevelElementary
		switch {
		case grade >= 10:
			level = models.LevelHigh
		case grade >= 6:
			level = models.LevelMiddle
		}
		sectionLevelTable[strconv.Itoa(grade)] = level
		for _, group := range []string{"a", "b", "c"} {
			sectionLevelTable[strconv.Itoa(grade)+group] = level
		}
	}
}

// LevelForSection maps a section label to its academic level. Unrecognized
// sections map to the explicit unknown level instead of failing the row.
func LevelForSection(section string, overrides map[string]models.AcademicLevel) models.AcademicLevel {
	key := strings.ToLower(strings.TrimSpace(section))
	if key == "" {
		return models.LevelUnknown
	}
	if overrides != nil {
		if level, ok := overrides[key]; ok {
			return level
		}
	}
	if level, ok := sectionLevelTable[key]; ok {
		return level
	}
	return models.LevelUnknown
}
