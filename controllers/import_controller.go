package controllers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/JalejandroV93/student-tracking-sub001/models"
	"github.com/JalejandroV93/student-tracking-sub001/services"

	"github.com/gin-gonic/gin"
)

const maxImportFileSize = 20 * 1024 * 1024

// readImportInput pulls the shared multipart fields of both import endpoints.
func readImportInput(c *gin.Context) (*services.ImportInput, bool) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Import file is required"})
		return nil, false
	}
	defer file.Close()

	if header.Size > maxImportFileSize {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Import file exceeds 20MB"})
		return nil, false
	}

	faultType := strings.TrimSpace(c.PostForm("fault_type"))
	if !models.ValidFaultType(faultType) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "fault_type must be minor, major or severe"})
		return nil, false
	}

	var yearID int
	if raw := strings.TrimSpace(c.PostForm("academic_year_id")); raw != "" {
		if yearID, err = strconv.Atoi(raw); err != nil || yearID <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid academic_year_id"})
			return nil, false
		}
	}

	content, err := io.ReadAll(io.LimitReader(file, maxImportFileSize+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read import file"})
		return nil, false
	}

	email, _ := c.Get("email")
	trigger, _ := email.(string)

	return &services.ImportInput{
		Content:        content,
		FaultType:      models.FaultType(faultType),
		AcademicYearID: uint(yearID),
		TriggerSource:  trigger,
	}, true
}

func writeImportError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrImportEmptyFile):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Import file has no data rows"})
	case errors.Is(err, services.ErrImportYearNotFound):
		c.JSON(http.StatusBadRequest, gin.H{"error": "No matching academic year"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// PreviewImport runs the import pipeline without persisting anything and
// returns the duplicates and row errors a commit would hit.
func PreviewImport(c *gin.Context) {
	input, ok := readImportInput(c)
	if !ok {
		return
	}

	outcome, err := services.NewImportService(nil).Preview(c.Request.Context(), input)
	if err != nil {
		writeImportError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "outcome": outcome})
}

// CommitImport persists the batch. The optional policy field maps a content
// hash to "ignore" or "update"; duplicates without a policy come back in the
// outcome with the incomplete flag set so the dashboard can re-prompt.
func CommitImport(c *gin.Context) {
	input, ok := readImportInput(c)
	if !ok {
		return
	}

	policies := map[string]services.DuplicatePolicy{}
	if raw := c.PostForm("policy"); raw != "" {
		var parsed map[string]string
		if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "policy must be a JSON object of hash to action"})
			return
		}
		for hash, action := range parsed {
			switch services.DuplicatePolicy(action) {
			case services.PolicyIgnore, services.PolicyUpdate:
				policies[hash] = services.DuplicatePolicy(action)
			default:
				c.JSON(http.StatusBadRequest, gin.H{"error": "policy actions must be ignore or update"})
				return
			}
		}
	}

	outcome, err := services.NewImportService(nil).Commit(c.Request.Context(), input, policies)
	if err != nil {
		writeImportError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "outcome": outcome})
}
