package controllers

import (
	"net/http"
	"strconv"

	"github.com/JalejandroV93/student-tracking-sub001/config"
	"github.com/JalejandroV93/student-tracking-sub001/models"

	"github.com/gin-gonic/gin"
)

// GetYears returns the academic years, newest first.
func GetYears(c *gin.Context) {
	var years []models.AcademicYear
	if err := config.DB.Order("start_date DESC").Find(&years).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to fetch academic years"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"years":   years,
	})
}

// GetTrimesters returns the periods of one academic year in order.
func GetTrimesters(c *gin.Context) {
	yearID, err := strconv.Atoi(c.Param("year_id"))
	if err != nil || yearID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid year id"})
		return
	}

	var trimesters []models.Trimester
	if err := config.DB.
		Where("academic_year_id = ?", yearID).
		Order("sort_order ASC").
		Find(&trimesters).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to fetch trimesters"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"trimesters": trimesters,
	})
}
