package routes

import (
	"github.com/JalejandroV93/student-tracking-sub001/controllers"
	"github.com/JalejandroV93/student-tracking-sub001/middleware"
	"github.com/JalejandroV93/student-tracking-sub001/models"

	"github.com/gin-gonic/gin"
)

func SetupRoutes(router *gin.Engine) {
	// API v1 group
	v1 := router.Group("/api/v1")
	{
		// Public routes
		public := v1.Group("")
		{
			public.POST("/login", controllers.Login)

			// Health check
			public.GET("/health", func(c *gin.Context) {
				c.JSON(200, gin.H{
					"status":  "ok",
					"message": "Student Tracking API is running",
				})
			})
		}

		// Protected routes (require authentication)
		protected := v1.Group("")
		protected.Use(middleware.AuthMiddleware())
		{
			protected.GET("/profile", controllers.GetProfile)

			// Reference data for the import form
			protected.GET("/years", controllers.GetYears)
			protected.GET("/years/:year_id/trimesters", controllers.GetTrimesters)

			// Bulk import, staff and admin
			imports := protected.Group("/imports")
			imports.Use(middleware.RequireRole(models.RoleStaff, models.RoleAdmin))
			{
				imports.POST("/preview", controllers.PreviewImport)
				imports.POST("/commit", controllers.CommitImport)
			}
		}

		// Machine routes (scheduler, cron hooks) use the shared sync token
		sync := v1.Group("/sync")
		sync.Use(middleware.SyncTokenMiddleware())
		{
			sync.POST("", controllers.TriggerSync)
			sync.GET("/runs", controllers.ListSyncRuns)
			sync.GET("/:session_id", controllers.GetSyncStatus)
		}
	}

	// 404 handler
	router.NoRoute(func(c *gin.Context) {
		c.JSON(404, gin.H{"error": "Route not found"})
	})
}
