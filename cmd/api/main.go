package main

import (
	"errors"
	"log"
	"os"

	"github.com/JalejandroV93/student-tracking-sub001/config"
	"github.com/JalejandroV93/student-tracking-sub001/controllers"
	"github.com/JalejandroV93/student-tracking-sub001/middleware"
	"github.com/JalejandroV93/student-tracking-sub001/routes"
	"github.com/JalejandroV93/student-tracking-sub001/services"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	config.InitLogging()
	config.InitDB()
	config.InitRedis()

	// Set Gin mode
	ginMode := os.Getenv("GIN_MODE")
	if ginMode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	// Security headers
	router.Use(func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	})

	router.Use(middleware.CORSMiddleware())

	wireSyncService()
	routes.SetupRoutes(router)

	port := os.Getenv("SERVER_PORT")
	if port == "" {
		port = "8080"
	}

	log.Printf("Server starting on port %s", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}

// wireSyncService builds the process-wide reconciliation service. Missing
// Phidias credentials leave the sync endpoints answering 503 while imports
// keep working.
func wireSyncService() {
	client, err := services.NewPhidiasClient(config.DB)
	if err != nil {
		if errors.Is(err, services.ErrPhidiasNotConfigured) {
			log.Println("Phidias credentials not set, sync endpoints disabled")
			return
		}
		log.Fatalf("Failed to build Phidias client: %v", err)
	}

	var registry services.SessionRegistry
	if config.GetRedisDB() != nil {
		registry = services.NewRedisSessionRegistry(services.DefaultSessionTTL)
	} else {
		registry = services.NewMemorySessionRegistry(services.DefaultSessionTTL)
	}

	controllers.SetSyncService(services.NewSyncService(config.DB, client, registry))
}
