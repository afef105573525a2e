package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/JalejandroV93/student-tracking-sub001/config"
	"github.com/JalejandroV93/student-tracking-sub001/models"
	"github.com/JalejandroV93/student-tracking-sub001/services"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

func main() {
	scopeFlag := flag.String("scope", "full", "reconciliation scope: full, level or student")
	levelFlag := flag.String("level", "", "academic level when scope=level")
	studentFlag := flag.String("student", "", "student code when scope=student")
	cronFlag := flag.String("cron", "", "cron expression; overrides SYNC_CRON; empty runs once")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	config.InitLogging()
	config.InitDB()
	config.InitRedis()

	client, err := services.NewPhidiasClient(config.DB)
	if err != nil {
		log.Fatalf("Phidias client: %v", err)
	}
	svc := services.NewSyncService(config.DB, client, services.NewMemorySessionRegistry(services.DefaultSessionTTL))

	scope, err := buildScope(*scopeFlag, *levelFlag, *studentFlag)
	if err != nil {
		log.Fatal(err)
	}

	spec := *cronFlag
	if spec == "" {
		spec = os.Getenv("SYNC_CRON")
	}
	if spec == "" {
		runOnce(svc, scope, "cli")
		return
	}

	runScheduler(svc, scope, spec)
}

func runOnce(svc *services.SyncService, scope services.SyncScope, trigger string) {
	result, err := svc.Run(context.Background(), scope, trigger)
	if err != nil {
		log.Fatalf("reconciliation failed: %v", err)
	}
	log.Printf("session %s: %d processed, %d synced, %d out of sync, %d errors (%.1fs)",
		result.SessionID, result.Processed, result.SyncedCount,
		result.OutOfSyncCount, result.ErrorCount, result.Duration)
	if !result.Success {
		os.Exit(1)
	}
}

// runScheduler reconciles on the given cron spec until interrupted. A tick
// that fires while the previous run is still going is skipped, not queued.
func runScheduler(svc *services.SyncService, scope services.SyncScope, spec string) {
	var busy atomic.Bool

	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		if !busy.CompareAndSwap(false, true) {
			log.Println("previous reconciliation still running, skipping tick")
			return
		}
		defer busy.Store(false)

		result, err := svc.Run(context.Background(), scope, "cron")
		if err != nil {
			log.Printf("reconciliation failed: %v", err)
			return
		}
		log.Printf("session %s: %d processed, %d synced, %d out of sync, %d errors",
			result.SessionID, result.Processed, result.SyncedCount,
			result.OutOfSyncCount, result.ErrorCount)
	})
	if err != nil {
		log.Fatalf("invalid cron spec %q: %v", spec, err)
	}

	log.Printf("scheduler started with spec %q, scope %s", spec, scope.Key())
	c.Start()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("stopping scheduler")
	<-c.Stop().Done()
}

func buildScope(scope, level, student string) (services.SyncScope, error) {
	switch scope {
	case "full":
		return services.FullScope(), nil
	case "level":
		if !models.ValidAcademicLevel(level) {
			return services.SyncScope{}, fmt.Errorf("-level must be preschool, elementary, middle or high")
		}
		return services.LevelScope(models.AcademicLevel(level)), nil
	case "student":
		if student == "" {
			return services.SyncScope{}, fmt.Errorf("-student is required when scope=student")
		}
		return services.StudentScope(student), nil
	default:
		return services.SyncScope{}, fmt.Errorf("unknown scope %q", scope)
	}
}
