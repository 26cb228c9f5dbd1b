// Package main is a diagnostic tool for database connectivity. It connects with
// the server's configuration and prints how many scheduled posts sit in each
// status, plus the next few posts due. It exits non-zero on any failure so it
// can gate deployments in CI/CD steps.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/content-scheduler/content-scheduler/internal/config"
	"github.com/content-scheduler/content-scheduler/internal/db"
	"github.com/content-scheduler/content-scheduler/internal/db/models"
	"github.com/content-scheduler/content-scheduler/internal/db/repositories"
)

const nextDueLimit = 10

var allStatuses = []models.PostStatus{
	models.PostStatusPending,
	models.PostStatusPaid,
	models.PostStatusPosted,
	models.PostStatusFailed,
	models.PostStatusCancelled,
}

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	database, err := db.Connect(cfg.Database.GetDSN(), 1, 1)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer database.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	posts := repositories.NewScheduledPostRepository(sqlx.NewDb(database, "postgres"))

	all, err := posts.ListByStatus(ctx, allStatuses...)
	if err != nil {
		log.Fatalf("Query failed: %v", err)
	}

	counts := make(map[models.PostStatus]int, len(allStatuses))
	for _, p := range all {
		counts[p.Status]++
	}
	fmt.Println("=== SCHEDULED POSTS BY STATUS ===")
	for _, status := range allStatuses {
		fmt.Printf("%-10s %d\n", status, counts[status])
	}

	// ListByStatus orders by scheduled_time, so the first open posts are the next due
	fmt.Println("\n=== NEXT DUE ===")
	shown := 0
	for _, p := range all {
		if p.Status.IsTerminal() {
			continue
		}
		fmt.Printf("%s  %-8s %-8s %s\n", p.ID, p.Platform, p.Status, p.ScheduledTime.UTC().Format(time.RFC3339))
		shown++
		if shown == nextDueLimit {
			break
		}
	}
}
