package preflight

import (
	"context"
	"fmt"
	"log"
	"time"

	"chronos/internal/database"
)

// CheckResult represents the result of a preflight check
type CheckResult struct {
	Name    string
	Status  string // "pass", "fail", "warning"
	Message string
	Error   error
}

// Pinger is a remote dependency that can be probed
type Pinger interface {
	Ping(ctx context.Context) error
}

// Checker performs pre-flight checks before a generator starts
type Checker struct {
	events      *database.DB
	eventsTable string
	mongodb     Pinger
	redis       Pinger
	timeout     time.Duration
}

// NewChecker creates a new preflight checker; redis may be nil
func NewChecker(events *database.DB, eventsTable string, mongodb, redis Pinger) *Checker {
	return &Checker{
		events:      events,
		eventsTable: eventsTable,
		mongodb:     mongodb,
		redis:       redis,
		timeout:     5 * time.Second,
	}
}

// RunAll runs all preflight checks and returns results
func (c *Checker) RunAll(ctx context.Context) []CheckResult {
	log.Println("🔍 Running pre-flight checks...")

	results := []CheckResult{
		c.checkPing(ctx, "Events Database", c.events),
		c.checkEventsTable(ctx),
		c.checkPing(ctx, "MongoDB", c.mongodb),
		c.checkRedis(ctx),
	}

	passed := 0
	failed := 0
	warnings := 0

	for _, result := range results {
		switch result.Status {
		case "pass":
			log.Printf("   ✅ %s: %s", result.Name, result.Message)
			passed++
		case "fail":
			log.Printf("   ❌ %s: %s", result.Name, result.Message)
			if result.Error != nil {
				log.Printf("      Error: %v", result.Error)
			}
			failed++
		case "warning":
			log.Printf("   ⚠️  %s: %s", result.Name, result.Message)
			warnings++
		}
	}

	log.Printf("📊 Pre-flight summary: %d passed, %d failed, %d warnings", passed, failed, warnings)

	return results
}

// HasFailures returns true if any check failed
func HasFailures(results []CheckResult) bool {
	for _, result := range results {
		if result.Status == "fail" {
			return true
		}
	}
	return false
}

func (c *Checker) checkPing(ctx context.Context, name string, dep Pinger) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := dep.Ping(ctx); err != nil {
		return CheckResult{
			Name:    name,
			Status:  "fail",
			Message: "Cannot connect",
			Error:   err,
		}
	}

	return CheckResult{
		Name:    name,
		Status:  "pass",
		Message: "Connection successful",
	}
}

// checkEventsTable verifies the activity event table exists
func (c *Checker) checkEventsTable(ctx context.Context) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	query := "SELECT COUNT(*) FROM INFORMATION_SCHEMA.TABLES WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ?"
	if c.events.Driver() == database.DriverSQLite {
		query = "SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?"
	}

	var count int
	err := c.events.QueryRowContext(ctx, query, c.eventsTable).Scan(&count)
	if err != nil || count == 0 {
		return CheckResult{
			Name:    "Events Table",
			Status:  "fail",
			Message: fmt.Sprintf("Required table '%s' not found", c.eventsTable),
			Error:   err,
		}
	}

	return CheckResult{
		Name:    "Events Table",
		Status:  "pass",
		Message: fmt.Sprintf("Table '%s' exists", c.eventsTable),
	}
}

// checkRedis warns when runs are only serialized inside this process
func (c *Checker) checkRedis(ctx context.Context) CheckResult {
	if c.redis == nil {
		return CheckResult{
			Name:    "Redis",
			Status:  "warning",
			Message: "REDIS_URL not set, run lock is local to this process",
		}
	}
	return c.checkPing(ctx, "Redis", c.redis)
}
