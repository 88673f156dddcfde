// Package preflight validates the deployment before the server starts
// taking traffic: device store schema, provider catalog, credential
// encryption, and job schedules. Misconfiguration fails fast at boot
// instead of surfacing as a broken endpoint later.
package preflight

import (
	"fmt"
	"log"

	"github.com/robfig/cron/v3"

	"agentdeck/internal/capability"
	"agentdeck/internal/config"
	"agentdeck/internal/crypto"
	"agentdeck/internal/database"
)

// CheckResult is the outcome of one preflight check.
type CheckResult struct {
	Name    string
	Status  string // "pass", "fail", "warning"
	Message string
	Error   error
}

// Checker runs startup checks against the loaded configuration.
type Checker struct {
	cfg *config.Config
	db  *database.DB
}

// NewChecker creates a preflight checker.
func NewChecker(cfg *config.Config, db *database.DB) *Checker {
	return &Checker{cfg: cfg, db: db}
}

// cronParser matches the scheduler's five-field cron dialect.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// RunAll runs every check and logs a summary.
func (c *Checker) RunAll() []CheckResult {
	log.Println("🔍 Running pre-flight checks...")

	results := []CheckResult{
		c.checkDeviceStore(),
		c.checkCatalog(),
		c.checkEncryptionKey(),
		c.checkSchedules(),
	}

	passed, failed, warnings := 0, 0, 0
	for _, r := range results {
		switch r.Status {
		case "pass":
			log.Printf("   ✅ %s: %s", r.Name, r.Message)
			passed++
		case "fail":
			log.Printf("   ❌ %s: %s", r.Name, r.Message)
			if r.Error != nil {
				log.Printf("      Error: %v", r.Error)
			}
			failed++
		case "warning":
			log.Printf("   ⚠️  %s: %s", r.Name, r.Message)
			warnings++
		}
	}
	log.Printf("📊 Pre-flight summary: %d passed, %d failed, %d warnings", passed, failed, warnings)
	return results
}

// HasFailures reports whether any check failed hard.
func HasFailures(results []CheckResult) bool {
	for _, r := range results {
		if r.Status == "fail" {
			return true
		}
	}
	return false
}

// requiredTables must exist after database.Initialize ran.
var requiredTables = []string{
	"providers",
	"agents",
	"instances",
	"canvas_nodes",
	"canvas_links",
	"settings",
}

// checkDeviceStore verifies connectivity and that the schema is in place.
func (c *Checker) checkDeviceStore() CheckResult {
	if err := c.db.Ping(); err != nil {
		return CheckResult{
			Name:    "Device Store",
			Status:  "fail",
			Message: "Cannot reach the device store",
			Error:   err,
		}
	}

	for _, table := range requiredTables {
		var count int
		// Probe query works on both SQLite and MySQL.
		if err := c.db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&count); err != nil {
			return CheckResult{
				Name:    "Device Store",
				Status:  "fail",
				Message: fmt.Sprintf("Required table %q missing", table),
				Error:   err,
			}
		}
	}
	return CheckResult{
		Name:    "Device Store",
		Status:  "pass",
		Message: fmt.Sprintf("Connected (%s), %d tables present", c.db.Driver(), len(requiredTables)),
	}
}

// checkCatalog verifies the provider catalog file parses and its entries
// match known vendors.
func (c *Checker) checkCatalog() CheckResult {
	catalog, err := config.LoadCatalog(c.cfg.ProvidersFile)
	if err != nil {
		return CheckResult{
			Name:    "Provider Catalog",
			Status:  "fail",
			Message: fmt.Sprintf("Cannot load %s", c.cfg.ProvidersFile),
			Error:   err,
		}
	}
	if len(catalog.Providers) == 0 {
		return CheckResult{
			Name:    "Provider Catalog",
			Status:  "fail",
			Message: fmt.Sprintf("%s lists no providers", c.cfg.ProvidersFile),
		}
	}

	var unknown []string
	for _, entry := range catalog.Providers {
		if !capability.ValidProvider(capability.ProviderID(entry.ID)) {
			unknown = append(unknown, string(entry.ID))
		}
	}
	if len(unknown) > 0 {
		return CheckResult{
			Name:    "Provider Catalog",
			Status:  "warning",
			Message: fmt.Sprintf("Entries for unknown vendors are ignored: %v", unknown),
		}
	}
	return CheckResult{
		Name:    "Provider Catalog",
		Status:  "pass",
		Message: fmt.Sprintf("%d providers configured", len(catalog.Providers)),
	}
}

// checkEncryptionKey validates the credential-encryption key when set. An
// unset key only matters when accounts are on; device-scope credentials
// never leave the local store.
func (c *Checker) checkEncryptionKey() CheckResult {
	if c.cfg.EncryptionMasterKey == "" {
		if c.cfg.MongoURL != "" {
			return CheckResult{
				Name:    "Credential Encryption",
				Status:  "warning",
				Message: "ENCRYPTION_MASTER_KEY not set, account credential storage stays disabled",
			}
		}
		return CheckResult{
			Name:    "Credential Encryption",
			Status:  "pass",
			Message: "Not required in device-only mode",
		}
	}

	if _, err := crypto.NewEncryptionService(c.cfg.EncryptionMasterKey); err != nil {
		return CheckResult{
			Name:    "Credential Encryption",
			Status:  "fail",
			Message: "ENCRYPTION_MASTER_KEY is not usable",
			Error:   err,
		}
	}
	return CheckResult{
		Name:    "Credential Encryption",
		Status:  "pass",
		Message: "Master key valid",
	}
}

// checkSchedules validates the cron expressions for the background jobs.
// A bad expression is a warning: the server runs, the job never fires.
func (c *Checker) checkSchedules() CheckResult {
	schedules := map[string]string{
		"ORPHAN_CLEANUP_CRON":  c.cfg.OrphanCleanupCron,
		"PROVIDER_HEALTH_CRON": c.cfg.ProviderHealthCron,
		"RETENTION_CRON":       c.cfg.RetentionCron,
	}

	var bad []string
	for name, expr := range schedules {
		if _, err := cronParser.Parse(expr); err != nil {
			bad = append(bad, fmt.Sprintf("%s=%q", name, expr))
		}
	}
	if len(bad) > 0 {
		return CheckResult{
			Name:    "Job Schedules",
			Status:  "warning",
			Message: fmt.Sprintf("Invalid cron expressions: %v", bad),
		}
	}
	return CheckResult{
		Name:    "Job Schedules",
		Status:  "pass",
		Message: fmt.Sprintf("%d schedules valid", len(schedules)),
	}
}
