// Package storage archives analytics run reports so past runs can be
// inspected after the fact. Reports are written to local JSON files or
// to AWS, where S3 holds the full document and DynamoDB the listing
// index.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/meridian/chat-insights/internal/config"
	"github.com/meridian/chat-insights/internal/domain"
	"github.com/meridian/chat-insights/internal/pkg/logger"
)

// ErrNotFound is returned when no run report exists for the given ID.
var ErrNotFound = errors.New("run report not found")

// Archive provides persistent storage for run reports.
type Archive struct {
	config config.StorageConfig
	mu     sync.RWMutex

	// AWS archive (optional)
	aws *AWSArchive

	// Reports seen by this process, keyed by run ID
	reports map[string]*domain.RunReport
}

// New creates a new Archive instance.
func New(cfg config.StorageConfig) (*Archive, error) {
	a := &Archive{
		config:  cfg,
		reports: make(map[string]*domain.RunReport),
	}

	ctx := context.Background()

	switch cfg.Type {
	case "aws":
		awsArchive, err := NewAWSArchive(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("initializing AWS archive: %w", err)
		}
		a.aws = awsArchive

	case "local":
		if err := os.MkdirAll(filepath.Join(cfg.LocalPath, "runs"), 0755); err != nil {
			return nil, fmt.Errorf("creating archive directory: %w", err)
		}

		// Load existing reports
		if err := a.loadFromDisk(); err != nil {
			// Not fatal - just log and continue
			logger.Warn("could not load existing run reports", "error", err.Error())
		}
	}

	return a, nil
}

// SaveRunReport persists a run report.
func (a *Archive) SaveRunReport(ctx context.Context, report *domain.RunReport) error {
	a.mu.Lock()
	a.reports[report.RunID] = report
	a.mu.Unlock()

	switch a.config.Type {
	case "aws":
		if a.aws != nil {
			return a.aws.SaveRunReport(ctx, report)
		}
	case "local":
		return a.saveToFile(report)
	}

	return nil
}

// GetRunReport retrieves a run report by ID. Returns ErrNotFound when no
// report with that ID has been archived.
func (a *Archive) GetRunReport(ctx context.Context, runID string) (*domain.RunReport, error) {
	a.mu.RLock()
	report, ok := a.reports[runID]
	a.mu.RUnlock()
	if ok {
		return report, nil
	}

	switch a.config.Type {
	case "aws":
		if a.aws != nil {
			return a.aws.GetRunReport(ctx, runID)
		}
	case "local":
		return a.loadFromFile(runID)
	}

	return nil, ErrNotFound
}

// ListRunReports returns archived reports, most recent first. A non-empty
// mode filters to that run mode; limit <= 0 means no limit.
func (a *Archive) ListRunReports(ctx context.Context, mode domain.RunMode, limit int) ([]*domain.RunReport, error) {
	if a.config.Type == "aws" && a.aws != nil {
		return a.aws.ListRunReports(ctx, mode, limit)
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	var result []*domain.RunReport
	for _, r := range a.reports {
		if mode != "" && r.Mode != mode {
			continue
		}
		result = append(result, r)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].StartedAt.After(result[j].StartedAt)
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Stats returns counts about the reports currently cached in memory.
func (a *Archive) Stats() map[string]interface{} {
	a.mu.RLock()
	defer a.mu.RUnlock()

	daily, backfill := 0, 0
	for _, r := range a.reports {
		switch r.Mode {
		case domain.RunDaily:
			daily++
		case domain.RunBackfill:
			backfill++
		}
	}

	return map[string]interface{}{
		"reports_cached": len(a.reports),
		"daily_runs":     daily,
		"backfill_runs":  backfill,
	}
}

// saveToFile writes a report to a JSON file under <local_path>/runs/.
func (a *Archive) saveToFile(report *domain.RunReport) error {
	// Sanitize the run ID for use as a filename
	safeID := filepath.Base(report.RunID)
	path := filepath.Join(a.config.LocalPath, "runs", safeID+".json")

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(report)
}

// loadFromFile reads a single report back from disk.
func (a *Archive) loadFromFile(runID string) (*domain.RunReport, error) {
	safeID := filepath.Base(runID)
	path := filepath.Join(a.config.LocalPath, "runs", safeID+".json")

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var report domain.RunReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("decoding run report %s: %w", safeID, err)
	}
	return &report, nil
}

// loadFromDisk populates the in-memory cache from previously written files.
func (a *Archive) loadFromDisk() error {
	runsDir := filepath.Join(a.config.LocalPath, "runs")
	entries, err := os.ReadDir(runsDir)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(runsDir, entry.Name()))
		if err != nil {
			continue
		}
		var report domain.RunReport
		if err := json.Unmarshal(data, &report); err == nil && report.RunID != "" {
			a.reports[report.RunID] = &report
		}
	}

	return nil
}
