package app

import (
	"fmt"
	"maps"

	"github.com/alanyoungcy/skinbot/internal/config"
	"github.com/alanyoungcy/skinbot/internal/domain"
	"github.com/alanyoungcy/skinbot/internal/filter"
	"github.com/alanyoungcy/skinbot/internal/scanner"
)

// buildJobs resolves each configured scan against the filter registry.
// Per-scan overrides win over the scanner defaults.
func buildJobs(scans []config.ScanConfig, minProfit, fee float64, maxItems int64, filters *filter.Registry) ([]scanner.Job, error) {
	jobs := make([]scanner.Job, 0, len(scans))
	for i, sc := range scans {
		gf, err := filters.New(domain.Game(sc.Game), maps.Clone(sc.Filter))
		if err != nil {
			return nil, fmt.Errorf("scans[%d]: %w", i, err)
		}
		job := scanner.Job{
			UserID:           sc.UserID,
			OperationType:    sc.Operation(),
			Filter:           gf,
			MinProfitPercent: minProfit,
			FeePercent:       fee,
			MaxItems:         maxItems,
		}
		if sc.MinProfitPercent > 0 {
			job.MinProfitPercent = sc.MinProfitPercent
		}
		if sc.MaxItems > 0 {
			job.MaxItems = sc.MaxItems
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}
