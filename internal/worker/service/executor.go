package service

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	coordcore "github.com/nemanja-m/scrapegrid/internal/coordinator/core"
	"github.com/nemanja-m/scrapegrid/internal/shared/logging"
	"github.com/nemanja-m/scrapegrid/internal/worker/core"
	"github.com/nemanja-m/scrapegrid/internal/worker/scraper"
)

const maxLabelLen = 64

// ScrapeExecutor runs a job through the scraper registered for its host and
// writes the records as JSON Lines under resultsDir.
type ScrapeExecutor struct {
	scrapers   *scraper.Registry
	resultsDir string
	logger     logging.Logger
}

func NewScrapeExecutor(scrapers *scraper.Registry, resultsDir string, logger logging.Logger) *ScrapeExecutor {
	return &ScrapeExecutor{scrapers: scrapers, resultsDir: resultsDir, logger: logger}
}

func (e *ScrapeExecutor) Execute(ctx context.Context, job *core.Assignment, report core.ProgressFunc) (*core.Result, error) {
	s, err := e.scrapers.For(job.URL)
	if err != nil {
		return nil, err
	}

	var failed int
	records, err := s.Scrape(ctx, scraper.ScrapeJob{ID: job.JobID, URL: job.URL, Label: job.Label}, func(p scraper.Progress) {
		failed = max(failed, p.Failed)
		if report != nil {
			report(core.Progress{
				Status:         core.JobStatusRunning,
				TotalItems:     p.Total,
				ProcessedItems: p.Processed,
				FailedItems:    p.Failed,
				CurrentItem:    p.CurrentItem,
				Message:        p.Message,
			})
		}
	})
	if err != nil {
		return nil, fmt.Errorf("scrape %s: %w", job.URL, err)
	}

	location, err := e.writeResults(job, records)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("Results written", "job_id", job.JobID, "location", location, "records", len(records))
	return &core.Result{Location: location, Items: len(records), FailedItems: failed}, nil
}

// writeResults writes to a temporary file and renames it into place so the
// coordinator never discovers a partial artifact.
func (e *ScrapeExecutor) writeResults(job *core.Assignment, records []scraper.VideoRecord) (string, error) {
	if err := os.MkdirAll(e.resultsDir, 0o755); err != nil {
		return "", fmt.Errorf("create results dir: %w", err)
	}
	name := coordcore.ArtifactName(job.JobID, sanitizeLabel(job.Label), ".jsonl")
	path := filepath.Join(e.resultsDir, name)

	tmp, err := os.CreateTemp(e.resultsDir, ".tmp-"+name+"-*")
	if err != nil {
		return "", fmt.Errorf("create result file: %w", err)
	}
	defer os.Remove(tmp.Name())

	buf := bufio.NewWriter(tmp)
	enc := json.NewEncoder(buf)
	for i := range records {
		if err := enc.Encode(&records[i]); err != nil {
			tmp.Close()
			return "", fmt.Errorf("encode record: %w", err)
		}
	}
	if err := buf.Flush(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write result file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close result file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("publish result file: %w", err)
	}
	return path, nil
}

func sanitizeLabel(label string) string {
	clean := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, label)
	if len(clean) > maxLabelLen {
		clean = clean[:maxLabelLen]
	}
	return strings.Trim(clean, "._")
}
