// Package scraper turns a profile URL into video records. Scrapers are
// looked up by host through a Registry.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	coordcore "github.com/nemanja-m/scrapegrid/internal/coordinator/core"
)

var ErrNoScraper = errors.New("no scraper registered for host")

type ScrapeJob struct {
	ID    uuid.UUID
	URL   string
	Label string
}

// VideoRecord is one scraped item, written as a JSON line to the result
// file. The coordinator reads the same format back.
type VideoRecord = coordcore.Video

// Progress is a scraper's running tally. Counters never decrease within a job.
type Progress struct {
	Total       int
	Processed   int
	Failed      int
	CurrentItem string
	Message     string
}

type ProgressFunc func(Progress)

type Scraper interface {
	Scrape(ctx context.Context, job ScrapeJob, report ProgressFunc) ([]VideoRecord, error)
}

// Registry maps hosts to scrapers. A scraper registered for "example.com"
// also serves its subdomains. The fallback, if set, serves everything else.
type Registry struct {
	mu       sync.RWMutex
	byHost   map[string]Scraper
	fallback Scraper
}

func NewRegistry() *Registry {
	return &Registry{byHost: make(map[string]Scraper)}
}

func (r *Registry) Register(host string, s Scraper) error {
	host = strings.ToLower(strings.TrimSpace(host))
	if host == "" {
		return errors.New("scraper host must not be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byHost[host]; exists {
		return fmt.Errorf("scraper already registered: %s", host)
	}
	r.byHost[host] = s
	return nil
}

func (r *Registry) SetFallback(s Scraper) {
	r.mu.Lock()
	r.fallback = s
	r.mu.Unlock()
}

// For returns the scraper for rawURL, preferring the most specific host.
func (r *Registry) For(rawURL string) (Scraper, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	host := strings.ToLower(u.Hostname())

	r.mu.RLock()
	defer r.mu.RUnlock()
	for h := host; h != ""; {
		if s, ok := r.byHost[h]; ok {
			return s, nil
		}
		_, rest, found := strings.Cut(h, ".")
		if !found {
			break
		}
		h = rest
	}
	if r.fallback != nil {
		return r.fallback, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNoScraper, host)
}

// Hosts lists registered hosts in sorted order.
func (r *Registry) Hosts() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	hosts := make([]string, 0, len(r.byHost))
	for h := range r.byHost {
		hosts = append(hosts, h)
	}
	sort.Strings(hosts)
	return hosts
}
