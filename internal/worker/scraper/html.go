package scraper

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/nemanja-m/scrapegrid/internal/shared/config"
)

const maxBodySize = 8 << 20

// HTMLScraper reads a profile listing page, then fetches every linked video
// page through a bounded pool and extracts counts with CSS selectors.
type HTMLScraper struct {
	client *http.Client
	cfg    config.ScraperConfig
	now    func() time.Time
}

func NewHTMLScraper(cfg config.ScraperConfig, client *http.Client) *HTMLScraper {
	if client == nil {
		client = &http.Client{Timeout: cfg.RequestTimeout}
	}
	return &HTMLScraper{client: client, cfg: cfg, now: time.Now}
}

type listing struct {
	link  string
	views string
}

func (s *HTMLScraper) Scrape(ctx context.Context, job ScrapeJob, report ProgressFunc) ([]VideoRecord, error) {
	if report == nil {
		report = func(Progress) {}
	}
	base, err := url.Parse(job.URL)
	if err != nil {
		return nil, fmt.Errorf("parse job url: %w", err)
	}

	doc, err := s.fetch(ctx, job.URL)
	if err != nil {
		return nil, fmt.Errorf("fetch listing: %w", err)
	}
	items := s.listItems(doc, base)
	report(Progress{Total: len(items), CurrentItem: job.URL, Message: fmt.Sprintf("found %d videos", len(items))})
	if len(items) == 0 {
		return []VideoRecord{}, nil
	}

	var (
		mu        sync.Mutex
		records   = make([]*VideoRecord, len(items))
		processed int
		failed    int
		lastErr   error
	)
	interval := max(s.cfg.ProgressInterval, 1)

	p := newPool(s.cfg.Concurrency)
	p.start()
	for i, item := range items {
		p.submit(func() {
			var rec *VideoRecord
			var err error
			if err = ctx.Err(); err == nil {
				rec, err = s.scrapeVideo(ctx, item)
			}

			mu.Lock()
			defer mu.Unlock()
			processed++
			if err != nil {
				failed++
				lastErr = err
			} else {
				records[i] = rec
			}
			if processed%interval == 0 || processed == len(items) {
				report(Progress{
					Total:       len(items),
					Processed:   processed,
					Failed:      failed,
					CurrentItem: item.link,
				})
			}
		})
	}
	p.close()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if failed == len(items) {
		return nil, fmt.Errorf("all %d video pages failed: %w", failed, lastErr)
	}

	out := make([]VideoRecord, 0, len(items)-failed)
	for _, rec := range records {
		if rec != nil {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (s *HTMLScraper) listItems(doc *goquery.Document, base *url.URL) []listing {
	sel := s.cfg.Selectors
	seen := make(map[string]struct{})
	var items []listing

	doc.Find(sel.Item).EachWithBreak(func(_ int, item *goquery.Selection) bool {
		href, ok := item.Find(sel.Link).First().Attr("href")
		if !ok {
			href, ok = item.Attr("href")
		}
		if !ok || strings.TrimSpace(href) == "" {
			return true
		}
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return true
		}
		link := base.ResolveReference(ref).String()
		if _, dup := seen[link]; dup {
			return true
		}
		seen[link] = struct{}{}
		items = append(items, listing{link: link, views: text(item, sel.Views)})
		return s.cfg.MaxItems <= 0 || len(items) < s.cfg.MaxItems
	})
	return items
}

func (s *HTMLScraper) scrapeVideo(ctx context.Context, item listing) (*VideoRecord, error) {
	doc, err := s.fetch(ctx, item.link)
	if err != nil {
		return nil, err
	}
	sel := s.cfg.Selectors
	page := doc.Selection

	views := text(page, sel.Views)
	if views == "" {
		views = item.views
	}
	now := s.now()
	var uploaded *time.Time
	if t, ok := ParseUploadDate(text(page, sel.UploadDate), now); ok {
		t = t.UTC()
		uploaded = &t
	}
	return &VideoRecord{
		VideoURL:    item.link,
		Title:       text(page, sel.Title),
		Description: text(page, sel.Description),
		Views:       ParseCount(views),
		Likes:       ParseCount(text(page, sel.Likes)),
		Bookmarks:   ParseCount(text(page, sel.Bookmarks)),
		Comments:    ParseCount(text(page, sel.Comments)),
		UploadDate:  uploaded,
		ScrapedAt:   now.UTC(),
	}, nil
}

func (s *HTMLScraper) fetch(ctx context.Context, target string) (*goquery.Document, error) {
	if s.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RequestTimeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	if s.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", s.cfg.UserAgent)
	}
	req.Header.Set("Accept", "text/html")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: unexpected status %d", target, resp.StatusCode)
	}
	return goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxBodySize))
}

func text(s *goquery.Selection, selector string) string {
	if selector == "" {
		return ""
	}
	return strings.TrimSpace(s.Find(selector).First().Text())
}
