package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/paperharvest/paperharvest/internal/paper"
)

const labScrapeName = "labscrape"

// LabScrapeConfig configures the research-lab blog scraper.
type LabScrapeConfig struct {
	// Seeds are the listing pages to scrape (lab blog indexes).
	Seeds []string
	// AllowedDomains restricts the collector; derived from Seeds when empty.
	AllowedDomains []string
	UserAgent      string
	DownloadDir    string
	// Headless enables chromedp rendering for seeds that serve their
	// listings via JavaScript. Pages are first tried statically.
	Headless bool
	// NavigationTimeout bounds a single headless page render.
	NavigationTimeout time.Duration
	// Client is used for PDF downloads; defaults to a 60s-timeout client.
	Client *http.Client
}

// LabScrape discovers papers announced on research-lab blogs. Listings are
// fetched with colly; JavaScript-rendered pages fall back to a headless
// browser.
type LabScrape struct {
	cfg    LabScrapeConfig
	retry  *retryPolicy
	logger *zap.Logger
}

var _ paper.Source = (*LabScrape)(nil)

// NewLabScrape builds the source, filling config defaults.
func NewLabScrape(cfg LabScrapeConfig, logger *zap.Logger) *LabScrape {
	if cfg.UserAgent == "" {
		cfg.UserAgent = "paperharvest/1.0"
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 60 * time.Second}
	}
	if len(cfg.AllowedDomains) == 0 {
		for _, seed := range cfg.Seeds {
			if u, err := url.Parse(seed); err == nil && u.Host != "" {
				cfg.AllowedDomains = append(cfg.AllowedDomains, u.Host)
			}
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LabScrape{cfg: cfg, retry: newRetryPolicy(), logger: logger.With(zap.String("source", labScrapeName))}
}

// Name implements paper.Source.
func (l *LabScrape) Name() string { return labScrapeName }

// Search implements paper.Source. All seeds are scraped eagerly; lab blogs
// are small, so the whole candidate set fits in memory and the cursor just
// slices it.
func (l *LabScrape) Search(ctx context.Context, req paper.SearchRequest) (paper.Cursor, error) {
	var all []paper.Candidate
	for _, seed := range l.cfg.Seeds {
		cands, err := l.scrapeSeed(ctx, seed)
		if err != nil {
			return nil, fmt.Errorf("scrape %s: %w", seed, err)
		}
		if len(cands) == 0 && l.cfg.Headless {
			cands, err = l.renderSeed(ctx, seed)
			if err != nil {
				l.logger.Warn("headless render failed", zap.String("seed", seed), zap.Error(err))
			}
		}
		all = append(all, cands...)
		if req.MaxResults > 0 && len(all) >= req.MaxResults {
			all = all[:req.MaxResults]
			break
		}
	}
	return &sliceCursor{candidates: all}, nil
}

// scrapeSeed fetches one listing page statically and extracts article
// entries.
func (l *LabScrape) scrapeSeed(ctx context.Context, seed string) ([]paper.Candidate, error) {
	c := colly.NewCollector(
		colly.UserAgent(l.cfg.UserAgent),
		colly.AllowedDomains(l.cfg.AllowedDomains...),
	)
	c.SetRequestTimeout(30 * time.Second)

	var (
		candidates []paper.Candidate
		scrapeErr  error
	)
	c.OnHTML("article", func(e *colly.HTMLElement) {
		if ctx.Err() != nil {
			return
		}
		cand := paper.Candidate{
			Title:    strings.TrimSpace(e.ChildText("h1, h2, h3")),
			Abstract: strings.TrimSpace(e.ChildText("p")),
		}
		if href := e.ChildAttr("a[href]", "href"); href != "" {
			cand.URL = e.Request.AbsoluteURL(href)
		}
		if pdf := e.ChildAttr(`a[href$=".pdf"]`, "href"); pdf != "" {
			cand.PDFURL = e.Request.AbsoluteURL(pdf)
		}
		if cand.Title != "" && cand.URL != "" {
			candidates = append(candidates, cand)
		}
	})
	c.OnError(func(_ *colly.Response, err error) {
		scrapeErr = err
	})

	if err := c.Visit(seed); err != nil {
		return nil, err
	}
	c.Wait()
	if scrapeErr != nil {
		return nil, scrapeErr
	}
	return candidates, nil
}

// renderSeed loads the listing in headless Chrome and extracts entries from
// the rendered DOM.
func (l *LabScrape) renderSeed(ctx context.Context, seed string) ([]paper.Candidate, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.UserAgent(l.cfg.UserAgent),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	defer allocCancel()

	taskCtx, taskCancel := chromedp.NewContext(allocCtx)
	defer taskCancel()
	taskCtx, cancel := context.WithTimeout(taskCtx, l.cfg.NavigationTimeout)
	defer cancel()

	// extracted mirrors the JS object literal built below.
	type extracted struct {
		Title string `json:"title"`
		URL   string `json:"url"`
		Text  string `json:"text"`
		PDF   string `json:"pdf"`
	}
	var entries []extracted
	err := chromedp.Run(taskCtx,
		network.Enable(),
		network.SetExtraHTTPHeaders(network.Headers{"Accept-Language": "en"}),
		chromedp.Navigate(seed),
		chromedp.WaitReady("body"),
		chromedp.Evaluate(`Array.from(document.querySelectorAll('article')).map(a => {
			const link = a.querySelector('a[href]');
			const pdf = a.querySelector('a[href$=".pdf"]');
			const head = a.querySelector('h1, h2, h3');
			const para = a.querySelector('p');
			return {
				title: head ? head.textContent.trim() : '',
				url: link ? link.href : '',
				text: para ? para.textContent.trim() : '',
				pdf: pdf ? pdf.href : ''
			};
		}).filter(e => e.title && e.url)`, &entries),
	)
	if err != nil {
		return nil, err
	}

	candidates := make([]paper.Candidate, 0, len(entries))
	for _, e := range entries {
		candidates = append(candidates, paper.Candidate{
			Title:    e.Title,
			Abstract: e.Text,
			URL:      e.URL,
			PDFURL:   e.PDF,
		})
	}
	return candidates, nil
}

// Download implements paper.Source.
func (l *LabScrape) Download(ctx context.Context, cand paper.Candidate) (string, error) {
	if cand.PDFURL == "" {
		return "", fmt.Errorf("labscrape: candidate has no pdf url")
	}
	if err := os.MkdirAll(l.cfg.DownloadDir, 0o755); err != nil {
		return "", fmt.Errorf("create download dir: %w", err)
	}

	name := sanitizeFileName(strings.TrimSuffix(filepath.Base(cand.PDFURL), ".pdf"))
	if name == "" {
		name = sanitizeFileName(cand.Title)
	}
	dest := filepath.Join(l.cfg.DownloadDir, name+".pdf")

	err := l.retry.do(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, cand.PDFURL, nil)
		if err != nil {
			return err
		}
		req.Header.Set("User-Agent", l.cfg.UserAgent)

		resp, err := l.cfg.Client.Do(req)
		if err != nil {
			return fmt.Errorf("pdf request: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("pdf download returned HTTP %d", resp.StatusCode)
		}

		f, err := os.Create(dest)
		if err != nil {
			return fmt.Errorf("create pdf file: %w", err)
		}
		if _, err := io.Copy(f, resp.Body); err != nil {
			f.Close()
			os.Remove(dest)
			return fmt.Errorf("write pdf: %w", err)
		}
		return f.Close()
	})
	if err != nil {
		return "", err
	}
	return dest, nil
}

// sliceCursor serves an already-materialized candidate list in batches.
type sliceCursor struct {
	candidates []paper.Candidate
	pos        int
}

// Next implements paper.Cursor.
func (c *sliceCursor) Next(ctx context.Context, max int) ([]paper.Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.pos >= len(c.candidates) || max <= 0 {
		return nil, nil
	}
	end := c.pos + max
	if end > len(c.candidates) {
		end = len(c.candidates)
	}
	batch := c.candidates[c.pos:end]
	c.pos = end
	return batch, nil
}

// Close implements paper.Cursor.
func (c *sliceCursor) Close() error {
	c.pos = len(c.candidates)
	return nil
}
