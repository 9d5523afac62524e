package source

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/paperharvest/paperharvest/internal/paper"
)

const (
	arxivName            = "arxiv"
	defaultArxivPageSize = 100
)

// ArxivConfig configures the arXiv API source.
type ArxivConfig struct {
	// BaseURL defaults to the public export endpoint; tests point it at an
	// httptest server.
	BaseURL string
	// DownloadDir receives fetched PDFs.
	DownloadDir string
	UserAgent   string
	// PageSize caps entries requested per API call.
	PageSize int
	// Client defaults to a 30s-timeout http.Client.
	Client *http.Client
}

// Arxiv discovers papers through the arXiv Atom API.
type Arxiv struct {
	cfg    ArxivConfig
	retry  *retryPolicy
	logger *zap.Logger
}

var _ paper.Source = (*Arxiv)(nil)

// NewArxiv builds the source, filling config defaults.
func NewArxiv(cfg ArxivConfig, logger *zap.Logger) *Arxiv {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://export.arxiv.org/api/query"
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultArxivPageSize
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "paperharvest/1.0"
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Arxiv{cfg: cfg, retry: newRetryPolicy(), logger: logger.With(zap.String("source", arxivName))}
}

// Name implements paper.Source.
func (a *Arxiv) Name() string { return arxivName }

// Search implements paper.Source. The cursor pages through the API lazily;
// nothing is fetched until the first Next call.
func (a *Arxiv) Search(_ context.Context, req paper.SearchRequest) (paper.Cursor, error) {
	q := buildArxivQuery(req.Query)
	if q == "" {
		return nil, fmt.Errorf("arxiv: empty search query")
	}
	return &arxivCursor{src: a, query: q, startDate: req.StartDate, remaining: req.MaxResults}, nil
}

// arxivCursor pages through the Atom feed. A page shorter than requested
// marks exhaustion.
type arxivCursor struct {
	src       *Arxiv
	query     string
	startDate time.Time
	offset    int
	// remaining is the result ceiling; <= 0 at construction means unbounded.
	remaining int
	bounded   bool
	done      bool
}

// Next implements paper.Cursor.
func (c *arxivCursor) Next(ctx context.Context, max int) ([]paper.Candidate, error) {
	if c.done || max <= 0 {
		return nil, nil
	}
	if c.offset == 0 {
		c.bounded = c.remaining > 0
	}
	if c.bounded {
		if c.remaining <= 0 {
			c.done = true
			return nil, nil
		}
		if max > c.remaining {
			max = c.remaining
		}
	}
	if max > c.src.cfg.PageSize {
		max = c.src.cfg.PageSize
	}

	feed, err := c.src.fetchPage(ctx, c.query, c.offset, max)
	if err != nil {
		return nil, err
	}
	c.offset += len(feed.Entries)
	if c.bounded {
		c.remaining -= len(feed.Entries)
	}
	if len(feed.Entries) < max {
		c.done = true
	}

	candidates := make([]paper.Candidate, 0, len(feed.Entries))
	for _, entry := range feed.Entries {
		candidates = append(candidates, entry.toCandidate())
	}
	return candidates, nil
}

// Close implements paper.Cursor.
func (c *arxivCursor) Close() error {
	c.done = true
	return nil
}

func (a *Arxiv) fetchPage(ctx context.Context, query string, start, max int) (*arxivFeed, error) {
	endpoint := fmt.Sprintf("%s?search_query=%s&start=%d&max_results=%d&sortBy=submittedDate&sortOrder=descending",
		a.cfg.BaseURL, query, start, max)

	var feed arxivFeed
	err := a.retry.do(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return err
		}
		req.Header.Set("User-Agent", a.cfg.UserAgent)

		resp, err := a.cfg.Client.Do(req)
		if err != nil {
			return fmt.Errorf("arxiv request: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("arxiv returned HTTP %d", resp.StatusCode)
		}
		feed = arxivFeed{}
		if err := xml.NewDecoder(resp.Body).Decode(&feed); err != nil {
			return fmt.Errorf("parse arxiv feed: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &feed, nil
}

// Download implements paper.Source. The PDF lands in DownloadDir named after
// the arXiv ID.
func (a *Arxiv) Download(ctx context.Context, cand paper.Candidate) (string, error) {
	if cand.PDFURL == "" {
		return "", fmt.Errorf("arxiv: candidate has no pdf url")
	}
	if err := os.MkdirAll(a.cfg.DownloadDir, 0o755); err != nil {
		return "", fmt.Errorf("create download dir: %w", err)
	}

	name := sanitizeFileName(extractArxivID(cand.URL))
	if name == "" {
		name = sanitizeFileName(filepath.Base(cand.PDFURL))
	}
	dest := filepath.Join(a.cfg.DownloadDir, name+".pdf")

	err := a.retry.do(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, cand.PDFURL, nil)
		if err != nil {
			return err
		}
		req.Header.Set("User-Agent", a.cfg.UserAgent)

		resp, err := a.cfg.Client.Do(req)
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

// buildArxivQuery maps the keyword string onto arXiv's search_query syntax.
func buildArxivQuery(raw string) string {
	terms := strings.Fields(raw)
	if len(terms) == 0 {
		return ""
	}
	escaped := make([]string, 0, len(terms))
	for _, t := range terms {
		escaped = append(escaped, url.QueryEscape(t))
	}
	return "all:" + strings.Join(escaped, "+")
}

// Atom feed shapes for the arXiv API.
type arxivFeed struct {
	Entries []arxivEntry `xml:"entry"`
}

type arxivEntry struct {
	ID        string        `xml:"id"`
	Title     string        `xml:"title"`
	Summary   string        `xml:"summary"`
	Published string        `xml:"published"`
	Authors   []arxivAuthor `xml:"author"`
	Links     []arxivLink   `xml:"link"`
}

type arxivAuthor struct {
	Name string `xml:"name"`
}

type arxivLink struct {
	Href  string `xml:"href,attr"`
	Rel   string `xml:"rel,attr"`
	Title string `xml:"title,attr"`
}

func (e arxivEntry) toCandidate() paper.Candidate {
	cand := paper.Candidate{
		Title:    strings.Join(strings.Fields(e.Title), " "),
		Abstract: strings.TrimSpace(e.Summary),
		URL:      strings.TrimSpace(e.ID),
	}
	for _, a := range e.Authors {
		if name := strings.TrimSpace(a.Name); name != "" {
			cand.Authors = append(cand.Authors, name)
		}
	}
	for _, l := range e.Links {
		if l.Title == "pdf" {
			cand.PDFURL = l.Href
			break
		}
	}
	if t, err := time.Parse(time.RFC3339, e.Published); err == nil {
		cand.Published = t
	}
	return cand
}

// extractArxivID pulls "2301.07041" out of an abs URL, dropping any version
// suffix.
func extractArxivID(absURL string) string {
	const prefix = "/abs/"
	idx := strings.Index(absURL, prefix)
	if idx < 0 {
		return ""
	}
	id := absURL[idx+len(prefix):]
	if vIdx := strings.LastIndex(id, "v"); vIdx > 0 {
		if isDigits(id[vIdx+1:]) {
			id = id[:vIdx]
		}
	}
	return id
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func sanitizeFileName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return strings.Trim(b.String(), "._")
}
