package source

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paperharvest/paperharvest/internal/paper"
)

func atomEntry(id int) string {
	return fmt.Sprintf(`<entry>
	<id>http://arxiv.org/abs/2301.%05dv1</id>
	<title>Paper %d
	  with a wrapped title</title>
	<summary> An abstract for paper %d. </summary>
	<published>2026-08-0%dT00:00:00Z</published>
	<author><name>A. Author</name></author>
	<author><name>B. Author</name></author>
	<link href="http://arxiv.org/abs/2301.%05dv1" rel="alternate" type="text/html"/>
	<link href="http://arxiv.org/pdf/2301.%05dv1" rel="related" title="pdf" type="application/pdf"/>
</entry>`, id, id, id, id%9+1, id, id)
}

func atomFeed(from, count int) string {
	body := `<?xml version="1.0" encoding="UTF-8"?><feed xmlns="http://www.w3.org/2005/Atom">`
	for i := 0; i < count; i++ {
		body += atomEntry(from + i)
	}
	return body + `</feed>`
}

func TestArxivSearchParsesFeed(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Query().Get("search_query"), "all:")
		fmt.Fprint(w, atomFeed(1, 2))
	}))
	t.Cleanup(srv.Close)

	a := NewArxiv(ArxivConfig{BaseURL: srv.URL, Client: srv.Client()}, nil)
	cursor, err := a.Search(context.Background(), paper.SearchRequest{Query: "transformer attention"})
	require.NoError(t, err)
	defer cursor.Close()

	batch, err := cursor.Next(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, batch, 2)

	first := batch[0]
	assert.Equal(t, "Paper 1 with a wrapped title", first.Title, "whitespace in titles is collapsed")
	assert.Equal(t, "An abstract for paper 1.", first.Abstract)
	assert.Equal(t, "http://arxiv.org/abs/2301.00001v1", first.URL)
	assert.Equal(t, "http://arxiv.org/pdf/2301.00001v1", first.PDFURL)
	assert.Equal(t, []string{"A. Author", "B. Author"}, first.Authors)
	assert.False(t, first.Published.IsZero())

	// Short page ends the stream.
	batch, err = cursor.Next(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, batch)
}

func TestArxivCursorPagination(t *testing.T) {
	t.Parallel()

	var starts []int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start, _ := strconv.Atoi(r.URL.Query().Get("start"))
		max, _ := strconv.Atoi(r.URL.Query().Get("max_results"))
		starts = append(starts, start)
		count := max
		if start+count > 5 {
			count = 5 - start
		}
		fmt.Fprint(w, atomFeed(start+1, count))
	}))
	t.Cleanup(srv.Close)

	a := NewArxiv(ArxivConfig{BaseURL: srv.URL, Client: srv.Client()}, nil)
	cursor, err := a.Search(context.Background(), paper.SearchRequest{Query: "transformer"})
	require.NoError(t, err)
	defer cursor.Close()

	var total int
	for {
		batch, err := cursor.Next(context.Background(), 2)
		require.NoError(t, err)
		if len(batch) == 0 {
			break
		}
		total += len(batch)
	}
	assert.Equal(t, 5, total)
	assert.Equal(t, []int{0, 2, 4}, starts)
}

func TestArxivCursorHonorsMaxResults(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		max, _ := strconv.Atoi(r.URL.Query().Get("max_results"))
		start, _ := strconv.Atoi(r.URL.Query().Get("start"))
		fmt.Fprint(w, atomFeed(start+1, max))
	}))
	t.Cleanup(srv.Close)

	a := NewArxiv(ArxivConfig{BaseURL: srv.URL, Client: srv.Client()}, nil)
	cursor, err := a.Search(context.Background(), paper.SearchRequest{Query: "transformer", MaxResults: 3})
	require.NoError(t, err)
	defer cursor.Close()

	var total int
	for {
		batch, err := cursor.Next(context.Background(), 10)
		require.NoError(t, err)
		if len(batch) == 0 {
			break
		}
		total += len(batch)
	}
	assert.Equal(t, 3, total)
}

func TestArxivSearchRejectsEmptyQuery(t *testing.T) {
	t.Parallel()

	a := NewArxiv(ArxivConfig{}, nil)
	_, err := a.Search(context.Background(), paper.SearchRequest{Query: "   "})
	assert.Error(t, err)
}

func TestArxivDownload(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("%PDF-1.5 fake body"))
	}))
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	a := NewArxiv(ArxivConfig{DownloadDir: dir, Client: srv.Client()}, nil)

	path, err := a.Download(context.Background(), paper.Candidate{
		URL:    "https://arxiv.org/abs/2301.00001v2",
		PDFURL: srv.URL + "/pdf/2301.00001",
	})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "2301.00001.pdf"), path, "version suffix is stripped from the file name")

	body, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(body), "%PDF")
}

func TestArxivDownloadRequiresPDFURL(t *testing.T) {
	t.Parallel()

	a := NewArxiv(ArxivConfig{DownloadDir: t.TempDir()}, nil)
	_, err := a.Download(context.Background(), paper.Candidate{URL: "https://arxiv.org/abs/1"})
	assert.Error(t, err)
}

func TestExtractArxivID(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "2301.07041", extractArxivID("http://arxiv.org/abs/2301.07041v1"))
	assert.Equal(t, "2301.07041", extractArxivID("https://arxiv.org/abs/2301.07041"))
	assert.Equal(t, "", extractArxivID("https://example.org/paper"))
}
