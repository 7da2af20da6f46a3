package websearch

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

const samplePage = `<html><body>
<div class="result results_links results_links_deep web-result">
  <a class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fexample.edu%2Ftuyensinh&amp;rut=abc">Tuyển sinh 2026</a>
  <a class="result__snippet" href="https://example.edu/tuyensinh">Thông tin tuyển sinh đại học chính quy.</a>
</div>
<div class="result results_links results_links_deep web-result">
  <a class="result__a" href="https://example.edu/hocphi">Học phí</a>
  <a class="result__snippet" href="https://example.edu/hocphi">Biểu học phí năm học mới.</a>
</div>
<div class="result results_links">
  <a class="result__a" href="">missing url</a>
</div>
</body></html>`

func TestSearchParsesResults(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("q"); got != "tuyển sinh" {
			t.Errorf("unexpected query: %q", got)
		}
		io.WriteString(w, samplePage)
	}))
	defer server.Close()

	d := NewDuckDuckGo(server.URL)
	results, err := d.Search(context.Background(), "tuyển sinh", 5)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].URL != "https://example.edu/tuyensinh" {
		t.Errorf("redirect not unwrapped: %q", results[0].URL)
	}
	if results[0].Title != "Tuyển sinh 2026" {
		t.Errorf("wrong title: %q", results[0].Title)
	}
	if results[1].Snippet == "" {
		t.Error("snippet missing")
	}
}

func TestSearchMaxResults(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, samplePage)
	}))
	defer server.Close()

	d := NewDuckDuckGo(server.URL)
	results, err := d.Search(context.Background(), "q", 1)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
}

func TestSearchRequiresQuery(t *testing.T) {
	d := NewDuckDuckGo("http://unused")
	if _, err := d.Search(context.Background(), "", 5); err == nil {
		t.Fatal("expected error for empty query")
	}
}
