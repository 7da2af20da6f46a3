package crawler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"uniassist/internal/errkind"
)

const samplePage = `<html>
<head><title>Phòng Đào tạo - Thông báo</title><style>.x{color:red}</style></head>
<body>
<nav>Trang chủ | Giới thiệu | Liên hệ</nav>
<script>console.log("tracking")</script>
<div id="main">
  <h1>Lịch thi học kỳ 1</h1>
  <p>Lịch thi dự kiến bắt đầu  từ   ngày 05/01/2026.</p>
  <ul><li>Khoa CNTT</li><li>Khoa Kinh tế</li></ul>
</div>
<footer>Bản quyền thuộc về trường</footer>
</body></html>`

func TestHTTPFetcherExtractsText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, samplePage)
	}))
	defer server.Close()

	f := NewHTTPFetcher()
	page, err := f.Fetch(context.Background(), server.URL, "")
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if page.Title != "Phòng Đào tạo - Thông báo" {
		t.Errorf("wrong title: %q", page.Title)
	}
	if !strings.Contains(page.Content, "Lịch thi học kỳ 1") {
		t.Errorf("heading missing from content: %q", page.Content)
	}
	if !strings.Contains(page.Content, "- Khoa CNTT") {
		t.Errorf("list items missing: %q", page.Content)
	}
	if strings.Contains(page.Content, "tracking") || strings.Contains(page.Content, "color:red") {
		t.Errorf("script/style leaked into content: %q", page.Content)
	}
	if strings.Contains(page.Content, "Trang chủ |") || strings.Contains(page.Content, "Bản quyền") {
		t.Errorf("nav/footer chrome leaked into content: %q", page.Content)
	}
	if strings.Contains(page.Content, "từ   ngày") {
		t.Errorf("whitespace runs not collapsed: %q", page.Content)
	}
	if page.FetchedAt.IsZero() {
		t.Error("fetched_at not set")
	}
}

func TestHTTPFetcherSelectorNarrowsExtraction(t *testing.T) {
	const page = `<html><body>
	<div id="sidebar">Quảng cáo sự kiện</div>
	<div id="content"><p>Chỉ phần này được lấy.</p></div>
	</body></html>`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, page)
	}))
	defer server.Close()

	f := NewHTTPFetcher()
	got, err := f.Fetch(context.Background(), server.URL, "#content")
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if !strings.Contains(got.Content, "Chỉ phần này được lấy.") {
		t.Errorf("selected content missing: %q", got.Content)
	}
	if strings.Contains(got.Content, "Quảng cáo") {
		t.Errorf("content outside selector leaked: %q", got.Content)
	}
}

func TestHTTPFetcherStatusErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/rate":
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	f := NewHTTPFetcher()
	_, err := f.Fetch(context.Background(), server.URL+"/rate", "")
	if !errkind.Is(err, errkind.RateLimited) {
		t.Errorf("expected RateLimited, got %v", err)
	}
	_, err = f.Fetch(context.Background(), server.URL+"/missing", "")
	if !errkind.Is(err, errkind.DependencyUnavailable) {
		t.Errorf("expected DependencyUnavailable, got %v", err)
	}
}

func TestHTTPFetcherPlainText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprint(w, "nội dung thuần văn bản")
	}))
	defer server.Close()

	f := NewHTTPFetcher()
	page, err := f.Fetch(context.Background(), server.URL, "")
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if page.Content != "nội dung thuần văn bản" {
		t.Errorf("plain text mangled: %q", page.Content)
	}
}

func TestBrowserFetcherFallsBack(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, samplePage)
	}))
	defer server.Close()

	// Point the fetcher at a debugger that does not exist so the browser
	// path fails fast and the HTTP fallback takes over.
	f := NewBrowserFetcher(BrowserConfig{DebuggerURL: "ws://127.0.0.1:1/never"}, NewHTTPFetcher(), nil)
	page, err := f.Fetch(context.Background(), server.URL, "")
	if err != nil {
		t.Fatalf("fallback fetch failed: %v", err)
	}
	if !strings.Contains(page.Content, "Lịch thi học kỳ 1") {
		t.Errorf("fallback content missing: %q", page.Content)
	}
}
