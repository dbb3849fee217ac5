package reader

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestCleanTextCollapsesWhitespaceAndPreservesParagraphs(t *testing.T) {
	t.Parallel()

	input := "  First   paragraph \n\n Second\tparagraph \r\n\r\nThird line "
	got := CleanText(input)
	want := "First paragraph\n\nSecond paragraph\n\nThird line"
	if got != want {
		t.Fatalf("CleanText mismatch\nwant: %q\ngot:  %q", want, got)
	}
}

func TestFetchText_PlainText(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("  regulator   fined the company \n\n ten million  "))
	}))
	defer server.Close()

	text, err := FetchTextWithOptions(context.Background(), server.URL, FetchOptions{Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "regulator fined the company\n\nten million"
	if text != want {
		t.Fatalf("unexpected text: %q", text)
	}
}

func TestFetchText_NonSuccessStatus(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer server.Close()

	if _, err := FetchTextWithOptions(context.Background(), server.URL, FetchOptions{Timeout: 5 * time.Second}); err == nil {
		t.Fatalf("expected error for 404 response")
	}
}

func TestFetchText_EmptyURL(t *testing.T) {
	t.Parallel()

	if _, err := FetchTextWithOptions(context.Background(), "  ", FetchOptions{}); err == nil {
		t.Fatalf("expected error for empty URL")
	}
}
