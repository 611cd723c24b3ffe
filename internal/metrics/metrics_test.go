package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"just host", "example.com", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"ip address", "192.168.1.1", "192.168.1.1"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInitIsIdempotent(t *testing.T) {
	Init()
	first := syncRunsTotal
	Init()
	if syncRunsTotal == nil || syncRunsTotal != first {
		t.Fatal("Init() should build collectors exactly once")
	}
}

func TestObservers(t *testing.T) {
	ObserveRun("success", 2*time.Second)
	if val := testutil.ToFloat64(syncRunsTotal.WithLabelValues("success")); val < 1 {
		t.Errorf("expected a successful run to be counted, got %f", val)
	}

	before := testutil.ToFloat64(syncPostsTotal.WithLabelValues("gvb", "ingested"))
	ObservePosts("gvb", "ingested", 3)
	ObservePosts("gvb", "ingested", 0)
	if val := testutil.ToFloat64(syncPostsTotal.WithLabelValues("gvb", "ingested")); val != before+3 {
		t.Errorf("expected ingested posts to grow by 3, got %f -> %f", before, val)
	}

	ObserveFetch("https://Pitchfork.com/reviews/1", "colly", "200", 512)
	if val := testutil.ToFloat64(scrapeBytesTotal.WithLabelValues("pitchfork.com")); val < 512 {
		t.Errorf("expected fetched bytes recorded, got %f", val)
	}

	at := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	SetCheckpoint(at)
	if val := testutil.ToFloat64(syncCheckpointTimestampSecond); val != float64(at.Unix()) {
		t.Errorf("expected checkpoint gauge %d, got %f", at.Unix(), val)
	}
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://google.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
