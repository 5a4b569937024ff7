package metrics

import (
	"errors"
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

func TestInit(t *testing.T) {
	// Call Init multiple times to test idempotency.
	Init()
	Init()

	if httpRequestsTotal == nil || httpRequestDurationSeconds == nil ||
		robotsFallbackTotal == nil || checkpointFlushesTotal == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}

	before := testutil.ToFloat64(robotsFallbackTotal)
	ObserveRobotsFallback()
	if val := testutil.ToFloat64(robotsFallbackTotal); val != before+1 {
		t.Errorf("Expected robotsFallbackTotal to be %f, got %f", before+1, val)
	}
}

func TestObserveCheckpointFlush(t *testing.T) {
	Init()

	okBefore := testutil.ToFloat64(checkpointFlushesTotal.WithLabelValues("success"))
	errBefore := testutil.ToFloat64(checkpointFlushesTotal.WithLabelValues("error"))

	ObserveCheckpointFlush(nil, 10*time.Millisecond)
	ObserveCheckpointFlush(errors.New("disk full"), time.Millisecond)

	if val := testutil.ToFloat64(checkpointFlushesTotal.WithLabelValues("success")); val != okBefore+1 {
		t.Errorf("Expected success flushes %f, got %f", okBefore+1, val)
	}
	if val := testutil.ToFloat64(checkpointFlushesTotal.WithLabelValues("error")); val != errBefore+1 {
		t.Errorf("Expected error flushes %f, got %f", errBefore+1, val)
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
