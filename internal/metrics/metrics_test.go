package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSiteLabel(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"configured name", "Market", "market"},
		{"padded", "  Vinted ", "vinted"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SiteLabel(tc.input); got != tc.expected {
				t.Errorf("SiteLabel(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()

	if extractStrategyTotal == nil || imageFetchTotal == nil || sessionsActive == nil ||
		httpRequestsTotal == nil || httpRequestDurationSeconds == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObserveStrategySkipsEmpty(t *testing.T) {
	Init()
	before := testutil.ToFloat64(extractStrategyTotal.WithLabelValues("size-filter"))
	ObserveStrategy("size-filter", 0)
	ObserveStrategy("size-filter", 3)
	if got := testutil.ToFloat64(extractStrategyTotal.WithLabelValues("size-filter")); got != before+1 {
		t.Errorf("expected one observation, got %f", got-before)
	}
}

func TestSessionGauge(t *testing.T) {
	Init()
	SetActiveSessions(2)
	IncActiveSessions()
	before := testutil.ToFloat64(sessionsExpiredTotal)
	ObserveSessionExpired()
	if got := testutil.ToFloat64(sessionsActive); got != 2 {
		t.Errorf("expected 2 active sessions, got %f", got)
	}
	if got := testutil.ToFloat64(sessionsExpiredTotal); got != before+1 {
		t.Errorf("expected expired counter to grow by one, got %f", got-before)
	}
}

func TestObserveExtractRequestLabelsSite(t *testing.T) {
	Init()
	ObserveExtractRequest("Market", "success")
	if got := testutil.ToFloat64(extractRequestsTotal.WithLabelValues("market", "success")); got < 1 {
		t.Errorf("expected request to be counted, got %f", got)
	}
}

func TestObserveFetchThrottle(t *testing.T) {
	Init()
	ObserveFetchThrottle("cdn.throttle.test", 250*time.Millisecond)

	if got := testutil.CollectAndCount(fetchThrottleSeconds, "archiver_fetch_throttle_seconds"); got < 1 {
		t.Fatalf("expected throttle histogram series, got %d", got)
	}
}
