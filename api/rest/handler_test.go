package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/dLock/lib/db"
	"github.com/ValentinKolb/dLock/lib/db/engines/cedar"
	"github.com/ValentinKolb/dLock/lib/lease"
	"github.com/ValentinKolb/dLock/lib/store/lstore"
)

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

var t0 = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	server *httptest.Server
	clock  *lease.ManualClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := lstore.NewLocalStore(func() db.ILockTable { return cedar.NewCedarDB(nil) })
	t.Cleanup(func() { s.Close() })

	clock := lease.NewManualClock(t0)
	metrics := lease.NewMetrics()
	mgr := lease.NewLockManager(s,
		lease.WithClock(clock),
		lease.WithMetrics(metrics),
		lease.WithResourceTypes(db.ResourceTypeCourse),
	)

	srv := httptest.NewServer(NewRouter(NewHandler(mgr, metrics), true))
	t.Cleanup(srv.Close)
	return &fixture{server: srv, clock: clock}
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}, out interface{}) int {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, f.server.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := f.server.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("%s %s: decode response: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func (f *fixture) acquire(t *testing.T, owner string, minutes float64) (int, AcquireLockResponse) {
	t.Helper()
	var resp AcquireLockResponse
	code := f.do(t, http.MethodPost, "/locks/Course/c1", AcquireLockRequest{
		OwnerID:         owner,
		OwnerDisplay:    "Display " + owner,
		DurationMinutes: minutes,
	}, &resp)
	return code, resp
}

// failingManager fails every call with err
type failingManager struct{ err error }

func (m failingManager) CheckLock(context.Context, db.Key) (lease.Status, error) {
	return lease.Status{}, m.err
}
func (m failingManager) AcquireLock(context.Context, lease.AcquireRequest) (lease.AcquireResult, error) {
	return lease.AcquireResult{}, m.err
}
func (m failingManager) ReleaseLock(context.Context, db.Key, string) (lease.ReleaseResult, error) {
	return lease.ReleaseResult{}, m.err
}
func (m failingManager) ForceRelease(context.Context, db.Key) (lease.ReleaseResult, error) {
	return lease.ReleaseResult{}, m.err
}
func (m failingManager) ReleaseAllForOwner(context.Context, string) (int, error) { return 0, m.err }
func (m failingManager) SweepExpired(context.Context) (int, error) { return 0, m.err }

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func TestAcquireLifecycle(t *testing.T) {
	f := newFixture(t)

	code, resp := f.acquire(t, "A", 15)
	if code != http.StatusCreated || resp.Result != "acquired" {
		t.Fatalf("A acquire = %d %s, want 201 acquired", code, resp.Result)
	}
	if !resp.Lock.ExpiresAt.Equal(t0.Add(15 * time.Minute)) {
		t.Errorf("expires_at = %s", resp.Lock.ExpiresAt)
	}

	// conflict names the holder
	f.clock.Set(t0.Add(5 * time.Minute))
	code, resp = f.acquire(t, "B", 15)
	if code != http.StatusConflict || resp.Holder == nil {
		t.Fatalf("B acquire = %d %+v, want 409 with holder", code, resp)
	}
	if resp.Holder.OwnerDisplay != "Display A" || !resp.Holder.ExpiresAt.Equal(t0.Add(15*time.Minute)) {
		t.Errorf("holder = %+v", resp.Holder)
	}
	if resp.Lock != nil {
		t.Errorf("conflict must not carry a lock")
	}

	// refresh
	f.clock.Set(t0.Add(10 * time.Minute))
	code, resp = f.acquire(t, "A", 15)
	if code != http.StatusOK || resp.Result != "refreshed" {
		t.Fatalf("A refresh = %d %s, want 200 refreshed", code, resp.Result)
	}

	// reclaim after expiry
	f.clock.Set(t0.Add(26 * time.Minute))
	code, resp = f.acquire(t, "B", 15)
	if code != http.StatusCreated || resp.Result != "reclaimed" {
		t.Fatalf("B reclaim = %d %s, want 201 reclaimed", code, resp.Result)
	}

	var status LockStatusResponse
	if code := f.do(t, http.MethodGet, "/locks/Course/c1", nil, &status); code != http.StatusOK {
		t.Fatalf("check = %d", code)
	}
	if !status.Locked || status.Lock.OwnerID != "B" {
		t.Errorf("check = %+v, want locked by B", status)
	}
}

func TestRelease(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		success bool
		reason  string
	}{
		{"Owner", "?owner_id=A", true, "released"},
		{"NotOwner", "?owner_id=B", false, "not_owner"},
		{"Force", "?force=true", true, "released"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.acquire(t, "A", 15)

			var resp ReleaseLockResponse
			code := f.do(t, http.MethodDelete, "/locks/Course/c1"+tt.query, nil, &resp)
			if code != http.StatusOK || resp.Success != tt.success || resp.Reason != tt.reason {
				t.Errorf("release%s = %d %+v, want %v %s", tt.query, code, resp, tt.success, tt.reason)
			}
		})
	}

	t.Run("NotFound", func(t *testing.T) {
		f := newFixture(t)
		var resp ReleaseLockResponse
		f.do(t, http.MethodDelete, "/locks/Course/unknown?owner_id=A", nil, &resp)
		if resp.Success || resp.Reason != "not_found" {
			t.Errorf("release of a free key = %+v", resp)
		}
	})
}

func TestReleaseAllAndSweep(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 3; i++ {
		path := fmt.Sprintf("/locks/Course/c%d", i)
		f.do(t, http.MethodPost, path, AcquireLockRequest{OwnerID: "A", DurationMinutes: 15}, nil)
	}
	f.do(t, http.MethodPost, "/locks/Course/other", AcquireLockRequest{OwnerID: "B", DurationMinutes: 1}, nil)

	var count CountResponse
	if code := f.do(t, http.MethodDelete, "/owners/A/locks", nil, &count); code != http.StatusOK || count.Count != 3 {
		t.Errorf("release all = %d %+v, want 3", code, count)
	}

	f.clock.Advance(2 * time.Minute)
	if code := f.do(t, http.MethodPost, "/sweep", nil, &count); code != http.StatusOK || count.Count != 1 {
		t.Errorf("sweep = %d %+v, want 1", code, count)
	}
}

func TestBadRequests(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
	}{
		{"UnknownResourceType", http.MethodPost, "/locks/Exam/e1", AcquireLockRequest{OwnerID: "A"}},
		{"MissingOwner", http.MethodPost, "/locks/Course/c1", AcquireLockRequest{}},
		{"InvalidMode", http.MethodPost, "/locks/Course/c1", AcquireLockRequest{OwnerID: "A", Mode: "exclusive"}},
		{"NegativeDuration", http.MethodPost, "/locks/Course/c1", AcquireLockRequest{OwnerID: "A", DurationMinutes: -1}},
		{"InvalidBody", http.MethodPost, "/locks/Course/c1", "not an object"},
		{"ReleaseWithoutOwner", http.MethodDelete, "/locks/Course/c1", nil},
		{"InvalidForce", http.MethodDelete, "/locks/Course/c1?force=maybe", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp ErrorResponse
			if code := f.do(t, tt.method, tt.path, tt.body, &resp); code != http.StatusBadRequest {
				t.Errorf("%s %s = %d, want 400", tt.method, tt.path, code)
			}
			if resp.Error == "" {
				t.Errorf("error response without message")
			}
		})
	}
}

func TestHugeDurationIsCapped(t *testing.T) {
	f := newFixture(t)

	code, resp := f.acquire(t, "A", 1e300)
	if code != http.StatusCreated || resp.Lock == nil {
		t.Fatalf("acquire = %d %+v, want 201", code, resp)
	}
	if got := resp.Lock.ExpiresAt.Sub(resp.Lock.AcquiredAt); got != lease.DefaultMaxDuration {
		t.Errorf("lease duration = %s, want the max duration %s", got, lease.DefaultMaxDuration)
	}

	tests := []struct {
		minutes float64
		want    time.Duration
	}{
		{0, 0},
		{1.5, 90 * time.Second},
		{1e300, time.Duration(math.MaxInt64)},
		{float64(math.MaxInt64), time.Duration(math.MaxInt64)},
	}
	for _, tt := range tests {
		if got := minutesToDuration(tt.minutes); got != tt.want {
			t.Errorf("minutesToDuration(%g) = %s, want %s", tt.minutes, got, tt.want)
		}
	}
}

func TestStoreUnavailable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"Unavailable", fmt.Errorf("acquire: %w", lease.ErrStoreUnavailable), http.StatusServiceUnavailable},
		{"Contention", lease.ErrContention, http.StatusServiceUnavailable},
		{"Unknown", fmt.Errorf("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(NewRouter(NewHandler(failingManager{tt.err}, nil), false))
			defer srv.Close()

			resp, err := srv.Client().Post(srv.URL+"/locks/Course/c1", "application/json",
				strings.NewReader(`{"owner_id":"A"}`))
			if err != nil {
				t.Fatalf("post: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestMetricsAndHealth(t *testing.T) {
	f := newFixture(t)
	f.acquire(t, "A", 15)

	resp, err := f.server.Client().Get(f.server.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)
	resp.Body.Close()
	if !strings.Contains(buf.String(), `dlock_acquire_total{result="acquired"} 1`) {
		t.Errorf("metrics do not count the acquire:\n%s", buf.String())
	}

	resp, err = f.server.Client().Get(f.server.URL + "/health")
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("health = %v, %v", resp, err)
	}
	resp.Body.Close()
}
