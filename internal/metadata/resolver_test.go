package metadata

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

// ///////////////////////////////////////////////
// Test Helpers
// ///////////////////////////////////////////////

// fakeAPI serves /api/metadata/{kind} with handler and counts requests.
type fakeAPI struct {
	*httptest.Server
	hits atomic.Int32
}

func newFakeAPI(t *testing.T, handler http.HandlerFunc) *fakeAPI {
	t.Helper()
	f := &fakeAPI{}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.hits.Add(1)
		handler(w, r)
	}))
	t.Cleanup(f.Close)
	return f
}

func newResolver(t *testing.T, opts Options) *Resolver {
	t.Helper()
	r, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r
}

func respond(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) { fmt.Fprint(w, body) }
}

// ///////////////////////////////////////////////
// Resolve
// ///////////////////////////////////////////////

func TestResolve_CachesFoundResults(t *testing.T) {
	var gotPath, gotQuery, gotUUID, gotVersion string
	api := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.Query().Get("q")
		gotUUID = r.Header.Get("X-Client-UUID")
		gotVersion = r.Header.Get("X-App-Version")
		fmt.Fprint(w, `{"found":true,"image":"https://img/arrival.jpg","title":"Arrival (2016)","line1":"Arrival","line2":"Denis Villeneuve","url":"https://tmdb/329865"}`)
	})
	res := newResolver(t, Options{BaseURL: api.URL + "/", ClientUUID: "uuid-1", AppVersion: "2.3.0"})

	want := Result{
		Found: true,
		Image: "https://img/arrival.jpg",
		Title: "Arrival (2016)",
		Line1: "Arrival",
		Line2: "Denis Villeneuve",
		URL:   "https://tmdb/329865",
	}
	for i := range 2 {
		got := res.Resolve(context.Background(), KindMovie, "Arrival")
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("call %d mismatch (-want +got):\n%s", i, diff)
		}
	}

	if n := api.hits.Load(); n != 1 {
		t.Errorf("network calls = %d, want 1", n)
	}
	if gotPath != "/api/metadata/movie" || gotQuery != "Arrival" {
		t.Errorf("request = %s?q=%s", gotPath, gotQuery)
	}
	if gotUUID != "uuid-1" || gotVersion != "2.3.0" {
		t.Errorf("headers = %q / %q", gotUUID, gotVersion)
	}
}

func TestResolve_KeyIncludesKind(t *testing.T) {
	api := newFakeAPI(t, respond(`{"found":true,"image":"x"}`))
	res := newResolver(t, Options{BaseURL: api.URL})

	res.Resolve(context.Background(), KindMusic, "Dune")
	res.Resolve(context.Background(), KindBook, "Dune")
	res.Resolve(context.Background(), KindBook, "Dune")

	if n := api.hits.Load(); n != 2 {
		t.Errorf("network calls = %d, want 2 (one per kind)", n)
	}
}

func TestResolve_NotFoundIsNeverCached(t *testing.T) {
	api := newFakeAPI(t, respond(`{"found":false}`))
	res := newResolver(t, Options{BaseURL: api.URL})

	for range 3 {
		if got := res.Resolve(context.Background(), KindTV, "Unknown Show"); got.Found {
			t.Fatalf("expected not found, got %+v", got)
		}
	}
	if n := api.hits.Load(); n != 3 {
		t.Errorf("network calls = %d, want 3", n)
	}
	if res.Cached() != 0 {
		t.Errorf("Cached() = %d, want 0", res.Cached())
	}
}

func TestResolve_FailuresDegradeToNotFound(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		timeout time.Duration
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusBadGateway) }, 0},
		{"not found status", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNotFound) }, 0},
		{"malformed body", respond(`{"found": tru`), 0},
		{"timeout", func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		}, 50 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newFakeAPI(t, tt.handler)
			res := newResolver(t, Options{BaseURL: api.URL, Timeout: tt.timeout})

			if got := res.Resolve(context.Background(), KindMovie, "Arrival"); got != (Result{}) {
				t.Errorf("Resolve = %+v, want zero Result", got)
			}
			if res.Cached() != 0 {
				t.Error("failed lookups must not be cached")
			}
		})
	}
}

func TestResolve_SkipsNetwork(t *testing.T) {
	api := newFakeAPI(t, respond(`{"found":true}`))

	tests := []struct {
		name  string
		opts  Options
		kind  Kind
		query string
	}{
		{"disabled", Options{}, KindMovie, "Arrival"},
		{"empty query", Options{BaseURL: api.URL}, KindMovie, "   "},
		{"unknown kind", Options{BaseURL: api.URL}, Kind("podcast"), "Serial"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := newResolver(t, tt.opts)
			if got := res.Resolve(context.Background(), tt.kind, tt.query); got.Found {
				t.Errorf("expected not found, got %+v", got)
			}
		})
	}
	if n := api.hits.Load(); n != 0 {
		t.Errorf("network calls = %d, want 0", n)
	}
}

func TestResolve_CacheIsBounded(t *testing.T) {
	api := newFakeAPI(t, respond(`{"found":true,"image":"x"}`))
	res := newResolver(t, Options{BaseURL: api.URL, CacheSize: 2})

	for _, q := range []string{"a", "b", "c"} {
		res.Resolve(context.Background(), KindMovie, q)
	}
	if res.Cached() != 2 {
		t.Errorf("Cached() = %d, want 2", res.Cached())
	}

	// "a" was evicted as least recently used.
	res.Resolve(context.Background(), KindMovie, "a")
	if n := api.hits.Load(); n != 4 {
		t.Errorf("network calls = %d, want 4", n)
	}
}

// ///////////////////////////////////////////////
// Circuit Breaker
// ///////////////////////////////////////////////

func TestResolve_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	api := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusServiceUnavailable) })
	res := newResolver(t, Options{BaseURL: api.URL, FailureThreshold: 2, OpenFor: time.Hour})

	for range 5 {
		res.Resolve(context.Background(), KindMovie, "Arrival")
	}
	if n := api.hits.Load(); n != 2 {
		t.Errorf("network calls = %d, want 2 before the breaker opened", n)
	}
}

func TestResolve_NotFoundDoesNotTripBreaker(t *testing.T) {
	api := newFakeAPI(t, respond(`{"found":false}`))
	res := newResolver(t, Options{BaseURL: api.URL, FailureThreshold: 1, OpenFor: time.Hour})

	for range 3 {
		res.Resolve(context.Background(), KindMovie, "Arrival")
	}
	if n := api.hits.Load(); n != 3 {
		t.Errorf("network calls = %d, want 3", n)
	}
}

func TestResolve_BreakerRecovers(t *testing.T) {
	var healthy atomic.Bool
	api := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		if !healthy.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, `{"found":true,"image":"x"}`)
	})
	res := newResolver(t, Options{BaseURL: api.URL, FailureThreshold: 1, OpenFor: 50 * time.Millisecond})

	res.Resolve(context.Background(), KindMovie, "Arrival")
	healthy.Store(true)
	if got := res.Resolve(context.Background(), KindMovie, "Arrival"); got.Found {
		t.Fatal("open breaker should short-circuit")
	}

	time.Sleep(100 * time.Millisecond)
	if got := res.Resolve(context.Background(), KindMovie, "Arrival"); !got.Found {
		t.Fatal("half-open breaker should let a probe through")
	}
}
