package stock

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/omahaaigc/agent-chat/internal/domain"
)

type fakeSource struct {
	mu    sync.Mutex
	calls []string
	body  string
	err   error
}

func (f *fakeSource) SearchStocks(_ context.Context, key string) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, key)
	if f.err != nil {
		return nil, f.err
	}
	return json.RawMessage(f.body), nil
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		body string
		want []domain.StockItem
	}{
		{
			name: "wrapped data with ts_code",
			body: `{"data":[{"ts_code":"000063.SZ","name":"中兴通讯"}]}`,
			want: []domain.StockItem{{Code: "000063.SZ", Name: "中兴通讯"}},
		},
		{
			name: "bare array with fallback keys",
			body: `[{"symbol":"600519","security_name_abbr":"贵州茅台"},{"code":"000001"}]`,
			want: []domain.StockItem{
				{Code: "600519", Name: "贵州茅台"},
				{Code: "000001", Name: "000001"},
			},
		},
		{
			name: "falsy values skip to next key",
			body: `[{"ts_code":"","tsCode":0,"code":600519,"name":"","cname":"茅台"}]`,
			want: []domain.StockItem{{Code: "600519", Name: "茅台"}},
		},
		{
			name: "entries without code are dropped",
			body: `{"data":[{"name":"orphan"},"junk",null]}`,
			want: []domain.StockItem{},
		},
		{
			name: "unexpected shape",
			body: `{"data":{"ts_code":"x"}}`,
			want: []domain.StockItem{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize([]byte(tt.body))
			if err != nil {
				t.Fatalf("Normalize failed: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Fatalf("Normalize mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSearchEmptyQuerySkipsUpstream(t *testing.T) {
	src := &fakeSource{body: `[]`}
	s := NewSearcher(src, 0)
	defer s.Close()

	for _, q := range []string{"", "   ", "　"} {
		items, err := s.Search(context.Background(), q)
		if err != nil {
			t.Fatalf("Search(%q) failed: %v", q, err)
		}
		if len(items) != 0 {
			t.Fatalf("expected empty result for %q, got %v", q, items)
		}
	}
	if src.callCount() != 0 {
		t.Fatalf("expected no upstream calls, got %d", src.callCount())
	}
}

func TestSearchNormalizesAndCaches(t *testing.T) {
	src := &fakeSource{body: `{"data":[{"ts_code":"000063.SZ","name":"中兴通讯"}]}`}
	s := NewSearcher(src, time.Minute)
	defer s.Close()

	for i := 0; i < 2; i++ {
		items, err := s.Search(context.Background(), " 中兴 ")
		if err != nil {
			t.Fatalf("Search failed: %v", err)
		}
		want := []domain.StockItem{{Code: "000063.SZ", Name: "中兴通讯"}}
		if diff := cmp.Diff(want, items); diff != "" {
			t.Fatalf("unexpected items (-want +got):\n%s", diff)
		}
	}
	if src.callCount() != 1 {
		t.Fatalf("expected one upstream call, got %d", src.callCount())
	}
	if src.calls[0] != "中兴" {
		t.Fatalf("expected trimmed key, got %q", src.calls[0])
	}
}

func TestSearchSurfacesError(t *testing.T) {
	src := &fakeSource{err: errors.New("503: unavailable")}
	s := NewSearcher(src, 0)
	if _, err := s.Search(context.Background(), "abc"); err == nil || err.Error() != "503: unavailable" {
		t.Fatalf("expected upstream error, got %v", err)
	}
}

func TestNormalizeQueryFoldsFullWidth(t *testing.T) {
	if got := NormalizeQuery("ＺＴＥ　"); got != "ZTE" {
		t.Fatalf("expected ZTE, got %q", got)
	}
}

func TestDebouncerDeliversOnlyLatest(t *testing.T) {
	var searches atomic.Int32
	results := make(chan Result, 4)
	d := NewDebouncer(30*time.Millisecond, func(_ context.Context, q string) ([]domain.StockItem, error) {
		searches.Add(1)
		return []domain.StockItem{{Code: q}}, nil
	}, func(r Result) { results <- r })
	defer d.Stop()

	d.Submit("z")
	d.Submit("zh")
	d.Submit("zte")

	select {
	case r := <-results:
		if r.Query != "zte" {
			t.Fatalf("expected latest query, got %q", r.Query)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for debounced result")
	}

	select {
	case r := <-results:
		t.Fatalf("unexpected extra result %+v", r)
	case <-time.After(100 * time.Millisecond):
	}
	if n := searches.Load(); n != 1 {
		t.Fatalf("expected exactly one search, got %d", n)
	}
}

func TestDebouncerCancelsInFlightSearch(t *testing.T) {
	started := make(chan struct{})
	cancelled := make(chan struct{})
	results := make(chan Result, 4)

	d := NewDebouncer(10*time.Millisecond, func(ctx context.Context, q string) ([]domain.StockItem, error) {
		if q == "slow" {
			close(started)
			<-ctx.Done()
			close(cancelled)
			return nil, ctx.Err()
		}
		return []domain.StockItem{{Code: q}}, nil
	}, func(r Result) { results <- r })
	defer d.Stop()

	d.Submit("slow")
	<-started
	d.Submit("fast")

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("in-flight search was not cancelled")
	}
	select {
	case r := <-results:
		if r.Query != "fast" || r.Err != nil {
			t.Fatalf("unexpected result %+v", r)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for result")
	}
}
