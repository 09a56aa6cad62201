package admission

import (
	"context"
	"errors"
	"testing"

	"github.com/adred-codev/pulse/internal/corerr"
	"github.com/adred-codev/pulse/internal/store"
	"github.com/rs/zerolog"
)

func newTestController(t *testing.T, cfg Config) (*Controller, *store.FakeStore) {
	t.Helper()
	s := store.NewFake()
	c := New(s, cfg, zerolog.Nop())
	t.Cleanup(c.Stop)
	return c, s
}

func TestControllerPerSourceLimit(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestController(t, Config{MaxPerSourcePerMinute: 3, MaxGlobalPerSecond: 1000, MaxGlobal: 10000})

	for i := 0; i < 3; i++ {
		if err := c.Check(ctx, "5.6.7.8"); err != nil {
			t.Fatalf("admit %d: unexpected rejection: %v", i, err)
		}
		c.Record("5.6.7.8")
	}

	err := c.Check(ctx, "5.6.7.8")
	if !errors.Is(err, corerr.ErrSourceRateLimited) {
		t.Fatalf("expected ErrSourceRateLimited on 4th admit, got %v", err)
	}

	stats := c.Stats()
	if stats.RejectedSourceLimited != 1 {
		t.Errorf("expected rejected_source_limited=1, got %d", stats.RejectedSourceLimited)
	}
}

func TestControllerGlobalLimit(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestController(t, Config{MaxPerSourcePerMinute: 1000, MaxGlobalPerSecond: 2, MaxGlobal: 10000})

	sources := []string{"1.1.1.1", "2.2.2.2", "3.3.3.3"}
	var lastErr error
	for i, src := range sources {
		err := c.Check(ctx, src)
		if i < 2 {
			if err != nil {
				t.Fatalf("admit %d: unexpected rejection: %v", i, err)
			}
			c.Record(src)
		} else {
			lastErr = err
		}
	}

	if !errors.Is(lastErr, corerr.ErrGlobalRateLimited) {
		t.Fatalf("expected ErrGlobalRateLimited on 3rd admit within the same second, got %v", lastErr)
	}
}

func TestControllerCapacityExceeded(t *testing.T) {
	ctx := context.Background()
	c, s := newTestController(t, Config{MaxPerSourcePerMinute: 1000, MaxGlobalPerSecond: 1000, MaxGlobal: 1})

	if _, err := s.IncrBy(ctx, "global:concurrent_connections", 1); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	err := c.Check(ctx, "9.9.9.9")
	if !errors.Is(err, corerr.ErrCapacityExceeded) {
		t.Fatalf("expected ErrCapacityExceeded, got %v", err)
	}
}

func TestControllerOpensOnStoreFailure(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestController(t, Config{MaxPerSourcePerMinute: 1000, MaxGlobalPerSecond: 1000, MaxGlobal: 1})
	c.store = failingStore{}

	if err := c.Check(ctx, "9.9.9.9"); err != nil {
		t.Fatalf("expected admission to stay open on store failure, got %v", err)
	}
}

// failingStore implements store.Store and fails every call, to
// exercise the "store unavailable on admit" failure path (spec §4.8).
type failingStore struct{}

func (failingStore) Incr(context.Context, string) (int64, error)             { return 0, errFake }
func (failingStore) Decr(context.Context, string) (int64, error)             { return 0, errFake }
func (failingStore) IncrBy(context.Context, string, int64) (int64, error)    { return 0, errFake }
func (failingStore) GetInt(context.Context, string) (int64, bool, error)     { return 0, false, errFake }
func (failingStore) Set(context.Context, string, string) error               { return errFake }
func (failingStore) SetNX(context.Context, string, string, int64) (bool, error) { return false, errFake }
func (failingStore) SetWithTTL(context.Context, string, string, int64) error  { return errFake }
func (failingStore) Delete(context.Context, string) error                    { return errFake }
func (failingStore) SetAdd(context.Context, string, string) (bool, error)     { return false, errFake }
func (failingStore) SetRemove(context.Context, string, string) error         { return errFake }
func (failingStore) SetMembers(context.Context, string) ([]string, error)    { return nil, errFake }
func (failingStore) SortedAdd(context.Context, string, float64, string) error { return errFake }
func (failingStore) SortedRangeByScore(context.Context, string, string, string) ([]string, error) {
	return nil, errFake
}
func (failingStore) SortedRemoveByScore(context.Context, string, string, string) error { return errFake }
func (failingStore) Ping(context.Context) error                                       { return errFake }

var errFake = errors.New("fake store failure")
