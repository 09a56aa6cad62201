package store

import (
	"context"
	"testing"
)

func TestFakeStoreCounters(t *testing.T) {
	ctx := context.Background()
	s := NewFake()

	cases := []struct {
		name string
		run  func() (int64, error)
		want int64
	}{
		{"first incr", func() (int64, error) { return s.Incr(ctx, "concurrent_connections") }, 1},
		{"second incr", func() (int64, error) { return s.Incr(ctx, "concurrent_connections") }, 2},
		{"decr back down", func() (int64, error) { return s.Decr(ctx, "concurrent_connections") }, 1},
		{"incr_by adds connection-seconds", func() (int64, error) { return s.IncrBy(ctx, "total_connection_seconds", 5) }, 5},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.run()
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Errorf("got %d, want %d", got, tc.want)
			}
		})
	}
}

func TestFakeStoreGetIntAbsent(t *testing.T) {
	ctx := context.Background()
	s := NewFake()

	_, present, err := s.GetInt(ctx, "peak_connections")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if present {
		t.Fatal("expected key to be absent before initialization")
	}
}

func TestInitCountersOnlySetsAbsentKeys(t *testing.T) {
	ctx := context.Background()
	s := NewFake()

	if _, err := s.IncrBy(ctx, "peak_connections", 42); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	if err := InitCounters(ctx, s, "concurrent_connections", "peak_connections"); err != nil {
		t.Fatalf("InitCounters failed: %v", err)
	}

	concurrent, _, _ := s.GetInt(ctx, "concurrent_connections")
	if concurrent != 0 {
		t.Errorf("expected freshly-initialized key to be 0, got %d", concurrent)
	}

	peak, _, _ := s.GetInt(ctx, "peak_connections")
	if peak != 42 {
		t.Errorf("expected pre-seeded key to survive InitCounters untouched, got %d", peak)
	}
}

func TestFakeStoreSetAddIsExactlyOnce(t *testing.T) {
	ctx := context.Background()
	s := NewFake()

	first, err := s.SetAdd(ctx, "unlocked_milestones", "concurrent_100")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !first {
		t.Fatal("expected first add to report added=true")
	}

	second, err := s.SetAdd(ctx, "unlocked_milestones", "concurrent_100")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second {
		t.Fatal("expected duplicate add to report added=false")
	}

	members, err := s.SetMembers(ctx, "unlocked_milestones")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(members) != 1 || members[0] != "concurrent_100" {
		t.Errorf("unexpected members: %v", members)
	}
}

func TestFakeStoreSortedRangeByScore(t *testing.T) {
	ctx := context.Background()
	s := NewFake()

	if err := s.SortedAdd(ctx, "peak_history", 100, "1700000000"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.SortedAdd(ctx, "peak_history", 250, "1700003600"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.SortedAdd(ctx, "peak_history", 50, "1699996400"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	members, err := s.SortedRangeByScore(ctx, "peak_history", "100", "+inf")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("expected 2 members with score >= 100, got %d: %v", len(members), members)
	}
	if members[0] != "1700000000" || members[1] != "1700003600" {
		t.Errorf("expected ascending score order, got %v", members)
	}

	if err := s.SortedRemoveByScore(ctx, "peak_history", "-inf", "100"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	remaining, err := s.SortedRangeByScore(ctx, "peak_history", "-inf", "+inf")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(remaining) != 1 || remaining[0] != "1700003600" {
		t.Errorf("expected only the score=250 entry to survive, got %v", remaining)
	}
}

func TestFakeStoreSetNXIsExclusive(t *testing.T) {
	ctx := context.Background()
	s := NewFake()

	acquired, err := s.SetNX(ctx, "leader_lease", "node-a", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !acquired {
		t.Fatal("expected first SetNX to acquire the lease")
	}

	contender, err := s.SetNX(ctx, "leader_lease", "node-b", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if contender {
		t.Fatal("expected second SetNX to fail while lease is held")
	}

	s.ReleaseNX("leader_lease")
	reacquired, err := s.SetNX(ctx, "leader_lease", "node-b", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reacquired {
		t.Fatal("expected SetNX to succeed after lease release")
	}
}

func TestFakeStoreSetWithTTLDoesNotRouteThroughCounters(t *testing.T) {
	ctx := context.Background()
	s := NewFake()

	if err := s.SetWithTTL(ctx, "leader_lease", "node-a", 10); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// A lease value is never numeric; SetWithTTL must not silently coerce
	// it into the int counter map the way a bare Set historically did.
	if _, present, _ := s.GetInt(ctx, "leader_lease"); present {
		t.Fatal("expected SetWithTTL to not populate the int counter map")
	}

	contender, err := s.SetNX(ctx, "leader_lease", "node-b", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if contender {
		t.Fatal("expected SetWithTTL's write to be visible to SetNX as a held lease")
	}
}

func TestFakeStoreDeleteClearsLeaseAndCounter(t *testing.T) {
	ctx := context.Background()
	s := NewFake()

	if err := s.SetWithTTL(ctx, "leader_lease", "node-a", 10); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := s.IncrBy(ctx, "some_counter", 3); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := s.Delete(ctx, "leader_lease"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Delete(ctx, "some_counter"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	acquired, err := s.SetNX(ctx, "leader_lease", "node-b", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !acquired {
		t.Fatal("expected the lease to be free after Delete")
	}

	if _, present, _ := s.GetInt(ctx, "some_counter"); present {
		t.Fatal("expected the counter to be absent after Delete")
	}
}

func TestFakeStoreSetRemovePrunesMember(t *testing.T) {
	ctx := context.Background()
	s := NewFake()

	if _, err := s.SetAdd(ctx, "active_nodes", "node-a"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := s.SetAdd(ctx, "active_nodes", "node-b"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := s.SetRemove(ctx, "active_nodes", "node-a"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	members, err := s.SetMembers(ctx, "active_nodes")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(members) != 1 || members[0] != "node-b" {
		t.Fatalf("expected only node-b to remain, got %v", members)
	}
}
