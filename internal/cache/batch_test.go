package cache

import (
	"strings"
	"testing"

	"github.com/vaultcache/vaultcache/internal/secure"
)

func TestSetMany(t *testing.T) {
	e, _ := newTestEngine(t, &Config{MaxEntries: 100, MaxMemory: 1024 * 1024}, Deps{})

	result := e.SetMany([]BatchSetItem{
		{Key: "a", Value: 1},
		{Key: "b", Value: 2},
		{Key: "", Value: 3},
		{Key: "c", Value: nil},
	})

	if len(result.Success) != 2 {
		t.Errorf("Success = %v, want [a b]", result.Success)
	}
	if len(result.Failed) != 2 {
		t.Errorf("Failed = %v, want 2 entries", result.Failed)
	}
	for _, f := range result.Failed {
		if f.Reason != "INVALID_INPUT" {
			t.Errorf("failure reason = %q, want INVALID_INPUT", f.Reason)
		}
	}

	if got := e.Stats().TotalEntries; got != 2 {
		t.Errorf("TotalEntries = %d, want 2", got)
	}
}

func TestSetMany_CapacityPrecheck(t *testing.T) {
	e, _ := newTestEngine(t, &Config{MaxEntries: 100, MaxMemory: 2000}, Deps{})

	// Existing entries get proactively evicted to make room.
	mustSet(t, e, "old1", strings.Repeat("x", 400))
	mustSet(t, e, "old2", strings.Repeat("x", 400))

	result := e.SetMany([]BatchSetItem{
		{Key: "new1", Value: strings.Repeat("y", 400)},
		{Key: "new2", Value: strings.Repeat("y", 400)},
	})
	if len(result.Success) != 2 {
		t.Fatalf("Success = %v, want both new keys", result.Success)
	}

	// An item larger than the whole cache lands in failed without mutating.
	before := e.Stats().TotalEntries
	result = e.SetMany([]BatchSetItem{
		{Key: "huge", Value: strings.Repeat("z", 5000)},
	})
	if len(result.Failed) != 1 || result.Failed[0].Key != "huge" {
		t.Fatalf("Failed = %v, want huge", result.Failed)
	}
	if after := e.Stats().TotalEntries; after != before {
		t.Errorf("entry count changed from %d to %d on failed batch item", before, after)
	}
}

func TestGetMany(t *testing.T) {
	e, _ := newTestEngine(t, nil, Deps{})

	mustSet(t, e, "a", 1)
	mustSet(t, e, "b", 2)

	result := e.GetMany([]string{"a", "b", "missing"}, nil)
	if len(result.Found) != 2 {
		t.Errorf("Found = %v, want 2 pairs", result.Found)
	}
	if len(result.Missing) != 1 || result.Missing[0] != "missing" {
		t.Errorf("Missing = %v, want [missing]", result.Missing)
	}
}

func TestDeleteMany(t *testing.T) {
	e, _ := newTestEngine(t, nil, Deps{})

	mustSet(t, e, "a", 1)
	mustSet(t, e, "b", 2)

	result := e.DeleteMany([]string{"a", "b", "ghost"})
	if len(result.Success) != 2 {
		t.Errorf("Success = %v, want [a b]", result.Success)
	}
	if len(result.Failed) != 1 || result.Failed[0] != "ghost" {
		t.Errorf("Failed = %v, want [ghost]", result.Failed)
	}
}

func TestBatch_AccessControl(t *testing.T) {
	ac, err := secure.NewAccessController(secure.AccessConfig{
		RestrictedKeys: []string{"locked"},
	})
	if err != nil {
		t.Fatalf("NewAccessController: %v", err)
	}
	e, _ := newTestEngine(t, nil, Deps{Access: ac})

	result := e.SetMany([]BatchSetItem{
		{Key: "open", Value: 1},
		{Key: "locked", Value: 2},
	})
	if len(result.Success) != 1 || result.Success[0] != "open" {
		t.Errorf("Success = %v, want [open]", result.Success)
	}
	if len(result.Failed) != 1 || result.Failed[0].Reason != "ACCESS_DENIED" {
		t.Errorf("Failed = %v, want locked/ACCESS_DENIED", result.Failed)
	}

	del := e.DeleteMany([]string{"open", "locked"})
	if len(del.Success) != 1 || del.Success[0] != "open" {
		t.Errorf("delete Success = %v, want [open]", del.Success)
	}
}
