package featureflags

import (
	"fmt"
	"testing"
)

func TestEnabled_BooleanValues(t *testing.T) {
	m := NewManager("a=on,b=off,c=true,d=false,e=1,f=0")

	if !m.Enabled("a", "u1") || !m.Enabled("c", "u1") || !m.Enabled("e", "u1") {
		t.Fatal("expected enabled boolean values to evaluate true")
	}
	if m.Enabled("b", "u1") || m.Enabled("d", "u1") || m.Enabled("f", "u1") {
		t.Fatal("expected disabled boolean values to evaluate false")
	}
	if m.Enabled("missing", "u1") {
		t.Fatal("unknown flags are off")
	}
}

func TestEnabled_PercentageValues(t *testing.T) {
	m := NewManager("always=100%,never=0%,canary=25%,junk=abc%")

	if !m.Enabled("always", "u1") {
		t.Fatal("100% rollout should always be enabled")
	}
	if m.Enabled("never", "u1") || m.Enabled("junk", "u1") {
		t.Fatal("0% and malformed rollouts should be disabled")
	}

	first := m.Enabled("canary", "rider-42")
	for i := 0; i < 5; i++ {
		if got := m.Enabled("canary", "rider-42"); got != first {
			t.Fatal("rollout evaluation must be deterministic per user")
		}
	}

	if m.Enabled("canary", "") {
		t.Fatal("percentage rollout requires a user")
	}

	on := 0
	for i := 0; i < 1000; i++ {
		if m.Enabled("canary", fmt.Sprintf("rider-%d", i)) {
			on++
		}
	}
	if on < 150 || on > 350 {
		t.Fatalf("25%% rollout enabled %d of 1000 users", on)
	}
}

func TestSnapshot(t *testing.T) {
	m := NewManager(" bad ,friends_only_groups=on, y = 20% ,z=off ")

	snap := m.Snapshot("u1")
	if len(snap) != 3 {
		t.Fatalf("expected snapshot size 3, got %d", len(snap))
	}
	if !snap[FriendsOnlyGroups] || snap["z"] {
		t.Fatalf("unexpected snapshot: %#v", snap)
	}

	var nilManager *Manager
	if nilManager.Enabled(FriendsOnlyGroups, "u1") || len(nilManager.Snapshot("u1")) != 0 {
		t.Fatal("nil manager has every flag off")
	}
}
