package hostenv

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestSchedulerPreservesEnqueueOrder(t *testing.T) {
	s := NewScheduler()

	var mu sync.Mutex
	var got []int
	for i := 0; i < 20; i++ {
		i := i
		s.Enqueue(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		}, 0)
	}
	s.Close()

	if len(got) != 20 {
		t.Fatalf("ran %d tasks, want 20", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("task order %v, want ascending", got)
		}
	}
}

func TestSchedulerDelayDoesNotReorder(t *testing.T) {
	s := NewScheduler()

	var mu sync.Mutex
	var got []string
	s.Enqueue(func() {
		mu.Lock()
		got = append(got, "slow")
		mu.Unlock()
	}, 10*time.Millisecond)
	s.Enqueue(func() {
		mu.Lock()
		got = append(got, "fast")
		mu.Unlock()
	}, 0)
	s.Close()

	if len(got) != 2 || got[0] != "slow" || got[1] != "fast" {
		t.Fatalf("got %v, want [slow fast]", got)
	}
}

func TestFSHostSettingsRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.json")

	h, err := NewFSHost(dir, path, "4180")
	if err != nil {
		t.Fatalf("NewFSHost: %v", err)
	}
	if _, ok := h.GetSetting("ignored_packages"); ok {
		t.Fatal("expected no value for unset key")
	}
	if err := h.SetSetting("ignored_packages", []any{"Foo"}); err != nil {
		t.Fatalf("SetSetting: %v", err)
	}

	// A fresh host over the same file sees the persisted value.
	h2, err := NewFSHost(dir, path, "4180")
	if err != nil {
		t.Fatalf("NewFSHost reload: %v", err)
	}
	v, ok := h2.GetSetting("ignored_packages")
	if !ok {
		t.Fatal("expected persisted value")
	}
	list, ok := v.([]any)
	if !ok || len(list) != 1 || list[0] != "Foo" {
		t.Fatalf("got %v, want [Foo]", v)
	}
	h.Close()
	h2.Close()
}

func TestFSHostBadSettingsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFSHost(dir, path, "4180"); err == nil {
		t.Fatal("expected error for malformed settings file")
	}
}

func TestPlatformSelectorShape(t *testing.T) {
	dir := t.TempDir()
	h, err := NewFSHost(dir, filepath.Join(dir, "settings.json"), "4180")
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()
	sel := h.PlatformSelector()
	if sel == "" {
		t.Fatal("empty platform selector")
	}
	for _, bad := range []string{"darwin", "amd64"} {
		if sel == bad {
			t.Fatalf("selector %q not normalized", sel)
		}
	}
}
