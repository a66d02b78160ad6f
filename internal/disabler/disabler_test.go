package disabler

import (
	"path/filepath"
	"testing"

	"github.com/packsmith/packsmith/internal/hostenv"
)

func testHost(t *testing.T) *hostenv.FSHost {
	t.Helper()
	dir := t.TempDir()
	host, err := hostenv.NewFSHost(dir, filepath.Join(dir, "settings.json"), "4.0.0")
	if err != nil {
		t.Fatal(err)
	}
	return host
}

func TestDisableReturnsOnlyNewlyDisabled(t *testing.T) {
	host := testHost(t)
	defer host.Close()
	d := New(host, WithSettleDelay(0))

	first := d.Disable([]string{"A", "B"}, "upgrade")
	if len(first) != 2 {
		t.Fatalf("first disable returned %v", first)
	}
	second := d.Disable([]string{"B", "C"}, "install")
	if len(second) != 1 || second[0] != "C" {
		t.Fatalf("second disable returned %v, want [C]", second)
	}
}

func TestReenableOnlyRestoresOwnSubset(t *testing.T) {
	host := testHost(t)
	defer host.Close()
	d := New(host, WithSettleDelay(0))

	d.Disable([]string{"A", "B"}, "upgrade")
	second := d.Disable([]string{"B", "C"}, "install")

	// The second caller reenables what it actually disabled; B stays
	// disabled because the first caller still owns it.
	d.Reenable(second, "install")

	if !d.IsDisabled("B") {
		t.Fatal("B was reenabled by a caller that never disabled it")
	}
	if d.IsDisabled("C") {
		t.Fatal("C should have been reenabled")
	}
	if !d.IsDisabled("A") {
		t.Fatal("A should still be disabled")
	}
}

func TestDisableIsIdempotentInSettings(t *testing.T) {
	host := testHost(t)
	defer host.Close()
	d := New(host, WithSettleDelay(0))

	d.Disable([]string{"A"}, "upgrade")
	d.Disable([]string{"A"}, "remove")

	v, _ := host.GetSetting("ignored_packages")
	list, _ := v.([]any)
	if len(list) != 1 || list[0] != "A" {
		t.Fatalf("ignored_packages = %v, want [A]", v)
	}
}

func TestAssetReferenceSwappedAndRestored(t *testing.T) {
	host := testHost(t)
	d := New(host, WithSettleDelay(0))

	if err := host.SetSetting("color_scheme", "Packages/FancyTheme/Fancy.color-scheme"); err != nil {
		t.Fatal(err)
	}

	d.Disable([]string{"FancyTheme"}, "upgrade")
	v, _ := host.GetSetting("color_scheme")
	if v != defaultAssetSettings["color_scheme"] {
		t.Fatalf("color_scheme while disabled = %v, want safe default", v)
	}

	d.Reenable([]string{"FancyTheme"}, "upgrade")
	host.Close() // flush the scheduled restore

	v, _ = host.GetSetting("color_scheme")
	if v != "Packages/FancyTheme/Fancy.color-scheme" {
		t.Fatalf("color_scheme after reenable = %v, want prior value", v)
	}
}

func TestUnrelatedAssetReferenceUntouched(t *testing.T) {
	host := testHost(t)
	d := New(host, WithSettleDelay(0))

	if err := host.SetSetting("color_scheme", "Packages/Other/Other.color-scheme"); err != nil {
		t.Fatal(err)
	}
	d.Disable([]string{"FancyTheme"}, "upgrade")
	d.Reenable([]string{"FancyTheme"}, "upgrade")
	host.Close()

	v, _ := host.GetSetting("color_scheme")
	if v != "Packages/Other/Other.color-scheme" {
		t.Fatalf("color_scheme = %v, should be untouched", v)
	}
}
