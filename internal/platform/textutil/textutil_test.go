package textutil

import (
	"reflect"
	"testing"
)

func TestNormalizeStringMap(t *testing.T) {
	t.Run("trims keys and values", func(t *testing.T) {
		input := map[string]string{
			" Battery  Capacity ": " 10000 mAh ",
			"Colour":              " Black ",
			"empty":               " ",
			" ":                   "ignored",
		}
		expected := map[string]string{
			"Battery Capacity": "10000 mAh",
			"Colour":           "Black",
			"empty":            "",
		}
		if actual := NormalizeStringMap(input); !reflect.DeepEqual(actual, expected) {
			t.Fatalf("expected %#v got %#v", expected, actual)
		}
	})

	t.Run("returns empty map for nil input", func(t *testing.T) {
		got := NormalizeStringMap(nil)
		if got == nil || len(got) != 0 {
			t.Fatalf("expected empty non-nil map, got %#v", got)
		}
	})
}

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"Cables":             "cables",
		"  Power  Banks ":    "power-banks",
		"Cases & Covers":     "cases-covers",
		"Écouteurs sans-fil": "ecouteurs-sans-fil",
		"USB-C/Lightning":    "usb-c-lightning",
		"---":                "",
		"موبايلات":           "موبايلات",
		"already-a-slug":     "already-a-slug",
	}
	for in, want := range cases {
		if got := Slugify(in); got != want {
			t.Errorf("Slugify(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFoldKey(t *testing.T) {
	for _, in := range []string{"power-bank", " Power  Bank", "POWER_BANK"} {
		if got := FoldKey(in); got != "power bank" {
			t.Errorf("FoldKey(%q) = %q", in, got)
		}
	}
}
