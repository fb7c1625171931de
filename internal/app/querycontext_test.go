package app_test

import (
	"testing"

	"pinintel/internal/app"
	"pinintel/internal/domain"
)

func TestIsGenericText(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"", true},
		{"   ", true},
		{"Location", true},
		{"unknown place", true},
		{"Pinned Location", true},
		{"Nature Spot", true},
		{"place near the river", true},
		{"Place in Berlin", true},
		{"cafe near Mission District", true},
		{"Tartine Bakery", false},
		{"Golden Gate Bridge", false},
	}
	for _, c := range cases {
		if got := app.IsGenericText(c.in); got != c.want {
			t.Errorf("IsGenericText(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestLooksLikeAddress(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"123 Main Street", true},
		{"42 Abbey Road", true},
		{"1600 Pennsylvania Avenue", true},
		{"5th Ave", true},
		{"Main Street", false},      // no digit
		{"Studio 54", false},        // no street token
		{"Tartine Bakery", false},
		{"Roadhouse 66 Grill", false}, // "road" only as prefix of another word
	}
	for _, c := range cases {
		if got := app.LooksLikeAddress(c.in); got != c.want {
			t.Errorf("LooksLikeAddress(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestIsRiskyShortBrand(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"IKEA", true},
		{"H&M", true},
		{"KFC", true},
		{"Ikea", false},
		{"Blue Bottle", false},
		{"", false},
	}
	for _, c := range cases {
		if got := app.IsRiskyShortBrand(c.in); got != c.want {
			t.Errorf("IsRiskyShortBrand(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestBuildQueryContext(t *testing.T) {
	p := domain.Place{
		Name:     "123 Main Street",
		Locality: "Springfield",
		Category: "catering.restaurant",
	}
	qc := app.BuildQueryContext(p, "Nature Spot")

	if !qc.GenericHint {
		t.Errorf("expected generic hint")
	}
	if !qc.LooksLikeAddress {
		t.Errorf("expected address-like name")
	}
	if qc.CategoryLeaf != "restaurant" {
		t.Errorf("category leaf = %q", qc.CategoryLeaf)
	}
	if qc.RiskyShortBrand {
		t.Errorf("address name is not a short brand")
	}
}

func TestPrimaryNameToken(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"Tartine Bakery", "tartine"},
		{"The Museum of Modern Art", "museum"},
		{"H&M", "h&m"},
		{"", ""},
	}
	for _, c := range cases {
		if got := app.PrimaryNameToken(c.in); got != c.want {
			t.Errorf("PrimaryNameToken(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
