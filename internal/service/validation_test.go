package service

import (
	"testing"

	"github.com/octobees/cardscan/api/internal/codec"
)

func TestNormalizePhoneUsesDefaultRegion(t *testing.T) {
	v := NewFieldValidator("in")
	if v.DefaultRegion != "IN" {
		t.Fatalf("expected upper-cased region, got %s", v.DefaultRegion)
	}
	if got := normalizePhone("98765 43210", v.DefaultRegion); got != "+919876543210" {
		t.Fatalf("unexpected normalized phone: %q", got)
	}
	if got := normalizePhone("12345", v.DefaultRegion); got != "" {
		t.Fatalf("expected invalid phone to normalize to empty, got %q", got)
	}

	us := NewFieldValidator("US")
	if got := normalizePhone(" (415) 555-1234 ", us.DefaultRegion); got != "+14155551234" {
		t.Fatalf("unexpected US phone: %q", got)
	}
}

func TestNewFieldValidatorDefaultsRegion(t *testing.T) {
	if v := NewFieldValidator("  "); v.DefaultRegion != defaultPhoneRegion {
		t.Fatalf("expected default region, got %s", v.DefaultRegion)
	}
}

func TestValidateReportsSuspiciousFields(t *testing.T) {
	v := NewFieldValidator("IN")
	warnings := v.Validate(map[string]any{
		codec.FieldName:         "Ada",
		codec.FieldPhoneNumbers: "+91 98765 43210, 12345",
		codec.FieldEmail:        "ada@",
		codec.FieldWebsite:      "not a host",
		codec.FieldSocialLinks:  []any{"linkedin.com/in/ada", "https://example.com/ada"},
	})

	got := map[string]string{}
	for _, w := range warnings {
		got[w.Field+"|"+w.Value] = w.Message
	}
	expected := []string{
		codec.FieldPhoneNumbers + "|12345",
		codec.FieldEmail + "|ada@",
		codec.FieldWebsite + "|not a host",
		codec.FieldSocialLinks + "|https://example.com/ada",
	}
	if len(warnings) != len(expected) {
		t.Fatalf("expected %d warnings, got %+v", len(expected), warnings)
	}
	for _, key := range expected {
		if _, ok := got[key]; !ok {
			t.Fatalf("missing warning %s in %+v", key, warnings)
		}
	}
}

func TestValidateAcceptsCleanCard(t *testing.T) {
	v := NewFieldValidator("IN")
	warnings := v.Validate(map[string]any{
		codec.FieldPhoneNumbers: []string{"+919876543210"},
		codec.FieldEmail:        "Ada@Example.COM",
		codec.FieldWebsite:      "example.com",
		codec.FieldSocialLinks:  "https://www.linkedin.com/in/ada, x.com/ada",
	})
	if len(warnings) != 0 {
		t.Fatalf("expected no warnings, got %+v", warnings)
	}
}

func TestValidateIgnoresBlankAndMissing(t *testing.T) {
	v := NewFieldValidator("IN")
	if warnings := v.Validate(nil); warnings == nil || len(warnings) != 0 {
		t.Fatalf("expected empty non-nil warnings, got %#v", warnings)
	}
	warnings := v.Validate(map[string]any{codec.FieldEmail: "  ", codec.FieldPhoneNumbers: nil})
	if len(warnings) != 0 {
		t.Fatalf("expected blanks to be skipped, got %+v", warnings)
	}
}

func TestIsDomainValid(t *testing.T) {
	cases := map[string]bool{
		"example.com":     true,
		"sub.example.com": true,
		"localhost":       false,
		"-bad.com":        false,
		"bad-.com":        false,
		"a..com":          false,
	}
	for domain, want := range cases {
		if got := isDomainValid(domain); got != want {
			t.Fatalf("isDomainValid(%q) = %v, want %v", domain, got, want)
		}
	}
}

func TestHostMatchesAllowed(t *testing.T) {
	if platform, ok := hostMatchesAllowed("www.LinkedIn.com."); !ok || platform != "linkedin" {
		t.Fatalf("expected linkedin match, got %q %v", platform, ok)
	}
	if _, ok := hostMatchesAllowed("notlinkedin.com"); ok {
		t.Fatalf("expected suffix lookalike to be rejected")
	}
}
