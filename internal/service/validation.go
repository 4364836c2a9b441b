package service

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/nyaruka/phonenumbers"
	"golang.org/x/net/idna"

	"github.com/octobees/cardscan/api/internal/codec"
)

var (
	emailPattern = regexp.MustCompile(`^[a-z0-9._%+\-']+@[a-z0-9.-]+\.[a-z]{2,}$`)
	idnaProfile  = idna.Lookup
)

const defaultPhoneRegion = "IN"

var allowedSocialDomains = map[string]string{
	"linkedin.com":  "linkedin",
	"facebook.com":  "facebook",
	"instagram.com": "instagram",
	"youtube.com":   "youtube",
	"youtu.be":      "youtube",
	"tiktok.com":    "tiktok",
	"twitter.com":   "x",
	"x.com":         "x",
}

// FieldWarning flags a value that looks wrong. Warnings are advisory and
// never block a write.
type FieldWarning struct {
	Field   string `json:"field"`
	Value   string `json:"value"`
	Message string `json:"message"`
}

// FieldValidator checks the contact fields an OCR pass or an operator
// produced.
type FieldValidator struct {
	DefaultRegion string
}

// NewFieldValidator builds a validator that parses local phone numbers in the
// given region.
func NewFieldValidator(defaultRegion string) *FieldValidator {
	region := strings.ToUpper(strings.TrimSpace(defaultRegion))
	if region == "" {
		region = defaultPhoneRegion
	}
	return &FieldValidator{DefaultRegion: region}
}

// Validate returns warnings in field order. Missing and blank fields are not
// reported.
func (v *FieldValidator) Validate(fields map[string]any) []FieldWarning {
	warnings := make([]FieldWarning, 0)
	if len(fields) == 0 {
		return warnings
	}

	for _, phone := range codec.TextToListValue(fields[codec.FieldPhoneNumbers]) {
		if normalizePhone(phone, v.DefaultRegion) == "" {
			warnings = append(warnings, FieldWarning{
				Field:   codec.FieldPhoneNumbers,
				Value:   phone,
				Message: fmt.Sprintf("not a valid phone number for region %s", v.DefaultRegion),
			})
		}
	}

	if email := strings.TrimSpace(codec.Stringify(fields[codec.FieldEmail])); email != "" {
		if !validEmail(email) {
			warnings = append(warnings, FieldWarning{Field: codec.FieldEmail, Value: email, Message: "not a valid email address"})
		}
	}

	if website := strings.TrimSpace(codec.Stringify(fields[codec.FieldWebsite])); website != "" {
		if _, err := sanitizeURL(website); err != nil {
			warnings = append(warnings, FieldWarning{Field: codec.FieldWebsite, Value: website, Message: "not a valid website address"})
		}
	}

	for _, link := range codec.TextToListValue(fields[codec.FieldSocialLinks]) {
		u, err := sanitizeURL(link)
		if err != nil {
			warnings = append(warnings, FieldWarning{Field: codec.FieldSocialLinks, Value: link, Message: "not a valid link"})
			continue
		}
		if _, ok := hostMatchesAllowed(u.Hostname()); !ok {
			warnings = append(warnings, FieldWarning{Field: codec.FieldSocialLinks, Value: link, Message: "not a recognised social profile"})
		}
	}

	return warnings
}

func validEmail(raw string) bool {
	email := strings.ToLower(strings.TrimSpace(raw))
	if !emailPattern.MatchString(email) {
		return false
	}
	domain := email[strings.LastIndex(email, "@")+1:]
	if !isDomainValid(domain) {
		return false
	}
	ascii, err := idnaProfile.ToASCII(domain)
	return err == nil && ascii != ""
}

func hostMatchesAllowed(host string) (string, bool) {
	host = strings.ToLower(strings.Trim(strings.TrimSpace(host), "."))
	if host == "" {
		return "", false
	}
	for domain, platform := range allowedSocialDomains {
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return platform, true
		}
	}
	return "", false
}

func sanitizeURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("empty url")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return nil, errors.New("invalid url")
	}
	if _, err := idnaProfile.ToASCII(u.Hostname()); err != nil {
		return nil, fmt.Errorf("invalid host: %w", err)
	}
	if !isDomainValid(u.Hostname()) {
		return nil, errors.New("invalid host")
	}
	return u, nil
}

func normalizePhone(raw, region string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if region == "" {
		region = defaultPhoneRegion
	}
	number, err := phonenumbers.Parse(raw, region)
	if err != nil {
		return ""
	}
	if !phonenumbers.IsPossibleNumber(number) || !phonenumbers.IsValidNumber(number) {
		return ""
	}
	return phonenumbers.Format(number, phonenumbers.E164)
}

func isDomainValid(domain string) bool {
	if strings.Count(domain, ".") == 0 {
		return false
	}
	parts := strings.Split(domain, ".")
	for _, part := range parts {
		if part == "" || strings.HasPrefix(part, "-") || strings.HasSuffix(part, "-") {
			return false
		}
	}
	return true
}
