// Package sanitizer normalizes customer contact details before they are
// validated and stored. Every function is idempotent and reports unusable
// input as an empty string.
package sanitizer

import (
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// supportedRegions are tried in order for numbers written without a country
// code.
var supportedRegions = []string{
	"IN",
	"US",
}

// NormalizePhone returns phone in E.164 form, or "" when it is not a valid
// number in any supported region.
func NormalizePhone(phone string) string {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return ""
	}

	for _, region := range supportedRegions {
		parsed, err := phonenumbers.Parse(phone, region)
		if err != nil || !phonenumbers.IsValidNumber(parsed) {
			continue
		}
		return phonenumbers.Format(parsed, phonenumbers.E164)
	}
	return ""
}

// NormalizeEmail trims and lowercases an address so it can serve as a
// customer's identity. Anything without a local part and a domain is "".
func NormalizeEmail(email string) string {
	email = strings.ToLower(strings.TrimSpace(email))
	local, domain, ok := strings.Cut(email, "@")
	if !ok || local == "" || domain == "" || strings.ContainsAny(domain, "@ ") {
		return ""
	}
	return email
}

// CollapseSpaces trims s and folds inner runs of whitespace to one space.
func CollapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
