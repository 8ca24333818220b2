package entity

import (
	"fmt"
	"net"
	"strings"

	"github.com/fraudlens/fraudlens/internal/errors"
	"github.com/fraudlens/fraudlens/internal/models"
)

// Normalize canonicalizes a raw entity value. Normalization is total for
// every accepted raw form and idempotent: Normalize(Normalize(r)) ==
// Normalize(r).
func Normalize(entityType models.EntityType, raw string) (models.Entity, error) {
	var canonical string
	var err error

	switch entityType {
	case models.EntityEmail:
		canonical, err = normalizeEmail(raw)
	case models.EntityPhone:
		canonical, err = normalizePhone(raw)
	case models.EntityCardFingerprint:
		canonical, err = normalizeCardFingerprint(raw)
	case models.EntityIP:
		canonical, err = normalizeIP(raw)
	case models.EntityDevice, models.EntityAccount, models.EntityMerchant:
		canonical = strings.TrimSpace(raw)
		if canonical == "" {
			err = fmt.Errorf("empty value")
		}
	default:
		err = fmt.Errorf("unknown entity type %q", entityType)
	}

	if err != nil {
		return models.Entity{}, errors.Wrapf(err, errors.KindInvalidFormat,
			"cannot normalize %s value %q", entityType, raw)
	}
	return models.Entity{Type: entityType, NormalizedValue: canonical}, nil
}

// normalizeEmail lower-cases and strips. Any non-empty value is
// accepted: warehouse emails are already past upstream validation, and
// rejecting odd-looking historical values here would make them
// uninvestigable.
func normalizeEmail(raw string) (string, error) {
	v := strings.ToLower(strings.TrimSpace(raw))
	if v == "" {
		return "", fmt.Errorf("empty email")
	}
	return v, nil
}

// normalizePhone converts to E.164. Accepted inputs: already-E.164
// values, international 00-prefixed values, and bare 10-digit NANP
// numbers (assumed +1). Everything else is rejected.
func normalizePhone(raw string) (string, error) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return "", fmt.Errorf("empty phone")
	}

	hasPlus := strings.HasPrefix(v, "+")
	var digits strings.Builder
	for _, r := range v {
		switch {
		case r >= '0' && r <= '9':
			digits.WriteRune(r)
		case r == '+' || r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
			// formatting characters
		default:
			return "", fmt.Errorf("invalid character %q", r)
		}
	}
	d := digits.String()

	// 00 international prefix is equivalent to +.
	if !hasPlus && strings.HasPrefix(d, "00") {
		hasPlus = true
		d = d[2:]
	}

	if !hasPlus {
		if len(d) == 10 {
			d = "1" + d
		} else {
			return "", fmt.Errorf("cannot infer country code from %d digits", len(d))
		}
	}

	// E.164: country code + subscriber number, max 15 digits.
	if len(d) < 8 || len(d) > 15 || strings.HasPrefix(d, "0") {
		return "", fmt.Errorf("not a valid E.164 number")
	}
	return "+" + d, nil
}

// normalizeCardFingerprint expects BIN and last4 separated by | or -.
func normalizeCardFingerprint(raw string) (string, error) {
	v := strings.TrimSpace(raw)
	sep := "|"
	if !strings.Contains(v, "|") {
		sep = "-"
	}
	parts := strings.Split(v, sep)
	if len(parts) != 2 {
		return "", fmt.Errorf("expected BIN and last4 separated by | or -")
	}
	bin := strings.TrimSpace(parts[0])
	last4 := strings.TrimSpace(parts[1])
	if !allDigits(bin) || len(bin) < 6 || len(bin) > 8 {
		return "", fmt.Errorf("BIN must be 6-8 digits")
	}
	if !allDigits(last4) || len(last4) != 4 {
		return "", fmt.Errorf("last4 must be exactly 4 digits")
	}
	return bin + "|" + last4, nil
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// normalizeIP keeps the address unchanged; Subnet derives the grouping.
func normalizeIP(raw string) (string, error) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return "", fmt.Errorf("empty ip")
	}
	return v, nil
}

// Subnet returns the grouping subnet for an IP address: /24 for IPv4,
// /48 for IPv6. Unparseable addresses group under themselves.
func Subnet(ip string) string {
	parsed := net.ParseIP(strings.TrimSpace(ip))
	if parsed == nil {
		return ip
	}
	if v4 := parsed.To4(); v4 != nil {
		masked := v4.Mask(net.CIDRMask(24, 32))
		return masked.String() + "/24"
	}
	masked := parsed.Mask(net.CIDRMask(48, 128))
	return masked.String() + "/48"
}
