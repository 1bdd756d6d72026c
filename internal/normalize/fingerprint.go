package normalize

import (
	"strings"

	"github.com/propflow/skiptrace-cli/internal/model"
)

// AddressFingerprint derives the cache key for a property address. Two
// addresses that differ only in case, whitespace, or punctuation produce
// the same fingerprint. Returns "" for an empty address.
func AddressFingerprint(addr model.Address) string {
	parts := []string{
		fingerprintToken(addr.Street),
		fingerprintToken(addr.City),
		fingerprintToken(addr.State),
		fingerprintToken(addr.Zip),
	}
	joined := strings.Join(parts, "|")
	if joined == "|||" {
		return ""
	}
	return joined
}

// NameAddressFingerprint derives the litigator-match key: the last name
// and first initial combined with the address fingerprint. Returns ""
// when the last name or address is missing.
func NameAddressFingerprint(firstName, lastName string, addr model.Address) string {
	last := fingerprintToken(lastName)
	addrFp := AddressFingerprint(addr)
	if last == "" || addrFp == "" {
		return ""
	}
	initial := ""
	if first := fingerprintToken(firstName); first != "" {
		initial = first[:1]
	}
	return last + "," + initial + "#" + addrFp
}

// fingerprintToken uppercases and strips everything but letters and
// digits, collapsing runs of separators to single spaces.
func fingerprintToken(s string) string {
	var b strings.Builder
	space := false
	for _, r := range strings.ToUpper(s) {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		default:
			space = true
		}
	}
	return b.String()
}
