package security

import (
	"regexp"
	"strings"
)

// Base58 run long enough to be a Solana secret key (64 bytes encodes to
// 87-88 characters). Addresses are 32-44 characters and never match.
var secretKeyRe = regexp.MustCompile(`[1-9A-HJ-NP-Za-km-z]{87,88}`)

// PIIDetector flags text carrying key material or other sensitive terms
// before it reaches logs or the audit trail.
type PIIDetector struct {
	keywords []string
}

func NewPIIDetector(keywords []string) *PIIDetector {
	lower := make([]string, len(keywords))
	for i, k := range keywords {
		lower[i] = strings.ToLower(k)
	}
	return &PIIDetector{keywords: lower}
}

// Detect reports whether text contains sensitive material and what matched.
func (d *PIIDetector) Detect(text string) (bool, string) {
	lower := strings.ToLower(text)
	for _, kw := range d.keywords {
		if strings.Contains(lower, kw) {
			return true, kw
		}
	}
	if secretKeyRe.MatchString(text) {
		return true, "base58_secret_key"
	}
	return false, ""
}
