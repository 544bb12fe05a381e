package security

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	emailRe      = regexp.MustCompile(`(?i)email`)
	phoneRe      = regexp.MustCompile(`(?i)phone`)
	creditCardRe = regexp.MustCompile(`(?i)credit_card|card_number`)
	fullMaskRe   = regexp.MustCompile(`(?i)password|secret|token|api_key|access_key|private_key|mnemonic|seed_phrase|keypair`)
)

// Masker redacts sensitive values in tool arguments and results before
// they reach logs or the audit trail. Keys are matched by substring and
// built-in patterns; values keep just enough shape to stay debuggable.
type Masker struct {
	sensitiveKeys []string
}

func NewMasker(sensitiveKeys []string) *Masker {
	lower := make([]string, len(sensitiveKeys))
	for i, k := range sensitiveKeys {
		lower[i] = strings.ToLower(k)
	}
	return &Masker{sensitiveKeys: lower}
}

// MaskMap returns a copy of values with sensitive entries redacted.
// Nested maps are walked; the input is never mutated.
func (m *Masker) MaskMap(values map[string]any) map[string]any {
	if values == nil {
		return nil
	}
	masked := make(map[string]any, len(values))
	for key, val := range values {
		switch v := val.(type) {
		case map[string]any:
			masked[key] = m.MaskMap(v)
		default:
			if m.isSensitive(key) {
				masked[key] = m.maskValue(key, fmt.Sprintf("%v", val))
			} else {
				masked[key] = val
			}
		}
	}
	return masked
}

func (m *Masker) isSensitive(key string) bool {
	lower := strings.ToLower(key)
	for _, s := range m.sensitiveKeys {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return emailRe.MatchString(key) || phoneRe.MatchString(key) ||
		creditCardRe.MatchString(key) || fullMaskRe.MatchString(key)
}

func (m *Masker) maskValue(key, val string) string {
	lower := strings.ToLower(key)
	switch {
	case emailRe.MatchString(lower):
		return maskEmail(val)
	case phoneRe.MatchString(lower):
		return maskPhone(val)
	case creditCardRe.MatchString(lower):
		return maskCreditCard(val)
	default:
		return "***"
	}
}

// maskEmail: "john.doe@example.com" → "jo***@***.com"
func maskEmail(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return "***"
	}
	local := parts[0]
	domain := parts[1]

	visible := 2
	if len(local) < visible {
		visible = len(local)
	}
	maskedLocal := local[:visible] + "***"

	domainParts := strings.Split(domain, ".")
	ext := domainParts[len(domainParts)-1]
	return fmt.Sprintf("%s@***.%s", maskedLocal, ext)
}

// maskPhone: any phone → "***-***-1234" (show last 4)
func maskPhone(phone string) string {
	digits := digitsOf(phone)
	if len(digits) < 4 {
		return "***-***-****"
	}
	return fmt.Sprintf("***-***-%s", digits[len(digits)-4:])
}

// maskCreditCard: "4111111111111111" → "****-****-****-1111"
func maskCreditCard(cc string) string {
	digits := digitsOf(cc)
	if len(digits) < 4 {
		return "****-****-****-****"
	}
	return fmt.Sprintf("****-****-****-%s", digits[len(digits)-4:])
}

func digitsOf(s string) string {
	var b strings.Builder
	for _, c := range s {
		if c >= '0' && c <= '9' {
			b.WriteRune(c)
		}
	}
	return b.String()
}
