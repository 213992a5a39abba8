package loyalty

import (
	"crypto/rand"
	"fmt"
	"strings"
)

// CodeGenerator produces human-presentable redemption codes.
type CodeGenerator interface {
	Generate(prefix string) (string, error)
}

// codeAlphabet is Crockford base32: no I, L, O or U, so codes read back
// over a counter without confusion.
const codeAlphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

// DefaultCodePrefix is used when no restaurant prefix is configured.
const DefaultCodePrefix = "RW"

// RandomCodeGenerator draws 40 bits from crypto/rand per code and renders
// them as PREFIX-XXXX-XXXX.
type RandomCodeGenerator struct{}

func (RandomCodeGenerator) Generate(prefix string) (string, error) {
	var b [5]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("generate redemption code: %w", err)
	}

	v := uint64(b[0])<<32 | uint64(b[1])<<24 | uint64(b[2])<<16 | uint64(b[3])<<8 | uint64(b[4])
	var body [8]byte
	for i := len(body) - 1; i >= 0; i-- {
		body[i] = codeAlphabet[v&31]
		v >>= 5
	}

	return fmt.Sprintf("%s-%s-%s", NormalizeCodePrefix(prefix), body[:4], body[4:]), nil
}

// NormalizeCodePrefix upper-cases the prefix and keeps letters and digits.
func NormalizeCodePrefix(prefix string) string {
	var sb strings.Builder
	for _, r := range strings.ToUpper(prefix) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			sb.WriteRune(r)
		}
	}
	if sb.Len() == 0 {
		return DefaultCodePrefix
	}
	return sb.String()
}

// NormalizeCode canonicalizes a code typed in by staff.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
