package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sort"
	"strings"
)

const (
	// FieldSignature is the field carrying the token on outbound payment requests.
	FieldSignature = "signature"
	// FieldChecksum is the alternative token field some gateway notifications use.
	FieldChecksum = "checksum"
)

// ErrMissingSecret is returned when signing is attempted without a shared secret.
var ErrMissingSecret = errors.New("signature: secret key not configured")

// Canonicalize renders payload as key=value pairs sorted by key and joined by '&',
// skipping the excluded field. Values are used verbatim.
func Canonicalize(payload map[string]string, excluded string) string {
	keys := make([]string, 0, len(payload))
	for k := range payload {
		if k == excluded {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(payload[k])
	}
	return b.String()
}

// Codec signs and verifies payloads with HMAC-SHA256 over their canonical form.
type Codec struct {
	Secret string
}

// Sign returns the lowercase hex HMAC of the canonical payload.
func (c Codec) Sign(payload map[string]string, excluded string) (string, error) {
	mac, err := c.mac(payload, excluded)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(mac), nil
}

// Verify recomputes the token and compares it with supplied in constant time.
// Malformed, empty or wrongly sized tokens yield false.
func (c Codec) Verify(payload map[string]string, excluded, supplied string) bool {
	supplied = strings.TrimSpace(supplied)
	if supplied == "" {
		return false
	}
	expected, err := c.mac(payload, excluded)
	if err != nil {
		return false
	}
	provided, err := hex.DecodeString(supplied)
	if err != nil {
		return false
	}
	return hmac.Equal(expected, provided)
}

func (c Codec) mac(payload map[string]string, excluded string) ([]byte, error) {
	if c.Secret == "" {
		return nil, ErrMissingSecret
	}
	h := hmac.New(sha256.New, []byte(c.Secret))
	_, _ = h.Write([]byte(Canonicalize(payload, excluded)))
	return h.Sum(nil), nil
}

// TokenField reports which authenticity field payload carries. signature wins when
// both are present; an empty result means the payload is unsigned.
func TokenField(payload map[string]string) string {
	if v, ok := payload[FieldSignature]; ok && strings.TrimSpace(v) != "" {
		return FieldSignature
	}
	if v, ok := payload[FieldChecksum]; ok && strings.TrimSpace(v) != "" {
		return FieldChecksum
	}
	return ""
}
