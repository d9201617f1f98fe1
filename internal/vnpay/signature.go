package vnpay

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"net/url"
	"sort"
	"strings"
)

// Signature field names attached by the gateway. Both are excluded from the
// canonical string before signing or verifying.
const (
	FieldSecureHash     = "vnp_SecureHash"
	FieldSecureHashType = "vnp_SecureHashType"
)

// ErrMissingSecret is returned when a signer is constructed without a hash secret.
var ErrMissingSecret = errors.New("vnpay: hash secret not configured")

// Signer computes and verifies the HMAC-SHA512 signature the gateway requires
// over a canonicalized parameter set.
type Signer struct {
	secret []byte
}

// NewSigner creates a signer. An empty secret is a configuration error;
// signing must never silently proceed without one.
func NewSigner(secret string) (*Signer, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}
	return &Signer{secret: []byte(secret)}, nil
}

// Sign returns the lowercase hex HMAC-SHA512 of the canonical form of params.
// The signature fields themselves are ignored if present.
func (s *Signer) Sign(params map[string]string) string {
	mac := hmac.New(sha512.New, s.secret)
	mac.Write([]byte(Canonicalize(params)))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify recomputes the signature and compares it to the provided one in
// constant time. An empty provided signature never verifies.
func (s *Signer) Verify(params map[string]string, provided string) bool {
	if provided == "" {
		return false
	}
	want := s.Sign(params)
	return hmac.Equal([]byte(want), []byte(strings.ToLower(provided)))
}

// Canonicalize produces the deterministic byte string the gateway signs:
// keys sorted lexicographically, values query-escaped (space as '+'),
// joined as key=value pairs with '&'. Signature fields and empty values
// are excluded.
func Canonicalize(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if k == FieldSecureHash || k == FieldSecureHashType || v == "" {
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
		b.WriteString(url.QueryEscape(k))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(params[k]))
	}
	return b.String()
}
