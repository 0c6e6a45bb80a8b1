package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"hash"
	"net/url"
	"sort"
	"strings"
)

// Codec canonicalizes a parameter set and signs it with a provider HMAC.
// A Codec holds the provider's signing rules only; secrets are passed per call.
type Codec struct {
	Hash           func() hash.Hash
	Encode         func(string) string
	SignatureField string
	// Excluded lists extra fields that never take part in the signature.
	Excluded []string
	// SkipEmpty drops fields whose value is empty.
	SkipEmpty bool
}

// VNPayCodec: sorted query, QueryEscape values (space becomes '+'), HMAC-SHA512.
var VNPayCodec = Codec{
	Hash:           sha512.New,
	Encode:         url.QueryEscape,
	SignatureField: "vnp_SecureHash",
	Excluded:       []string{"vnp_SecureHashType"},
	SkipEmpty:      true,
}

// MoMoCodec: sorted raw key=value pairs, HMAC-SHA256. Empty values are signed.
var MoMoCodec = Codec{
	Hash:           sha256.New,
	Encode:         func(s string) string { return s },
	SignatureField: "signature",
}

func (c Codec) excluded(key string) bool {
	if key == c.SignatureField {
		return true
	}
	for _, k := range c.Excluded {
		if k == key {
			return true
		}
	}
	return false
}

// Canonical returns the byte string that gets signed: fields sorted byte-wise
// ascending and joined as key=value&key=value.
func (c Codec) Canonical(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if c.excluded(k) || (c.SkipEmpty && v == "") {
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
		b.WriteString(c.Encode(k))
		b.WriteByte('=')
		b.WriteString(c.Encode(params[k]))
	}
	return b.String()
}

// SignString computes the hex HMAC of data. It panics on an empty secret.
func (c Codec) SignString(data, secret string) string {
	if secret == "" {
		panic("payment: empty signing secret")
	}
	mac := hmac.New(c.Hash, []byte(secret))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

func (c Codec) Sign(params map[string]string, secret string) string {
	return c.SignString(c.Canonical(params), secret)
}

// Verify recomputes the signature and compares it in constant time.
// An empty provided signature never verifies.
func (c Codec) Verify(params map[string]string, provided, secret string) bool {
	provided = strings.TrimSpace(provided)
	if provided == "" {
		return false
	}
	expected := c.Sign(params, secret)
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(provided)))
}
