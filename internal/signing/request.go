package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// CanonicalRequest builds the string a webhook signature commits to:
// "method:url:digest" with the method lowercased, the full request URL
// (scheme, host, path and query) and a hex SHA-256 of the raw body.
// Including the host prevents a signature captured against one deployment
// from replaying against another.
func CanonicalRequest(method, url string, body []byte) string {
	digest := sha256.Sum256(body)
	return strings.ToLower(method) + ":" + url + ":" + hex.EncodeToString(digest[:])
}

// SignRequest produces the X-Signature header value for a webhook call.
func (s *Signer) SignRequest(method, url string, body []byte) string {
	return s.Sign(CanonicalRequest(method, url, body))
}

// VerifyRequest checks a caller-supplied signature against the request it
// arrived on. The signature must unsign within maxAge and its value must
// match the canonical string byte for byte (constant-time).
func (s *Signer) VerifyRequest(signature, method, url string, body []byte, maxAge time.Duration) error {
	value, err := s.Unsign(signature, maxAge)
	if err != nil {
		return err
	}
	if !hmac.Equal([]byte(value), []byte(CanonicalRequest(method, url, body))) {
		return ErrBadSignature
	}
	return nil
}
