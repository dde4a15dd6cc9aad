package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrBadSignature is returned when a token's MAC does not match.
	ErrBadSignature = errors.New("signing: bad signature")
	// ErrExpired is returned when a token is older than the allowed max age.
	ErrExpired = errors.New("signing: signature expired")
)

// Signer issues and verifies timestamped capability tokens. A token is
// "value:unix_ts:sig" where sig is a base64url HMAC-SHA256 over
// "value:unix_ts". The value may itself contain colons (webhook canonical
// strings do), so verification splits from the right.
//
// There is no revocation: expiry is the only way a token stops working.
type Signer struct {
	key []byte

	// now is swappable in tests.
	now func() time.Time
}

func New(secret string) *Signer {
	return &Signer{key: []byte(secret), now: time.Now}
}

// Sign returns a signed token for value, stamped with the current time.
func (s *Signer) Sign(value string) string {
	ts := strconv.FormatInt(s.now().Unix(), 10)
	return value + ":" + ts + ":" + s.mac(value+":"+ts)
}

// Unsign verifies token and returns the original value. It fails with
// ErrBadSignature on any tamper or format problem, and ErrExpired when the
// token was stamped more than maxAge ago.
func (s *Signer) Unsign(token string, maxAge time.Duration) (string, error) {
	i := strings.LastIndexByte(token, ':')
	if i < 0 {
		return "", ErrBadSignature
	}
	signed, sig := token[:i], token[i+1:]

	expected := s.mac(signed)
	if !hmac.Equal([]byte(sig), []byte(expected)) {
		return "", ErrBadSignature
	}

	j := strings.LastIndexByte(signed, ':')
	if j < 0 {
		return "", ErrBadSignature
	}
	value, tsStr := signed[:j], signed[j+1:]

	ts, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return "", ErrBadSignature
	}
	// Timestamps have second resolution, so age is compared in whole
	// seconds; a token verifies immediately after issue even with maxAge 0.
	if s.now().Unix()-ts > int64(maxAge/time.Second) {
		return "", ErrExpired
	}
	return value, nil
}

func (s *Signer) mac(payload string) string {
	h := hmac.New(sha256.New, s.key)
	h.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}
