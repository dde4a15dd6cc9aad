package signing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignUnsignRoundtrip(t *testing.T) {
	s := New("secret")

	for _, value := range []string{"42", "all", "sprint-9", "put:http://h/task/7:deadbeef"} {
		token := s.Sign(value)
		got, err := s.Unsign(token, 30*time.Minute)
		require.NoError(t, err, "value %q", value)
		assert.Equal(t, value, got)
	}
}

func TestUnsignFreshTokenWithZeroMaxAge(t *testing.T) {
	s := New("secret")
	token := s.Sign("42")

	got, err := s.Unsign(token, 0)
	require.NoError(t, err)
	assert.Equal(t, "42", got)
}

func TestUnsignExpired(t *testing.T) {
	s := New("secret")
	token := s.Sign("42")

	// Move the verifier's clock past the max age.
	s.now = func() time.Time { return time.Now().Add(61 * time.Second) }

	_, err := s.Unsign(token, 60*time.Second)
	assert.ErrorIs(t, err, ErrExpired)

	// Still fine with a roomier bound.
	got, err := s.Unsign(token, 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "42", got)
}

func TestUnsignTamper(t *testing.T) {
	s := New("secret")
	token := s.Sign("42")

	for i := 0; i < len(token); i++ {
		if token[i] == ':' {
			continue
		}
		tampered := []byte(token)
		tampered[i] ^= 0x01
		_, err := s.Unsign(string(tampered), 30*time.Minute)
		assert.Error(t, err, "tampering byte %d went unnoticed", i)
	}
}

func TestUnsignWrongKey(t *testing.T) {
	token := New("secret").Sign("42")

	_, err := New("other").Unsign(token, 30*time.Minute)
	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestUnsignGarbage(t *testing.T) {
	s := New("secret")

	for _, token := range []string{"", "42", "42:123", "::", "42:notatime:sig"} {
		_, err := s.Unsign(token, time.Minute)
		assert.ErrorIs(t, err, ErrBadSignature, "token %q", token)
	}
}

func TestExpiredWinsOverMaxAgeButNotOverTamper(t *testing.T) {
	s := New("secret")
	token := s.Sign("42")
	s.now = func() time.Time { return time.Now().Add(time.Hour) }

	// Valid signature but stale: expired, not bad-signature.
	_, err := s.Unsign(token, time.Minute)
	assert.ErrorIs(t, err, ErrExpired)

	// Tampered and stale: the signature check runs first.
	_, err = s.Unsign(token+"x", time.Minute)
	assert.ErrorIs(t, err, ErrBadSignature)
}
