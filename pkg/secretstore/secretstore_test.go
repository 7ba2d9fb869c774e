package secretstore

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/venuepilot/internal/domain"
)

func TestLoadCredentials(t *testing.T) {
	s, err := Open(OpenOptions{InMemory: true})
	require.NoError(t, err)
	defer s.Close()

	_, err = s.LoadCredentials("env/")
	assert.True(t, errors.Is(err, domain.ErrMissingCredentials))

	require.NoError(t, s.SetString("env/"+KeyEmail, "trader@example.com"))
	require.NoError(t, s.SetString("env/"+KeyPassword, "pw"))

	creds, err := s.LoadCredentials("env/")
	require.NoError(t, err)
	assert.Equal(t, "trader@example.com", creds.Email)
	assert.Equal(t, "pw", creds.Password)
	assert.Empty(t, creds.TwoFactorCode)
}

func TestGetStringFound(t *testing.T) {
	s, err := Open(OpenOptions{InMemory: true})
	require.NoError(t, err)
	defer s.Close()

	_, found, err := s.GetString("missing")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.SetString("empty", ""))
	v, found, err := s.GetString("empty")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Empty(t, v)
}

func TestParseKey(t *testing.T) {
	k, err := ParseKey("")
	require.NoError(t, err)
	assert.Nil(t, k)

	k, err = ParseKey(strings.Repeat("ab", 32))
	require.NoError(t, err)
	assert.Len(t, k, 32)

	raw := make([]byte, 32)
	raw[0] = 0xff
	k, err = ParseKey(base64.StdEncoding.EncodeToString(raw))
	require.NoError(t, err)
	assert.Equal(t, raw, k)

	_, err = ParseKey("abcd")
	assert.Error(t, err)
}

func TestClosedStore(t *testing.T) {
	var s *Store
	_, _, err := s.GetString("x")
	assert.True(t, errors.Is(err, ErrNotOpened))
	assert.NoError(t, s.Close())
}
