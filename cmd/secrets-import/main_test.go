package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/venuepilot/pkg/secretstore"
)

func TestSelectKeys(t *testing.T) {
	env := map[string]string{
		secretstore.KeyEmail:     "bot@venue.test",
		secretstore.KeyPassword:  "pw",
		secretstore.KeyTwoFactor: "",
		"LOG_LEVEL":              "debug",
	}

	got := selectKeys(env, false)
	assert.Equal(t, map[string]string{
		secretstore.KeyEmail:    "bot@venue.test",
		secretstore.KeyPassword: "pw",
	}, got)

	assert.Len(t, selectKeys(env, true), 4)
}

func TestImportKeysRoundTrip(t *testing.T) {
	ss, err := secretstore.Open(secretstore.OpenOptions{InMemory: true})
	require.NoError(t, err)
	defer ss.Close()

	n, err := importKeys(ss, "env/", map[string]string{
		secretstore.KeyEmail:    "bot@venue.test",
		secretstore.KeyPassword: "pw",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	creds, err := ss.LoadCredentials("env/")
	require.NoError(t, err)
	assert.Equal(t, "bot@venue.test", creds.Email)
	assert.Equal(t, "pw", creds.Password)
}
