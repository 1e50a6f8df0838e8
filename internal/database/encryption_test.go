package database

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "this-is-a-test-secret-with-32-plus-chars"

func TestEncryptor_Disabled(t *testing.T) {
	t.Setenv(EnvEnableEncryption, "false")

	enc, err := NewEncryptor()
	require.NoError(t, err)
	assert.False(t, enc.Enabled())

	out, err := enc.Encrypt("plain")
	require.NoError(t, err)
	assert.Equal(t, "plain", out)

	key, err := enc.LookupKey("G-1")
	require.NoError(t, err)
	assert.NotEqual(t, "G-1", key)
	again, _ := enc.LookupKey("G-1")
	assert.Equal(t, key, again)
}

func TestEncryptor_RoundTrip(t *testing.T) {
	t.Setenv(EnvEnableEncryption, "true")
	t.Setenv(EnvEncryptionSecret, testSecret)

	enc, err := NewEncryptor()
	require.NoError(t, err)
	require.True(t, enc.Enabled())

	sealed, err := enc.Encrypt("hunter2")
	require.NoError(t, err)
	assert.NotContains(t, sealed, "hunter2")

	other, err := enc.Encrypt("hunter2")
	require.NoError(t, err)
	assert.NotEqual(t, sealed, other, "random nonce per encryption")

	plain, err := enc.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", plain)

	a, err := enc.LookupKey("G-1")
	require.NoError(t, err)
	b, err := enc.LookupKey("G-1")
	require.NoError(t, err)
	assert.Equal(t, a, b)

	_, err = enc.Decrypt("bm90LXZhbGlk")
	assert.Error(t, err)
}

func TestEncryptor_SecretRequirements(t *testing.T) {
	t.Setenv(EnvEnableEncryption, "true")

	t.Setenv(EnvEncryptionSecret, "")
	_, err := NewEncryptor()
	assert.Error(t, err)

	t.Setenv(EnvEncryptionSecret, strings.Repeat("x", 10))
	_, err = NewEncryptor()
	assert.Error(t, err)
}

func TestDatabase_EncryptedIdentifier(t *testing.T) {
	t.Setenv(EnvEnableEncryption, "true")
	t.Setenv(EnvEncryptionSecret, testSecret)

	db, err := New(filepath.Join(t.TempDir(), "enc.db"))
	require.NoError(t, err)
	defer db.Close()
	assert.True(t, db.EncryptionEnabled())

	ctx := t.Context()
	s := newSession()
	s.Identifier = "G-555"
	require.NoError(t, db.CreateSession(ctx, s))

	var stored string
	require.NoError(t, db.db.QueryRowContext(ctx, `SELECT identifier FROM chat_sessions WHERE id = ?`, s.ID).Scan(&stored))
	assert.NotEqual(t, "G-555", stored)

	got, err := db.GetSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "G-555", got.Identifier)
}
