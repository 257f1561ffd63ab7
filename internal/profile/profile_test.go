package profile

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWellFormedProfileRoundTripsIntoFields(t *testing.T) {
	raw := []byte(`{
		"schemaVersion": "1.0.0",
		"pattern": "[a-z]{10}",
		"poolSize": "large",
		"limit": 5,
		"noCRLF": true
	}`)
	p, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "[a-z]{10}", p.Pattern)
	assert.Equal(t, "large", p.PoolSize)
	assert.Equal(t, int64(5), p.Limit)
	assert.True(t, p.NoCRLF)
}

func TestMissingRequiredFieldFailsValidation(t *testing.T) {
	raw := []byte(`{"schemaVersion": "1.0.0"}`)
	_, err := Parse(raw)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidProfile))
}

func TestIncompatibleSchemaVersionFailsWithSentinel(t *testing.T) {
	raw := []byte(`{"schemaVersion": "2.0.0", "pattern": "abc"}`)
	_, err := Parse(raw)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrIncompatibleVersion))
}

func TestMalformedJSONFails(t *testing.T) {
	_, err := Parse([]byte(`{not json`))
	require.Error(t, err)
}

func TestLoadReadsFromDisk(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "profile.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"schemaVersion":"1.0.0","pattern":"x"}`), 0o644))

	p, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "x", p.Pattern)
	assert.Equal(t, "normal", p.PoolSize, "default pool size applies when omitted")
	assert.Equal(t, int64(-1), p.Limit, "default limit applies when omitted")
}

func TestDefaultsAreOverriddenWhenKeyExplicitlyZero(t *testing.T) {
	raw := []byte(`{"schemaVersion":"1.0.0","pattern":"x","limit":0}`)
	p, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, int64(0), p.Limit)
}
