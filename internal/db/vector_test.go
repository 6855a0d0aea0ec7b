package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVectorValue(t *testing.T) {
	v := Vector{0.5, -1, 0.25}
	val, err := v.Value()
	require.NoError(t, err)
	assert.Equal(t, "[0.5,-1,0.25]", val)

	empty := Vector{}
	val, err = empty.Value()
	require.NoError(t, err)
	assert.Equal(t, "[]", val)
}

func TestVectorScan(t *testing.T) {
	var v Vector
	require.NoError(t, v.Scan([]byte("[0.5, -1, 0.25]")))
	assert.Equal(t, Vector{0.5, -1, 0.25}, v)

	require.NoError(t, v.Scan("[]"))
	assert.Equal(t, Vector{}, v)

	require.NoError(t, v.Scan(nil))
	assert.Nil(t, v)
}

func TestVectorScanErrors(t *testing.T) {
	var v Vector
	assert.Error(t, v.Scan("0.5,1"))
	assert.Error(t, v.Scan("[0.5,abc]"))
	assert.Error(t, v.Scan(42))
}

func TestVectorRoundTrip(t *testing.T) {
	orig := Vector{0.123, -0.456, 1, 0}
	val, err := orig.Value()
	require.NoError(t, err)

	var scanned Vector
	require.NoError(t, scanned.Scan(val.(string)))
	assert.Equal(t, orig, scanned)
}

func TestConfigDSN(t *testing.T) {
	cfg := Config{
		Host:     "db.internal",
		Port:     5433,
		Database: "entities",
		User:     "svc",
		Password: "secret",
		SSLMode:  "require",
	}
	assert.Equal(t,
		"host=db.internal port=5433 dbname=entities user=svc password=secret sslmode=require",
		cfg.DSN())

	// Empty ssl mode falls back to disable.
	cfg.SSLMode = ""
	assert.Contains(t, cfg.DSN(), "sslmode=disable")
}
