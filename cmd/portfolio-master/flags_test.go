package main

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseInstant(t *testing.T) {
	got, err := parseInstant("--at", "")
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	got, err = parseInstant("--at", "2026-01-05T14:00:00+05:00")
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)))
	assert.Equal(t, time.UTC, got.Location())

	_, err = parseInstant("--at", "yesterday")
	require.ErrorContains(t, err, "--at")
}

func TestParseExternalID(t *testing.T) {
	id, err := parseExternalID("--key", "TICKER~ACME")
	require.NoError(t, err)
	assert.Equal(t, "TICKER", id.Scheme)
	assert.Equal(t, "ACME", id.Value)

	_, err = parseExternalID("--key", "ACME")
	require.Error(t, err)
	_, err = parseExternalID("--key", "TICKER~")
	require.Error(t, err)
}

func TestParseDecimal(t *testing.T) {
	d, err := parseDecimal("--min", "")
	require.NoError(t, err)
	assert.False(t, d.Valid)

	d, err = parseDecimal("--min", "12.50")
	require.NoError(t, err)
	assert.Equal(t, "12.5", d.Decimal.String())

	_, err = parseDecimal("--min", "lots")
	require.Error(t, err)
}

func TestAsOfFlags(t *testing.T) {
	f := asOfFlags{versionAsOf: "2026-01-05T09:00:00Z"}
	vc, err := f.versionCorrection()
	require.NoError(t, err)
	assert.False(t, vc.VersionAsOf.IsZero())
	assert.True(t, vc.CorrectedTo.IsZero())

	f.correctedTo = "bad"
	_, err = f.versionCorrection()
	require.ErrorContains(t, err, "--corrected-to")
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeJSON(&buf, "portfolio get", time.Now(), map[string]int{"n": 1}))

	var out struct {
		Command string         `json:"command"`
		Result  map[string]int `json:"result"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	assert.Equal(t, "portfolio get", out.Command)
	assert.Equal(t, 1, out.Result["n"])
}

func TestRootCmdTree(t *testing.T) {
	root := newRootCmd(&app{})
	for _, path := range [][]string{
		{"migrate", "up"},
		{"migrate", "status"},
		{"portfolio", "get"},
		{"portfolio", "history"},
		{"portfolio", "search"},
		{"portfolio", "renumber"},
		{"position", "get"},
		{"position", "search"},
	} {
		cmd, _, err := root.Find(path)
		require.NoError(t, err, path)
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}
}
