package postgres

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditLog_PackCompressesLargeChanges(t *testing.T) {
	l, err := NewAuditLog(nil, 64)
	require.NoError(t, err)

	ids := make([]string, 40)
	for i := range ids {
		ids[i] = strings.Repeat("a", 36)
	}
	raw, err := json.Marshal(map[string]any{"applicationIds": ids})
	require.NoError(t, err)

	var e AuditEntry
	l.pack(&e, raw)
	assert.Equal(t, CompressionZstd, e.CompressionAlgo)
	assert.Nil(t, e.Changes)
	assert.Less(t, len(e.ChangesCompressed), len(raw))

	require.NoError(t, l.unpack(&e))
	assert.JSONEq(t, string(raw), string(e.Changes))
	assert.Nil(t, e.ChangesCompressed)
}

func TestAuditLog_PackKeepsSmallChanges(t *testing.T) {
	l, err := NewAuditLog(nil, 0)
	require.NoError(t, err)

	raw := []byte(`{"orNumber":"OR-1001"}`)
	var e AuditEntry
	l.pack(&e, raw)

	assert.Equal(t, CompressionNone, e.CompressionAlgo)
	assert.Equal(t, raw, []byte(e.Changes))
	require.NoError(t, l.unpack(&e))
}
