package postgres

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPendingFiles(t *testing.T) {
	files := fstest.MapFS{
		"002_remittance.sql": {Data: []byte("SELECT 2")},
		"001_payments.sql":   {Data: []byte("SELECT 1")},
		"README.md":          {Data: []byte("docs")},
		"old/003.sql":        {Data: []byte("SELECT 3")},
	}

	names, err := pendingFiles(files, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"001_payments.sql", "002_remittance.sql"}, names)

	names, err = pendingFiles(files, map[string]bool{"001_payments.sql": true})
	require.NoError(t, err)
	assert.Equal(t, []string{"002_remittance.sql"}, names)
}
