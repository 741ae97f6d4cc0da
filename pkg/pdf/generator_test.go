package pdf

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateCertificate(t *testing.T) {
	out, err := NewGenerator().Generate(Certificate{
		Title:     "Warehouse Receipt Certificate",
		Subtitle:  "Batch MAIZE-2025-001",
		Reference: "5f0c",
		Fields: []Field{
			{Label: "Net weight", Value: "500.000 KG"},
			{Label: "Storage", Value: "Entrepôt Bouaké"},
		},
		Footer:   "Content hash: abc",
		IssuedAt: time.Now(),
	})
	require.NoError(t, err)

	data, err := io.ReadAll(out)
	require.NoError(t, err)
	assert.True(t, len(data) > 100)
	assert.Equal(t, "%PDF-", string(data[:5]))
}
