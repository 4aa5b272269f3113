package pipeline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFile_MedicalSummary(t *testing.T) {
	c, err := LoadFile(filepath.Join("testdata", "medical_summary.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "medical-summary", c.Name)
	require.Equal(t, 5, c.Len())
	assert.Equal(t, "clinical", c.Metadata["domain"])

	assert.Equal(t, "gpt-4o-mini", c.Stages[0].Selected, "defaults to first candidate")
	assert.Equal(t, KindFilter, c.Stages[1].Kind)
	assert.Equal(t, "en-US", c.Stages[2].Params["locale"])
	assert.Equal(t, "gpt-4o-mini", c.Stages[4].Selected, "explicit selection kept")
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"empty", ""},
		{"no stages", "name: x\nstages: []\n"},
		{"bad selection", "stages:\n  - name: a\n    kind: map\n    candidates: [x]\n    selected: y\n"},
		{"bad kind", "stages:\n  - name: a\n    kind: sort\n    candidates: [x]\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.ErrorIs(t, err, ErrInvariant)
		})
	}
}

func TestParse_UnknownFieldRejected(t *testing.T) {
	_, err := Parse([]byte("stages:\n  - name: a\n    kind: map\n    candidates: [x]\n    model: y\n"))
	assert.Error(t, err)
}

func TestParse_DefaultName(t *testing.T) {
	c, err := Parse([]byte("stages:\n  - name: a\n    kind: map\n    candidates: [x]\n"))
	require.NoError(t, err)
	assert.Equal(t, "pipeline", c.Name)
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
