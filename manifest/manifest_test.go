package manifest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FelixBucket/shticker-book-unwritten/errs"
)

func TestDecodePreservesKeyOrder(t *testing.T) {
	body := `{
		"zeta": {"only": ["linux2"], "dl": "z", "compHash": "` + strings.Repeat("a", 40) + `", "hash": "` + strings.Repeat("b", 40) + `", "patches": {}},
		"alpha": {"only": ["linux2"], "dl": "a", "compHash": "` + strings.Repeat("c", 40) + `", "hash": "` + strings.Repeat("d", 40) + `", "patches": {}}
	}`

	m, order, err := Decode(strings.NewReader(body))
	require.NoError(t, err)
	assert.Equal(t, []string{"zeta", "alpha"}, order)
	assert.Len(t, m, 2)
	assert.Equal(t, "z", m["zeta"].DL)
	assert.Equal(t, "a", m["alpha"].DL)
}

func TestDecodeRejectsNonObjectTopLevel(t *testing.T) {
	_, _, err := Decode(strings.NewReader(`["not", "an", "object"]`))
	require.Error(t, err)
	assert.IsType(t, &errs.BadManifestFormat{}, err)
}

func TestDecodeRejectsMalformedJSON(t *testing.T) {
	_, _, err := Decode(strings.NewReader(`{not valid json`))
	require.Error(t, err)
	assert.IsType(t, &errs.DeserializeError{}, err)
}

func TestFileEntryValidateRequiresFields(t *testing.T) {
	e := FileEntry{}
	err := e.Validate("thing")
	require.Error(t, err)
	assert.IsType(t, &errs.BadManifestFormat{}, err)
}

func TestFileEntrySupportsArch(t *testing.T) {
	e := FileEntry{Only: []string{"linux2", "osx"}}
	assert.True(t, e.SupportsArch("linux2"))
	assert.False(t, e.SupportsArch("windows"))
}
