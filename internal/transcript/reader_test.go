package transcript

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "42-white.spr")

	w, err := Open(path, 0)
	require.NoError(t, err)
	require.NoError(t, w.WriteMetadata(testMetadata()))
	require.NoError(t, w.WriteElapsed(1.23, `{"msg":"CardPlayed"}`))
	require.NoError(t, w.WriteElapsed(3.77, `{"msg":"NewEffects","effects":[{"EndGame":{"winner":"white"}}]}`))
	require.NoError(t, w.Close())

	tr, err := ParseFile(path)
	require.NoError(t, err)

	assert.Equal(t, "white", tr.Metadata["perspective"])
	assert.Equal(t, "SPWINNERSP", tr.Metadata["winner"])
	require.Len(t, tr.Records, 2)
	assert.InDelta(t, 1.23, tr.Records[0].Elapsed, 1e-9)
	assert.InDelta(t, 3.77, tr.Records[1].Elapsed, 1e-9)
	assert.Equal(t, `{"msg":"CardPlayed"}`, tr.Records[0].Raw)
}

func TestParseRequiresMetadataFirst(t *testing.T) {
	_, err := Parse(strings.NewReader("elapsed|1.00|x\n"))
	assert.ErrorIs(t, err, ErrNoMetadata)

	_, err = Parse(strings.NewReader(""))
	assert.ErrorIs(t, err, ErrNoMetadata)
}

func TestParseRejectsDuplicateMetadata(t *testing.T) {
	input := "metadata|{\"a\":1}\nmetadata|{\"b\":2}\n"
	_, err := Parse(strings.NewReader(input))
	assert.ErrorIs(t, err, ErrBadRecord)
}

func TestParseRejectsMalformedRecords(t *testing.T) {
	_, err := Parse(strings.NewReader("metadata|{\"a\":1}\ngarbage line\n"))
	assert.ErrorIs(t, err, ErrBadRecord)

	_, err = Parse(strings.NewReader("metadata|{\"a\":1}\nelapsed|notanumber|x\n"))
	assert.ErrorIs(t, err, ErrBadRecord)

	_, err = Parse(strings.NewReader("metadata|{\"a\":1}\nelapsed|1.00\n"))
	assert.ErrorIs(t, err, ErrBadRecord)
}

func TestParsePreservesPipesInRawText(t *testing.T) {
	input := "metadata|{\"a\":1}\nelapsed|0.10|raw|with|pipes\n"
	tr, err := Parse(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, tr.Records, 1)
	assert.Equal(t, "raw|with|pipes", tr.Records[0].Raw)
}
