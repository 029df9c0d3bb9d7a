package transcript

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMetadata() Metadata {
	return Metadata{
		{Key: "perspective", Value: "white"},
		{Key: "white-id", Value: int64(991)},
		{Key: "black-id", Value: int64(1002)},
		{Key: "white-name", Value: "Redwood"},
		{Key: "black-name", Value: "Umber"},
		{Key: "deck", Value: "dont know"},
		{Key: "game-id", Value: int64(42)},
		{Key: "winner", Value: "SPWINNERSP"},
		{Key: "played-at", Value: int64(1378167000)},
		{Key: "version", Value: "1.2.1"},
	}
}

func TestWriterMetadataFirstLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "42-white.spr")

	w, err := Open(path, 0)
	require.NoError(t, err)
	require.NoError(t, w.WriteMetadata(testMetadata()))
	require.NoError(t, w.WriteElapsed(1.23, `{"msg":"CardPlayed"}`))
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	require.Len(t, lines, 2)

	assert.True(t, strings.HasPrefix(lines[0], "metadata|"), "first line must be metadata")
	assert.Equal(t, `elapsed|1.23|{"msg":"CardPlayed"}`, lines[1])
}

func TestMetadataPreservesFieldOrder(t *testing.T) {
	encoded, err := testMetadata().encode()
	require.NoError(t, err)

	// 字段顺序必须和写入顺序一致，不能被按键名重排
	assert.Equal(t, `{"perspective":"white","white-id":991,"black-id":1002,`+
		`"white-name":"Redwood","black-name":"Umber","deck":"dont know",`+
		`"game-id":42,"winner":"SPWINNERSP","played-at":1378167000,"version":"1.2.1"}`, encoded)
}

func TestWriterRejectsMetadataTwice(t *testing.T) {
	w, err := Open(filepath.Join(t.TempDir(), "a.spr"), 16)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.WriteMetadata(testMetadata()))
	assert.ErrorIs(t, w.WriteMetadata(testMetadata()), ErrMetadataTwice)
}

func TestWriterRequiresMetadataBeforeElapsed(t *testing.T) {
	w, err := Open(filepath.Join(t.TempDir(), "a.spr"), 16)
	require.NoError(t, err)
	defer w.Close()

	assert.ErrorIs(t, w.WriteElapsed(0.5, "x"), ErrMetadataMissing)
}

func TestWriterStripsNewlines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.spr")
	w, err := Open(path, 0)
	require.NoError(t, err)
	require.NoError(t, w.WriteMetadata(testMetadata()))
	require.NoError(t, w.WriteElapsed(2.5, "line one\nline two\r\nline three"))
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "elapsed|2.50|line oneline twoline three", lines[1])
}

func TestWriterElapsedTwoDecimals(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.spr")
	w, err := Open(path, 0)
	require.NoError(t, err)
	require.NoError(t, w.WriteMetadata(testMetadata()))
	require.NoError(t, w.WriteElapsed(0, "a"))
	require.NoError(t, w.WriteElapsed(3.777, "b"))
	require.NoError(t, w.WriteElapsed(5, "c"))
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "elapsed|0.00|a\n")
	assert.Contains(t, string(data), "elapsed|3.78|b\n")
	assert.Contains(t, string(data), "elapsed|5.00|c\n")
}

func TestWriterClosedIsUnusable(t *testing.T) {
	w, err := Open(filepath.Join(t.TempDir(), "a.spr"), 0)
	require.NoError(t, err)
	require.NoError(t, w.WriteMetadata(testMetadata()))
	require.NoError(t, w.Close())

	assert.ErrorIs(t, w.WriteElapsed(1, "x"), ErrWriterClosed)
	assert.ErrorIs(t, w.WriteMetadata(testMetadata()), ErrWriterClosed)
	assert.NoError(t, w.Close(), "double close is a no-op")
}

func TestPatchPlaceholder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "42-white.spr")

	w, err := Open(path, 0)
	require.NoError(t, err)
	require.NoError(t, w.WriteMetadata(testMetadata()))
	require.NoError(t, w.WriteElapsed(1.23, `{"msg":"CardPlayed"}`))
	require.NoError(t, w.Close())

	require.NoError(t, PatchPlaceholder(path, "SPWINNERSP", "white"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "SPWINNERSP")
	assert.Contains(t, string(data), `"winner":"white"`)
}

func TestPatchPlaceholderMissingFile(t *testing.T) {
	err := PatchPlaceholder(filepath.Join(t.TempDir(), "nope.spr"), "A", "B")
	assert.Error(t, err)
}

func TestOpenFailsOnBadDirectory(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing", "a.spr"), 0)
	assert.Error(t, err)
}
