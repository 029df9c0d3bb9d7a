package ingestserver

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validReplay = `metadata|{"perspective":"white","white-id":991,"black-id":1002,"white-name":"Redwood","black-name":"Umber","deck":"dont know","game-id":42,"winner":"white","played-at":1378167000,"version":"1.2"}
elapsed|1.23|{"msg":"CardPlayed","card":17}
elapsed|3.77|{"msg":"NewEffects","effects":[{"EndGame":{"winner":"white","gameId":42}}]}
`

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	srv := NewServer(DefaultServerConfig(":0"), NewMemStore())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

func postReplay(t *testing.T, url, content string) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	part, err := form.CreateFormFile("replay", "42-white.spr")
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, form.Close())

	resp, err := http.Post(url+"/v1/replays", form.FormDataContentType(), &buf)
	require.NoError(t, err)
	return resp
}

func decodeFlat(t *testing.T, resp *http.Response) map[string]string {
	t.Helper()
	defer resp.Body.Close()
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestIngestAcceptsValidReplay(t *testing.T) {
	_, ts := newTestServer(t)

	resp := postReplay(t, ts.URL, validReplay)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeFlat(t, resp)
	assert.Contains(t, body["url"], "/replay/")
	assert.Empty(t, body["error"])
}

func TestIngestRejectsShortGame(t *testing.T) {
	_, ts := newTestServer(t)

	short := "metadata|{\"perspective\":\"white\",\"game-id\":7,\"winner\":\"black\"}\nelapsed|0.50|{\"msg\":\"NewEffects\"}\n"
	resp := postReplay(t, ts.URL, short)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	body := decodeFlat(t, resp)
	assert.Equal(t, "game_too_short", body["error"])
}

func TestIngestRejectsMalformedReplay(t *testing.T) {
	_, ts := newTestServer(t)

	resp := postReplay(t, ts.URL, "this is not a transcript\n")
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	body := decodeFlat(t, resp)
	assert.Equal(t, "malformed_replay", body["error"])
}

func TestIngestRejectsMissingField(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/v1/replays", "text/plain", strings.NewReader(validReplay))
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	body := decodeFlat(t, resp)
	assert.Equal(t, "missing_replay_field", body["error"])
}

func TestIngestRejectsMissingMetadata(t *testing.T) {
	_, ts := newTestServer(t)

	// metadata行合法但缺少game-id和perspective
	noIDs := "metadata|{\"deck\":\"dont know\"}\nelapsed|1.00|a\nelapsed|2.00|b\n"
	resp := postReplay(t, ts.URL, noIDs)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	body := decodeFlat(t, resp)
	assert.Equal(t, "missing_metadata", body["error"])
}

func TestReuploadSameGameOverwrites(t *testing.T) {
	_, ts := newTestServer(t)

	resp1 := postReplay(t, ts.URL, validReplay)
	url1 := decodeFlat(t, resp1)["url"]
	resp2 := postReplay(t, ts.URL, validReplay)
	url2 := decodeFlat(t, resp2)["url"]

	assert.Equal(t, url1, url2, "same game and perspective must map to one replay")
}

func TestListAndGetReplay(t *testing.T) {
	_, ts := newTestServer(t)

	resp := postReplay(t, ts.URL, validReplay)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	listResp, err := http.Get(ts.URL + "/v1/replays")
	require.NoError(t, err)
	defer listResp.Body.Close()
	require.Equal(t, http.StatusOK, listResp.StatusCode)

	var list PaginatedResponse
	require.NoError(t, json.NewDecoder(listResp.Body).Decode(&list))
	assert.True(t, list.Success)
	assert.Equal(t, 1, list.Pagination.Total)

	getResp, err := http.Get(ts.URL + "/v1/replays/1")
	require.NoError(t, err)
	defer getResp.Body.Close()
	require.Equal(t, http.StatusOK, getResp.StatusCode)

	var detail struct {
		Success bool          `json:"success"`
		Data    ReplaySummary `json:"data"`
	}
	require.NoError(t, json.NewDecoder(getResp.Body).Decode(&detail))
	assert.Equal(t, int64(42), detail.Data.GameID)
	assert.Equal(t, "white", detail.Data.Perspective)
	assert.Equal(t, "white", detail.Data.Winner)
	assert.Equal(t, 2, detail.Data.Records)
}

func TestDownloadReplayRoundTrip(t *testing.T) {
	_, ts := newTestServer(t)

	resp := postReplay(t, ts.URL, validReplay)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	dlResp, err := http.Get(ts.URL + "/v1/replays/1/download")
	require.NoError(t, err)
	defer dlResp.Body.Close()
	require.Equal(t, http.StatusOK, dlResp.StatusCode)

	var buf bytes.Buffer
	_, err = buf.ReadFrom(dlResp.Body)
	require.NoError(t, err)

	content := buf.String()
	assert.True(t, strings.HasPrefix(content, "metadata|"))
	assert.Equal(t, 2, strings.Count(content, "elapsed|"))
	assert.Contains(t, content, `{"msg":"CardPlayed","card":17}`)
}

func TestGetUnknownReplay(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/v1/replays/999")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthCheck(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/v1/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
