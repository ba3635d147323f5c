package api

import (
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kisohq/kiso/pkg/pubfiles"
)

func TestPubFileHandler_ServesMintedURL(t *testing.T) {
	ts := newTestServer(t, nil)
	pubDir := filepath.Join(ts.sessionsDir, "s1", "pub")
	require.NoError(t, os.MkdirAll(pubDir, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(pubDir, "report.txt"), []byte("all green"), 0o600))

	pub := pubfiles.New("KISO_TEST_PUB_SECRET", ts.sessionsDir)
	url, err := pub.URL("s1", "report.txt")
	require.NoError(t, err)

	// No bearer token: pub downloads are capability URLs.
	rec := ts.do(http.MethodGet, url, "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "all green", rec.Body.String())
}

func TestPubFileHandler_WrongTokenIs404(t *testing.T) {
	ts := newTestServer(t, nil)
	pubDir := filepath.Join(ts.sessionsDir, "s1", "pub")
	require.NoError(t, os.MkdirAll(pubDir, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(pubDir, "report.txt"), []byte("all green"), 0o600))

	rec := ts.do(http.MethodGet, "/pub/deadbeef/report.txt", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPubFileHandler_TraversalIs404(t *testing.T) {
	ts := newTestServer(t, nil)
	pub := pubfiles.New("KISO_TEST_PUB_SECRET", ts.sessionsDir)
	token, err := pub.Mint("s1", "report.txt")
	require.NoError(t, err)

	rec := ts.do(http.MethodGet, "/pub/"+token+"/..%2Fsecrets", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
