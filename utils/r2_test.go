package utils

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"squad-ladder/config"
)

func TestEvidenceKey(t *testing.T) {
	key := EvidenceKey("m-1", "Clip.MP4")
	assert.True(t, strings.HasPrefix(key, "evidence/m-1/"), key)
	assert.True(t, strings.HasSuffix(key, ".mp4"), key)
	assert.NotEqual(t, key, EvidenceKey("m-1", "Clip.MP4"))
}

func TestEvidenceStoreUpload(t *testing.T) {
	var (
		mu      sync.Mutex
		gotPath string
		gotBody string
		gotType string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		gotPath, gotBody, gotType = r.URL.Path, string(body), r.Header.Get("Content-Type")
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	t.Setenv("AWS_REQUEST_CHECKSUM_CALCULATION", "when_required")
	store, err := NewEvidenceStore(context.Background(), config.R2Config{
		AccountID:       "acct",
		AccessKeyID:     "key",
		AccessKeySecret: "secret",
		Bucket:          "evidence",
		CDNBaseURL:      "https://cdn.example/",
	}, srv.URL)
	require.NoError(t, err)

	url, err := store.Upload(context.Background(), "evidence/m-1/a.png", "image/png", []byte("png-bytes"))
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example/evidence/m-1/a.png", url)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "/evidence/evidence/m-1/a.png", gotPath)
	assert.Equal(t, "image/png", gotType)
	assert.Contains(t, gotBody, "png-bytes")
}
