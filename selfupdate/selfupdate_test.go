package selfupdate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/dsnet/compress/bzip2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FelixBucket/shticker-book-unwritten/config"
	"github.com/FelixBucket/shticker-book-unwritten/digest"
)

// fakeRequester serves canned responses for exact URLs, for driving the
// update driver without a real network.
type fakeRequester struct {
	responses map[string]fakeResponse
	fetches   []string
}

type fakeResponse struct {
	status int
	body   []byte
}

func (f *fakeRequester) Fetch(_ context.Context, url string) (*http.Response, error) {
	f.fetches = append(f.fetches, url)
	r, ok := f.responses[url]
	if !ok {
		return nil, fmt.Errorf("fakeRequester: no response stubbed for %s", url)
	}
	return &http.Response{
		StatusCode: r.status,
		Body:       io.NopCloser(bytes.NewReader(r.body)),
	}, nil
}

func bzip2CompressBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var out bytes.Buffer
	w, err := bzip2.NewWriter(&out, nil)
	require.NoError(t, err)
	_, err = w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return out.Bytes()
}

func offtoutBytes(v int64) []byte {
	x := v
	if x < 0 {
		x = -x
	}
	buf := make([]byte, 8)
	for i := 0; i < 7; i++ {
		buf[i] = byte(x & 0xff)
		x >>= 8
	}
	buf[7] = byte(x & 0x7f)
	if v < 0 {
		buf[7] |= 0x80
	}
	return buf
}

// buildBSDIFF40 assembles a minimal single-triple BSDIFF40 patch that
// rewrites old into newContent in one (a, 0, 0) control triple, where
// a == len(newContent). It works for any pair of lengths: diff bytes
// past the end of old are taken as-is, since positions beyond oldsize
// add nothing.
func buildBSDIFF40(t *testing.T, old, newContent []byte) []byte {
	t.Helper()

	diff := make([]byte, len(newContent))
	for i := range diff {
		var o byte
		if i < len(old) {
			o = old[i]
		}
		diff[i] = newContent[i] - o
	}

	var ctrlPlain bytes.Buffer
	ctrlPlain.Write(offtoutBytes(int64(len(newContent))))
	ctrlPlain.Write(offtoutBytes(0))
	ctrlPlain.Write(offtoutBytes(0))

	ctrlBZ := bzip2CompressBytes(t, ctrlPlain.Bytes())
	diffBZ := bzip2CompressBytes(t, diff)
	extraBZ := bzip2CompressBytes(t, nil)

	var out bytes.Buffer
	out.WriteString("BSDIFF40")
	out.Write(offtoutBytes(int64(len(ctrlBZ))))
	out.Write(offtoutBytes(int64(len(diffBZ))))
	out.Write(offtoutBytes(int64(len(newContent))))
	out.Write(ctrlBZ)
	out.Write(diffBZ)
	out.Write(extraBZ)
	return out.Bytes()
}

func sha1Hex(t *testing.T, data []byte) string {
	t.Helper()
	d, err := digest.SHA1OfReader(bytes.NewReader(data))
	require.NoError(t, err)
	return digest.DigestToHex(d)
}

// TestUpdateHappyPatch is scenario S1: a local file whose hash matches
// a known predecessor digest is brought up to date via a patch.
func TestUpdateHappyPatch(t *testing.T) {
	installDir := t.TempDir()
	cacheDir := t.TempDir()

	oldContent := []byte("this is version one of file A, in its entirety")
	newContent := []byte("this is version TWO of file A, quite different")

	require.NoError(t, os.WriteFile(filepath.Join(installDir, "A"), oldContent, 0o644))

	rawPatch := buildBSDIFF40(t, oldContent, newContent)
	compressedPatch := bzip2CompressBytes(t, rawPatch)

	manifestJSON, err := json.Marshal(map[string]any{
		"A": map[string]any{
			"only":     []string{DefaultArch},
			"dl":       "A.full.bz2",
			"compHash": sha1Hex(t, []byte("unused full download in this scenario")),
			"hash":     sha1Hex(t, newContent),
			"patches": map[string]any{
				sha1Hex(t, oldContent): map[string]any{
					"filename":      "A.patch.bz2",
					"compPatchHash": sha1Hex(t, compressedPatch),
					"patchHash":     sha1Hex(t, rawPatch),
				},
			},
		},
	})
	require.NoError(t, err)

	cfg := config.Config{
		InstallDir:  installDir,
		CacheDir:    cacheDir,
		ManifestURI: "http://manifest.example/manifest.json",
		CDNURI:      "http://cdn.example/",
	}

	fake := &fakeRequester{responses: map[string]fakeResponse{
		cfg.ManifestURI:               {status: 200, body: manifestJSON},
		cfg.CDNURI + "A.patch.bz2":    {status: 200, body: compressedPatch},
	}}

	u := &Updater{Config: cfg, Requester: fake, Arch: DefaultArch}
	require.NoError(t, u.Update(context.Background()))

	got, err := os.ReadFile(filepath.Join(installDir, "A"))
	require.NoError(t, err)
	assert.Equal(t, newContent, got)
}

// TestUpdateNoPatchAvailable is scenario S2: no predecessor patch
// matches, so the driver falls back to a full compressed download.
func TestUpdateNoPatchAvailable(t *testing.T) {
	installDir := t.TempDir()
	cacheDir := t.TempDir()

	oldContent := []byte("stale content nobody has a patch for")
	newContent := []byte("the fresh content served by the CDN")

	require.NoError(t, os.WriteFile(filepath.Join(installDir, "A"), oldContent, 0o644))

	compressedFull := bzip2CompressBytes(t, newContent)

	manifestJSON, err := json.Marshal(map[string]any{
		"A": map[string]any{
			"only":     []string{DefaultArch},
			"dl":       "A.full.bz2",
			"compHash": sha1Hex(t, compressedFull),
			"hash":     sha1Hex(t, newContent),
			"patches":  map[string]any{},
		},
	})
	require.NoError(t, err)

	cfg := config.Config{
		InstallDir:  installDir,
		CacheDir:    cacheDir,
		ManifestURI: "http://manifest.example/manifest.json",
		CDNURI:      "http://cdn.example/",
	}

	fake := &fakeRequester{responses: map[string]fakeResponse{
		cfg.ManifestURI:            {status: 200, body: manifestJSON},
		cfg.CDNURI + "A.full.bz2": {status: 200, body: compressedFull},
	}}

	u := &Updater{Config: cfg, Requester: fake, Arch: DefaultArch}
	require.NoError(t, u.Update(context.Background()))

	got, err := os.ReadFile(filepath.Join(installDir, "A"))
	require.NoError(t, err)
	assert.Equal(t, newContent, got)
}

// TestUpdateArchFilterSkipsEntry is scenario S3: an entry whose "only"
// excludes the running architecture triggers no network fetch and no
// write under the install or cache directories.
func TestUpdateArchFilterSkipsEntry(t *testing.T) {
	installDir := t.TempDir()
	cacheDir := t.TempDir()

	manifestJSON, err := json.Marshal(map[string]any{
		"B": map[string]any{
			"only":     []string{"windows"},
			"dl":       "B.full.bz2",
			"compHash": sha1Hex(t, []byte("x")),
			"hash":     sha1Hex(t, []byte("y")),
			"patches":  map[string]any{},
		},
	})
	require.NoError(t, err)

	cfg := config.Config{
		InstallDir:  installDir,
		CacheDir:    cacheDir,
		ManifestURI: "http://manifest.example/manifest.json",
		CDNURI:      "http://cdn.example/",
	}

	fake := &fakeRequester{responses: map[string]fakeResponse{
		cfg.ManifestURI: {status: 200, body: manifestJSON},
	}}

	u := &Updater{Config: cfg, Requester: fake, Arch: DefaultArch}
	require.NoError(t, u.Update(context.Background()))

	_, statErr := os.Stat(filepath.Join(installDir, "B"))
	assert.True(t, os.IsNotExist(statErr))

	for _, url := range fake.fetches {
		assert.NotContains(t, url, "B.full.bz2")
	}
}

// TestDownloadFileRetriesOnDigestMismatch is testable property 5: a
// compressed download whose SHA-1 doesn't match compHash is re-fetched,
// up to the configured max_tries.
func TestDownloadFileRetriesOnDigestMismatch(t *testing.T) {
	installDir := t.TempDir()
	cacheDir := t.TempDir()

	goodContent := []byte("eventually-correct content")
	goodCompressed := bzip2CompressBytes(t, goodContent)
	badCompressed := []byte("not the bytes you are looking for")

	cfg := config.Config{
		InstallDir:  installDir,
		CacheDir:    cacheDir,
		ManifestURI: "unused",
		CDNURI:      "http://cdn.example/",
	}

	callCount := 0
	fake := &countingRequester{
		fetch: func(url string) fakeResponse {
			callCount++
			if callCount < 3 {
				return fakeResponse{status: 200, body: badCompressed}
			}
			return fakeResponse{status: 200, body: goodCompressed}
		},
	}

	u := &Updater{Config: cfg, Requester: fake, Arch: DefaultArch}
	compDigest, err := digest.HexToDigest(sha1Hex(t, goodCompressed))
	require.NoError(t, err)
	decompDigest, err := digest.HexToDigest(sha1Hex(t, goodContent))
	require.NoError(t, err)

	err = u.downloadFile(context.Background(), false, "thing.bz2", "thing", compDigest, decompDigest, 5)
	require.NoError(t, err)
	assert.Equal(t, 3, callCount)

	got, err := os.ReadFile(filepath.Join(installDir, "thing"))
	require.NoError(t, err)
	assert.Equal(t, goodContent, got)
}

type countingRequester struct {
	fetch func(url string) fakeResponse
}

func (c *countingRequester) Fetch(_ context.Context, url string) (*http.Response, error) {
	r := c.fetch(url)
	return &http.Response{
		StatusCode: r.status,
		Body:       io.NopCloser(bytes.NewReader(r.body)),
	}, nil
}
