package server

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cwbudde/pixelmatch/internal/store"
)

// testImage returns a w×h white image with the listed pixels painted black.
func testImage(w, h int, black ...image.Point) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{255, 255, 255, 255})
		}
	}
	for _, p := range black {
		img.SetNRGBA(p.X, p.Y, color.NRGBA{0, 0, 0, 255})
	}
	return img
}

func writePNG(t *testing.T, path string, img image.Image) {
	t.Helper()

	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

// imagePair writes a baseline and a candidate differing in two pixels.
func imagePair(t *testing.T) (baseline, candidate string) {
	t.Helper()

	dir := t.TempDir()
	baseline = filepath.Join(dir, "baseline.png")
	candidate = filepath.Join(dir, "candidate.png")
	writePNG(t, baseline, testImage(8, 6))
	writePNG(t, candidate, testImage(8, 6, image.Pt(1, 1), image.Pt(6, 4)))
	return baseline, candidate
}

func newTestServer(t *testing.T, withStore bool) (*Server, *httptest.Server) {
	t.Helper()

	cfg := Config{MaxConcurrent: 2, Workers: 2}
	if withStore {
		st, err := store.NewFSStore(t.TempDir())
		require.NoError(t, err)
		cfg.Store = st
	}

	s := NewServer(cfg)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		s.cancel()
	})
	return s, ts
}

func postJob(t *testing.T, ts *httptest.Server, body any) *http.Response {
	t.Helper()

	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(ts.URL+"/api/v1/jobs", "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func waitForJob(t *testing.T, s *Server, id string) Job {
	t.Helper()

	var job Job
	require.Eventually(t, func() bool {
		var ok bool
		job, ok = s.jobs.GetJob(id)
		return ok && job.State.Terminal()
	}, 5*time.Second, 10*time.Millisecond)
	return job
}

func multipartBody(t *testing.T, files map[string]image.Image, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, img := range files {
		fw, err := mw.CreateFormFile(name, name+".png")
		require.NoError(t, err)
		require.NoError(t, png.Encode(fw, img))
	}
	for name, value := range fields {
		require.NoError(t, mw.WriteField(name, value))
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func httptestServer(t *testing.T, s *Server) string {
	t.Helper()

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts.URL
}
