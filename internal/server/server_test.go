package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwbudde/pixelmatch/internal/match"
)

func TestServer_CreateJob(t *testing.T) {
	baseline, candidate := imagePair(t)
	s, ts := newTestServer(t, false)

	resp := postJob(t, ts, map[string]any{
		"baseline":  baseline,
		"candidate": candidate,
		"options":   map[string]any{"threshold": 0.05},
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var job Job
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&job))
	require.NotEmpty(t, job.ID)
	assert.Equal(t, 0.05, job.Config.Options.Threshold)
	assert.Equal(t, match.DefaultOptions().Alpha, job.Config.Options.Alpha, "unset options keep defaults")

	done := waitForJob(t, s, job.ID)
	assert.Equal(t, StateCompleted, done.State)
	assert.Equal(t, 2, done.Mismatched)
	assert.Equal(t, 48, done.Total)
}

func TestServer_CreateJob_BadRequests(t *testing.T) {
	baseline, candidate := imagePair(t)
	_, ts := newTestServer(t, false)

	tests := []struct {
		name string
		body any
	}{
		{"missing candidate", map[string]any{"baseline": baseline}},
		{"unknown field", map[string]any{"baseline": baseline, "candidate": candidate, "mode": "x"}},
		{"unknown option", map[string]any{"baseline": baseline, "candidate": candidate, "options": map[string]any{"fast": true}}},
		{"invalid option", map[string]any{"baseline": baseline, "candidate": candidate, "options": map[string]any{"alpha": 3}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJob(t, ts, tt.body)
			resp.Body.Close()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestServer_CreateJob_Root(t *testing.T) {
	baseline, candidate := imagePair(t)
	root := filepath.Dir(baseline)

	outside := filepath.Join(t.TempDir(), "secret.png")
	writePNG(t, outside, testImage(8, 6))

	s := NewServer(Config{MaxConcurrent: 2, Workers: 1, Root: root})
	t.Cleanup(s.cancel)
	url := httptestServer(t, s)
	post := func(body map[string]any) *http.Response {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		resp, err := http.Post(url+"/api/v1/jobs", "application/json", bytes.NewReader(data))
		require.NoError(t, err)
		return resp
	}

	resp := post(map[string]any{"baseline": "baseline.png", "candidate": candidate})
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var job Job
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&job))
	assert.Equal(t, baseline, job.Config.Baseline, "relative paths resolve against the root")

	done := waitForJob(t, s, job.ID)
	assert.Equal(t, StateCompleted, done.State)
	assert.Equal(t, 2, done.Mismatched)

	for _, path := range []string{outside, "../secret.png", "sub/../../secret.png"} {
		t.Run(path, func(t *testing.T) {
			resp := post(map[string]any{"baseline": baseline, "candidate": path})
			resp.Body.Close()
			assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		})
	}
	assert.Len(t, s.jobs.ListJobs(), 1, "rejected requests create no job")
}

func TestServer_JobFailsOnMissingFile(t *testing.T) {
	baseline, _ := imagePair(t)
	s, ts := newTestServer(t, false)

	resp := postJob(t, ts, map[string]any{"baseline": baseline, "candidate": "/does/not/exist.png"})
	defer resp.Body.Close()

	var job Job
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&job))

	done := waitForJob(t, s, job.ID)
	assert.Equal(t, StateFailed, done.State)
	assert.Contains(t, done.Error, "candidate")
}

func TestServer_GetAndListJobs(t *testing.T) {
	baseline, candidate := imagePair(t)
	s, ts := newTestServer(t, false)

	resp := postJob(t, ts, map[string]any{"baseline": baseline, "candidate": candidate})
	var job Job
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&job))
	resp.Body.Close()
	waitForJob(t, s, job.ID)

	resp, err := http.Get(ts.URL + "/api/v1/jobs/" + job.ID)
	require.NoError(t, err)
	var got Job
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	resp.Body.Close()
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, StateCompleted, got.State)

	resp, err = http.Get(ts.URL + "/api/v1/jobs")
	require.NoError(t, err)
	var list []Job
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	resp.Body.Close()
	assert.Len(t, list, 1)

	resp, err = http.Get(ts.URL + "/api/v1/jobs/unknown")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_DiffImage(t *testing.T) {
	baseline, candidate := imagePair(t)
	s, ts := newTestServer(t, true)

	resp := postJob(t, ts, map[string]any{"baseline": baseline, "candidate": candidate})
	var job Job
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&job))
	resp.Body.Close()
	waitForJob(t, s, job.ID)

	resp, err := http.Get(ts.URL + "/api/v1/jobs/" + job.ID + "/diff.png")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))

	img, err := png.Decode(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 8, 6), img.Bounds())
	r, g, b, _ := img.At(1, 1).RGBA()
	assert.Equal(t, [3]uint32{0xffff, 0, 0}, [3]uint32{r, g, b})
}

func TestServer_DiffImageFromStore(t *testing.T) {
	baseline, candidate := imagePair(t)
	s, ts := newTestServer(t, true)

	resp := postJob(t, ts, map[string]any{"baseline": baseline, "candidate": candidate})
	var job Job
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&job))
	resp.Body.Close()
	waitForJob(t, s, job.ID)

	report, err := s.store.LoadReport(job.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Mismatched)
	assert.Equal(t, s.store.DiffPath(job.ID), report.DiffPath)

	// a fresh server sharing the store still serves the persisted diff
	s2 := NewServer(Config{Store: s.store})
	defer s2.cancel()
	ts2 := httptestServer(t, s2)

	resp, err = http.Get(ts2 + "/api/v1/jobs/" + job.ID + "/diff.png")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	_, err = png.Decode(resp.Body)
	assert.NoError(t, err)
}

func TestServer_JobStream(t *testing.T) {
	baseline, candidate := imagePair(t)
	s, ts := newTestServer(t, false)

	resp := postJob(t, ts, map[string]any{"baseline": baseline, "candidate": candidate})
	var job Job
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&job))
	resp.Body.Close()

	stream, err := http.Get(ts.URL + "/api/v1/jobs/" + job.ID + "/events")
	require.NoError(t, err)
	defer stream.Body.Close()
	assert.Equal(t, "text/event-stream", stream.Header.Get("Content-Type"))

	// the stream ends once the job is terminal
	var last JobEvent
	scanner := bufio.NewScanner(stream.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if data, ok := strings.CutPrefix(line, "data: "); ok {
			require.NoError(t, json.Unmarshal([]byte(data), &last))
		}
	}
	require.NoError(t, scanner.Err())

	assert.Equal(t, job.ID, last.JobID)
	assert.Equal(t, StateCompleted, last.State)
	assert.Equal(t, 2, last.Mismatched)
	waitForJob(t, s, job.ID)
}

func TestServer_JobStream_NotFound(t *testing.T) {
	_, ts := newTestServer(t, false)

	resp, err := http.Get(ts.URL + "/api/v1/jobs/nope/events")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_Compare(t *testing.T) {
	_, ts := newTestServer(t, false)

	body, contentType := multipartBody(t, map[string]image.Image{
		"baseline":  testImage(5, 5),
		"candidate": testImage(5, 5, image.Pt(2, 2)),
	}, map[string]string{"options": `{"threshold": 0.2}`})

	resp, err := http.Post(ts.URL+"/api/v1/compare", contentType, body)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got CompareResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, CompareResponse{Width: 5, Height: 5, Mismatched: 1, Total: 25, Percent: 4}, got)
}

func TestServer_CompareDiffPNG(t *testing.T) {
	_, ts := newTestServer(t, false)

	body, contentType := multipartBody(t, map[string]image.Image{
		"baseline":  testImage(5, 5),
		"candidate": testImage(5, 5, image.Pt(0, 4)),
	}, nil)

	resp, err := http.Post(ts.URL+"/api/v1/compare?diff=1", contentType, body)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "1", resp.Header.Get("X-Mismatched-Pixels"))

	img, err := png.Decode(resp.Body)
	require.NoError(t, err)
	r, g, b, _ := img.At(0, 4).RGBA()
	assert.Equal(t, [3]uint32{0xffff, 0, 0}, [3]uint32{r, g, b})
}

func TestServer_CompareErrors(t *testing.T) {
	_, ts := newTestServer(t, false)

	tests := []struct {
		name   string
		files  map[string]image.Image
		fields map[string]string
		status int
	}{
		{
			name:   "missing candidate",
			files:  map[string]image.Image{"baseline": testImage(2, 2)},
			status: http.StatusBadRequest,
		},
		{
			name:   "bad options",
			files:  map[string]image.Image{"baseline": testImage(2, 2), "candidate": testImage(2, 2)},
			fields: map[string]string{"options": `{"treshold": 0.1}`},
			status: http.StatusBadRequest,
		},
		{
			name:   "size mismatch",
			files:  map[string]image.Image{"baseline": testImage(2, 2), "candidate": testImage(3, 2)},
			status: http.StatusUnprocessableEntity,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, contentType := multipartBody(t, tt.files, tt.fields)
			resp, err := http.Post(ts.URL+"/api/v1/compare", contentType, body)
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestServer_MetricsAndHealth(t *testing.T) {
	_, ts := newTestServer(t, false)

	body, contentType := multipartBody(t, map[string]image.Image{
		"baseline":  testImage(3, 3),
		"candidate": testImage(3, 3),
	}, nil)
	resp, err := http.Post(ts.URL+"/api/v1/compare", contentType, body)
	require.NoError(t, err)
	resp.Body.Close()

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(data), `pixelmatch_comparisons_total{outcome="identical"} 1`)
	assert.Contains(t, string(data), "pixelmatch_comparison_duration_seconds_count 1")

	resp, err = http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_ShutdownCancelsWaitingJobs(t *testing.T) {
	baseline, candidate := imagePair(t)
	s := NewServer(Config{MaxConcurrent: 1})

	// occupy the only slot so the job stays pending
	require.NoError(t, s.acquire(context.Background()))

	job := s.jobs.CreateJob(JobConfig{Baseline: baseline, Candidate: candidate, Options: match.DefaultOptions()})
	errc := make(chan error, 1)
	go func() { errc <- s.runJob(s.ctx, job.ID) }()

	require.NoError(t, s.Shutdown(context.Background()))
	assert.ErrorIs(t, <-errc, context.Canceled)

	got, _ := s.jobs.GetJob(job.ID)
	assert.Equal(t, StateCancelled, got.State)
	s.release()
}
