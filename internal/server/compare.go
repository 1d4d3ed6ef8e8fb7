package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cwbudde/pixelmatch/internal/imgutil"
	"github.com/cwbudde/pixelmatch/internal/match"
)

// maxUploadBytes bounds the multipart body of a synchronous comparison.
const maxUploadBytes = 64 << 20

// CompareResponse is the JSON body returned by POST /api/v1/compare.
type CompareResponse struct {
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	Mismatched  int     `json:"mismatched"`
	AntiAliased int     `json:"antiAliased"`
	Total       int     `json:"total"`
	Percent     float64 `json:"percent"`
}

// handleCompare handles POST /api/v1/compare. The multipart form carries
// the "baseline" and "candidate" images and an optional "options" JSON
// field. With ?diff=1 the rendered diff PNG is returned instead of JSON.
func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		http.Error(w, fmt.Sprintf("Invalid multipart form: %v", err), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	opts, err := parseOptions(r.FormValue("options"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	baseline, err := formImage(r, "baseline")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	candidate, err := formImage(r, "candidate")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.acquire(r.Context()); err != nil {
		http.Error(w, "Request cancelled while waiting for a worker", http.StatusServiceUnavailable)
		return
	}
	start := time.Now()
	res, err := imgutil.CompareWorkers(baseline, candidate, opts, s.workers)
	s.release()
	s.metrics.observe(statsOf(res), time.Since(start), err)

	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, match.ErrDimensionMismatch) || errors.Is(err, match.ErrInvalidOption) {
			status = http.StatusUnprocessableEntity
		}
		http.Error(w, err.Error(), status)
		return
	}

	slog.Debug("Compared upload", "mismatched", res.Mismatched, "elapsed", time.Since(start))

	if r.URL.Query().Get("diff") == "1" {
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("X-Mismatched-Pixels", fmt.Sprint(res.Mismatched))
		if err := png.Encode(w, res.Diff); err != nil {
			slog.Error("Failed to encode PNG", "error", err)
		}
		return
	}

	b := res.Diff.Bounds()
	writeJSON(w, http.StatusOK, CompareResponse{
		Width:       b.Dx(),
		Height:      b.Dy(),
		Mismatched:  res.Mismatched,
		AntiAliased: res.AntiAliased,
		Total:       res.Total,
		Percent:     res.Percent(),
	})
}

// parseOptions decodes a JSON options object over the defaults. Unknown
// fields are rejected.
func parseOptions(raw string) (match.Options, error) {
	opts := match.DefaultOptions()
	if strings.TrimSpace(raw) == "" {
		return opts, nil
	}

	dec := json.NewDecoder(strings.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&opts); err != nil {
		return match.Options{}, fmt.Errorf("invalid options: %w", err)
	}
	if err := opts.Validate(); err != nil {
		return match.Options{}, err
	}
	return opts, nil
}

func formImage(r *http.Request, field string) (image.Image, error) {
	f, _, err := r.FormFile(field)
	if err != nil {
		return nil, fmt.Errorf("missing %s image: %w", field, err)
	}
	defer f.Close()

	img, err := imgutil.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", field, err)
	}
	return img, nil
}
