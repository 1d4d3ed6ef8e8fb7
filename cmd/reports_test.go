package main

import (
	"bytes"
	"image"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwbudde/pixelmatch/internal/match"
	"github.com/cwbudde/pixelmatch/internal/store"
)

func reportInfos(now time.Time) []store.ReportInfo {
	return []store.ReportInfo{
		{ID: "r1", Timestamp: now.AddDate(0, 0, -10)},
		{ID: "r2", Timestamp: now.AddDate(0, 0, -5)},
		{ID: "r3", Timestamp: now.AddDate(0, 0, -1)},
		{ID: "r4", Timestamp: now.AddDate(0, 0, -30)},
	}
}

func ids(infos []store.ReportInfo) []string {
	out := make([]string, 0, len(infos))
	for _, info := range infos {
		out = append(out, info.ID)
	}
	return out
}

func TestSelectReportsForDeletion(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name          string
		keepLast      int
		olderThanDays int
		want          []string
	}{
		{"by age", 0, 7, []string{"r4", "r1"}},
		{"by count", 2, 0, []string{"r4", "r1"}},
		{"count keeps all", 10, 0, nil},
		{"combined", 3, 4, []string{"r4", "r1", "r2"}},
		{"nothing old", 0, 60, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := selectReportsForDeletion(reportInfos(now), tt.keepLast, tt.olderThanDays, now)
			if tt.want == nil {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, ids(got))
		})
	}
}

func TestPrintReport(t *testing.T) {
	r := store.NewReport("abc", "a.png", "b.png", 100, 100, match.DefaultOptions(),
		match.Stats{Mismatched: 1500, AntiAliased: 3, Total: 10000})

	var buf bytes.Buffer
	printReport(&buf, r)

	out := buf.String()
	assert.Contains(t, out, "Report: abc")
	assert.Contains(t, out, "Mismatched:   1,500")
	assert.Contains(t, out, "Diff color: #ff0000")
}

func TestShortID(t *testing.T) {
	assert.Equal(t, "short", shortID("short"))
	assert.Equal(t, "0123456789ab...", shortID("0123456789abcdef"))
}

func TestReportsListCommand(t *testing.T) {
	dir := t.TempDir()
	a, b := filepath.Join(dir, "a.png"), filepath.Join(dir, "b.png")
	writeTestPNG(t, a, 4, 4)
	writeTestPNG(t, b, 4, 4, image.Pt(1, 1))

	res, err := compareFiles(a, b, match.DefaultOptions(), 1)
	require.NoError(t, err)
	dataDir := filepath.Join(dir, "data")
	id, err := persistReport(dataDir, a, b, match.DefaultOptions(), res)
	require.NoError(t, err)

	out, err := executeRoot(t, "", "reports", "list", "--data-dir", dataDir)
	require.NoError(t, err)
	assert.Contains(t, out, shortID(id))
	assert.Contains(t, out, "Total reports: 1")
	assert.NotContains(t, out, "unknown", "size is read from the report directory")
}
