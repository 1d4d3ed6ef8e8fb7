package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// JournalEntry records the outcome of one file pair in a batch run.
// Each entry is one JSON line in <baseDir>/batches/<batchID>.jsonl.
type JournalEntry struct {
	Name        string    `json:"name"`
	Baseline    string    `json:"baseline"`
	Candidate   string    `json:"candidate"`
	Mismatched  int       `json:"mismatched"`
	AntiAliased int       `json:"antiAliased"`
	Total       int       `json:"total"`
	Error       string    `json:"error,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Failed reports whether the pair could not be compared.
func (e JournalEntry) Failed() bool {
	return e.Error != ""
}

func journalPath(baseDir, batchID string) string {
	return filepath.Join(baseDir, "batches", batchID+".jsonl")
}

// JournalWriter appends journal entries to a JSONL file.
// It buffers writes and is safe for concurrent use.
type JournalWriter struct {
	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer
	path   string
}

// NewJournalWriter creates the journal file for batchID, truncating any
// previous journal with the same ID.
func NewJournalWriter(baseDir, batchID string) (*JournalWriter, error) {
	if err := checkID(batchID); err != nil {
		return nil, err
	}
	path := journalPath(baseDir, batchID)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create batches directory: %w", err)
	}

	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal file: %w", err)
	}

	return &JournalWriter{
		file:   file,
		writer: bufio.NewWriterSize(file, 64*1024),
		path:   path,
	}, nil
}

// Write appends entry. The line reaches the file on Close.
func (jw *JournalWriter) Write(entry JournalEntry) error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal journal entry: %w", err)
	}
	data = append(data, '\n')
	if _, err := jw.writer.Write(data); err != nil {
		return fmt.Errorf("failed to write journal entry: %w", err)
	}
	return nil
}

// Close flushes, syncs and closes the journal file.
func (jw *JournalWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	if err := jw.writer.Flush(); err != nil {
		jw.file.Close()
		return fmt.Errorf("failed to flush on close: %w", err)
	}
	if err := jw.file.Sync(); err != nil {
		jw.file.Close()
		return fmt.Errorf("failed to sync journal: %w", err)
	}
	if err := jw.file.Close(); err != nil {
		return fmt.Errorf("failed to close journal: %w", err)
	}
	return nil
}

// Path returns the journal file path.
func (jw *JournalWriter) Path() string {
	return jw.path
}

// JournalReader reads entries back from a journal file.
type JournalReader struct {
	file    *os.File
	scanner *bufio.Scanner
}

// NewJournalReader opens the journal of batchID.
func NewJournalReader(baseDir, batchID string) (*JournalReader, error) {
	if err := checkID(batchID); err != nil {
		return nil, err
	}
	file, err := os.Open(journalPath(baseDir, batchID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &NotFoundError{ID: batchID}
		}
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	return &JournalReader{file: file, scanner: scanner}, nil
}

// Read returns the next entry, or io.EOF at the end of the journal.
func (jr *JournalReader) Read() (*JournalEntry, error) {
	if !jr.scanner.Scan() {
		if err := jr.scanner.Err(); err != nil {
			return nil, fmt.Errorf("failed to scan journal line: %w", err)
		}
		return nil, io.EOF
	}

	var entry JournalEntry
	if err := json.Unmarshal(jr.scanner.Bytes(), &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal journal entry: %w", err)
	}
	return &entry, nil
}

// ReadAll reads all remaining entries.
func (jr *JournalReader) ReadAll() ([]JournalEntry, error) {
	var entries []JournalEntry
	for {
		entry, err := jr.Read()
		if err == io.EOF {
			return entries, nil
		}
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
}

// Close closes the journal file.
func (jr *JournalReader) Close() error {
	return jr.file.Close()
}

// JournalInfo describes a stored batch journal.
type JournalInfo struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Size      int64     `json:"size"`
}

// ListJournals returns all batch journals under baseDir, newest first.
// The timestamp is the journal's last modification.
func ListJournals(baseDir string) ([]JournalInfo, error) {
	matches, err := filepath.Glob(filepath.Join(baseDir, "batches", "*.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("failed to list journals: %w", err)
	}

	infos := make([]JournalInfo, 0, len(matches))
	for _, m := range matches {
		fi, err := os.Stat(m)
		if err != nil {
			slog.Warn("Skipping unreadable journal", "path", m, "error", err)
			continue
		}
		infos = append(infos, JournalInfo{
			ID:        strings.TrimSuffix(filepath.Base(m), ".jsonl"),
			Timestamp: fi.ModTime(),
			Size:      fi.Size(),
		})
	}

	sort.Slice(infos, func(i, j int) bool {
		if !infos[i].Timestamp.Equal(infos[j].Timestamp) {
			return infos[i].Timestamp.After(infos[j].Timestamp)
		}
		return infos[i].ID < infos[j].ID
	})
	return infos, nil
}

// DeleteJournal removes the journal of batchID. A missing journal is not an error.
func DeleteJournal(baseDir, batchID string) error {
	if err := checkID(batchID); err != nil {
		return err
	}
	err := os.Remove(journalPath(baseDir, batchID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete journal: %w", err)
	}
	return nil
}
