// Package recorder appends forwarded node messages to a bounded file
// for later inspection, the way the teacher's storage layer persisted
// single messages to an arbitrary Store.
package recorder

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Store is the minimal persistence contract a recorder writes through.
// Callers needing no durability at all can use Discard.
type Store interface {
	Store(frame []byte) error
}

// Discard is a Store that drops every record, used when no recording
// directory is configured.
var Discard Store = discardStore{}

type discardStore struct{}

func (discardStore) Store(frame []byte) error { return nil }

// FileStore appends length-prefixed frames to messages.dat inside a
// directory, wrapping back to the start of the file once cap entries
// have been written so the file never grows past the first cap writes.
type FileStore struct {
	mu      sync.Mutex
	f       *os.File
	cap     int
	written int
}

// Open creates (or truncates) messages.dat inside dir. cap must be
// positive.
func Open(dir string, cap int) (*FileStore, error) {
	if cap <= 0 {
		return nil, fmt.Errorf("recorder: cap must be positive, got %d", cap)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("recorder: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, "messages.dat"), os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("recorder: %w", err)
	}
	return &FileStore{f: f, cap: cap}, nil
}

// Store appends frame as a single length-prefixed record. Once cap
// records have been written, the file is truncated and writing resumes
// from the start, so the recording directory stays bounded.
func (s *FileStore) Store(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.written >= s.cap {
		if err := s.f.Truncate(0); err != nil {
			return fmt.Errorf("recorder: %w", err)
		}
		if _, err := s.f.Seek(0, 0); err != nil {
			return fmt.Errorf("recorder: %w", err)
		}
		s.written = 0
	}

	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(frame)))
	if _, err := s.f.Write(header[:]); err != nil {
		return fmt.Errorf("recorder: %w", err)
	}
	if _, err := s.f.Write(frame); err != nil {
		return fmt.Errorf("recorder: %w", err)
	}
	s.written++
	return nil
}

// Close releases the underlying file handle.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}

// Written reports how many records have been appended since the last
// wraparound.
func (s *FileStore) Written() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}
