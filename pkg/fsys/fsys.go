package fsys

import (
	"fmt"
	"io"
	"os"
)

// Filesystem abstracts file access so tests can substitute in-memory fakes.
type Filesystem interface {
	// ListDirectory returns the names of all entries in path, including
	// dotfiles. The OS-backed implementation returns them sorted by name.
	ListDirectory(path string) ([]string, error)
	// ReadFile reads the whole file at path.
	ReadFile(path string) ([]byte, error)
	// OpenFileStream opens path for repeated reads. The returned stream is
	// rewound with Rewind rather than reopened, so a retained handle can be
	// polled cheaply.
	OpenFileStream(path string) (FileStream, error)
}

// FileStream is a readable handle that can be rewound to the start.
type FileStream interface {
	io.ReadCloser
	Rewind() error
}

type realFilesystem struct{}

// New returns a Filesystem backed by the OS.
func New() Filesystem {
	return realFilesystem{}
}

func (realFilesystem) ListDirectory(path string) ([]string, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open directory %s: %w", path, err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	return names, nil
}

func (realFilesystem) ReadFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", path, err)
	}
	return data, nil
}

func (realFilesystem) OpenFileStream(path string) (FileStream, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file stream %s: %w", path, err)
	}
	return &realFileStream{file: file}, nil
}

type realFileStream struct {
	file *os.File
}

func (s *realFileStream) Read(p []byte) (int, error) { return s.file.Read(p) }

func (s *realFileStream) Rewind() error {
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to rewind file stream: %w", err)
	}
	return nil
}

func (s *realFileStream) Close() error { return s.file.Close() }
