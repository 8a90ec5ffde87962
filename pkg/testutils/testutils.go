package testutils

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/AMDEPYC/adaptive-cpu-agent/pkg/fsys"
)

// FakeTimeSource is a TimeSource whose clocks tests advance by hand.
type FakeTimeSource struct {
	mu         sync.Mutex
	wallTime   time.Duration
	kernelTime time.Duration
}

func NewFakeTimeSource(wall, kernel time.Duration) *FakeTimeSource {
	return &FakeTimeSource{wallTime: wall, kernelTime: kernel}
}

func (f *FakeTimeSource) Time() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.wallTime
}

func (f *FakeTimeSource) KernelTime() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.kernelTime
}

func (f *FakeTimeSource) SetTime(wall time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.wallTime = wall
}

func (f *FakeTimeSource) SetKernelTime(kernel time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kernelTime = kernel
}

func (f *FakeTimeSource) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.wallTime += d
	f.kernelTime += d
}

// FakePropertyStore is an in-memory property store.
type FakePropertyStore struct {
	Properties map[string]string
}

func NewFakePropertyStore() *FakePropertyStore {
	return &FakePropertyStore{Properties: make(map[string]string)}
}

func (f *FakePropertyStore) GetProperty(key, defaultValue string) string {
	if value, ok := f.Properties[key]; ok {
		return value
	}
	return defaultValue
}

// FakeFilesystem is an in-memory filesystem. Files holds contents returned
// by ReadFile; Dirs holds directory listings; StreamContents holds the
// successive contents a retained file stream yields after each rewind.
type FakeFilesystem struct {
	Files          map[string][]byte
	Dirs           map[string][]string
	StreamContents map[string][][]byte
}

func NewFakeFilesystem() *FakeFilesystem {
	return &FakeFilesystem{
		Files:          make(map[string][]byte),
		Dirs:           make(map[string][]string),
		StreamContents: make(map[string][][]byte),
	}
}

func (f *FakeFilesystem) ListDirectory(path string) ([]string, error) {
	entries, ok := f.Dirs[path]
	if !ok {
		return nil, fmt.Errorf("no such directory: %s", path)
	}
	return entries, nil
}

func (f *FakeFilesystem) ReadFile(path string) ([]byte, error) {
	data, ok := f.Files[path]
	if !ok {
		return nil, fmt.Errorf("no such file: %s", path)
	}
	return data, nil
}

func (f *FakeFilesystem) OpenFileStream(path string) (fsys.FileStream, error) {
	contents, ok := f.StreamContents[path]
	if !ok || len(contents) == 0 {
		return nil, fmt.Errorf("no such file: %s", path)
	}
	return &fakeFileStream{contents: contents}, nil
}

type fakeFileStream struct {
	contents [][]byte
	next     int
	reader   *bytes.Reader
}

func (s *fakeFileStream) Read(p []byte) (int, error) {
	if s.reader == nil {
		if err := s.Rewind(); err != nil {
			return 0, err
		}
	}
	return s.reader.Read(p)
}

// Rewind serves the next queued content, sticking to the last one once the
// queue is exhausted.
func (s *fakeFileStream) Rewind() error {
	idx := s.next
	if idx >= len(s.contents) {
		idx = len(s.contents) - 1
	} else {
		s.next++
	}
	s.reader = bytes.NewReader(s.contents[idx])
	return nil
}

func (s *fakeFileStream) Close() error { return nil }
