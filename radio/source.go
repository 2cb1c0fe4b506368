package radio

import (
	"io"
	"os"
)

// Source supplies raw IF data one block at a time. ReadBlock fills buf
// with exactly one base cycle's worth of bytes and returns io.EOF when
// the stream is exhausted.
type Source interface {
	// ReadBlock fills buf completely or fails.
	ReadBlock(buf []byte) error
	// Live reports whether the source runs in real time. Ingestion from
	// a live source is never blocked by backpressure.
	Live() bool
	Close() error
}

// FileSource replays a captured IF file. Reading from stdin is treated
// as live since the pipe producer cannot be paused by seeking.
type FileSource struct {
	f *os.File
}

func NewFileSource(path string) (*FileSource, error) {
	if path == "-" {
		return &FileSource{f: os.Stdin}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &FileSource{f: f}, nil
}

func (s *FileSource) ReadBlock(buf []byte) error {
	_, err := io.ReadFull(s.f, buf)
	if err == io.ErrUnexpectedEOF {
		err = io.EOF
	}
	return err
}

func (s *FileSource) Live() bool { return s.f == os.Stdin }

func (s *FileSource) Close() error {
	if s.f == os.Stdin {
		return nil
	}
	return s.f.Close()
}

// ReaderSource adapts any io.Reader into a non-live Source; tests use it
// to drive the receiver from generated sample streams.
type ReaderSource struct {
	R io.Reader
}

func (s *ReaderSource) ReadBlock(buf []byte) error {
	_, err := io.ReadFull(s.R, buf)
	if err == io.ErrUnexpectedEOF {
		err = io.EOF
	}
	return err
}

func (s *ReaderSource) Live() bool { return false }

func (s *ReaderSource) Close() error { return nil }
