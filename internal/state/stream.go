// Package state implements the bundle-directory session
// persistence format (manifest.ttl/state.ttl Turtle documents) and
// the binary per-module plugin-state streams each plugin's own save/
// restore callback reads and writes.
package state

import (
	"encoding/binary"
	"errors"
	"io"
)

// Common stream errors.
var (
	ErrStreamClosed = errors.New("state: stream is closed")
	ErrReadFailed   = errors.New("state: read failed")
	ErrWriteFailed  = errors.New("state: write failed")
)

// Writer is the binary output stream a plugin's SaveState receives:
// a sticky-error wrapper over io.Writer with fixed-width and
// length-prefixed helpers.
type Writer struct {
	w   io.Writer
	err error
}

func NewWriter(w io.Writer) *Writer { return &Writer{w: w} }

func (s *Writer) Error() error { return s.err }

func (s *Writer) WriteUint32(v uint32) error {
	if s.err != nil {
		return s.err
	}
	if err := binary.Write(s.w, binary.LittleEndian, v); err != nil {
		s.err = err
		return err
	}
	return nil
}

func (s *Writer) WriteUint64(v uint64) error {
	if s.err != nil {
		return s.err
	}
	if err := binary.Write(s.w, binary.LittleEndian, v); err != nil {
		s.err = err
		return err
	}
	return nil
}

func (s *Writer) WriteFloat64(v float64) error {
	if s.err != nil {
		return s.err
	}
	if err := binary.Write(s.w, binary.LittleEndian, v); err != nil {
		s.err = err
		return err
	}
	return nil
}

func (s *Writer) WriteBytes(p []byte) error {
	if err := s.WriteUint32(uint32(len(p))); err != nil {
		return err
	}
	if s.err != nil {
		return s.err
	}
	if _, err := s.w.Write(p); err != nil {
		s.err = err
		return err
	}
	return nil
}

func (s *Writer) WriteString(v string) error {
	return s.WriteBytes([]byte(v))
}

// Reader is the binary input stream a plugin's LoadState receives.
// Mirrors Writer.
type Reader struct {
	r   io.Reader
	err error
}

func NewReader(r io.Reader) *Reader { return &Reader{r: r} }

func (s *Reader) Error() error { return s.err }

func (s *Reader) ReadUint32() (uint32, error) {
	if s.err != nil {
		return 0, s.err
	}
	var v uint32
	if err := binary.Read(s.r, binary.LittleEndian, &v); err != nil {
		s.err = err
		return 0, err
	}
	return v, nil
}

func (s *Reader) ReadUint64() (uint64, error) {
	if s.err != nil {
		return 0, s.err
	}
	var v uint64
	if err := binary.Read(s.r, binary.LittleEndian, &v); err != nil {
		s.err = err
		return 0, err
	}
	return v, nil
}

func (s *Reader) ReadFloat64() (float64, error) {
	if s.err != nil {
		return 0, s.err
	}
	var v float64
	if err := binary.Read(s.r, binary.LittleEndian, &v); err != nil {
		s.err = err
		return 0, err
	}
	return v, nil
}

func (s *Reader) ReadBytes() ([]byte, error) {
	n, err := s.ReadUint32()
	if err != nil {
		return nil, err
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(s.r, data); err != nil {
		s.err = err
		return nil, err
	}
	return data, nil
}

func (s *Reader) ReadString() (string, error) {
	b, err := s.ReadBytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}
