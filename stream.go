package zpng

import (
	"bufio"
	"io"
	"os"

	"github.com/hashicorp/go-multierror"
)

// Source is a byte source that a stream either owns or borrows. An owned
// source was opened by this package and is closed by Close; a borrowed one
// is never closed.
type Source struct {
	r     io.Reader
	f     *os.File
	owned bool
}

// OpenSource opens the file at path. The returned Source owns the file.
func OpenSource(path string) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, Errorf(FileNotFound, "zpng: OpenSource", "%s: file not found", path)
		}
		return nil, Errorf(FileOpenFailed, "zpng: OpenSource", "%v", err)
	}
	return &Source{r: bufio.NewReader(f), f: f, owned: true}, nil
}

// BorrowSource wraps r without taking ownership of it.
func BorrowSource(r io.Reader) *Source {
	return &Source{r: r}
}

func (s *Source) Read(p []byte) (int, error) {
	if s.r == nil {
		return 0, Errorf(NoStream, "zpng: Source.Read", "source is closed")
	}
	return s.r.Read(p)
}

// Owned reports whether Close will close the underlying file.
func (s *Source) Owned() bool {
	return s.owned
}

// Close releases the source. Borrowed readers are left untouched.
func (s *Source) Close() error {
	var err error
	if s.owned && s.f != nil {
		err = s.f.Close()
	}
	s.r, s.f = nil, nil
	return err
}

// Sink is the write-side counterpart of Source.
type Sink struct {
	w     io.Writer
	bw    *bufio.Writer
	f     *os.File
	owned bool
}

// CreateSink creates (or truncates) the file at path. The returned Sink owns
// the file.
func CreateSink(path string) (*Sink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, Errorf(FileOpenFailed, "zpng: CreateSink", "%v", err)
	}
	bw := bufio.NewWriter(f)
	return &Sink{w: bw, bw: bw, f: f, owned: true}, nil
}

// BorrowSink wraps w without taking ownership of it.
func BorrowSink(w io.Writer) *Sink {
	return &Sink{w: w}
}

func (s *Sink) Write(p []byte) (int, error) {
	if s.w == nil {
		return 0, Errorf(NoStream, "zpng: Sink.Write", "sink is closed")
	}
	return s.w.Write(p)
}

// Owned reports whether Close will close the underlying file.
func (s *Sink) Owned() bool {
	return s.owned
}

// Close flushes and closes an owned file. Borrowed writers are left untouched.
func (s *Sink) Close() error {
	var result *multierror.Error
	if s.bw != nil {
		if err := s.bw.Flush(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if s.owned && s.f != nil {
		if err := s.f.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	s.w, s.bw, s.f = nil, nil, nil
	return result.ErrorOrNil()
}

// CloseAll closes every closer in order and combines their errors. Streams
// use it to tear down the sub-streams they own.
func CloseAll(closers ...io.Closer) error {
	var result *multierror.Error
	for _, c := range closers {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
