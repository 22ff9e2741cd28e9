package zpng

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type closer struct {
	closed int
	err    error
}

func (c *closer) Close() error {
	c.closed++
	return c.err
}

func TestSourceSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data")

	sink, err := CreateSink(path)
	require.NoError(t, err)
	assert.True(t, sink.Owned())
	_, err = sink.Write([]byte("hello, sink"))
	require.NoError(t, err)
	require.NoError(t, sink.Close())
	_, err = sink.Write([]byte("x"))
	assert.Equal(t, NoStream, KindOf(err))

	src, err := OpenSource(path)
	require.NoError(t, err)
	assert.True(t, src.Owned())
	b, err := io.ReadAll(src)
	require.NoError(t, err)
	assert.Equal(t, "hello, sink", string(b))
	require.NoError(t, src.Close())
	_, err = src.Read(make([]byte, 1))
	assert.Equal(t, NoStream, KindOf(err))
}

func TestOpenErrors(t *testing.T) {
	dir := t.TempDir()
	_, err := OpenSource(filepath.Join(dir, "missing"))
	assert.Equal(t, FileNotFound, KindOf(err))

	_, err = CreateSink(filepath.Join(dir, "no", "such", "dir"))
	assert.Equal(t, FileOpenFailed, KindOf(err))

	if os.Getuid() != 0 {
		path := filepath.Join(dir, "locked")
		require.NoError(t, os.WriteFile(path, nil, 0))
		_, err = OpenSource(path)
		assert.Equal(t, FileOpenFailed, KindOf(err))
	}
}

func TestBorrowed(t *testing.T) {
	var buf bytes.Buffer
	sink := BorrowSink(&buf)
	assert.False(t, sink.Owned())
	_, err := sink.Write([]byte("borrowed"))
	require.NoError(t, err)
	require.NoError(t, sink.Close())
	assert.Equal(t, "borrowed", buf.String())

	src := BorrowSource(&buf)
	assert.False(t, src.Owned())
	require.NoError(t, src.Close())
	// The borrowed buffer is still usable by its owner.
	assert.Equal(t, "borrowed", buf.String())
}

func TestCloseAll(t *testing.T) {
	a, b, c := &closer{}, &closer{err: io.ErrClosedPipe}, &closer{err: Errorf(NoStream, "", "gone")}
	err := CloseAll(a, nil, b, c)
	require.Error(t, err)
	assert.Equal(t, 1, a.closed)
	assert.Equal(t, 1, b.closed)
	assert.Equal(t, 1, c.closed)
	assert.ErrorIs(t, err, io.ErrClosedPipe)
	assert.Equal(t, NoStream, KindOf(err))

	assert.NoError(t, CloseAll(&closer{}, &closer{}))
	assert.NoError(t, CloseAll())
}
