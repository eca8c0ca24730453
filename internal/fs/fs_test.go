package fs

import (
	"errors"
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalFS(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	require.NoError(t, Default.MkdirAll(dir, 0o755))

	name := filepath.Join(dir, "a.log")
	f, err := Create(Default, name)
	require.NoError(t, err)
	_, err = f.Write([]byte("S 1 5 hello\n"))
	require.NoError(t, err)
	require.NoError(t, f.Sync())
	require.NoError(t, f.Close())

	renamed := filepath.Join(dir, "b.log")
	require.NoError(t, Default.Rename(name, renamed))

	r, err := Open(Default, renamed)
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Equal(t, "S 1 5 hello\n", string(data))

	tmp, err := Default.CreateTemp(dir, ".tmp-*")
	require.NoError(t, err)
	assert.Equal(t, dir, filepath.Dir(tmp.Name()))
	require.NoError(t, tmp.Close())
	require.NoError(t, Default.Remove(tmp.Name()))
	require.NoError(t, Default.Remove(renamed))
}

func TestFaultyFSWriteLimit(t *testing.T) {
	dir := t.TempDir()
	ffs := NewFaultyFS(nil)
	ffs.AddRule("bad", Fault{FailAfterBytes: 4})

	f, err := Create(ffs, filepath.Join(dir, "bad.log"))
	require.NoError(t, err)
	_, err = f.Write([]byte("abcd"))
	require.NoError(t, err)
	_, err = f.Write([]byte("e"))
	assert.ErrorIs(t, err, ErrInjected)
	require.NoError(t, f.Close())

	good, err := Create(ffs, filepath.Join(dir, "good.log"))
	require.NoError(t, err)
	_, err = good.Write([]byte("abcdefgh"))
	assert.NoError(t, err)
	require.NoError(t, good.Close())
}

func TestFaultyFSSyncCloseRename(t *testing.T) {
	dir := t.TempDir()
	boom := errors.New("boom")
	ffs := NewFaultyFS(Default)
	ffs.AddRule("x.log", Fault{FailAfterBytes: -1, FailOnSync: true, FailOnClose: true, FailOnRename: true, Err: boom})

	name := filepath.Join(dir, "x.log")
	f, err := Create(ffs, name)
	require.NoError(t, err)
	assert.ErrorIs(t, f.Sync(), boom)
	assert.ErrorIs(t, f.Close(), boom)

	assert.ErrorIs(t, ffs.Rename(name, filepath.Join(dir, "x.log.1")), boom)
	assert.NoError(t, ffs.Rename(name, filepath.Join(dir, "y")))
}
