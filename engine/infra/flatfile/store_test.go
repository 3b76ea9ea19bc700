package flatfile

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/compozy/recordstore/engine/store"
	"github.com/compozy/recordstore/pkg/logger"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPath = "/data/records.tsv"

func testCtx(t *testing.T) context.Context {
	t.Helper()
	return logger.ContextWithLogger(t.Context(), logger.NewForTests())
}

func connectedStore(t *testing.T, fs afero.Fs) *Store {
	t.Helper()
	s := New(&Config{Path: testPath}, WithFs(fs))
	require.NoError(t, s.Connect(testCtx(t)))
	t.Cleanup(func() { s.Disconnect(context.Background()) })
	return s
}

func fileContent(t *testing.T, fs afero.Fs) string {
	t.Helper()
	b, err := afero.ReadFile(fs, testPath)
	require.NoError(t, err)
	return string(b)
}

// renameFailFs fails every rename, standing in for a crash between the
// temporary write and the rename.
type renameFailFs struct {
	afero.Fs
	keepTemp bool
}

func (f *renameFailFs) Rename(_, _ string) error {
	return errors.New("simulated crash before rename")
}

func (f *renameFailFs) Remove(name string) error {
	if f.keepTemp {
		return nil
	}
	return f.Fs.Remove(name)
}

func TestStore_Connect(t *testing.T) {
	t.Run("Should create the file when absent", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		s := connectedStore(t, fs)
		assert.Equal(t, store.StateConnected, s.State())
		exists, err := afero.Exists(fs, testPath)
		require.NoError(t, err)
		assert.True(t, exists)
	})

	t.Run("Should fail with AlreadyConnected on a second connect", func(t *testing.T) {
		s := connectedStore(t, afero.NewMemMapFs())
		err := s.Connect(testCtx(t))
		assert.ErrorIs(t, err, store.ErrAlreadyConnected)
	})

	t.Run("Should fail with ConnectionError when the path is unwritable", func(t *testing.T) {
		s := New(&Config{Path: testPath}, WithFs(afero.NewReadOnlyFs(afero.NewMemMapFs())))
		err := s.Connect(testCtx(t))
		assert.ErrorIs(t, err, store.ErrConnection)
		assert.Equal(t, store.StateDisconnected, s.State())
	})

	t.Run("Should fail with ConnectionError without a path", func(t *testing.T) {
		err := New(&Config{}).Connect(testCtx(t))
		assert.ErrorIs(t, err, store.ErrConnection)
	})

	t.Run("Should fail fast on an incomplete trailing line", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		require.NoError(t, afero.WriteFile(fs, testPath, []byte("a@b\tA\tx\nc@d\tC"), 0o600))
		err := New(&Config{Path: testPath}, WithFs(fs)).Connect(testCtx(t))
		require.ErrorIs(t, err, store.ErrConnection)
		assert.ErrorIs(t, err, errCorrupt)
		assert.Contains(t, err.Error(), "line 2")
	})

	t.Run("Should load an existing well formed file", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		require.NoError(t, afero.WriteFile(fs, testPath, []byte("a@b\tA\tx\n"), 0o600))
		s := connectedStore(t, fs)
		rec, err := s.Get(testCtx(t), "a@b")
		require.NoError(t, err)
		assert.Equal(t, "A", rec.Name)
	})

	t.Run("Should allow reconnecting after disconnect", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		s := New(&Config{Path: testPath}, WithFs(fs))
		ctx := testCtx(t)
		require.NoError(t, s.Connect(ctx))
		s.Disconnect(ctx)
		s.Disconnect(ctx)
		require.NoError(t, s.Connect(ctx))
		s.Disconnect(ctx)
	})
}

func TestStore_Insert(t *testing.T) {
	rec := &store.Record{Name: "John Doe", Email: "john@x.com", Credential: "s3cret"}

	t.Run("Should append the encoded record", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		s := connectedStore(t, fs)
		require.NoError(t, s.Insert(testCtx(t), rec))
		assert.Equal(t, "john@x.com\tJohn Doe\ts3cret\n", fileContent(t, fs))

		got, err := s.Get(testCtx(t), rec.Email)
		require.NoError(t, err)
		assert.Equal(t, rec, got)
	})

	t.Run("Should reject a duplicate email and keep the first record", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		s := connectedStore(t, fs)
		ctx := testCtx(t)
		require.NoError(t, s.Insert(ctx, rec))
		err := s.Insert(ctx, &store.Record{Name: "Other", Email: rec.Email, Credential: "other"})
		assert.ErrorIs(t, err, store.ErrDuplicate)

		got, err := s.Get(ctx, rec.Email)
		require.NoError(t, err)
		assert.Equal(t, rec, got)
		assert.Equal(t, 1, strings.Count(fileContent(t, fs), "\n"))
	})

	t.Run("Should reject an empty email", func(t *testing.T) {
		s := connectedStore(t, afero.NewMemMapFs())
		err := s.Insert(testCtx(t), &store.Record{Name: "Nobody"})
		assert.ErrorIs(t, err, store.ErrValidation)
	})

	t.Run("Should refuse to operate while disconnected", func(t *testing.T) {
		s := New(&Config{Path: testPath}, WithFs(afero.NewMemMapFs()))
		assert.ErrorIs(t, s.Insert(testCtx(t), rec), store.ErrConnection)
		assert.ErrorIs(t, s.Remove(testCtx(t), rec.Email), store.ErrConnection)
	})

	t.Run("Should round trip fields containing separators", func(t *testing.T) {
		s := connectedStore(t, afero.NewMemMapFs())
		odd := &store.Record{Name: "tab\there", Email: "back\\slash@x", Credential: "multi\nline"}
		require.NoError(t, s.Insert(testCtx(t), odd))
		got, err := s.Get(testCtx(t), odd.Email)
		require.NoError(t, err)
		assert.Equal(t, odd, got)
	})
}

func TestStore_Remove(t *testing.T) {
	t.Run("Should remove only the matching line", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		s := connectedStore(t, fs)
		ctx := testCtx(t)
		for _, e := range []string{"a@x", "b@x", "c@x"} {
			require.NoError(t, s.Insert(ctx, &store.Record{Name: e, Email: e, Credential: "p"}))
		}
		require.NoError(t, s.Remove(ctx, "b@x"))
		assert.Equal(t, "a@x\ta@x\tp\nc@x\tc@x\tp\n", fileContent(t, fs))

		_, err := s.Get(ctx, "b@x")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("Should fail with NotFound for an unknown email", func(t *testing.T) {
		s := connectedStore(t, afero.NewMemMapFs())
		assert.ErrorIs(t, s.Remove(testCtx(t), "nobody@x"), store.ErrNotFound)
	})

	t.Run("Should act on the first of repeated emails in a foreign file", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		content := "dup@x\tFirst\t1\nother@x\tO\t2\ndup@x\tSecond\t3\n"
		require.NoError(t, afero.WriteFile(fs, testPath, []byte(content), 0o600))
		s := connectedStore(t, fs)
		ctx := testCtx(t)

		got, err := s.Get(ctx, "dup@x")
		require.NoError(t, err)
		assert.Equal(t, "First", got.Name)
		assert.ErrorIs(t, s.Insert(ctx, &store.Record{Email: "dup@x"}), store.ErrDuplicate)

		require.NoError(t, s.Remove(ctx, "dup@x"))
		assert.Equal(t, "other@x\tO\t2\ndup@x\tSecond\t3\n", fileContent(t, fs))

		require.NoError(t, s.Remove(ctx, "dup@x"))
		assert.Equal(t, "other@x\tO\t2\n", fileContent(t, fs))
		assert.ErrorIs(t, s.Remove(ctx, "dup@x"), store.ErrNotFound)
	})

	t.Run("Should keep appending to the rewritten file", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		s := connectedStore(t, fs)
		ctx := testCtx(t)
		require.NoError(t, s.Insert(ctx, &store.Record{Email: "a@x"}))
		require.NoError(t, s.Insert(ctx, &store.Record{Email: "b@x"}))
		require.NoError(t, s.Remove(ctx, "a@x"))
		require.NoError(t, s.Insert(ctx, &store.Record{Email: "c@x"}))
		assert.Equal(t, "b@x\t\t\nc@x\t\t\n", fileContent(t, fs))
	})

	t.Run("Should leave the old file intact when the rename never happens", func(t *testing.T) {
		mem := afero.NewMemMapFs()
		crashing := &renameFailFs{Fs: mem, keepTemp: true}
		s := New(&Config{Path: testPath}, WithFs(crashing))
		ctx := testCtx(t)
		require.NoError(t, s.Connect(ctx))
		require.NoError(t, s.Insert(ctx, &store.Record{Name: "A", Email: "a@x", Credential: "1"}))
		require.NoError(t, s.Insert(ctx, &store.Record{Name: "B", Email: "b@x", Credential: "2"}))
		before := fileContent(t, mem)

		err := s.Remove(ctx, "a@x")
		require.ErrorIs(t, err, store.ErrIO)
		s.Disconnect(ctx)

		assert.Equal(t, before, fileContent(t, mem))
		recovered := New(&Config{Path: testPath}, WithFs(mem))
		require.NoError(t, recovered.Connect(ctx))
		defer recovered.Disconnect(ctx)
		recs, err := recovered.List(ctx)
		require.NoError(t, err)
		assert.Len(t, recs, 2)
	})

	t.Run("Should clean up the temporary file after a failed rename", func(t *testing.T) {
		mem := afero.NewMemMapFs()
		s := New(&Config{Path: testPath}, WithFs(&renameFailFs{Fs: mem}))
		ctx := testCtx(t)
		require.NoError(t, s.Connect(ctx))
		defer s.Disconnect(ctx)
		require.NoError(t, s.Insert(ctx, &store.Record{Email: "a@x"}))
		require.Error(t, s.Remove(ctx, "a@x"))

		entries, err := afero.ReadDir(mem, filepath.Dir(testPath))
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, filepath.Base(testPath), entries[0].Name())
	})
}

func TestStore_OnDisk(t *testing.T) {
	t.Run("Should fail the second remove of the demo scenario with NotFound", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "t.csv")
		s := New(&Config{Path: path})
		ctx := testCtx(t)
		require.NoError(t, s.Connect(ctx))
		defer s.Disconnect(ctx)

		require.NoError(t, s.Insert(ctx, &store.Record{Name: "John Doe", Email: "john@x.com", Credential: "s3cret"}))
		require.NoError(t, s.Remove(ctx, "john@x.com"))
		err := s.Remove(ctx, "john@x.com")
		assert.ErrorIs(t, err, store.ErrNotFound)

		info, statErr := os.Stat(path)
		require.NoError(t, statErr)
		assert.Equal(t, int64(0), info.Size())
	})

	t.Run("Should create the file with owner only permissions", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "perm.tsv")
		s := New(&Config{Path: path})
		ctx := testCtx(t)
		require.NoError(t, s.Connect(ctx))
		s.Disconnect(ctx)
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, DefaultFileMode, info.Mode().Perm())
	})
}
