package flatfile

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/compozy/recordstore/engine/store"
	"github.com/compozy/recordstore/pkg/logger"
	"github.com/google/uuid"
	"github.com/spf13/afero"
)

const backend = store.BackendFlatFile

// errCorrupt marks content that does not follow the line format.
var errCorrupt = errors.New("corrupt record file")

// Store is the flat file backend. It holds one open handle on the backing
// file while connected.
type Store struct {
	cfg   Config
	fs    afero.Fs
	mu    sync.Mutex
	file  afero.File
	state store.State
}

type Option func(*Store)

// WithFs replaces the filesystem, which defaults to the OS filesystem.
func WithFs(fs afero.Fs) Option {
	return func(s *Store) {
		s.fs = fs
	}
}

var _ store.Store = (*Store)(nil)

// New returns a disconnected store for cfg.
func New(cfg *Config, opts ...Option) *Store {
	s := &Store{fs: afero.NewOsFs()}
	if cfg != nil {
		s.cfg = *cfg
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Backend() store.Backend { return backend }

// State reports whether the store currently holds its file.
func (s *Store) State() store.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connect opens the backing file for read and append, creating it when
// absent, and verifies every existing line decodes. A trailing line without
// a newline is treated as corruption.
func (s *Store) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := store.RequireDisconnected(s.state, backend); err != nil {
		return err
	}
	if s.cfg.Path == "" {
		return store.Errorf(store.KindConnection, backend, "connect", "path is required")
	}
	f, err := s.open(os.O_CREATE)
	if err != nil {
		return store.NewError(store.KindConnection, backend, "connect", err)
	}
	recs, err := readRecords(f)
	if err != nil {
		if cerr := f.Close(); cerr != nil {
			logger.FromContext(ctx).Warn("flatfile: close after failed connect", "path", s.cfg.Path, "error", cerr)
		}
		return store.NewError(store.KindConnection, backend, "connect", err)
	}
	s.file = f
	s.state = store.StateConnected
	logger.FromContext(ctx).With(
		"store_driver", backend,
		"path", s.cfg.Path,
		"records", len(recs),
	).Info("Store connected")
	return nil
}

// Insert appends rec after checking no line carries the same email. The
// check and the append are not atomic with respect to other processes.
func (s *Store) Insert(ctx context.Context, rec *store.Record) error {
	if err := rec.Validate(); err != nil {
		return store.NewError(store.KindValidation, backend, "insert", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := store.RequireConnected(s.state, backend, "insert"); err != nil {
		return err
	}
	recs, err := readRecords(s.file)
	if err != nil {
		return store.NewError(store.KindIO, backend, "insert", err)
	}
	if indexOf(recs, rec.Email) >= 0 {
		return store.Errorf(store.KindDuplicate, backend, "insert", "email %q already stored", rec.Email)
	}
	if _, err := s.file.Seek(0, io.SeekEnd); err != nil {
		return store.NewError(store.KindIO, backend, "insert", err)
	}
	if _, err := s.file.WriteString(encodeRecord(rec)); err != nil {
		return store.NewError(store.KindIO, backend, "insert", err)
	}
	logger.FromContext(ctx).Debug("flatfile: record inserted", "path", s.cfg.Path, "email", rec.Email)
	return nil
}

// Remove drops the first line matching email and rewrites the file.
func (s *Store) Remove(ctx context.Context, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := store.RequireConnected(s.state, backend, "remove"); err != nil {
		return err
	}
	recs, err := readRecords(s.file)
	if err != nil {
		return store.NewError(store.KindIO, backend, "remove", err)
	}
	idx := indexOf(recs, email)
	if idx < 0 {
		return store.Errorf(store.KindNotFound, backend, "remove", "email %q", email)
	}
	keep := append(recs[:idx:idx], recs[idx+1:]...)
	if err := s.rewrite(ctx, keep); err != nil {
		return store.NewError(store.KindIO, backend, "remove", err)
	}
	logger.FromContext(ctx).Debug("flatfile: record removed", "path", s.cfg.Path, "email", email)
	return nil
}

func (s *Store) Get(_ context.Context, email string) (*store.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := store.RequireConnected(s.state, backend, "get"); err != nil {
		return nil, err
	}
	recs, err := readRecords(s.file)
	if err != nil {
		return nil, store.NewError(store.KindIO, backend, "get", err)
	}
	idx := indexOf(recs, email)
	if idx < 0 {
		return nil, store.Errorf(store.KindNotFound, backend, "get", "email %q", email)
	}
	return recs[idx], nil
}

// List returns records in file order.
func (s *Store) List(_ context.Context) ([]*store.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := store.RequireConnected(s.state, backend, "list"); err != nil {
		return nil, err
	}
	recs, err := readRecords(s.file)
	if err != nil {
		return nil, store.NewError(store.KindIO, backend, "list", err)
	}
	return recs, nil
}

// Disconnect flushes and closes the file handle.
func (s *Store) Disconnect(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == store.StateDisconnected {
		return
	}
	log := logger.FromContext(ctx)
	if err := s.file.Sync(); err != nil {
		log.Warn("flatfile: sync on disconnect failed", "path", s.cfg.Path, "error", err)
	}
	if err := s.file.Close(); err != nil {
		log.Warn("flatfile: close on disconnect failed", "path", s.cfg.Path, "error", err)
	}
	s.file = nil
	s.state = store.StateDisconnected
	log.Info("Flatfile store closed", "path", s.cfg.Path)
}

func (s *Store) open(extra int) (afero.File, error) {
	return s.fs.OpenFile(s.cfg.Path, os.O_RDWR|os.O_APPEND|extra, s.cfg.fileMode())
}

// rewrite replaces the backing file with recs via a sibling temporary file
// and a rename, then reopens the handle on the new file.
func (s *Store) rewrite(ctx context.Context, recs []*store.Record) error {
	dir, base := filepath.Split(s.cfg.Path)
	tmp := filepath.Join(dir, fmt.Sprintf(".%s.%s.tmp", base, uuid.NewString()))
	if err := s.writeTemp(tmp, recs); err != nil {
		s.discardTemp(ctx, tmp)
		return err
	}
	if err := s.fs.Rename(tmp, s.cfg.Path); err != nil {
		s.discardTemp(ctx, tmp)
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	nf, err := s.open(0)
	if err != nil {
		// The old handle now refers to a replaced file; drop it.
		if cerr := s.file.Close(); cerr != nil {
			logger.FromContext(ctx).Warn("flatfile: close stale handle failed", "error", cerr)
		}
		s.file = nil
		s.state = store.StateDisconnected
		return fmt.Errorf("reopen after rewrite: %w", err)
	}
	if err := s.file.Close(); err != nil {
		logger.FromContext(ctx).Warn("flatfile: close stale handle failed", "error", err)
	}
	s.file = nf
	return nil
}

func (s *Store) writeTemp(path string, recs []*store.Record) (err error) {
	f, err := s.fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, s.cfg.fileMode())
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close temp file: %w", cerr)
		}
	}()
	w := bufio.NewWriter(f)
	for _, rec := range recs {
		if _, err := w.WriteString(encodeRecord(rec)); err != nil {
			return fmt.Errorf("write temp file: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	return nil
}

func (s *Store) discardTemp(ctx context.Context, path string) {
	if err := s.fs.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.FromContext(ctx).Warn("flatfile: remove temp file failed", "path", path, "error", err)
	}
}

// readRecords decodes the whole file from its start.
func readRecords(f afero.File) ([]*store.Record, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek: %w", err)
	}
	r := bufio.NewReader(f)
	var recs []*store.Record
	for lineNo := 1; ; lineNo++ {
		line, err := r.ReadString(recordSep)
		if errors.Is(err, io.EOF) {
			if line != "" {
				return nil, fmt.Errorf("%w: line %d: incomplete trailing line", errCorrupt, lineNo)
			}
			return recs, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read: %w", err)
		}
		rec, derr := decodeLine(strings.TrimSuffix(line, string(recordSep)))
		if derr != nil {
			return nil, fmt.Errorf("%w: line %d: %w", errCorrupt, lineNo, derr)
		}
		recs = append(recs, rec)
	}
}

func indexOf(recs []*store.Record, email string) int {
	for i, rec := range recs {
		if rec.Email == email {
			return i
		}
	}
	return -1
}
