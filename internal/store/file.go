package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rcliao/shardmem/internal/model"
)

const shardExt = ".json"

// FileStore implements Store with one JSON document per shard in a directory.
type FileStore struct {
	dir    string
	log    *zap.Logger
	now    func() time.Time
	locks  *keyedMutex
	create sync.Mutex // serializes id allocation; taken after any per-shard locks
}

// Option configures a FileStore.
type Option func(*FileStore)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *FileStore) {
		if l != nil {
			s.log = l
		}
	}
}

// WithClock overrides the time source used for usage stamps.
func WithClock(now func() time.Time) Option {
	return func(s *FileStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewFileStore opens (creating if needed) a shard directory.
func NewFileStore(dir string, opts ...Option) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create shard dir: %w", err)
	}
	s := &FileStore{
		dir:   dir,
		log:   zap.NewNop(),
		now:   time.Now,
		locks: newKeyedMutex(),
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Dir returns the shard directory.
func (s *FileStore) Dir() string { return s.dir }

// Path returns the file path backing id.
func (s *FileStore) Path(id string) string {
	return filepath.Join(s.dir, id+shardExt)
}

func checkID(id string) error {
	if id == "" || id != filepath.Base(id) || strings.HasPrefix(id, ".") {
		return fmt.Errorf("%w: bad shard id %q", model.ErrValidation, id)
	}
	return nil
}

func (s *FileStore) Get(ctx context.Context, id string) (*model.Shard, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	return s.read(id)
}

func (s *FileStore) read(key string) (*model.Shard, error) {
	data, err := os.ReadFile(s.Path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", model.ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("read shard %s: %w", key, err)
	}
	sh, err := DecodeShard(data)
	if err != nil {
		return nil, fmt.Errorf("shard %s: %w", key, err)
	}
	if sh.ID == "" {
		sh.ID = key
	}
	return sh, nil
}

func (s *FileStore) Put(ctx context.Context, sh *model.Shard) error {
	return s.Write(ctx, sh.ID, sh)
}

func (s *FileStore) Write(ctx context.Context, key string, sh *model.Shard) error {
	if err := checkID(key); err != nil {
		return err
	}
	return s.write(key, sh)
}

// write replaces the record atomically: temp file in the same dir, then rename.
func (s *FileStore) write(id string, sh *model.Shard) error {
	data, err := EncodeShard(sh)
	if err != nil {
		return fmt.Errorf("encode shard %s: %w", id, err)
	}
	tmp, err := os.CreateTemp(s.dir, "."+id+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write shard %s: %w", id, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmpPath, s.Path(id)); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename shard %s: %w", id, err)
	}
	return nil
}

func (s *FileStore) Create(ctx context.Context, base string, sh *model.Shard) (*model.Shard, error) {
	s.create.Lock()
	defer s.create.Unlock()

	id, err := s.uniqueID(base)
	if err != nil {
		return nil, err
	}
	sh.ID = id
	if err := s.write(id, sh); err != nil {
		return nil, err
	}
	s.log.Debug("shard created", zap.String("shard", id))
	return sh, nil
}

// uniqueID returns base, or base_1, base_2, ... for the first free name.
func (s *FileStore) uniqueID(base string) (string, error) {
	if err := checkID(base); err != nil {
		return "", err
	}
	id := base
	for i := 1; ; i++ {
		_, err := os.Stat(s.Path(id))
		if errors.Is(err, fs.ErrNotExist) {
			return id, nil
		}
		if err != nil {
			return "", fmt.Errorf("stat %s: %w", id, err)
		}
		id = fmt.Sprintf("%s_%d", base, i)
	}
}

func (s *FileStore) Update(ctx context.Context, id string, fn func(*model.Shard) error) (*model.Shard, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	unlock := s.Lock(id)
	defer unlock()

	sh, err := s.read(id)
	if err != nil {
		return nil, err
	}
	if err := fn(sh); err != nil {
		return nil, err
	}
	if err := s.write(id, sh); err != nil {
		return nil, err
	}
	return sh, nil
}

func (s *FileStore) Append(ctx context.Context, p AppendParams) (*model.Shard, error) {
	return s.Update(ctx, p.ID, func(sh *model.Shard) error {
		now := s.now()
		sh.History = append(sh.History, model.Turn{
			Timestamp: model.FormatTime(now),
			User:      p.User,
			AI:        p.AI,
		})
		bumpUsage(sh, now)
		return nil
	})
}

func (s *FileStore) Touch(ctx context.Context, id string) (*model.Shard, error) {
	return s.Update(ctx, id, func(sh *model.Shard) error {
		bumpUsage(sh, s.now())
		return nil
	})
}

func bumpUsage(sh *model.Shard, now time.Time) {
	sh.Meta.UsageCount++
	sh.Meta.LastUsed = model.FormatTime(now)
}

func (s *FileStore) Delete(ctx context.Context, id string) error {
	if err := checkID(id); err != nil {
		return err
	}
	unlock := s.Lock(id)
	defer unlock()

	err := os.Remove(s.Path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", model.ErrNotFound, id)
	}
	return err
}

func (s *FileStore) Exists(ctx context.Context, id string) (bool, error) {
	if err := checkID(id); err != nil {
		return false, err
	}
	_, err := os.Stat(s.Path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

func (s *FileStore) Keys(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read shard dir: %w", err)
	}
	// os.ReadDir returns entries sorted by filename.
	var keys []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, shardExt) {
			continue
		}
		keys = append(keys, strings.TrimSuffix(name, shardExt))
	}
	return keys, nil
}

func (s *FileStore) Scan(ctx context.Context, fn ScanFunc) error {
	keys, err := s.Keys(ctx)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		sh, rerr := s.read(key)
		if rerr != nil {
			s.log.Warn("skipping unreadable shard", zap.String("shard", key), zap.Error(rerr))
		}
		if err := fn(key, sh, rerr); err != nil {
			return err
		}
	}
	return nil
}

func (s *FileStore) Lock(ids ...string) func() {
	return s.locks.Lock(ids...)
}

func (s *FileStore) Close() error { return nil }

var _ Store = (*FileStore)(nil)
