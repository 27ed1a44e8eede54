package artifact

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/tensorplex-labs/conformal/internal/utils/compression"
)

// ErrNotFound is returned when no record is stored under a name.
var ErrNotFound = errors.New("artifact not found")

// Store persists threshold records keyed by model name, e.g. "mdc-high-level".
type Store interface {
	Save(ctx context.Context, name string, r *Record) error
	Load(ctx context.Context, name string) (*Record, error)
}

// FileStore writes <dir>/<name>-calibration.json, or .json.zst when compressed.
type FileStore struct {
	Dir      string
	Compress bool
}

func NewFileStore(dir string, compress bool) *FileStore {
	return &FileStore{Dir: dir, Compress: compress}
}

func (s *FileStore) Path(name string) string {
	path := filepath.Join(s.Dir, name+"-calibration.json")
	if s.Compress {
		path += compression.Extension
	}
	return path
}

func (s *FileStore) Save(_ context.Context, name string, r *Record) error {
	data, err := Encode(r)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}

	path := s.Path(name)
	tmp := path + ".tmp"
	if s.Compress {
		if data, err = compression.Compress(data); err != nil {
			return err
		}
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write artifact: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename artifact: %w", err)
	}

	log.Debug().Str("path", path).Str("id", r.ID).Msg("saved calibration artifact")
	return nil
}

func (s *FileStore) Load(_ context.Context, name string) (*Record, error) {
	path := s.Path(name)
	data, err := compression.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	return Decode(data)
}

// KV is the subset of the Redis client the store needs.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
}

// RedisStore keeps records under <prefix><name>.
type RedisStore struct {
	kv     KV
	prefix string
}

const DefaultKeyPrefix = "conformal:thresholds:"

func NewRedisStore(kv KV, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisStore{kv: kv, prefix: prefix}
}

func (s *RedisStore) key(name string) string {
	return s.prefix + strings.TrimPrefix(name, s.prefix)
}

func (s *RedisStore) Save(ctx context.Context, name string, r *Record) error {
	data, err := Encode(r)
	if err != nil {
		return err
	}
	if err := s.kv.Set(ctx, s.key(name), string(data)); err != nil {
		return fmt.Errorf("redis set %s: %w", s.key(name), err)
	}
	log.Debug().Str("key", s.key(name)).Str("id", r.ID).Msg("saved calibration artifact")
	return nil
}

func (s *RedisStore) Load(ctx context.Context, name string) (*Record, error) {
	value, err := s.kv.Get(ctx, s.key(name))
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", s.key(name), err)
	}
	if value == "" {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, s.key(name))
	}
	return Decode([]byte(value))
}
