package artifact

import (
	"fmt"
	"strings"

	"github.com/tensorplex-labs/conformal/internal/config"
	"github.com/tensorplex-labs/conformal/internal/conformal"
	"github.com/tensorplex-labs/conformal/internal/utils/redis"
)

// OpenStore builds the store selected by ARTIFACT_BACKEND. The returned func releases it.
func OpenStore(cfg *config.AppConfig) (Store, func(), error) {
	switch strings.ToLower(cfg.Backend) {
	case "", "file":
		return NewFileStore(cfg.Dir, cfg.Compress), func() {}, nil
	case "redis":
		r, err := redis.NewRedis(&cfg.RedisEnvConfig)
		if err != nil {
			return nil, nil, fmt.Errorf("init redis artifact store: %w", err)
		}
		return NewRedisStore(r, cfg.KeyPrefix), r.Close, nil
	}
	return nil, nil, fmt.Errorf("%w: unknown artifact backend %q", conformal.ErrInvalidParameter, cfg.Backend)
}
