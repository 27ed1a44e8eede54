// Package config defines environment configuration structs and loaders.
package config

import (
	"github.com/caarlos0/env/v11"
)

type AppConfig struct {
	CalibrationEnvConfig
	ArtifactEnvConfig
	RedisEnvConfig
	Environment string `env:"ENVIRONMENT" envDefault:"prod"`
}

func LoadConfig() (*AppConfig, error) {
	cfg := &AppConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// CalibrationEnvConfig holds the conformal calibration parameters.
type CalibrationEnvConfig struct {
	Alpha         float64 `env:"CONFORMAL_ALPHA" envDefault:"0.05"`
	Nonconformity string  `env:"CONFORMAL_NONCONFORMITY" envDefault:"hinge"`
	TaskMode      string  `env:"CONFORMAL_TASK_MODE" envDefault:"low"`
	Clusters      int     `env:"CONFORMAL_CLUSTERS" envDefault:"0"` // 0 disables clustering
	ClusterSeed   uint64  `env:"CONFORMAL_CLUSTER_SEED" envDefault:"42"`
}

// ArtifactEnvConfig selects where calibrated thresholds are persisted.
type ArtifactEnvConfig struct {
	Backend   string `env:"ARTIFACT_BACKEND" envDefault:"file"` // file or redis
	Dir       string `env:"ARTIFACT_DIR" envDefault:"models"`
	Compress  bool   `env:"ARTIFACT_COMPRESS" envDefault:"false"`
	KeyPrefix string `env:"ARTIFACT_KEY_PREFIX" envDefault:"conformal:thresholds:"`
}

// RedisEnvConfig configures Redis connection.
type RedisEnvConfig struct {
	RedisHost     string `env:"REDIS_HOST" envDefault:"127.0.0.1"`
	RedisPort     int    `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
	RedisUsername string `env:"REDIS_USERNAME"`
}
