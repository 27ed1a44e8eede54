package main

import (
	"context"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/tensorplex-labs/conformal/internal/config"
	"github.com/tensorplex-labs/conformal/internal/utils/logger"
)

func main() {
	cmd := &cli.Command{
		Name:  "calibrate",
		Usage: "derive conformal thresholds from calibration softmax outputs",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "data", Aliases: []string{"d"}, Usage: "calibration dataset (.json or .json.zst)"},
			&cli.StringFlag{Name: "run", Aliases: []string{"r"}, Usage: "YAML run file with tasks and calibration overrides"},
			&cli.StringFlag{Name: "model", Aliases: []string{"m"}, Usage: "artifact name, defaults to the run file model"},
			&cli.IntFlag{Name: "synthetic", Usage: "generate this many synthetic calibration examples instead of reading --data"},
			&cli.IntFlag{Name: "seed", Value: 42, Usage: "seed for synthetic data"},
			&cli.StringFlag{Name: "log-level", Usage: "trace, debug, info, warn or error"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			dotenvErr := godotenv.Load()
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			logger.Init(os.Stderr, cfg.Environment, cmd.String("log-level"))
			if dotenvErr != nil {
				log.Debug().Msg(".env not loaded; continuing with existing environment")
			}

			seed, err := parseSeed(int64(cmd.Int("seed")))
			if err != nil {
				return err
			}
			opts := options{
				DataPath:  cmd.String("data"),
				RunPath:   cmd.String("run"),
				Model:     cmd.String("model"),
				Synthetic: int(cmd.Int("synthetic")),
				Seed:      seed,
			}
			return run(ctx, cfg, opts)
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal().Err(err).Msg("calibration failed, model must not be used uncalibrated")
	}
}
