package main

import (
	"context"
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/tensorplex-labs/conformal/internal/config"
	"github.com/tensorplex-labs/conformal/internal/utils/logger"
)

func main() {
	cmd := &cli.Command{
		Name:  "scoring",
		Usage: "build conformal prediction sets from softmax outputs and a calibration artifact",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "data", Aliases: []string{"d"}, Required: true, Usage: "softmax outputs to score (.json or .json.zst)"},
			&cli.StringFlag{Name: "model", Aliases: []string{"m"}, Required: true, Usage: "artifact name written by calibrate"},
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "write prediction sets here instead of stdout"},
			&cli.BoolFlag{Name: "joint", Usage: "use the joint threshold of a high-level calibration"},
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

			opts := options{
				DataPath: cmd.String("data"),
				Model:    cmd.String("model"),
				Joint:    cmd.Bool("joint"),
			}
			return writeOutput(cmd.String("out"), os.Stdout, func(w io.Writer) error {
				return predict(ctx, cfg, opts, w)
			})
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal().Err(err).Msg("scoring failed")
	}
}
