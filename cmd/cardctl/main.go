package main

import (
	"context"
	"fmt"
	"io"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/octobees/cardscan/api/internal/backend"
	"github.com/octobees/cardscan/api/internal/config"
	"github.com/octobees/cardscan/api/internal/database"
	"github.com/octobees/cardscan/api/internal/repository"
	"github.com/octobees/cardscan/api/internal/service"
)

// app carries what every subcommand needs. Tests preset service to skip
// config loading.
type app struct {
	out     io.Writer
	verbose bool
	logger  *zap.Logger
	service *service.CardsService
	cleanup []func()
}

func main() {
	a := &app{out: os.Stdout}
	if err := newRootCmd(a).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "cardctl",
		Short: "Inspect and edit the business card collection",
		Long: `cardctl talks to the card backend configured by BACKEND_URL.

A typical edit round trip:

	cardctl export -o cards.csv
	cp cards.csv edited.csv   # edit in any spreadsheet tool
	cardctl apply --original cards.csv --edited edited.csv
`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if a.service != nil {
				return nil
			}
			return a.init(cmd.Context())
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			for _, fn := range a.cleanup {
				fn()
			}
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}
	root.SilenceUsage = true
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "log every backend call")
	root.SetOut(a.out)

	root.AddCommand(
		newListCmd(a),
		newExportCmd(a),
		newApplyCmd(a),
		newCreateCmd(a),
		newUploadCmd(a),
		newDeleteCmd(a),
		newRunsCmd(a),
	)
	return root
}

func (a *app) init(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	if a.verbose {
		zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	a.logger, err = zcfg.Build()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	client := backend.NewClient(
		backend.NewHTTPClient(context.Background(), cfg.Backend.BaseURL, cfg.Backend.UseIDToken),
		cfg.Backend.BaseURL,
		backend.WithTimeouts(cfg.Backend.ListTimeout, cfg.Backend.WriteTimeout, cfg.Backend.UploadTimeout),
		backend.WithMaxRetries(cfg.Backend.MaxRetries),
		backend.WithLogger(a.logger),
	)

	opts := []service.CardsOption{
		service.WithLogger(a.logger),
		service.WithValidator(service.NewFieldValidator(cfg.PhoneRegion)),
		service.WithSaveConcurrency(cfg.SaveConcurrency),
	}
	if cfg.DatabaseURL != "" {
		pool, err := database.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		a.cleanup = append(a.cleanup, pool.Close)
		runs := repository.NewPGXSaveRunsRepository(pool)
		if err := runs.EnsureSchema(ctx); err != nil {
			return err
		}
		opts = append(opts, service.WithSaveRuns(runs))
	}
	a.service = service.NewCardsService(client, opts...)
	return nil
}
