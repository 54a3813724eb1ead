// Command generate triggers a work generation run from the command line.
// With --auto it applies the trigger-day policy and system toggle, matching
// what the in-service scheduler does; with explicit --year/--month it runs
// unconditionally for that period.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/pesio-ai/be-cm-works/internal/config"
	"github.com/pesio-ai/be-cm-works/internal/database"
	"github.com/pesio-ai/be-cm-works/internal/logger"
	"github.com/pesio-ai/be-cm-works/internal/period"
	"github.com/pesio-ai/be-cm-works/internal/repository"
	"github.com/pesio-ai/be-cm-works/internal/service"
)

func main() {
	var (
		auto  bool
		year  int
		month int
	)

	rootCmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate work records for a target period",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), auto, year, month)
		},
	}

	rootCmd.Flags().BoolVar(&auto, "auto", false, "run in auto mode with trigger day check")
	rootCmd.Flags().IntVar(&year, "year", 0, "target year (defaults to next period of today)")
	rootCmd.Flags().IntVar(&month, "month", 0, "target month (defaults to next period of today)")

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, auto bool, year, month int) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log := logger.New(logger.Config{
		Level:       os.Getenv("LOG_LEVEL"),
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})

	db, err := database.New(ctx, database.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Database: cfg.Database.Database,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: cfg.Database.MaxConns,
		MinConns: cfg.Database.MinConns,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	customerRepo := repository.NewCustomerRepository(db)
	stepRuleRepo := repository.NewStepRuleRepository(db)
	workRepo := repository.NewWorkRepository(db)
	settingsRepo := repository.NewSettingsRepository(db)
	runRepo := repository.NewGenerationRunRepository(db)

	generation := service.NewGenerationService(customerRepo, stepRuleRepo, workRepo, runRepo, nil, log)
	policy := service.TriggerPolicy{}
	today := time.Now().UTC()

	if auto {
		enabled, err := settingsRepo.AutoGenerationEnabled(ctx)
		if err != nil {
			return err
		}
		if !enabled {
			fmt.Println("Auto generation disabled.")
			return nil
		}
		if !policy.ShouldRun(today, enabled) {
			fmt.Println("Not trigger day.")
			return nil
		}
	}

	target := policy.TargetPeriod(today)
	if year != 0 || month != 0 {
		target, err = period.New(year, month)
		if err != nil {
			return err
		}
	}

	result, err := generation.RunForPeriod(ctx, target, nil, "cli")
	if err != nil {
		return err
	}

	fmt.Printf("Created %d, existed %d, steps created %d.\n",
		result.Created, result.Existed, result.StepsCreated)
	return nil
}
