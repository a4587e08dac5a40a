package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"example.com/user-provisioner/internal/app"
	"example.com/user-provisioner/internal/config"
	"example.com/user-provisioner/internal/model"
	"example.com/user-provisioner/internal/observability"
	"example.com/user-provisioner/internal/provider/registry"
	"example.com/user-provisioner/internal/queue"
	"example.com/user-provisioner/internal/roster"
	"example.com/user-provisioner/internal/tenant"
)

func main() {
	if err := newRoot().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRoot() *cobra.Command {
	var (
		cfg     = config.Load()
		company string
		file    string
		logger  *zap.Logger
	)

	root := &cobra.Command{
		Use:           "provisionctl",
		Short:         "Operate the user provisioning worker",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			logger, err = observability.NewLogger(observability.LoggerConfig{Env: cfg.Env, Level: cfg.LogLevel, Service: "provisionctl"})
			return err
		},
	}
	root.PersistentFlags().StringVar(&company, "company", "", "company id")
	root.PersistentFlags().StringVar(&cfg.TenantsFile, "tenants", cfg.TenantsFile, "tenants YAML file (env TENANTS_FILE)")

	readRoster := func() (string, error) {
		if file == "" {
			return "", errors.New("--file is required")
		}
		b, err := os.ReadFile(file)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}

	var dryRun bool
	runFile := &cobra.Command{
		Use:   "run-file",
		Short: "Provision a CSV roster directly, without the queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			if company == "" {
				return errors.New("--company is required")
			}
			csv, err := readRoster()
			if err != nil {
				return err
			}
			resolver, err := app.Resolver(cfg)
			if err != nil {
				return err
			}
			if dryRun {
				resolver = forceDryRun{resolver}
			}
			sinks, err := app.OpenSinks(cfg, cmd.OutOrStdout(), logger)
			if err != nil {
				return err
			}
			defer sinks.Close()
			pacers, closer := app.Pacers(cfg, logger)
			defer closer.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			_, err = app.Orchestrator(cfg, resolver, sinks.Multi, pacers, nil, logger).Run(ctx, company, csv)
			return err
		},
	}
	runFile.Flags().StringVar(&file, "file", "", "CSV roster")
	runFile.Flags().BoolVar(&dryRun, "dry-run", false, "force dry-run regardless of company config")

	enqueue := &cobra.Command{
		Use:   "enqueue",
		Short: "Publish a CSV roster to the provisioning queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			if company == "" {
				return errors.New("--company is required")
			}
			csv, err := readRoster()
			if err != nil {
				return err
			}
			q, err := queue.NewRabbitClient(cfg.RabbitURL, cfg.QueueName)
			if err != nil {
				return err
			}
			defer q.Close()
			if err := queue.PublishMessage(cmd.Context(), q, model.Message{Company: company, CSV: csv}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "queued %d users for %s on %s\n", roster.Parse(csv).Len(), company, cfg.QueueName)
			return nil
		},
	}
	enqueue.Flags().StringVar(&file, "file", "", "CSV roster")

	var authenticate bool
	checkConfig := &cobra.Command{
		Use:   "check-config",
		Short: "Resolve a company's configuration and optionally test its credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			if company == "" {
				return errors.New("--company is required")
			}
			resolver, err := app.Resolver(cfg)
			if err != nil {
				return err
			}
			cc, err := resolver.Resolve(cmd.Context(), company)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "company:  %s\nprovider: %s\nmode:     %s\n", company, cc.Provider, model.ModeFor(cc.DryRun))
			adapter, err := registry.Factory(registry.Options{Logger: logger})(cc)
			if err != nil {
				return err
			}
			if !authenticate {
				return nil
			}
			if err := adapter.Authenticate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(out, "authentication: ok")
			return nil
		},
	}
	checkConfig.Flags().BoolVar(&authenticate, "auth", false, "request a provider token")

	root.AddCommand(runFile, enqueue, checkConfig)
	return root
}

// forceDryRun overrides the company's mode for local rehearsals.
type forceDryRun struct {
	next tenant.Resolver
}

func (f forceDryRun) Resolve(ctx context.Context, companyID string) (model.CompanyConfig, error) {
	cfg, err := f.next.Resolve(ctx, companyID)
	cfg.DryRun = true
	return cfg, err
}
