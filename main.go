package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"web3nst/config"
	"web3nst/docker"
	"web3nst/functions"
	"web3nst/handlers"
	"web3nst/pipeline"
)

var configFile string

func main() {
	rootCmd := &cobra.Command{
		Use:           "web3nst",
		Short:         "Web3NST image upload server and Functions request tooling",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "optional YAML config file layered over the environment (default $CONFIG_FILE)")

	rootCmd.AddCommand(serveCmd(), updateRequestCmd())

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}

// loadConfig reads configuration and sets up logging from it
func loadConfig() (*config.Config, error) {
	if configFile == "" {
		configFile = os.Getenv("CONFIG_FILE")
	}
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, err
	}
	configureLogging(cfg.LogLevel)
	return cfg, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Accept image uploads over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.ValidateServer(); err != nil {
				return err
			}
			return serve(cfg)
		},
	}
}

func serve(cfg *config.Config) error {
	log.Info().Msg("Starting Web3NST upload server")

	serverHandler, err := handlers.NewServerHandler(cfg)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      serverHandler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Msgf("Server is running on port %s", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-quit:
	}

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited properly")
	return nil
}

func updateRequestCmd() *cobra.Command {
	var (
		sourcePath        string
		requireSimulation bool
	)

	cmd := &cobra.Command{
		Use:   "update-request",
		Short: "Simulate the Functions source and store it as the consumer's request",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("source") {
				cfg.Functions.SourcePath = sourcePath
			}
			if cmd.Flags().Changed("require-simulation") {
				cfg.Functions.RequireSimulationSuccess = requireSimulation
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			_, err = pipeline.NewRequestUpdater(cfg, newSimulator(cfg), nil).Run(ctx)
			return err
		},
	}

	cmd.Flags().StringVar(&sourcePath, "source", "", "path to the JavaScript source (overrides FUNCTIONS_SOURCE_PATH)")
	cmd.Flags().BoolVar(&requireSimulation, "require-simulation", false, "abort before submitting when the dry run fails")
	return cmd
}

func newSimulator(cfg *config.Config) functions.Simulator {
	if cfg.Functions.Simulator == config.SimulatorDocker {
		return docker.NewDockerManager(&cfg.Docker)
	}
	return functions.NewLocalSimulator(cfg.Functions.SimulationTimeout)
}

// configureLogging sets up the logger based on the provided log level
func configureLogging(level string) {
	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	log.Logger = log.Output(output)

	parsed, err := zerolog.ParseLevel(level)
	if err != nil || parsed == zerolog.NoLevel {
		parsed = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(parsed)
}
