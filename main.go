// Package main is the funchatgo entry point: an HTTP chat server and a
// terminal REPL over the same function-calling conversation loop.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"funchatgo/internal/app"
	"funchatgo/internal/cli"
	"funchatgo/internal/config"
	"funchatgo/internal/logger"
)

var (
	cfgPath  string
	logLevel string
	logFile  string
	addr     string
	chatUser string
)

var rootCmd = &cobra.Command{
	Use:   "funchatgo",
	Short: "Chat server with streamed function calling",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP chat server",
	RunE:  runServe,
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the model in the terminal",
	RunE:  runChat,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "Path to config.json [default: $FUNCHAT_CONFIG or ./config.json]")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Set log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Write logs to file instead of stderr")
	serveCmd.Flags().StringVar(&addr, "addr", "", "Listen address, overrides basic_config.server_address")
	chatCmd.Flags().StringVar(&chatUser, "user", "local", "Conversation owner id")

	for _, name := range []string{"log-level", "log-file"} {
		if err := viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name)); err != nil {
			fmt.Fprintf(os.Stderr, "Error binding %s flag: %v\n", name, err)
			os.Exit(1)
		}
	}

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(chatCmd)

	cobra.OnInitialize(initEnv)
}

func initEnv() {
	// .env is optional
	_ = godotenv.Load()
}

// setup loads config and configures the logger. Flags win over the file.
func setup() (*config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	level, file := viper.GetString("log-level"), viper.GetString("log-file")
	if level == "" {
		level = cfg.Log.Level
	}
	if file == "" {
		file = cfg.Log.File
	}
	if err := logger.Configure(level, file); err != nil {
		return nil, fmt.Errorf("configure logger: %w", err)
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := setup()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	listen := addr
	if listen == "" {
		listen = cfg.BasicConfig.ServerAddress
	}
	srv := &http.Server{Addr: listen, Handler: a.Router()}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server stopped: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runChat(cmd *cobra.Command, _ []string) error {
	cfg, err := setup()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	fmt.Fprintf(cmd.OutOrStdout(), "funchatgo - functions: %v. Type /help for commands.\n", a.Registry.Names())
	err = cli.NewREPL(a.Manager, chatUser, cmd.InOrStdin(), cmd.OutOrStdout()).Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
