package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lemonberrylabs/exprtree/pkg/api"
	grpcapi "github.com/lemonberrylabs/exprtree/pkg/api/grpc"
	"github.com/lemonberrylabs/exprtree/pkg/config"
	"github.com/lemonberrylabs/exprtree/pkg/expr"
	"github.com/lemonberrylabs/exprtree/pkg/scope"
	"github.com/lemonberrylabs/exprtree/pkg/service"
	"github.com/lemonberrylabs/exprtree/pkg/store"
	"github.com/lemonberrylabs/exprtree/pkg/telemetry"
	"github.com/lemonberrylabs/exprtree/web"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and gRPC evaluation servers",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	cmd.Flags().String("config", "", "YAML or JSON config file")
	cmd.Flags().String("http-addr", "", "HTTP listen address (default 0.0.0.0:8787, env EXPRTREE_HTTP_ADDR)")
	cmd.Flags().String("grpc-addr", "", "gRPC listen address (default 0.0.0.0:8788, env EXPRTREE_GRPC_ADDR)")
	cmd.Flags().String("store", "", "SQLite rule database path; rules are kept in memory when empty (env EXPRTREE_STORE_PATH)")
	cmd.Flags().String("contexts", "", "YAML or JSON file of base contexts (env EXPRTREE_CONTEXTS_FILE)")
	cmd.Flags().String("rules-dir", "", "Directory of *.expr rule files to load at startup (env EXPRTREE_RULES_DIR)")
	return cmd
}

// loadServeConfig layers defaults, the config file, the environment and
// flags, in that order.
func loadServeConfig(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default()
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		var err error
		if cfg, err = config.FromFile(path); err != nil {
			return cfg, err
		}
	}
	if err := cfg.ApplyEnv(nil); err != nil {
		return cfg, err
	}

	flags := cmd.Flags()
	overrides := []struct {
		flag string
		dst  *string
	}{
		{"http-addr", &cfg.HTTPAddr},
		{"grpc-addr", &cfg.GRPCAddr},
		{"store", &cfg.StorePath},
		{"contexts", &cfg.ContextsFile},
		{"rules-dir", &cfg.RulesDir},
		{"log-level", &cfg.LogLevel},
		{"log-format", &cfg.LogFormat},
	}
	for _, o := range overrides {
		if v, _ := flags.GetString(o.flag); v != "" {
			*o.dst = v
		}
	}
	if flags.Changed("max-depth") {
		cfg.MaxDepth, _ = flags.GetInt("max-depth")
	}
	if flags.Changed("max-length") {
		cfg.MaxExpressionLength, _ = flags.GetInt("max-length")
	}
	return cfg, cfg.Validate()
}

func openStore(path string) (store.Store, error) {
	if path == "" {
		return store.NewMemory(), nil
	}
	return store.NewSQLite(path)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadServeConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := newLogger(cmd.ErrOrStderr(), cfg)
	if err != nil {
		return err
	}

	backing, err := openStore(cfg.StorePath)
	if err != nil {
		return err
	}
	defer backing.Close()

	base := scope.New()
	if cfg.ContextsFile != "" {
		if err := base.LoadFile(cfg.ContextsFile); err != nil {
			return err
		}
		logger.Info("loaded base contexts", "file", cfg.ContextsFile, "contexts", base.Names())
	}

	exprOpts := append(cfg.ExprOptions(), expr.WithLogger(logger))
	rules := store.NewCompiled(backing, exprOpts...)
	svc := service.New(rules,
		service.WithBaseScope(base),
		service.WithRecorder(telemetry.NewRecorder(nil)),
		service.WithExprOptions(exprOpts...),
		service.WithLogger(logger),
	)

	if cfg.RulesDir != "" {
		n, err := svc.LoadDir(cfg.RulesDir)
		if err != nil {
			logger.Warn("failed to load rules directory", "dir", cfg.RulesDir, "error", err)
		} else {
			logger.Info("loaded rules", "count", n, "dir", cfg.RulesDir)
		}
	}

	httpServer := api.New(svc, logger)
	web.New(svc).Register(httpServer.App())
	grpcServer := grpcapi.New(svc, logger)

	errCh := make(chan error, 2)
	go func() {
		logger.Info("gRPC server listening", "addr", cfg.GRPCAddr)
		if err := grpcServer.Serve(cfg.GRPCAddr); err != nil {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()
	go func() {
		logger.Info("HTTP server listening", "addr", cfg.HTTPAddr, "ui", "/ui", "store", storeLabel(cfg.StorePath))
		if err := httpServer.Listen(cfg.HTTPAddr); err != nil {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	// Graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err = <-errCh:
		logger.Error("server failed", "error", err)
	}

	grpcServer.GracefulStop()
	if shutdownErr := httpServer.Shutdown(); shutdownErr != nil {
		logger.Error("error during shutdown", slog.Any("error", shutdownErr))
	}
	return err
}

func storeLabel(path string) string {
	if path == "" {
		return "memory"
	}
	return path
}
