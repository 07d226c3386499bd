package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/imyashkale/fleetd/internal/config"
	"github.com/imyashkale/fleetd/internal/database"
	"github.com/imyashkale/fleetd/internal/handlers"
	"github.com/imyashkale/fleetd/internal/lock"
	"github.com/imyashkale/fleetd/internal/logger"
	"github.com/imyashkale/fleetd/internal/metrics"
	"github.com/imyashkale/fleetd/internal/models"
	"github.com/imyashkale/fleetd/internal/registry"
	"github.com/imyashkale/fleetd/internal/repository"
	"github.com/imyashkale/fleetd/internal/router"
	"github.com/imyashkale/fleetd/internal/services"
	"github.com/juju/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// drainTimeout bounds the wait for killed executions to release their locks
const drainTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook and control-plane server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.New()
	logger.Init(cfg.LogLevel, cfg.LogFormat)
	if err := logger.InitSuspicious(cfg.SuspiciousLogPath); err != nil {
		logger.Warnf("Suspicious request log unavailable, using stderr: %v", err)
	}
	defer logger.CloseSuspicious()

	path := configPath(cfg.ConfigPath)
	snap, file, err := registry.Load(path)
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	if len(file.MissingEnv) > 0 {
		logger.WithField("missing_env", file.MissingEnv).Warn("Configuration references unset environment variables")
	}
	mode := snap.Settings.Mode

	logger.WithFields(logrus.Fields{
		"path":        path,
		"mode":        mode,
		"node":        snap.Settings.NodeName,
		"deployments": len(snap.Definitions()),
		"isolation":   snap.Isolation.Enabled,
	}).Info("Configuration loaded successfully")

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.New(reg)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	store := registry.NewStore(snap, path)
	store.OnReload(m.IncReload)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	history, err := newHistory(ctx, cfg)
	if err != nil {
		return err
	}

	var registryLogin services.RegistryLogin
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		logger.Warnf("AWS configuration unavailable, registry_auth: ecr will fail: %v", err)
	} else {
		registryLogin = services.NewECRService(awsCfg)
	}

	var pruner services.ImagePruner
	if docker, err := services.NewDockerService(ctx); err != nil {
		logger.Debugf("Docker API unavailable, image prune will use the docker CLI: %v", err)
	} else {
		pruner = docker
		defer docker.Close()
	}

	// Executions outlive the request that triggered them; they stop only
	// when this context is cancelled at shutdown.
	execCtx, cancelExec := context.WithCancel(context.Background())
	defer cancelExec()

	locks := lock.NewTable()
	executor := services.NewExecutor(clock.WallClock, registryLogin, pruner)
	deploy := services.NewDeployService(execCtx, locks, executor, history, clock.WallClock, m)
	monitor := services.NewAgentMonitor(&http.Client{}, clock.WallClock, m)

	h := router.Handlers{
		Health:  handlers.NewHealthHandler(mode, version, clock.WallClock),
		Webhook: handlers.NewWebhookHandler(deploy),
		API:     handlers.NewAPIHandler(deploy, store),
	}
	if mode == models.ModeHome {
		h.Agents = handlers.NewAgentHandler(monitor)
	}
	engine := router.Setup(router.Options{
		Mode:     mode,
		Store:    store,
		Metrics:  m,
		Gatherer: reg,
	}, h)

	port := strconv.Itoa(file.Server.Port)
	if cfg.Port != "" {
		port = cfg.Port
	}
	srv := &http.Server{
		Addr:              net.JoinHostPort(file.Server.Bind, port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.WithFields(logrus.Fields{"addr": srv.Addr, "version": version}).Info("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		if err := store.Watch(gctx); err != nil {
			logger.Warnf("Configuration hot reload disabled: %v", err)
		}
		return nil
	})

	g.Go(func() error {
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-hup:
				logger.Info("SIGHUP received, reloading configuration")
				_ = store.Reload()
			}
		}
	})

	if mode == models.ModeHome {
		g.Go(func() error {
			return monitor.Run(gctx, func() []models.Agent {
				return store.Current().Agents()
			})
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server gracefully...")

		locks.Close()
		logger.WithField("running", locks.HeldNames()).Info("Refusing new triggers")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warnf("HTTP drain incomplete after %s: %v", cfg.ShutdownGrace, err)
		}

		cancelExec()
		drainCtx, cancelDrain := context.WithTimeout(context.Background(), drainTimeout)
		defer cancelDrain()
		if err := locks.Wait(drainCtx); err != nil {
			logger.WithField("running", locks.HeldNames()).Error("Executions still running at exit")
		}

		logger.Info("Server stopped")
		return nil
	})

	return g.Wait()
}

// newHistory selects the execution history backend
func newHistory(ctx context.Context, cfg *config.Config) (repository.ExecutionRepository, error) {
	if cfg.GetExecutionsTableName() == "" {
		logger.WithField("size", cfg.HistorySize).Info("Execution history kept in memory")
		return repository.NewMemoryExecutionRepository(cfg.HistorySize), nil
	}

	dbConfig := database.NewConfig(cfg)
	logger.Infof("Initializing DynamoDB client for table: %s in region: %s", dbConfig.TableName, dbConfig.Region)

	client, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize DynamoDB client: %w", err)
	}
	return repository.NewExecutionRepository(database.NewExecutionOperations(client, client.TableName)), nil
}
