package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dropDatabas3/aether/internal/cache"
	"github.com/dropDatabas3/aether/internal/cluster"
	"github.com/dropDatabas3/aether/internal/config"
	"github.com/dropDatabas3/aether/internal/controlplane"
	apphttp "github.com/dropDatabas3/aether/internal/http"
	"github.com/dropDatabas3/aether/internal/http/controllers"
	"github.com/dropDatabas3/aether/internal/http/router"
	"github.com/dropDatabas3/aether/internal/jwt"
	"github.com/dropDatabas3/aether/internal/metrics"
	"github.com/dropDatabas3/aether/internal/notify"
	"github.com/dropDatabas3/aether/internal/observability/logger"
	"github.com/dropDatabas3/aether/internal/rate"
	"github.com/dropDatabas3/aether/internal/store"
	"github.com/dropDatabas3/aether/internal/store/adapters/cached"

	// adapters: se registran vía init()
	_ "github.com/dropDatabas3/aether/internal/store/adapters/memory"
	_ "github.com/dropDatabas3/aether/internal/store/adapters/pg"
	_ "github.com/dropDatabas3/aether/internal/store/adapters/redis"
)

func newServeCmd() *cobra.Command {
	var (
		cfgPath string
		envFile string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Corre un nodo: consenso (raft_addr) + admin API (server.addr)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if envFile != "" {
				if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
					return fmt.Errorf("env file: %w", err)
				}
			}
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", envOr("AETHER_CONFIG", ""), "ruta al YAML (vacío = defaults + env)")
	cmd.Flags().StringVar(&envFile, "env-file", ".env", "archivo .env opcional")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger.Init(logger.Config{Env: cfg.App.Env, Level: cfg.Log.Level, ServiceName: "aether", Version: version})
	defer func() { _ = logger.Sync() }()
	log := logger.Named("serve").With(logger.NodeID(cfg.Cluster.NodeID))

	reg := prometheus.DefaultRegisterer
	for _, register := range []func(prometheus.Registerer) error{metrics.RegisterRaft, metrics.RegisterConfig, metrics.RegisterHTTP} {
		if err := register(reg); err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
	}

	// ─── Storage ───
	backend, err := store.Open(ctx, store.AdapterConfig{
		Driver:         cfg.Storage.Driver,
		DSN:            cfg.Storage.DSN,
		RedisAddr:      cfg.Storage.Redis.Addr,
		RedisPassword:  cfg.Storage.Redis.Password,
		RedisDB:        cfg.Storage.Redis.DB,
		KeyPrefix:      cfg.Storage.KeyPrefix,
		MaxConns:       cfg.Storage.Postgres.MaxConns,
		MinConns:       cfg.Storage.Postgres.MinConns,
		Migrate:        cfg.Storage.Postgres.Migrate,
		ConnectTimeout: 10 * time.Second,
	})
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer backend.Close()
	checks := map[string]controllers.Pinger{"storage": backend}

	if cfg.Cache.Kind != "none" {
		cc, err := cache.New(ctx, cache.Config{
			Driver:   cfg.Cache.Kind,
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
			Prefix:   cfg.Cache.Redis.Prefix,
		})
		if err != nil {
			return fmt.Errorf("cache: %w", err)
		}
		defer cc.Close()
		backend = cached.New(backend, cc, cfg.CacheTTL())
		checks["cache"] = cc
	}
	log.Info("storage ready", logger.String("driver", cfg.Storage.Driver), logger.String("cache", cfg.Cache.Kind))

	schemas, err := controlplane.NewRegistry(cfg.Schemas...)
	if err != nil {
		return fmt.Errorf("schemas: %w", err)
	}

	// ─── Notificaciones ───
	hub := notify.NewHub(64)
	defer hub.Close()
	var notifier notify.Notifier = hub
	if cfg.Notify.Kind == "redis" {
		rdb := goredis.NewClient(&goredis.Options{Addr: cfg.Notify.Redis.Addr, Password: cfg.Storage.Redis.Password})
		defer rdb.Close()
		notifier = notify.Multi{hub, notify.NewRedisPublisher(rdb, cfg.Notify.Redis.ChannelPrefix)}
	}
	disp := controlplane.NewDispatcher(notifier, controlplane.DispatcherOptions{
		MaxAttempts: cfg.Notify.MaxAttempts,
		Backoff:     cfg.Notify.Backoff,
		Logger:      logger.Named("notify"),
	})

	// ─── Consenso ───
	bolt, err := cluster.OpenBoltStore(cfg.Cluster.DataDir)
	if err != nil {
		return err
	}
	defer bolt.Close()

	var tlsBundle *cluster.TLSBundle
	if cfg.Cluster.RaftTLSEnable {
		if tlsBundle, err = cluster.LoadTLSBundle(cfg.Cluster.RaftTLSCertFile, cfg.Cluster.RaftTLSKeyFile,
			cfg.Cluster.RaftTLSCAFile, cfg.Cluster.RaftTLSServerName); err != nil {
			return fmt.Errorf("raft tls: %w", err)
		}
	}
	var transport *cluster.HTTPTransport
	if tlsBundle != nil {
		transport = cluster.NewHTTPTransport(cfg.Cluster.Nodes, tlsBundle.Client)
	} else {
		transport = cluster.NewHTTPTransport(cfg.Cluster.Nodes, nil)
	}
	defer transport.Close()

	nodeLog := logger.Named("raft")
	node, err := cluster.NewNode(cluster.Options{
		NodeID:             cfg.Cluster.NodeID,
		Members:            cfg.Cluster.Nodes,
		LogStore:           bolt,
		StableStore:        bolt,
		Transport:          transport,
		FSM:                controlplane.NewApplier(backend, disp, logger.Named("applier")),
		ElectionTimeoutMin: cfg.Cluster.ElectionTimeoutMin,
		ElectionTimeoutMax: cfg.Cluster.ElectionTimeoutMax,
		HeartbeatInterval:  cfg.Cluster.HeartbeatInterval,
		ProposalTimeout:    cfg.Cluster.ProposalTimeout,
		MaxAppendEntries:   cfg.Cluster.MaxAppendEntries,
		// memory no sobrevive al proceso: reconstruir desde el log
		ReplayOnStart: cfg.Storage.Driver == "memory",
		Logger:        nodeLog,
	})
	if err != nil {
		return err
	}

	mgr := controlplane.NewManager(node, backend, schemas, logger.Named("config"))

	// ─── Admin API ───
	issuer, err := jwt.NewIssuer(cfg.Auth.Issuer, []byte(cfg.Auth.JWTSecret), cfg.AccessTTL())
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	users := make([]controllers.Credential, 0, len(cfg.Auth.Users))
	for _, u := range cfg.Auth.Users {
		users = append(users, controllers.Credential{Username: u.Username, PasswordHash: u.PasswordHash, Roles: u.Roles})
	}
	if len(users) == 0 {
		log.Warn("no auth users configured: only anonymous endpoints are usable")
	}

	var loginLimiter rate.Limiter
	if rl := cfg.Auth.LoginRateLimit; rl.Max > 0 {
		if rl.Kind == "redis" {
			addr := cfg.Cache.Redis.Addr
			if addr == "" {
				addr = cfg.Storage.Redis.Addr
			}
			rdb := goredis.NewClient(&goredis.Options{Addr: addr, Password: cfg.Storage.Redis.Password})
			defer rdb.Close()
			loginLimiter = rate.NewRedisLimiter(rdb, "", rl.Max, rl.Window)
		} else {
			loginLimiter = rate.NewMemoryLimiter(rl.Max, rl.Window)
		}
	}

	handler := router.New(router.Deps{
		Node:            node,
		Tokens:          issuer,
		Auth:            controllers.NewAuthController(users, issuer),
		Configs:         controllers.NewConfigsController(mgr),
		Watch:           controllers.NewWatchController(mgr, hub, 15*time.Second),
		Cluster:         controllers.NewClusterController(node),
		Health:          controllers.NewHealthController(node, checks),
		LoginLimiter:    loginLimiter,
		LeaderRedirects: cfg.Server.LeaderRedirects,
		Metrics:         promhttp.Handler(),
	})
	admin := apphttp.NewServer(cfg.Server.Addr, handler, cfg.Server.ShutdownTimeout)
	rpc := apphttp.NewServer(cfg.Cluster.RaftAddr, cluster.RPCRouter(node), cfg.Server.ShutdownTimeout).Named("raft-rpc")
	if tlsBundle != nil {
		rpc.WithTLS(tlsBundle.Server)
	}

	// ─── Run ───
	disp.Start()
	node.Start()
	defer func() {
		node.Stop()
		disp.Stop()
	}()

	logStop := make(chan struct{})
	defer close(logStop)
	go cluster.WatchLogSize(cfg.Cluster.DataDir, 15*time.Second, logStop)

	log.Info("node started",
		logger.String("admin_addr", cfg.Server.Addr),
		logger.String("raft_addr", cfg.Cluster.RaftAddr),
		logger.Count(len(cfg.Cluster.Nodes)),
		logger.Int("schemas", len(schemas.IDs())),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return admin.Run(gctx, nil) })
	g.Go(func() error { return rpc.Run(gctx, nil) })
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case <-node.Done():
			if err := node.Err(); err != nil {
				log.Error("consensus node halted", logger.Err(err))
				return fmt.Errorf("consensus: %w", err)
			}
			return nil
		}
	})

	err = g.Wait()
	log.Info("shutting down", logger.Err(err))
	return err
}
