package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"ambudispatch/internal/api"
	"ambudispatch/internal/buildinfo"
	"ambudispatch/internal/config"
	"ambudispatch/internal/dispatch"
	"ambudispatch/internal/logging"
	"ambudispatch/internal/metrics"
	"ambudispatch/internal/store"
	"ambudispatch/internal/tracking"
	"ambudispatch/internal/webhooks"
)

func main() {
	configPath := flag.String("config", os.Getenv("AMBUDISPATCH_CONFIG"), "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.WithError(err).Fatal("load config")
	}
	log := logging.New(cfg.Log)
	log.WithFields(logrus.Fields{"version": buildinfo.Version, "commit": buildinfo.Commit}).Info("starting ambudispatch")
	metrics.RegisterDefault()

	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("exited with error")
	}
}

func openStore(cfg *config.Config) (store.Store, error) {
	if cfg.Database.Driver == "" || cfg.Database.Driver == "memory" {
		return store.NewMemory(), nil
	}
	return store.Open(cfg.Database)
}

func run(cfg *config.Config, log *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()
	log.WithField("driver", cfg.Database.Driver).Info("store ready")

	var broker api.EventBroker = api.NewBroker()
	var locker dispatch.Locker = dispatch.NewLocalLocker()
	if cfg.Redis.URL != "" {
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return err
		}
		rdb := redis.NewClient(opt)
		defer func() { _ = rdb.Close() }()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return err
		}
		broker = api.NewRedisBroker(rdb, log)
		locker = dispatch.NewRedisLocker(rdb, cfg.Redis.LockTTL)
		log.Info("redis locks and event fan-out enabled")
	}

	pub := webhooks.NewPublisher(st, log)
	events := &api.Fanout{Broker: broker, Webhooks: pub, Log: log}

	engine := dispatch.NewEngine(st, cfg.Zones, log)
	engine.Locker = locker
	engine.Events = events
	engine.OpTimeout = cfg.Dispatch.OpTimeout
	engine.LockWait = cfg.Dispatch.LockWait

	sim := tracking.NewSimulator(st, cfg.Simulation, log)
	policy := tracking.NewProbabilityPolicy(cfg.Alerts, nil)
	alerts := tracking.NewAlertGenerator(st, cfg.Alerts, policy, log)
	sched := tracking.NewScheduler(sim, alerts, cfg.Simulation.Interval, events, log)
	sched.Timeout = cfg.Simulation.TickTimeout
	svc := tracking.NewService(st, sim, events, log)
	worker := webhooks.NewWorker(st, cfg.Webhooks, log)

	srv := api.NewServer(api.Deps{
		Store: st, Engine: engine, Tracking: svc, Broker: broker, Pub: pub, Config: cfg, Log: log,
	})
	httpSrv := srv.NewHTTPServer()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithField("addr", httpSrv.Addr).Info("http listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error { return sched.Run(gctx) })
	g.Go(func() error { return worker.Run(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		log.Info("shutting down")
		return httpSrv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
