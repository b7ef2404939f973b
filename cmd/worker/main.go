package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"walking_bus_notifier/internal/app"
	"walking_bus_notifier/internal/infra/config"
	idb "walking_bus_notifier/internal/infra/database"
	"walking_bus_notifier/internal/infra/logger"
	"walking_bus_notifier/internal/infra/push"
	"walking_bus_notifier/internal/infra/redisbus"
	"walking_bus_notifier/internal/infra/scheduler"

	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// No logger yet; stderr is all we have.
		os.Stderr.WriteString("FATAL: could not load configuration: " + err.Error() + "\n")
		os.Exit(1)
	}

	log := logger.New(cfg)
	log.Infof("Walking bus notification worker starting (environment: %s)", cfg.Environment)

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		log.WithError(err).Fatalf("Invalid TIMEZONE %q", cfg.Timezone)
	}

	// An unreachable store at startup is a process-level failure: no partial
	// scheduling is attempted.
	db, err := idb.NewPostgresConnection(cfg.DatabaseURL)
	if err != nil {
		log.WithError(err).Fatal("Could not connect to database")
	}
	defer db.Close()
	log.Info("Database connection established")

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.WithError(err).Fatal("Invalid REDIS_URL")
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		cancelPing()
		log.WithError(err).Fatal("Could not connect to Redis")
	}
	cancelPing()
	log.Info("Redis connection established")

	scheduleRepo := idb.NewPostgresScheduleRepository(db)
	jobRepo := idb.NewPostgresJobRepository(db)
	subRepo := idb.NewPostgresSubscriptionRepository(db)
	attRepo := idb.NewPostgresAttendanceRepository(db)
	weatherRepo := idb.NewPostgresWeatherRepository(db)

	runtime := scheduler.NewRuntime(cfg.SchedulerWorkers, loc, log.WithField("component", "runtime"))
	runtime.Start()

	sweeper := app.NewRetentionService(subRepo, log.WithField("component", "retention"))
	pusher := push.NewWebPushClient(cfg.VAPIDPublicKey, cfg.VAPIDPrivateKey, cfg.VAPIDSubject, log.WithField("component", "push"))
	notifier := app.NewNotificationService(subRepo, attRepo, weatherRepo, pusher, sweeper, loc, log.WithField("component", "notifier"))
	reconciler := app.NewReconciler(scheduleRepo, jobRepo, runtime, notifier, log.WithField("component", "reconciler"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Install triggers for every existing schedule before accepting change
	// events. The recovery pass additionally catches up triggers missed while
	// the worker was down and prunes one-shot records of the dead process.
	if err := reconciler.RecoverAll(ctx); err != nil {
		log.WithError(err).Fatal("Startup reconciliation failed")
	}

	dispatcher := app.NewDispatcher(reconciler, runtime, jobRepo, redisbus.NewDescriptorStore(redisClient), notifier, log.WithField("component", "dispatcher"))
	listener := redisbus.NewListener(redisClient, dispatcher, log.WithField("component", "listener"))

	listenerDone := make(chan error, 1)
	go func() {
		listenerDone <- listener.Run(ctx)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Infof("Received %s, shutting down", sig)
	case err := <-listenerDone:
		if err != nil && err != context.Canceled {
			log.WithError(err).Error("Reconfiguration listener terminated")
		}
	}

	cancel()
	runtime.Stop()
	log.Info("Worker shut down gracefully")
}
