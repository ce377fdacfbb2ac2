package main // Entry point package

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/iliyamo/wallet-pass-engine/internal/config"
	"github.com/iliyamo/wallet-pass-engine/internal/database"
	"github.com/iliyamo/wallet-pass-engine/internal/delivery"
	"github.com/iliyamo/wallet-pass-engine/internal/handler"
	"github.com/iliyamo/wallet-pass-engine/internal/logs"
	"github.com/iliyamo/wallet-pass-engine/internal/middleware"
	"github.com/iliyamo/wallet-pass-engine/internal/passfile"
	"github.com/iliyamo/wallet-pass-engine/internal/queue"
	"github.com/iliyamo/wallet-pass-engine/internal/repository"
	"github.com/iliyamo/wallet-pass-engine/internal/router"
	"github.com/iliyamo/wallet-pass-engine/internal/service"
	"github.com/iliyamo/wallet-pass-engine/internal/tracing"
)

// jobQueue is what the services enqueue to and what main shuts down.
type jobQueue interface {
	queue.Enqueuer
	Close() error
}

// localQueue adapts queue.Local to jobQueue.
type localQueue struct{ *queue.Local }

func (l localQueue) Close() error { l.Local.Close(); return nil }

func main() {
	cfg := config.Load() // Load environment config
	logs.Init(logs.Options{Level: cfg.Log.Level, Format: cfg.Log.Format, File: cfg.Log.File})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := tracing.InitTracerProvider(cfg.ServiceName, cfg.Tracing.Endpoint)
	if err != nil {
		logs.Logger.WithError(err).Warn("tracing disabled")
	}

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		logs.Logger.WithError(err).Fatal("database connection failed")
	}
	defer db.Close()
	if cfg.AutoMigrate {
		if err := database.Migrate(ctx, db); err != nil {
			logs.Logger.WithError(err).Fatal("database migration failed")
		}
	}
	store := repository.NewStore(db)

	// Redis is optional: without it rate limiting is off and bulk launches
	// rely on the database in-flight check.
	rdb := config.NewRedisClient()
	if rdb == nil {
		logs.Logger.Warn("redis unavailable; rate limiting and launch locks disabled")
	} else {
		defer rdb.Close()
	}

	var jobs jobQueue
	var local *queue.Local
	switch cfg.Queue.Driver {
	case "local":
		local = queue.NewLocal(1024, cfg.Queue.Workers)
		jobs = localQueue{local}
	default:
		jobs = queue.NewPublisher(cfg.Queue.URL, cfg.Queue.Name)
	}

	// Channels left as nil interfaces are reported as not configured.
	var apple service.ApplePusher
	if cfg.Delivery.APNsCertFile != "" {
		p, err := delivery.NewAPNsPusher(cfg.Delivery.APNsCertFile, cfg.Delivery.APNsCertPass, cfg.Delivery.APNsProduction)
		if err != nil {
			logs.Logger.WithError(err).Error("apple delivery disabled")
		} else {
			apple = p
		}
	}
	var google service.GoogleWallet
	if cfg.Delivery.GoogleIssuerID != "" {
		g, err := delivery.NewGoogleWallet(ctx, cfg.Delivery.GoogleIssuerID, cfg.Delivery.GoogleCredentialFile)
		if err != nil {
			logs.Logger.WithError(err).Error("google delivery disabled")
		} else {
			google = g
		}
	}

	updates := service.NewPassUpdateService(store, jobs, google != nil)
	dispatcher := service.NewDeliveryDispatcher(store, apple, google, jobs, service.DeliveryOptions{
		Timeout:         cfg.Delivery.Timeout,
		RetryBackoff:    cfg.Delivery.RetryBackoff,
		PushConcurrency: cfg.Delivery.PushConcurrency,
	})
	bulk := service.NewBulkUpdateCoordinator(store, updates, jobs, service.NewRedisLaunchLock(rdb, "lock"))
	recorder := service.NewScanEventRecorder(store)
	engine := service.NewRedemptionEngine(store, recorder, cfg.QRSigningSecret)
	wallet := service.NewWalletService(store, passfile.NewDiskStore(cfg.PassStorageDir), &passfile.Builder{
		TeamID:           cfg.PassTeamID,
		OrganizationName: cfg.PassOrganization,
		WebServiceURL:    cfg.WebServiceURL,
		QRSecret:         cfg.QRSigningSecret,
	})
	worker := &service.Worker{Delivery: dispatcher, Bulk: bulk}

	e := router.New()
	limiter := middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb)
	router.RegisterRoutes(e, handler.NewHealthHandler(db))
	router.RegisterOwner(e, handler.NewOwnerHandler(updates, recorder, bulk), cfg.JWTSecret)
	router.RegisterDeviceService(e, handler.NewDeviceServiceHandler(updates), cfg.DeviceServiceSecret)
	router.RegisterScanner(e, handler.NewScannerHandler(engine), store, limiter)
	router.RegisterWallet(e, handler.NewWalletHandler(wallet), limiter)

	g, gctx := errgroup.WithContext(ctx)
	if local != nil {
		local.Start(gctx, worker)
	} else {
		consumer := &queue.Consumer{URL: cfg.Queue.URL, Queue: cfg.Queue.Name, Prefetch: cfg.Queue.Prefetch, Workers: cfg.Queue.Workers}
		g.Go(func() error {
			if err := consumer.Run(gctx, worker); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	addr := ":" + cfg.Port // Address string with port
	g.Go(func() error {
		logs.Logger.Infof("listening on %s (env=%s)", addr, cfg.Env)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			logs.Logger.WithError(err).Warn("http shutdown")
		}
		if err := jobs.Close(); err != nil {
			logs.Logger.WithError(err).Warn("queue close")
		}
		tracing.Shutdown(shutdownCtx, tp)
		return nil
	})

	if err := g.Wait(); err != nil {
		logs.Logger.WithError(err).Fatal("server stopped")
	}
	logs.Logger.Info("server stopped")
}
