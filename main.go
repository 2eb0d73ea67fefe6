package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/Medard-prog/web-whisperer-sub001/internal/api"
	"github.com/Medard-prog/web-whisperer-sub001/internal/api/handlers"
	"github.com/Medard-prog/web-whisperer-sub001/internal/cache"
	"github.com/Medard-prog/web-whisperer-sub001/internal/captcha"
	"github.com/Medard-prog/web-whisperer-sub001/internal/config"
	"github.com/Medard-prog/web-whisperer-sub001/internal/db"
	"github.com/Medard-prog/web-whisperer-sub001/internal/email"
	"github.com/Medard-prog/web-whisperer-sub001/internal/logger"
	"github.com/Medard-prog/web-whisperer-sub001/internal/notify"
	"github.com/Medard-prog/web-whisperer-sub001/internal/realtime"
	"github.com/Medard-prog/web-whisperer-sub001/internal/scheduler"
	"github.com/Medard-prog/web-whisperer-sub001/internal/services"
	"github.com/Medard-prog/web-whisperer-sub001/internal/session"
	"github.com/Medard-prog/web-whisperer-sub001/internal/storage"
	"github.com/Medard-prog/web-whisperer-sub001/internal/tasks"
	"github.com/Medard-prog/web-whisperer-sub001/internal/wizard"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "webwhisperer",
		Short:         "Agency portal backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(serveCmd(), createAdminCmd())
	return cmd
}

func serveCmd() *cobra.Command {
	var runMode string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the API server and/or task workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			switch runMode {
			case "api", "bg", "img", "all":
			default:
				return fmt.Errorf("invalid run mode %q: want api, bg, img or all", runMode)
			}
			return serve(runMode)
		},
	}
	cmd.Flags().StringVarP(&runMode, "mode", "m", "all", "Run mode: 'api', 'bg' (background tasks), 'img' (image processing), 'all'")
	return cmd
}

// app holds the connections and services shared by every run mode.
type app struct {
	cfg         *config.Config
	mongoClient *mongo.Client
	db          *mongo.Database
	rdb         *redis.Client

	settings  services.IConfigService
	users     services.IUserService
	actions   services.ILinkedActionService
	requests  services.IRequestService
	projects  services.IProjectService
	messages  services.IMessageService
	billing   services.IBillingService
	templates services.IEmailTemplateService
	storage   storage.IS3Storage
	hub       *realtime.Hub
}

func bootstrap(runMode string) (*app, error) {
	cfg, err := config.Load(runMode)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := logger.Init(logger.Options{Level: cfg.LogLevel, File: cfg.LogFile, Compress: true}); err != nil {
		return nil, fmt.Errorf("failed to initialise logger: %w", err)
	}

	mongoClient, mongoDb, err := db.ConnectDB(cfg.MongoURI, cfg.MongoDbName)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := db.EnsureIndexes(ctx, mongoDb); err != nil {
		_ = db.DisconnectDB(mongoClient)
		return nil, fmt.Errorf("failed to ensure indexes: %w", err)
	}

	redisClient, err := cache.ConnectRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		_ = db.DisconnectDB(mongoClient)
		return nil, err
	}

	a := &app{cfg: cfg, mongoClient: mongoClient, db: mongoDb, rdb: redisClient}
	if err := a.buildServices(); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) buildServices() error {
	cfg := a.cfg
	var err error
	a.settings = services.NewConfigService(a.db, cfg, a.rdb)
	a.users, err = services.NewUserService(a.db, cfg.PasswordRegexp)
	if err != nil {
		return err
	}
	a.actions = services.NewLinkedActionService(a.db, cfg.ResetAccessLinkTTL)
	lifecycle := services.NewLifecycleService(services.NewMongoLifecycleStore(a.db), cfg.LifecycleTransactions)
	a.requests = services.NewRequestService(a.db, lifecycle)
	a.projects = services.NewProjectService(a.db)
	a.hub = realtime.NewHub(a.rdb)
	a.messages = services.NewMessageService(a.db, a.projects, a.hub)
	a.billing = services.NewBillingService(a.db, a.settings)
	a.templates = services.NewEmailTemplateService(a.db)
	a.storage, err = storage.NewS3Storage(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialise S3 storage: %w", err)
	}
	return nil
}

func (a *app) close() {
	if err := cache.DisconnectRedis(a.rdb); err != nil {
		logger.Errorf("Error disconnecting from Redis: %v", err)
	}
	if err := db.DisconnectDB(a.mongoClient); err != nil {
		logger.Errorf("Error disconnecting from MongoDB: %v", err)
	}
	logger.Sync()
}

func (a *app) emailSender() email.Sender {
	var primary email.Sender
	if a.cfg.MockServices {
		logger.Infof("MOCK_SERVICES enabled: emails are stored in Redis")
		primary = email.NewRedisSender(a.rdb)
	} else {
		primary = email.NewSMTPSender(a.cfg)
	}
	composite := email.NewCompositeEmailSender(primary)
	if path := a.cfg.LogEmailsPath; path != "" {
		fileSender, err := email.NewFileEmailSender(path)
		if err != nil {
			logger.Warnf("Failed to open email log %q, continuing without it: %v", path, err)
		} else {
			composite.AddSender(fileSender)
		}
	}
	return composite
}

func serve(runMode string) error {
	a, err := bootstrap(runMode)
	if err != nil {
		return err
	}
	defer a.close()
	cfg := a.cfg

	// Follow settings changed by other processes.
	subCtx, stopSub := context.WithCancel(context.Background())
	defer stopSub()
	go func() {
		if err := a.settings.SubscribeToChanges(subCtx); err != nil && subCtx.Err() == nil {
			logger.Errorf("Config change subscription ended: %v", err)
		}
	}()

	taskClient := tasks.NewClient(a.rdb)
	defer taskClient.Close()

	notifier, err := notify.New(cfg, taskClient, a.users)
	if err != nil {
		return err
	}
	defer notifier.Close()

	processor := tasks.NewTaskProcessor(cfg, tasks.Deps{
		Sender:    a.emailSender(),
		Storage:   a.storage,
		Templates: a.templates,
		Projects:  a.projects,
		Requests:  a.requests,
		Billing:   a.billing,
		Users:     a.users,
		Settings:  a.settings,
		Enqueuer:  taskClient,
	})

	var wg sync.WaitGroup
	fatal := make(chan error, 4)
	shutdownChan := make(chan struct{}, 1)

	serviceSrv := &http.Server{
		Addr:    ":" + cfg.ServiceApiPort,
		Handler: api.SetupServiceRouter(cfg, a.rdb, shutdownChan),
	}
	startHTTP(&wg, fatal, "Service API", serviceSrv)

	logger.Infof("Starting application in '%s' mode", runMode)

	var mainApiSrv *http.Server
	var stopRateLimiter func()
	if runMode == "api" || runMode == "all" {
		router, stop := api.SetupRouter(cfg, api.Deps{
			Sessions:  session.NewManager(a.rdb, cfg.JwtSecret, cfg.JwtTTL, a.users),
			Drafts:    wizard.NewDraftStore(a.rdb, cfg.WizardDraftTTL),
			Notifier:  notifier,
			Hub:       handlers.HubSubscriber{Hub: a.hub},
			Requests:  a.requests,
			Projects:  a.projects,
			Messages:  a.messages,
			Users:     a.users,
			Actions:   a.actions,
			Billing:   a.billing,
			Templates: a.templates,
			Settings:  a.settings,
			Storage:   a.storage,
			Tasks:     taskClient,
			Captcha:   captcha.NewTurnstileVerifier(cfg),
		})
		stopRateLimiter = stop
		mainApiSrv = &http.Server{Addr: ":" + cfg.ApiPort, Handler: router}
		startHTTP(&wg, fatal, "Main API", mainApiSrv)
	}

	bgWorker := runMode == "bg" || runMode == "all"
	imgWorker := runMode == "img" || runMode == "all"
	taskSrv, mux := tasks.SetupServer(a.rdb, processor, bgWorker, imgWorker)
	if taskSrv != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.Infof("Task server starting")
			if err := taskSrv.Run(mux); err != nil {
				fatal <- fmt.Errorf("task server: %w", err)
			}
		}()
	}

	var sched *scheduler.Scheduler
	if bgWorker {
		sched, err = scheduler.New(cfg, taskClient)
		if err != nil {
			return err
		}
		sched.Start()
	}

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-quit:
		logger.Infof("Received signal %s, shutting down", sig)
	case <-shutdownChan:
		logger.Infof("Shutdown requested via Service API")
	case runErr = <-fatal:
		logger.Errorf("Shutting down after failure: %v", runErr)
	}

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()

	if sched != nil {
		sched.Stop()
	}
	if mainApiSrv != nil {
		if err := mainApiSrv.Shutdown(ctxShutdown); err != nil {
			logger.Errorf("Main API server shutdown error: %v", err)
		}
		stopRateLimiter()
	}
	if taskSrv != nil {
		taskSrv.Shutdown()
	}
	if err := serviceSrv.Shutdown(ctxShutdown); err != nil {
		logger.Errorf("Service API server shutdown error: %v", err)
	}

	wg.Wait()
	logger.Infof("Server gracefully stopped")
	return runErr
}

func startHTTP(wg *sync.WaitGroup, fatal chan<- error, name string, srv *http.Server) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Infof("%s listening on %s", name, srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fatal <- fmt.Errorf("%s: %w", name, err)
		}
	}()
}
