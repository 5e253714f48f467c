package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/tutoring-ledger-api/api/swagger"
	"github.com/noah-isme/tutoring-ledger-api/internal/handler"
	"github.com/noah-isme/tutoring-ledger-api/internal/middleware"
	"github.com/noah-isme/tutoring-ledger-api/internal/models"
	"github.com/noah-isme/tutoring-ledger-api/internal/repository"
	"github.com/noah-isme/tutoring-ledger-api/internal/service"
	"github.com/noah-isme/tutoring-ledger-api/migrations"
	"github.com/noah-isme/tutoring-ledger-api/pkg/cache"
	"github.com/noah-isme/tutoring-ledger-api/pkg/config"
	"github.com/noah-isme/tutoring-ledger-api/pkg/database"
	"github.com/noah-isme/tutoring-ledger-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/tutoring-ledger-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/tutoring-ledger-api/pkg/middleware/requestid"
)

// @title Tutoring Ledger API
// @version 1.0.0
// @description Attendance, payment and dashboard ledger for private tutors.
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("database connection failed", "error", err)
	}
	defer db.Close() //nolint:errcheck

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(ctx, db, migrations.FS); err != nil {
			logr.Sugar().Fatalw("database migration failed", "error", err)
		}
	}

	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		logr.Sugar().Fatalw("redis connection failed", "error", err)
	}
	if redisClient != nil {
		defer redisClient.Close() //nolint:errcheck
	}

	app := buildApp(cfg, logr, db, redisClient)
	if err := app.dispatcher.Start(ctx); err != nil {
		logr.Warn("ledger event replay failed", zap.Error(err))
	}

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           newRouter(cfg, logr, app),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Warn("http shutdown incomplete", zap.Error(err))
	}
	app.dispatcher.Stop(shutdownCtx)
}

type app struct {
	metrics        *service.MetricsService
	auth           *service.AuthService
	dispatcher     *service.EventDispatcher
	reconciliation *handler.ReconciliationHandler
	enrollments    *handler.EnrollmentHandler
	dashboard      *handler.DashboardHandler
	health         *handler.MetricsHandler
}

func buildApp(cfg *config.Config, logr *zap.Logger, db *sqlx.DB, redisClient *redis.Client) *app {
	validate := validator.New()
	loc := cfg.Ledger.Location()
	metrics := service.NewMetricsService()

	tx := database.NewTransactor(db)
	groups := repository.NewGroupRepository(db)
	prices := repository.NewPriceRepository(db)
	students := repository.NewStudentRepository(db)
	enrollments := repository.NewEnrollmentRepository(db)
	teacherEnrollments := repository.NewTeacherEnrollmentRepository(db)
	sessions := repository.NewSessionRepository(db)
	events := repository.NewLedgerEventRepository(db)
	rollups := repository.NewRollupRepository(db)

	cacheService := service.NewCacheService(
		repository.NewCacheRepository(redisClient, "ledger"),
		metrics,
		cfg.Dashboard.CacheTTL,
		logr,
		cfg.Dashboard.CacheEnabled && redisClient != nil,
	)

	var publisher interface {
		Publish(ctx context.Context, event models.LedgerEvent) error
	} = service.NewLogEventPublisher(logr)
	if cfg.Ledger.EventsPublish && redisClient != nil {
		publisher = repository.NewEventPublisher(redisClient, cfg.Ledger.EventChannel)
	}
	dispatcher := service.NewEventDispatcher(publisher, events, metrics, logr, service.EventDispatcherConfig{
		Workers:    cfg.Ledger.EventWorkers,
		MaxRetries: cfg.Ledger.EventRetries,
		RetryDelay: time.Second,
	})

	reconciliation := service.NewReconciliationService(service.ReconciliationServiceParams{
		Tx:                 tx,
		Groups:             groups,
		Prices:             prices,
		Students:           students,
		Enrollments:        enrollments,
		TeacherEnrollments: teacherEnrollments,
		Sessions:           sessions,
		Events:             events,
		Dispatcher:         dispatcher,
		Cache:              cacheService,
		Metrics:            metrics,
		Validator:          validate,
		Logger:             logr,
		Location:           loc,
	})
	enrollmentService := service.NewEnrollmentService(service.EnrollmentServiceParams{
		Tx:                 tx,
		Groups:             groups,
		Students:           students,
		Enrollments:        enrollments,
		TeacherEnrollments: teacherEnrollments,
		Sessions:           sessions,
		Prices:             prices,
		Events:             events,
		Dispatcher:         dispatcher,
		Cache:              cacheService,
		Validator:          validate,
		Logger:             logr,
		Location:           loc,
	})
	dashboardService := service.NewDashboardService(service.DashboardServiceParams{
		Rollups:   rollups,
		Prices:    prices,
		Cache:     cacheService,
		Validator: validate,
		Logger:    logr,
		Config: service.DashboardServiceConfig{
			CacheTTL: cfg.Dashboard.CacheTTL,
			Location: loc,
		},
	})
	exportService := service.NewExportService(dashboardService, validate, logr, nil, nil)

	return &app{
		metrics:        metrics,
		auth:           service.NewAuthService(logr, service.AuthConfig{AccessTokenSecret: cfg.JWT.Secret, Issuer: cfg.JWT.Issuer}),
		dispatcher:     dispatcher,
		reconciliation: handler.NewReconciliationHandler(reconciliation),
		enrollments:    handler.NewEnrollmentHandler(enrollmentService),
		dashboard:      handler.NewDashboardHandler(dashboardService, exportService),
		health:         handler.NewMetricsHandler(metrics, db, cacheService),
	}
}

func newRouter(cfg *config.Config, logr *zap.Logger, a *app) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(a.metrics))
	r.Use(middleware.WithResponseMeta())

	r.GET("/health", a.health.Health)
	r.GET("/ready", a.health.Ready)
	r.GET("/metrics", a.health.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.Use(middleware.JWT(a.auth), middleware.RequireRoles(models.RoleTeacher))

	groups := api.Group("/groups/:id")
	groups.POST("/attendance", a.reconciliation.MarkAttendance)
	groups.POST("/attendance/unmark", a.reconciliation.UnmarkAttendance)
	groups.POST("/absence", a.reconciliation.MarkAbsence)
	groups.POST("/absence/unmark", a.reconciliation.UnmarkAbsence)
	groups.POST("/payments", a.reconciliation.MarkPayment)
	groups.POST("/payments/unmark", a.reconciliation.UnmarkPayment)
	groups.POST("/enrollments", a.enrollments.Join)
	groups.DELETE("/enrollments/:studentId", a.enrollments.Remove)
	groups.GET("/enrollments/:studentId/sessions", a.enrollments.Sessions)

	api.GET("/dashboard", a.dashboard.Rollup)
	api.GET("/dashboard/export", a.dashboard.Export)

	return r
}
