package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"

	"github.com/buildforge/requestd/modules/workflow/domain/action"
	backendhttp "github.com/buildforge/requestd/modules/workflow/infrastructure/backend"
	"github.com/buildforge/requestd/modules/workflow/infrastructure/persistence"
	"github.com/buildforge/requestd/modules/workflow/presentation/controllers"
	"github.com/buildforge/requestd/modules/workflow/services"
	"github.com/buildforge/requestd/pkg/composables"
	"github.com/buildforge/requestd/pkg/configuration"
	"github.com/buildforge/requestd/pkg/constants"
	"github.com/buildforge/requestd/pkg/eventbus"
	"github.com/buildforge/requestd/pkg/metrics"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			configuration.Use().Unload()
			log.Println(r)
			debug.PrintStack()
			os.Exit(1)
		}
	}()

	conf := configuration.Use()
	logger := conf.Logger()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()
	pool, err := pgxpool.New(ctx, conf.Database.Opts)
	if err != nil {
		panic(err)
	}
	defer pool.Close()

	bus := eventbus.NewEventPublisher(logger)

	targets := persistence.NewTargetRepository()
	relationships := persistence.NewRelationshipRepository()
	users := persistence.NewUserRepository()
	requests := persistence.NewRequestRepository()

	backendClient := backendhttp.NewClient(conf.Backend.URL, conf.Backend.RequestTimeout, logger)

	perms := services.NewPermissionService(targets, relationships, users)
	reviewers := services.NewReviewerService(targets, relationships, users, perms)
	pipeline := services.NewMaintenanceService(targets, backendClient, logger)

	var cache *services.ForbiddenProjectsCache
	if conf.CacheEnabled {
		rdb := redis.NewClient(&redis.Options{Addr: conf.RedisURL})
		cache = services.NewForbiddenProjectsCache(rdb, perms, bus, logger)
		logger.Info("forbidden-project cache enabled")
	}

	requestService := services.NewRequestService(services.RequestServiceOptions{
		Requests:    requests,
		Env:         &action.Env{Targets: targets, Relationships: relationships, Users: users, Backend: backendClient},
		Permissions: perms,
		Reviewers:   reviewers,
		Pipeline:    pipeline,
		Bus:         bus,
		Cache:       cache,
		DiffTimeout: conf.Backend.DiffTimeout,
	})

	router := mux.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := uuid.New().String()
			w.Header().Set("X-Request-Id", requestID)
			ctx := composables.WithPool(r.Context(), pool)
			ctx = context.WithValue(ctx, constants.LoggerKey, logger.WithField("request_id", requestID))
			ctx = context.WithValue(ctx, constants.RequestStart, time.Now())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})

	controllers.NewRequestAPIController(requestService, users, logger).Register(router)
	if conf.Prometheus.Enabled {
		metrics.NewPrometheusController(conf.Prometheus.Path).Register(router)
	}

	handler := cors.New(cors.Options{
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type", "X-Login"},
	}).Handler(gziphandler.GzipHandler(router))

	srv := &http.Server{
		Addr:         conf.SocketAddress,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute,
	}

	go func() {
		logger.Infof("listening on %s", conf.SocketAddress)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("graceful shutdown failed")
	}
	configuration.Use().Unload()
}
