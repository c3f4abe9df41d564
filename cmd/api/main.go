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

	"cloud.google.com/go/pubsub"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/orderdesk/api/internal/events"
	"github.com/orderdesk/api/internal/handlers"
	"github.com/orderdesk/api/internal/platform/config"
	pfirestore "github.com/orderdesk/api/internal/platform/firestore"
	"github.com/orderdesk/api/internal/platform/observability"
	"github.com/orderdesk/api/internal/remote"
	firestoreRepo "github.com/orderdesk/api/internal/repositories/firestore"
	"github.com/orderdesk/api/internal/services"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	cfg, err := config.Load(ctx)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	if _, err := firestoreProvider.Client(ctx); err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := firestoreProvider.Close(closeCtx); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}()

	registry, err := firestoreRepo.NewRegistry(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise repositories", zap.Error(err))
	}

	customerClient, err := remote.NewCustomerClient(cfg.Gateways.CustomerServiceURL,
		remote.WithCustomerTimeout(cfg.Gateways.Timeout),
		remote.WithCustomerRetries(cfg.Gateways.MaxRetries),
	)
	if err != nil {
		logger.Fatal("failed to initialise customer gateway", zap.Error(err))
	}
	productClient, err := remote.NewProductClient(cfg.Gateways.ProductServiceURL,
		remote.WithProductTimeout(cfg.Gateways.Timeout),
		remote.WithProductRetries(cfg.Gateways.MaxRetries),
	)
	if err != nil {
		logger.Fatal("failed to initialise product gateway", zap.Error(err))
	}

	pubsubClient, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		logger.Fatal("failed to initialise pubsub client", zap.Error(err))
	}
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logger.Warn("pubsub close error", zap.Error(err))
		}
	}()

	ordersTopic := pubsubClient.Topic(cfg.PubSub.OrdersTopic)
	defer ordersTopic.Stop()

	eventPublisher, err := events.NewPubSubOrderPublisher(ordersTopic)
	if err != nil {
		logger.Fatal("failed to initialise event publisher", zap.Error(err))
	}

	orderService, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:           registry.Orders(),
		Invoices:         registry.Invoices(),
		Customers:        customerClient,
		Products:         productClient,
		Clock:            func() time.Time { return time.Now().UTC() },
		IDGenerator:      func() string { return ulid.Make().String() },
		Events:           eventPublisher,
		Logger:           zapEventLogger(logger.Named("orders")),
		InvoiceTaxRate:   cfg.Invoicing.TaxRate,
		InvoiceDueInDays: cfg.Invoicing.DueInDays,
	})
	if err != nil {
		logger.Fatal("failed to initialise order service", zap.Error(err))
	}

	invoiceService, err := services.NewInvoiceService(services.InvoiceServiceDeps{
		Invoices: registry.Invoices(),
		Clock:    func() time.Time { return time.Now().UTC() },
		Logger:   zapEventLogger(logger.Named("invoices")),
	})
	if err != nil {
		logger.Fatal("failed to initialise invoice service", zap.Error(err))
	}

	orderHandlers := handlers.NewOrderHandlers(orderService,
		handlers.WithOrderPageLimits(cfg.Listing.DefaultPageSize, cfg.Listing.MaxPageSize),
	)
	invoiceHandlers := handlers.NewInvoiceHandlers(invoiceService,
		handlers.WithInvoicePageLimits(cfg.Listing.DefaultPageSize, cfg.Listing.MaxPageSize),
	)

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthVersion(buildVersion(), buildEnvironment()),
		handlers.WithReadinessCheck("firestore", func(ctx context.Context) error {
			_, err := firestoreProvider.Client(ctx)
			return err
		}),
	)

	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(),
		observability.RequestLoggerMiddleware(),
	}

	router := handlers.NewRouter(
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithInvoiceRoutes(invoiceHandlers.Routes),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("orderdesk api listening", zap.Duration("boot", time.Since(startedAt)))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func zapEventLogger(logger *zap.Logger) func(ctx context.Context, event string, fields map[string]any) {
	return func(_ context.Context, event string, fields map[string]any) {
		zFields := make([]zap.Field, 0, len(fields))
		for k, v := range fields {
			zFields = append(zFields, zap.Any(k, v))
		}
		logger.Info(event, zFields...)
	}
}

func buildVersion() string {
	if v := os.Getenv("API_BUILD_VERSION"); v != "" {
		return v
	}
	return "dev"
}

func buildEnvironment() string {
	if v := os.Getenv("API_ENVIRONMENT"); v != "" {
		return v
	}
	return "local"
}
