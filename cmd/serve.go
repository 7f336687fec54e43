package cmd

import (
	"context"
	"database/sql"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/vibast-solutions/ms-go-pay-ledger/app/connector"
	"github.com/vibast-solutions/ms-go-pay-ledger/app/controller"
	"github.com/vibast-solutions/ms-go-pay-ledger/app/entity"
	"github.com/vibast-solutions/ms-go-pay-ledger/app/feedback"
	ledgergrpc "github.com/vibast-solutions/ms-go-pay-ledger/app/grpc"
	"github.com/vibast-solutions/ms-go-pay-ledger/app/repository"
	"github.com/vibast-solutions/ms-go-pay-ledger/app/service"
	"github.com/vibast-solutions/ms-go-pay-ledger/app/types"
	"github.com/vibast-solutions/ms-go-pay-ledger/config"

	_ "github.com/go-sql-driver/mysql"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP and gRPC servers",
	Long:  "Start both HTTP (Echo) and gRPC servers for the pay ledger.",
	Run:   runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// dropFolder is where settlement feedback arrives and journal files leave.
type dropFolder interface {
	feedback.Source
	connector.FileSink
}

type ledger struct {
	invoices   *service.InvoiceService
	accounts   *service.AccountService
	reconciler *service.Reconciler
	events     *service.EventDispatcher
	drop       dropFolder
}

func runServe(_ *cobra.Command, _ []string) {
	cfg, l, cleanup := mustCreateLedger()
	defer cleanup()

	ledgerController := controller.NewLedgerController(l.invoices, l.accounts, l.reconciler)
	grpcLedgerServer := ledgergrpc.NewServer(l.invoices, l.accounts)

	e := setupHTTPServer(ledgerController)
	grpcSrv, lis := setupGRPCServer(cfg, grpcLedgerServer)

	go func() {
		httpAddr := net.JoinHostPort(cfg.HTTP.Host, cfg.HTTP.Port)
		logrus.WithField("addr", httpAddr).Info("Starting HTTP server")
		if err := e.Start(httpAddr); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("HTTP server error")
		}
	}()

	go func() {
		logrus.WithField("addr", lis.Addr().String()).Info("Starting gRPC server")
		if err := grpcSrv.Serve(lis); err != nil {
			logrus.WithError(err).Fatal("gRPC server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logrus.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("HTTP shutdown error")
	}
	grpcSrv.GracefulStop()

	logrus.Info("Server stopped")
}

func setupHTTPServer(ledgerController *controller.LedgerController) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	e.Use(echomiddleware.RequestLoggerWithConfig(echomiddleware.RequestLoggerConfig{
		LogURI:       true,
		LogStatus:    true,
		LogMethod:    true,
		LogRemoteIP:  true,
		LogLatency:   true,
		LogUserAgent: true,
		LogError:     true,
		HandleError:  true,
		LogRequestID: true,
		LogValuesFunc: func(_ echo.Context, v echomiddleware.RequestLoggerValues) error {
			fields := logrus.Fields{
				"remote_ip":  v.RemoteIP,
				"host":       v.Host,
				"method":     v.Method,
				"uri":        v.URI,
				"status":     v.Status,
				"latency":    v.Latency.String(),
				"latency_ns": v.Latency.Nanoseconds(),
				"user_agent": v.UserAgent,
			}
			if v.RequestID != "" {
				fields["request_id"] = v.RequestID
			}
			entry := logrus.WithFields(fields)
			if v.Error != nil {
				entry = entry.WithError(v.Error)
			}
			entry.Info("http_request")
			return nil
		},
	}))
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORS())
	e.Use(requireRequestID())

	e.GET("/health", ledgerController.Health)

	accounts := e.Group("/accounts")
	accounts.POST("", ledgerController.CreateAccount)
	accounts.GET("/:id", ledgerController.GetAccount)

	invoices := e.Group("/invoices")
	invoices.POST("", ledgerController.CreateInvoice)
	invoices.GET("", ledgerController.ListInvoices)
	invoices.GET("/:id", ledgerController.GetInvoice)
	invoices.POST("/:id/transitions", ledgerController.TransitionInvoice(""))
	invoices.POST("/:id/approve", ledgerController.TransitionInvoice(entity.TriggerApprove))
	invoices.POST("/:id/void", ledgerController.TransitionInvoice(entity.TriggerVoid))
	invoices.POST("/:id/credit", ledgerController.TransitionInvoice(entity.TriggerCredit))
	invoices.POST("/:id/refund-request", ledgerController.TransitionInvoice(entity.TriggerRequestRefund))
	invoices.POST("/:id/partial-cancel", ledgerController.PartialCancel)

	receipts := e.Group("/receipts")
	receipts.POST("", ledgerController.CreateReceipt)
	receipts.GET("/:id", ledgerController.GetReceipt)
	receipts.POST("/:id/apply", ledgerController.ApplyReceipt)
	receipts.POST("/:id/unapply", ledgerController.UnapplyReceipt)

	slips := e.Group("/routing-slips")
	slips.POST("", ledgerController.CreateRoutingSlip)
	slips.GET("/:number", ledgerController.GetRoutingSlip)
	slips.POST("/:number/status", ledgerController.ChangeRoutingSlipStatus)
	slips.POST("/:number/link", ledgerController.LinkRoutingSlip)

	webhooks := e.Group("/webhooks")
	webhooks.POST("/paybc", ledgerController.HandlePayBCNotification)

	return e
}

// requireRequestID guards the API routes. Health checks and PayBC webhooks
// do not carry a request id.
func requireRequestID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			path := ctx.Request().URL.Path
			if path == "/health" || strings.HasPrefix(path, "/webhooks/") {
				return next(ctx)
			}
			requestID := strings.TrimSpace(ctx.Request().Header.Get(echo.HeaderXRequestID))
			if requestID == "" {
				return ctx.JSON(http.StatusBadRequest, &types.ErrorResponse{Error: "x-request-id header is required"})
			}
			ctx.Response().Header().Set(echo.HeaderXRequestID, requestID)
			return next(ctx)
		}
	}
}

func setupGRPCServer(cfg *config.Config, ledgerServer *ledgergrpc.Server) (*grpc.Server, net.Listener) {
	grpcAddr := net.JoinHostPort(cfg.GRPC.Host, cfg.GRPC.Port)
	lis, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to listen on gRPC port")
	}

	grpcSrv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			ledgergrpc.RecoveryInterceptor(),
			ledgergrpc.RequestIDInterceptor(),
			ledgergrpc.LoggingInterceptor(),
		),
	)
	ledgergrpc.RegisterLedgerServiceServer(grpcSrv, ledgerServer)

	return grpcSrv, lis
}

func mustCreateLedger() (*config.Config, *ledger, func()) {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	if err := configureLogging(cfg); err != nil {
		logrus.WithError(err).Fatal("Failed to configure logging")
	}

	db, err := sql.Open("mysql", cfg.MySQL.DSN)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to connect to database")
	}

	db.SetMaxOpenConns(cfg.MySQL.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MySQL.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.MySQL.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		logrus.WithError(err).Fatal("Failed to ping database")
	}

	drop, err := newDropFolder(cfg.SFTP)
	if err != nil {
		_ = db.Close()
		logrus.WithError(err).Fatal("Failed to configure drop folder")
	}

	tx := repository.NewTransactor(db)
	repos := service.Repositories{
		Accounts:     repository.NewAccountRepository(db),
		Invoices:     repository.NewInvoiceRepository(db),
		Receipts:     repository.NewReceiptRepository(db),
		RoutingSlips: repository.NewRoutingSlipRepository(db),
		Settlements:  repository.NewSettlementRepository(db),
		Events:       repository.NewInvoiceEventRepository(db),
		Reviews:      repository.NewReviewItemRepository(db),
		Statements:   repository.NewStatementRepository(db),
	}

	connectors := newConnectorRegistry(cfg, drop)
	invoiceService := service.NewInvoiceService(tx, repos, connectors, cfg.Ledger)
	accountService := service.NewAccountService(tx, repos, connectors, cfg.Ledger)
	reconciler := service.NewReconciler(tx, repos, invoiceService, cfg.Ledger, cfg.PayBC)
	dispatcher := service.NewEventDispatcher(repos, cfg.Events, cfg.App.APIKey)

	cleanup := func() {
		if err := db.Close(); err != nil {
			logrus.WithError(err).Warn("Failed to close database")
		}
	}

	return cfg, &ledger{
		invoices:   invoiceService,
		accounts:   accountService,
		reconciler: reconciler,
		events:     dispatcher,
		drop:       drop,
	}, cleanup
}

func newDropFolder(cfg config.SFTPConfig) (dropFolder, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return feedback.NewDirSource(cfg.InboxDir, cfg.ArchiveDir, cfg.OutboxDir), nil
	}
	return feedback.NewSFTPSource(feedback.SFTPConfig{
		Host:           cfg.Host,
		Port:           cfg.Port,
		User:           cfg.User,
		Password:       cfg.Password,
		PrivateKeyPath: cfg.PrivateKeyPath,
		KeyPassphrase:  cfg.KeyPassphrase,
		HostKey:        cfg.HostKey,
		InboxDir:       cfg.InboxDir,
		ArchiveDir:     cfg.ArchiveDir,
		OutboxDir:      cfg.OutboxDir,
		Timeout:        cfg.Timeout,
	})
}

func newConnectorRegistry(cfg *config.Config, sink connector.FileSink) *connector.Registry {
	policy := connector.RetryPolicy{
		MaxAttempts:     cfg.Retry.MaxAttempts,
		InitialInterval: cfg.Retry.InitialInterval,
		MaxInterval:     cfg.Retry.MaxInterval,
		Multiplier:      cfg.Retry.Multiplier,
		AttemptTimeout:  cfg.Retry.AttemptTimeout,
		RatePerSecond:   cfg.Retry.RatePerSecond,
		Burst:           cfg.Retry.Burst,
	}
	logger := logrus.WithField("module", "connector")

	cfs := connector.NewCFSConnector(connector.CFSConfig{
		BaseURL: cfg.CFS.BaseURL,
		OAuth: connector.OAuthConfig{
			ClientID:     cfg.CFS.ClientID,
			ClientSecret: cfg.CFS.ClientSecret,
			TokenURL:     cfg.CFS.TokenURL,
		},
		HTTPTimeout: cfg.CFS.HTTPTimeout,
		BatchSource: cfg.CFS.BatchSource,
	})
	bcol := connector.NewBCOLConnector(connector.BCOLConfig{
		URL:         cfg.BCOL.URL,
		UserID:      cfg.BCOL.UserID,
		Password:    cfg.BCOL.Password,
		HTTPTimeout: cfg.BCOL.HTTPTimeout,
	})
	paybc := connector.NewPayBCConnector(connector.PayBCConfig{
		BaseURL: cfg.PayBC.BaseURL,
		OAuth: connector.OAuthConfig{
			ClientID:     cfg.PayBC.ClientID,
			ClientSecret: cfg.PayBC.ClientSecret,
			TokenURL:     cfg.PayBC.TokenURL,
		},
		HTTPTimeout: cfg.PayBC.HTTPTimeout,
	})
	ejv := connector.NewEJVConnector(connector.EJVConfig{
		FeederNumber: cfg.EJV.FeederNumber,
		Ministry:     cfg.EJV.Ministry,
		FilePrefix:   cfg.EJV.FilePrefix,
	}, sink)

	return connector.NewRegistry(
		connector.WithRetry(cfs, policy, logger),
		connector.WithRetry(bcol, policy, logger),
		connector.WithRetry(paybc, policy, logger),
		connector.WithRetry(ejv, policy, logger),
	)
}
