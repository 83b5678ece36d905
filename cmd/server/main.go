package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"

	"crossbook/api/grpcserver"
	"crossbook/config"
	"crossbook/domain/orderbook"
	"crossbook/infra/kafka"
	"crossbook/infra/ledger"
	"crossbook/infra/metrics"
	"crossbook/jobs/broadcaster"
	"crossbook/service"
)

type closableLedger interface {
	orderbook.Ledger
	service.TradeSource
}

func main() {
	cfg := config.MustLoad()

	// ---------------- Logger ----------------

	logger := logrus.New()
	if cfg.Log.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		logger.WithError(err).Fatal("invalid log level")
	}
	logger.SetLevel(level)
	log := logger.WithField("env", cfg.Env)

	// ---------------- Ledger ----------------

	var store closableLedger
	switch cfg.Ledger.Driver {
	case "memory":
		store = ledger.NewMemory()
	default:
		p, err := ledger.Open(cfg.Ledger.Dir)
		if err != nil {
			log.WithError(err).Fatal("ledger init failed")
		}
		defer p.Close()
		store = p
	}

	// ---------------- Notifier ----------------

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var notifier orderbook.Notifier = broadcaster.NewLog(log)
	var bc *broadcaster.Broadcaster
	if cfg.Kafka.Enabled {
		trades, err := broadcaster.NewSyncProducer(cfg.Kafka.Brokers)
		if err != nil {
			log.WithError(err).Fatal("trade producer init failed")
		}
		prices := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.PriceTopic)

		bc = broadcaster.New(trades, prices, broadcaster.Config{
			Buffer:     cfg.Notifier.Buffer,
			TradeTopic: cfg.Kafka.TradeTopic,
		}, log)
		go bc.Run(ctx)
		notifier = bc
	}

	// ---------------- Metrics ----------------

	reg := prometheus.NewRegistry()
	engineMetrics := metrics.New(reg)
	if bc != nil {
		metrics.RegisterNotifier(reg, bc)
	}

	// ---------------- Domain ----------------

	book := orderbook.NewOrderBook(store, notifier,
		orderbook.WithLogger(log.WithField("component", "orderbook")),
		orderbook.WithPriceAlertThreshold(cfg.Engine.PriceAlertThreshold),
		orderbook.WithMetrics(engineMetrics),
	)
	mgr := service.NewOrderManager(book, store, log)

	// ---------------- HTTP (metrics) ----------------

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	httpSrv := &http.Server{Addr: cfg.Metrics.Address, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("metrics server exited")
		}
	}()

	// ---------------- gRPC ----------------

	lis, err := net.Listen("tcp", cfg.GRPC.Address)
	if err != nil {
		log.WithError(err).Fatal("listen failed")
	}

	grpcSrv := grpc.NewServer(grpc.UnaryInterceptor(grpcserver.UnaryLogger(log)))
	grpcserver.RegisterExchangeServer(grpcSrv, grpcserver.NewServer(mgr, book))

	go func() {
		<-ctx.Done()
		log.Info("shutting down")
		grpcSrv.GracefulStop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	log.WithFields(logrus.Fields{
		"grpc":    cfg.GRPC.Address,
		"metrics": cfg.Metrics.Address,
		"ledger":  cfg.Ledger.Driver,
		"kafka":   cfg.Kafka.Enabled,
	}).Info("crossbook engine running")

	if err := grpcSrv.Serve(lis); err != nil {
		log.WithError(err).Error("gRPC server exited")
	}
	stop()

	if bc != nil {
		<-bc.Done()
		if err := bc.Close(); err != nil {
			log.WithError(err).Warn("closing producers")
		}
	}
}
