package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fiapx/fiapx-video-analysis/internal/app"
	"github.com/fiapx/fiapx-video-analysis/internal/infra/archive"
	"github.com/fiapx/fiapx-video-analysis/internal/infra/config"
	"github.com/fiapx/fiapx-video-analysis/internal/infra/email"
	"github.com/fiapx/fiapx-video-analysis/internal/infra/metrics"
	miniostorage "github.com/fiapx/fiapx-video-analysis/internal/infra/minio"
	"github.com/fiapx/fiapx-video-analysis/internal/infra/rabbitmq"
	"github.com/fiapx/fiapx-video-analysis/internal/infra/tracing"
	"github.com/fiapx/fiapx-video-analysis/internal/usecase"
	"github.com/fiapx/fiapx-video-analysis/pkg/logger"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	fatalOnErr(err, "load config")

	log, err := logger.New(cfg.LogLevel)
	fatalOnErr(err, "init logger")
	defer log.Sync()

	log.Info("starting fiapx-video-analysis worker", zap.String("api", cfg.APIBaseURL))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.JaegerEndpoint != "" {
		tp, err := tracing.InitTracer(ctx, tracing.Config{
			Endpoint:    cfg.JaegerEndpoint,
			ServiceName: "fiapx-video-analysis",
			SampleRatio: cfg.TraceSampleRatio,
		})
		if err != nil {
			log.Warn("tracing init failed, continuing without tracing", zap.Error(err))
		} else {
			defer tp.Shutdown(context.Background())
		}
	}

	// MinIO
	storage, err := miniostorage.NewStorage(miniostorage.StorageConfig{
		Endpoint:      cfg.MinIOEndpoint,
		AccessKey:     cfg.MinIOAccessKey,
		SecretKey:     cfg.MinIOSecretKey,
		UseSSL:        cfg.MinIOUseSSL,
		UploadBucket:  cfg.MinIOUploadBucket,
		ReportsBucket: cfg.MinIOReportsBucket,
	})
	fatalOnErr(err, "create minio storage")
	fatalOnErr(storage.EnsureBuckets(ctx), "ensure minio buckets")

	// RabbitMQ publisher connection
	rmqConn, err := amqp.Dial(cfg.RabbitMQURL)
	fatalOnErr(err, "connect to rabbitmq for publisher")
	defer rmqConn.Close()

	pub, err := rabbitmq.NewPublisher(rmqConn, cfg.RabbitMQExchange)
	fatalOnErr(err, "create rabbitmq publisher")
	defer pub.Close()

	statusPub := rabbitmq.NewStatusPublisher(pub)
	dlqPub := rabbitmq.NewDLQPublisher(pub, cfg.RabbitMQDLQ)

	// Analysis service client, run store and workflow
	wf, err := app.NewWorkflow(ctx, cfg, log, statusPub)
	fatalOnErr(err, "build workflow")
	defer wf.Close()

	notifier := email.NewSMTPNotifier(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPFrom, log)

	uc := usecase.NewRunAnalysisUseCase(
		wf.Workflow, storage, storage, archive.NewZipCreator(archive.WithMaxImageWidth(cfg.ArchiveMaxWidth)),
		statusPub, dlqPub, notifier,
		log,
		usecase.RunAnalysisConfig{
			TempDir: cfg.TempDir,
			OCR:     app.OCRDefaults(cfg),
		},
	)

	// Consumer (worker pool)
	consumer, err := rabbitmq.NewConsumer(rabbitmq.ConsumerConfig{
		URL:         cfg.RabbitMQURL,
		Queue:       cfg.RabbitMQRequestQueue,
		Exchange:    cfg.RabbitMQExchange,
		DLQ:         cfg.RabbitMQDLQ,
		StatusQueue: cfg.RabbitMQStatusQueue,
		Prefetch:    cfg.RabbitMQPrefetch,
		WorkerCount: cfg.WorkerCount,
		BaseDelayMs: cfg.RetryBaseDelayMs,
	}, uc.Execute, log)
	fatalOnErr(err, "create consumer")

	metricsSrv := metrics.StartMetricsServer(ctx, cfg.MetricsPort, log, map[string]metrics.HealthCheck{
		"minio":    storage.Ping,
		"rabbitmq": consumer.Ping,
		"analysis_api": func(ctx context.Context) error {
			_, err := wf.API.SystemInfo(ctx)
			return err
		},
	})

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Info("received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	}()

	log.Info("worker started, consuming messages", zap.String("queue", cfg.RabbitMQRequestQueue))

	if err := consumer.Start(ctx); err != nil {
		log.Error("consumer error", zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsSrv.Shutdown(shutdownCtx)

	consumer.Close()
	log.Info("fiapx-video-analysis worker stopped")
}

func fatalOnErr(err error, msg string) {
	if err != nil {
		panic(msg + ": " + err.Error())
	}
}
