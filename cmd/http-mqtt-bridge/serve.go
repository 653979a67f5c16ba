package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	mqttbridge "github.com/romanesko/http-mqtt-bridge"
	"github.com/romanesko/http-mqtt-bridge/health"
	"github.com/romanesko/http-mqtt-bridge/interceptors"
	"github.com/romanesko/http-mqtt-bridge/internal/api"
	"github.com/romanesko/http-mqtt-bridge/internal/config"
	"github.com/romanesko/http-mqtt-bridge/internal/rabbitmq"
	"github.com/romanesko/http-mqtt-bridge/messaging"
	"github.com/romanesko/http-mqtt-bridge/transports/memory"
	"github.com/romanesko/http-mqtt-bridge/transports/mqtt"
	rabbitmqTransport "github.com/romanesko/http-mqtt-bridge/transports/rabbitmq"
	"github.com/romanesko/http-mqtt-bridge/transports/redis"
)

const (
	warnGoroutines     = 5000
	criticalGoroutines = 20000
)

func serve(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := config.NewLogger(os.Stderr, cfg.Log)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	transport := newTransport(cfg, logger)
	metrics := api.NewMetrics()

	client, err := mqttbridge.NewClient(transport,
		mqttbridge.WithLogger(logger),
		mqttbridge.WithMetrics(metrics),
		mqttbridge.WithDefaultTimeout(cfg.Bridge.DefaultTimeout),
		mqttbridge.WithMaxTimeout(cfg.Bridge.MaxTimeout),
		mqttbridge.WithBreaker(cfg.Breaker.FailureThreshold, cfg.Breaker.Timeout),
		mqttbridge.WithInstrumentation(),
		mqttbridge.WithInterceptors(publishInterceptors(cfg.Publish, logger)...),
	)
	if err != nil {
		return fmt.Errorf("failed to create bridge: %w", err)
	}
	defer client.Close()

	if err := client.Start(ctx); err != nil {
		return err
	}

	checks := health.NewRegistry()
	checks.SetMetadata("version", version)
	checks.SetMetadata("transport", transport.Name())
	checks.Register(health.NewTransportChecker(transport))
	checks.Register(health.NewBreakerChecker(client.Breaker()))
	checks.Register(health.NewPendingChecker(client.Engine(), cfg.Health.PendingThreshold))
	checks.Register(health.NewMemoryChecker(warnGoroutines, criticalGoroutines))

	opts := []api.Option{
		api.WithSecret(cfg.HTTP.Secret),
		api.WithCORSOrigins(cfg.HTTP.CORSOrigins),
		api.WithMetrics(metrics),
		api.WithReadTimeout(cfg.HTTP.ReadTimeout),
		api.WithShutdownTimeout(cfg.HTTP.ShutdownTimeout),
	}
	if cfg.HTTP.Secret == "" && cfg.HTTP.AllowAnonymous {
		logger.Warn("HTTP_ALLOW_ANONYMOUS is set, requests are not authenticated")
		opts = append(opts, api.WithAnonymous())
	}

	server := api.NewServer(cfg.HTTP.Addr, client.Sender(), checks, logger, opts...)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(gctx)
	})

	return g.Wait()
}

func newTransport(cfg *config.Config, logger *slog.Logger) messaging.Transport {
	switch cfg.Transport {
	case config.TransportRabbitMQ:
		return rabbitmqTransport.NewTransport(cfg.RabbitMQ.URL,
			rabbitmqTransport.WithExchange(cfg.RabbitMQ.Exchange),
			rabbitmqTransport.WithLogger(logger),
			rabbitmqTransport.WithConnectionOptions(
				rabbitmq.WithLogger(logger),
				rabbitmq.WithMaxRetries(-1),
			),
		)
	case config.TransportRedis:
		return redis.NewTransport(redis.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, redis.WithLogger(logger))
	case config.TransportMemory:
		return memory.NewTransport()
	default:
		return mqtt.NewTransport(mqtt.Config{
			ServerURI: cfg.MQTT.ServerURI,
			ClientID:  mqttClientID(cfg.MQTT),
			Username:  cfg.MQTT.Username,
			Password:  cfg.MQTT.Password,
			QoS:       byte(cfg.MQTT.QoS),
		}, mqtt.WithLogger(logger))
	}
}

// mqttClientID appends a random suffix when several bridges share a broker,
// since the broker disconnects the older of two clients with the same id
func mqttClientID(cfg config.MQTT) string {
	if !cfg.ClientIDSuffix {
		return cfg.ClientID
	}
	return cfg.ClientID + "-" + uuid.NewString()[:8]
}

func publishInterceptors(cfg config.Publish, logger *slog.Logger) []interceptors.Interceptor {
	var list []interceptors.Interceptor

	if filter := interceptors.NewTopicFilter(cfg.AllowTopics, cfg.DenyTopics); !filter.Empty() {
		list = append(list, interceptors.NewFilteringInterceptor(filter))
	}
	if cfg.MaxPayload > 0 {
		list = append(list, interceptors.NewPayloadLimitInterceptor(cfg.MaxPayload))
	}

	return append(list,
		interceptors.NewTimeoutInterceptor(cfg.Timeout),
		interceptors.NewLoggingInterceptor(logger),
	)
}
