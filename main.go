package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"i4.energy/across/modemchat/modem"
)

func main() {
	flag.String("serial-port", "/dev/ttyUSB0", "Serial port to connect to the modem")
	flag.Int("baud-rate", 115200, "Baud rate for serial communication")
	flag.String("bind-address", "0.0.0.0:8080", "Bind address for the HTTP server")
	flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.String("scripts", "scripts.yaml", "Script book file")
	flag.String("init-script", "", "Script to run once the modem is attached")
	flag.Int("rate-per-min", 30, "Maximum script runs per minute over HTTP")
	flag.String("mqtt-broker", "", "MQTT broker for unsolicited events (e.g. tcp://localhost:1883)")
	flag.String("mqtt-topic", "modem/events", "MQTT topic prefix for unsolicited events")
	flag.Parse()

	config, err := LoadConfig(WithDefaults(), WithEnv(), WithFlags(flag.CommandLine))
	if err == nil {
		err = config.Validate()
	}
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(config.LogLevel)}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, config, logger); err != nil {
		logger.Error("Modem chat daemon failed", "error", err)
		os.Exit(1)
	}
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func run(ctx context.Context, config *Config, logger *slog.Logger) error {
	book, err := LoadBook(config.ScriptsFile)
	if err != nil {
		return err
	}
	if config.InitScript != "" {
		if _, ok := book.Scripts[config.InitScript]; !ok {
			return fmt.Errorf("init script: %w: %q", ErrUnknownScript, config.InitScript)
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := modem.NewMetrics(registry)

	var publisher Publisher = LogPublisher{Logger: logger.With("component", "events")}
	if config.MQTTBroker != "" {
		client, err := ConnectMQTT(ctx, config, logger.With("component", "mqtt"))
		if err != nil {
			return err
		}
		defer client.Disconnect(250)
		publisher = NewMQTTPublisher(client, config.MQTTTopic, logger.With("component", "mqtt"))
	}

	chatConfig, err := modem.NewConfigBuilder().
		WithUnsolicited(book.Unsolicited(publisher)).
		WithLogger(logger).
		WithMetrics(metrics).
		Build()
	if err != nil {
		return err
	}
	chat, err := modem.New(chatConfig)
	if err != nil {
		return err
	}

	dialer := modem.SerialDialer{
		PortName: config.SerialPort,
		BaudRate: config.BaudRate,
	}
	transport, err := dialer.Dial(ctx)
	if err != nil {
		return err
	}
	defer transport.Close()

	g, gctx := errgroup.WithContext(ctx)

	if err := chat.Attach(gctx, transport); err != nil {
		return err
	}
	defer chat.Detach()
	logger.Info("Modem attached", "port", config.SerialPort, "baud_rate", config.BaudRate)

	if config.InitScript != "" {
		script, err := book.Script(config.InitScript, nil)
		if err != nil {
			return err
		}
		result, err := chat.RunWait(gctx, script)
		if err != nil {
			return fmt.Errorf("init script %q: %w", config.InitScript, err)
		}
		if result != modem.ResultSuccess {
			return fmt.Errorf("init script %q finished with %v", config.InitScript, result)
		}
		logger.Info("Init script completed", "script", config.InitScript)
	}

	httpServer := &http.Server{
		Addr: config.BindAddress,
		Handler: &Server{
			Logger:   logger.With("component", "server"),
			Chat:     chat,
			Book:     book,
			Limiter:  rate.NewLimiter(rate.Every(time.Minute/time.Duration(config.RatePerMin)), config.RatePerMin),
			Gatherer: registry,
			Token:    config.HTTPToken,
		},
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		logger.Info("Starting HTTP server", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})

	modemDone := chat.Done()
	g.Go(func() error {
		select {
		case <-modemDone:
			return fmt.Errorf("modem %s: %w", config.SerialPort, chat.Err())
		case <-gctx.Done():
			return nil
		}
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown HTTP server: %w", err)
		}
		return nil
	})

	return g.Wait()
}
