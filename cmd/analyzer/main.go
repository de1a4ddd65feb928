package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ccall48/lorawan-analyzer/internal/api"
	"github.com/ccall48/lorawan-analyzer/internal/broadcast"
	"github.com/ccall48/lorawan-analyzer/internal/config"
	"github.com/ccall48/lorawan-analyzer/internal/integration"
	"github.com/ccall48/lorawan-analyzer/internal/mqttclient"
	"github.com/ccall48/lorawan-analyzer/internal/operators"
	"github.com/ccall48/lorawan-analyzer/internal/pipeline"
	"github.com/ccall48/lorawan-analyzer/internal/session"
	"github.com/ccall48/lorawan-analyzer/internal/storage"
	"github.com/ccall48/lorawan-analyzer/internal/telemetry"
	"github.com/ccall48/lorawan-analyzer/internal/writer"
)

const (
	// shutdownTimeout bounds queue drain and the final batch flush.
	shutdownTimeout = 10 * time.Second

	// primeDeviceMax caps how many known devices seed the live caches.
	primeDeviceMax = 10000
)

func main() {
	// 命令行参数
	var configPath = flag.String("config", "config/analyzer.yml", "Configuration file path")
	var validateOnly = flag.Bool("validate", false, "Validate configuration and exit")
	flag.Parse()

	// 设置日志
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// 加载配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("config_path", *configPath).Msg("Failed to load configuration")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warn().Str("level", cfg.LogLevel).Msg("Invalid log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if *validateOnly {
		fmt.Println("configuration OK")
		return
	}

	log.Info().
		Str("config_path", *configPath).
		Int("brokers", len(cfg.Brokers())).
		Msg("LoRaWAN analyzer starting")

	telemetry.InitMetrics()

	// 连接数据库
	store, err := storage.NewPostgresStore(cfg.Postgres, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := store.EnsureSchema(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to prepare database schema")
	}

	// 运营商规则：内置表 + 配置（数据库自定义随 API 启动时合并）
	rules, colors, err := operators.BuildRules(cfg.Operators, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid operator rules in configuration")
	}
	matcher := operators.NewMatcher(rules, colors)

	tracker := session.NewTracker(cfg.Session.InactivityWindow.Std(), log.Logger)
	tracker.Start(ctx, cfg.Session.SweepInterval.Std())

	bcast := broadcast.New(log.Logger)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		bcast.Run(ctx)
	}()

	// 用已知网关和设备预热直播缓存
	gws, err := store.ListGateways(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to preload gateways")
	}
	devs, _, err := store.ListCsDevices(ctx, primeDeviceMax, 0)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to preload devices")
	}
	bcast.Prime(gws, devs)

	wr := writer.New(store, cfg.Writer, log.Logger)
	wr.OnGateway(bcast.SetGateway)
	wr.OnCsDevice(bcast.SetCsDevice)
	wr.Start()

	pipe := pipeline.New(matcher, tracker, wr, bcast, log.Logger)
	pipe.Start()

	// MQTT 连接（支持多 broker）
	brokers := cfg.Brokers()
	if len(brokers) == 0 {
		log.Warn().Msg("No MQTT brokers configured, serving stored data only")
	}
	var clients []*mqttclient.Client
	for _, brokerCfg := range brokers {
		client := mqttclient.New(brokerCfg, pipe, log.Logger)
		if err := client.Start(); err != nil {
			log.Fatal().Err(err).Str("server", brokerCfg.Server).Msg("Failed to connect to MQTT broker")
		}
		clients = append(clients, client)
	}

	// NATS 转发是可选的
	var (
		nc        *nats.Conn
		forwarder *integration.Forwarder
	)
	if cfg.Integration.NATS.URL != "" {
		nc, err = nats.Connect(cfg.Integration.NATS.URL,
			nats.Name("lorawan-analyzer"),
			nats.ReconnectWait(2*time.Second),
			nats.MaxReconnects(-1),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				log.Warn().Err(err).Msg("Disconnected from NATS")
			}),
			nats.ReconnectHandler(func(_ *nats.Conn) {
				log.Info().Msg("Reconnected to NATS")
			}),
		)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to connect to NATS, continuing without forwarding")
		} else {
			forwarder = integration.New(nc, bcast, cfg.Integration.NATS.SubjectPrefix, log.Logger)
			forwarder.Start()
			log.Info().Str("url", cfg.Integration.NATS.URL).Msg("NATS forwarding enabled")
		}
	}

	// REST + WebSocket
	apiServer := api.New(cfg, store, matcher, bcast, log.Logger)
	if err := apiServer.ReloadOperators(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to load custom operators")
	}
	if err := apiServer.ReloadHideRules(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to load hide rules")
	}

	go func() {
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("API server failed")
		}
	}()

	// 等待退出信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("Received signal, shutting down")

	// 关闭顺序：先停进流，再排空队列，最后刷库
	for _, client := range clients {
		client.Stop()
	}

	drainCtx, drainCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer drainCancel()

	if err := pipe.Stop(drainCtx); err != nil {
		log.Warn().Err(err).Msg("Pipeline drain timed out")
	}
	if err := wr.Stop(drainCtx); err != nil {
		log.Warn().Err(err).Msg("Writer flush incomplete")
	}

	if err := apiServer.Shutdown(drainCtx); err != nil {
		log.Error().Err(err).Msg("Failed to shutdown API server gracefully")
	}

	if forwarder != nil {
		forwarder.Stop()
	}
	if nc != nil {
		nc.Close()
	}

	cancel()
	wg.Wait()

	log.Info().Msg("Analyzer stopped")
}
