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

	"github.com/koopa0/system-design/14-spawn-relay/internal"
	"github.com/koopa0/system-design/14-spawn-relay/pkg/logger"
)

func main() {
	// 解析命令行參數（覆蓋配置檔）
	var (
		configPath = flag.String("config", "config.yaml", "配置檔路徑")
		port       = flag.Int("port", 0, "服務器端口（0 = 使用配置檔）")
		logLevel   = flag.String("log-level", "", "日誌級別 (debug, info, warn, error)")
		logFormat  = flag.String("log-format", "", "日誌格式 (text, json)")
	)
	flag.Parse()

	cfg, err := internal.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	// 設置日誌（debug 模式顯示源碼位置）
	log, err := logger.New(cfg.Log.Level, cfg.Log.Format, cfg.Log.Output, cfg.Log.Level == "debug")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(log)

	settings := cfg.Settings()

	// 房間生命週期事件（可選）
	var publisher internal.Publisher = internal.NopPublisher{}
	if cfg.NATS.URL != "" {
		natsPublisher, err := internal.NewNATSPublisher(cfg.NATS.URL, cfg.NATS.SubjectPrefix, log)
		if err != nil {
			log.Error("NATS 連線失敗，停用生命週期事件", "error", err)
		} else {
			publisher = natsPublisher
			log.Info("已連線到 NATS", "url", cfg.NATS.URL, "prefix", cfg.NATS.SubjectPrefix)
		}
	}
	defer publisher.Close()

	registry := internal.NewRegistry(settings, log)
	relay := internal.NewRelay(registry, settings, publisher, log)
	wsHub := internal.NewWebSocketHub(relay, cfg, log)
	handler := internal.NewHandler(registry, settings, wsHub, log)

	// 設置路由
	mux := http.NewServeMux()
	mux.Handle("/", handler.Routes())
	mux.HandleFunc("/ws", wsHub.ServeWS)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("出兵轉發服務器啟動",
			"port", cfg.Server.Port,
			"canvas", fmt.Sprintf("%vx%v", settings.CanvasWidth, settings.CanvasHeight),
			"entity_size", settings.EntitySize,
			"spawn_cooldown", settings.SpawnCooldown)
		serverErrors <- server.ListenAndServe()
	}()

	// 等待中斷信號
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Error("服務器啟動失敗", "error", err)
			os.Exit(1)
		}
	case sig := <-sigChan:
		log.Info("收到關閉信號，開始優雅關閉...", "signal", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// 停止接受新連接
	if err := server.Shutdown(ctx); err != nil {
		log.Error("服務器關閉失敗", "error", err)
	}

	// 關閉所有 WebSocket 連線（房間在斷線處理中清空）
	wsHub.Stop()

	log.Info("服務器已關閉", "rooms_lost", registry.Len())
}
