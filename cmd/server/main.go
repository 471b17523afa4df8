package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/koopa0/game-lobby/internal"
)

// 啟動時固定的房間集合：之後不再變動（沒有動態建房路徑）。
var defaultRooms = []struct {
	name     string
	capacity int
}{
	{"Heck", 20},
	{"SeaOfNightmares", 20},
	{"MushroomKingdom", 20},
}

func main() {
	// 解析命令行參數
	var (
		port      = flag.Int("port", 5189, "服務器端口")
		logLevel  = flag.String("log-level", "info", "日誌級別 (debug, info, warn, error)")
		logFormat = flag.String("log-format", "text", "日誌格式 (text, json)")
	)
	flag.Parse()

	// 設置日誌
	logger := setupLogger(*logLevel, *logFormat)

	// 創建協調器並建立固定房間
	server := internal.NewGameServer(logger)
	server.Locked(func(s *internal.GameServer) {
		for _, r := range defaultRooms {
			room := internal.NewRoom(r.name, r.capacity)
			s.Rooms().AddRoom(room)
			logger.Info("房間已建立",
				"room_id", room.ID,
				"name", room.Name,
				"capacity", room.Capacity)
		}
	})

	// 註冊訊息處理器（啟動後唯讀）
	dispatcher := internal.NewDispatcher()
	internal.RegisterLobbyHandlers(dispatcher, logger)
	internal.RegisterChatHandlers(dispatcher, logger)

	// 創建 WebSocket Hub 與 HTTP 處理器
	hub := internal.NewHub(server, dispatcher, logger)
	handler := internal.NewHandler(server, logger)

	// 設置路由
	mux := http.NewServeMux()
	mux.Handle("/", handler.Routes())
	mux.HandleFunc("/ws", hub.ServeWS)

	// 創建 HTTP 服務器
	httpServer := &http.Server{
		Addr:        fmt.Sprintf(":%d", *port),
		Handler:     mux,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	// 啟動服務器
	go func() {
		logger.Info("遊戲大廳服務器啟動",
			"port", *port,
			"log_level", *logLevel,
			"log_format", *logFormat)

		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("服務器啟動失敗", "error", err)
			os.Exit(1)
		}
	}()

	// 等待中斷信號
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("收到關閉信號，開始優雅關閉...")

	// 優雅關閉
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// 停止接受新連接
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("服務器關閉失敗", "error", err)
	}

	// 關閉所有 WebSocket 連線
	hub.Stop()

	logger.Info("服務器已關閉")
}

// setupLogger 設置日誌
func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: level == "debug", // debug 模式顯示源碼位置
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
