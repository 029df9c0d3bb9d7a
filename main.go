package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"ScrollsReplayRecorder/internal/config"
	"ScrollsReplayRecorder/internal/ledger"
	"ScrollsReplayRecorder/internal/logger"
	"ScrollsReplayRecorder/internal/recorder"
	"ScrollsReplayRecorder/internal/testserver"
	"ScrollsReplayRecorder/internal/uploader"
	"ScrollsReplayRecorder/internal/wsclient"
)

func main() {
	var (
		mode   = flag.String("mode", "demo", "运行模式: demo, record, server")
		addr   = flag.String("addr", "127.0.0.1:8080", "脚本服务器监听地址")
		url    = flag.String("url", "ws://127.0.0.1:8080/game", "游戏服务器WebSocket地址")
		folder = flag.String("replays", "", "转写文件目录，默认取配置")
	)
	flag.Parse()

	switch *mode {
	case "demo":
		runDemo()
	case "record":
		runRecord(*url, *folder)
	case "server":
		runServer(*addr)
	default:
		fmt.Printf("未知模式: %s\n", *mode)
		flag.Usage()
		os.Exit(1)
	}
}

// runDemo 运行演示模式
func runDemo() {
	fmt.Println("🚀 ScrollsReplayRecorder - 对局录制与回放上传")
	fmt.Println("=================================================")
	fmt.Println()

	fmt.Println("📋 项目特性:")
	fmt.Println("  ✅ WebSocket长连接 + 自动重连")
	fmt.Println("  ✅ 从消息流推断对局边界并转写到.spr文件")
	fmt.Println("  ✅ 胜者占位符收尾补写")
	fmt.Println("  ✅ 上传失败记账，支持稍后手动补传")
	fmt.Println("  ✅ 回放接收服务(multipart + PostgreSQL)")
	fmt.Println()

	fmt.Println("🔧 快速开始:")
	fmt.Println("  # 启动脚本化对局服务器")
	fmt.Println("  go run main.go -mode=server")
	fmt.Println()
	fmt.Println("  # 连接并录制")
	fmt.Println("  go run main.go -mode=record -url=ws://127.0.0.1:8080/game")
	fmt.Println()
	fmt.Println("  # 补传账上挂着的回放")
	fmt.Println("  go run ./cmd/upload-pending")
	fmt.Println()
	fmt.Println("  # 启动回放接收服务")
	fmt.Println("  go run ./cmd/replay-ingest")
}

// runRecord 连接游戏服务器并录制对局
func runRecord(url, folder string) {
	logger.InitLogger()
	logger.InitGlobalLogger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	if folder == "" {
		folder = cfg.String(config.KeyReplayFolder, "replays")
	}
	if err := os.MkdirAll(folder, 0755); err != nil {
		log.Fatalf("创建转写目录失败: %v", err)
	}

	lg := ledger.New(filepath.Join(folder, "upload-cache"))
	up := uploader.New(
		cfg.String(config.KeyAPIURL, "http://api.scrollspost.com"),
		lg,
		logger.GlobalLogger,
		cfg.Duration(config.KeyUploadTimeout, uploader.DefaultTimeout),
	)
	pool := uploader.NewPool(up,
		cfg.Int(config.KeyUploadWorkers, 2),
		cfg.Int(config.KeyUploadQueue, uploader.DefaultQueueDepth),
	)
	defer pool.Shutdown()

	rec := recorder.New(folder, lg, cfg, &consolePrompter{}, logger.GlobalLogger, pool)

	client := wsclient.New(wsclient.DefaultClientConfig(url))
	client.AddListener(rec.HandleMessage)
	client.SetStateChangeHandler(func(oldState, newState wsclient.ClientState) {
		logger.LogInfo("Client", fmt.Sprintf("%s -> %s", oldState, newState))
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := client.Connect(ctx); err != nil {
		cancel()
		log.Fatalf("连接游戏服务器失败: %v", err)
	}
	cancel()

	fmt.Printf("✅ 已连接 %s，录制目录 %s\n", url, folder)

	// 优雅关闭
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c

	fmt.Println("\n🔄 正在关闭录制器...")
	if err := client.Close(); err != nil {
		log.Printf("关闭连接错误: %v", err)
	}
	fmt.Println("✅ 录制器已关闭")
}

// runServer 启动脚本化对局服务器
func runServer(addr string) {
	cfg := testserver.DefaultServerConfig(addr)
	cfg.Script = testserver.GameScript(testserver.GameScriptOptions{
		GameID:    42,
		Color:     "white",
		Winner:    "white",
		WhiteID:   991,
		WhiteName: "Redwood",
		BlackID:   1002,
		BlackName: "Umber",
		Version:   "1.2",
		Moves: []string{
			`{"msg":"CardPlayed","card":17}`,
			`{"msg":"CardPlayed","card":4}`,
			`{"msg":"TurnBegin","color":"black"}`,
		},
		MoveDelay: time.Second,
	})

	server := testserver.New(cfg)
	if err := server.Start(); err != nil {
		log.Fatalf("启动服务器失败: %v", err)
	}

	fmt.Printf("✅ 服务器已启动，监听地址: %s\n", server.Addr())
	fmt.Printf("📊 统计信息: http://%s/stats\n", server.Addr())
	fmt.Printf("🎮 WebSocket端点: %s\n", server.URL())

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c

	fmt.Println("\n🔄 正在关闭服务器...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("服务器关闭错误: %v", err)
	}

	fmt.Println("✅ 服务器已关闭")
}

// consolePrompter 终端版是/否弹窗，读一行stdin
type consolePrompter struct{}

func (consolePrompter) ShowOkCancel(title, description, okLabel, cancelLabel string, onOk, onCancel func()) {
	go func() {
		fmt.Printf("\n%s\n%s [%s/%s]: ", title, description, okLabel, cancelLabel)

		reader := bufio.NewReader(os.Stdin)
		line, err := reader.ReadString('\n')
		if err != nil {
			onCancel()
			return
		}

		answer := strings.ToLower(strings.TrimSpace(line))
		if answer == "y" || answer == "yes" || strings.EqualFold(answer, okLabel) {
			onOk()
			return
		}
		onCancel()
	}()
}
