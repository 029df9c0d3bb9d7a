package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ScrollsReplayRecorder/internal/database"
	"ScrollsReplayRecorder/internal/ingestserver"
	"ScrollsReplayRecorder/internal/logger"
)

// replay-ingest 回放接收服务：multipart接收.spr文件并入库
func main() {
	var (
		addr      = flag.String("addr", ":8090", "监听地址")
		publicURL = flag.String("public-url", "http://scrollspost.com", "回放展示地址前缀")
		memory    = flag.Bool("memory", false, "用内存存储代替PostgreSQL，演示用")

		dbHost = flag.String("db-host", "localhost", "PostgreSQL主机")
		dbPort = flag.Int("db-port", 5432, "PostgreSQL端口")
		dbUser = flag.String("db-user", "postgres", "PostgreSQL用户")
		dbPass = flag.String("db-pass", "postgres", "PostgreSQL密码")
		dbName = flag.String("db-name", "scrollspost", "数据库名")
	)
	flag.Parse()

	logger.InitLogger()

	var store ingestserver.Store
	if *memory {
		fmt.Println("⚠️  使用内存存储，重启后数据丢失")
		store = ingestserver.NewMemStore()
	} else {
		pool, err := database.ConnectPgx(context.Background(), &database.Config{
			Host:     *dbHost,
			Port:     *dbPort,
			User:     *dbUser,
			Password: *dbPass,
			DBName:   *dbName,
			SSLMode:  "disable",
		})
		if err != nil {
			log.Fatalf("连接数据库失败: %v", err)
		}
		defer pool.Close()

		replayStore := database.NewReplayStore(pool)
		if err := replayStore.Migrate(context.Background()); err != nil {
			log.Fatalf("建表失败: %v", err)
		}
		store = replayStore
	}

	cfg := ingestserver.DefaultServerConfig(*addr)
	cfg.PublicURL = *publicURL

	server := ingestserver.NewServer(cfg, store)

	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("启动服务失败: %v", err)
		}
	}()

	fmt.Printf("✅ 回放接收服务已启动，监听地址: %s\n", *addr)
	fmt.Printf("📤 上传端点: POST http://%s/v1/replays\n", *addr)

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c

	fmt.Println("\n🔄 正在关闭服务...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Stop(ctx); err != nil {
		log.Printf("服务关闭错误: %v", err)
	}

	fmt.Println("✅ 服务已关闭")
}
