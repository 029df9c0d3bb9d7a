package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"ScrollsReplayRecorder/internal/config"
	"ScrollsReplayRecorder/internal/ledger"
	"ScrollsReplayRecorder/internal/logger"
	"ScrollsReplayRecorder/internal/uploader"
)

// upload-pending 把账上挂着的回放逐个补传
func main() {
	var (
		folder = flag.String("replays", "", "转写文件目录，默认取配置")
		dryRun = flag.Bool("dry-run", false, "只列出待传文件，不真正上传")
	)
	flag.Parse()

	logger.InitLogger()
	logger.InitGlobalLogger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	if *folder == "" {
		*folder = cfg.String(config.KeyReplayFolder, "replays")
	}

	lg := ledger.New(filepath.Join(*folder, "upload-cache"))
	pending, err := lg.List()
	if err != nil {
		log.Fatalf("读取待传清单失败: %v", err)
	}

	if len(pending) == 0 {
		fmt.Println("✅ 没有待传的回放")
		return
	}

	fmt.Printf("📋 待传回放 %d 个:\n", len(pending))
	for _, name := range pending {
		fmt.Printf("  - %s\n", name)
	}

	if *dryRun {
		return
	}

	up := uploader.New(
		cfg.String(config.KeyAPIURL, "http://api.scrollspost.com"),
		lg,
		logger.GlobalLogger,
		cfg.Duration(config.KeyUploadTimeout, uploader.DefaultTimeout),
	)

	ctx := context.Background()
	uploaded := 0
	for _, name := range pending {
		path := filepath.Join(*folder, name)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			// 文件已被用户删掉，把账销了免得反复报错
			fmt.Printf("⚠️  %s 不存在，从清单移除\n", name)
			if err := lg.Confirm(name); err != nil {
				log.Printf("销账失败: %v", err)
			}
			continue
		}

		result, err := up.Upload(ctx, path)
		if err != nil {
			fmt.Printf("❌ %s 上传失败: %v\n", name, err)
			continue
		}
		if result.Uploaded() {
			uploaded++
			fmt.Printf("✅ %s -> %s\n", name, result.URL)
		} else {
			fmt.Printf("❌ %s 被拒: %s\n", name, result.Error)
		}
	}

	fmt.Printf("\n📊 完成: %d/%d 上传成功\n", uploaded, len(pending))
}
