package main

import (
	"context"
	"errors"
	"flag"
	"grid-scalper-bot-go/internal/api"
	"grid-scalper-bot-go/internal/bot"
	"grid-scalper-bot-go/internal/config"
	"grid-scalper-bot-go/internal/events"
	"grid-scalper-bot-go/internal/feed"
	"grid-scalper-bot-go/internal/logger"
	"grid-scalper-bot-go/internal/manager"
	"grid-scalper-bot-go/internal/models"
	"grid-scalper-bot-go/internal/persistence"
	"grid-scalper-bot-go/internal/reporter"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	// --- 命令行参数定义 ---
	configPath := flag.String("config", "config.json", "path to the config file")
	noFeed := flag.Bool("no-feed", false, "run without market data (command API only)")
	quiet := flag.Bool("quiet", false, "do not print the periodic status table")
	flag.Parse()

	// 为了在加载.env或配置时就能记录日志，先使用默认配置初始化
	logger.InitLogger(models.LogConfig{Level: "info", Output: "console"})

	// --- 加载 .env 文件 ---
	if err := godotenv.Load(); err != nil {
		logger.S().Info("未找到 .env 文件，将从系统环境变量中读取。")
	} else {
		logger.S().Info("成功从 .env 文件加载配置。")
	}

	// --- 加载 JSON 配置 ---
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.S().Fatalf("无法加载配置文件: %v", err)
	}

	// --- 使用文件中的配置重新初始化日志 ---
	logger.InitLogger(cfg.LogConfig)
	defer logger.Sync()

	if err := run(cfg, !*noFeed, !*quiet); err != nil {
		logger.S().Fatal(err)
	}
}

func run(cfg *models.Config, withFeed, report bool) error {
	log := logger.L()
	if cfg.IsTestnet {
		logger.S().Info("正在使用币安测试网...")
	} else {
		logger.S().Info("正在使用币安生产网行情...")
	}

	// --- 持久化 ---
	repo, err := persistence.NewBadgerRepository(cfg.DBPath)
	if err != nil {
		return err
	}
	writer := persistence.NewWriter(repo, cfg.Persistence, log)
	writer.Start()

	// --- Bot 管理器 ---
	bus := events.NewEventBus()
	mgr := manager.New(manager.Options{
		Pair:           cfg.Symbol,
		InitialBalance: cfg.InitialBalance,
		VaultPercent:   cfg.VaultProfitPercent,
		Loader:         repo,
		Store:          writer,
		Publisher:      bus,
		Logger:         log,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := mgr.Initialize(ctx); err != nil {
		return err
	}
	if len(mgr.Bots()) == 0 {
		status, err := mgr.CreateBot(cfg.DefaultStrategy, "", nil)
		if err != nil {
			return err
		}
		logger.S().Infof("没有已保存的Bot，已创建默认Bot %s", status.BotID)
	}

	var wg sync.WaitGroup

	// --- 行情 ---
	if withFeed {
		dispatcher := feed.NewDispatcher(mgr, 4096, log)
		stream := feed.NewTradeStream(feed.StreamConfig{
			WSBaseURL:      cfg.WSBaseURL,
			Symbol:         cfg.Symbol,
			PingInterval:   time.Duration(cfg.WebSocketPingIntervalSec) * time.Second,
			PongTimeout:    time.Duration(cfg.WebSocketPongTimeoutSec) * time.Second,
			ReconnectDelay: time.Duration(cfg.ReconnectDelaySec) * time.Second,
		}, dispatcher.PublishTick, log)
		poller := feed.NewCandlePoller(
			feed.NewBinanceKlines(cfg.APIKey, cfg.SecretKey, cfg.BaseURL, cfg.IsTestnet),
			feed.PollerConfig{
				Symbol:       cfg.Symbol,
				Interval:     cfg.CandleInterval,
				SeedLimit:    cfg.CandleSeedLimit,
				PollInterval: time.Duration(cfg.CandlePollIntervalSec) * time.Second,
			},
			dispatcher.PublishCandle, log)

		wg.Add(3)
		go func() {
			defer wg.Done()
			dispatcher.Run(ctx)
		}()
		go func() {
			defer wg.Done()
			_ = stream.Run(ctx)
		}()
		go func() {
			defer wg.Done()
			_ = poller.Run(ctx)
		}()
	}

	// --- 命令接口 ---
	server := api.NewServer(api.ServerConfig{
		Addr:           cfg.HTTPAddr,
		RateLimit:      cfg.APIRateLimit,
		RateBurst:      cfg.APIRateBurst,
		ProductionMode: !strings.EqualFold(cfg.LogConfig.Level, "debug"),
	}, mgr, bus, log)
	serverErr := make(chan error, 1)
	go func() { serverErr <- server.Start() }()

	// --- 状态表 ---
	if report {
		wg.Add(1)
		go func() {
			defer wg.Done()
			monitorLoop(ctx, mgr, cfg)
		}()
	}

	// 等待中断信号以实现优雅退出
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	var runErr error
	select {
	case sig := <-quit:
		log.Info("收到退出信号", zap.String("signal", sig.String()))
	case err := <-serverErr:
		if err != nil {
			runErr = err
		}
	}

	// 先停行情，再停Bot，最后落盘
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP服务关闭失败", zap.Error(err))
	}
	wg.Wait()

	mgr.Cleanup()
	bus.Close()
	writer.Stop()
	if writer.Degraded() {
		log.Warn("持久化处于降级状态，部分状态可能未保存")
	}
	if err := repo.Close(); err != nil {
		runErr = errors.Join(runErr, err)
	}
	logger.S().Info("所有Bot已停止，状态已保存。")
	return runErr
}

// monitorLoop 定期打印所有Bot的状态表
func monitorLoop(ctx context.Context, mgr *manager.BotManager, cfg *models.Config) {
	ticker := time.NewTicker(time.Duration(cfg.StatusReportSeconds) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			bots := mgr.Bots()
			snaps := make([]bot.StatusSnapshot, 0, len(bots))
			for _, b := range bots {
				snaps = append(snaps, b.StatusSnapshot())
			}
			active := ""
			if id := mgr.Snapshot().ActiveBotID; id != nil {
				active = *id
			}
			reporter.RenderStatus(os.Stdout, snaps, active, cfg.InitialBalance)
		}
	}
}
