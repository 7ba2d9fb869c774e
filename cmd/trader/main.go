package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/betbot/venuepilot/internal/controller"
	"github.com/betbot/venuepilot/internal/events"
	"github.com/betbot/venuepilot/internal/executor"
	"github.com/betbot/venuepilot/internal/health"
	"github.com/betbot/venuepilot/internal/marketdata"
	"github.com/betbot/venuepilot/internal/memory"
	"github.com/betbot/venuepilot/internal/metrics"
	"github.com/betbot/venuepilot/internal/risk"
	"github.com/betbot/venuepilot/internal/server"
	"github.com/betbot/venuepilot/pkg/config"
	"github.com/betbot/venuepilot/pkg/logger"
	"github.com/betbot/venuepilot/pkg/shutdown"
)

const gracefulShutdownPeriod = 30 * time.Second

func main() {
	// .env 尽力加载；缺失时使用真实环境变量
	_ = godotenv.Load()

	var (
		configPath = flag.String("config", getenv("VENUEPILOT_CONFIG", ""), "配置文件路径（支持 .yaml, .yml, .json）")
		dryRun     = flag.Bool("dry-run", false, "使用模拟驱动，不启动浏览器")
		autoStart  = flag.Bool("auto-start", false, "启动后立即开始自动交易")
		resetMem   = flag.Bool("reset-memory", false, "启动前清空持久化的交易记忆")
	)
	flag.Parse()

	if err := logger.InitDefault(); err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.Errorf("加载配置失败: %v", err)
		os.Exit(1)
	}

	if err := logger.Init(logger.Config{
		Level:      cfg.Log.Level,
		OutputFile: cfg.Log.File,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	}); err != nil {
		logrus.Errorf("重新初始化日志失败: %v", err)
		os.Exit(1)
	}
	defer logger.Close()

	logrus.Infof("启动交易会话控制器 pair=%s tick=%s dry-run=%v", cfg.Trading.Pair, cfg.Trading.TickInterval, *dryRun)

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()
	sm := shutdown.NewManager()

	tracker := health.NewTracker(health.ComponentDriver, health.ComponentMarketData, health.ComponentMemory, health.ComponentJournal)

	backend, err := openMemoryBackend(cfg.Memory)
	if err != nil {
		logrus.Errorf("打开交易记忆失败: %v", err)
		os.Exit(1)
	}
	mem := memory.Open(backend, cfg.Trading.StartingBalance, memory.WithPersistHook(func(err error) {
		tracker.Observe(health.ComponentMemory, err)
	}))
	sm.OnShutdown("memory", func(ctx context.Context) { _ = mem.Close() })
	if *resetMem {
		if err := mem.Reset(); err != nil {
			logrus.Errorf("清空交易记忆失败: %v", err)
			os.Exit(1)
		}
		logrus.Warnf("交易记忆已清空，起始余额 %s", cfg.Trading.StartingBalance)
	}

	jrnl, err := openJournal(cfg.Journal)
	if err != nil {
		logrus.Errorf("打开交易流水失败: %v", err)
		os.Exit(1)
	}
	if jrnl != nil {
		sm.OnShutdown("journal", func(ctx context.Context) { _ = jrnl.Close() })
	}

	limits, err := risk.NewLimits(riskParams(cfg.Trading))
	if err != nil {
		logrus.Errorf("风控参数无效: %v", err)
		os.Exit(1)
	}

	source := marketdata.NewSimplePriceSource(marketdata.SourceConfig{
		BaseURL:            cfg.Market.BaseURL,
		Timeout:            cfg.Market.Timeout,
		RateLimitPerMinute: cfg.Market.RateLimitPerMinute,
	})
	resolver := marketdata.NewResolver(source, cfg.Market.Instruments, cfg.Market.CacheTTL, cfg.Market.Timeout,
		marketdata.WithHealth(tracker))
	sm.OnShutdown("marketdata", func(ctx context.Context) { resolver.Close() })

	drv := newDriver(cfg, *dryRun)

	execOpts := []executor.Option{executor.WithHealth(tracker)}
	if jrnl != nil {
		execOpts = append(execOpts, executor.WithJournal(jrnl))
	}
	exec := executor.New(drv, mem, executor.Config{
		MaxAttempts:    cfg.Trading.MaxAttempts,
		ConfirmTimeout: cfg.Trading.ConfirmTimeout,
		Backoff:        cfg.Trading.Backoff,
	}, execOpts...)

	creds, closeCreds, err := credentialsSource(cfg.Credentials)
	if err != nil {
		logrus.Errorf("打开凭证库失败: %v", err)
		os.Exit(1)
	}
	sm.OnShutdown("credentials", func(ctx context.Context) { closeCreds() })

	hub := events.NewHub(128)
	ctrl, err := controller.New(controller.Config{
		Pair:         cfg.Trading.Pair,
		Side:         cfg.Trading.Side,
		OrderType:    cfg.Trading.OrderType,
		TickInterval: cfg.Trading.TickInterval,
	}, controller.Deps{
		Driver:      drv,
		Memory:      mem,
		Executor:    exec,
		Limits:      limits,
		Prices:      resolver,
		Events:      hub,
		Health:      tracker,
		Credentials: creds,
	})
	if err != nil {
		logrus.Errorf("创建控制器失败: %v", err)
		os.Exit(1)
	}
	sm.OnShutdown("controller", func(ctx context.Context) {
		if ctrl.State().Active() {
			if err := ctrl.Stop(ctx); err != nil {
				logrus.Warnf("停止控制器失败: %v", err)
			}
			return
		}
		_ = drv.Teardown()
	})

	// 可选：metrics/pprof
	if addr := cfg.Server.DebugListen; addr != "" {
		if srv, err := metrics.StartAsync(rootCtx, addr); err != nil {
			logrus.Errorf("metrics/pprof 启动失败: %v", err)
		} else {
			logrus.Infof("metrics/pprof 启用: listen=%s (expvar:/debug/vars, prometheus:/metrics, pprof:/debug/pprof)", srv.Addr)
		}
	}

	// 风控参数热更新；其它配置需要重启
	if *configPath != "" {
		err := config.Watch(rootCtx, *configPath, func(newCfg *config.Config) {
			if err := ctrl.UpdateLimits(riskParams(newCfg.Trading)); err != nil {
				logrus.Warnf("[config] 新风控参数无效，保留旧值: %v", err)
				return
			}
			exec.SetMaxAttempts(newCfg.Trading.MaxAttempts)
		})
		if err != nil {
			logrus.Warnf("[config] 配置热更新不可用: %v", err)
		}
	}

	var lister server.AttemptLister
	if jrnl != nil {
		lister = jrnl
	}
	api := server.New(server.Config{}, ctrl, lister, tracker, hub)
	go func() {
		if err := api.ListenAndServe(rootCtx, cfg.Server.Listen); err != nil {
			logrus.Errorf("HTTP 服务退出: %v", err)
			rootCancel()
		}
	}()

	if *autoStart {
		go func() {
			summary, err := ctrl.StartAutoTrading(rootCtx)
			if err != nil {
				logrus.Errorf("自动交易启动失败: %v (state=%s)", err, summary.State)
				return
			}
			logrus.Infof("自动交易已启动: balance=%s target=%s", summary.Balance, summary.TargetAmount)
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case sig := <-sigChan:
		logrus.Infof("收到信号 %s，开始优雅关闭", sig)
	case <-rootCtx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), gracefulShutdownPeriod)
	defer shutdownCancel()
	sm.Shutdown(shutdownCtx)
	rootCancel()
	logrus.Info("已退出")
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
