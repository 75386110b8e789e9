package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"dex-engine/internal/config"
	"dex-engine/internal/ledger"
	"dex-engine/internal/market"
	"dex-engine/internal/monitor"
	"dex-engine/internal/order"
	"dex-engine/internal/risk"
	"dex-engine/internal/routing"
	"dex-engine/internal/store"
	"dex-engine/internal/submit"
	"dex-engine/internal/venue"
)

// App 聚合核心依赖并驱动系统生命周期。
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *store.Store
}

// New 创建 App 实例。
func New(cfg *config.Config, logger *zap.Logger, store *store.Store) *App {
	return &App{
		cfg:    cfg,
		logger: logger,
		store:  store,
	}
}

// Run 组装执行引擎并运行至收到退出信号。
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("执行引擎已初始化",
		zap.String("environment", a.cfg.App.Environment),
		zap.Int("venues", len(a.cfg.Venues)),
		zap.Strings("pairs", a.cfg.Risk.KnownPairs),
	)

	engine, cache, monitorSvc, err := a.build()
	if err != nil {
		return err
	}

	group, groupCtx := errgroup.WithContext(ctx)

	if a.cfg.Monitor.Enabled {
		if err := startMonitorServer(groupCtx, monitorSvc, engine, a.cfg.Monitor.Port, a.logger); err != nil {
			return fmt.Errorf("启动监控接口失败: %w", err)
		}
	}

	group.Go(func() error {
		return engine.Run(groupCtx)
	})

	if a.cfg.Feed.URL != "" {
		feed := market.NewFeed(a.cfg.Feed, cache, a.logger)
		group.Go(func() error {
			return feed.Run(groupCtx)
		})
	}

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("系统异常退出: %w", err)
	}
	a.logger.Info("系统收到退出信号，已停止")
	return nil
}

// build 按配置组装引擎的全部组件。
func (a *App) build() (*Engine, *market.Cache, *monitor.Service, error) {
	gate, err := risk.NewGate(a.cfg.Risk, a.store, a.logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("初始化风控准入失败: %w", err)
	}

	execLedger, err := ledger.New(a.store.DB(), a.logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("初始化执行账本失败: %w", err)
	}

	var monitorSvc *monitor.Service
	if a.cfg.Monitor.Enabled {
		monitorSvc, err = monitor.NewService(a.store, a.logger)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("初始化监控服务失败: %w", err)
		}
	}

	var signer *venue.Signer
	if a.cfg.Signer.PrivateKey != "" {
		signer, err = venue.NewSigner(a.cfg.Signer)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("初始化签名器失败: %w", err)
		}
	}

	connectors, err := venue.Build(a.cfg.Venues, signer, a.logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("初始化接入点失败: %w", err)
	}

	cache := market.NewCache()
	selector := routing.NewSelector(a.cfg.Routing, a.cfg.Venues, a.logger)
	manager := order.NewManager(gate, execLedger, a.terminalEventSink(), a.logger)
	submitter := submit.NewSubmitter(a.cfg.Submit, a.cfg.Engine, a.cfg.Signer.WalletAddress, a.logger)

	engine, err := NewEngine(a.cfg.Engine, a.cfg.Routing, EngineDeps{
		Gate:       gate,
		Manager:    manager,
		Selector:   selector,
		Cache:      cache,
		Submitter:  submitter,
		Connectors: connectors,
		Ledger:     execLedger,
		Monitor:    monitorSvc,
		Logger:     a.logger,
	})
	if err != nil {
		return nil, nil, nil, err
	}

	return engine, cache, monitorSvc, nil
}

// terminalEventSink 把终态订单事件发给组合/风控协作方。
// 当前以结构化日志形式输出，协作方通过日志流或监控接口消费。
func (a *App) terminalEventSink() order.EventSink {
	return func(ev order.Event) {
		a.logger.Info("订单终态事件",
			zap.String("order_id", ev.OrderID),
			zap.String("intent_id", ev.IntentID),
			zap.String("account_id", ev.AccountID),
			zap.String("final_state", string(ev.FinalState)),
			zap.Float64("filled_amount", ev.FilledAmount),
			zap.Float64("avg_fill_price", ev.AvgFillPrice),
		)
	}
}
