package market

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"dex-engine/internal/config"
)

// feedMessage 是行情采集端推送的单条报价消息。
type feedMessage struct {
	Pair       string  `json:"pair"`
	Venue      string  `json:"venue"`
	BidPrice   float64 `json:"bid_price"`
	AskPrice   float64 `json:"ask_price"`
	BidSize    float64 `json:"bid_size"`
	AskSize    float64 `json:"ask_size"`
	ObservedAt int64   `json:"observed_at_ms"`
}

// Feed 通过 WebSocket 订阅行情采集端的报价流并写入缓存。
type Feed struct {
	cfg    config.FeedConfig
	cache  *Cache
	logger *zap.Logger
}

// NewFeed 创建行情订阅器。
func NewFeed(cfg config.FeedConfig, cache *Cache, logger *zap.Logger) *Feed {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Feed{
		cfg:    cfg,
		cache:  cache,
		logger: logger,
	}
}

// Run 持续维持连接，断线后按配置间隔重连，直到上下文取消。
func (f *Feed) Run(ctx context.Context) error {
	if f.cfg.URL == "" {
		return fmt.Errorf("market: 未配置行情源地址")
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := f.consume(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			f.logger.Warn("行情连接中断，准备重连",
				zap.String("url", f.cfg.URL),
				zap.Duration("wait", f.cfg.ReconnectDelay),
				zap.Error(err),
			)
		}

		timer := time.NewTimer(f.cfg.ReconnectDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (f *Feed) consume(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("market: 连接行情源失败: %w", err)
	}
	defer conn.Close()

	f.logger.Info("行情连接已建立", zap.String("url", f.cfg.URL))

	// 守护 goroutine 随本条连接一起退出，重连不会累积。
	connDone := make(chan struct{})
	defer close(connDone)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-connDone:
		}
	}()

	for {
		if f.cfg.ReadTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(f.cfg.ReadTimeout))
		}

		_, payload, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("market: 读取行情消息失败: %w", err)
		}

		quote, err := ParseQuoteMessage(payload)
		if err != nil {
			f.logger.Warn("丢弃无法解析的行情消息", zap.Error(err))
			continue
		}

		f.cache.Update(quote)
	}
}

// ParseQuoteMessage 解析行情采集端的报价消息。
func ParseQuoteMessage(payload []byte) (Quote, error) {
	var msg feedMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Quote{}, fmt.Errorf("market: 反序列化报价失败: %w", err)
	}

	if msg.Pair == "" || msg.Venue == "" {
		return Quote{}, fmt.Errorf("market: 报价缺少 pair/venue 字段")
	}
	if msg.BidPrice < 0 || msg.AskPrice < 0 {
		return Quote{}, fmt.Errorf("market: 报价价格不能为负")
	}

	observedAt := time.Now().UTC()
	if msg.ObservedAt > 0 {
		observedAt = time.UnixMilli(msg.ObservedAt).UTC()
	}

	return Quote{
		Pair:       msg.Pair,
		Venue:      msg.Venue,
		BidPrice:   msg.BidPrice,
		AskPrice:   msg.AskPrice,
		BidSize:    msg.BidSize,
		AskSize:    msg.AskSize,
		ObservedAt: observedAt,
	}, nil
}
