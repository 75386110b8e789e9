package venue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"dex-engine/internal/config"
	"dex-engine/internal/market"
)

// Simulated 是纸面撮合接入点，用于演练模式与预生产验证。
// 提交的交易按最近一次报价立即全额成交。
type Simulated struct {
	name   string
	logger *zap.Logger

	mu       sync.Mutex
	quotes   map[string]market.Quote
	pending  map[string]Fill
	sequence int
}

// NewSimulated 构造纸面接入点。
func NewSimulated(cfg config.VenueConfig, logger *zap.Logger) *Simulated {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Simulated{
		name:    cfg.Name,
		logger:  logger,
		quotes:  make(map[string]market.Quote),
		pending: make(map[string]Fill),
	}
}

// Name 返回接入点标识。
func (s *Simulated) Name() string {
	return s.name
}

// SetQuote 注入模拟报价。
func (s *Simulated) SetQuote(quote market.Quote) {
	s.mu.Lock()
	defer s.mu.Unlock()
	quote.Venue = s.name
	s.quotes[quote.Pair] = quote
}

// Quote 返回最近注入的报价。
func (s *Simulated) Quote(ctx context.Context, pair string) (market.Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	quote, ok := s.quotes[pair]
	if !ok {
		return market.Quote{}, NewError(s.name, "quote", ErrKindNetwork, "暂无模拟报价", nil)
	}
	return quote, nil
}

// Submit 记录交易并按当前报价生成成交。
func (s *Simulated) Submit(ctx context.Context, spec TxSpec) (SubmissionHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	price := spec.QuotePrice
	if quote, ok := s.quotes[spec.Pair]; ok {
		if spec.Side == "buy" {
			price = quote.AskPrice
		} else {
			price = quote.BidPrice
		}
	}

	s.sequence++
	ref := fmt.Sprintf("sim-%s-%d", spec.OrderID, s.sequence)
	now := time.Now().UTC()

	s.pending[ref] = Fill{
		OrderID:     spec.OrderID,
		FillAmount:  spec.Amount,
		FillPrice:   price,
		Venue:       s.name,
		ConfirmedAt: now,
		TxReference: ref,
	}

	s.logger.Debug("纸面成交已登记",
		zap.String("order_id", spec.OrderID),
		zap.String("tx_reference", ref),
		zap.Float64("price", price),
	)

	return SubmissionHandle{
		Venue:       s.name,
		TxReference: ref,
		SubmittedAt: now,
	}, nil
}

// Status 返回已登记的成交。
func (s *Simulated) Status(ctx context.Context, handle SubmissionHandle) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fill, ok := s.pending[handle.TxReference]
	if !ok {
		return Status{Kind: StatusUnknown, Reason: "未知交易引用"}, nil
	}
	return Status{Kind: StatusConfirmed, Fill: fill}, nil
}

// Cancel 撤销尚未查询过状态的纸面交易。
func (s *Simulated) Cancel(ctx context.Context, handle SubmissionHandle) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pending[handle.TxReference]; !ok {
		return false, nil
	}
	delete(s.pending, handle.TxReference)
	return true, nil
}

var _ Connector = (*Simulated)(nil)
