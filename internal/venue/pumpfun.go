package venue

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"

	"dex-engine/internal/config"
	"dex-engine/internal/market"
)

const pumpFunName = "pump_fun"

// PumpFun 接入 Pump.fun 的交易接口。
// 该接入点只提供单边池报价，盘口深度以池内储备估算。
type PumpFun struct {
	cfg    config.VenueConfig
	client *restClient
	signer *Signer
	logger *zap.Logger
}

// NewPumpFun 构造 Pump.fun 接入点。
func NewPumpFun(cfg config.VenueConfig, signer *Signer, logger *zap.Logger) *PumpFun {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PumpFun{
		cfg:    cfg,
		client: newRESTClient(pumpFunName, cfg.BaseURL, cfg.Timeout),
		signer: signer,
		logger: logger,
	}
}

// Name 返回接入点标识。
func (p *PumpFun) Name() string {
	return pumpFunName
}

type pumpFunPriceResponse struct {
	Price       float64 `json:"price"`
	SpreadBps   float64 `json:"spread_bps"`
	Reserve     float64 `json:"reserve"`
	TimestampMS int64   `json:"timestamp_ms"`
}

// Quote 以池价与点差推导买卖报价。
func (p *PumpFun) Quote(ctx context.Context, pair string) (market.Quote, error) {
	var resp pumpFunPriceResponse
	path := "/api/price/" + url.PathEscape(pair)
	if err := p.client.getJSON(ctx, path, &resp); err != nil {
		return market.Quote{}, err
	}
	if resp.Price <= 0 {
		return market.Quote{}, NewError(pumpFunName, "quote", ErrKindNetwork, "池价无效", nil)
	}

	observedAt := time.Now().UTC()
	if resp.TimestampMS > 0 {
		observedAt = time.UnixMilli(resp.TimestampMS).UTC()
	}

	halfSpread := resp.Price * resp.SpreadBps / 2 / 10000
	return market.Quote{
		Pair:       pair,
		Venue:      pumpFunName,
		BidPrice:   resp.Price - halfSpread,
		AskPrice:   resp.Price + halfSpread,
		BidSize:    resp.Reserve,
		AskSize:    resp.Reserve,
		ObservedAt: observedAt,
	}, nil
}

type pumpFunTradeRequest struct {
	OrderID        string  `json:"order_id"`
	Pair           string  `json:"pair"`
	Side           string  `json:"side"`
	Amount         float64 `json:"amount"`
	MaxSlippageBps float64 `json:"max_slippage_bps"`
	Wallet         string  `json:"wallet"`
	ClientRef      string  `json:"client_ref"`
	Signature      string  `json:"signature"`
}

type pumpFunTradeResponse struct {
	TxHash string `json:"tx_hash"`
}

// Submit 签名并提交交易。
func (p *PumpFun) Submit(ctx context.Context, spec TxSpec) (SubmissionHandle, error) {
	signature, err := signSubmission(p.signer, spec)
	if err != nil {
		return SubmissionHandle{}, err
	}

	req := pumpFunTradeRequest{
		OrderID:        spec.OrderID,
		Pair:           spec.Pair,
		Side:           spec.Side,
		Amount:         spec.Amount,
		MaxSlippageBps: spec.MaxSlippageBps,
		Wallet:         spec.Wallet,
		ClientRef:      spec.ClientRef,
		Signature:      signature,
	}

	var resp pumpFunTradeResponse
	if err := p.client.postJSON(ctx, "/api/trade", nil, req, &resp); err != nil {
		return SubmissionHandle{}, err
	}
	if resp.TxHash == "" {
		return SubmissionHandle{}, NewError(pumpFunName, "submit", ErrKindNetwork, "响应缺少交易哈希", nil)
	}

	return SubmissionHandle{
		Venue:       pumpFunName,
		TxReference: resp.TxHash,
		SubmittedAt: time.Now().UTC(),
	}, nil
}

type pumpFunStatusResponse struct {
	State       string  `json:"state"`
	OrderID     string  `json:"order_id"`
	FilledQty   float64 `json:"filled_qty"`
	AvgPrice    float64 `json:"avg_price"`
	ConfirmedMS int64   `json:"confirmed_at_ms"`
	Reason      string  `json:"reason"`
}

// Status 查询交易确认状态。
func (p *PumpFun) Status(ctx context.Context, handle SubmissionHandle) (Status, error) {
	var resp pumpFunStatusResponse
	path := "/api/trade/" + url.PathEscape(handle.TxReference) + "/status"
	if err := p.client.getJSON(ctx, path, &resp); err != nil {
		return Status{}, err
	}

	switch resp.State {
	case "queued", "processing":
		return Status{Kind: StatusPending}, nil
	case "done":
		confirmedAt := time.Now().UTC()
		if resp.ConfirmedMS > 0 {
			confirmedAt = time.UnixMilli(resp.ConfirmedMS).UTC()
		}
		return Status{
			Kind: StatusConfirmed,
			Fill: Fill{
				OrderID:     resp.OrderID,
				FillAmount:  resp.FilledQty,
				FillPrice:   resp.AvgPrice,
				Venue:       pumpFunName,
				ConfirmedAt: confirmedAt,
				TxReference: handle.TxReference,
			},
		}, nil
	case "failed":
		return Status{Kind: StatusRejected, Reason: resp.Reason}, nil
	default:
		return Status{Kind: StatusUnknown, Reason: fmt.Sprintf("未知状态 %q", resp.State)}, nil
	}
}

// Cancel 不支持撤销。
func (p *PumpFun) Cancel(ctx context.Context, handle SubmissionHandle) (bool, error) {
	return false, ErrCancelUnsupported
}

var _ Connector = (*PumpFun)(nil)
