package venue

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"

	"dex-engine/internal/config"
	"dex-engine/internal/market"
)

const driftName = "drift"

// Drift 接入 Drift 永续/现货撮合接口。
// Drift 维护链下撮合队列，未成交委托支持尽力撤销。
type Drift struct {
	cfg    config.VenueConfig
	client *restClient
	signer *Signer
	logger *zap.Logger
}

// NewDrift 构造 Drift 接入点。
func NewDrift(cfg config.VenueConfig, signer *Signer, logger *zap.Logger) *Drift {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Drift{
		cfg:    cfg,
		client: newRESTClient(driftName, cfg.BaseURL, cfg.Timeout),
		signer: signer,
		logger: logger,
	}
}

// Name 返回接入点标识。
func (d *Drift) Name() string {
	return driftName
}

type driftQuoteResponse struct {
	BestBid     float64 `json:"best_bid"`
	BestAsk     float64 `json:"best_ask"`
	BidDepth    float64 `json:"bid_depth"`
	AskDepth    float64 `json:"ask_depth"`
	TimestampMS int64   `json:"timestamp_ms"`
}

// Quote 拉取盘口最优报价。
func (d *Drift) Quote(ctx context.Context, pair string) (market.Quote, error) {
	var resp driftQuoteResponse
	path := "/v2/markets/" + url.PathEscape(pair) + "/quote"
	if err := d.client.getJSON(ctx, path, &resp); err != nil {
		return market.Quote{}, err
	}

	observedAt := time.Now().UTC()
	if resp.TimestampMS > 0 {
		observedAt = time.UnixMilli(resp.TimestampMS).UTC()
	}

	return market.Quote{
		Pair:       pair,
		Venue:      driftName,
		BidPrice:   resp.BestBid,
		AskPrice:   resp.BestAsk,
		BidSize:    resp.BidDepth,
		AskSize:    resp.AskDepth,
		ObservedAt: observedAt,
	}, nil
}

type driftOrderRequest struct {
	OrderID        string  `json:"order_id"`
	Market         string  `json:"market"`
	Side           string  `json:"side"`
	Amount         float64 `json:"amount"`
	LimitPrice     float64 `json:"limit_price"`
	MaxSlippageBps float64 `json:"max_slippage_bps"`
	Wallet         string  `json:"wallet"`
	ClientRef      string  `json:"client_ref"`
}

type driftOrderResponse struct {
	OrderRef string `json:"order_ref"`
}

// Submit 签名并提交委托。
func (d *Drift) Submit(ctx context.Context, spec TxSpec) (SubmissionHandle, error) {
	signature, err := signSubmission(d.signer, spec)
	if err != nil {
		return SubmissionHandle{}, err
	}

	req := driftOrderRequest{
		OrderID:        spec.OrderID,
		Market:         spec.Pair,
		Side:           spec.Side,
		Amount:         spec.Amount,
		LimitPrice:     spec.QuotePrice,
		MaxSlippageBps: spec.MaxSlippageBps,
		Wallet:         spec.Wallet,
		ClientRef:      spec.ClientRef,
	}

	headers := map[string]string{
		"X-Drift-Wallet": spec.Wallet,
		"X-Drift-Sign":   signature,
	}

	var resp driftOrderResponse
	if err := d.client.postJSON(ctx, "/v2/orders", headers, req, &resp); err != nil {
		return SubmissionHandle{}, err
	}
	if resp.OrderRef == "" {
		return SubmissionHandle{}, NewError(driftName, "submit", ErrKindNetwork, "响应缺少委托引用", nil)
	}

	return SubmissionHandle{
		Venue:       driftName,
		TxReference: resp.OrderRef,
		SubmittedAt: time.Now().UTC(),
	}, nil
}

type driftStatusResponse struct {
	Status      string  `json:"status"`
	OrderID     string  `json:"order_id"`
	FilledBase  float64 `json:"filled_base"`
	AvgPrice    float64 `json:"avg_price"`
	ConfirmedMS int64   `json:"confirmed_at_ms"`
	Reason      string  `json:"reason"`
}

// Status 查询委托状态。
func (d *Drift) Status(ctx context.Context, handle SubmissionHandle) (Status, error) {
	var resp driftStatusResponse
	path := "/v2/orders/" + url.PathEscape(handle.TxReference)
	if err := d.client.getJSON(ctx, path, &resp); err != nil {
		return Status{}, err
	}

	switch resp.Status {
	case "open", "matching":
		return Status{Kind: StatusPending}, nil
	case "filled":
		confirmedAt := time.Now().UTC()
		if resp.ConfirmedMS > 0 {
			confirmedAt = time.UnixMilli(resp.ConfirmedMS).UTC()
		}
		return Status{
			Kind: StatusConfirmed,
			Fill: Fill{
				OrderID:     resp.OrderID,
				FillAmount:  resp.FilledBase,
				FillPrice:   resp.AvgPrice,
				Venue:       driftName,
				ConfirmedAt: confirmedAt,
				TxReference: handle.TxReference,
			},
		}, nil
	case "rejected", "expired":
		return Status{Kind: StatusRejected, Reason: resp.Reason}, nil
	default:
		return Status{Kind: StatusUnknown, Reason: fmt.Sprintf("未知状态 %q", resp.Status)}, nil
	}
}

type driftCancelResponse struct {
	Cancelled bool `json:"cancelled"`
}

// Cancel 尽力撤销未成交委托，已进入撮合的委托可能撤销失败。
func (d *Drift) Cancel(ctx context.Context, handle SubmissionHandle) (bool, error) {
	var resp driftCancelResponse
	path := "/v2/orders/" + url.PathEscape(handle.TxReference)
	if err := d.client.deleteJSON(ctx, path, &resp); err != nil {
		var venueErr *Error
		if errors.As(err, &venueErr) && venueErr.Kind == ErrKindRejected {
			// 已撮合的委托无法撤销，不视为系统错误。
			return false, nil
		}
		return false, err
	}
	return resp.Cancelled, nil
}

var _ Connector = (*Drift)(nil)
