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

const jupiterName = "jupiter"

// Jupiter 通过聚合器 REST 接口接入 Jupiter。
// 交易广播到链上后无法撤销，Cancel 始终返回 ErrCancelUnsupported。
type Jupiter struct {
	cfg    config.VenueConfig
	client *restClient
	signer *Signer
	logger *zap.Logger
}

// NewJupiter 构造 Jupiter 接入点。
func NewJupiter(cfg config.VenueConfig, signer *Signer, logger *zap.Logger) *Jupiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Jupiter{
		cfg:    cfg,
		client: newRESTClient(jupiterName, cfg.BaseURL, cfg.Timeout),
		signer: signer,
		logger: logger,
	}
}

// Name 返回接入点标识。
func (j *Jupiter) Name() string {
	return jupiterName
}

type jupiterQuoteResponse struct {
	BidPrice    float64 `json:"bid_price"`
	AskPrice    float64 `json:"ask_price"`
	BidSize     float64 `json:"bid_size"`
	AskSize     float64 `json:"ask_size"`
	TimestampMS int64   `json:"timestamp_ms"`
}

// Quote 拉取即时报价。
func (j *Jupiter) Quote(ctx context.Context, pair string) (market.Quote, error) {
	var resp jupiterQuoteResponse
	path := "/v1/quote?pair=" + url.QueryEscape(pair)
	if err := j.client.getJSON(ctx, path, &resp); err != nil {
		return market.Quote{}, err
	}

	observedAt := time.Now().UTC()
	if resp.TimestampMS > 0 {
		observedAt = time.UnixMilli(resp.TimestampMS).UTC()
	}

	return market.Quote{
		Pair:       pair,
		Venue:      jupiterName,
		BidPrice:   resp.BidPrice,
		AskPrice:   resp.AskPrice,
		BidSize:    resp.BidSize,
		AskSize:    resp.AskSize,
		ObservedAt: observedAt,
	}, nil
}

type jupiterSwapRequest struct {
	OrderID        string  `json:"order_id"`
	Pair           string  `json:"pair"`
	Side           string  `json:"side"`
	Amount         float64 `json:"amount"`
	QuotePrice     float64 `json:"quote_price"`
	MaxSlippageBps float64 `json:"max_slippage_bps"`
	Wallet         string  `json:"wallet"`
	ClientRef      string  `json:"client_ref"`
}

type jupiterSwapResponse struct {
	TxSignature string `json:"tx_signature"`
}

// Submit 签名并广播兑换交易。
func (j *Jupiter) Submit(ctx context.Context, spec TxSpec) (SubmissionHandle, error) {
	signature, err := signSubmission(j.signer, spec)
	if err != nil {
		return SubmissionHandle{}, err
	}

	req := jupiterSwapRequest{
		OrderID:        spec.OrderID,
		Pair:           spec.Pair,
		Side:           spec.Side,
		Amount:         spec.Amount,
		QuotePrice:     spec.QuotePrice,
		MaxSlippageBps: spec.MaxSlippageBps,
		Wallet:         spec.Wallet,
		ClientRef:      spec.ClientRef,
	}

	headers := map[string]string{
		"X-Wallet":    spec.Wallet,
		"X-Signature": signature,
	}

	var resp jupiterSwapResponse
	if err := j.client.postJSON(ctx, "/v1/swap", headers, req, &resp); err != nil {
		return SubmissionHandle{}, err
	}
	if resp.TxSignature == "" {
		return SubmissionHandle{}, NewError(jupiterName, "submit", ErrKindNetwork, "响应缺少交易签名", nil)
	}

	return SubmissionHandle{
		Venue:       jupiterName,
		TxReference: resp.TxSignature,
		SubmittedAt: time.Now().UTC(),
	}, nil
}

type jupiterStatusResponse struct {
	Status      string  `json:"status"`
	FillAmount  float64 `json:"fill_amount"`
	FillPrice   float64 `json:"fill_price"`
	ConfirmedMS int64   `json:"confirmed_at_ms"`
	Reason      string  `json:"reason"`
	OrderID     string  `json:"order_id"`
}

// Status 查询已广播交易的确认状态。
func (j *Jupiter) Status(ctx context.Context, handle SubmissionHandle) (Status, error) {
	var resp jupiterStatusResponse
	path := "/v1/swap/" + url.PathEscape(handle.TxReference)
	if err := j.client.getJSON(ctx, path, &resp); err != nil {
		return Status{}, err
	}

	switch resp.Status {
	case "pending":
		return Status{Kind: StatusPending}, nil
	case "confirmed":
		confirmedAt := time.Now().UTC()
		if resp.ConfirmedMS > 0 {
			confirmedAt = time.UnixMilli(resp.ConfirmedMS).UTC()
		}
		return Status{
			Kind: StatusConfirmed,
			Fill: Fill{
				OrderID:     resp.OrderID,
				FillAmount:  resp.FillAmount,
				FillPrice:   resp.FillPrice,
				Venue:       jupiterName,
				ConfirmedAt: confirmedAt,
				TxReference: handle.TxReference,
			},
		}, nil
	case "rejected":
		return Status{Kind: StatusRejected, Reason: resp.Reason}, nil
	default:
		return Status{Kind: StatusUnknown, Reason: fmt.Sprintf("未知状态 %q", resp.Status)}, nil
	}
}

// Cancel 广播后的兑换无法撤销。
func (j *Jupiter) Cancel(ctx context.Context, handle SubmissionHandle) (bool, error) {
	return false, ErrCancelUnsupported
}

var _ Connector = (*Jupiter)(nil)
