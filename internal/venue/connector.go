package venue

import (
	"context"

	"dex-engine/internal/market"
)

// Connector 抽象单个 DEX 的固定能力集合。
// 引擎核心只通过该契约与接入点交互，不感知具体实现。
type Connector interface {
	// Name 返回接入点标识（小写）。
	Name() string
	// Quote 拉取指定交易对的即时报价。
	Quote(ctx context.Context, pair string) (market.Quote, error)
	// Submit 构造、签名并广播交易，返回可追踪的句柄。
	Submit(ctx context.Context, spec TxSpec) (SubmissionHandle, error)
	// Status 查询已广播交易的状态。
	Status(ctx context.Context, handle SubmissionHandle) (Status, error)
	// Cancel 尽力撤销交易；接入点不支持撤销时返回 ErrCancelUnsupported。
	Cancel(ctx context.Context, handle SubmissionHandle) (bool, error)
}
