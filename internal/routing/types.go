package routing

import (
	"errors"

	"dex-engine/internal/market"
)

// ErrNoRoute 表示没有接入点满足新鲜度与滑点约束。
// 该结论基于当前行情，立即重试没有价值，属于可报告的终态。
var ErrNoRoute = errors.New("routing: 无可用路由")

// Leg 为单个候选接入点及其评估结果。
type Leg struct {
	Venue               string
	Quote               market.Quote
	ExpectedSlippageBps float64
	ExpectedNetOutput   float64
	EffectivePrice      float64
	Priority            int
}

// Route 为选中的执行路径：首选接入点加有序备选列表。
// 备选仅在广播前提交失败时启用。
type Route struct {
	Legs []Leg
}

// Primary 返回首选腿。
func (r Route) Primary() Leg {
	return r.Legs[0]
}

// Fallbacks 返回备选腿列表。
func (r Route) Fallbacks() []Leg {
	if len(r.Legs) <= 1 {
		return nil
	}
	return r.Legs[1:]
}
