package market

import "time"

// Quote 表示某个交易对在某个接入点的最新报价。
// 每次更新整体替换，读取方不会观察到半更新状态。
type Quote struct {
	Pair       string    `json:"pair"`
	Venue      string    `json:"venue"`
	BidPrice   float64   `json:"bid_price"`
	AskPrice   float64   `json:"ask_price"`
	BidSize    float64   `json:"bid_size"`
	AskSize    float64   `json:"ask_size"`
	ObservedAt time.Time `json:"observed_at"`
}

// Mid 返回买卖中间价，任一侧缺失时返回另一侧。
func (q Quote) Mid() float64 {
	switch {
	case q.BidPrice > 0 && q.AskPrice > 0:
		return (q.BidPrice + q.AskPrice) / 2
	case q.BidPrice > 0:
		return q.BidPrice
	default:
		return q.AskPrice
	}
}

// Age 返回报价距观测时刻的时长。
func (q Quote) Age(now time.Time) time.Duration {
	return now.Sub(q.ObservedAt)
}
