package routing

import (
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"dex-engine/internal/config"
	"dex-engine/internal/market"
	"dex-engine/internal/order"
)

// depthImpactCoeff 将吃掉盘口深度的比例折算为预期冲击成本。
const depthImpactCoeff = 0.5

// venueMeta 为接入点的静态路由属性。
type venueMeta struct {
	feeBps   float64
	priority int
}

// Selector 基于行情缓存为订单挑选执行路径。
type Selector struct {
	cfg    config.RoutingConfig
	venues map[string]venueMeta
	logger *zap.Logger
}

// NewSelector 创建路由选择器。
func NewSelector(cfg config.RoutingConfig, venueCfgs []config.VenueConfig, logger *zap.Logger) *Selector {
	if logger == nil {
		logger = zap.NewNop()
	}

	venues := make(map[string]venueMeta, len(venueCfgs))
	for _, vc := range venueCfgs {
		venues[strings.ToLower(strings.TrimSpace(vc.Name))] = venueMeta{
			feeBps:   vc.FeeBps,
			priority: vc.Priority,
		}
	}

	return &Selector{
		cfg:    cfg,
		venues: venues,
		logger: logger,
	}
}

// SelectRoute 评估各接入点报价，返回首选与备选路径。
// 过期报价与预期滑点超出容忍的接入点被剔除；无幸存者时返回 ErrNoRoute。
func (s *Selector) SelectRoute(o order.Order, quotes map[string]market.Quote, now time.Time) (Route, error) {
	remaining := o.Remaining()
	if remaining <= 0 {
		return Route{}, ErrNoRoute
	}

	legs := make([]Leg, 0, len(quotes))

	for venueName, quote := range quotes {
		meta, known := s.venues[strings.ToLower(venueName)]
		if !known {
			continue
		}

		if quote.Age(now) > s.cfg.StalenessThreshold {
			s.logger.Debug("剔除过期报价",
				zap.String("venue", venueName),
				zap.Duration("age", quote.Age(now)),
			)
			continue
		}

		leg, ok := s.evaluate(o.Side, remaining, venueName, quote, meta)
		if !ok {
			continue
		}
		if leg.ExpectedSlippageBps > o.MaxSlippageBps {
			s.logger.Debug("剔除滑点超限的接入点",
				zap.String("venue", venueName),
				zap.Float64("expected_bps", leg.ExpectedSlippageBps),
				zap.Float64("tolerance_bps", o.MaxSlippageBps),
			)
			continue
		}

		legs = append(legs, leg)
	}

	if len(legs) == 0 {
		return Route{}, ErrNoRoute
	}

	sort.SliceStable(legs, func(i, j int) bool {
		if legs[i].ExpectedNetOutput != legs[j].ExpectedNetOutput {
			return legs[i].ExpectedNetOutput > legs[j].ExpectedNetOutput
		}
		return legs[i].Priority < legs[j].Priority
	})

	return Route{Legs: legs}, nil
}

// evaluate 计算单个接入点的预期滑点与净产出。
func (s *Selector) evaluate(side order.Side, amount float64, venueName string, quote market.Quote, meta venueMeta) (Leg, bool) {
	var price, depth float64
	if side == order.SideBuy {
		price = quote.AskPrice
		depth = quote.AskSize
	} else {
		price = quote.BidPrice
		depth = quote.BidSize
	}

	if price <= 0 || depth <= 0 {
		return Leg{}, false
	}

	mid := quote.Mid()
	halfSpreadBps := 0.0
	if mid > 0 && quote.AskPrice > quote.BidPrice {
		halfSpreadBps = (quote.AskPrice - quote.BidPrice) / mid * 10000 / 2
	}
	impactBps := amount / depth * 10000 * depthImpactCoeff
	expectedSlippageBps := halfSpreadBps + impactBps

	feeFraction := meta.feeBps / 10000
	slipFraction := expectedSlippageBps / 10000

	var effectivePrice, netOutput float64
	if side == order.SideBuy {
		// 买入：净产出为单位成本的倒数乘以数量，有效价越低排名越前。
		effectivePrice = price * (1 + feeFraction + slipFraction)
		if effectivePrice <= 0 {
			return Leg{}, false
		}
		netOutput = amount / effectivePrice
	} else {
		// 卖出：净产出为扣除费用与冲击后的计价货币所得。
		effectivePrice = price * (1 - feeFraction - slipFraction)
		netOutput = amount * effectivePrice
	}

	return Leg{
		Venue:               strings.ToLower(venueName),
		Quote:               quote,
		ExpectedSlippageBps: expectedSlippageBps,
		ExpectedNetOutput:   netOutput,
		EffectivePrice:      effectivePrice,
		Priority:            meta.priority,
	}, true
}
