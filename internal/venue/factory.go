package venue

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"dex-engine/internal/config"
)

// Build 根据配置实例化全部接入点。
func Build(cfgs []config.VenueConfig, signer *Signer, logger *zap.Logger) ([]Connector, error) {
	connectors := make([]Connector, 0, len(cfgs))

	for _, cfg := range cfgs {
		name := strings.ToLower(strings.TrimSpace(cfg.Name))
		cfg.Name = name

		if cfg.Simulated {
			connectors = append(connectors, NewSimulated(cfg, logger))
			continue
		}

		switch name {
		case jupiterName:
			connectors = append(connectors, NewJupiter(cfg, signer, logger))
		case pumpFunName:
			connectors = append(connectors, NewPumpFun(cfg, signer, logger))
		case driftName:
			connectors = append(connectors, NewDrift(cfg, signer, logger))
		default:
			return nil, fmt.Errorf("venue: 不支持的接入点 %q", cfg.Name)
		}
	}

	return connectors, nil
}
