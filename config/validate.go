package config

import (
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
)

// Validate checks the configuration for values the node cannot run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.RPCAddress) == "" {
		return fmt.Errorf("config: RPCAddress required")
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("config: DataDir required")
	}
	if strings.TrimSpace(c.Token.Symbol) == "" {
		return fmt.Errorf("config: Token.Symbol required")
	}
	if c.Token.Decimals > 36 {
		return fmt.Errorf("config: Token.Decimals must be at most 36")
	}
	if _, err := c.Token.InitialSupplyAmount(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.RPC.RateLimitPerSecond < 0 || c.RPC.Burst < 0 {
		return fmt.Errorf("config: RPC rate limits must not be negative")
	}
	if c.Observability.SampleRatio < 0 || c.Observability.SampleRatio > 1 {
		return fmt.Errorf("config: Observability.SampleRatio must be within [0,1]")
	}
	if schedule := strings.TrimSpace(c.Snapshot.Schedule); schedule != "" {
		if _, err := cron.ParseStandard(schedule); err != nil {
			return fmt.Errorf("config: Snapshot.Schedule: %w", err)
		}
	}
	return nil
}
