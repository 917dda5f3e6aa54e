package config

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Validate rejects configurations that would stall or corrupt the stream.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Chain.RPCEndpoint) == "" {
		return fmt.Errorf("chain: RPCEndpoint is required")
	}
	contract := strings.TrimSpace(c.Chain.PaymentsContract)
	if contract == "" {
		return fmt.Errorf("chain: PaymentsContract is required")
	}
	if !common.IsHexAddress(contract) {
		return fmt.Errorf("chain: PaymentsContract %q is not a hex address", contract)
	}
	if c.Chain.BatchBlocks == 0 {
		return fmt.Errorf("chain: BatchBlocks must be positive")
	}
	if c.Log.FilePath != "" && c.Log.MaxSizeMB <= 0 {
		return fmt.Errorf("log: MaxSizeMB must be positive when FilePath is set")
	}
	if strings.TrimSpace(c.Webhook.URL) != "" && strings.TrimSpace(c.Webhook.Secret) == "" {
		return fmt.Errorf("webhook: Secret is required when URL is set")
	}
	return nil
}

// PaymentsAddress parses the configured contract address. Validate must
// have accepted the configuration first.
func (c *Config) PaymentsAddress() common.Address {
	return common.HexToAddress(strings.TrimSpace(c.Chain.PaymentsContract))
}
