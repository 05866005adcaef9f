package config

import (
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
)

// Config is the zkexd node configuration, loaded from TOML.
type Config struct {
	ListenAddress string `toml:"ListenAddress"`
	DataDir       string `toml:"DataDir"`
	// Backend selects the storage engine: "leveldb", "bolt" or "memory".
	Backend     string `toml:"Backend"`
	NetworkName string `toml:"NetworkName"`
	Environment string `toml:"Environment"`
	LogFile     string `toml:"LogFile"`
	// OperatorToken gates the operator-only HTTP endpoints.
	OperatorToken string `toml:"OperatorToken"`

	Exchange Exchange `toml:"Exchange"`
}

// Exchange holds the policy constants of the commitment core.
type Exchange struct {
	ExchangeID  uint64 `toml:"ExchangeID"`
	Operator    string `toml:"Operator"`
	Owner       string `toml:"Owner"`
	GenesisRoot string `toml:"GenesisRoot"`
	NativeToken string `toml:"NativeToken"`

	MaxNumTokens          uint32 `toml:"MaxNumTokens"`
	MaxOpenForcedRequests uint64 `toml:"MaxOpenForcedRequests"`
	// ForcedRequestFee is a decimal string in the native token's smallest
	// unit.
	ForcedRequestFee string `toml:"ForcedRequestFee"`

	MaxAgeDepositUntilWithdrawableSecs       uint64 `toml:"MaxAgeDepositUntilWithdrawableSecs"`
	MaxAgeForcedRequestUntilWithdrawModeSecs uint64 `toml:"MaxAgeForcedRequestUntilWithdrawModeSecs"`
	MinTimeInShutdownSecs                    uint64 `toml:"MinTimeInShutdownSecs"`

	TreeDepth uint `toml:"TreeDepth"`
	TokenBits uint `toml:"TokenBits"`
}

// Load loads the configuration from the given path, creating a default file
// when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.ListenAddress) == "" {
		c.ListenAddress = ":8645"
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./zkex-data"
	}
	if strings.TrimSpace(c.Backend) == "" {
		c.Backend = "leveldb"
	}
	if strings.TrimSpace(c.NetworkName) == "" {
		c.NetworkName = "zkex-local"
	}
	if c.Exchange.MaxNumTokens == 0 {
		c.Exchange.MaxNumTokens = 1024
	}
	if c.Exchange.MaxOpenForcedRequests == 0 {
		c.Exchange.MaxOpenForcedRequests = 4096
	}
	if c.Exchange.MaxAgeDepositUntilWithdrawableSecs == 0 {
		c.Exchange.MaxAgeDepositUntilWithdrawableSecs = 15 * 24 * 3600
	}
	if c.Exchange.MaxAgeForcedRequestUntilWithdrawModeSecs == 0 {
		c.Exchange.MaxAgeForcedRequestUntilWithdrawModeSecs = 14 * 24 * 3600
	}
	if c.Exchange.MinTimeInShutdownSecs == 0 {
		c.Exchange.MinTimeInShutdownSecs = 28 * 24 * 3600
	}
	if c.Exchange.TreeDepth == 0 {
		c.Exchange.TreeDepth = 28
	}
	if c.Exchange.TokenBits == 0 {
		c.Exchange.TokenBits = 10
	}
	if strings.TrimSpace(c.Exchange.ForcedRequestFee) == "" {
		c.Exchange.ForcedRequestFee = "0"
	}
}

// Validate rejects configurations that would produce an unsafe exchange.
func (c *Config) Validate() error {
	switch c.Backend {
	case "leveldb", "bolt", "memory":
	default:
		return fmt.Errorf("config: unknown storage backend %q", c.Backend)
	}
	if !common.IsHexAddress(c.Exchange.Operator) {
		return fmt.Errorf("config: Exchange.Operator is not a hex address")
	}
	if !common.IsHexAddress(c.Exchange.Owner) {
		return fmt.Errorf("config: Exchange.Owner is not a hex address")
	}
	if strings.TrimSpace(c.Exchange.NativeToken) != "" && !common.IsHexAddress(c.Exchange.NativeToken) {
		return fmt.Errorf("config: Exchange.NativeToken is not a hex address")
	}
	if root := strings.TrimSpace(c.Exchange.GenesisRoot); root != "" {
		if len(common.FromHex(root)) != common.HashLength {
			return fmt.Errorf("config: Exchange.GenesisRoot is not a 32-byte hash")
		}
	}
	if _, ok := new(big.Int).SetString(c.Exchange.ForcedRequestFee, 10); !ok {
		return fmt.Errorf("config: Exchange.ForcedRequestFee is not a decimal integer")
	}
	if c.Exchange.TreeDepth == 0 || c.Exchange.TreeDepth > 48 {
		return fmt.Errorf("config: Exchange.TreeDepth must be in [1,48]")
	}
	if c.Exchange.TokenBits == 0 || c.Exchange.TokenBits >= c.Exchange.TreeDepth {
		return fmt.Errorf("config: Exchange.TokenBits must be in [1,TreeDepth)")
	}
	if uint64(c.Exchange.MaxNumTokens) > uint64(1)<<c.Exchange.TokenBits {
		return fmt.Errorf("config: MaxNumTokens exceeds token index space")
	}
	return nil
}

// ForcedFee parses the configured forced-request bond.
func (c *Config) ForcedFee() *big.Int {
	fee, ok := new(big.Int).SetString(c.Exchange.ForcedRequestFee, 10)
	if !ok {
		return big.NewInt(0)
	}
	return fee
}

// DepositMaxAge returns the stale-deposit threshold as a duration.
func (c *Config) DepositMaxAge() time.Duration {
	return time.Duration(c.Exchange.MaxAgeDepositUntilWithdrawableSecs) * time.Second
}

// ForcedTriggerAge returns the forced-request timeout as a duration.
func (c *Config) ForcedTriggerAge() time.Duration {
	return time.Duration(c.Exchange.MaxAgeForcedRequestUntilWithdrawModeSecs) * time.Second
}

// ShutdownGrace returns the minimum shutdown window as a duration.
func (c *Config) ShutdownGrace() time.Duration {
	return time.Duration(c.Exchange.MinTimeInShutdownSecs) * time.Second
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.Exchange.Operator = common.Address{}.Hex()
	cfg.Exchange.Owner = common.Address{}.Hex()
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
