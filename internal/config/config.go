package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// Settings is the resolved runtime configuration: defaults, overlaid by the
// YAML file, overlaid by environment variables.
type Settings struct {
	RPCURL string

	VaultAddress            string
	RouterAddress           string
	StrategyLeverageAddress string
	StrategyAaveAddress     string
	AssetTokenAddress       string

	TelegramBotToken  string
	TelegramChannelID string

	ComprehensiveCron string
	YieldCron         string

	WarnLTV             float64
	CriticalLTV         float64
	VolatilityThreshold float64
	DriftToleranceBps   int64
	DeleverageDepth     int64

	ListenAddr      string
	RequestTimeout  time.Duration
	HTTPRetries     int
	SessionDBPath   string
	SessionLockPath string
}

type fileConfig struct {
	RPCURL string `yaml:"rpc_url"`

	Contracts struct {
		Vault            string `yaml:"vault"`
		Router           string `yaml:"router"`
		StrategyLeverage string `yaml:"strategy_leverage"`
		StrategyAave     string `yaml:"strategy_aave"`
		AssetToken       string `yaml:"asset_token"`
	} `yaml:"contracts"`

	Telegram struct {
		BotToken  string `yaml:"bot_token"`
		ChannelID string `yaml:"channel_id"`
	} `yaml:"telegram"`

	Schedule struct {
		Comprehensive string `yaml:"comprehensive"`
		Yield         string `yaml:"yield"`
	} `yaml:"schedule"`

	Risk struct {
		WarnLTV             *float64 `yaml:"warn_ltv"`
		CriticalLTV         *float64 `yaml:"critical_ltv"`
		VolatilityThreshold *float64 `yaml:"volatility_threshold"`
		DriftToleranceBps   *int64   `yaml:"drift_tolerance_bps"`
		DeleverageDepth     *int64   `yaml:"deleverage_depth"`
	} `yaml:"risk"`

	Server struct {
		Listen  string `yaml:"listen"`
		Timeout string `yaml:"timeout"`
		Retries *int   `yaml:"retries"`
	} `yaml:"server"`

	Sessions struct {
		Path     string `yaml:"path"`
		LockPath string `yaml:"lock_path"`
	} `yaml:"sessions"`
}

func Load(path string) (Settings, error) {
	settings, err := defaultSettings()
	if err != nil {
		return Settings{}, err
	}
	if err := applyFileConfig(resolveConfigPath(path), &settings); err != nil {
		return Settings{}, err
	}
	applyEnv(&settings)
	return settings, nil
}

func defaultSettings() (Settings, error) {
	dbPath, lockPath, err := defaultSessionPaths()
	if err != nil {
		return Settings{}, err
	}
	return Settings{
		ComprehensiveCron:   "0 0 * * * *",  // hourly
		YieldCron:           "0 */5 * * * *", // every five minutes
		WarnLTV:             0.70,
		CriticalLTV:         0.80,
		VolatilityThreshold: 0.10,
		DriftToleranceBps:   500,
		DeleverageDepth:     10,
		ListenAddr:          ":8080",
		RequestTimeout:      10 * time.Second,
		HTTPRetries:         2,
		SessionDBPath:       dbPath,
		SessionLockPath:     lockPath,
	}, nil
}

func resolveConfigPath(input string) string {
	if strings.TrimSpace(input) != "" {
		return input
	}
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "custodian", "config.yaml")
}

func defaultSessionPaths() (string, string, error) {
	base := os.Getenv("XDG_CACHE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", "", err
		}
		base = filepath.Join(home, ".cache")
	}
	dir := filepath.Join(base, "custodian")
	return filepath.Join(dir, "sessions.db"), filepath.Join(dir, "sessions.lock"), nil
}

func applyFileConfig(path string, settings *Settings) error {
	if path == "" {
		return nil
	}
	buf, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}

	if cfg.RPCURL != "" {
		settings.RPCURL = cfg.RPCURL
	}
	if cfg.Contracts.Vault != "" {
		settings.VaultAddress = cfg.Contracts.Vault
	}
	if cfg.Contracts.Router != "" {
		settings.RouterAddress = cfg.Contracts.Router
	}
	if cfg.Contracts.StrategyLeverage != "" {
		settings.StrategyLeverageAddress = cfg.Contracts.StrategyLeverage
	}
	if cfg.Contracts.StrategyAave != "" {
		settings.StrategyAaveAddress = cfg.Contracts.StrategyAave
	}
	if cfg.Contracts.AssetToken != "" {
		settings.AssetTokenAddress = cfg.Contracts.AssetToken
	}
	if cfg.Telegram.BotToken != "" {
		settings.TelegramBotToken = cfg.Telegram.BotToken
	}
	if cfg.Telegram.ChannelID != "" {
		settings.TelegramChannelID = cfg.Telegram.ChannelID
	}
	if cfg.Schedule.Comprehensive != "" {
		settings.ComprehensiveCron = cfg.Schedule.Comprehensive
	}
	if cfg.Schedule.Yield != "" {
		settings.YieldCron = cfg.Schedule.Yield
	}
	if cfg.Risk.WarnLTV != nil {
		settings.WarnLTV = *cfg.Risk.WarnLTV
	}
	if cfg.Risk.CriticalLTV != nil {
		settings.CriticalLTV = *cfg.Risk.CriticalLTV
	}
	if cfg.Risk.VolatilityThreshold != nil {
		settings.VolatilityThreshold = *cfg.Risk.VolatilityThreshold
	}
	if cfg.Risk.DriftToleranceBps != nil {
		settings.DriftToleranceBps = *cfg.Risk.DriftToleranceBps
	}
	if cfg.Risk.DeleverageDepth != nil {
		settings.DeleverageDepth = *cfg.Risk.DeleverageDepth
	}
	if cfg.Server.Listen != "" {
		settings.ListenAddr = cfg.Server.Listen
	}
	if cfg.Server.Timeout != "" {
		d, err := time.ParseDuration(cfg.Server.Timeout)
		if err != nil {
			return fmt.Errorf("config server.timeout: %w", err)
		}
		settings.RequestTimeout = d
	}
	if cfg.Server.Retries != nil {
		settings.HTTPRetries = *cfg.Server.Retries
	}
	if cfg.Sessions.Path != "" {
		settings.SessionDBPath = cfg.Sessions.Path
	}
	if cfg.Sessions.LockPath != "" {
		settings.SessionLockPath = cfg.Sessions.LockPath
	}
	return nil
}

func applyEnv(settings *Settings) {
	if v := os.Getenv("CUSTODIAN_RPC_URL"); v != "" {
		settings.RPCURL = v
	}
	if v := os.Getenv("CUSTODIAN_VAULT_ADDRESS"); v != "" {
		settings.VaultAddress = v
	}
	if v := os.Getenv("CUSTODIAN_ROUTER_ADDRESS"); v != "" {
		settings.RouterAddress = v
	}
	if v := os.Getenv("CUSTODIAN_STRATEGY_LEVERAGE_ADDRESS"); v != "" {
		settings.StrategyLeverageAddress = v
	}
	if v := os.Getenv("CUSTODIAN_STRATEGY_AAVE_ADDRESS"); v != "" {
		settings.StrategyAaveAddress = v
	}
	if v := os.Getenv("CUSTODIAN_ASSET_TOKEN_ADDRESS"); v != "" {
		settings.AssetTokenAddress = v
	}
	if v := os.Getenv("CUSTODIAN_TELEGRAM_BOT_TOKEN"); v != "" {
		settings.TelegramBotToken = v
	}
	if v := os.Getenv("CUSTODIAN_TELEGRAM_CHANNEL_ID"); v != "" {
		settings.TelegramChannelID = v
	}
	if v := os.Getenv("CUSTODIAN_LISTEN_ADDR"); v != "" {
		settings.ListenAddr = v
	}
	if v := os.Getenv("CUSTODIAN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.RequestTimeout = d
		}
	}
	if v := os.Getenv("CUSTODIAN_SESSION_DB_PATH"); v != "" {
		settings.SessionDBPath = v
	}
	if v := os.Getenv("CUSTODIAN_DRIFT_TOLERANCE_BPS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			settings.DriftToleranceBps = n
		}
	}
}

// Validate checks the fields every subcommand needs before dialing anything.
func (s Settings) Validate() error {
	if strings.TrimSpace(s.RPCURL) == "" {
		return fmt.Errorf("rpc_url is required")
	}
	for name, addr := range map[string]string{
		"contracts.vault":             s.VaultAddress,
		"contracts.router":            s.RouterAddress,
		"contracts.strategy_leverage": s.StrategyLeverageAddress,
		"contracts.strategy_aave":     s.StrategyAaveAddress,
		"contracts.asset_token":       s.AssetTokenAddress,
	} {
		if strings.TrimSpace(addr) == "" {
			return fmt.Errorf("%s is required", name)
		}
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("%s is not a valid address: %s", name, addr)
		}
	}
	if s.WarnLTV <= 0 || s.CriticalLTV <= s.WarnLTV {
		return fmt.Errorf("risk thresholds must satisfy 0 < warn_ltv < critical_ltv")
	}
	if s.VolatilityThreshold <= 0 {
		return fmt.Errorf("risk.volatility_threshold must be positive")
	}
	if s.DriftToleranceBps < 0 || s.DriftToleranceBps > 10000 {
		return fmt.Errorf("risk.drift_tolerance_bps must be in [0,10000]")
	}
	if s.DeleverageDepth <= 0 {
		return fmt.Errorf("risk.deleverage_depth must be positive")
	}
	if s.RequestTimeout <= 0 {
		return fmt.Errorf("server.timeout must be positive")
	}
	return nil
}

// Vault returns the vault address in checksummed form.
func (s Settings) Vault() common.Address { return common.HexToAddress(s.VaultAddress) }

func (s Settings) Router() common.Address { return common.HexToAddress(s.RouterAddress) }

func (s Settings) StrategyLeverage() common.Address {
	return common.HexToAddress(s.StrategyLeverageAddress)
}

func (s Settings) StrategyAave() common.Address { return common.HexToAddress(s.StrategyAaveAddress) }

func (s Settings) AssetToken() common.Address { return common.HexToAddress(s.AssetTokenAddress) }
