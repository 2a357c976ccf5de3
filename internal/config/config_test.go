package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const validYAML = `
rpc_url: http://localhost:8545
contracts:
  vault: "0x0000000000000000000000000000000000000001"
  router: "0x0000000000000000000000000000000000000002"
  strategy_leverage: "0x0000000000000000000000000000000000000003"
  strategy_aave: "0x0000000000000000000000000000000000000004"
  asset_token: "0x0000000000000000000000000000000000000005"
schedule:
  comprehensive: "0 30 * * * *"
risk:
  warn_ltv: 0.65
  drift_tolerance_bps: 300
server:
  listen: ":9090"
  timeout: 30s
`

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadOverlaysFileOnDefaults(t *testing.T) {
	settings, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if settings.RPCURL != "http://localhost:8545" {
		t.Errorf("rpc_url = %q", settings.RPCURL)
	}
	if settings.ComprehensiveCron != "0 30 * * * *" {
		t.Errorf("comprehensive cron = %q", settings.ComprehensiveCron)
	}
	if settings.WarnLTV != 0.65 {
		t.Errorf("warn_ltv = %v", settings.WarnLTV)
	}
	if settings.DriftToleranceBps != 300 {
		t.Errorf("drift tolerance = %v", settings.DriftToleranceBps)
	}
	if settings.ListenAddr != ":9090" || settings.RequestTimeout != 30*time.Second {
		t.Errorf("server settings = %q %v", settings.ListenAddr, settings.RequestTimeout)
	}

	// Untouched fields keep their defaults.
	if settings.CriticalLTV != 0.80 {
		t.Errorf("critical_ltv default lost: %v", settings.CriticalLTV)
	}
	if settings.YieldCron != "0 */5 * * * *" {
		t.Errorf("yield cron default lost: %q", settings.YieldCron)
	}
	if settings.DeleverageDepth != 10 {
		t.Errorf("deleverage depth default lost: %v", settings.DeleverageDepth)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("CUSTODIAN_RPC_URL", "http://override:8545")
	t.Setenv("CUSTODIAN_LISTEN_ADDR", ":7070")
	t.Setenv("CUSTODIAN_DRIFT_TOLERANCE_BPS", "250")

	settings, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if settings.RPCURL != "http://override:8545" {
		t.Errorf("rpc_url = %q", settings.RPCURL)
	}
	if settings.ListenAddr != ":7070" {
		t.Errorf("listen = %q", settings.ListenAddr)
	}
	if settings.DriftToleranceBps != 250 {
		t.Errorf("drift tolerance = %v", settings.DriftToleranceBps)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	settings, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if settings.WarnLTV != 0.70 || settings.CriticalLTV != 0.80 {
		t.Errorf("thresholds = %v/%v", settings.WarnLTV, settings.CriticalLTV)
	}
	if settings.ListenAddr != ":8080" {
		t.Errorf("listen = %q", settings.ListenAddr)
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	if _, err := Load(writeConfig(t, "rpc_url: [broken")); err == nil {
		t.Fatal("malformed yaml accepted")
	}
}

func TestValidate(t *testing.T) {
	valid, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid settings rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Settings)
	}{
		{"missing rpc", func(s *Settings) { s.RPCURL = "" }},
		{"missing vault", func(s *Settings) { s.VaultAddress = "" }},
		{"garbage address", func(s *Settings) { s.RouterAddress = "not-hex" }},
		{"inverted thresholds", func(s *Settings) { s.WarnLTV = 0.9 }},
		{"zero volatility", func(s *Settings) { s.VolatilityThreshold = 0 }},
		{"oversized drift tolerance", func(s *Settings) { s.DriftToleranceBps = 10001 }},
		{"zero deleverage depth", func(s *Settings) { s.DeleverageDepth = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := valid
			tc.mutate(&s)
			if err := s.Validate(); err == nil {
				t.Fatalf("%s accepted", tc.name)
			}
		})
	}
}
