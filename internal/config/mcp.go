package config

import (
	"fmt"
	"net"
	"strings"

	"github.com/caarlos0/env/v11"
)

// MCPConfig configures the agent sidecar (cmd/mcp).
type MCPConfig struct {
	Listen      string `env:"VM_MCP_LISTEN" envDefault:"127.0.0.1:8090"`
	ServerWSURL string `env:"VM_MCP_SERVER_WS_URL" envDefault:"ws://127.0.0.1:8080/v1/ws"`
	StateFile   string `env:"VM_MCP_STATE_FILE" envDefault:"./data/mcp/sessions.json"`
	MaxSessions int    `env:"VM_MCP_MAX_SESSIONS" envDefault:"256"`
	Seed        uint64 `env:"VM_MCP_SEED"`

	HMACSecret string `env:"VM_MCP_HMAC_SECRET"`
	// Unset means: decided by DEPLOY_ENV.
	RequireHMAC     *bool `env:"VM_MCP_REQUIRE_HMAC"`
	AllowLegacyHMAC *bool `env:"VM_MCP_HMAC_ALLOW_LEGACY"`

	LogLevel  string `env:"VM_LOG_LEVEL" envDefault:"info"`
	DevLog    bool   `env:"VM_DEV_LOG"`
	DeployEnv string `env:"DEPLOY_ENV"`
}

func ParseMCP() (MCPConfig, error) {
	var c MCPConfig
	if err := env.Parse(&c); err != nil {
		return MCPConfig{}, fmt.Errorf("parse env: %w", err)
	}
	return c, nil
}

func (c MCPConfig) hardened() bool {
	switch strings.ToLower(strings.TrimSpace(c.DeployEnv)) {
	case "staging", "production":
		return true
	default:
		return false
	}
}

func (c MCPConfig) HMACRequired() bool {
	if c.RequireHMAC != nil {
		return *c.RequireHMAC
	}
	return c.hardened()
}

func (c MCPConfig) LegacyHMACAllowed() bool {
	if c.AllowLegacyHMAC != nil {
		return *c.AllowLegacyHMAC
	}
	return !c.hardened()
}

func (c MCPConfig) Validate() error {
	secret := strings.TrimSpace(c.HMACSecret)
	if c.HMACRequired() && secret == "" {
		return fmt.Errorf("hmac secret required (set VM_MCP_HMAC_SECRET)")
	}
	if secret == "" && !isLoopbackListenAddress(c.Listen) {
		return fmt.Errorf("refusing insecure MCP bind on non-loopback address %q without hmac secret", c.Listen)
	}
	if strings.TrimSpace(c.ServerWSURL) == "" {
		return fmt.Errorf("empty server ws url")
	}
	return nil
}

func isLoopbackListenAddress(addr string) bool {
	host := strings.TrimSpace(addr)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.Trim(strings.TrimSpace(host), "[]")
	if host == "" {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
