package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Default configuration values.
const (
	DefaultDomain = "localhost:8080"
	DefaultSTUN   = "stun:stun.l.google.com:19302"
)

// Config holds application configuration.
type Config struct {
	// Domain is the distork server host (optionally host:port)
	Domain string

	// WebSocketURL is constructed from domain
	WebSocketURL string

	// Username is the display name announced to the room
	Username string

	// ICE servers for WebRTC
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
	ForceRelay bool
}

// Options for loading config with CLI flag overrides.
type Options struct {
	Domain     string
	Username   string
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
	ForceRelay bool
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables (a .env file is merged in if present)
// 3. Hardcoded defaults - lowest priority
func Load(opts Options) (*Config, error) {
	// godotenv.Load does not overwrite variables already set
	_ = godotenv.Load()

	domain := firstNonEmpty(opts.Domain, os.Getenv("DISTORK_DOMAIN"), DefaultDomain)
	username := firstNonEmpty(opts.Username, os.Getenv("DISTORK_USERNAME"))
	stunServer := firstNonEmpty(opts.STUNServer, os.Getenv("STUN_SERVER"), DefaultSTUN)
	turnServer := firstNonEmpty(opts.TURNServer, os.Getenv("TURN_SERVER"))
	turnUser := firstNonEmpty(opts.TURNUser, os.Getenv("TURN_USERNAME"))
	turnPass := firstNonEmpty(opts.TURNPass, os.Getenv("TURN_PASSWORD"))

	return &Config{
		Domain:       domain,
		WebSocketURL: websocketURL(domain),
		Username:     username,
		STUNServer:   stunServer,
		TURNServer:   turnServer,
		TURNUser:     turnUser,
		TURNPass:     turnPass,
		ForceRelay:   opts.ForceRelay,
	}, nil
}

// websocketURL builds the relay endpoint. Local servers speak plain ws, as
// the distork dev setup listens on :8080 without TLS.
func websocketURL(domain string) string {
	scheme := "wss"
	if strings.HasPrefix(domain, "localhost") || strings.HasPrefix(domain, "127.0.0.1") {
		scheme = "ws"
	}
	return fmt.Sprintf("%s://%s/ws", scheme, domain)
}

// GetSTUNServers returns STUN server URLs as strings.
func (c *Config) GetSTUNServers() []string {
	return []string{c.STUNServer}
}

// GetTURNServers returns TURN server URLs if configured. TURNServer is a bare
// hostname; the scheme and port are added here.
func (c *Config) GetTURNServers() []string {
	if c.TURNServer == "" {
		return nil
	}
	host := strings.TrimPrefix(c.TURNServer, "turn:")
	return []string{
		fmt.Sprintf("turn:%s:3478?transport=udp", host),
		fmt.Sprintf("turn:%s:3478?transport=tcp", host),
		fmt.Sprintf("turns:%s:5349?transport=tcp", host),
	}
}

// GetTURNCredentials returns TURN username and password.
func (c *Config) GetTURNCredentials() (string, string) {
	return c.TURNUser, c.TURNPass
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
