// Package config loads the node's INI-formatted configuration file and
// keeps it current via a filesystem watch, per spec.md §6 "Configuration
// options" and SPEC_FULL.md §6's ambient config/hot-reload bindings.
//
// Grounded in original_source src/config/mod.rs: a plain [Section] key=value
// INI format, PBKDF2 password hashing on write with a hash-or-plaintext
// detection pass on load, and CIDR-list parsing for admin access control.
// No INI parsing library exists anywhere in the example pack (checked: the
// teacher, moshee-sound, n0remac-robot-webrtc, snapetech-plexTuner,
// c6ai-hlf-easy all lack one) so the line-oriented scan below is the one
// ambient concern implemented directly on bufio.Scanner rather than a
// third-party dependency — see DESIGN.md.
package config

import (
	"bufio"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	pcperrors "github.com/alxayo/go-rtmp/internal/errors"
	"github.com/alxayo/go-rtmp/internal/pcp/gnuid"
)

const (
	pbkdf2Iterations = 100_000
	pbkdf2KeyLen     = 32
	hashPrefix       = "pbkdf2$"
)

// Config is the node's fully parsed configuration, per spec.md §6's
// "Configuration options (recognized keys and effects)" table.
type Config struct {
	ServerAddress string
	ServerPort    int
	RTMPPort      int

	LocalAddress []*net.IPNet

	RootMode       bool
	RootSessionID  gnuid.GnuId
	HasRootSession bool

	Username     string
	PasswordHash string // a "pbkdf2$salt$hash" triple after Load when Username is also set
}

// applyDefaults fills zero values with the node's documented defaults
// (spec.md §6 "Ports").
func (c *Config) applyDefaults() {
	if c.ServerAddress == "" {
		c.ServerAddress = "0.0.0.0"
	}
	if c.ServerPort == 0 {
		c.ServerPort = 7144
	}
	if c.RTMPPort == 0 {
		c.RTMPPort = 1935
	}
}

// Load reads and parses an INI-formatted config file at path, per
// original_source src/config/mod.rs's section/key-value walk.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, pcperrors.NewConfigError("config.Load: open", err)
	}
	defer f.Close()

	cfg := &Config{}
	section := ""
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			section = strings.ToLower(strings.TrimSpace(line[1 : len(line)-1]))
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, pcperrors.NewConfigError("config.Load",
				fmt.Errorf("%s:%d: expected key=value, got %q", path, lineNo, line))
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)
		if err := cfg.apply(section, key, value); err != nil {
			return nil, pcperrors.NewConfigError("config.Load",
				fmt.Errorf("%s:%d: %w", path, lineNo, err))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, pcperrors.NewConfigError("config.Load: scan", err)
	}

	if cfg.Username != "" && cfg.PasswordHash != "" {
		cfg.PasswordHash = normalizePasswordField(cfg.PasswordHash)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) apply(section, key, value string) error {
	switch section {
	case "", "server":
		switch key {
		case "server_address":
			c.ServerAddress = value
		case "server_port":
			n, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("server_port: %w", err)
			}
			c.ServerPort = n
		case "rtmp_port":
			n, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("rtmp_port: %w", err)
			}
			c.RTMPPort = n
		}
	case "privacy":
		switch key {
		case "local_address":
			for _, field := range strings.Split(value, ",") {
				field = strings.TrimSpace(field)
				if field == "" {
					continue
				}
				_, cidr, err := net.ParseCIDR(field)
				if err != nil {
					return fmt.Errorf("local_address %q: %w", field, err)
				}
				c.LocalAddress = append(c.LocalAddress, cidr)
			}
		case "username":
			c.Username = value
		case "password":
			c.PasswordHash = value
		}
	case "root":
		switch key {
		case "root_mode":
			b, err := strconv.ParseBool(value)
			if err != nil {
				return fmt.Errorf("root_mode: %w", err)
			}
			c.RootMode = b
		case "root_session_id":
			id, err := gnuid.ParseHex(value)
			if err != nil {
				return fmt.Errorf("root_session_id: %w", err)
			}
			c.RootSessionID = id
			c.HasRootSession = true
		}
	}
	return nil
}

// AllowsAdmin reports whether addr falls within one of the configured
// local_address CIDR blocks (spec.md §6 "local_address").
func (c *Config) AllowsAdmin(addr net.IP) bool {
	if len(c.LocalAddress) == 0 {
		return addr.IsLoopback()
	}
	for _, cidr := range c.LocalAddress {
		if cidr.Contains(addr) {
			return true
		}
	}
	return false
}

// normalizePasswordField implements original_source's "try to parse the
// stored value as an already-hashed PBKDF2 triple first, fall back to
// plaintext" detection (SPEC_FULL.md §10 supplement). The plaintext case is
// hashed silently; no warning is logged.
func normalizePasswordField(raw string) string {
	if strings.HasPrefix(raw, hashPrefix) && len(strings.Split(raw, "$")) == 3 {
		return raw
	}
	return HashPassword(raw)
}

// HashPassword derives a PBKDF2-HMAC-SHA256 hash of password with a fresh
// random salt, returning the "pbkdf2$salt$hash" triple. Load keeps the
// result in Config.PasswordHash only; the config file is not rewritten.
func HashPassword(password string) string {
	salt := make([]byte, 16)
	_, _ = rand.Read(salt)
	return hashWithSalt(password, salt)
}

func hashWithSalt(password string, salt []byte) string {
	derived := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, pbkdf2KeyLen, sha256.New)
	return hashPrefix + base64.RawURLEncoding.EncodeToString(salt) + "$" + hex.EncodeToString(derived)
}

// VerifyPassword checks candidate against stored (a "pbkdf2$salt$hash"
// triple produced by HashPassword), surfaced to the admin HTTP caller as a
// 401 on mismatch (spec.md §7 "Auth errors").
func VerifyPassword(stored, candidate string) bool {
	parts := strings.Split(stored, "$")
	if len(parts) != 3 || parts[0]+"$" != hashPrefix {
		return false
	}
	salt, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return false
	}
	return hashWithSalt(candidate, salt) == stored
}
