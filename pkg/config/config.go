// Package config holds the configuration surface shared by the server,
// client, and relay endpoint roles (spec §6).
package config

import (
	"fmt"
	"time"
)

// Role selects which endpoint role a Connection plays.
type Role int

const (
	RoleServer Role = iota
	RoleClient
	RoleHost
	RoleRelay
)

func (r Role) String() string {
	switch r {
	case RoleServer:
		return "server"
	case RoleClient:
		return "client"
	case RoleHost:
		return "host"
	case RoleRelay:
		return "relay"
	default:
		return "unknown"
	}
}

// Config enumerates the fields of the configuration surface in spec §6,
// with the stated defaults applied by New. The logger is not a field; it is
// passed to the buffer and connection constructors.
type Config struct {
	Role Role

	ServerAddr string
	TCPPort    int
	UDPPort    int

	MaxClients int
	Whitelist  []string // empty means "accept any"

	HostAddr          string // empty means "first admitted client becomes host"
	Migratable        bool
	ShutdownWhenEmpty bool

	ConnectionRequestRate    time.Duration
	ConnectionRequestLimit   int
	ConnectionRequestTimeout time.Duration

	BufferSize int

	ProtocolVersion    uint16
	MinProtocolVersion uint16
	AppVersion         uint16
	MinAppVersion      uint16

	AppID     string // <= 64 ASCII bytes
	SessionID string // <= 64 ASCII bytes

	MeasureBandwidth bool
	UseCompression   bool

	Threaded          bool
	ThreadUpdateDelta time.Duration
}

// Option mutates a Config being built by New.
type Option func(*Config)

func WithRole(r Role) Option                { return func(c *Config) { c.Role = r } }
func WithServerAddr(addr string) Option     { return func(c *Config) { c.ServerAddr = addr } }
func WithTCPPort(p int) Option              { return func(c *Config) { c.TCPPort = p } }
func WithUDPPort(p int) Option              { return func(c *Config) { c.UDPPort = p } }
func WithMaxClients(n int) Option           { return func(c *Config) { c.MaxClients = n } }
func WithWhitelist(ips ...string) Option    { return func(c *Config) { c.Whitelist = ips } }
func WithHostAddr(addr string) Option       { return func(c *Config) { c.HostAddr = addr } }
func WithMigratable(b bool) Option          { return func(c *Config) { c.Migratable = b } }
func WithShutdownWhenEmpty(b bool) Option   { return func(c *Config) { c.ShutdownWhenEmpty = b } }
func WithAppID(id string) Option            { return func(c *Config) { c.AppID = id } }
func WithSessionID(id string) Option        { return func(c *Config) { c.SessionID = id } }
func WithBufferSize(n int) Option           { return func(c *Config) { c.BufferSize = n } }
func WithUseCompression(b bool) Option      { return func(c *Config) { c.UseCompression = b } }
func WithMeasureBandwidth(b bool) Option    { return func(c *Config) { c.MeasureBandwidth = b } }
func WithThreaded(b bool) Option            { return func(c *Config) { c.Threaded = b } }
func WithThreadUpdateDelta(d time.Duration) Option {
	return func(c *Config) { c.ThreadUpdateDelta = d }
}
func WithConnectionRequestRate(d time.Duration) Option {
	return func(c *Config) { c.ConnectionRequestRate = d }
}
func WithConnectionRequestLimit(n int) Option {
	return func(c *Config) { c.ConnectionRequestLimit = n }
}
func WithConnectionRequestTimeout(d time.Duration) Option {
	return func(c *Config) { c.ConnectionRequestTimeout = d }
}
func WithProtocolVersion(version, min uint16) Option {
	return func(c *Config) { c.ProtocolVersion, c.MinProtocolVersion = version, min }
}
func WithAppVersion(version, min uint16) Option {
	return func(c *Config) { c.AppVersion, c.MinAppVersion = version, min }
}

// New builds a Config starting from the spec's stated defaults and applies
// opts in order.
func New(opts ...Option) *Config {
	c := &Config{
		ServerAddr:               "127.0.0.1",
		TCPPort:                  8000,
		UDPPort:                  9000,
		MaxClients:               4,
		Migratable:               false,
		ShutdownWhenEmpty:        true,
		ConnectionRequestRate:    5000 * time.Millisecond,
		ConnectionRequestLimit:   10,
		ConnectionRequestTimeout: 20000 * time.Millisecond,
		BufferSize:               2048,
		UseCompression:           true,
		Threaded:                 true,
		ThreadUpdateDelta:        40 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	// shutdownWhenEmpty + migratable decide together whether the relay
	// stays up with zero clients (spec §4.5.3): if the relay isn't allowed
	// to shut down empty, it must be able to migrate host.
	if !c.ShutdownWhenEmpty {
		c.Migratable = true
	}
	return c
}

// Validate rejects configuration combinations the runtime cannot act on.
func (c *Config) Validate() error {
	if len(c.AppID) > 64 {
		return fmt.Errorf("config: appId exceeds 64 bytes")
	}
	if len(c.SessionID) > 64 {
		return fmt.Errorf("config: sessionId exceeds 64 bytes")
	}
	if c.MaxClients <= 0 {
		return fmt.Errorf("config: maxClients must be positive")
	}
	if c.BufferSize <= 28 {
		return fmt.Errorf("config: bufferSize must exceed the packet header size")
	}
	if c.Role != RoleRelay && c.Migratable {
		return fmt.Errorf("config: migratable is only meaningful for relay sessions")
	}
	return nil
}
