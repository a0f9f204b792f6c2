// Package config holds the process-wide configuration of a core node,
// read from the environment with in-process overrides taking precedence,
// per spec §6. Layering mirrors rpc/common/config.go's ServerConfig/
// ClientConfig structs.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/psgo/ps/internal/message"
)

// Config is the fully resolved configuration of one node.
type Config struct {
	SchedulerURI  string
	SchedulerPort int
	Role          message.Role
	NumWorker     int
	NumServer     int

	NodeHost           string
	Interface          string
	Port               int
	HeartbeatInterval  int // ms, 0 disables
	HeartbeatTimeout   int // seconds
	ResendTimeout      int // ms, 0 disables
	DropRate           int // 0-100
	VanType            string
	Local              bool
	LogLevel           string
}

// Environment keys per spec §6; the first five are required.
const (
	KeySchedulerURI  = "PS_SCHEDULER_URI"
	KeySchedulerPort = "PS_SCHEDULER_PORT"
	KeyRole          = "PS_ROLE"
	KeyNumWorker     = "PS_NUM_WORKER"
	KeyNumServer     = "PS_NUM_SERVER"
	KeyNodeHost      = "PS_NODE_HOST"
	KeyInterface     = "PS_INTERFACE"
	KeyPort          = "PS_PORT"
	KeyHBInterval    = "PS_HEARTBEAT_INTERVAL"
	KeyHBTimeout     = "PS_HEARTBEAT_TIMEOUT"
	KeyResendTimeout = "PS_RESEND_TIMEOUT"
	KeyDropRate      = "PS_DROP_RATE"
	KeyVanType       = "PS_VAN_TYPE"
	KeyLocal         = "PS_LOCAL"
	KeyLogLevel      = "PS_LOG_LEVEL"
)

// Option overrides a field on top of the environment-derived Config,
// letting in-process callers take precedence over the environment.
type Option func(*Config)

func WithRole(r message.Role) Option           { return func(c *Config) { c.Role = r } }
func WithNumWorker(n int) Option               { return func(c *Config) { c.NumWorker = n } }
func WithNumServer(n int) Option               { return func(c *Config) { c.NumServer = n } }
func WithPort(p int) Option                    { return func(c *Config) { c.Port = p } }
func WithNodeHost(h string) Option             { return func(c *Config) { c.NodeHost = h } }
func WithScheduler(host string, port int) Option {
	return func(c *Config) { c.SchedulerURI = host; c.SchedulerPort = port }
}

// FromEnv reads the required and optional keys from the environment and
// applies overrides, in that order. Missing required keys are a
// configuration error (spec §7): fail fast.
func FromEnv(overrides ...Option) (*Config, error) {
	c := &Config{
		VanType:  "tcp",
		LogLevel: "info",
	}

	var missing []string
	req := func(key string) string {
		v := os.Getenv(key)
		if v == "" {
			missing = append(missing, key)
		}
		return v
	}

	c.SchedulerURI = req(KeySchedulerURI)
	schedPortStr := req(KeySchedulerPort)
	roleStr := req(KeyRole)
	numWorkerStr := req(KeyNumWorker)
	numServerStr := req(KeyNumServer)

	if len(missing) > 0 {
		return nil, fmt.Errorf("config: missing required environment variable(s): %s", strings.Join(missing, ", "))
	}

	var err error
	if c.SchedulerPort, err = strconv.Atoi(schedPortStr); err != nil {
		return nil, fmt.Errorf("config: invalid %s: %v", KeySchedulerPort, err)
	}
	if c.NumWorker, err = strconv.Atoi(numWorkerStr); err != nil {
		return nil, fmt.Errorf("config: invalid %s: %v", KeyNumWorker, err)
	}
	if c.NumServer, err = strconv.Atoi(numServerStr); err != nil {
		return nil, fmt.Errorf("config: invalid %s: %v", KeyNumServer, err)
	}
	switch strings.ToLower(roleStr) {
	case "scheduler":
		c.Role = message.RoleScheduler
	case "server":
		c.Role = message.RoleServer
	case "worker":
		c.Role = message.RoleWorker
	default:
		return nil, fmt.Errorf("config: invalid %s: %q (want scheduler, server or worker)", KeyRole, roleStr)
	}

	c.NodeHost = os.Getenv(KeyNodeHost)
	c.Interface = os.Getenv(KeyInterface)
	c.Port = getIntEnv(KeyPort, 0)
	c.HeartbeatInterval = getIntEnv(KeyHBInterval, 0)
	c.HeartbeatTimeout = getIntEnv(KeyHBTimeout, 20)
	c.ResendTimeout = getIntEnv(KeyResendTimeout, 0)
	c.DropRate = getIntEnv(KeyDropRate, 0)
	if v := os.Getenv(KeyVanType); v != "" {
		c.VanType = v
	}
	c.Local = os.Getenv(KeyLocal) != ""
	if v := os.Getenv(KeyLogLevel); v != "" {
		c.LogLevel = v
	}

	for _, opt := range overrides {
		opt(c)
	}

	return c, nil
}

func getIntEnv(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// String renders the configuration in sections, matching the teacher's
// ServerConfig.String()/ClientConfig.String() formatting.
func (c *Config) String() string {
	var sb strings.Builder
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(strings.ToUpper(title))
		sb.WriteString("\n")
	}
	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Cluster")
	addField("Role", c.Role.String())
	addField("Scheduler", fmt.Sprintf("%s:%d", c.SchedulerURI, c.SchedulerPort))
	addField("Num Workers", strconv.Itoa(c.NumWorker))
	addField("Num Servers", strconv.Itoa(c.NumServer))

	addSection("Node")
	addField("Host", c.NodeHost)
	addField("Interface", c.Interface)
	addField("Port", strconv.Itoa(c.Port))
	addField("Local (ipc)", fmt.Sprintf("%t", c.Local))

	addSection("Timing")
	addField("Heartbeat Interval", fmt.Sprintf("%d ms", c.HeartbeatInterval))
	addField("Heartbeat Timeout", fmt.Sprintf("%d sec", c.HeartbeatTimeout))
	addField("Resend Timeout", fmt.Sprintf("%d ms", c.ResendTimeout))
	addField("Drop Rate", fmt.Sprintf("%d%%", c.DropRate))

	addSection("Misc")
	addField("Van Type", c.VanType)
	addField("Log Level", c.LogLevel)

	return sb.String()
}
