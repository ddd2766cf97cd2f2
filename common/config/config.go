package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
)

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MaxIdle  int
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// MQTTConfig holds MQTT broker settings.
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	QoS      byte
}

// GetDSN returns the lib/pq keyword/value connection string. Values with
// spaces, quotes or backslashes are single-quoted.
func (c *DatabaseConfig) GetDSN() string {
	pairs := []struct{ k, v string }{
		{"host", c.Host},
		{"port", strconv.Itoa(c.Port)},
		{"user", c.User},
		{"password", c.Password},
		{"dbname", c.Database},
		{"sslmode", c.SSLMode},
	}
	parts := make([]string, 0, len(pairs))
	for _, p := range pairs {
		parts = append(parts, p.k+"="+dsnValue(p.v))
	}
	return strings.Join(parts, " ")
}

func dsnValue(v string) string {
	if v != "" && !strings.ContainsAny(v, " '\\") {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

// LoadFromEnv overrides fields from <prefix>_HOST, _PORT, _USER, _PASSWORD,
// _NAME, _SSLMODE, _MAX_CONNS and _MAX_IDLE when set.
func (c *DatabaseConfig) LoadFromEnv(prefix string) {
	c.Host = String(prefix+"_HOST", c.Host)
	c.Port = Int(prefix+"_PORT", c.Port)
	c.User = String(prefix+"_USER", c.User)
	c.Password = String(prefix+"_PASSWORD", c.Password)
	c.Database = String(prefix+"_NAME", c.Database)
	c.SSLMode = String(prefix+"_SSLMODE", c.SSLMode)
	c.MaxConns = Int(prefix+"_MAX_CONNS", c.MaxConns)
	c.MaxIdle = Int(prefix+"_MAX_IDLE", c.MaxIdle)
}

func (c *DatabaseConfig) Validate() error {
	if c.Host == "" || c.Database == "" {
		return fmt.Errorf("database host and name are required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("database port %d out of range", c.Port)
	}
	if c.MaxIdle > c.MaxConns && c.MaxConns > 0 {
		return fmt.Errorf("database max idle %d exceeds max conns %d", c.MaxIdle, c.MaxConns)
	}
	return nil
}

// LoadFromEnv overrides fields from <prefix>_ADDR, _PASSWORD and _DB when set.
func (c *RedisConfig) LoadFromEnv(prefix string) {
	c.Addr = String(prefix+"_ADDR", c.Addr)
	c.Password = String(prefix+"_PASSWORD", c.Password)
	c.DB = Int(prefix+"_DB", c.DB)
}

func (c *RedisConfig) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("redis addr is required")
	}
	if c.DB < 0 {
		return fmt.Errorf("redis db %d is negative", c.DB)
	}
	return nil
}

// LoadFromEnv overrides fields from <prefix>_BROKER, _CLIENT_ID, _USERNAME,
// _PASSWORD and _QOS when set.
func (c *MQTTConfig) LoadFromEnv(prefix string) {
	c.Broker = String(prefix+"_BROKER", c.Broker)
	c.ClientID = String(prefix+"_CLIENT_ID", c.ClientID)
	c.Username = String(prefix+"_USERNAME", c.Username)
	c.Password = String(prefix+"_PASSWORD", c.Password)
	if qos := Int(prefix+"_QOS", int(c.QoS)); qos >= 0 && qos <= 2 {
		c.QoS = byte(qos)
	}
}

// Validate checks the broker URL scheme accepted by paho.
func (c *MQTTConfig) Validate() error {
	u, err := url.Parse(c.Broker)
	if err != nil || u.Host == "" {
		return fmt.Errorf("invalid mqtt broker %q", c.Broker)
	}
	switch u.Scheme {
	case "tcp", "mqtt", "ssl", "tls", "mqtts", "ws", "wss":
	default:
		return fmt.Errorf("unsupported mqtt broker scheme %q", u.Scheme)
	}
	if c.ClientID == "" {
		return fmt.Errorf("mqtt client id is required")
	}
	return nil
}

// String returns the environment value of key, or def when unset or empty.
func String(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Int returns the integer value of key, or def when unset or not a number.
func Int(key string, def int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return def
}
