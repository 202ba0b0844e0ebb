// Package config loads irrigationd settings from an optional YAML file
// overlaid by environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/LeonardoBeccarini/irrigation_session/internal/services/dispatcher"
)

type MQTT struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	User         string `yaml:"user"`
	Password     string `yaml:"password"`
	ClientID     string `yaml:"client_id"`
	MaxRetries   int    `yaml:"max_retries"`
	CleanSession bool   `yaml:"clean_session"`
}

type Influx struct {
	URL    string `yaml:"url"`
	Token  string `yaml:"token"`
	Org    string `yaml:"org"`
	Bucket string `yaml:"bucket"`
}

type Redis struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"`
	TTL      time.Duration `yaml:"ttl"`
}

type Dispatch struct {
	At               string  `yaml:"at"`
	Concurrency      int     `yaml:"concurrency"`
	PromptsPerSecond float64 `yaml:"prompts_per_second"`
	Burst            int     `yaml:"burst"`
}

type Session struct {
	ReminderInterval time.Duration `yaml:"reminder_interval"`
	CounterUnitM3    float64       `yaml:"counter_unit_m3"`
	FlowTablePath    string        `yaml:"flow_table_path"`
	SendTimeout      time.Duration `yaml:"send_timeout"`
}

type Config struct {
	Timezone   string   `yaml:"timezone"`
	LogLevel   string   `yaml:"log_level"`
	SQLitePath string   `yaml:"sqlite_path"`
	HTTPAddr   string   `yaml:"http_addr"`
	GRPCAddr   string   `yaml:"grpc_addr"`
	MQTT       MQTT     `yaml:"mqtt"`
	Influx     Influx   `yaml:"influx"`
	Redis      Redis    `yaml:"redis"`
	Dispatch   Dispatch `yaml:"dispatch"`
	Session    Session  `yaml:"session"`
}

func Default() Config {
	return Config{
		Timezone:   "Asia/Tashkent",
		LogLevel:   "info",
		SQLitePath: "irrigation.db",
		HTTPAddr:   ":8080",
		GRPCAddr:   ":9090",
		MQTT: MQTT{
			Host:       "localhost",
			Port:       1883,
			ClientID:   "irrigationd",
			MaxRetries: 10,
		},
		Influx: Influx{
			URL:    "http://influxdb:8086",
			Org:    "sdcc",
			Bucket: "irrigation",
		},
		Redis: Redis{
			Prefix: "irrigation:dedup:",
			TTL:    24 * time.Hour,
		},
		Dispatch: Dispatch{
			At:               "07:00",
			Concurrency:      8,
			PromptsPerSecond: 20,
			Burst:            5,
		},
		Session: Session{
			ReminderInterval: 15 * time.Minute,
			CounterUnitM3:    1,
			SendTimeout:      10 * time.Second,
		},
	}
}

// Load reads path (skipped when empty) on top of the defaults, then applies
// environment overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Timezone = getenv("TZ", c.Timezone)
	c.LogLevel = getenv("LOG_LEVEL", c.LogLevel)
	c.SQLitePath = getenv("SQLITE_PATH", c.SQLitePath)
	c.HTTPAddr = getenv("HTTP_ADDR", c.HTTPAddr)
	c.GRPCAddr = getenv("GRPC_ADDR", c.GRPCAddr)

	c.MQTT.Host = getenv("MQTT_HOST", c.MQTT.Host)
	c.MQTT.Port = getenvInt("MQTT_PORT", c.MQTT.Port)
	c.MQTT.User = getenv("MQTT_USER", c.MQTT.User)
	c.MQTT.Password = getenv("MQTT_PASSWORD", c.MQTT.Password)
	c.MQTT.ClientID = getenv("MQTT_CLIENT_ID", c.MQTT.ClientID)

	c.Influx.URL = getenv("INFLUX_URL", c.Influx.URL)
	c.Influx.Token = getenv("INFLUX_TOKEN", c.Influx.Token)
	c.Influx.Org = getenv("INFLUX_ORG", c.Influx.Org)
	c.Influx.Bucket = getenv("INFLUX_BUCKET", c.Influx.Bucket)

	c.Redis.Addr = getenv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getenv("REDIS_PASSWORD", c.Redis.Password)

	c.Dispatch.At = getenv("DISPATCH_AT", c.Dispatch.At)
	c.Session.ReminderInterval = getenvDuration("REMINDER_INTERVAL", c.Session.ReminderInterval)
	c.Session.FlowTablePath = getenv("FLOW_TABLE_PATH", c.Session.FlowTablePath)
}

// Validate rejects settings the services cannot run with.
func (c Config) Validate() error {
	var errs []error
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("timezone %q: %w", c.Timezone, err))
	}
	if _, err := dispatcher.ParseTimeOfDay(c.Dispatch.At); err != nil {
		errs = append(errs, fmt.Errorf("dispatch.at: %w", err))
	}
	if c.Session.ReminderInterval <= 0 {
		errs = append(errs, errors.New("session.reminder_interval must be positive"))
	}
	if c.Session.CounterUnitM3 <= 0 {
		errs = append(errs, errors.New("session.counter_unit_m3 must be positive"))
	}
	if c.MQTT.Port <= 0 || c.MQTT.Port > 65535 {
		errs = append(errs, fmt.Errorf("mqtt.port %d out of range", c.MQTT.Port))
	}
	if c.Dispatch.Concurrency <= 0 {
		errs = append(errs, errors.New("dispatch.concurrency must be positive"))
	}
	if c.Dispatch.PromptsPerSecond < 0 {
		errs = append(errs, errors.New("dispatch.prompts_per_second must not be negative"))
	}
	if c.SQLitePath == "" {
		errs = append(errs, errors.New("sqlite_path is required"))
	}
	return errors.Join(errs...)
}

// Location returns the configured time zone. Validate has already checked it.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// DispatcherConfig translates the dispatch section.
func (c Config) DispatcherConfig() dispatcher.Config {
	at, _ := dispatcher.ParseTimeOfDay(c.Dispatch.At)
	return dispatcher.Config{
		At:               at,
		Location:         c.Location(),
		Concurrency:      c.Dispatch.Concurrency,
		PromptsPerSecond: c.Dispatch.PromptsPerSecond,
		Burst:            c.Dispatch.Burst,
	}
}

func getenv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func getenvInt(k string, d int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return d
}

func getenvDuration(k string, d time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			return dur
		}
	}
	return d
}
