package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
)

// Config holds the application configuration
type Config struct {
	// BindAddress is the address the server listens on (e.g. "0.0.0.0:8080")
	BindAddress string
	// SerialPort is the path to the modem's serial port (e.g. "/dev/ttyUSB0")
	SerialPort string
	// BaudRate is the baud rate for serial communication with the modem (e.g. 115200)
	BaudRate int
	// LogLevel sets the logging level (e.g. "debug", "info", "warn", "error")
	LogLevel string
	// ScriptsFile is the YAML script book
	ScriptsFile string
	// InitScript names a script run once after the modem is attached
	InitScript string
	// HTTPToken, when set, is required as a bearer token to run scripts
	HTTPToken string
	// RatePerMin limits script runs requested over HTTP
	RatePerMin int

	// MQTTBroker is the broker URL for unsolicited events; empty logs them instead
	MQTTBroker   string
	MQTTClientID string
	MQTTTopic    string
	MQTTUsername string
	MQTTPassword string
}

// ConfigOption is a function that modifies a Config
type ConfigOption func(*Config) error

// LoadConfig creates a new config by applying the given options in order
func LoadConfig(opts ...ConfigOption) (*Config, error) {
	config := &Config{}

	for _, opt := range opts {
		if err := opt(config); err != nil {
			return nil, err
		}
	}

	return config, nil
}

// WithDefaults applies default configuration values
func WithDefaults() ConfigOption {
	return func(c *Config) error {
		c.BindAddress = "0.0.0.0:8080"
		c.SerialPort = "/dev/ttyUSB0"
		c.BaudRate = 115200
		c.LogLevel = "info"
		c.ScriptsFile = "scripts.yaml"
		c.RatePerMin = 30
		c.MQTTClientID = "modemchat"
		c.MQTTTopic = "modem/events"
		return nil
	}
}

// WithEnv loads configuration from environment variables
func WithEnv() ConfigOption {
	return func(c *Config) error {
		vars := map[string]*string{
			"BIND_ADDRESS":   &c.BindAddress,
			"SERIAL_PORT":    &c.SerialPort,
			"LOG_LEVEL":      &c.LogLevel,
			"SCRIPTS_FILE":   &c.ScriptsFile,
			"INIT_SCRIPT":    &c.InitScript,
			"HTTP_TOKEN":     &c.HTTPToken,
			"MQTT_BROKER":    &c.MQTTBroker,
			"MQTT_CLIENT_ID": &c.MQTTClientID,
			"MQTT_TOPIC":     &c.MQTTTopic,
			"MQTT_USERNAME":  &c.MQTTUsername,
			"MQTT_PASSWORD":  &c.MQTTPassword,
		}
		for key, dst := range vars {
			if v := os.Getenv(key); v != "" {
				*dst = v
			}
		}

		if baud := os.Getenv("BAUD_RATE"); baud != "" {
			b, err := strconv.Atoi(baud)
			if err != nil {
				return fmt.Errorf("invalid BAUD_RATE %q: %w", baud, err)
			}
			c.BaudRate = b
		}

		if rate := os.Getenv("RATE_PER_MIN"); rate != "" {
			r, err := strconv.Atoi(rate)
			if err != nil {
				return fmt.Errorf("invalid RATE_PER_MIN %q: %w", rate, err)
			}
			c.RatePerMin = r
		}

		return nil
	}
}

// WithFlags loads configuration from command-line flags. Only flags that
// were set on the command line override earlier values.
func WithFlags(fSet *flag.FlagSet) ConfigOption {
	return func(c *Config) error {
		var err error
		fSet.Visit(func(f *flag.Flag) {
			switch f.Name {
			case "bind-address":
				c.BindAddress = f.Value.String()
			case "serial-port":
				c.SerialPort = f.Value.String()
			case "baud-rate":
				if b, convErr := strconv.Atoi(f.Value.String()); convErr == nil {
					c.BaudRate = b
				} else {
					err = fmt.Errorf("invalid -baud-rate: %w", convErr)
				}
			case "log-level":
				c.LogLevel = f.Value.String()
			case "scripts":
				c.ScriptsFile = f.Value.String()
			case "init-script":
				c.InitScript = f.Value.String()
			case "rate-per-min":
				if r, convErr := strconv.Atoi(f.Value.String()); convErr == nil {
					c.RatePerMin = r
				} else {
					err = fmt.Errorf("invalid -rate-per-min: %w", convErr)
				}
			case "mqtt-broker":
				c.MQTTBroker = f.Value.String()
			case "mqtt-topic":
				c.MQTTTopic = f.Value.String()
			}
		})
		return err
	}
}

// Validate reports settings the daemon cannot start with.
func (c *Config) Validate() error {
	switch {
	case c.SerialPort == "":
		return errors.New("serial port is required")
	case c.BaudRate <= 0:
		return fmt.Errorf("baud rate must be positive, got %d", c.BaudRate)
	case c.ScriptsFile == "":
		return errors.New("scripts file is required")
	case c.RatePerMin <= 0:
		return fmt.Errorf("rate per minute must be positive, got %d", c.RatePerMin)
	}
	return nil
}
