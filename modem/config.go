package modem

import (
	"fmt"
	"log/slog"
	"time"

	"i4.energy/across/modemchat/at"
)

// Config holds the settings a Chat is created with. It is not modified
// after New.
type Config struct {
	// ReceiveBufferSize is the capacity of the line buffer, delimiter
	// included.
	ReceiveBufferSize int
	// Delimiter terminates lines in both directions.
	Delimiter string
	// Filter lists bytes dropped from the input before framing.
	Filter string
	// MaxArgs is the maximum number of tokens a matched line may produce.
	MaxArgs int
	// UserData is passed unchanged to every handler and result callback.
	UserData any
	// Unsolicited is matched against every line, script or not.
	Unsolicited at.MatchSet
	// PollInterval is the period of the deadline check.
	PollInterval time.Duration

	Logger  *slog.Logger
	Metrics *Metrics
}

func (c *Config) validate() error {
	switch {
	case c.Delimiter == "":
		return fmt.Errorf("%w: %w", ErrInvalidConfig, at.ErrEmptyDelimiter)
	case c.ReceiveBufferSize <= len(c.Delimiter):
		return fmt.Errorf("%w: %w", ErrInvalidConfig, at.ErrBufferTooSmall)
	case c.MaxArgs <= 0:
		return fmt.Errorf("%w: argument capacity must be positive", ErrInvalidConfig)
	case c.PollInterval <= 0:
		return fmt.Errorf("%w: poll interval must be positive", ErrInvalidConfig)
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// ConfigBuilder builds a Config starting from defaults suited to AT modems:
// CR LF delimiter, 256 byte buffer, 32 arguments and a 10ms poll interval.
type ConfigBuilder struct {
	config Config
}

// NewConfigBuilder returns a builder holding the default configuration.
func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{
		config: Config{
			ReceiveBufferSize: 256,
			Delimiter:         at.CRLF,
			MaxArgs:           32,
			PollInterval:      10 * time.Millisecond,
		},
	}
}

func (b *ConfigBuilder) WithReceiveBufferSize(size int) *ConfigBuilder {
	b.config.ReceiveBufferSize = size
	return b
}

func (b *ConfigBuilder) WithDelimiter(delimiter string) *ConfigBuilder {
	b.config.Delimiter = delimiter
	return b
}

func (b *ConfigBuilder) WithFilter(filter string) *ConfigBuilder {
	b.config.Filter = filter
	return b
}

func (b *ConfigBuilder) WithMaxArgs(n int) *ConfigBuilder {
	b.config.MaxArgs = n
	return b
}

func (b *ConfigBuilder) WithUserData(userData any) *ConfigBuilder {
	b.config.UserData = userData
	return b
}

func (b *ConfigBuilder) WithUnsolicited(matches at.MatchSet) *ConfigBuilder {
	b.config.Unsolicited = matches
	return b
}

func (b *ConfigBuilder) WithPollInterval(d time.Duration) *ConfigBuilder {
	b.config.PollInterval = d
	return b
}

func (b *ConfigBuilder) WithLogger(logger *slog.Logger) *ConfigBuilder {
	b.config.Logger = logger
	return b
}

func (b *ConfigBuilder) WithMetrics(metrics *Metrics) *ConfigBuilder {
	b.config.Metrics = metrics
	return b
}

// Build validates and returns the configuration.
func (b *ConfigBuilder) Build() (Config, error) {
	config := b.config
	if err := config.validate(); err != nil {
		return Config{}, err
	}
	config.setDefaults()
	return config, nil
}
