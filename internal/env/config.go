package env

import (
	"context"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	Region    string `env:"HERALD_REGION"`
	DebugHTTP bool   `env:"HERALD_DEBUG_HTTP"`

	// LogLevel is any level zap understands, e.g. debug, info or warn
	LogLevel string `env:"HERALD_LOG_LEVEL,default=info"`

	MaxFrameSize   int           `env:"HERALD_MAX_FRAME_SIZE,default=65536"`
	WriteQueueSize int           `env:"HERALD_WRITE_QUEUE_SIZE,default=127"`
	PingInterval   time.Duration `env:"HERALD_PING_INTERVAL,default=25s"`

	// NumListeners is the number of SO_REUSEPORT TCP listeners, 0 means one per CPU
	NumListeners int `env:"HERALD_NUM_LISTENERS,default=0"`

	// TraceFrames logs every frame sent and received
	TraceFrames bool `env:"HERALD_TRACE_FRAMES"`
}

func LoadConfig(ctx context.Context) (*Config, error) {
	config := Config{}

	if err := godotenv.Load(".env.local"); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	}

	if err := envconfig.Process(ctx, &config); err != nil {
		return nil, err
	}

	return &config, nil
}

// LoadConfigFrom reads the configuration from lookuper only, ignoring the
// process environment and .env.local.
func LoadConfigFrom(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	config := Config{}

	if err := envconfig.ProcessWith(ctx, &config, lookuper); err != nil {
		return nil, err
	}

	return &config, nil
}
