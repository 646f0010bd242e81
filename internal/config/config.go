// Package config loads client configuration from an optional YAML file and
// the environment. Environment variables win over the file. Values that do
// not parse fall back to their defaults with a warning.
package config

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Service       ServiceConfig
	Endpoint      EndpointConfig
	Capture       CaptureConfig
	Captions      CaptionConfig
	Speech        SpeechConfig
	Kafka         KafkaConfig
	Observability ObservabilityConfig
}

type ServiceConfig struct {
	Principal string
	GRPCPort  string
	HTTPAddr  string
}

// EndpointConfig describes the inference service connection.
type EndpointConfig struct {
	URL              string
	Reconnect        bool
	MaxAttempts      int
	InitialBackoff   time.Duration
	MaxBackoff       time.Duration
	HandshakeTimeout time.Duration
}

type CaptureConfig struct {
	Interval       time.Duration
	Policy         string // overlap, skip or cap
	MaxInFlight    int
	Quality        int
	Width          int
	Height         int
	SkipProcessing bool
	Source         string // mock or dir
	Dir            string
}

type CaptionConfig struct {
	MaxActive  int
	MaxHistory int
}

type SpeechConfig struct {
	Policy     string // drop or queue
	QueueDepth int
	Rate       float64
	Language   string
	Command    string // empty logs captions instead of speaking them
}

type KafkaConfig struct {
	Enabled      bool
	Brokers      []string
	TopicCaption string
	TopicDrop    string
	Principal    string
}

type ObservabilityConfig struct {
	LogLevel  string
	LogFormat string
}

// key, env var, default
var bindings = []struct {
	key string
	env string
	def any
}{
	{"service.principal", "SERVICE_PRINCIPAL", "svc-vision-caption"},
	{"service.grpc_port", "GRPC_PORT", "50051"},
	{"service.http_addr", "OBSERVABILITY_HTTP_ADDR", ":9090"},

	{"endpoint.url", "ENDPOINT_URL", "ws://127.0.0.1:2222"},
	{"endpoint.reconnect", "ENDPOINT_RECONNECT", false},
	{"endpoint.max_attempts", "ENDPOINT_MAX_ATTEMPTS", 0},
	{"endpoint.initial_backoff", "ENDPOINT_INITIAL_BACKOFF", time.Second},
	{"endpoint.max_backoff", "ENDPOINT_MAX_BACKOFF", 60 * time.Second},
	{"endpoint.handshake_timeout", "ENDPOINT_HANDSHAKE_TIMEOUT", 10 * time.Second},

	{"capture.interval", "CAPTURE_INTERVAL", 2 * time.Second},
	{"capture.policy", "CAPTURE_POLICY", "overlap"},
	{"capture.max_in_flight", "CAPTURE_MAX_IN_FLIGHT", 2},
	{"capture.quality", "CAPTURE_QUALITY", 50},
	{"capture.width", "CAPTURE_WIDTH", 128},
	{"capture.height", "CAPTURE_HEIGHT", 128},
	{"capture.skip_processing", "CAPTURE_SKIP_PROCESSING", true},
	{"capture.source", "CAPTURE_SOURCE", "mock"},
	{"capture.dir", "CAPTURE_DIR", ""},

	{"captions.max_active", "CAPTION_MAX_ACTIVE", 256},
	{"captions.max_history", "CAPTION_MAX_HISTORY", 256},

	{"speech.policy", "SPEECH_POLICY", "drop"},
	{"speech.queue_depth", "SPEECH_QUEUE_DEPTH", 4},
	{"speech.rate", "SPEECH_RATE", 1.0},
	{"speech.language", "SPEECH_LANGUAGE", "en"},
	{"speech.command", "SPEECH_COMMAND", ""},

	{"kafka.enabled", "KAFKA_ENABLED", false},
	{"kafka.brokers", "KAFKA_BROKERS", "localhost:9092"},
	{"kafka.topic_caption", "KAFKA_TOPIC_CAPTION", "vision.caption.completed"},
	{"kafka.topic_drop", "KAFKA_TOPIC_DROP", "vision.speech.dropped"},
	{"kafka.principal", "KAFKA_PRINCIPAL", ""},

	{"observability.log_level", "LOG_LEVEL", "info"},
	{"observability.log_format", "LOG_FORMAT", "json"},
}

// Load reads cfgFile (or vision-caption.yaml from the working directory or
// /etc/vision-caption when cfgFile is empty) and the environment. A missing
// default file is not an error; a missing explicit file is.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()
	for _, b := range bindings {
		v.SetDefault(b.key, b.def)
		if err := v.BindEnv(b.key, b.env); err != nil {
			return nil, err
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("vision-caption")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/vision-caption")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	return fromViper(v), nil
}

func fromViper(v *viper.Viper) *Config {
	principal := stringOr(v, "service.principal")
	kafkaPrincipal := stringOr(v, "kafka.principal")
	if kafkaPrincipal == "" {
		kafkaPrincipal = principal
	}

	return &Config{
		Service: ServiceConfig{
			Principal: principal,
			GRPCPort:  stringOr(v, "service.grpc_port"),
			HTTPAddr:  stringOr(v, "service.http_addr"),
		},
		Endpoint: EndpointConfig{
			URL:              stringOr(v, "endpoint.url"),
			Reconnect:        boolOr(v, "endpoint.reconnect"),
			MaxAttempts:      intOr(v, "endpoint.max_attempts"),
			InitialBackoff:   durationOr(v, "endpoint.initial_backoff"),
			MaxBackoff:       durationOr(v, "endpoint.max_backoff"),
			HandshakeTimeout: durationOr(v, "endpoint.handshake_timeout"),
		},
		Capture: CaptureConfig{
			Interval:       durationOr(v, "capture.interval"),
			Policy:         oneOf(v, "capture.policy", "overlap", "skip", "cap"),
			MaxInFlight:    intOr(v, "capture.max_in_flight"),
			Quality:        intOr(v, "capture.quality"),
			Width:          intOr(v, "capture.width"),
			Height:         intOr(v, "capture.height"),
			SkipProcessing: boolOr(v, "capture.skip_processing"),
			Source:         oneOf(v, "capture.source", "mock", "dir"),
			Dir:            stringOr(v, "capture.dir"),
		},
		Captions: CaptionConfig{
			MaxActive:  intOr(v, "captions.max_active"),
			MaxHistory: intOr(v, "captions.max_history"),
		},
		Speech: SpeechConfig{
			Policy:     oneOf(v, "speech.policy", "drop", "queue"),
			QueueDepth: intOr(v, "speech.queue_depth"),
			Rate:       floatOr(v, "speech.rate"),
			Language:   stringOr(v, "speech.language"),
			Command:    stringOr(v, "speech.command"),
		},
		Kafka: KafkaConfig{
			Enabled:      boolOr(v, "kafka.enabled"),
			Brokers:      listOr(v, "kafka.brokers"),
			TopicCaption: stringOr(v, "kafka.topic_caption"),
			TopicDrop:    stringOr(v, "kafka.topic_drop"),
			Principal:    kafkaPrincipal,
		},
		Observability: ObservabilityConfig{
			LogLevel:  stringOr(v, "observability.log_level"),
			LogFormat: oneOf(v, "observability.log_format", "json", "console"),
		},
	}
}

func defaultFor(key string) any {
	for _, b := range bindings {
		if b.key == key {
			return b.def
		}
	}
	return nil
}

func fallback(key, raw string, def any) {
	log.Warn().Str("key", key).Str("value", raw).Interface("default", def).Msg("Invalid config value, using default")
}

func stringOr(v *viper.Viper, key string) string {
	if s := strings.TrimSpace(v.GetString(key)); s != "" {
		return s
	}
	def, _ := defaultFor(key).(string)
	return def
}

func oneOf(v *viper.Viper, key string, allowed ...string) string {
	s := strings.ToLower(stringOr(v, key))
	for _, a := range allowed {
		if s == a {
			return s
		}
	}
	def, _ := defaultFor(key).(string)
	fallback(key, s, def)
	return def
}

func intOr(v *viper.Viper, key string) int {
	def, _ := defaultFor(key).(int)
	raw := strings.TrimSpace(v.GetString(key))
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		fallback(key, raw, def)
		return def
	}
	return n
}

func floatOr(v *viper.Viper, key string) float64 {
	def, _ := defaultFor(key).(float64)
	raw := strings.TrimSpace(v.GetString(key))
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f <= 0 {
		fallback(key, raw, def)
		return def
	}
	return f
}

func boolOr(v *viper.Viper, key string) bool {
	def, _ := defaultFor(key).(bool)
	raw := strings.TrimSpace(v.GetString(key))
	b, err := parseBool(raw)
	if err != nil {
		fallback(key, raw, def)
		return def
	}
	return b
}

func durationOr(v *viper.Viper, key string) time.Duration {
	def, _ := defaultFor(key).(time.Duration)
	raw := strings.TrimSpace(v.GetString(key))
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		fallback(key, raw, def)
		return def
	}
	return d
}

// listOr accepts a YAML list or a comma-separated string.
func listOr(v *viper.Viper, key string) []string {
	var items []string
	switch raw := v.Get(key).(type) {
	case string:
		items = strings.Split(raw, ",")
	default:
		items = v.GetStringSlice(key)
	}

	out := make([]string, 0, len(items))
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			out = append(out, it)
		}
	}
	return out
}

func parseBool(s string) (bool, error) {
	return strconv.ParseBool(strings.ToLower(s))
}
