package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

// Config contains all runtime settings for the calendar chat service.
type Config struct {
	BindAddr                 string
	PublicURL                string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	ExternalCallTimeout      time.Duration
	DefaultEventDuration     time.Duration
	MetricsNamespace         string
	TimeZone                 string

	AllowAnyOrigin bool
	AuthUserHeader string

	SemanticParserMode    string
	SemanticParserURL     string
	SemanticParserToken   string
	SemanticParserRetries int
	OpenAIAPIKey          string
	OpenAIBaseURL         string
	OpenAIModel           string

	CalendarStore      string
	CalendarSQLitePath string

	DatabaseURL         string
	TranscriptRedactPII bool
}

// Environment keys. A config file uses the same names in lower case.
const (
	KeyBindAddr                 = "APP_BIND_ADDR"
	KeyPublicURL                = "APP_PUBLIC_URL"
	KeyShutdownTimeout          = "APP_SHUTDOWN_TIMEOUT"
	KeySessionInactivityTimeout = "APP_SESSION_INACTIVITY_TIMEOUT"
	KeyExternalCallTimeout      = "APP_EXTERNAL_CALL_TIMEOUT"
	KeyDefaultEventDuration     = "APP_DEFAULT_EVENT_DURATION"
	KeyMetricsNamespace         = "APP_METRICS_NAMESPACE"
	KeyTimeZone                 = "APP_TIMEZONE"
	KeyAllowAnyOrigin           = "APP_ALLOW_ANY_ORIGIN"
	KeyAuthUserHeader           = "APP_AUTH_USER_HEADER"
	KeySemanticParserMode       = "SEMANTIC_PARSER_MODE"
	KeySemanticParserURL        = "SEMANTIC_PARSER_URL"
	KeySemanticParserToken      = "SEMANTIC_PARSER_TOKEN"
	KeySemanticParserRetries    = "SEMANTIC_PARSER_RETRIES"
	KeyOpenAIAPIKey             = "OPENAI_API_KEY"
	KeyOpenAIBaseURL            = "OPENAI_BASE_URL"
	KeyOpenAIModel              = "OPENAI_MODEL"
	KeyCalendarStore            = "CALENDAR_STORE"
	KeyCalendarSQLitePath       = "CALENDAR_SQLITE_PATH"
	KeyDatabaseURL              = "DATABASE_URL"
	KeyTranscriptRedactPII      = "TRANSCRIPT_REDACT_PII"
)

var defaults = map[string]string{
	KeyBindAddr:                 ":8080",
	KeyPublicURL:                "http://localhost:8080",
	KeyShutdownTimeout:          "15s",
	KeySessionInactivityTimeout: "30m",
	KeyExternalCallTimeout:      "20s",
	KeyDefaultEventDuration:     "60m",
	KeyMetricsNamespace:         "calchat",
	KeyTimeZone:                 "Local",
	KeyAllowAnyOrigin:           "false",
	KeyAuthUserHeader:           "X-Authenticated-User",
	KeySemanticParserMode:       "auto",
	KeySemanticParserRetries:    "2",
	KeyOpenAIModel:              "gpt-4o-mini",
	KeyCalendarStore:            "memory",
	KeyCalendarSQLitePath:       ".data/calendar.db",
	KeyTranscriptRedactPII:      "false",
}

// Load reads environment variables, optionally overlaid on a TOML or YAML
// file at path, and applies safe defaults. Environment wins over the file.
func Load(path string) (Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	if path = strings.TrimSpace(path); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	str := func(key string) string { return strings.TrimSpace(v.GetString(key)) }
	cfg := Config{
		BindAddr:            str(KeyBindAddr),
		PublicURL:           strings.TrimRight(str(KeyPublicURL), "/"),
		MetricsNamespace:    str(KeyMetricsNamespace),
		TimeZone:            str(KeyTimeZone),
		AuthUserHeader:      str(KeyAuthUserHeader),
		SemanticParserMode:  strings.ToLower(str(KeySemanticParserMode)),
		SemanticParserURL:   str(KeySemanticParserURL),
		SemanticParserToken: str(KeySemanticParserToken),
		OpenAIAPIKey:        str(KeyOpenAIAPIKey),
		OpenAIBaseURL:       str(KeyOpenAIBaseURL),
		OpenAIModel:         str(KeyOpenAIModel),
		CalendarStore:       strings.ToLower(str(KeyCalendarStore)),
		CalendarSQLitePath:  str(KeyCalendarSQLitePath),
		DatabaseURL:         str(KeyDatabaseURL),
	}

	var err error
	if cfg.ShutdownTimeout, err = durationValue(v, KeyShutdownTimeout); err != nil {
		return Config{}, err
	}
	if cfg.SessionInactivityTimeout, err = durationValue(v, KeySessionInactivityTimeout); err != nil {
		return Config{}, err
	}
	if cfg.ExternalCallTimeout, err = durationValue(v, KeyExternalCallTimeout); err != nil {
		return Config{}, err
	}
	if cfg.DefaultEventDuration, err = durationValue(v, KeyDefaultEventDuration); err != nil {
		return Config{}, err
	}
	if cfg.SemanticParserRetries, err = intValue(v, KeySemanticParserRetries); err != nil {
		return Config{}, err
	}
	if cfg.AllowAnyOrigin, err = boolValue(v, KeyAllowAnyOrigin); err != nil {
		return Config{}, err
	}
	if cfg.TranscriptRedactPII, err = boolValue(v, KeyTranscriptRedactPII); err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.SessionInactivityTimeout < 5*time.Second {
		return fmt.Errorf("%s must be at least 5s", KeySessionInactivityTimeout)
	}
	if c.ExternalCallTimeout <= 0 {
		return fmt.Errorf("%s must be positive", KeyExternalCallTimeout)
	}
	if c.DefaultEventDuration < time.Minute {
		return fmt.Errorf("%s must be at least 1m", KeyDefaultEventDuration)
	}
	if c.SemanticParserRetries < 0 {
		return fmt.Errorf("%s must be >= 0", KeySemanticParserRetries)
	}
	switch c.SemanticParserMode {
	case "auto", "openai", "http", "mock":
	default:
		return fmt.Errorf("%s must be one of auto, openai, http, mock", KeySemanticParserMode)
	}
	switch c.CalendarStore {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("%s must be memory or sqlite", KeyCalendarStore)
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("%s: %w", KeyTimeZone, err)
	}
	return nil
}

// Location resolves TimeZone; "Local" and "" mean the process zone.
func (c Config) Location() (*time.Location, error) {
	switch c.TimeZone {
	case "", "Local", "local":
		return time.Local, nil
	default:
		return time.LoadLocation(c.TimeZone)
	}
}

// TOML renders the effective configuration as a file Load can read back.
// Secrets are masked.
func (c Config) TOML() ([]byte, error) {
	view := map[string]any{
		strings.ToLower(KeyBindAddr):                 c.BindAddr,
		strings.ToLower(KeyPublicURL):                c.PublicURL,
		strings.ToLower(KeyShutdownTimeout):          c.ShutdownTimeout.String(),
		strings.ToLower(KeySessionInactivityTimeout): c.SessionInactivityTimeout.String(),
		strings.ToLower(KeyExternalCallTimeout):      c.ExternalCallTimeout.String(),
		strings.ToLower(KeyDefaultEventDuration):     c.DefaultEventDuration.String(),
		strings.ToLower(KeyMetricsNamespace):         c.MetricsNamespace,
		strings.ToLower(KeyTimeZone):                 c.TimeZone,
		strings.ToLower(KeyAllowAnyOrigin):           c.AllowAnyOrigin,
		strings.ToLower(KeyAuthUserHeader):           c.AuthUserHeader,
		strings.ToLower(KeySemanticParserMode):       c.SemanticParserMode,
		strings.ToLower(KeySemanticParserURL):        c.SemanticParserURL,
		strings.ToLower(KeySemanticParserToken):      mask(c.SemanticParserToken),
		strings.ToLower(KeySemanticParserRetries):    c.SemanticParserRetries,
		strings.ToLower(KeyOpenAIAPIKey):             mask(c.OpenAIAPIKey),
		strings.ToLower(KeyOpenAIBaseURL):            c.OpenAIBaseURL,
		strings.ToLower(KeyOpenAIModel):              c.OpenAIModel,
		strings.ToLower(KeyCalendarStore):            c.CalendarStore,
		strings.ToLower(KeyCalendarSQLitePath):       c.CalendarSQLitePath,
		strings.ToLower(KeyDatabaseURL):              maskURL(c.DatabaseURL),
		strings.ToLower(KeyTranscriptRedactPII):      c.TranscriptRedactPII,
	}
	out, err := toml.Marshal(view)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return out, nil
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 8 {
		return "********"
	}
	return secret[:4] + "…" + secret[len(secret)-2:]
}

// maskURL hides the password part of a connection string.
func maskURL(raw string) string {
	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok {
		return raw
	}
	creds, host, ok := strings.Cut(rest, "@")
	if !ok {
		return raw
	}
	user, _, hasPass := strings.Cut(creds, ":")
	if !hasPass {
		return raw
	}
	return scheme + "://" + user + ":********@" + host
}

func durationValue(v *viper.Viper, key string) (time.Duration, error) {
	raw := strings.TrimSpace(v.GetString(key))
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intValue(v *viper.Viper, key string) (int, error) {
	raw := strings.TrimSpace(v.GetString(key))
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolValue(v *viper.Viper, key string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(v.GetString(key))) {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off", "":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
