package config

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"llm-stream-bench/internal/types"
)

// Backend names the transport used to reach the model
const (
	BackendOpenAI  = "openai"
	BackendBedrock = "bedrock"
)

// Config represents the complete configuration for the benchmark tool
type Config struct {
	Endpoint    EndpointConfig    `mapstructure:"endpoint"`
	AWS         AWSConfig         `mapstructure:"aws"`
	Model       ModelConfig       `mapstructure:"model"`
	Test        TestConfig        `mapstructure:"test"`
	Concurrency ConcurrencyConfig `mapstructure:"concurrency"`
	Output      OutputConfig      `mapstructure:"output"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// EndpointConfig describes an OpenAI-compatible endpoint
type EndpointConfig struct {
	Backend string `mapstructure:"backend" validate:"oneof=openai bedrock"`
	URL     string `mapstructure:"url" validate:"omitempty,url"`
	APIKey  string `mapstructure:"api_key"`
	API     string `mapstructure:"api" validate:"oneof=chat completions"`
}

// AWSConfig contains AWS credentials and region. Empty keys fall back to the
// SDK's default credential chain.
type AWSConfig struct {
	Region          string `mapstructure:"region"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	ServiceTier     string `mapstructure:"service_tier" validate:"omitempty,oneof=default priority flex"`
}

// ModelConfig contains model configuration
type ModelConfig struct {
	ID string `mapstructure:"id" validate:"required"`
}

// TestConfig contains per-run test parameters
type TestConfig struct {
	NumRequests    int           `mapstructure:"num_requests" validate:"min=1"`
	MaxTokens      int           `mapstructure:"max_tokens" validate:"min=1"`
	Temperature    float64       `mapstructure:"temperature" validate:"min=0,max=2"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" validate:"gt=0"`
	RateLimit      float64       `mapstructure:"rate_limit" validate:"min=0"`
	IncludeUsage   bool          `mapstructure:"include_usage"`

	// ContextSizes selects prompt presets; when empty the prompt is built
	// from PromptTemplate padded to PromptSize characters.
	ContextSizes   []string `mapstructure:"context_sizes"`
	PromptTemplate string   `mapstructure:"prompt_template"`
	PromptSize     int      `mapstructure:"prompt_size" validate:"min=0"`

	SkipProbe     bool          `mapstructure:"skip_probe"`
	ProbeTimeout  time.Duration `mapstructure:"probe_timeout" validate:"gt=0"`
	StopOnFailure bool          `mapstructure:"stop_on_failure"`
}

// ConcurrencyConfig defines the concurrency levels of a sweep. Levels, when
// set, takes precedence over Start/End/Step.
type ConcurrencyConfig struct {
	Levels []int `mapstructure:"levels" validate:"dive,min=1"`
	Start  int   `mapstructure:"start" validate:"min=1"`
	End    int   `mapstructure:"end" validate:"gtefield=Start"`
	Step   int   `mapstructure:"step" validate:"min=1"`
}

// OutputConfig defines output settings. Empty paths disable the output.
type OutputConfig struct {
	Dir          string `mapstructure:"dir"`
	JSON         bool   `mapstructure:"json"`
	ReportFile   string `mapstructure:"report_file"`
	DatabasePath string `mapstructure:"database_path"`
	MetricsFile  string `mapstructure:"metrics_file"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn warning error"`
	Format string `mapstructure:"format" validate:"oneof=json text"`
}

// New returns a viper instance with defaults and environment bindings.
// Callers may bind command-line flags to it before calling Load.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("LLMBENCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvVars(v)

	return v
}

// Load reads the optional config file into v, then unmarshals and validates
// the merged configuration
func Load(v *viper.Viper, configPath string) (*Config, error) {
	if err := ReadFile(v, configPath); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ReadFile merges the config file at configPath into v without validating.
// An empty path reads nothing.
func ReadFile(v *viper.Viper, configPath string) error {
	if configPath == "" {
		return nil
	}
	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// LoadFile loads configuration from a file, the environment and defaults
func LoadFile(configPath string) (*Config, error) {
	return Load(New(), configPath)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("endpoint.backend", BackendOpenAI)
	v.SetDefault("endpoint.url", "http://localhost:8000/v1")
	v.SetDefault("endpoint.api_key", "")
	v.SetDefault("endpoint.api", string(types.APIChat))

	v.SetDefault("aws.region", "us-east-1")
	v.SetDefault("aws.access_key_id", "")
	v.SetDefault("aws.secret_access_key", "")
	v.SetDefault("aws.service_tier", "default")

	v.SetDefault("model.id", "")

	v.SetDefault("test.num_requests", 10)
	v.SetDefault("test.max_tokens", 1024)
	v.SetDefault("test.temperature", 0.0)
	v.SetDefault("test.request_timeout", 60*time.Second)
	v.SetDefault("test.rate_limit", 0.0)
	v.SetDefault("test.include_usage", false)
	v.SetDefault("test.context_sizes", []string{})
	v.SetDefault("test.prompt_template", "")
	v.SetDefault("test.prompt_size", 0)
	v.SetDefault("test.skip_probe", false)
	v.SetDefault("test.probe_timeout", 30*time.Second)
	v.SetDefault("test.stop_on_failure", false)

	v.SetDefault("concurrency.levels", []int{})
	v.SetDefault("concurrency.start", 1)
	v.SetDefault("concurrency.end", 1)
	v.SetDefault("concurrency.step", 1)

	v.SetDefault("output.dir", "results")
	v.SetDefault("output.json", true)
	v.SetDefault("output.report_file", "")
	v.SetDefault("output.database_path", "")
	v.SetDefault("output.metrics_file", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

func bindEnvVars(v *viper.Viper) {
	bindEnv := func(key string, envVars ...string) {
		args := append([]string{key}, envVars...)
		if err := v.BindEnv(args...); err != nil {
			slog.Warn("failed to bind environment variable",
				slog.String("key", key),
				slog.String("error", err.Error()))
		}
	}

	// Conventional credential variables work without the prefix.
	bindEnv("endpoint.api_key", "LLMBENCH_ENDPOINT_API_KEY", "OPENAI_API_KEY")
	bindEnv("aws.region", "LLMBENCH_AWS_REGION", "AWS_REGION")
}

var validate = newValidator()

// newValidator reports fields by their config key instead of the Go name
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("mapstructure"), ",", 2)[0]
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
	return v
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %s", types.ErrInvalidConfig, describeValidationError(err))
	}
	if c.Endpoint.Backend == BackendOpenAI && c.Endpoint.URL == "" {
		return fmt.Errorf("%w: endpoint.url is required for the openai backend", types.ErrInvalidConfig)
	}
	if c.Endpoint.Backend == BackendBedrock && c.AWS.Region == "" {
		return fmt.Errorf("%w: aws.region is required for the bedrock backend", types.ErrInvalidConfig)
	}
	return nil
}

// describeValidationError converts validator field errors into messages
// naming the config key, e.g. "test.num_requests must be at least 1"
func describeValidationError(err error) string {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return err.Error()
	}

	var messages []string
	for _, fe := range validationErrs {
		key := fe.Namespace()
		if i := strings.IndexByte(key, '.'); i >= 0 {
			key = key[i+1:]
		}

		switch fe.Tag() {
		case "required":
			messages = append(messages, fmt.Sprintf("%s is required", key))
		case "min":
			messages = append(messages, fmt.Sprintf("%s must be at least %s", key, fe.Param()))
		case "max":
			messages = append(messages, fmt.Sprintf("%s must be at most %s", key, fe.Param()))
		case "gt":
			messages = append(messages, fmt.Sprintf("%s must be greater than %s", key, fe.Param()))
		case "gtefield":
			messages = append(messages, fmt.Sprintf("%s must be >= %s", key, toKey(fe.Param())))
		case "oneof":
			messages = append(messages, fmt.Sprintf("%s must be one of [%s]", key, fe.Param()))
		case "url":
			messages = append(messages, fmt.Sprintf("%s must be a valid URL", key))
		default:
			messages = append(messages, fmt.Sprintf("%s failed validation (%s)", key, fe.Tag()))
		}
	}
	return strings.Join(messages, "; ")
}

// toKey lowercases a sibling field name referenced by a cross-field tag
func toKey(field string) string {
	return strings.ToLower(field)
}

// ConcurrencyLevels returns the concurrency levels to sweep, in order
func (c *Config) ConcurrencyLevels() []int {
	if len(c.Concurrency.Levels) > 0 {
		return c.Concurrency.Levels
	}
	var levels []int
	for level := c.Concurrency.Start; level <= c.Concurrency.End; level += c.Concurrency.Step {
		levels = append(levels, level)
	}
	return levels
}

// MaxConcurrency returns the highest concurrency level of the sweep
func (c *Config) MaxConcurrency() int {
	m := 0
	for _, level := range c.ConcurrencyLevels() {
		m = max(m, level)
	}
	return m
}

// RunConfig builds the immutable run description for one concurrency level.
// The prompt is left to the caller, which owns context construction.
func (c *Config) RunConfig(concurrency int) types.RunConfig {
	endpoint := c.Endpoint.URL
	if c.Endpoint.Backend == BackendBedrock {
		endpoint = ""
	}
	return types.RunConfig{
		Endpoint:       endpoint,
		APIKey:         c.Endpoint.APIKey,
		API:            types.API(c.Endpoint.API),
		Model:          c.Model.ID,
		NumRequests:    c.Test.NumRequests,
		Concurrency:    concurrency,
		MaxTokens:      c.Test.MaxTokens,
		Temperature:    c.Test.Temperature,
		RequestTimeout: c.Test.RequestTimeout,
		RateLimit:      c.Test.RateLimit,
		IncludeUsage:   c.Test.IncludeUsage,
	}
}
