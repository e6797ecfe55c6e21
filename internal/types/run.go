package types

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidConfig is returned when a run is rejected before dispatch
var ErrInvalidConfig = errors.New("invalid configuration")

// API selects the request body shape sent to the endpoint
type API string

const (
	APIChat        API = "chat"
	APICompletions API = "completions"
)

// RunConfig describes one benchmark run. It is built once by the caller and
// treated as read-only for the whole run.
type RunConfig struct {
	Endpoint string `json:"endpoint" validate:"omitempty,url"`
	APIKey   string `json:"-"`
	API      API    `json:"api" validate:"omitempty,oneof=chat completions"`
	Model    string `json:"model" validate:"required"`

	NumRequests    int           `json:"num_requests" validate:"min=1"`
	Concurrency    int           `json:"concurrency" validate:"min=1"`
	MaxTokens      int           `json:"max_tokens" validate:"min=1"`
	Temperature    float64       `json:"temperature" validate:"min=0,max=2"`
	RequestTimeout time.Duration `json:"request_timeout"`
	RateLimit      float64       `json:"rate_limit,omitempty" validate:"min=0"`
	IncludeUsage   bool          `json:"include_usage"`

	// Prompt is the shared context; when Questions is non-empty request i
	// appends Questions[i%len(Questions)].
	ContextSize string   `json:"context_size,omitempty"`
	Prompt      string   `json:"-" validate:"required"`
	Questions   []string `json:"-"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the configuration before any request is dispatched
func (c *RunConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, describeValidationError(err))
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("%w: request_timeout must be positive", ErrInvalidConfig)
	}
	return nil
}

// PromptFor returns the full prompt sent by the request with the given index
func (c *RunConfig) PromptFor(index int) string {
	if len(c.Questions) == 0 {
		return c.Prompt
	}
	return c.Prompt + "\n\n" + c.Questions[index%len(c.Questions)]
}

// RequestID returns a readable identifier for the request with the given index
func (c *RunConfig) RequestID(index int) string {
	if c.ContextSize == "" {
		return fmt.Sprintf("req-%d", index+1)
	}
	return fmt.Sprintf("%s-%d", c.ContextSize, index+1)
}

// RunResult is the raw output of one scheduler run
type RunResult struct {
	ID           string          `json:"id"`
	Config       RunConfig       `json:"config"`
	StartedAt    time.Time       `json:"started_at"`
	FinishedAt   time.Time       `json:"finished_at"`
	Dispatched   int             `json:"dispatched"`
	Partial      bool            `json:"partial"`
	PeakInFlight int             `json:"peak_in_flight"`
	Results      []RequestResult `json:"results"`
}

// describeValidationError converts validator field errors into snake_case messages
func describeValidationError(err error) string {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return err.Error()
	}

	var messages []string
	for _, fe := range validationErrs {
		field := toSnakeCase(fe.Field())
		switch fe.Tag() {
		case "required":
			messages = append(messages, fmt.Sprintf("%s is required", field))
		case "min":
			messages = append(messages, fmt.Sprintf("%s must be at least %s", field, fe.Param()))
		case "max":
			messages = append(messages, fmt.Sprintf("%s must be at most %s", field, fe.Param()))
		case "oneof":
			messages = append(messages, fmt.Sprintf("%s must be one of [%s]", field, fe.Param()))
		default:
			messages = append(messages, fmt.Sprintf("%s failed validation (%s)", field, fe.Tag()))
		}
	}
	return strings.Join(messages, "; ")
}

// toSnakeCase converts a PascalCase field name to snake_case
func toSnakeCase(s string) string {
	var sb strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && (unicode.IsLower(runes[i-1]) || (i+1 < len(runes) && unicode.IsLower(runes[i+1]))) {
				sb.WriteByte('_')
			}
			sb.WriteRune(unicode.ToLower(r))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
