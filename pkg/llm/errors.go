package llm

import (
	"errors"
	"fmt"
)

var (
	// ErrProviderNotFound means the configured model is not served by any
	// provider in [providers].
	ErrProviderNotFound = errors.New("provider not found")
	// ErrModelNotSupported means no model is configured for the role.
	ErrModelNotSupported = errors.New("model not supported")
	// ErrMissingAPIKey means the provider's api_key_env variable is unset.
	ErrMissingAPIKey = errors.New("missing api key")
	// ErrEmptyResponse means the provider returned no choices.
	ErrEmptyResponse = errors.New("empty response")
)

// SchemaError reports a response that failed JSON-schema validation. The
// validator message is preserved so callers can feed it back on a retry.
type SchemaError struct {
	Role   string
	Detail string
	Raw    string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("response for role %s failed schema validation: %s", e.Role, e.Detail)
}
