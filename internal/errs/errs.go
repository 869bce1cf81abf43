// Package errs defines ELSPETH's error taxonomy: typed errors that callers
// can dispatch on with errors.As, not string matching.
package errs

import "fmt"

// Classification identifies which branch of the taxonomy an error belongs
// to.
type Classification string

const (
	ClassConfiguration     Classification = "configuration_error"
	ClassSchemaValidation  Classification = "schema_validation_error"
	ClassPlugin            Classification = "plugin_error"
	ClassRecorder          Classification = "recorder_error"
	ClassFieldCollision    Classification = "field_collision_error"
)

// ConfigurationError reports an invalid graph: cycles, unreachable sinks,
// unknown route targets, reserved labels misused, incompatible schemas.
// It surfaces at startup and prevents the run.
type ConfigurationError struct {
	Reason string
	Cause  error
}

func (e *ConfigurationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("configuration error: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("configuration error: %s", e.Reason)
}

func (e *ConfigurationError) Unwrap() error        { return e.Cause }
func (e *ConfigurationError) Classification() string { return string(ClassConfiguration) }

// SchemaValidationError reports that a row did not satisfy a node's input
// schema at runtime.
type SchemaValidationError struct {
	NodeID         string
	MissingFields  []string
	Cause          error
}

func (e *SchemaValidationError) Error() string {
	return fmt.Sprintf("schema validation error at node %s: missing fields %v", e.NodeID, e.MissingFields)
}

func (e *SchemaValidationError) Unwrap() error        { return e.Cause }
func (e *SchemaValidationError) Classification() string { return string(ClassSchemaValidation) }

// PluginErrorKind enumerates the specific plugin failure kinds plugins
// report back to the orchestrator.
type PluginErrorKind string

const (
	KindRateLimit          PluginErrorKind = "rate_limit"
	KindNetwork            PluginErrorKind = "network"
	KindServer             PluginErrorKind = "server"
	KindTimeout            PluginErrorKind = "timeout"
	KindNotFound           PluginErrorKind = "not_found"
	KindForbidden          PluginErrorKind = "forbidden"
	KindUnauthorized       PluginErrorKind = "unauthorized"
	KindSSLError           PluginErrorKind = "ssl_error"
	KindInvalidInput       PluginErrorKind = "invalid_input"
	KindSSRFBlocked        PluginErrorKind = "ssrf_blocked"
	KindResponseTooLarge   PluginErrorKind = "response_too_large"
	KindConversionTimeout  PluginErrorKind = "conversion_timeout"
)

// retryableKinds are the kinds the processor will retry within budget
// before converting to a terminal PluginError.
var retryableKinds = map[PluginErrorKind]bool{
	KindRateLimit: true,
	KindNetwork:   true,
	KindServer:    true,
	KindTimeout:   true,
}

// IsRetryableKind reports whether a kind is retryable per the taxonomy,
// independent of any particular error instance's Retryable flag.
func IsRetryableKind(k PluginErrorKind) bool {
	return retryableKinds[k]
}

// PluginError is returned by a plugin's process/write call. Retryable is
// decided by the plugin at the call site but must agree with the kind's
// classification (see IsRetryableKind).
type PluginError struct {
	Kind      PluginErrorKind
	Retryable bool
	NodeID    string
	Cause     error
}

func (e *PluginError) Error() string {
	return fmt.Sprintf("plugin error at node %s: %s (retryable=%v): %v", e.NodeID, e.Kind, e.Retryable, e.Cause)
}

func (e *PluginError) Unwrap() error        { return e.Cause }
func (e *PluginError) Classification() string { return string(ClassPlugin) }

// RecorderError reports a failed landscape write. It is fatal to the
// token: without a successful write the token's terminal state cannot
// be guaranteed unique, so it is left unfinalised for the recovery
// manager to pick up.
type RecorderError struct {
	Operation string
	Cause     error
}

func (e *RecorderError) Error() string {
	return fmt.Sprintf("recorder error during %s: %v", e.Operation, e.Cause)
}

func (e *RecorderError) Unwrap() error        { return e.Cause }
func (e *RecorderError) Classification() string { return string(ClassRecorder) }

// FieldCollisionError reports that a transform would silently overwrite an
// existing field. Detected by comparing the input row's field set against
// the declared added/modified field set.
type FieldCollisionError struct {
	NodeID string
	Fields []string
}

func (e *FieldCollisionError) Error() string {
	return fmt.Sprintf("field collision at node %s: fields %v already present", e.NodeID, e.Fields)
}

func (e *FieldCollisionError) Classification() string { return string(ClassFieldCollision) }

// Fatal panics with a diagnostic. Used for programming-bug conditions the
// spec requires to crash the run rather than silently fall back — e.g. a
// token re-entering a node after it already has a terminal outcome.
func Fatal(format string, args ...any) {
	panic(fmt.Sprintf(format, args...))
}
