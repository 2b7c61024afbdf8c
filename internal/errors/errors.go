package errors

import "fmt"

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// AppError is the error envelope shared by the agent, its workflow and the
// operator command layer.
type AppError struct {
	Code            string
	Message         string
	OperatorMessage string
	Severity        Severity
	Retryable       bool
	cause           error
}

func (e *AppError) Error() string {
	if e == nil {
		return ""
	}

	return e.Message
}

func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.cause
}

func (e *AppError) Cause() error {
	return e.Unwrap()
}

func NewValidationError(msg string) *AppError {
	return &AppError{
		Code:            "E100",
		Message:         msg,
		OperatorMessage: fmt.Sprintf("invalid command payload: %s", msg),
		Severity:        SeverityLow,
		Retryable:       false,
	}
}

func NewDatabaseError(cause error) *AppError {
	var underlyingMsg string
	if cause != nil {
		underlyingMsg = cause.Error()
	}

	return &AppError{
		Code:            "E200",
		Message:         fmt.Sprintf("Database error: %s", underlyingMsg),
		OperatorMessage: "trade ledger temporarily unavailable",
		Severity:        SeverityHigh,
		Retryable:       true,
		cause:           cause,
	}
}

func NewExternalAPIError(apiName string, cause error) *AppError {
	return &AppError{
		Code:            "E300",
		Message:         fmt.Sprintf("External API error: %s", apiName),
		OperatorMessage: fmt.Sprintf("%s is temporarily unavailable", apiName),
		Severity:        SeverityMedium,
		Retryable:       true,
		cause:           cause,
	}
}

func NewStateError(msg string) *AppError {
	return &AppError{
		Code:            "E400",
		Message:         msg,
		OperatorMessage: "operation not possible in the current workflow state",
		Severity:        SeverityMedium,
		Retryable:       false,
	}
}

func NewRateLimitError(command string, retryAfter int) *AppError {
	return &AppError{
		Code:            "E500",
		Message:         fmt.Sprintf("Rate limit exceeded for %s: retry after %d seconds", command, retryAfter),
		OperatorMessage: fmt.Sprintf("too many '%s' commands, retry in %d s", command, retryAfter),
		Severity:        SeverityLow,
		Retryable:       false,
	}
}

// NewConfigError reports a misconfiguration, such as a template asset that
// does not exist on disk.
func NewConfigError(msg string, cause error) *AppError {
	return &AppError{
		Code:            "E600",
		Message:         msg,
		OperatorMessage: fmt.Sprintf("configuration error: %s", msg),
		Severity:        SeverityCritical,
		Retryable:       false,
		cause:           cause,
	}
}
