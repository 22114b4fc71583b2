package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

type ErrorCode string

const (
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"

	ErrCodeBranchNotFound ErrorCode = "BRANCH_NOT_FOUND"
	ErrCodeBranchClosed   ErrorCode = "BRANCH_CLOSED"
	ErrCodeItemSoldOut    ErrorCode = "ITEM_SOLD_OUT"

	ErrCodePersistenceFailed       ErrorCode = "PERSISTENCE_FAILED"
	ErrCodeOrderNotFound           ErrorCode = "ORDER_NOT_FOUND"
	ErrCodeInvalidStatusTransition ErrorCode = "INVALID_STATUS_TRANSITION"

	ErrCodePaymentAuthFailed      ErrorCode = "PAYMENT_AUTH_FAILED"
	ErrCodePaymentRequestRejected ErrorCode = "PAYMENT_REQUEST_REJECTED"
	ErrCodePaymentCallbackInvalid ErrorCode = "PAYMENT_CALLBACK_INVALID"

	ErrCodeEventPublishFailed     ErrorCode = "EVENT_PUBLISH_FAILED"
	ErrCodeSearchQueryFailed      ErrorCode = "SEARCH_QUERY_FAILED"
	ErrCodeNotificationSendFailed ErrorCode = "NOTIFICATION_SEND_FAILED"

	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

// KnownCode reports whether code is part of the taxonomy above.
func KnownCode(code ErrorCode) bool {
	switch code {
	case ErrCodeValidationFailed,
		ErrCodeBranchNotFound, ErrCodeBranchClosed, ErrCodeItemSoldOut,
		ErrCodePersistenceFailed, ErrCodeOrderNotFound, ErrCodeInvalidStatusTransition,
		ErrCodePaymentAuthFailed, ErrCodePaymentRequestRejected, ErrCodePaymentCallbackInvalid,
		ErrCodeEventPublishFailed, ErrCodeSearchQueryFailed, ErrCodeNotificationSendFailed,
		ErrCodeInternal:
		return true
	}
	return false
}

type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// WithMetadata attaches a key to the error and returns it.
func (e *StandardError) WithMetadata(key string, value interface{}) *StandardError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

type BPMNError struct {
	Code           string                 `json:"code"`
	Message        string                 `json:"message"`
	Details        string                 `json:"details,omitempty"`
	Retryable      bool                   `json:"retryable"`
	Retries        int                    `json:"retries"`
	ErrorVariables map[string]interface{} `json:"errorVariables,omitempty"`
}

func (e *BPMNError) Error() string {
	return fmt.Sprintf("BPMNError[%s]: %s", e.Code, e.Message)
}

func (e *BPMNError) ToErrorVariables() map[string]interface{} {
	vars := map[string]interface{}{
		"errorCode":    e.Code,
		"errorMessage": e.Message,
		"errorDetails": e.Details,
		"retryable":    e.Retryable,
	}
	for k, v := range e.ErrorVariables {
		vars[k] = v
	}
	return vars
}

func newError(code ErrorCode, message, details string, retryable bool) *StandardError {
	return &StandardError{
		Code:      code,
		Message:   message,
		Details:   details,
		Retryable: retryable,
		Timestamp: time.Now().UTC(),
	}
}

func NewValidationError(details string) *StandardError {
	return newError(ErrCodeValidationFailed, "Request validation failed", details, false)
}

func NewBranchNotFoundError(branchID string) *StandardError {
	return newError(ErrCodeBranchNotFound, "Branch not found", fmt.Sprintf("branchId: %s", branchID), false).
		WithMetadata("branchId", branchID)
}

func NewBranchClosedError(branchID, branchName string) *StandardError {
	return newError(ErrCodeBranchClosed, fmt.Sprintf("%s is currently closed", branchName), fmt.Sprintf("branchId: %s", branchID), false).
		WithMetadata("branchId", branchID)
}

func NewItemSoldOutError(productID, productName string) *StandardError {
	return newError(ErrCodeItemSoldOut, fmt.Sprintf("%s is sold out", productName), fmt.Sprintf("productId: %s", productID), false).
		WithMetadata("productId", productID).
		WithMetadata("productName", productName)
}

func NewPersistenceFailedError(operation string, err error) *StandardError {
	return newError(ErrCodePersistenceFailed, "Order storage unavailable", fmt.Sprintf("operation: %s, error: %s", operation, err.Error()), true)
}

func NewOrderNotFoundError(orderID string) *StandardError {
	return newError(ErrCodeOrderNotFound, "Order not found", fmt.Sprintf("orderId: %s", orderID), false).
		WithMetadata("orderId", orderID)
}

func NewInvalidStatusTransitionError(orderID, from, to string) *StandardError {
	return newError(ErrCodeInvalidStatusTransition, "Status transition not allowed", fmt.Sprintf("orderId: %s, from: %s, to: %s", orderID, from, to), false).
		WithMetadata("orderId", orderID)
}

func NewPaymentAuthFailedError(err error) *StandardError {
	return newError(ErrCodePaymentAuthFailed, "Payment provider authentication failed", err.Error(), true)
}

func NewPaymentRequestRejectedError(providerMessage string) *StandardError {
	return newError(ErrCodePaymentRequestRejected, "Payment request rejected", providerMessage, false)
}

func NewPaymentCallbackInvalidError(details string) *StandardError {
	return newError(ErrCodePaymentCallbackInvalid, "Invalid payment callback", details, false)
}

func NewEventPublishFailedError(topic string, err error) *StandardError {
	return newError(ErrCodeEventPublishFailed, "Order event publish failed", fmt.Sprintf("topic: %s, error: %s", topic, err.Error()), true)
}

func NewSearchQueryFailedError(queryType string, err error) *StandardError {
	return newError(ErrCodeSearchQueryFailed, "Order search failed", fmt.Sprintf("queryType: %s, error: %s", queryType, err.Error()), true)
}

func NewNotificationSendFailedError(notificationType string, err error) *StandardError {
	return newError(ErrCodeNotificationSendFailed, "Notification delivery failed", fmt.Sprintf("type: %s, error: %s", notificationType, err.Error()), true)
}

// AsStandard unwraps err to a *StandardError if one is in the chain.
func AsStandard(err error) (*StandardError, bool) {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr, true
	}
	return nil, false
}

// CodeOf returns the error code of err, or INTERNAL_ERROR.
func CodeOf(err error) ErrorCode {
	if stdErr, ok := AsStandard(err); ok {
		return stdErr.Code
	}
	return ErrCodeInternal
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code ErrorCode) bool {
	stdErr, ok := AsStandard(err)
	return ok && stdErr.Code == code
}

// IsRetryable reports whether a caller may retry the failed operation.
func IsRetryable(err error) bool {
	stdErr, ok := AsStandard(err)
	return ok && stdErr.Retryable
}

func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodePersistenceFailed,
		ErrCodeEventPublishFailed,
		ErrCodeSearchQueryFailed,
		ErrCodeNotificationSendFailed:
		return 3
	case ErrCodePaymentAuthFailed:
		return 2
	default:
		return 0 // business errors are thrown, not retried
	}
}

func ConvertToBPMNError(stdErr *StandardError) *BPMNError {
	retries := GetRetryCount(stdErr.Code)
	if !stdErr.Retryable {
		retries = 0
	}

	vars := map[string]interface{}{
		"originalErrorCode": string(stdErr.Code),
		"timestamp":         stdErr.Timestamp.Format(time.RFC3339),
	}
	for k, v := range stdErr.Metadata {
		vars[k] = v
	}

	return &BPMNError{
		Code:           string(stdErr.Code),
		Message:        stdErr.Message,
		Details:        stdErr.Details,
		Retryable:      stdErr.Retryable,
		Retries:        retries,
		ErrorVariables: vars,
	}
}

func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.HasPrefix(codeStr, "BRANCH") || strings.HasPrefix(codeStr, "ITEM"):
		return "INVENTORY"
	case strings.HasPrefix(codeStr, "PAYMENT"):
		return "PAYMENT"
	case strings.Contains(codeStr, "PERSISTENCE") || strings.HasPrefix(codeStr, "ORDER"):
		return "DATABASE"
	case strings.Contains(codeStr, "SEARCH"):
		return "SEARCH"
	case strings.Contains(codeStr, "EVENT"):
		return "EVENTS"
	case strings.Contains(codeStr, "NOTIFICATION"):
		return "NOTIFICATION"
	case strings.Contains(codeStr, "INVALID") || strings.Contains(codeStr, "VALIDATION"):
		return "VALIDATION"
	default:
		return "OTHER"
	}
}
