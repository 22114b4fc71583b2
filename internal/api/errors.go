package api

import (
	"net/http"

	apperrors "order-fulfillment/internal/common/errors"

	"github.com/gin-gonic/gin"
)

func statusFor(code apperrors.ErrorCode) int {
	switch code {
	case apperrors.ErrCodeValidationFailed, apperrors.ErrCodePaymentCallbackInvalid:
		return http.StatusBadRequest
	case apperrors.ErrCodeBranchNotFound, apperrors.ErrCodeOrderNotFound:
		return http.StatusNotFound
	case apperrors.ErrCodeBranchClosed, apperrors.ErrCodeItemSoldOut, apperrors.ErrCodeInvalidStatusTransition:
		return http.StatusConflict
	case apperrors.ErrCodePaymentAuthFailed, apperrors.ErrCodePaymentRequestRejected:
		return http.StatusPaymentRequired
	case apperrors.ErrCodePersistenceFailed, apperrors.ErrCodeEventPublishFailed,
		apperrors.ErrCodeSearchQueryFailed, apperrors.ErrCodeNotificationSendFailed:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// errorBody is the JSON shape of every error response.
func errorBody(err error) gin.H {
	stdErr, ok := apperrors.AsStandard(err)
	if !ok {
		return gin.H{"error": "internal error", "code": string(apperrors.ErrCodeInternal)}
	}
	body := gin.H{
		"error":     stdErr.Message,
		"code":      string(stdErr.Code),
		"retryable": stdErr.Retryable,
	}
	if stdErr.Details != "" {
		body["details"] = stdErr.Details
	}
	if id, ok := stdErr.Metadata["orderId"]; ok {
		body["order_id"] = id
	}
	if name, ok := stdErr.Metadata["productName"]; ok {
		body["product_name"] = name
	}
	return body
}

func (s *Server) writeError(c *gin.Context, err error) {
	status := statusFor(apperrors.CodeOf(err))
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", map[string]interface{}{
			"path":  c.FullPath(),
			"error": err.Error(),
		})
	}
	c.JSON(status, errorBody(err))
}
