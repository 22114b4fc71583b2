package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	apperrors "order-fulfillment/internal/common/errors"
	"order-fulfillment/internal/common/validation"
	"order-fulfillment/internal/fulfillment/checkout"
	"order-fulfillment/internal/fulfillment/payment"
	"order-fulfillment/internal/models"

	"github.com/gin-gonic/gin"
)

const sessionHeader = "X-Session-ID"

func (s *Server) handleCheckout(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		s.writeError(c, apperrors.NewValidationError(err.Error()))
		return
	}
	if !s.validateBody(c, validation.CheckoutRequest, raw) {
		return
	}

	var req checkout.Request
	if err := json.Unmarshal(raw, &req); err != nil {
		s.writeError(c, apperrors.NewValidationError(err.Error()))
		return
	}

	if req.BranchID == "" {
		if sessionID := c.GetHeader(sessionHeader); sessionID != "" && s.deps.Sessions != nil {
			branchID, err := s.deps.Sessions.BranchID(c.Request.Context(), sessionID)
			if err != nil {
				s.writeError(c, err)
				return
			}
			req.BranchID = branchID
		}
	}

	result, err := s.deps.Checkout.Checkout(c.Request.Context(), req)
	if err != nil {
		if result != nil {
			// Order placed but the payment prompt could not be sent.
			body := errorBody(err)
			body["order"] = result.Order
			body["payment_status"] = result.PaymentStatus
			c.JSON(statusFor(apperrors.CodeOf(err)), body)
			return
		}
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"order": result.Order,
		"payment": gin.H{
			"status":  result.PaymentStatus,
			"request": result.Payment,
		},
	})
}

func (s *Server) handleActiveOrders(c *gin.Context) {
	orders, err := s.deps.Orders.ActiveOrders(c.Request.Context(), c.Param("branchId"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (s *Server) handleOrderHistory(c *gin.Context) {
	branchID := c.Param("branchId")
	query := c.Query("q")

	limit := s.deps.HistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			s.writeError(c, apperrors.NewValidationError("limit must be a positive integer"))
			return
		}
		limit = n
	}

	var (
		orders []models.Order
		err    error
	)
	if s.deps.History != nil {
		orders, err = s.deps.History.Search(c.Request.Context(), branchID, query, limit)
		if err != nil {
			s.logger.Warn("history search failed, falling back to store", map[string]interface{}{
				"branchId": branchID,
				"error":    err.Error(),
			})
			orders, err = s.deps.Orders.RecentOrders(c.Request.Context(), branchID, query, limit)
		}
	} else {
		orders, err = s.deps.Orders.RecentOrders(c.Request.Context(), branchID, query, limit)
	}
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

type advanceRequest struct {
	Target models.OrderStatus `json:"target"`
}

func (s *Server) handleAdvance(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	raw, _ := c.GetRawData()
	var req advanceRequest
	if len(raw) > 0 {
		if !s.validateBody(c, validation.AdvanceRequest, raw) {
			return
		}
		if err := json.Unmarshal(raw, &req); err != nil {
			s.writeError(c, apperrors.NewValidationError(err.Error()))
			return
		}
	}

	target := req.Target
	if target == "" {
		current, err := s.deps.Orders.Get(ctx, id)
		if err != nil {
			s.writeError(c, err)
			return
		}
		next, ok := current.OrderStatus.Next()
		if !ok {
			s.writeError(c, apperrors.NewInvalidStatusTransitionError(id, string(current.OrderStatus), ""))
			return
		}
		target = next
	}

	order, changed, err := s.deps.Orders.Advance(ctx, id, target)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if changed {
		if err := s.deps.Publisher.Publish(ctx, models.NewEvent(models.EventUpdated, *order)); err != nil {
			s.logger.Warn("failed to publish status change", map[string]interface{}{
				"orderId": id,
				"error":   err.Error(),
			})
		}
	}
	c.JSON(http.StatusOK, gin.H{"order": order, "changed": changed})
}

// handleMpesaCallback always acknowledges a well-formed callback so the
// provider stops retrying; unknown correlations are logged.
func (s *Server) handleMpesaCallback(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		s.writeError(c, apperrors.NewPaymentCallbackInvalidError(err.Error()))
		return
	}

	cb, err := payment.ParseCallback(raw)
	if err != nil {
		s.writeError(c, err)
		return
	}

	order, changed, err := s.deps.Payments.HandleCallback(c.Request.Context(), cb)
	switch {
	case apperrors.HasCode(err, apperrors.ErrCodeOrderNotFound):
		s.logger.Warn("callback for unknown payment request", map[string]interface{}{
			"checkoutRequestId": cb.Body.StkCallback.CheckoutRequestID,
		})
	case err != nil:
		// Not acknowledged so the provider redelivers.
		s.writeError(c, err)
		return
	default:
		s.logger.Info("payment callback processed", map[string]interface{}{
			"orderId":       order.ID,
			"paymentStatus": string(order.PaymentStatus),
			"changed":       changed,
		})
	}

	c.JSON(http.StatusOK, gin.H{"ResultCode": 0, "ResultDesc": "Accepted"})
}

func (s *Server) handleGetSelection(c *gin.Context) {
	sel, err := s.deps.Sessions.Load(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sel)
}

func (s *Server) handlePutSelection(c *gin.Context) {
	var sel models.Selection
	if err := c.ShouldBindJSON(&sel); err != nil {
		s.writeError(c, apperrors.NewValidationError(err.Error()))
		return
	}
	saved, err := s.deps.Sessions.Save(c.Request.Context(), c.Param("id"), sel)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, saved)
}

func (s *Server) validateBody(c *gin.Context, schema *validation.Schema, raw []byte) bool {
	result, err := schema.ValidateBytes(raw)
	if err != nil {
		s.writeError(c, apperrors.NewValidationError(err.Error()))
		return false
	}
	if !result.Valid {
		body := errorBody(apperrors.NewValidationError(result.Summary()))
		body["fields"] = result.Errors
		c.JSON(http.StatusBadRequest, body)
		return false
	}
	return true
}
