package requestpayment

import (
	"context"
	"encoding/json"

	"order-fulfillment/internal/common/errors"
	"order-fulfillment/internal/common/logger"
	"order-fulfillment/internal/common/metrics"
	"order-fulfillment/internal/fulfillment/payment"
	"order-fulfillment/internal/models"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

// TaskType re-sends the STK push for an existing order, e.g. after the
// customer dismissed the first prompt.
const TaskType = "fulfillment.payment.request"

type OrderGetter interface {
	Get(ctx context.Context, id string) (*models.Order, error)
}

type PaymentRequester interface {
	RequestPayment(ctx context.Context, order *models.Order) (*payment.Request, error)
}

type Handler struct {
	config   *Config
	orders   OrderGetter
	payments PaymentRequester
	errors   *errors.ErrorHandler
	logger   logger.Logger
}

func NewHandler(config *Config, orders OrderGetter, payments PaymentRequester, log logger.Logger) *Handler {
	l := log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:   config,
		orders:   orders,
		payments: payments,
		errors:   errors.NewErrorHandler(l),
		logger:   l,
	}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":             job.GetKey(),
		"processInstanceKey": job.GetProcessInstanceKey(),
	})

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	input, err := h.parseInput(job)
	if err != nil {
		h.failJob(ctx, client, job, err)
		return
	}

	output, err := h.Execute(ctx, input)
	if err != nil {
		h.failJob(ctx, client, job, err)
		return
	}

	h.completeJob(ctx, client, job, output)
}

func (h *Handler) parseInput(job entities.Job) (*Input, error) {
	raw := []byte(job.GetVariables())
	result, err := inputSchema.ValidateBytes(raw)
	if err != nil {
		return nil, errors.NewValidationError(err.Error())
	}
	if !result.Valid {
		return nil, errors.NewValidationError(result.Summary())
	}

	var input Input
	if err := json.Unmarshal(raw, &input); err != nil {
		return nil, errors.NewValidationError(err.Error())
	}
	return &input, nil
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	order, err := h.orders.Get(ctx, input.OrderID)
	if err != nil {
		return nil, err
	}

	out := &Output{OrderID: order.ID, PaymentRequest: paymentNotRequired}
	if order.PaymentStatus != models.PaymentPending {
		h.logger.Info("payment already settled, skipping push", map[string]interface{}{
			"orderId":       order.ID,
			"paymentStatus": order.PaymentStatus,
		})
		return out, nil
	}

	req, err := h.payments.RequestPayment(ctx, order)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return out, nil
	}

	out.PaymentRequest = paymentRequested
	out.CheckoutRequestID = req.CheckoutRequestID
	out.CustomerMessage = req.CustomerMessage
	return out, nil
}

func (h *Handler) completeJob(ctx context.Context, client worker.JobClient, job entities.Job, output *Output) {
	cmd, err := client.NewCompleteJobCommand().
		JobKey(job.GetKey()).
		VariablesFromObject(output)
	if err != nil {
		h.logger.Error("failed to create complete job command", map[string]interface{}{
			"jobKey": job.GetKey(),
			"error":  err.Error(),
		})
		return
	}
	if _, err := cmd.Send(ctx); err != nil {
		h.logger.Error("failed to send complete job command", map[string]interface{}{
			"jobKey": job.GetKey(),
			"error":  err.Error(),
		})
		return
	}
	metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
}

func (h *Handler) failJob(ctx context.Context, client worker.JobClient, job entities.Job, err error) {
	metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(errors.CodeOf(err))).Inc()
	h.errors.HandleJobError(ctx, client, job, err)
}
