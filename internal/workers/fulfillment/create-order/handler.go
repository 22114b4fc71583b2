package createorder

import (
	"context"
	"encoding/json"

	"order-fulfillment/internal/common/errors"
	"order-fulfillment/internal/common/logger"
	"order-fulfillment/internal/common/metrics"
	"order-fulfillment/internal/fulfillment/checkout"
	"order-fulfillment/internal/models"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const TaskType = "fulfillment.order.create"

type Checkouter interface {
	Checkout(ctx context.Context, req checkout.Request) (*checkout.Result, error)
}

type Handler struct {
	config   *Config
	checkout Checkouter
	errors   *errors.ErrorHandler
	logger   logger.Logger
}

func NewHandler(config *Config, svc Checkouter, log logger.Logger) *Handler {
	l := log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:   config,
		checkout: svc,
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
	result, err := inputSchema.ValidateBytes([]byte(job.GetVariables()))
	if err != nil {
		return nil, errors.NewValidationError(err.Error())
	}
	if !result.Valid {
		return nil, errors.NewValidationError(result.Summary())
	}

	var input Input
	if err := json.Unmarshal([]byte(job.GetVariables()), &input); err != nil {
		return nil, errors.NewValidationError(err.Error())
	}
	return &input, nil
}

// Execute places the order. A failed payment push is not a job failure: the
// order already exists and retrying would place it twice.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	result, err := h.checkout.Checkout(ctx, checkout.Request{
		BranchID:         input.BranchID,
		CustomerName:     input.CustomerName,
		CustomerPhone:    input.CustomerPhone,
		OrderType:        models.OrderType(input.OrderType),
		PaymentMethod:    models.PaymentMethod(input.PaymentMethod),
		DeliveryLocation: input.DeliveryLocation,
		Items:            input.Items,
	})
	if err != nil && result == nil {
		return nil, err
	}
	if err != nil {
		h.logger.Warn("order placed without payment prompt", map[string]interface{}{
			"orderId": result.Order.ID,
			"error":   err.Error(),
		})
	}

	out := &Output{
		OrderID:        result.Order.ID,
		OrderStatus:    string(result.Order.OrderStatus),
		PaymentStatus:  string(result.Order.PaymentStatus),
		PaymentRequest: result.PaymentStatus,
		TotalAmount:    result.Order.TotalAmount,
	}
	if result.Payment != nil {
		out.CheckoutRequestID = result.Payment.CheckoutRequestID
	}
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
	h.logger.Info("job completed", map[string]interface{}{
		"jobKey":  job.GetKey(),
		"orderId": output.OrderID,
	})
}

func (h *Handler) failJob(ctx context.Context, client worker.JobClient, job entities.Job, err error) {
	metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(errors.CodeOf(err))).Inc()
	h.errors.HandleJobError(ctx, client, job, err)
}
