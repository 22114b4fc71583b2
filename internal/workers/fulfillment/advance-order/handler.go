package advanceorder

import (
	"context"
	"encoding/json"

	"order-fulfillment/internal/common/errors"
	"order-fulfillment/internal/common/logger"
	"order-fulfillment/internal/common/metrics"
	"order-fulfillment/internal/models"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const TaskType = "fulfillment.order.advance"

type OrderStore interface {
	Get(ctx context.Context, id string) (*models.Order, error)
	Advance(ctx context.Context, id string, target models.OrderStatus) (*models.Order, bool, error)
}

type Publisher interface {
	Publish(ctx context.Context, event models.Event) error
}

type Handler struct {
	config    *Config
	orders    OrderStore
	publisher Publisher
	errors    *errors.ErrorHandler
	logger    logger.Logger
}

func NewHandler(config *Config, orders OrderStore, publisher Publisher, log logger.Logger) *Handler {
	l := log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:    config,
		orders:    orders,
		publisher: publisher,
		errors:    errors.NewErrorHandler(l),
		logger:    l,
	}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	h.logger.Debug("processing job", map[string]interface{}{
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

// Execute applies the transition. Replayed jobs for an order already at or
// past the target complete without publishing.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	target := models.OrderStatus(input.Target)
	if target == "" {
		current, err := h.orders.Get(ctx, input.OrderID)
		if err != nil {
			return nil, err
		}
		next, ok := current.OrderStatus.Next()
		if !ok {
			return nil, errors.NewInvalidStatusTransitionError(input.OrderID, string(current.OrderStatus), "")
		}
		target = next
	}

	order, changed, err := h.orders.Advance(ctx, input.OrderID, target)
	if err != nil {
		return nil, err
	}

	if changed {
		if err := h.publisher.Publish(ctx, models.NewEvent(models.EventUpdated, *order)); err != nil {
			h.logger.Warn("failed to publish status change", map[string]interface{}{
				"orderId": order.ID,
				"error":   err.Error(),
			})
		}
	}

	return &Output{
		OrderID:     order.ID,
		OrderStatus: string(order.OrderStatus),
		Changed:     changed,
	}, nil
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
