// Package search maintains the order history index used by the back office.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	apperrors "order-fulfillment/internal/common/errors"
	"order-fulfillment/internal/common/logger"
	"order-fulfillment/internal/fulfillment/events"
	"order-fulfillment/internal/models"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// Index writes order documents and answers history searches.
type Index struct {
	client *elasticsearch.Client
	name   string
	logger logger.Logger
}

func NewIndex(client *elasticsearch.Client, name string, log logger.Logger) *Index {
	if name == "" {
		name = "orders"
	}
	return &Index{
		client: client,
		name:   name,
		logger: logger.ForComponent(log, "order-index"),
	}
}

// EnsureIndex creates the index with its mapping when it does not exist.
func (i *Index) EnsureIndex(ctx context.Context) error {
	res, err := esapi.IndicesExistsRequest{Index: []string{i.name}}.Do(ctx, i.client)
	if err != nil {
		return fmt.Errorf("check index: %w", err)
	}
	res.Body.Close()
	if res.StatusCode == http.StatusOK {
		return nil
	}

	res, err = esapi.IndicesCreateRequest{
		Index: i.name,
		Body:  strings.NewReader(indexMapping),
	}.Do(ctx, i.client)
	if err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	defer res.Body.Close()

	// Another replica may have created it first.
	if res.IsError() && !strings.Contains(res.String(), "resource_already_exists_exception") {
		return fmt.Errorf("create index: %s", res.String())
	}
	i.logger.Info("order index created", map[string]interface{}{"index": i.name})
	return nil
}

// IndexOrder upserts the order document. Replays overwrite with the same body.
func (i *Index) IndexOrder(ctx context.Context, order models.Order) error {
	body, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("encode order: %w", err)
	}

	res, err := esapi.IndexRequest{
		Index:      i.name,
		DocumentID: order.ID,
		Body:       bytes.NewReader(body),
	}.Do(ctx, i.client)
	if err != nil {
		return apperrors.NewSearchQueryFailedError("index", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return apperrors.NewSearchQueryFailedError("index", fmt.Errorf("%s", res.String()))
	}
	return nil
}

// Search returns the branch's orders matching text, newest first.
func (i *Index) Search(ctx context.Context, branchID, text string, limit int) ([]models.Order, error) {
	if branchID == "" {
		return nil, apperrors.NewValidationError("branch_id is required")
	}

	body, err := json.Marshal(buildOrderSearchQuery(branchID, text, limit))
	if err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}

	res, err := esapi.SearchRequest{
		Index: []string{i.name},
		Body:  bytes.NewReader(body),
	}.Do(ctx, i.client)
	if err != nil {
		return nil, apperrors.NewSearchQueryFailedError("order_history", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, apperrors.NewSearchQueryFailedError("order_history", fmt.Errorf("%s", res.String()))
	}

	var r struct {
		Hits struct {
			Hits []struct {
				Source models.Order `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&r); err != nil {
		return nil, apperrors.NewSearchQueryFailedError("order_history", err)
	}

	out := make([]models.Order, 0, len(r.Hits.Hits))
	for _, hit := range r.Hits.Hits {
		if hit.Source.Items == nil {
			hit.Source.Items = []models.OrderItem{}
		}
		out = append(out, hit.Source)
	}
	return out, nil
}

// Run indexes every event from sub until it closes or ctx is done.
func (i *Index) Run(ctx context.Context, sub *events.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := i.IndexOrder(ctx, event.Order); err != nil {
				i.logger.Warn("failed to index order", map[string]interface{}{
					"orderId": event.Order.ID,
					"error":   err.Error(),
				})
			}
		}
	}
}
