// internal/fulfillment/inventory/gate.go
package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	apperrors "order-fulfillment/internal/common/errors"
	"order-fulfillment/internal/common/logger"
	"order-fulfillment/internal/models"

	"github.com/lib/pq"
)

const (
	branchQuery = `SELECT id, name, is_open FROM branches WHERE id = $1`

	// Products without an override row fall back to available, no BOGO, base price.
	availabilityQuery = `
		SELECT p.id, p.name, p.category, p.base_price,
		       COALESCE(bp.is_available, TRUE),
		       COALESCE(bp.is_bogo, FALSE),
		       bp.sale_price
		FROM products p
		LEFT JOIN branch_products bp ON bp.product_id = p.id AND bp.branch_id = $1
		WHERE p.id = ANY($2)
		ORDER BY p.id`
)

// ProductState is a product together with its effective branch override.
type ProductState struct {
	Product  models.Product
	Override models.BranchProduct
}

// Price is the authoritative unit price at this branch.
func (ps ProductState) Price() float64 {
	return ps.Override.EffectivePrice(ps.Product.BasePrice)
}

// Snapshot is the availability read taken during validation. It is reused for
// enrichment so pricing and BOGO flags come from the same read.
type Snapshot struct {
	Branch   models.Branch
	Products map[string]ProductState
}

func (s *Snapshot) Lookup(productID string) (ProductState, bool) {
	if s == nil {
		return ProductState{}, false
	}
	ps, ok := s.Products[productID]
	return ps, ok
}

// Gate rejects carts for closed branches or sold-out products. It never writes.
type Gate struct {
	db     *sql.DB
	logger logger.Logger
}

func NewGate(db *sql.DB, log logger.Logger) *Gate {
	return &Gate{
		db:     db,
		logger: logger.ForComponent(log, "inventory-gate"),
	}
}

// Validate checks the branch and every distinct product in items with one
// batched availability read.
func (g *Gate) Validate(ctx context.Context, branchID string, items []models.CartItem) (*Snapshot, error) {
	if branchID == "" {
		return nil, apperrors.NewValidationError("branch is required")
	}
	if len(items) == 0 {
		return nil, apperrors.NewValidationError("cart is empty")
	}

	branch, err := g.loadBranch(ctx, branchID)
	if err != nil {
		return nil, err
	}
	if !branch.IsOpen {
		g.logger.Info("checkout rejected, branch closed", map[string]interface{}{"branchId": branchID})
		return nil, apperrors.NewBranchClosedError(branch.ID, branch.Name)
	}

	ids, cartNames := distinctProducts(items)

	snapshot := &Snapshot{Branch: *branch, Products: make(map[string]ProductState, len(ids))}

	rows, err := g.db.QueryContext(ctx, availabilityQuery, branchID, pq.Array(ids))
	if err != nil {
		return nil, apperrors.NewPersistenceFailedError("availability read", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			ps   ProductState
			sale sql.NullFloat64
		)
		if err := rows.Scan(
			&ps.Product.ID, &ps.Product.Name, &ps.Product.Category, &ps.Product.BasePrice,
			&ps.Override.IsAvailable, &ps.Override.IsBogo, &sale,
		); err != nil {
			return nil, apperrors.NewPersistenceFailedError("availability scan", err)
		}
		ps.Override.BranchID = branchID
		ps.Override.ProductID = ps.Product.ID
		if sale.Valid {
			price := sale.Float64
			ps.Override.SalePrice = &price
		}

		if !ps.Override.IsAvailable {
			g.logger.Info("checkout rejected, item sold out", map[string]interface{}{
				"branchId":  branchID,
				"productId": ps.Product.ID,
			})
			return nil, apperrors.NewItemSoldOutError(ps.Product.ID, ps.Product.Name)
		}
		snapshot.Products[ps.Product.ID] = ps
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewPersistenceFailedError("availability read", err)
	}

	// Products missing from the catalog cannot be served either.
	for _, id := range ids {
		if _, ok := snapshot.Products[id]; !ok {
			return nil, apperrors.NewItemSoldOutError(id, cartNames[id])
		}
	}

	return snapshot, nil
}

// Branch loads a branch without checking whether it is open.
func (g *Gate) Branch(ctx context.Context, branchID string) (*models.Branch, error) {
	return g.loadBranch(ctx, branchID)
}

func (g *Gate) loadBranch(ctx context.Context, branchID string) (*models.Branch, error) {
	var b models.Branch
	err := g.db.QueryRowContext(ctx, branchQuery, branchID).Scan(&b.ID, &b.Name, &b.IsOpen)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NewBranchNotFoundError(branchID)
		}
		return nil, apperrors.NewPersistenceFailedError("branch read", fmt.Errorf("branch %s: %w", branchID, err))
	}
	return &b, nil
}

func distinctProducts(items []models.CartItem) ([]string, map[string]string) {
	ids := make([]string, 0, len(items))
	names := make(map[string]string, len(items))
	for _, item := range items {
		if _, seen := names[item.ProductID]; seen {
			continue
		}
		ids = append(ids, item.ProductID)
		name := item.Name
		if name == "" {
			name = item.ProductID
		}
		names[item.ProductID] = name
	}
	return ids, names
}
