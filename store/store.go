// Package store holds the sqlx repositories backing the order store and
// the inventory store. Stock mutations go through AdjustStock, a
// conditional adjustment that locks the product row and refuses any
// delta that would drive stock negative.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"github.com/daniel-vizcarra/IntegraHub/model"
)

var (
	ErrNotFound          = errors.New("store: not found")
	ErrInsufficientStock = errors.New("store: insufficient stock")
)

type IOrderRepo interface {
	CreateOrder(ctx context.Context, order model.Order) (int64, error)
	GetOrder(ctx context.Context, id int64) (model.Order, error)
	ListOrders(ctx context.Context, limit int) ([]model.Order, error)
	UpdateOrderStatus(ctx context.Context, id int64, status model.OrderStatus, attemptCount int) error
}

type IInventoryRepo interface {
	CreateProduct(ctx context.Context, product model.Product) (int64, error)
	GetProduct(ctx context.Context, id int64) (model.Product, error)
	AdjustStock(ctx context.Context, productID int64, delta int) (model.StockLevel, error)
}

func Connect(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect mysql: %w", err)
	}
	return db, nil
}

func NewOrderRepo(db *sqlx.DB) IOrderRepo {
	return &orderRepo{db: db}
}

type orderRepo struct {
	db *sqlx.DB
}

var createOrderQuery = "INSERT INTO orders (customer_name, product_id, quantity, status) VALUES (:customer_name, :product_id, :quantity, :status)"

func (r orderRepo) CreateOrder(ctx context.Context, order model.Order) (int64, error) {
	if order.Status == "" {
		order.Status = model.OrderPending
	}
	res, err := r.db.NamedExecContext(ctx, createOrderQuery, order)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

var getOrderQuery = "SELECT * FROM orders WHERE id = ?"

func (r orderRepo) GetOrder(ctx context.Context, id int64) (model.Order, error) {
	var res model.Order
	err := r.db.GetContext(ctx, &res, getOrderQuery, id)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Order{}, ErrNotFound
	}
	return res, err
}

var listOrdersQuery = "SELECT * FROM orders ORDER BY id DESC LIMIT ?"

func (r orderRepo) ListOrders(ctx context.Context, limit int) ([]model.Order, error) {
	var res []model.Order
	err := r.db.SelectContext(ctx, &res, listOrdersQuery, limit)
	return res, err
}

var updateOrderStatusQuery = "UPDATE orders SET status = ?, attempt_count = ? WHERE id = ?"

func (r orderRepo) UpdateOrderStatus(ctx context.Context, id int64, status model.OrderStatus, attemptCount int) error {
	_, err := r.db.ExecContext(ctx, updateOrderStatusQuery, status, attemptCount, id)
	return err
}

func NewInventoryRepo(db *sqlx.DB) IInventoryRepo {
	return &inventoryRepo{db: db}
}

type inventoryRepo struct {
	db *sqlx.DB
}

var createProductQuery = "INSERT INTO products (name, stock_quantity, reorder_threshold) VALUES (:name, :stock_quantity, :reorder_threshold)"

func (r inventoryRepo) CreateProduct(ctx context.Context, product model.Product) (int64, error) {
	res, err := r.db.NamedExecContext(ctx, createProductQuery, product)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

var getProductQuery = "SELECT * FROM products WHERE id = ?"

func (r inventoryRepo) GetProduct(ctx context.Context, id int64) (model.Product, error) {
	var res model.Product
	err := r.db.GetContext(ctx, &res, getProductQuery, id)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Product{}, ErrNotFound
	}
	return res, err
}

var lockProductQuery = "SELECT * FROM products WHERE id = ? FOR UPDATE"

var updateStockQuery = "UPDATE products SET stock_quantity = ? WHERE id = ?"

// AdjustStock applies delta to the product's stock inside a transaction
// holding a row lock, and fails with ErrInsufficientStock when the
// result would be negative. The row lock is the single point of
// contention between concurrent fulfillments and restocks.
func (r inventoryRepo) AdjustStock(ctx context.Context, productID int64, delta int) (model.StockLevel, error) {
	var level model.StockLevel
	err := r.transact(ctx, func(tx *sqlx.Tx) error {
		var product model.Product
		err := tx.GetContext(ctx, &product, lockProductQuery, productID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		next := product.StockQuantity + delta
		if next < 0 {
			return ErrInsufficientStock
		}

		_, err = tx.ExecContext(ctx, updateStockQuery, next, productID)
		if err != nil {
			return err
		}
		level = model.StockLevel{Before: product.StockQuantity, After: next}
		return nil
	})
	return level, err
}

func (r inventoryRepo) transact(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
