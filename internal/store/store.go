package store

import (
	"context"
	"errors"
	"time"

	"github.com/Malekfhima/G-vente-sub000/internal/domain"
)

var (
	ErrInvalidQuantity   = errors.New("quantity must be at least 1")
	ErrProductNotFound   = errors.New("product not found")
	ErrSaleNotFound      = errors.New("sale not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrEmptyBasket       = errors.New("basket has no lines")
	ErrProductHasSales   = errors.New("product has recorded sales")
	ErrInvalidInput      = errors.New("invalid input")
)

// Repository is the storage contract. Implementations must make every
// check-then-mutate path (sale create, basket, quantity update, delete,
// product delete guard) a single atomic unit: a concurrent pair of sales
// against the same product must never jointly exceed its stock.
type Repository interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetProductByID(ctx context.Context, id int64) (*domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	DeleteProduct(ctx context.Context, id int64) error
	IncreaseStock(ctx context.Context, productID int64, quantity int) (*domain.Product, error)

	CreateSale(ctx context.Context, productID int64, userID int64, quantity int, transactionID string) (*domain.Sale, error)
	CreateGroupedSale(ctx context.Context, transactionID string, userID int64, lines []domain.BasketLine) ([]domain.Sale, error)
	GetSaleByID(ctx context.Context, id int64) (*domain.Sale, error)
	ListSales(ctx context.Context, limit int) ([]domain.Sale, error)
	UpdateSaleQuantity(ctx context.Context, id int64, quantity int) (*domain.Sale, error)
	DeleteSale(ctx context.Context, id int64) error
	ListSalesByTransaction(ctx context.Context, transactionID string) ([]domain.Sale, error)
	ListGroupedSales(ctx context.Context, limit int) ([]domain.GroupedSaleSummary, error)

	CreateUser(ctx context.Context, user domain.UserAccount) (*domain.UserAccount, error)
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)
}
