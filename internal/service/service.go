package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Malekfhima/G-vente-sub000/internal/domain"
	"github.com/Malekfhima/G-vente-sub000/internal/store"
	"github.com/Malekfhima/G-vente-sub000/internal/ticket"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// Service coordinates sales against the catalog: every path that records,
// reshapes, or removes a sale keeps the stock ledger consistent with the
// sale ledger. Friendly validation happens here; the authoritative
// check-then-mutate runs inside the repository transaction.
type Service struct {
	repo    store.Repository
	tickets ticket.Sequencer
}

func New(repo store.Repository, tickets ticket.Sequencer) *Service {
	if tickets == nil {
		tickets = ticket.NewCounterSequencer()
	}

	return &Service{
		repo:    repo,
		tickets: tickets,
	}
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) GetProduct(ctx context.Context, id int64) (domain.Product, error) {
	p, err := s.repo.GetProductByID(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	return *p, nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.Product{}, fmt.Errorf("admin role required")
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return domain.Product{}, fmt.Errorf("%w: name is required", store.ErrInvalidInput)
	}
	if req.PriceCents < 1 {
		return domain.Product{}, fmt.Errorf("%w: price must be at least 1 cent", store.ErrInvalidInput)
	}
	if req.Stock < 0 {
		return domain.Product{}, fmt.Errorf("%w: stock cannot be negative", store.ErrInvalidInput)
	}
	if req.IsService && req.Stock != 0 {
		return domain.Product{}, fmt.Errorf("%w: services carry no stock", store.ErrInvalidInput)
	}

	created, err := s.repo.CreateProduct(ctx, domain.Product{
		Name:       req.Name,
		PriceCents: req.PriceCents,
		Stock:      req.Stock,
		IsService:  req.IsService,
	})
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, "product_create", "product", fmt.Sprintf("%d", created.ID), fmt.Sprintf("name=%s,price=%d,stock=%d", created.Name, created.PriceCents, created.Stock))
	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, id int64, req domain.ProductUpdateRequest) (domain.Product, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.Product{}, fmt.Errorf("admin role required")
	}

	existing, err := s.repo.GetProductByID(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}

	next := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Product{}, fmt.Errorf("%w: name is required", store.ErrInvalidInput)
		}
		next.Name = name
	}
	if req.PriceCents != nil {
		if *req.PriceCents < 1 {
			return domain.Product{}, fmt.Errorf("%w: price must be at least 1 cent", store.ErrInvalidInput)
		}
		next.PriceCents = *req.PriceCents
	}
	if req.IsService != nil {
		next.IsService = *req.IsService
		if next.IsService {
			next.Stock = 0
		}
	}

	saved, err := s.repo.UpdateProduct(ctx, next)
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, "product_update", "product", fmt.Sprintf("%d", saved.ID), fmt.Sprintf("name=%s,price=%d,service=%t", saved.Name, saved.PriceCents, saved.IsService))
	return *saved, nil
}

// DeleteProduct removes a catalog entry. Products referenced by any sale line
// are protected; callers must delete the sales first (which restores stock)
// or keep the product for history.
func (s *Service) DeleteProduct(ctx context.Context, id int64) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return fmt.Errorf("admin role required")
	}

	if err := s.repo.DeleteProduct(ctx, id); err != nil {
		return err
	}

	s.logAudit(ctx, "product_delete", "product", fmt.Sprintf("%d", id), "")
	return nil
}

func (s *Service) RestockProduct(ctx context.Context, id int64, req domain.RestockRequest) (domain.Product, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.Product{}, fmt.Errorf("admin role required")
	}
	if req.Quantity < 1 {
		return domain.Product{}, store.ErrInvalidQuantity
	}

	updated, err := s.repo.IncreaseStock(ctx, id, req.Quantity)
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, "product_restock", "product", fmt.Sprintf("%d", id), fmt.Sprintf("quantity=%d,stock=%d", req.Quantity, updated.Stock))
	return *updated, nil
}

// CreateSale records a single standalone sale line. The repository decrements
// stock and inserts the line in one atomic unit; the pre-check here only
// shapes the error before any lock is taken.
func (s *Service) CreateSale(ctx context.Context, req domain.SaleCreateRequest) (domain.Sale, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Sale{}, fmt.Errorf("authentication required")
	}
	if req.Quantity < 1 {
		return domain.Sale{}, store.ErrInvalidQuantity
	}

	product, err := s.repo.GetProductByID(ctx, req.ProductID)
	if err != nil {
		return domain.Sale{}, err
	}
	if !product.IsService && product.Stock < req.Quantity {
		return domain.Sale{}, fmt.Errorf("%w: %d available, %d requested", store.ErrInsufficientStock, product.Stock, req.Quantity)
	}

	sale, err := s.repo.CreateSale(ctx, req.ProductID, actor.UserID, req.Quantity, "")
	if err != nil {
		return domain.Sale{}, err
	}

	s.logAudit(ctx, "sale_create", "sale", fmt.Sprintf("%d", sale.ID), fmt.Sprintf("product=%d,qty=%d,total=%d", sale.ProductID, sale.Quantity, sale.TotalCents))
	return *sale, nil
}

// CreateBasket records a multi-line sale under one transaction identifier.
// Either every line lands or none does: a failing line (unknown product,
// insufficient stock) rolls the whole basket back in the repository.
func (s *Service) CreateBasket(ctx context.Context, req domain.BasketRequest) (domain.BasketResponse, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.BasketResponse{}, fmt.Errorf("authentication required")
	}
	if len(req.Items) == 0 {
		return domain.BasketResponse{}, store.ErrEmptyBasket
	}

	// Friendly pre-check with per-product accumulation, so duplicate lines
	// for the same product are judged on their combined quantity.
	requested := make(map[int64]int, len(req.Items))
	for _, line := range req.Items {
		if line.Quantity < 1 {
			return domain.BasketResponse{}, store.ErrInvalidQuantity
		}
		requested[line.ProductID] += line.Quantity
	}
	for productID, quantity := range requested {
		product, err := s.repo.GetProductByID(ctx, productID)
		if err != nil {
			return domain.BasketResponse{}, err
		}
		if !product.IsService && product.Stock < quantity {
			return domain.BasketResponse{}, fmt.Errorf("%w: product %d has %d available, %d requested", store.ErrInsufficientStock, productID, product.Stock, quantity)
		}
	}

	transactionID := uuid.NewString()
	lines, err := s.repo.CreateGroupedSale(ctx, transactionID, actor.UserID, req.Items)
	if err != nil {
		return domain.BasketResponse{}, err
	}

	var total int64
	for _, line := range lines {
		total += line.TotalCents
	}

	s.logAudit(ctx, "basket_create", "transaction", transactionID, fmt.Sprintf("lines=%d,total=%d", len(lines), total))
	return domain.BasketResponse{
		TransactionID: transactionID,
		TotalCents:    total,
		Lines:         lines,
	}, nil
}

func (s *Service) GetSale(ctx context.Context, id int64) (domain.Sale, error) {
	sale, err := s.repo.GetSaleByID(ctx, id)
	if err != nil {
		return domain.Sale{}, err
	}
	return *sale, nil
}

func (s *Service) ListSales(ctx context.Context, limit int) ([]domain.Sale, error) {
	return s.repo.ListSales(ctx, limit)
}

// UpdateSale changes a sale's quantity. Stock moves by the delta between old
// and new quantity; the total is recomputed from the unit price frozen at
// creation, never from the product's current price.
func (s *Service) UpdateSale(ctx context.Context, id int64, req domain.SaleUpdateRequest) (domain.Sale, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.Sale{}, fmt.Errorf("admin role required")
	}
	if req.Quantity < 1 {
		return domain.Sale{}, store.ErrInvalidQuantity
	}

	updated, err := s.repo.UpdateSaleQuantity(ctx, id, req.Quantity)
	if err != nil {
		return domain.Sale{}, err
	}

	s.logAudit(ctx, "sale_update", "sale", fmt.Sprintf("%d", id), fmt.Sprintf("qty=%d,total=%d", updated.Quantity, updated.TotalCents))
	return *updated, nil
}

// DeleteSale removes a sale line and returns its quantity to stock, unless
// the product is a service or no longer exists.
func (s *Service) DeleteSale(ctx context.Context, id int64) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return fmt.Errorf("admin role required")
	}

	sale, err := s.repo.GetSaleByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteSale(ctx, id); err != nil {
		return err
	}

	s.logAudit(ctx, "sale_delete", "sale", fmt.Sprintf("%d", id), fmt.Sprintf("product=%d,qty=%d,restored", sale.ProductID, sale.Quantity))
	return nil
}

func (s *Service) ListGroupedSales(ctx context.Context, limit int) ([]domain.GroupedSaleSummary, error) {
	return s.repo.ListGroupedSales(ctx, limit)
}

// GetGroupedSale returns every line sharing the transaction identifier plus
// the same aggregates the list view shows.
func (s *Service) GetGroupedSale(ctx context.Context, transactionID string) (domain.GroupedSaleDetail, error) {
	transactionID = strings.TrimSpace(transactionID)
	if transactionID == "" {
		return domain.GroupedSaleDetail{}, store.ErrInvalidInput
	}

	lines, err := s.repo.ListSalesByTransaction(ctx, transactionID)
	if err != nil {
		return domain.GroupedSaleDetail{}, err
	}
	if len(lines) == 0 {
		return domain.GroupedSaleDetail{}, store.ErrSaleNotFound
	}

	detail := domain.GroupedSaleDetail{
		GroupedSaleSummary: domain.GroupedSaleSummary{
			TransactionID: transactionID,
			FirstSaleAt:   lines[0].CreatedAt,
			UserID:        lines[0].UserID,
			UserName:      lines[0].UserName,
		},
		Lines: lines,
	}
	for _, line := range lines {
		detail.LineCount++
		detail.TotalQuantity += line.Quantity
		detail.TotalCents += line.TotalCents
	}
	return detail, nil
}

// BuildReceipt renders a printable ticket for a grouped sale. The ticket
// number is a per-day sequence (T-YYYYMMDD-NNNN) and is display-only.
func (s *Service) BuildReceipt(ctx context.Context, transactionID string) (domain.Receipt, error) {
	detail, err := s.GetGroupedSale(ctx, transactionID)
	if err != nil {
		return domain.Receipt{}, err
	}

	now := time.Now().UTC()
	seq, err := s.tickets.Next(ctx, now)
	if err != nil {
		log.Printf("[receipt] WARN: ticket sequencer unavailable, falling back to sequence 0: %v", err)
		seq = 0
	}
	ticketNumber := fmt.Sprintf("T-%s-%04d", now.Format("20060102"), seq)

	lines := []string{
		"G-Vente Papeterie",
		"========================",
		"Ticket : " + ticketNumber,
		"Date   : " + detail.FirstSaleAt.Format("2006-01-02 15:04:05"),
	}
	if detail.UserName != "" {
		lines = append(lines, "Vendeur: "+detail.UserName)
	}
	lines = append(lines, "------------------------")
	for _, line := range detail.Lines {
		lines = append(lines, fmt.Sprintf("%s x%d", line.ProductName, line.Quantity))
		lines = append(lines, fmt.Sprintf("  %s", formatCents(line.TotalCents)))
	}
	lines = append(lines,
		"------------------------",
		fmt.Sprintf("Total  : %s", formatCents(detail.TotalCents)),
		"========================",
		"Merci de votre visite",
		"",
	)

	return domain.Receipt{
		TicketNumber:  ticketNumber,
		TransactionID: detail.TransactionID,
		TotalCents:    detail.TotalCents,
		Text:          strings.Join(lines, "\n"),
		FileName:      fmt.Sprintf("ticket-%s.txt", ticketNumber),
	}, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, date string, limit int) ([]domain.AuditLog, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return nil, fmt.Errorf("admin role required")
	}

	day := time.Now().UTC()
	if date != "" {
		parsed, err := time.Parse("2006-01-02", date)
		if err != nil {
			return nil, fmt.Errorf("%w: date must be YYYY-MM-DD", store.ErrInvalidInput)
		}
		day = parsed
	}
	from := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)

	return s.repo.ListAuditLogs(ctx, from, to, limit)
}

func formatCents(cents int64) string {
	return fmt.Sprintf("%d.%02d", cents/100, cents%100)
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            uuid.NewString(),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		log.Printf("[audit] WARN: failed to write audit log action=%s entity=%s/%s: %v", action, entityType, entityID, err)
	}
}
