package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/Malekfhima/G-vente-sub000/internal/domain"
	"github.com/Malekfhima/G-vente-sub000/internal/store"
)

// Store is an in-memory Repository for dev mode and tests. A single mutex
// serializes every mutation, which gives the same check-then-decrement
// linearizability the postgres store gets from serializable transactions.
type Store struct {
	mu              sync.RWMutex
	products        map[int64]domain.Product
	sales           map[int64]domain.Sale
	saleOrder       []int64
	usersByUsername map[string]domain.UserAccount
	auditLogs       []domain.AuditLog
	nextProductID   int64
	nextSaleID      int64
	nextUserID      int64
}

func New() *Store {
	return &Store{
		products:        make(map[int64]domain.Product),
		sales:           make(map[int64]domain.Sale),
		saleOrder:       make([]int64, 0, 128),
		usersByUsername: make(map[string]domain.UserAccount),
		auditLogs:       make([]domain.AuditLog, 0, 128),
		nextProductID:   1,
		nextSaleID:      1,
		nextUserID:      1,
	}
}

// seedUsers builds the initial accounts for dev/demo mode. Credentials come
// from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD; hardcoded dev defaults
// are used with a warning when unset. Never used in production (the backend
// uses PostgreSQL when DATABASE_URL is set).
func seedUsers() []domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := make([]domain.UserAccount, 0, 2)
	for _, u := range []struct {
		username string
		email    string
		password string
		role     string
	}{
		{"admin", "admin@g-vente.local", adminPwd, domain.RoleAdmin},
		{"cashier", "cashier@g-vente.local", cashierPwd, domain.RoleCashier},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users = append(users, domain.UserAccount{
			Username:  u.username,
			Email:     u.email,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		})
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func NewSeeded() *Store {
	s := New()

	now := time.Now().UTC()
	for _, p := range []domain.Product{
		{Name: "Cahier 96 pages", PriceCents: 250, Stock: 120},
		{Name: "Stylo bille bleu", PriceCents: 80, Stock: 300},
		{Name: "Ramette A4 500f", PriceCents: 1450, Stock: 60},
		{Name: "Classeur rigide", PriceCents: 620, Stock: 45},
		{Name: "Agrafeuse", PriceCents: 1180, Stock: 18},
		{Name: "Marqueur permanent", PriceCents: 210, Stock: 90},
		{Name: "Enveloppes x50", PriceCents: 540, Stock: 70},
		{Name: "Photocopie N/B", PriceCents: 10, IsService: true},
		{Name: "Impression couleur", PriceCents: 100, IsService: true},
		{Name: "Reliure spirale", PriceCents: 350, IsService: true},
	} {
		p.ID = s.nextProductID
		s.nextProductID++
		p.CreatedAt = now
		p.UpdatedAt = now
		s.products[p.ID] = p
	}

	for _, u := range seedUsers() {
		u.ID = s.nextUserID
		s.nextUserID++
		s.usersByUsername[u.Username] = u
	}

	return s
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		products = append(products, p)
	}
	sort.Slice(products, func(i, j int) bool { return products[i].Name < products[j].Name })
	return products, nil
}

func (s *Store) GetProductByID(_ context.Context, id int64) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[id]
	if !ok {
		return nil, store.ErrProductNotFound
	}
	copied := p
	return &copied, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	if strings.TrimSpace(product.Name) == "" || product.PriceCents < 1 || product.Stock < 0 {
		return nil, store.ErrInvalidInput
	}
	if product.IsService {
		product.Stock = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.products {
		if strings.EqualFold(existing.Name, product.Name) {
			return nil, fmt.Errorf("%w: product name already exists", store.ErrInvalidInput)
		}
	}

	product.ID = s.nextProductID
	s.nextProductID++
	now := time.Now().UTC()
	product.CreatedAt = now
	product.UpdatedAt = now
	s.products[product.ID] = product

	created := product
	return &created, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	if strings.TrimSpace(product.Name) == "" || product.PriceCents < 1 || product.Stock < 0 {
		return nil, store.ErrInvalidInput
	}
	if product.IsService {
		product.Stock = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.products[product.ID]
	if !ok {
		return nil, store.ErrProductNotFound
	}
	for _, other := range s.products {
		if other.ID != product.ID && strings.EqualFold(other.Name, product.Name) {
			return nil, fmt.Errorf("%w: product name already exists", store.ErrInvalidInput)
		}
	}

	product.CreatedAt = existing.CreatedAt
	product.UpdatedAt = time.Now().UTC()
	s.products[product.ID] = product

	updated := product
	return &updated, nil
}

func (s *Store) DeleteProduct(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[id]; !ok {
		return store.ErrProductNotFound
	}
	for _, sale := range s.sales {
		if sale.ProductID == id {
			return store.ErrProductHasSales
		}
	}
	delete(s.products, id)
	return nil
}

func (s *Store) IncreaseStock(_ context.Context, productID int64, quantity int) (*domain.Product, error) {
	if quantity < 1 {
		return nil, store.ErrInvalidQuantity
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[productID]
	if !ok {
		return nil, store.ErrProductNotFound
	}
	if p.IsService {
		return nil, fmt.Errorf("%w: services carry no stock", store.ErrInvalidInput)
	}
	p.Stock += quantity
	p.UpdatedAt = time.Now().UTC()
	s.products[productID] = p

	copied := p
	return &copied, nil
}

func (s *Store) CreateSale(_ context.Context, productID int64, userID int64, quantity int, transactionID string) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, err := s.createSaleLocked(productID, userID, quantity, transactionID)
	if err != nil {
		return nil, err
	}
	return sale, nil
}

func (s *Store) CreateGroupedSale(_ context.Context, transactionID string, userID int64, lines []domain.BasketLine) ([]domain.Sale, error) {
	if len(lines) == 0 {
		return nil, store.ErrEmptyBasket
	}
	if strings.TrimSpace(transactionID) == "" {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Validate every line against a scratch copy of the stock before touching
	// anything, so a failing line leaves no partial effect.
	scratch := make(map[int64]int, len(lines))
	for _, line := range lines {
		if line.Quantity < 1 {
			return nil, store.ErrInvalidQuantity
		}
		p, ok := s.products[line.ProductID]
		if !ok {
			return nil, store.ErrProductNotFound
		}
		if p.IsService {
			continue
		}
		if _, seen := scratch[line.ProductID]; !seen {
			scratch[line.ProductID] = p.Stock
		}
		if scratch[line.ProductID] < line.Quantity {
			return nil, fmt.Errorf("%w: %d available, %d requested", store.ErrInsufficientStock, scratch[line.ProductID], line.Quantity)
		}
		scratch[line.ProductID] -= line.Quantity
	}

	sales := make([]domain.Sale, 0, len(lines))
	for _, line := range lines {
		sale, err := s.createSaleLocked(line.ProductID, userID, line.Quantity, transactionID)
		if err != nil {
			return nil, err
		}
		sales = append(sales, *sale)
	}
	return sales, nil
}

func (s *Store) createSaleLocked(productID int64, userID int64, quantity int, transactionID string) (*domain.Sale, error) {
	if quantity < 1 {
		return nil, store.ErrInvalidQuantity
	}

	p, ok := s.products[productID]
	if !ok {
		return nil, store.ErrProductNotFound
	}
	if !p.IsService {
		if p.Stock < quantity {
			return nil, fmt.Errorf("%w: %d available, %d requested", store.ErrInsufficientStock, p.Stock, quantity)
		}
		p.Stock -= quantity
		p.UpdatedAt = time.Now().UTC()
		s.products[productID] = p
	}

	sale := domain.Sale{
		ID:             s.nextSaleID,
		ProductID:      productID,
		UserID:         userID,
		Quantity:       quantity,
		UnitPriceCents: p.PriceCents,
		TotalCents:     p.PriceCents * int64(quantity),
		TransactionID:  transactionID,
		CreatedAt:      time.Now().UTC(),
		ProductName:    p.Name,
	}
	s.nextSaleID++
	s.decorateUserLocked(&sale)
	s.sales[sale.ID] = sale
	s.saleOrder = append(s.saleOrder, sale.ID)

	copied := sale
	return &copied, nil
}

func (s *Store) decorateUserLocked(sale *domain.Sale) {
	for _, u := range s.usersByUsername {
		if u.ID == sale.UserID {
			sale.UserName = u.Username
			sale.UserEmail = u.Email
			return
		}
	}
}

func (s *Store) GetSaleByID(_ context.Context, id int64) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.sales[id]
	if !ok {
		return nil, store.ErrSaleNotFound
	}
	copied := sale
	return &copied, nil
}

func (s *Store) ListSales(_ context.Context, limit int) ([]domain.Sale, error) {
	if limit < 1 {
		limit = 200
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	sales := make([]domain.Sale, 0, limit)
	for i := len(s.saleOrder) - 1; i >= 0 && len(sales) < limit; i-- {
		if sale, ok := s.sales[s.saleOrder[i]]; ok {
			sales = append(sales, sale)
		}
	}
	return sales, nil
}

func (s *Store) UpdateSaleQuantity(_ context.Context, id int64, quantity int) (*domain.Sale, error) {
	if quantity < 1 {
		return nil, store.ErrInvalidQuantity
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.sales[id]
	if !ok {
		return nil, store.ErrSaleNotFound
	}

	delta := quantity - sale.Quantity
	if p, exists := s.products[sale.ProductID]; exists && !p.IsService && delta != 0 {
		if p.Stock-delta < 0 {
			return nil, fmt.Errorf("%w: %d available, %d additional requested", store.ErrInsufficientStock, p.Stock, delta)
		}
		p.Stock -= delta
		p.UpdatedAt = time.Now().UTC()
		s.products[sale.ProductID] = p
	}

	sale.Quantity = quantity
	sale.TotalCents = sale.UnitPriceCents * int64(quantity)
	s.sales[id] = sale

	copied := sale
	return &copied, nil
}

func (s *Store) DeleteSale(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.sales[id]
	if !ok {
		return store.ErrSaleNotFound
	}

	if p, exists := s.products[sale.ProductID]; exists && !p.IsService {
		p.Stock += sale.Quantity
		p.UpdatedAt = time.Now().UTC()
		s.products[sale.ProductID] = p
	}

	delete(s.sales, id)
	for i, saleID := range s.saleOrder {
		if saleID == id {
			s.saleOrder = append(s.saleOrder[:i], s.saleOrder[i+1:]...)
			break
		}
	}
	return nil
}

func (s *Store) ListSalesByTransaction(_ context.Context, transactionID string) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sales := make([]domain.Sale, 0, 8)
	for _, saleID := range s.saleOrder {
		if sale, ok := s.sales[saleID]; ok && sale.TransactionID == transactionID {
			sales = append(sales, sale)
		}
	}
	return sales, nil
}

func (s *Store) ListGroupedSales(_ context.Context, limit int) ([]domain.GroupedSaleSummary, error) {
	if limit < 1 {
		limit = 100
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	summaryByTx := make(map[string]*domain.GroupedSaleSummary)
	lastIDByTx := make(map[string]int64)
	order := make([]string, 0, 16)
	for _, saleID := range s.saleOrder {
		sale, ok := s.sales[saleID]
		if !ok || sale.TransactionID == "" {
			continue
		}
		summary, seen := summaryByTx[sale.TransactionID]
		if !seen {
			summary = &domain.GroupedSaleSummary{
				TransactionID: sale.TransactionID,
				FirstSaleAt:   sale.CreatedAt,
				UserID:        sale.UserID,
				UserName:      sale.UserName,
			}
			summaryByTx[sale.TransactionID] = summary
			order = append(order, sale.TransactionID)
		}
		summary.LineCount++
		summary.TotalQuantity += sale.Quantity
		summary.TotalCents += sale.TotalCents
		if sale.ID > lastIDByTx[sale.TransactionID] {
			lastIDByTx[sale.TransactionID] = sale.ID
		}
	}

	sort.Slice(order, func(i, j int) bool {
		return lastIDByTx[order[i]] > lastIDByTx[order[j]]
	})

	summaries := make([]domain.GroupedSaleSummary, 0, limit)
	for _, txID := range order {
		if len(summaries) == limit {
			break
		}
		summaries = append(summaries, *summaryByTx[txID])
	}
	return summaries, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) (*domain.UserAccount, error) {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return nil, store.ErrInvalidInput
	}
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.usersByUsername[user.Username]; exists {
		return nil, fmt.Errorf("%w: username already exists", store.ErrInvalidInput)
	}
	user.ID = s.nextUserID
	s.nextUserID++
	s.usersByUsername[user.Username] = user

	created := user
	return &created, nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, u := range s.usersByUsername {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.usersByUsername[username]
	if !ok {
		return store.ErrInvalidInput
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	logs := make([]domain.AuditLog, 0, limit)
	for i := len(s.auditLogs) - 1; i >= 0 && len(logs) < limit; i-- {
		entry := s.auditLogs[i]
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		logs = append(logs, entry)
	}
	return logs, nil
}
