package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/Malekfhima/G-vente-sub000/internal/domain"
	"github.com/Malekfhima/G-vente-sub000/internal/store"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, price_cents, stock, is_service, created_at, updated_at
		FROM products
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.PriceCents, &p.Stock, &p.IsService, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.CreatedAt = p.CreatedAt.UTC()
		p.UpdatedAt = p.UpdatedAt.UTC()
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return products, nil
}

func (s *Store) GetProductByID(ctx context.Context, id int64) (*domain.Product, error) {
	var p domain.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, price_cents, stock, is_service, created_at, updated_at
		FROM products
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.PriceCents, &p.Stock, &p.IsService, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrProductNotFound
		}
		return nil, err
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if strings.TrimSpace(product.Name) == "" || product.PriceCents < 1 || product.Stock < 0 {
		return nil, store.ErrInvalidInput
	}
	if product.IsService {
		product.Stock = 0
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO products (name, price_cents, stock, is_service, created_at, updated_at)
		VALUES ($1,$2,$3,$4,now(),now())
		RETURNING id, created_at, updated_at
	`, product.Name, product.PriceCents, product.Stock, product.IsService).Scan(&product.ID, &product.CreatedAt, &product.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: product name already exists", store.ErrInvalidInput)
		}
		return nil, err
	}

	created := product
	return &created, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if strings.TrimSpace(product.Name) == "" || product.PriceCents < 1 || product.Stock < 0 {
		return nil, store.ErrInvalidInput
	}
	if product.IsService {
		product.Stock = 0
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET name = $2, price_cents = $3, stock = $4, is_service = $5, updated_at = now()
		WHERE id = $1
	`, product.ID, product.Name, product.PriceCents, product.Stock, product.IsService)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: product name already exists", store.ErrInvalidInput)
		}
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrProductNotFound
	}

	updated := product
	return &updated, nil
}

// DeleteProduct refuses to remove a product that any sale still references.
// The existence check and the delete run in one transaction so a concurrent
// sale cannot slip between them.
func (s *Store) DeleteProduct(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var exists bool
	err = tx.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM sales WHERE product_id = $1)
	`, id).Scan(&exists)
	if err != nil {
		return err
	}
	if exists {
		return store.ErrProductHasSales
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrProductNotFound
	}

	return tx.Commit()
}

func (s *Store) IncreaseStock(ctx context.Context, productID int64, quantity int) (*domain.Product, error) {
	if quantity < 1 {
		return nil, store.ErrInvalidQuantity
	}

	var p domain.Product
	err := s.db.QueryRowContext(ctx, `
		UPDATE products
		SET stock = stock + $2, updated_at = now()
		WHERE id = $1 AND is_service = false
		RETURNING id, name, price_cents, stock, is_service, created_at, updated_at
	`, productID, quantity).Scan(&p.ID, &p.Name, &p.PriceCents, &p.Stock, &p.IsService, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Either the product is missing or it is a service; disambiguate.
			if _, lookupErr := s.GetProductByID(ctx, productID); lookupErr != nil {
				return nil, lookupErr
			}
			return nil, fmt.Errorf("%w: services carry no stock", store.ErrInvalidInput)
		}
		return nil, err
	}
	return &p, nil
}

// CreateSale validates and decrements stock and inserts the sale row in one
// serializable transaction, with the product row locked FOR UPDATE. The
// unit price is captured from the product at this moment and frozen.
func (s *Store) CreateSale(ctx context.Context, productID int64, userID int64, quantity int, transactionID string) (*domain.Sale, error) {
	if quantity < 1 {
		return nil, store.ErrInvalidQuantity
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	sale, err := createSaleInTx(ctx, tx, productID, userID, quantity, transactionID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return sale, nil
}

// CreateGroupedSale commits every basket line or none of them. Lines are
// processed in request order inside a single transaction, so duplicate
// products accumulate naturally against the locked stock row.
func (s *Store) CreateGroupedSale(ctx context.Context, transactionID string, userID int64, lines []domain.BasketLine) ([]domain.Sale, error) {
	if len(lines) == 0 {
		return nil, store.ErrEmptyBasket
	}
	if strings.TrimSpace(transactionID) == "" {
		return nil, store.ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	sales := make([]domain.Sale, 0, len(lines))
	for _, line := range lines {
		sale, err := createSaleInTx(ctx, tx, line.ProductID, userID, line.Quantity, transactionID)
		if err != nil {
			return nil, err
		}
		sales = append(sales, *sale)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return sales, nil
}

func createSaleInTx(ctx context.Context, tx *sql.Tx, productID int64, userID int64, quantity int, transactionID string) (*domain.Sale, error) {
	if quantity < 1 {
		return nil, store.ErrInvalidQuantity
	}

	var name string
	var priceCents int64
	var stock int
	var isService bool
	err := tx.QueryRowContext(ctx, `
		SELECT name, price_cents, stock, is_service
		FROM products
		WHERE id = $1
		FOR UPDATE
	`, productID).Scan(&name, &priceCents, &stock, &isService)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrProductNotFound
		}
		return nil, err
	}

	if !isService {
		if stock < quantity {
			return nil, fmt.Errorf("%w: %d available, %d requested", store.ErrInsufficientStock, stock, quantity)
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE products
			SET stock = stock - $2, updated_at = now()
			WHERE id = $1
		`, productID, quantity)
		if err != nil {
			return nil, err
		}
	}

	sale := domain.Sale{
		ProductID:      productID,
		UserID:         userID,
		Quantity:       quantity,
		UnitPriceCents: priceCents,
		TotalCents:     priceCents * int64(quantity),
		TransactionID:  transactionID,
		ProductName:    name,
	}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO sales (product_id, user_id, quantity, unit_price_cents, total_cents, transaction_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,now())
		RETURNING id, created_at
	`, sale.ProductID, sale.UserID, sale.Quantity, sale.UnitPriceCents, sale.TotalCents, nullIfEmpty(sale.TransactionID)).Scan(&sale.ID, &sale.CreatedAt)
	if err != nil {
		return nil, err
	}
	sale.CreatedAt = sale.CreatedAt.UTC()

	var email sql.NullString
	err = tx.QueryRowContext(ctx, `
		SELECT username, email FROM app_users WHERE id = $1
	`, userID).Scan(&sale.UserName, &email)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if email.Valid {
		sale.UserEmail = email.String
	}

	return &sale, nil
}

func (s *Store) GetSaleByID(ctx context.Context, id int64) (*domain.Sale, error) {
	sale, err := scanSale(s.db.QueryRowContext(ctx, saleSelect+` WHERE s.id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrSaleNotFound
		}
		return nil, err
	}
	return sale, nil
}

func (s *Store) ListSales(ctx context.Context, limit int) ([]domain.Sale, error) {
	if limit < 1 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, saleSelect+`
		ORDER BY s.id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectSales(rows, limit)
}

// UpdateSaleQuantity applies the stock delta and the recomputed total in one
// transaction. The total is recomputed from the sale's frozen unit price, so
// a later product price change never rewrites history.
func (s *Store) UpdateSaleQuantity(ctx context.Context, id int64, quantity int) (*domain.Sale, error) {
	if quantity < 1 {
		return nil, store.ErrInvalidQuantity
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var productID int64
	var oldQuantity int
	var unitPriceCents int64
	err = tx.QueryRowContext(ctx, `
		SELECT product_id, quantity, unit_price_cents
		FROM sales
		WHERE id = $1
		FOR UPDATE
	`, id).Scan(&productID, &oldQuantity, &unitPriceCents)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrSaleNotFound
		}
		return nil, err
	}

	delta := quantity - oldQuantity
	if delta != 0 {
		var stock int
		var isService bool
		err = tx.QueryRowContext(ctx, `
			SELECT stock, is_service
			FROM products
			WHERE id = $1
			FOR UPDATE
		`, productID).Scan(&stock, &isService)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			// Product gone: nothing to compensate, the sale row still updates.
		case err != nil:
			return nil, err
		case !isService:
			if stock-delta < 0 {
				return nil, fmt.Errorf("%w: %d available, %d additional requested", store.ErrInsufficientStock, stock, delta)
			}
			_, err = tx.ExecContext(ctx, `
				UPDATE products
				SET stock = stock - $2, updated_at = now()
				WHERE id = $1
			`, productID, delta)
			if err != nil {
				return nil, err
			}
		}
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE sales
		SET quantity = $2, total_cents = $3
		WHERE id = $1
	`, id, quantity, unitPriceCents*int64(quantity))
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return s.GetSaleByID(ctx, id)
}

// DeleteSale removes the row and restores stock in one transaction. The
// restoration targets the product by id; if the product no longer exists the
// UPDATE touches zero rows and the deletion still succeeds.
func (s *Store) DeleteSale(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var productID int64
	var quantity int
	err = tx.QueryRowContext(ctx, `
		SELECT product_id, quantity
		FROM sales
		WHERE id = $1
		FOR UPDATE
	`, id).Scan(&productID, &quantity)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrSaleNotFound
		}
		return err
	}

	_, err = tx.ExecContext(ctx, `DELETE FROM sales WHERE id = $1`, id)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE products
		SET stock = stock + $2, updated_at = now()
		WHERE id = $1 AND is_service = false
	`, productID, quantity)
	if err != nil {
		return err
	}

	return tx.Commit()
}

func (s *Store) ListSalesByTransaction(ctx context.Context, transactionID string) ([]domain.Sale, error) {
	rows, err := s.db.QueryContext(ctx, saleSelect+`
		WHERE s.transaction_id = $1
		ORDER BY s.id ASC
	`, transactionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectSales(rows, 8)
}

func (s *Store) ListGroupedSales(ctx context.Context, limit int) ([]domain.GroupedSaleSummary, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT s.transaction_id,
			COUNT(*)::int,
			COALESCE(SUM(s.quantity),0)::int,
			COALESCE(SUM(s.total_cents),0)::bigint,
			MIN(s.id)
		FROM sales s
		WHERE s.transaction_id IS NOT NULL
		GROUP BY s.transaction_id
		ORDER BY MAX(s.id) DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	summaries := make([]domain.GroupedSaleSummary, 0, limit)
	firstIDs := make([]int64, 0, limit)
	for rows.Next() {
		var summary domain.GroupedSaleSummary
		var firstID int64
		if err := rows.Scan(&summary.TransactionID, &summary.LineCount, &summary.TotalQuantity, &summary.TotalCents, &firstID); err != nil {
			return nil, err
		}
		summaries = append(summaries, summary)
		firstIDs = append(firstIDs, firstID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(summaries) == 0 {
		return summaries, nil
	}

	firstRows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.created_at, s.user_id, COALESCE(u.username,'')
		FROM sales s
		LEFT JOIN app_users u ON u.id = s.user_id
		WHERE s.id = ANY($1)
	`, firstIDs)
	if err != nil {
		return nil, err
	}
	defer firstRows.Close()

	type firstLine struct {
		createdAt time.Time
		userID    int64
		userName  string
	}
	firstByID := make(map[int64]firstLine, len(firstIDs))
	for firstRows.Next() {
		var id int64
		var fl firstLine
		if err := firstRows.Scan(&id, &fl.createdAt, &fl.userID, &fl.userName); err != nil {
			return nil, err
		}
		fl.createdAt = fl.createdAt.UTC()
		firstByID[id] = fl
	}
	if err := firstRows.Err(); err != nil {
		return nil, err
	}

	for i := range summaries {
		if fl, ok := firstByID[firstIDs[i]]; ok {
			summaries[i].FirstSaleAt = fl.createdAt
			summaries[i].UserID = fl.userID
			summaries[i].UserName = fl.userName
		}
	}
	return summaries, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) (*domain.UserAccount, error) {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return nil, store.ErrInvalidInput
	}
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO app_users (username, email, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now(),now())
		RETURNING id, created_at
	`, user.Username, user.Email, user.Password, user.Role, user.Active).Scan(&user.ID, &user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: username already exists", store.ErrInvalidInput)
		}
		return nil, err
	}
	user.CreatedAt = user.CreatedAt.UTC()

	created := user
	return &created, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, email, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.ID, &user.Username, &user.Email, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrInvalidInput
	}
	return nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

const saleSelect = `
	SELECT s.id, s.product_id, s.user_id, s.quantity, s.unit_price_cents,
		s.total_cents, s.transaction_id, s.created_at,
		COALESCE(p.name,''), COALESCE(u.username,''), COALESCE(u.email,'')
	FROM sales s
	LEFT JOIN products p ON p.id = s.product_id
	LEFT JOIN app_users u ON u.id = s.user_id
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSale(row rowScanner) (*domain.Sale, error) {
	var sale domain.Sale
	var transactionID sql.NullString
	err := row.Scan(
		&sale.ID,
		&sale.ProductID,
		&sale.UserID,
		&sale.Quantity,
		&sale.UnitPriceCents,
		&sale.TotalCents,
		&transactionID,
		&sale.CreatedAt,
		&sale.ProductName,
		&sale.UserName,
		&sale.UserEmail,
	)
	if err != nil {
		return nil, err
	}
	if transactionID.Valid {
		sale.TransactionID = transactionID.String
	}
	sale.CreatedAt = sale.CreatedAt.UTC()
	return &sale, nil
}

func collectSales(rows *sql.Rows, sizeHint int) ([]domain.Sale, error) {
	sales := make([]domain.Sale, 0, sizeHint)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, *sale)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sales, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}
