package domain

import "time"

type Product struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	PriceCents int64     `json:"price_cents"`
	Stock      int       `json:"stock"`
	IsService  bool      `json:"is_service"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type ProductCreateRequest struct {
	Name       string `json:"name"`
	PriceCents int64  `json:"price_cents"`
	Stock      int    `json:"stock"`
	IsService  bool   `json:"is_service"`
}

type ProductUpdateRequest struct {
	Name       *string `json:"name,omitempty"`
	PriceCents *int64  `json:"price_cents,omitempty"`
	IsService  *bool   `json:"is_service,omitempty"`
}

type RestockRequest struct {
	Quantity int `json:"quantity"`
}

// Sale is one line of the ledger. UnitPriceCents is frozen at creation time;
// TotalCents is always UnitPriceCents * Quantity, also across quantity updates.
type Sale struct {
	ID             int64     `json:"id"`
	ProductID      int64     `json:"product_id"`
	UserID         int64     `json:"user_id"`
	Quantity       int       `json:"quantity"`
	UnitPriceCents int64     `json:"unit_price_cents"`
	TotalCents     int64     `json:"total_cents"`
	TransactionID  string    `json:"transaction_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`

	// Denormalized display fields, populated on reads.
	ProductName string `json:"product_name,omitempty"`
	UserName    string `json:"user_name,omitempty"`
	UserEmail   string `json:"user_email,omitempty"`
}

type SaleCreateRequest struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

type SaleUpdateRequest struct {
	Quantity int `json:"quantity"`
}

type BasketLine struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

type BasketRequest struct {
	Items []BasketLine `json:"items"`
}

type BasketResponse struct {
	TransactionID string `json:"transaction_id"`
	TotalCents    int64  `json:"total_cents"`
	Lines         []Sale `json:"lines"`
}

// GroupedSaleSummary is one row per transaction identifier: aggregate counts
// plus the first line's date and seller for display.
type GroupedSaleSummary struct {
	TransactionID string    `json:"transaction_id"`
	LineCount     int       `json:"line_count"`
	TotalQuantity int       `json:"total_quantity"`
	TotalCents    int64     `json:"total_cents"`
	FirstSaleAt   time.Time `json:"first_sale_at"`
	UserID        int64     `json:"user_id"`
	UserName      string    `json:"user_name,omitempty"`
}

type GroupedSaleDetail struct {
	GroupedSaleSummary
	Lines []Sale `json:"lines"`
}

type Receipt struct {
	TicketNumber  string `json:"ticket_number"`
	TransactionID string `json:"transaction_id,omitempty"`
	TotalCents    int64  `json:"total_cents"`
	Text          string `json:"text"`
	FileName      string `json:"file_name"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	UserID      int64  `json:"user_id"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	UserID   int64
	Username string
	Role     string
}

type UserCreateRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type UserView struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is the internal persistence model for auth credentials.
type UserAccount struct {
	ID        int64
	Username  string
	Email     string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

const (
	RoleAdmin   = "admin"
	RoleCashier = "cashier"
)
