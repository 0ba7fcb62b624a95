package store

// Product is a catalog item. Prices are integer minor units (cents) plus an
// ISO currency code; display formatting happens at the edges.
type Product struct {
	ID       string
	TenantID string

	Name        string
	Description string
	Category    string
	PriceCents  int64
	Currency    string
	Stock       int // negative means untracked
	Active      bool
	Metadata    map[string]any

	CreatedTs int64
	UpdatedTs int64
}

// InStock reports whether the product can currently be sold.
func (p *Product) InStock() bool {
	return p.Stock != 0
}

// Service is a bookable catalog item.
type Service struct {
	ID       string
	TenantID string

	Name            string
	Description     string
	Category        string
	PriceCents      int64
	Currency        string
	DurationMinutes int
	Active          bool
	// NextAvailableTs is maintained by the booking collaborator; zero means
	// no known availability.
	NextAvailableTs int64
	Metadata        map[string]any

	CreatedTs int64
	UpdatedTs int64
}

// FindCatalogItem filters products or services. AfterID implements cursor
// pagination: results strictly after that row in (created_ts, id) order.
type FindCatalogItem struct {
	TenantID string
	ID       *string
	Query    *string // case-insensitive match on name/description
	Category *string
	Active   *bool
	AfterID  *string
	Limit    int
}

// OrderStatus is the read-model status of an order row.
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderPaid      OrderStatus = "paid"
	OrderShipped   OrderStatus = "shipped"
	OrderDelivered OrderStatus = "delivered"
	OrderCanceled  OrderStatus = "canceled"
)

// Order is a read-side view row of a customer's purchase history.
type Order struct {
	ID         string
	TenantID   string
	CustomerID string

	Status     OrderStatus
	TotalCents int64
	Currency   string
	Items      []OrderItem

	CreatedTs int64
}

// OrderItem is one line in an order, stored as JSON on the order row.
type OrderItem struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitCents int64  `json:"unit_cents"`
}

// AppointmentStatus is the read-model status of a booking.
type AppointmentStatus string

const (
	AppointmentScheduled AppointmentStatus = "scheduled"
	AppointmentCompleted AppointmentStatus = "completed"
	AppointmentCanceled  AppointmentStatus = "canceled"
	AppointmentNoShow    AppointmentStatus = "no_show"
)

// Appointment is a read-side view row of a customer's booking history.
type Appointment struct {
	ID         string
	TenantID   string
	CustomerID string
	ServiceID  string

	Status      AppointmentStatus
	ScheduledTs int64
	CreatedTs   int64
}

// FindHistory selects recent orders or appointments for one customer.
type FindHistory struct {
	TenantID   string
	CustomerID string
	Limit      int
}
