package store

// Customer is identified by normalized phone number within a tenant.
type Customer struct {
	ID          string
	TenantID    string
	Phone       string // normalized, see strutil.NormalizePhone
	DisplayName string
	Locale      string
	Tags        []string
	FirstSeenTs int64
	LastSeenTs  int64
}

type FindCustomer struct {
	TenantID string
	ID       *string
	Phone    *string
	Tag      *string
	Limit    int
	Offset   int
}

type UpdateCustomer struct {
	TenantID    string
	ID          string
	DisplayName *string
	Locale      *string
	Tags        []string
	LastSeenTs  *int64
}

// ConsentKind names one of the three independent consent flags.
type ConsentKind string

const (
	ConsentTransactional ConsentKind = "transactional"
	ConsentReminder      ConsentKind = "reminder"
	ConsentPromotional   ConsentKind = "promotional"
)

// ConsentSource records who flipped a consent flag.
type ConsentSource string

const (
	ConsentSourceCustomer ConsentSource = "customer"
	ConsentSourceTenant   ConsentSource = "tenant"
	ConsentSourceSystem   ConsentSource = "system"
)

// CustomerPreferences carries the three consent flags, 1:1 with Customer.
// Transactional consent defaults on and cannot be revoked; reminder defaults
// on and may be revoked; promotional defaults off and requires explicit
// opt-in.
type CustomerPreferences struct {
	CustomerID    string
	TenantID      string
	Transactional bool
	Reminder      bool
	Promotional   bool
	UpdatedTs     int64
}

// DefaultCustomerPreferences returns the consent state of a customer that
// has never expressed a preference.
func DefaultCustomerPreferences(tenantID, customerID string) *CustomerPreferences {
	return &CustomerPreferences{
		CustomerID:    customerID,
		TenantID:      tenantID,
		Transactional: true,
		Reminder:      true,
		Promotional:   false,
	}
}

// UpdateCustomerPreferences flips consent flags. The driver writes one
// ConsentEvent per changed flag in the same transaction as the preference
// row, so the audit trail and the flags can never diverge.
type UpdateCustomerPreferences struct {
	TenantID   string
	CustomerID string

	Reminder    *bool
	Promotional *bool

	Source    ConsentSource
	Reason    string
	ChangedBy string // user id when Source is tenant, else empty
}

// ConsentEvent is one append-only audit row for a consent flag change.
type ConsentEvent struct {
	ID         string
	TenantID   string
	CustomerID string
	Kind       ConsentKind
	Previous   bool
	New        bool
	Source     ConsentSource
	Reason     string
	ChangedBy  string
	CreatedTs  int64
}

type FindConsentEvent struct {
	TenantID   string
	CustomerID *string
	Kind       *ConsentKind
	Limit      int
}
