package store

// TenantStatus gates whether a tenant's traffic is processed at all.
type TenantStatus string

const (
	TenantStatusActive    TenantStatus = "active"
	TenantStatusSuspended TenantStatus = "suspended"
)

// Tenant is the root of isolation. Every other entity carries its id and
// every read is filtered by it.
type Tenant struct {
	ID   string
	Name string

	// ChannelNumber is the messaging-channel identity (e.g. a WhatsApp
	// number) that inbound webhook events are matched against.
	ChannelNumber string
	// ChannelCredential is the gateway credential blob, encrypted at rest
	// with the process credential key. The store never interprets it.
	ChannelCredential []byte

	AllowedLanguages []string
	QuietHoursStart  string // "HH:MM" in the tenant timezone, empty = no quiet hours
	QuietHoursEnd    string
	Timezone         string // IANA name, e.g. "America/Sao_Paulo"

	// Subscription limits.
	MonthlyMessageLimit int
	MaxCatalogEntries   int
	CampaignQuota       int

	Status    TenantStatus
	CreatedTs int64
	UpdatedTs int64
}

type FindTenant struct {
	ID            *string
	ChannelNumber *string
	Status        *TenantStatus
}

type UpdateTenant struct {
	ID                string
	Name              *string
	ChannelNumber     *string
	ChannelCredential []byte
	AllowedLanguages  []string
	QuietHoursStart   *string
	QuietHoursEnd     *string
	Timezone          *string
	Status            *TenantStatus
}

// TenantMemberRole orders broadly: owner > operator > viewer. Scope
// resolution from role happens in the auth layer.
type TenantMemberRole string

const (
	TenantMemberRoleOwner    TenantMemberRole = "owner"
	TenantMemberRoleOperator TenantMemberRole = "operator"
	TenantMemberRoleViewer   TenantMemberRole = "viewer"
)

type TenantMember struct {
	TenantID  string
	UserID    string
	Role      TenantMemberRole
	CreatedTs int64
}

type FindTenantMember struct {
	TenantID string
	UserID   *string
}

// APIKey is the stored record of a tenant API key. Only the SHA-256 hash and
// an 8-char display prefix survive creation; the plaintext is shown once.
type APIKey struct {
	ID         string
	TenantID   string
	Label      string
	Prefix     string
	HashHex    string
	CreatorID  string
	CreatedTs  int64
	LastUsedTs *int64
}

type FindAPIKey struct {
	TenantID *string
	ID       *string
	HashHex  *string
}

type DeleteAPIKey struct {
	TenantID string
	ID       string
}
