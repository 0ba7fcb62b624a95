package store

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/conversia-ai/conversia/internal/errdef"
	"github.com/conversia-ai/conversia/internal/profile"
	"github.com/conversia-ai/conversia/internal/strutil"
	"github.com/conversia-ai/conversia/store/cache"
)

// Store provides database access to all raw objects. It owns the read-mostly
// caches and enforces the cross-entity invariants the drivers cannot see.
type Store struct {
	profile *profile.Profile
	driver  Driver

	backend cache.Backend

	// Versioned caches, bumped by the writes that invalidate them.
	agentCfgCache *cache.Versioned
	scopeCache    *cache.Versioned
	catalogCache  *cache.Versioned
	searchCache   *cache.Versioned
}

// New creates a new instance of Store. When the profile carries a cache URL
// the shared redis backend is used; otherwise caching is process-local.
func New(driver Driver, profile *profile.Profile) *Store {
	var backend cache.Backend
	if profile != nil && profile.CacheURL != "" {
		r, err := cache.NewRedis(profile.CacheURL, "conversia")
		if err != nil {
			slog.Warn("store: redis cache unavailable, using in-memory cache", "error", err)
		} else {
			backend = r
		}
	}
	if backend == nil {
		backend = cache.New(cache.Config{
			DefaultTTL:      10 * time.Minute,
			CleanupInterval: 5 * time.Minute,
			MaxItems:        4096,
		})
	}

	return &Store{
		driver:        driver,
		profile:       profile,
		backend:       backend,
		agentCfgCache: cache.NewVersioned(backend, "agentcfg", 10*time.Minute),
		scopeCache:    cache.NewVersioned(backend, "scopes", 5*time.Minute),
		catalogCache:  cache.NewVersioned(backend, "catalog", 30*time.Second),
		searchCache:   cache.NewVersioned(backend, "search", time.Minute),
	}
}

func (s *Store) GetDriver() Driver { return s.driver }

// ScopeCache exposes the RBAC scope cache to the auth layer.
func (s *Store) ScopeCache() *cache.Versioned { return s.scopeCache }

func (s *Store) Close() error {
	s.backend.Close()
	return s.driver.Close()
}

func (s *Store) Migrate(ctx context.Context) error {
	return s.driver.Migrate(ctx)
}

func requireTenant(tenantID string) error {
	if tenantID == "" {
		return errors.Wrap(errdef.ErrInputInvalid, "tenant id is required")
	}
	return nil
}

// ---- Tenant & identity ----

func (s *Store) CreateTenant(ctx context.Context, create *Tenant) (*Tenant, error) {
	if create.ID == "" {
		create.ID = NewID()
	}
	if create.Status == "" {
		create.Status = TenantStatusActive
	}
	if create.Timezone == "" {
		create.Timezone = "UTC"
	}
	now := NowTs()
	create.CreatedTs, create.UpdatedTs = now, now
	return s.driver.CreateTenant(ctx, create)
}

func (s *Store) GetTenant(ctx context.Context, find *FindTenant) (*Tenant, error) {
	return s.driver.GetTenant(ctx, find)
}

func (s *Store) ListTenants(ctx context.Context, find *FindTenant) ([]*Tenant, error) {
	return s.driver.ListTenants(ctx, find)
}

func (s *Store) UpdateTenant(ctx context.Context, update *UpdateTenant) (*Tenant, error) {
	if err := requireTenant(update.ID); err != nil {
		return nil, err
	}
	t, err := s.driver.UpdateTenant(ctx, update)
	if err != nil {
		return nil, err
	}
	s.scopeCache.Bump(ctx, update.ID)
	return t, nil
}

// GetTenantByChannelNumber resolves the tenant that owns a channel identity,
// the webhook-side half of tenant resolution.
func (s *Store) GetTenantByChannelNumber(ctx context.Context, number string) (*Tenant, error) {
	t, err := s.driver.GetTenant(ctx, &FindTenant{ChannelNumber: &number})
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, errors.Wrapf(errdef.ErrUnknownTenant, "no tenant owns channel %s", number)
	}
	return t, nil
}

func (s *Store) UpsertTenantMember(ctx context.Context, upsert *TenantMember) (*TenantMember, error) {
	if err := requireTenant(upsert.TenantID); err != nil {
		return nil, err
	}
	m, err := s.driver.UpsertTenantMember(ctx, upsert)
	if err != nil {
		return nil, err
	}
	s.scopeCache.Bump(ctx, upsert.TenantID)
	return m, nil
}

func (s *Store) GetTenantMember(ctx context.Context, find *FindTenantMember) (*TenantMember, error) {
	if err := requireTenant(find.TenantID); err != nil {
		return nil, err
	}
	return s.driver.GetTenantMember(ctx, find)
}

func (s *Store) CreateAPIKey(ctx context.Context, create *APIKey) (*APIKey, error) {
	if err := requireTenant(create.TenantID); err != nil {
		return nil, err
	}
	if create.ID == "" {
		create.ID = NewID()
	}
	create.CreatedTs = NowTs()
	return s.driver.CreateAPIKey(ctx, create)
}

func (s *Store) ListAPIKeys(ctx context.Context, find *FindAPIKey) ([]*APIKey, error) {
	return s.driver.ListAPIKeys(ctx, find)
}

func (s *Store) DeleteAPIKey(ctx context.Context, del *DeleteAPIKey) error {
	if err := requireTenant(del.TenantID); err != nil {
		return err
	}
	return s.driver.DeleteAPIKey(ctx, del)
}

func (s *Store) TouchAPIKey(ctx context.Context, id string, usedTs int64) error {
	return s.driver.TouchAPIKey(ctx, id, usedTs)
}

// ---- Agent configuration ----

// GetAgentConfiguration returns the tenant's configuration, falling back to
// defaults when none has been saved yet. Reads go through the versioned
// config cache.
func (s *Store) GetAgentConfiguration(ctx context.Context, tenantID string) (*AgentConfiguration, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	key := s.agentCfgCache.Key(ctx, tenantID)
	cached := &AgentConfiguration{}
	if s.agentCfgCache.GetJSON(ctx, key, cached) {
		return cached, nil
	}
	cfg, err := s.driver.GetAgentConfiguration(ctx, tenantID)
	if err != nil {
		if errors.Is(err, errdef.ErrNotFound) {
			return DefaultAgentConfiguration(tenantID), nil
		}
		return nil, err
	}
	s.agentCfgCache.SetJSON(ctx, key, cfg)
	return cfg, nil
}

// UpsertAgentConfiguration validates, bumps the version, persists and
// invalidates cached reads.
func (s *Store) UpsertAgentConfiguration(ctx context.Context, upsert *AgentConfiguration) (*AgentConfiguration, error) {
	if err := upsert.Validate(); err != nil {
		return nil, errors.Wrap(errdef.ErrInputInvalid, err.Error())
	}
	now := NowTs()
	upsert.UpdatedTs = now
	if upsert.CreatedTs == 0 {
		upsert.CreatedTs = now
	}
	cfg, err := s.driver.UpsertAgentConfiguration(ctx, upsert)
	if err != nil {
		return nil, err
	}
	s.agentCfgCache.Bump(ctx, upsert.TenantID)
	return cfg, nil
}

// ---- Customers & consent ----

func (s *Store) CreateCustomer(ctx context.Context, create *Customer) (*Customer, error) {
	if err := requireTenant(create.TenantID); err != nil {
		return nil, err
	}
	if create.ID == "" {
		create.ID = NewID()
	}
	create.Phone = strutil.NormalizePhone(create.Phone)
	if create.Phone == "" {
		return nil, errors.Wrap(errdef.ErrInputInvalid, "customer phone is required")
	}
	now := NowTs()
	if create.FirstSeenTs == 0 {
		create.FirstSeenTs = now
	}
	if create.LastSeenTs == 0 {
		create.LastSeenTs = now
	}
	return s.driver.CreateCustomer(ctx, create)
}

func (s *Store) GetCustomer(ctx context.Context, find *FindCustomer) (*Customer, error) {
	if err := requireTenant(find.TenantID); err != nil {
		return nil, err
	}
	return s.driver.GetCustomer(ctx, find)
}

func (s *Store) ListCustomers(ctx context.Context, find *FindCustomer) ([]*Customer, error) {
	if err := requireTenant(find.TenantID); err != nil {
		return nil, err
	}
	return s.driver.ListCustomers(ctx, find)
}

func (s *Store) UpdateCustomer(ctx context.Context, update *UpdateCustomer) (*Customer, error) {
	if err := requireTenant(update.TenantID); err != nil {
		return nil, err
	}
	return s.driver.UpdateCustomer(ctx, update)
}

// GetOrCreateCustomerByPhone resolves a customer by normalized phone,
// creating the row on first contact and stamping last-seen on every call.
func (s *Store) GetOrCreateCustomerByPhone(ctx context.Context, tenantID, phone, displayName string) (*Customer, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	normalized := strutil.NormalizePhone(phone)
	if normalized == "" {
		return nil, errors.Wrap(errdef.ErrInputInvalid, "phone is required")
	}
	existing, err := s.driver.GetCustomer(ctx, &FindCustomer{TenantID: tenantID, Phone: &normalized})
	if err != nil && !errors.Is(err, errdef.ErrNotFound) {
		return nil, err
	}
	now := NowTs()
	if existing != nil {
		return s.driver.UpdateCustomer(ctx, &UpdateCustomer{
			TenantID:   tenantID,
			ID:         existing.ID,
			LastSeenTs: &now,
		})
	}
	return s.CreateCustomer(ctx, &Customer{
		TenantID:    tenantID,
		Phone:       normalized,
		DisplayName: displayName,
	})
}

// GetCustomerPreferences returns stored preferences or the defaults for a
// customer that has never expressed one.
func (s *Store) GetCustomerPreferences(ctx context.Context, tenantID, customerID string) (*CustomerPreferences, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	prefs, err := s.driver.GetCustomerPreferences(ctx, tenantID, customerID)
	if err != nil {
		if errors.Is(err, errdef.ErrNotFound) {
			return DefaultCustomerPreferences(tenantID, customerID), nil
		}
		return nil, err
	}
	return prefs, nil
}

// UpdateCustomerPreferences flips consent flags. The driver writes one
// ConsentEvent per changed flag in the same transaction. Transactional
// consent cannot be revoked, so it is not updatable at all.
func (s *Store) UpdateCustomerPreferences(ctx context.Context, update *UpdateCustomerPreferences) (*CustomerPreferences, error) {
	if err := requireTenant(update.TenantID); err != nil {
		return nil, err
	}
	switch update.Source {
	case ConsentSourceCustomer, ConsentSourceTenant, ConsentSourceSystem:
	default:
		return nil, errors.Wrapf(errdef.ErrInputInvalid, "unrecognized consent source %q", update.Source)
	}
	return s.driver.UpdateCustomerPreferences(ctx, update)
}

func (s *Store) ListConsentEvents(ctx context.Context, find *FindConsentEvent) ([]*ConsentEvent, error) {
	if err := requireTenant(find.TenantID); err != nil {
		return nil, err
	}
	return s.driver.ListConsentEvents(ctx, find)
}

func (s *Store) CustomerSpendCents(ctx context.Context, tenantID, customerID string) (int64, error) {
	if err := requireTenant(tenantID); err != nil {
		return 0, err
	}
	return s.driver.CustomerSpendCents(ctx, tenantID, customerID)
}

// ---- Conversations ----

func (s *Store) CreateConversation(ctx context.Context, create *Conversation) (*Conversation, error) {
	if err := requireTenant(create.TenantID); err != nil {
		return nil, err
	}
	if create.ID == "" {
		create.ID = NewID()
	}
	if create.State == "" {
		create.State = ConversationOpen
	}
	if err := ValidateJSONValue(create.Metadata); err != nil {
		return nil, errors.Wrap(errdef.ErrInputInvalid, err.Error())
	}
	now := NowTs()
	create.CreatedTs, create.UpdatedTs = now, now
	return s.driver.CreateConversation(ctx, create)
}

func (s *Store) GetConversation(ctx context.Context, find *FindConversation) (*Conversation, error) {
	if err := requireTenant(find.TenantID); err != nil {
		return nil, err
	}
	return s.driver.GetConversation(ctx, find)
}

func (s *Store) ListConversations(ctx context.Context, find *FindConversation) ([]*Conversation, error) {
	if err := requireTenant(find.TenantID); err != nil {
		return nil, err
	}
	return s.driver.ListConversations(ctx, find)
}

func (s *Store) UpdateConversation(ctx context.Context, update *UpdateConversation) (*Conversation, error) {
	if err := requireTenant(update.TenantID); err != nil {
		return nil, err
	}
	if err := ValidateJSONValue(update.Metadata); err != nil {
		return nil, errors.Wrap(errdef.ErrInputInvalid, err.Error())
	}
	return s.driver.UpdateConversation(ctx, update)
}

// GetOrCreateConversation returns the customer's open conversation on the
// channel, creating one when the latest is missing or closed.
func (s *Store) GetOrCreateConversation(ctx context.Context, tenantID, customerID, channel string) (*Conversation, error) {
	convs, err := s.ListConversations(ctx, &FindConversation{
		TenantID:   tenantID,
		CustomerID: &customerID,
		Limit:      1,
	})
	if err != nil {
		return nil, err
	}
	if len(convs) > 0 {
		c := convs[0]
		if c.State != ConversationClosed {
			return c, nil
		}
	}
	return s.CreateConversation(ctx, &Conversation{
		TenantID:   tenantID,
		CustomerID: customerID,
		Channel:    channel,
	})
}

func (s *Store) TransitionConversationState(ctx context.Context, transition *ConversationTransition) (*Conversation, error) {
	if err := requireTenant(transition.TenantID); err != nil {
		return nil, err
	}
	if transition.NowTs == 0 {
		transition.NowTs = NowTs()
	}
	return s.driver.TransitionConversationState(ctx, transition)
}

func (s *Store) IncLowConfidence(ctx context.Context, tenantID, conversationID string) (int, error) {
	return s.driver.IncLowConfidence(ctx, tenantID, conversationID)
}

func (s *Store) ResetLowConfidence(ctx context.Context, tenantID, conversationID string) error {
	return s.driver.ResetLowConfidence(ctx, tenantID, conversationID)
}

// ---- Messages ----

// AppendMessage validates and appends one message. The driver assigns the
// per-conversation sequence number and stamps the conversation's
// last-message timestamp in the same transaction.
func (s *Store) AppendMessage(ctx context.Context, create *Message) (*Message, error) {
	if err := requireTenant(create.TenantID); err != nil {
		return nil, err
	}
	if create.ConversationID == "" {
		return nil, errors.Wrap(errdef.ErrInputInvalid, "conversation id is required")
	}
	if err := create.ValidateText(); err != nil {
		return nil, errors.Wrap(errdef.ErrInputInvalid, err.Error())
	}
	if create.ID == "" {
		create.ID = NewID()
	}
	if create.CreatedTs == 0 {
		create.CreatedTs = NowTs()
	}
	return s.driver.AppendMessage(ctx, create)
}

func (s *Store) ListMessages(ctx context.Context, find *FindMessage) ([]*Message, error) {
	if err := requireTenant(find.TenantID); err != nil {
		return nil, err
	}
	return s.driver.ListMessages(ctx, find)
}

func (s *Store) UpdateMessageDelivery(ctx context.Context, update *UpdateMessageDelivery) (*Message, error) {
	if err := requireTenant(update.TenantID); err != nil {
		return nil, err
	}
	return s.driver.UpdateMessageDelivery(ctx, update)
}

// ---- Message queue ----

func (s *Store) EnqueueMessage(ctx context.Context, create *MessageQueueEntry) (*MessageQueueEntry, error) {
	if err := requireTenant(create.TenantID); err != nil {
		return nil, err
	}
	if create.ID == "" {
		create.ID = NewID()
	}
	if create.Status == "" {
		create.Status = QueueStatusQueued
	}
	if create.QueuedTs == 0 {
		create.QueuedTs = NowTs()
	}
	return s.driver.EnqueueMessage(ctx, create)
}

func (s *Store) ClaimQueuedEntries(ctx context.Context, tenantID, conversationID string, olderThanTs int64) ([]*MessageQueueEntry, error) {
	return s.driver.ClaimQueuedEntries(ctx, tenantID, conversationID, olderThanTs)
}

func (s *Store) MarkQueueEntries(ctx context.Context, ids []string, status QueueStatus, processedTs int64, errorMessage string) error {
	return s.driver.MarkQueueEntries(ctx, ids, status, processedTs, errorMessage)
}

// ---- Conversation context ----

func (s *Store) GetConversationContext(ctx context.Context, tenantID, conversationID string) (*ConversationContext, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	return s.driver.GetConversationContext(ctx, tenantID, conversationID)
}

func (s *Store) UpsertConversationContext(ctx context.Context, upsert *ConversationContext) (*ConversationContext, error) {
	if err := requireTenant(upsert.TenantID); err != nil {
		return nil, err
	}
	upsert.UpdatedTs = NowTs()
	return s.driver.UpsertConversationContext(ctx, upsert)
}

// ---- Knowledge ----

func (s *Store) CreateKnowledgeEntry(ctx context.Context, create *KnowledgeEntry) (*KnowledgeEntry, error) {
	if err := requireTenant(create.TenantID); err != nil {
		return nil, err
	}
	if create.Priority < 0 || create.Priority > 100 {
		return nil, errors.Wrap(errdef.ErrInputInvalid, "priority out of range [0,100]")
	}
	if err := ValidateJSONValue(create.Metadata); err != nil {
		return nil, errors.Wrap(errdef.ErrInputInvalid, err.Error())
	}
	if create.ID == "" {
		create.ID = NewID()
	}
	create.Active = true
	create.Version = 1
	now := NowTs()
	create.CreatedTs, create.UpdatedTs = now, now
	entry, err := s.driver.CreateKnowledgeEntry(ctx, create)
	if err != nil {
		return nil, err
	}
	s.searchCache.Bump(ctx, create.TenantID)
	return entry, nil
}

func (s *Store) GetKnowledgeEntry(ctx context.Context, find *FindKnowledgeEntry) (*KnowledgeEntry, error) {
	if err := requireTenant(find.TenantID); err != nil {
		return nil, err
	}
	return s.driver.GetKnowledgeEntry(ctx, find)
}

func (s *Store) ListKnowledgeEntries(ctx context.Context, find *FindKnowledgeEntry) ([]*KnowledgeEntry, error) {
	if err := requireTenant(find.TenantID); err != nil {
		return nil, err
	}
	return s.driver.ListKnowledgeEntries(ctx, find)
}

func (s *Store) UpdateKnowledgeEntry(ctx context.Context, update *UpdateKnowledgeEntry) (*KnowledgeEntry, error) {
	if err := requireTenant(update.TenantID); err != nil {
		return nil, err
	}
	if update.Priority != nil && (*update.Priority < 0 || *update.Priority > 100) {
		return nil, errors.Wrap(errdef.ErrInputInvalid, "priority out of range [0,100]")
	}
	if err := ValidateJSONValue(update.Metadata); err != nil {
		return nil, errors.Wrap(errdef.ErrInputInvalid, err.Error())
	}
	entry, err := s.driver.UpdateKnowledgeEntry(ctx, update)
	if err != nil {
		return nil, err
	}
	s.searchCache.Bump(ctx, update.TenantID)
	return entry, nil
}

// DeleteKnowledgeEntry is a soft delete: the entry stays for audit but
// leaves the search surface.
func (s *Store) DeleteKnowledgeEntry(ctx context.Context, tenantID, id string) error {
	inactive := false
	_, err := s.UpdateKnowledgeEntry(ctx, &UpdateKnowledgeEntry{
		TenantID: tenantID,
		ID:       id,
		Active:   &inactive,
	})
	return err
}

func (s *Store) SearchKnowledge(ctx context.Context, search *SearchKnowledge) ([]*ScoredKnowledgeEntry, error) {
	if err := requireTenant(search.TenantID); err != nil {
		return nil, err
	}
	return s.driver.SearchKnowledge(ctx, search)
}

// ---- Catalog & history ----

func (s *Store) CreateProduct(ctx context.Context, create *Product) (*Product, error) {
	if err := requireTenant(create.TenantID); err != nil {
		return nil, err
	}
	if create.ID == "" {
		create.ID = NewID()
	}
	if err := ValidateJSONValue(create.Metadata); err != nil {
		return nil, errors.Wrap(errdef.ErrInputInvalid, err.Error())
	}
	now := NowTs()
	create.CreatedTs, create.UpdatedTs = now, now
	p, err := s.driver.CreateProduct(ctx, create)
	if err != nil {
		return nil, err
	}
	s.catalogCache.Bump(ctx, create.TenantID)
	return p, nil
}

func (s *Store) ListProducts(ctx context.Context, find *FindCatalogItem) ([]*Product, error) {
	if err := requireTenant(find.TenantID); err != nil {
		return nil, err
	}
	key := s.catalogCache.Key(ctx, find.TenantID, "products", catalogCacheKey(find))
	var cached []*Product
	if s.catalogCache.GetJSON(ctx, key, &cached) {
		return cached, nil
	}
	list, err := s.driver.ListProducts(ctx, find)
	if err != nil {
		return nil, err
	}
	s.catalogCache.SetJSON(ctx, key, list)
	return list, nil
}

func (s *Store) CreateService(ctx context.Context, create *Service) (*Service, error) {
	if err := requireTenant(create.TenantID); err != nil {
		return nil, err
	}
	if create.ID == "" {
		create.ID = NewID()
	}
	if err := ValidateJSONValue(create.Metadata); err != nil {
		return nil, errors.Wrap(errdef.ErrInputInvalid, err.Error())
	}
	now := NowTs()
	create.CreatedTs, create.UpdatedTs = now, now
	sv, err := s.driver.CreateService(ctx, create)
	if err != nil {
		return nil, err
	}
	s.catalogCache.Bump(ctx, create.TenantID)
	return sv, nil
}

func (s *Store) ListServices(ctx context.Context, find *FindCatalogItem) ([]*Service, error) {
	if err := requireTenant(find.TenantID); err != nil {
		return nil, err
	}
	key := s.catalogCache.Key(ctx, find.TenantID, "services", catalogCacheKey(find))
	var cached []*Service
	if s.catalogCache.GetJSON(ctx, key, &cached) {
		return cached, nil
	}
	list, err := s.driver.ListServices(ctx, find)
	if err != nil {
		return nil, err
	}
	s.catalogCache.SetJSON(ctx, key, list)
	return list, nil
}

func catalogCacheKey(find *FindCatalogItem) string {
	key := ""
	if find.Query != nil {
		key += "q=" + *find.Query
	}
	if find.Category != nil {
		key += "|c=" + *find.Category
	}
	if find.Active != nil {
		if *find.Active {
			key += "|a=1"
		} else {
			key += "|a=0"
		}
	}
	if find.AfterID != nil {
		key += "|after=" + *find.AfterID
	}
	if find.Limit > 0 {
		key += "|l=" + strconv.Itoa(find.Limit)
	}
	return key
}

func (s *Store) CreateOrder(ctx context.Context, create *Order) (*Order, error) {
	if err := requireTenant(create.TenantID); err != nil {
		return nil, err
	}
	if create.ID == "" {
		create.ID = NewID()
	}
	if create.CreatedTs == 0 {
		create.CreatedTs = NowTs()
	}
	return s.driver.CreateOrder(ctx, create)
}

func (s *Store) ListOrders(ctx context.Context, find *FindHistory) ([]*Order, error) {
	if err := requireTenant(find.TenantID); err != nil {
		return nil, err
	}
	return s.driver.ListOrders(ctx, find)
}

func (s *Store) CreateAppointment(ctx context.Context, create *Appointment) (*Appointment, error) {
	if err := requireTenant(create.TenantID); err != nil {
		return nil, err
	}
	if create.ID == "" {
		create.ID = NewID()
	}
	if create.CreatedTs == 0 {
		create.CreatedTs = NowTs()
	}
	return s.driver.CreateAppointment(ctx, create)
}

func (s *Store) ListAppointments(ctx context.Context, find *FindHistory) ([]*Appointment, error) {
	if err := requireTenant(find.TenantID); err != nil {
		return nil, err
	}
	return s.driver.ListAppointments(ctx, find)
}

// ---- Usage & interaction audit ----

func (s *Store) CreateAgentInteraction(ctx context.Context, create *AgentInteraction) (*AgentInteraction, error) {
	if err := requireTenant(create.TenantID); err != nil {
		return nil, err
	}
	if create.ID == "" {
		create.ID = NewID()
	}
	if create.CreatedTs == 0 {
		create.CreatedTs = NowTs()
	}
	return s.driver.CreateAgentInteraction(ctx, create)
}

func (s *Store) ListAgentInteractions(ctx context.Context, find *FindAgentInteraction) ([]*AgentInteraction, error) {
	if err := requireTenant(find.TenantID); err != nil {
		return nil, err
	}
	return s.driver.ListAgentInteractions(ctx, find)
}

func (s *Store) CreateProviderUsage(ctx context.Context, create *ProviderUsage) (*ProviderUsage, error) {
	if err := requireTenant(create.TenantID); err != nil {
		return nil, err
	}
	if create.ID == "" {
		create.ID = NewID()
	}
	if create.CreatedTs == 0 {
		create.CreatedTs = NowTs()
	}
	return s.driver.CreateProviderUsage(ctx, create)
}

func (s *Store) ListProviderUsage(ctx context.Context, find *FindProviderUsage) ([]*ProviderUsage, error) {
	if err := requireTenant(find.TenantID); err != nil {
		return nil, err
	}
	return s.driver.ListProviderUsage(ctx, find)
}

// ---- Scheduled messages & campaigns ----

func (s *Store) CreateScheduledMessage(ctx context.Context, create *ScheduledMessage) (*ScheduledMessage, error) {
	if err := requireTenant(create.TenantID); err != nil {
		return nil, err
	}
	now := NowTs()
	if err := create.ValidateForCreate(now); err != nil {
		return nil, errors.Wrap(errdef.ErrInputInvalid, err.Error())
	}
	if create.ID == "" {
		create.ID = NewID()
	}
	if create.Status == "" {
		create.Status = SchedulePending
	}
	create.CreatedTs, create.UpdatedTs = now, now
	return s.driver.CreateScheduledMessage(ctx, create)
}

func (s *Store) GetScheduledMessage(ctx context.Context, find *FindScheduledMessage) (*ScheduledMessage, error) {
	return s.driver.GetScheduledMessage(ctx, find)
}

func (s *Store) ListScheduledMessages(ctx context.Context, find *FindScheduledMessage) ([]*ScheduledMessage, error) {
	return s.driver.ListScheduledMessages(ctx, find)
}

func (s *Store) MarkDispatch(ctx context.Context, mark *MarkDispatch) (bool, error) {
	if mark.NowTs == 0 {
		mark.NowTs = NowTs()
	}
	return s.driver.MarkDispatch(ctx, mark)
}

func (s *Store) CreateCampaign(ctx context.Context, create *MessageCampaign) (*MessageCampaign, error) {
	if err := requireTenant(create.TenantID); err != nil {
		return nil, err
	}
	if create.ID == "" {
		create.ID = NewID()
	}
	if create.Status == "" {
		create.Status = CampaignDraft
	}
	now := NowTs()
	create.CreatedTs, create.UpdatedTs = now, now
	return s.driver.CreateCampaign(ctx, create)
}

func (s *Store) GetCampaign(ctx context.Context, find *FindCampaign) (*MessageCampaign, error) {
	if err := requireTenant(find.TenantID); err != nil {
		return nil, err
	}
	return s.driver.GetCampaign(ctx, find)
}

func (s *Store) ListCampaigns(ctx context.Context, find *FindCampaign) ([]*MessageCampaign, error) {
	if err := requireTenant(find.TenantID); err != nil {
		return nil, err
	}
	return s.driver.ListCampaigns(ctx, find)
}

func (s *Store) TransitionCampaign(ctx context.Context, transition *CampaignTransition) (*MessageCampaign, error) {
	if err := requireTenant(transition.TenantID); err != nil {
		return nil, err
	}
	if err := transition.Validate(); err != nil {
		return nil, errors.Wrap(errdef.ErrInputInvalid, err.Error())
	}
	if transition.NowTs == 0 {
		transition.NowTs = NowTs()
	}
	return s.driver.TransitionCampaign(ctx, transition)
}

func (s *Store) IncCampaignCounter(ctx context.Context, tenantID, campaignID, field string, delta int) error {
	if !ValidCampaignCounter(field) {
		return errors.Wrapf(errdef.ErrInputInvalid, "unknown campaign counter %q", field)
	}
	return s.driver.IncCampaignCounter(ctx, tenantID, campaignID, field, delta)
}

func (s *Store) CreateCampaignVariant(ctx context.Context, create *CampaignVariant) (*CampaignVariant, error) {
	if err := requireTenant(create.TenantID); err != nil {
		return nil, err
	}
	if create.ID == "" {
		create.ID = NewID()
	}
	if create.CreatedTs == 0 {
		create.CreatedTs = NowTs()
	}
	return s.driver.CreateCampaignVariant(ctx, create)
}

func (s *Store) ListCampaignVariants(ctx context.Context, find *FindCampaignVariant) ([]*CampaignVariant, error) {
	if err := requireTenant(find.TenantID); err != nil {
		return nil, err
	}
	return s.driver.ListCampaignVariants(ctx, find)
}

func (s *Store) IncVariantCounter(ctx context.Context, tenantID, variantID, field string, delta int) error {
	return s.driver.IncVariantCounter(ctx, tenantID, variantID, field, delta)
}
