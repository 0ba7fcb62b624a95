package store

import (
	"context"
	"database/sql"
)

// Driver is an interface for store driver.
// It contains all methods that store database driver should implement.
type Driver interface {
	GetDB() *sql.DB
	Close() error
	Migrate(ctx context.Context) error

	// Tenant & identity.
	CreateTenant(ctx context.Context, create *Tenant) (*Tenant, error)
	GetTenant(ctx context.Context, find *FindTenant) (*Tenant, error)
	ListTenants(ctx context.Context, find *FindTenant) ([]*Tenant, error)
	UpdateTenant(ctx context.Context, update *UpdateTenant) (*Tenant, error)

	UpsertTenantMember(ctx context.Context, upsert *TenantMember) (*TenantMember, error)
	GetTenantMember(ctx context.Context, find *FindTenantMember) (*TenantMember, error)

	CreateAPIKey(ctx context.Context, create *APIKey) (*APIKey, error)
	ListAPIKeys(ctx context.Context, find *FindAPIKey) ([]*APIKey, error)
	DeleteAPIKey(ctx context.Context, del *DeleteAPIKey) error
	TouchAPIKey(ctx context.Context, id string, usedTs int64) error

	// Agent configuration.
	UpsertAgentConfiguration(ctx context.Context, upsert *AgentConfiguration) (*AgentConfiguration, error)
	GetAgentConfiguration(ctx context.Context, tenantID string) (*AgentConfiguration, error)

	// Customers & consent.
	CreateCustomer(ctx context.Context, create *Customer) (*Customer, error)
	GetCustomer(ctx context.Context, find *FindCustomer) (*Customer, error)
	ListCustomers(ctx context.Context, find *FindCustomer) ([]*Customer, error)
	UpdateCustomer(ctx context.Context, update *UpdateCustomer) (*Customer, error)

	GetCustomerPreferences(ctx context.Context, tenantID, customerID string) (*CustomerPreferences, error)
	UpdateCustomerPreferences(ctx context.Context, update *UpdateCustomerPreferences) (*CustomerPreferences, error)
	ListConsentEvents(ctx context.Context, find *FindConsentEvent) ([]*ConsentEvent, error)
	CustomerSpendCents(ctx context.Context, tenantID, customerID string) (int64, error)

	// Conversations.
	CreateConversation(ctx context.Context, create *Conversation) (*Conversation, error)
	GetConversation(ctx context.Context, find *FindConversation) (*Conversation, error)
	ListConversations(ctx context.Context, find *FindConversation) ([]*Conversation, error)
	UpdateConversation(ctx context.Context, update *UpdateConversation) (*Conversation, error)
	TransitionConversationState(ctx context.Context, transition *ConversationTransition) (*Conversation, error)
	IncLowConfidence(ctx context.Context, tenantID, conversationID string) (int, error)
	ResetLowConfidence(ctx context.Context, tenantID, conversationID string) error

	// Messages.
	AppendMessage(ctx context.Context, create *Message) (*Message, error)
	ListMessages(ctx context.Context, find *FindMessage) ([]*Message, error)
	UpdateMessageDelivery(ctx context.Context, update *UpdateMessageDelivery) (*Message, error)

	// Message queue (burst harmonization).
	EnqueueMessage(ctx context.Context, create *MessageQueueEntry) (*MessageQueueEntry, error)
	ClaimQueuedEntries(ctx context.Context, tenantID, conversationID string, olderThanTs int64) ([]*MessageQueueEntry, error)
	MarkQueueEntries(ctx context.Context, ids []string, status QueueStatus, processedTs int64, errorMessage string) error

	// Conversation context.
	GetConversationContext(ctx context.Context, tenantID, conversationID string) (*ConversationContext, error)
	UpsertConversationContext(ctx context.Context, upsert *ConversationContext) (*ConversationContext, error)

	// Knowledge.
	CreateKnowledgeEntry(ctx context.Context, create *KnowledgeEntry) (*KnowledgeEntry, error)
	GetKnowledgeEntry(ctx context.Context, find *FindKnowledgeEntry) (*KnowledgeEntry, error)
	ListKnowledgeEntries(ctx context.Context, find *FindKnowledgeEntry) ([]*KnowledgeEntry, error)
	UpdateKnowledgeEntry(ctx context.Context, update *UpdateKnowledgeEntry) (*KnowledgeEntry, error)
	SearchKnowledge(ctx context.Context, search *SearchKnowledge) ([]*ScoredKnowledgeEntry, error)

	// Catalog & history (read models plus seed writes).
	CreateProduct(ctx context.Context, create *Product) (*Product, error)
	ListProducts(ctx context.Context, find *FindCatalogItem) ([]*Product, error)
	CreateService(ctx context.Context, create *Service) (*Service, error)
	ListServices(ctx context.Context, find *FindCatalogItem) ([]*Service, error)
	CreateOrder(ctx context.Context, create *Order) (*Order, error)
	ListOrders(ctx context.Context, find *FindHistory) ([]*Order, error)
	CreateAppointment(ctx context.Context, create *Appointment) (*Appointment, error)
	ListAppointments(ctx context.Context, find *FindHistory) ([]*Appointment, error)

	// Usage & interaction audit.
	CreateAgentInteraction(ctx context.Context, create *AgentInteraction) (*AgentInteraction, error)
	ListAgentInteractions(ctx context.Context, find *FindAgentInteraction) ([]*AgentInteraction, error)
	CreateProviderUsage(ctx context.Context, create *ProviderUsage) (*ProviderUsage, error)
	ListProviderUsage(ctx context.Context, find *FindProviderUsage) ([]*ProviderUsage, error)

	// Scheduled messages & campaigns.
	CreateScheduledMessage(ctx context.Context, create *ScheduledMessage) (*ScheduledMessage, error)
	GetScheduledMessage(ctx context.Context, find *FindScheduledMessage) (*ScheduledMessage, error)
	ListScheduledMessages(ctx context.Context, find *FindScheduledMessage) ([]*ScheduledMessage, error)
	MarkDispatch(ctx context.Context, mark *MarkDispatch) (bool, error)

	CreateCampaign(ctx context.Context, create *MessageCampaign) (*MessageCampaign, error)
	GetCampaign(ctx context.Context, find *FindCampaign) (*MessageCampaign, error)
	ListCampaigns(ctx context.Context, find *FindCampaign) ([]*MessageCampaign, error)
	TransitionCampaign(ctx context.Context, transition *CampaignTransition) (*MessageCampaign, error)
	IncCampaignCounter(ctx context.Context, tenantID, campaignID, field string, delta int) error

	CreateCampaignVariant(ctx context.Context, create *CampaignVariant) (*CampaignVariant, error)
	ListCampaignVariants(ctx context.Context, find *FindCampaignVariant) ([]*CampaignVariant, error)
	IncVariantCounter(ctx context.Context, tenantID, variantID, field string, delta int) error
}
