package store

import "github.com/pkg/errors"

// CampaignStatus transitions draft -> scheduled -> sending -> completed.
// Canceled is valid only from draft or scheduled.
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignScheduled CampaignStatus = "scheduled"
	CampaignSending   CampaignStatus = "sending"
	CampaignCompleted CampaignStatus = "completed"
	CampaignCanceled  CampaignStatus = "canceled"
)

var campaignTransitions = map[CampaignStatus][]CampaignStatus{
	CampaignDraft:     {CampaignScheduled, CampaignCanceled},
	CampaignScheduled: {CampaignSending, CampaignCanceled},
	CampaignSending:   {CampaignCompleted},
}

// CanTransitionCampaign reports whether a campaign status change is legal.
func CanTransitionCampaign(from, to CampaignStatus) bool {
	for _, allowed := range campaignTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// MessageCampaign orchestrates one broadcast. At start it expands
// TargetCriteria into per-recipient ScheduledMessages; counters are bumped
// atomically as those rows dispatch.
type MessageCampaign struct {
	ID       string
	TenantID string

	Name           string
	TargetCriteria string // CEL expression over customer fields
	DefaultContent string

	Status      CampaignStatus
	ScheduledTs int64

	TotalRecipients int
	SentCount       int
	DeliveredCount  int
	FailedCount     int
	ReadCount       int
	ResponseCount   int
	ConversionCount int

	StartedTs   *int64
	CompletedTs *int64
	CreatorID   string

	CreatedTs int64
	UpdatedTs int64
}

// Campaign counter columns addressable by IncCampaignCounter. The driver
// whitelists these names; anything else is rejected.
const (
	CampaignCounterTotal      = "total_recipients"
	CampaignCounterSent       = "sent_count"
	CampaignCounterDelivered  = "delivered_count"
	CampaignCounterFailed     = "failed_count"
	CampaignCounterRead       = "read_count"
	CampaignCounterResponse   = "response_count"
	CampaignCounterConversion = "conversion_count"
)

// ValidCampaignCounter reports whether field names a known counter column.
func ValidCampaignCounter(field string) bool {
	switch field {
	case CampaignCounterTotal, CampaignCounterSent, CampaignCounterDelivered,
		CampaignCounterFailed, CampaignCounterRead, CampaignCounterResponse,
		CampaignCounterConversion:
		return true
	}
	return false
}

type FindCampaign struct {
	TenantID string
	ID       *string
	Status   *CampaignStatus
	Limit    int
}

// CampaignTransition conditionally moves a campaign between statuses,
// stamping started/completed as appropriate.
type CampaignTransition struct {
	TenantID string
	ID       string
	From     CampaignStatus
	To       CampaignStatus
	NowTs    int64
}

// Validate rejects illegal transitions before they reach the driver.
func (t *CampaignTransition) Validate() error {
	if !CanTransitionCampaign(t.From, t.To) {
		return errors.Errorf("campaign cannot move %s -> %s", t.From, t.To)
	}
	return nil
}

// CampaignVariant is one A/B arm. Assignment is a deterministic hash of the
// customer id modulo the number of active variants, computed at expansion.
type CampaignVariant struct {
	ID         string
	CampaignID string
	TenantID   string

	Name    string
	Content string

	AssignedCount int
	SentCount     int
	FailedCount   int

	CreatedTs int64
}

type FindCampaignVariant struct {
	TenantID   string
	CampaignID string
}
