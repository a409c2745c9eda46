package audit

import (
	"context"
	"time"

	id "escrow/pkg/domain"
)

// EventCategory classifies audit events by their retention needs.
type EventCategory string

const (
	// CategoryFinancial covers events that move funds or change ownership.
	// These are the records reconciliation runs against.
	CategoryFinancial EventCategory = "financial"

	// CategoryOperations covers routine registry activity.
	CategoryOperations EventCategory = "operations"

	// CategoryIncident covers internal invariant breaches that need an operator.
	CategoryIncident EventCategory = "incident"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	ID         string
	Category   EventCategory
	Timestamp  time.Time
	IdentityID id.IdentityID
	Action     string
	// Subject is the item or certificate the action applies to.
	Subject   string
	Amount    string
	Fee       string
	RequestID string
}

type AuditEvent string

const (
	EventIdentityRegistered AuditEvent = "identity_registered"
	EventIdentityUpdated    AuditEvent = "identity_updated"
	EventItemMinted         AuditEvent = "item_minted"
	EventItemSold           AuditEvent = "item_sold"
	EventClaimRedeemed      AuditEvent = "claim_redeemed"
	EventPoolShortfall      AuditEvent = "treasury_pool_shortfall"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventIdentityRegistered: CategoryOperations,
	EventIdentityUpdated:    CategoryOperations,
	EventItemMinted:         CategoryOperations,
	EventItemSold:           CategoryFinancial,
	EventClaimRedeemed:      CategoryFinancial,
	EventPoolShortfall:      CategoryIncident,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// Store persists audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
}

// Lister is implemented by stores that can read events back.
type Lister interface {
	ListByIdentity(ctx context.Context, identityID id.IdentityID) ([]Event, error)
}
