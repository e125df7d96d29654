package domain

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// EventRecord is the durable inbox row for an inbound provider event. The
// unique (provider, provider_event_id) pair deduplicates provider redelivery
// before any credit operation runs.
type EventRecord struct {
	ID              snowflake.ID   `json:"id" gorm:"primaryKey"`
	WorkspaceID     snowflake.ID   `json:"workspace_id" gorm:"not null;index"`
	Provider        string         `json:"provider" gorm:"type:text;not null;uniqueIndex:ux_payment_events_provider_event,priority:1"`
	ProviderEventID string         `json:"provider_event_id" gorm:"type:text;not null;uniqueIndex:ux_payment_events_provider_event,priority:2"`
	EventType       string         `json:"event_type" gorm:"type:text;not null"`
	Payload         datatypes.JSON `json:"payload" gorm:"type:jsonb;not null"`
	ReceivedAt      time.Time      `json:"received_at" gorm:"not null"`
	ProcessedAt     *time.Time     `json:"processed_at"`
}

func (EventRecord) TableName() string { return "payment_events" }

const (
	EventTypePaymentSucceeded = "payment.succeeded"
	EventTypePaymentFailed    = "payment.failed"
	EventTypeRefundSucceeded  = "refund.succeeded"
	EventTypeRefundFailed     = "refund.failed"
)

// PaymentEvent is the canonical event parsed by adapters.
type PaymentEvent struct {
	Provider        string
	ProviderEventID string
	PaymentID       string
	Type            string
	WorkspaceID     snowflake.ID
	Credits         int64
	PackageID       string
	Amount          int64
	Currency        string
	OccurredAt      time.Time
	RawPayload      []byte
}

var (
	ErrInvalidProvider       = errors.New("invalid_provider")
	ErrProviderNotFound      = errors.New("provider_not_found")
	ErrInvalidConfig         = errors.New("invalid_config")
	ErrInvalidSignature      = errors.New("invalid_signature")
	ErrInvalidPayload        = errors.New("invalid_payload")
	ErrInvalidEvent          = errors.New("invalid_event")
	ErrInvalidWorkspace      = errors.New("invalid_workspace")
	ErrInvalidCredits        = errors.New("invalid_credits")
	ErrEventIgnored          = errors.New("event_ignored")
	ErrEventAlreadyProcessed = errors.New("event_already_processed")
)

// PaymentAdapter verifies and parses one provider's webhook format.
type PaymentAdapter interface {
	Verify(ctx context.Context, payload []byte, headers http.Header) error
	Parse(ctx context.Context, payload []byte) (*PaymentEvent, error)
}

// AdapterConfig carries provider credentials to a factory.
type AdapterConfig struct {
	Provider string
	Config   map[string]any
}

// AdapterFactory builds adapters for one provider.
type AdapterFactory interface {
	Provider() string
	NewAdapter(cfg AdapterConfig) (PaymentAdapter, error)
}

// Service ingests raw webhook deliveries.
type Service interface {
	IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) error
}

// Repository covers the payment event inbox.
type Repository interface {
	InsertEvent(ctx context.Context, record *EventRecord) (bool, error)
	LoadEvent(ctx context.Context, provider, providerEventID string) (*EventRecord, error)
	MarkProcessed(ctx context.Context, id snowflake.ID, at time.Time) error
}
