package dodo

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	paymentdomain "github.com/listinglens/listinglens/internal/payment/domain"
)

const signatureTolerance = 5 * time.Minute

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return "dodo"
}

func (f *Factory) NewAdapter(cfg paymentdomain.AdapterConfig) (paymentdomain.PaymentAdapter, error) {
	allowUnverified := false
	if raw, ok := cfg.Config["allow_unverified"]; ok {
		if b, ok := raw.(bool); ok {
			allowUnverified = b
		}
	}

	secret, ok := readString(cfg.Config, "webhook_secret")
	if !ok && !allowUnverified {
		return nil, paymentdomain.ErrInvalidConfig
	}
	key, err := decodeSecret(secret)
	if err != nil {
		return nil, paymentdomain.ErrInvalidConfig
	}

	return &Adapter{key: key, allowUnverified: allowUnverified}, nil
}

type Adapter struct {
	key             []byte
	allowUnverified bool
}

// Verify checks the standard-webhooks signature scheme: HMAC-SHA256 over
// "{id}.{timestamp}.{payload}" carried base64-encoded in the
// webhook-signature header as one or more "v1,<sig>" entries.
func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	if len(a.key) == 0 {
		if a.allowUnverified {
			return nil
		}
		return paymentdomain.ErrInvalidConfig
	}

	id := strings.TrimSpace(headers.Get("webhook-id"))
	timestampRaw := strings.TrimSpace(headers.Get("webhook-timestamp"))
	signatureHeader := strings.TrimSpace(headers.Get("webhook-signature"))
	if id == "" || timestampRaw == "" || signatureHeader == "" {
		return paymentdomain.ErrInvalidSignature
	}

	unix, err := strconv.ParseInt(timestampRaw, 10, 64)
	if err != nil {
		return paymentdomain.ErrInvalidSignature
	}
	sent := time.Unix(unix, 0)
	if drift := time.Since(sent); drift > signatureTolerance || drift < -signatureTolerance {
		return paymentdomain.ErrInvalidSignature
	}

	signed := id + "." + timestampRaw + "." + string(payload)
	mac := hmac.New(sha256.New, a.key)
	_, _ = mac.Write([]byte(signed))
	expected := mac.Sum(nil)

	for _, entry := range strings.Fields(signatureHeader) {
		version, value, found := strings.Cut(entry, ",")
		if !found || version != "v1" {
			continue
		}
		candidate, err := base64.StdEncoding.DecodeString(value)
		if err != nil {
			continue
		}
		if hmac.Equal(candidate, expected) {
			return nil
		}
	}

	return paymentdomain.ErrInvalidSignature
}

func (a *Adapter) Parse(ctx context.Context, payload []byte) (*paymentdomain.PaymentEvent, error) {
	var event dodoEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}

	eventType := strings.TrimSpace(event.Type)
	switch eventType {
	case paymentdomain.EventTypePaymentSucceeded,
		paymentdomain.EventTypePaymentFailed,
		paymentdomain.EventTypeRefundSucceeded,
		paymentdomain.EventTypeRefundFailed:
	default:
		return nil, paymentdomain.ErrEventIgnored
	}

	paymentID := strings.TrimSpace(event.Data.PaymentID)
	if paymentID == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	workspaceRaw := readMetadataValue(event.Data.Metadata, "workspace_id")
	if workspaceRaw == "" {
		return nil, paymentdomain.ErrInvalidWorkspace
	}
	workspaceID, err := snowflake.ParseString(workspaceRaw)
	if err != nil {
		return nil, paymentdomain.ErrInvalidWorkspace
	}

	creditsRaw := readMetadataValue(event.Data.Metadata, "credits")
	credits, err := strconv.ParseInt(creditsRaw, 10, 64)
	if err != nil || credits <= 0 {
		return nil, paymentdomain.ErrInvalidCredits
	}

	// correlation id for the inbox; refunds carry their own refund id
	providerEventID := eventType + ":" + paymentID
	if refundID := strings.TrimSpace(event.Data.RefundID); refundID != "" {
		providerEventID = eventType + ":" + refundID
	}

	occurredAt := event.Timestamp
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	return &paymentdomain.PaymentEvent{
		Provider:        "dodo",
		ProviderEventID: providerEventID,
		PaymentID:       paymentID,
		Type:            eventType,
		WorkspaceID:     workspaceID,
		Credits:         credits,
		PackageID:       readMetadataValue(event.Data.Metadata, "package_id"),
		Amount:          event.Data.TotalAmount,
		Currency:        strings.ToUpper(strings.TrimSpace(event.Data.Currency)),
		OccurredAt:      occurredAt.UTC(),
		RawPayload:      payload,
	}, nil
}

type dodoEvent struct {
	BusinessID string        `json:"business_id"`
	Type       string        `json:"type"`
	Timestamp  time.Time     `json:"timestamp"`
	Data       dodoEventData `json:"data"`
}

type dodoEventData struct {
	PaymentID   string         `json:"payment_id"`
	RefundID    string         `json:"refund_id"`
	TotalAmount int64          `json:"total_amount"`
	Currency    string         `json:"currency"`
	Metadata    map[string]any `json:"metadata"`
}

func decodeSecret(secret string) ([]byte, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, nil
	}
	trimmed := strings.TrimPrefix(secret, "whsec_")
	if decoded, err := base64.StdEncoding.DecodeString(trimmed); err == nil {
		return decoded, nil
	}
	return []byte(trimmed), nil
}

func readMetadataValue(metadata map[string]any, key string) string {
	if metadata == nil {
		return ""
	}
	value, ok := metadata[key]
	if !ok {
		return ""
	}
	switch cast := value.(type) {
	case string:
		return strings.TrimSpace(cast)
	case float64:
		if cast == 0 {
			return ""
		}
		return strconv.FormatInt(int64(cast), 10)
	case json.Number:
		return cast.String()
	case int64:
		return strconv.FormatInt(cast, 10)
	case int:
		return strconv.Itoa(cast)
	}
	return ""
}

func readString(config map[string]any, key string) (string, bool) {
	value, ok := config[key]
	if !ok {
		return "", false
	}
	switch cast := value.(type) {
	case string:
		return cast, true
	default:
		return "", false
	}
}
