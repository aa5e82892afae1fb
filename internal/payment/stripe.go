package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/paymentintent"
	"github.com/stripe/stripe-go/v83/webhook"

	"restaurant-system/internal/models"
)

// Metadata keys bound into every intent
const (
	MetaOrderID       = "order_id"
	MetaRestaurantID  = "restaurant_id"
	MetaCustomerName  = "customer_name"
	MetaCustomerPhone = "customer_phone"
	MetaTableNumber   = "table_number"
)

// Event types the reconciler acts on
const (
	EventIntentSucceeded = "payment_intent.succeeded"
	EventIntentFailed    = "payment_intent.payment_failed"
)

// IntentSucceeded is the provider status of a settled intent
const IntentSucceeded = "succeeded"

// Intent is the provider-independent view of a payment intent
type Intent struct {
	ID           string
	ClientSecret string
	Status       string
	AmountMinor  int64
	Currency     string
	Metadata     map[string]string
}

// OrderID returns the order id bound into the intent metadata
func (i *Intent) OrderID() string {
	return i.Metadata[MetaOrderID]
}

// Event is a verified webhook delivery. Intent is nil for non payment intent events.
type Event struct {
	ID     string
	Type   string
	Intent *Intent
}

// StripeOptions configures the Stripe gateway
type StripeOptions struct {
	SecretKey     string
	WebhookSecret string
	Currency      string
	Timeout       time.Duration
	// BackendURL overrides the Stripe API base, e.g. for stripe-mock
	BackendURL string
}

// StripeGateway creates and retrieves payment intents and verifies webhooks
type StripeGateway struct {
	intents       paymentintent.Client
	webhookSecret string
	currency      string
}

// NewStripeGateway builds a gateway with its own backend; no global stripe.Key is used
func NewStripeGateway(opts StripeOptions) *StripeGateway {
	backendConfig := &stripe.BackendConfig{
		HTTPClient: &http.Client{Timeout: opts.Timeout},
		// Retries are owned by the order service so they stay bounded by the request deadline
		MaxNetworkRetries: stripe.Int64(0),
	}
	if opts.BackendURL != "" {
		backendConfig.URL = stripe.String(opts.BackendURL)
	}
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, backendConfig)

	currency := strings.ToLower(opts.Currency)
	if currency == "" {
		currency = "inr"
	}

	return &StripeGateway{
		intents:       paymentintent.Client{B: backend, Key: opts.SecretKey},
		webhookSecret: opts.WebhookSecret,
		currency:      currency,
	}
}

// CreateIntent creates a card payment intent for amountMinor in the configured currency
func (g *StripeGateway) CreateIntent(ctx context.Context, amountMinor int64, metadata map[string]string) (*Intent, error) {
	if err := ctx.Err(); err != nil {
		return nil, &models.UpstreamError{Op: "create payment intent", Err: err}
	}

	params := &stripe.PaymentIntentParams{
		Amount:             stripe.Int64(amountMinor),
		Currency:           stripe.String(g.currency),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
	}
	params.Context = ctx
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}

	pi, err := g.intents.New(params)
	if err != nil {
		return nil, classifyError("create payment intent", err)
	}
	if pi.ClientSecret == "" {
		return nil, &models.UpstreamError{Op: "create payment intent", Err: errors.New("provider did not return a client secret")}
	}

	return toIntent(pi), nil
}

// RetrieveIntent looks up the current state of an intent
func (g *StripeGateway) RetrieveIntent(ctx context.Context, intentID string) (*Intent, error) {
	if err := ctx.Err(); err != nil {
		return nil, &models.UpstreamError{Op: "retrieve payment intent", Err: err}
	}

	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	pi, err := g.intents.Get(intentID, params)
	if err != nil {
		return nil, classifyError("retrieve payment intent", err)
	}

	return toIntent(pi), nil
}

// VerifyWebhook checks the signature header against the raw body and decodes the event
func (g *StripeGateway) VerifyWebhook(payload []byte, signatureHeader string) (*Event, error) {
	if signatureHeader == "" {
		return nil, fmt.Errorf("%w: missing signature header", models.ErrSignature)
	}

	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, g.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrSignature, err)
	}

	return decodeEvent(event)
}

func decodeEvent(event stripe.Event) (*Event, error) {
	out := &Event{ID: event.ID, Type: string(event.Type)}

	if !strings.HasPrefix(out.Type, "payment_intent.") || event.Data == nil {
		return out, nil
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return nil, fmt.Errorf("decode payment intent from event %s: %w", event.ID, err)
	}
	out.Intent = toIntent(&pi)

	return out, nil
}

func toIntent(pi *stripe.PaymentIntent) *Intent {
	metadata := make(map[string]string, len(pi.Metadata))
	for k, v := range pi.Metadata {
		metadata[k] = v
	}
	return &Intent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       string(pi.Status),
		AmountMinor:  pi.Amount,
		Currency:     string(pi.Currency),
		Metadata:     metadata,
	}
}

// classifyError maps provider failures onto the error taxonomy
func classifyError(op string, err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		switch {
		case stripeErr.Code == stripe.ErrorCodeResourceMissing:
			return fmt.Errorf("%w: %s", models.ErrPaymentMismatch, stripeErr.Msg)
		case stripeErr.HTTPStatusCode == http.StatusTooManyRequests,
			stripeErr.HTTPStatusCode >= http.StatusInternalServerError:
			return &models.UpstreamError{Op: op, Err: err, Retryable: true}
		default:
			return &models.UpstreamError{Op: op, Err: err}
		}
	}
	return &models.UpstreamError{Op: op, Err: err, Retryable: true}
}
