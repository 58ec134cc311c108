package subscription

import (
	"context"
	"log/slog"
	"net/url"

	"github.com/signalworks/herald/id"
	"github.com/signalworks/herald/internal/entity"
	"github.com/signalworks/herald/secrets"
	"github.com/signalworks/herald/signature"
)

// Service provides subscription management operations. Signing secrets are
// encrypted with the configured cipher before they reach the store.
type Service struct {
	store  Store
	cipher secrets.Cipher
	logger *slog.Logger
}

// NewService creates a new subscription service.
func NewService(store Store, cipher secrets.Cipher, logger *slog.Logger) *Service {
	if cipher == nil {
		cipher = secrets.Plaintext{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		cipher: cipher,
		logger: logger,
	}
}

// Create registers a new webhook subscription. The plaintext secret is
// returned on the subscription exactly once; the stored copy is encrypted.
func (svc *Service) Create(ctx context.Context, in Input) (*Subscription, error) {
	if _, err := url.ParseRequestURI(in.URL); err != nil {
		return nil, &ValidationError{Field: "url", Message: "invalid URL"}
	}

	if in.WorkspaceID == "" {
		return nil, &ValidationError{Field: "workspace_id", Message: "required"}
	}

	if len(in.EventTypes) == 0 {
		return nil, &ValidationError{Field: "event_types", Message: "at least one event type pattern required"}
	}

	secret := in.Secret
	if secret == "" {
		secret = signature.GenerateSecret()
	}

	encrypted, err := svc.cipher.Encrypt(secret)
	if err != nil {
		return nil, err
	}

	sub := &Subscription{
		Entity:         entity.New(),
		ID:             id.NewSubscriptionID(),
		WorkspaceID:    in.WorkspaceID,
		AppID:          in.AppID,
		InstallationID: in.InstallationID,
		URL:            in.URL,
		Description:    in.Description,
		Secret:         encrypted,
		EventTypes:     in.EventTypes,
		Headers:        in.Headers,
		Active:         true,
		RateLimit:      in.RateLimit,
		Metadata:       in.Metadata,
	}

	if err := svc.store.CreateSubscription(ctx, sub); err != nil {
		return nil, err
	}

	// Hand the plaintext secret back to the caller on the returned copy
	// so it can be shown once.
	out := *sub
	out.Secret = secret
	return &out, nil
}

// Get returns a subscription by ID. The secret stays encrypted.
func (svc *Service) Get(ctx context.Context, subID id.ID) (*Subscription, error) {
	return svc.store.GetSubscription(ctx, subID)
}

// Update modifies an existing subscription.
func (svc *Service) Update(ctx context.Context, subID id.ID, in Input) (*Subscription, error) {
	sub, err := svc.store.GetSubscription(ctx, subID)
	if err != nil {
		return nil, err
	}

	if in.URL != "" {
		if _, err := url.ParseRequestURI(in.URL); err != nil {
			return nil, &ValidationError{Field: "url", Message: "invalid URL"}
		}
		sub.URL = in.URL
	}
	if in.Description != "" {
		sub.Description = in.Description
	}
	if len(in.EventTypes) > 0 {
		sub.EventTypes = in.EventTypes
	}
	if in.Headers != nil {
		sub.Headers = in.Headers
	}
	if in.RateLimit >= 0 {
		sub.RateLimit = in.RateLimit
	}
	if in.Metadata != nil {
		sub.Metadata = in.Metadata
	}

	if err := svc.store.UpdateSubscription(ctx, sub); err != nil {
		return nil, err
	}

	return sub, nil
}

// Delete removes a subscription.
func (svc *Service) Delete(ctx context.Context, subID id.ID) error {
	return svc.store.DeleteSubscription(ctx, subID)
}

// List returns subscriptions for a workspace.
func (svc *Service) List(ctx context.Context, workspaceID string, opts ListOpts) ([]*Subscription, error) {
	return svc.store.ListSubscriptions(ctx, workspaceID, opts)
}

// SetActive activates or deactivates a subscription.
func (svc *Service) SetActive(ctx context.Context, subID id.ID, active bool) error {
	return svc.store.SetActive(ctx, subID, active)
}

// RotateSecret generates a new signing secret for a subscription and
// returns the plaintext. Deliveries in flight keep the old secret.
func (svc *Service) RotateSecret(ctx context.Context, subID id.ID) (string, error) {
	sub, err := svc.store.GetSubscription(ctx, subID)
	if err != nil {
		return "", err
	}

	newSecret := signature.GenerateSecret()

	encrypted, err := svc.cipher.Encrypt(newSecret)
	if err != nil {
		return "", err
	}

	sub.Secret = encrypted
	if err := svc.store.UpdateSubscription(ctx, sub); err != nil {
		return "", err
	}

	return newSecret, nil
}

// DecryptSecret returns the plaintext signing secret for a subscription.
func (svc *Service) DecryptSecret(sub *Subscription) (string, error) {
	return svc.cipher.Decrypt(sub.Secret)
}

// ValidationError indicates invalid input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "subscription validation: " + e.Field + ": " + e.Message
}
