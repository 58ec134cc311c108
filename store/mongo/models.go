package mongo

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/grove"

	"github.com/signalworks/herald/catalog"
	"github.com/signalworks/herald/dlq"
	"github.com/signalworks/herald/id"
	"github.com/signalworks/herald/installation"
	"github.com/signalworks/herald/internal/entity"
	"github.com/signalworks/herald/ledger"
	"github.com/signalworks/herald/subscription"
)

// --- Event Type models ---

type eventTypeModel struct {
	grove.BaseModel `grove:"table:herald_event_types"`

	ID            string            `grove:"id,pk"           bson:"_id"`
	Name          string            `grove:"name,unique"     bson:"name"`
	Description   string            `grove:"description"     bson:"description"`
	GroupName     string            `grove:"group_name"      bson:"group_name"`
	Schema        json.RawMessage   `grove:"schema"          bson:"schema,omitempty"`
	SchemaVersion string            `grove:"schema_version"  bson:"schema_version"`
	Version       string            `grove:"version"         bson:"version"`
	Example       json.RawMessage   `grove:"example"         bson:"example,omitempty"`
	IsDeprecated  bool              `grove:"is_deprecated"   bson:"is_deprecated"`
	DeprecatedAt  *time.Time        `grove:"deprecated_at"   bson:"deprecated_at,omitempty"`
	Metadata      map[string]string `grove:"metadata"        bson:"metadata,omitempty"`
	CreatedAt     time.Time         `grove:"created_at"      bson:"created_at"`
	UpdatedAt     time.Time         `grove:"updated_at"      bson:"updated_at"`
}

func toEventTypeModel(et *catalog.EventType) *eventTypeModel {
	return &eventTypeModel{
		ID:            et.ID.String(),
		Name:          et.Definition.Name,
		Description:   et.Definition.Description,
		GroupName:     et.Definition.Group,
		Schema:        et.Definition.Schema,
		SchemaVersion: et.Definition.SchemaVersion,
		Version:       et.Definition.Version,
		Example:       et.Definition.Example,
		IsDeprecated:  et.IsDeprecated,
		DeprecatedAt:  et.DeprecatedAt,
		Metadata:      et.Metadata,
		CreatedAt:     et.CreatedAt,
		UpdatedAt:     et.UpdatedAt,
	}
}

func fromEventTypeModel(m *eventTypeModel) (*catalog.EventType, error) {
	etID, err := id.ParseEventTypeID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse event type ID %q: %w", m.ID, err)
	}

	return &catalog.EventType{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID: etID,
		Definition: catalog.Definition{
			Name:          m.Name,
			Description:   m.Description,
			Group:         m.GroupName,
			Schema:        m.Schema,
			SchemaVersion: m.SchemaVersion,
			Version:       m.Version,
			Example:       m.Example,
		},
		IsDeprecated: m.IsDeprecated,
		DeprecatedAt: m.DeprecatedAt,
		Metadata:     m.Metadata,
	}, nil
}

// --- Subscription models ---

type subscriptionModel struct {
	grove.BaseModel `grove:"table:herald_subscriptions"`

	ID             string            `grove:"id,pk"           bson:"_id"`
	WorkspaceID    string            `grove:"workspace_id"    bson:"workspace_id"`
	AppID          string            `grove:"app_id"          bson:"app_id"`
	InstallationID string            `grove:"installation_id" bson:"installation_id,omitempty"`
	URL            string            `grove:"url"             bson:"url"`
	Description    string            `grove:"description"     bson:"description"`
	Secret         string            `grove:"secret"          bson:"secret"`
	EventTypes     []string          `grove:"event_types"     bson:"event_types"`
	Headers        map[string]string `grove:"headers"         bson:"headers,omitempty"`
	Active         bool              `grove:"active"          bson:"active"`
	RateLimit      int               `grove:"rate_limit"      bson:"rate_limit"`
	Metadata       map[string]string `grove:"metadata"        bson:"metadata,omitempty"`
	CreatedAt      time.Time         `grove:"created_at"      bson:"created_at"`
	UpdatedAt      time.Time         `grove:"updated_at"      bson:"updated_at"`
}

func toSubscriptionModel(sub *subscription.Subscription) *subscriptionModel {
	m := &subscriptionModel{
		ID:          sub.ID.String(),
		WorkspaceID: sub.WorkspaceID,
		AppID:       sub.AppID,
		URL:         sub.URL,
		Description: sub.Description,
		Secret:      sub.Secret,
		EventTypes:  sub.EventTypes,
		Headers:     sub.Headers,
		Active:      sub.Active,
		RateLimit:   sub.RateLimit,
		Metadata:    sub.Metadata,
		CreatedAt:   sub.CreatedAt,
		UpdatedAt:   sub.UpdatedAt,
	}
	if !sub.InstallationID.IsNil() {
		m.InstallationID = sub.InstallationID.String()
	}

	return m
}

func fromSubscriptionModel(m *subscriptionModel) (*subscription.Subscription, error) {
	subID, err := id.ParseSubscriptionID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse subscription ID %q: %w", m.ID, err)
	}

	sub := &subscription.Subscription{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:          subID,
		WorkspaceID: m.WorkspaceID,
		AppID:       m.AppID,
		URL:         m.URL,
		Description: m.Description,
		Secret:      m.Secret,
		EventTypes:  m.EventTypes,
		Headers:     m.Headers,
		Active:      m.Active,
		RateLimit:   m.RateLimit,
		Metadata:    m.Metadata,
	}
	if m.InstallationID != "" {
		instID, err := id.ParseInstallationID(m.InstallationID)
		if err != nil {
			return nil, fmt.Errorf("parse installation ID %q: %w", m.InstallationID, err)
		}

		sub.InstallationID = instID
	}

	return sub, nil
}

// --- Installation models ---

type installationModel struct {
	grove.BaseModel `grove:"table:herald_installations"`

	ID            string            `grove:"id,pk"          bson:"_id"`
	AppID         string            `grove:"app_id"         bson:"app_id"`
	WorkspaceID   string            `grove:"workspace_id"   bson:"workspace_id"`
	State         string            `grove:"state"          bson:"state"`
	InstalledBy   string            `grove:"installed_by"   bson:"installed_by"`
	UninstalledAt *time.Time        `grove:"uninstalled_at" bson:"uninstalled_at,omitempty"`
	Metadata      map[string]string `grove:"metadata"       bson:"metadata,omitempty"`
	CreatedAt     time.Time         `grove:"created_at"     bson:"created_at"`
	UpdatedAt     time.Time         `grove:"updated_at"     bson:"updated_at"`
}

func toInstallationModel(inst *installation.Installation) *installationModel {
	return &installationModel{
		ID:            inst.ID.String(),
		AppID:         inst.AppID,
		WorkspaceID:   inst.WorkspaceID,
		State:         string(inst.State),
		InstalledBy:   inst.InstalledBy,
		UninstalledAt: inst.UninstalledAt,
		Metadata:      inst.Metadata,
		CreatedAt:     inst.CreatedAt,
		UpdatedAt:     inst.UpdatedAt,
	}
}

func fromInstallationModel(m *installationModel) (*installation.Installation, error) {
	instID, err := id.ParseInstallationID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse installation ID %q: %w", m.ID, err)
	}

	return &installation.Installation{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:            instID,
		AppID:         m.AppID,
		WorkspaceID:   m.WorkspaceID,
		State:         installation.State(m.State),
		InstalledBy:   m.InstalledBy,
		UninstalledAt: m.UninstalledAt,
		Metadata:      m.Metadata,
	}, nil
}

// --- Ledger record models ---

type recordModel struct {
	grove.BaseModel `grove:"table:herald_records"`

	ID             string          `grove:"id,pk"            bson:"_id"`
	SubscriptionID string          `grove:"subscription_id"  bson:"subscription_id"`
	EventID        string          `grove:"event_id"         bson:"event_id"`
	EventType      string          `grove:"event_type"       bson:"event_type"`
	WorkspaceID    string          `grove:"workspace_id"     bson:"workspace_id"`
	Payload        json.RawMessage `grove:"payload"          bson:"payload,omitempty"`
	Attempts       int             `grove:"attempts"         bson:"attempts"`
	LastAttemptAt  *time.Time      `grove:"last_attempt_at"  bson:"last_attempt_at,omitempty"`
	LastStatusCode int             `grove:"last_status_code" bson:"last_status_code"`
	LastResponse   string          `grove:"last_response"    bson:"last_response"`
	LastError      string          `grove:"last_error"       bson:"last_error"`
	LastSignature  string          `grove:"last_signature"   bson:"last_signature"`
	NextAttemptAt  *time.Time      `grove:"next_attempt_at"  bson:"next_attempt_at,omitempty"`
	DeliveredAt    *time.Time      `grove:"delivered_at"     bson:"delivered_at,omitempty"`
	FailedAt       *time.Time      `grove:"failed_at"        bson:"failed_at,omitempty"`
	CreatedAt      time.Time       `grove:"created_at"       bson:"created_at"`
	UpdatedAt      time.Time       `grove:"updated_at"       bson:"updated_at"`
}

func toRecordModel(rec *ledger.Record) *recordModel {
	return &recordModel{
		ID:             rec.ID.String(),
		SubscriptionID: rec.SubscriptionID.String(),
		EventID:        rec.EventID.String(),
		EventType:      rec.EventType,
		WorkspaceID:    rec.WorkspaceID,
		Payload:        rec.Payload,
		Attempts:       rec.Attempts,
		LastAttemptAt:  rec.LastAttemptAt,
		LastStatusCode: rec.LastStatusCode,
		LastResponse:   rec.LastResponse,
		LastError:      rec.LastError,
		LastSignature:  rec.LastSignature,
		NextAttemptAt:  rec.NextAttemptAt,
		DeliveredAt:    rec.DeliveredAt,
		FailedAt:       rec.FailedAt,
		CreatedAt:      rec.CreatedAt,
		UpdatedAt:      rec.UpdatedAt,
	}
}

func fromRecordModel(m *recordModel) (*ledger.Record, error) {
	recID, err := id.ParseRecordID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse record ID %q: %w", m.ID, err)
	}

	subID, err := id.ParseSubscriptionID(m.SubscriptionID)
	if err != nil {
		return nil, fmt.Errorf("parse subscription ID %q: %w", m.SubscriptionID, err)
	}

	evtID, err := id.ParseEventID(m.EventID)
	if err != nil {
		return nil, fmt.Errorf("parse event ID %q: %w", m.EventID, err)
	}

	return &ledger.Record{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:             recID,
		SubscriptionID: subID,
		EventID:        evtID,
		EventType:      m.EventType,
		WorkspaceID:    m.WorkspaceID,
		Payload:        m.Payload,
		Attempts:       m.Attempts,
		LastAttemptAt:  m.LastAttemptAt,
		LastStatusCode: m.LastStatusCode,
		LastResponse:   m.LastResponse,
		LastError:      m.LastError,
		LastSignature:  m.LastSignature,
		NextAttemptAt:  m.NextAttemptAt,
		DeliveredAt:    m.DeliveredAt,
		FailedAt:       m.FailedAt,
	}, nil
}

// --- DLQ models ---

type dlqEntryModel struct {
	grove.BaseModel `grove:"table:herald_dlq"`

	ID             string          `grove:"id,pk"            bson:"_id"`
	RecordID       string          `grove:"record_id"        bson:"record_id"`
	EventID        string          `grove:"event_id"         bson:"event_id"`
	SubscriptionID string          `grove:"subscription_id"  bson:"subscription_id"`
	WorkspaceID    string          `grove:"workspace_id"     bson:"workspace_id"`
	EventType      string          `grove:"event_type"       bson:"event_type"`
	URL            string          `grove:"url"              bson:"url"`
	Payload        json.RawMessage `grove:"payload"          bson:"payload,omitempty"`
	Error          string          `grove:"error"            bson:"error"`
	Attempts       int             `grove:"attempts"         bson:"attempts"`
	LastStatusCode int             `grove:"last_status_code" bson:"last_status_code"`
	ReplayedAt     *time.Time      `grove:"replayed_at"      bson:"replayed_at,omitempty"`
	FailedAt       time.Time       `grove:"failed_at"        bson:"failed_at"`
	CreatedAt      time.Time       `grove:"created_at"       bson:"created_at"`
	UpdatedAt      time.Time       `grove:"updated_at"       bson:"updated_at"`
}

func toDLQEntryModel(e *dlq.Entry) *dlqEntryModel {
	return &dlqEntryModel{
		ID:             e.ID.String(),
		RecordID:       e.RecordID.String(),
		EventID:        e.EventID.String(),
		SubscriptionID: e.SubscriptionID.String(),
		WorkspaceID:    e.WorkspaceID,
		EventType:      e.EventType,
		URL:            e.URL,
		Payload:        e.Payload,
		Error:          e.Error,
		Attempts:       e.Attempts,
		LastStatusCode: e.LastStatusCode,
		ReplayedAt:     e.ReplayedAt,
		FailedAt:       e.FailedAt,
		CreatedAt:      e.CreatedAt,
		UpdatedAt:      e.UpdatedAt,
	}
}

func fromDLQEntryModel(m *dlqEntryModel) (*dlq.Entry, error) {
	dlqID, err := id.ParseDLQID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse DLQ ID %q: %w", m.ID, err)
	}

	recID, err := id.ParseRecordID(m.RecordID)
	if err != nil {
		return nil, fmt.Errorf("parse record ID %q: %w", m.RecordID, err)
	}

	evtID, err := id.ParseEventID(m.EventID)
	if err != nil {
		return nil, fmt.Errorf("parse event ID %q: %w", m.EventID, err)
	}

	subID, err := id.ParseSubscriptionID(m.SubscriptionID)
	if err != nil {
		return nil, fmt.Errorf("parse subscription ID %q: %w", m.SubscriptionID, err)
	}

	return &dlq.Entry{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:             dlqID,
		RecordID:       recID,
		EventID:        evtID,
		SubscriptionID: subID,
		WorkspaceID:    m.WorkspaceID,
		EventType:      m.EventType,
		URL:            m.URL,
		Payload:        m.Payload,
		Error:          m.Error,
		Attempts:       m.Attempts,
		LastStatusCode: m.LastStatusCode,
		ReplayedAt:     m.ReplayedAt,
		FailedAt:       m.FailedAt,
	}, nil
}
