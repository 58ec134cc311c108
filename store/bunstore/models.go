package bunstore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/uptrace/bun"

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
	bun.BaseModel `bun:"table:herald_event_types"`

	ID            string            `bun:"id,pk"`
	Name          string            `bun:"name,unique,notnull"`
	Description   string            `bun:"description,notnull,default:''"`
	GroupName     string            `bun:"group_name,notnull,default:''"`
	Schema        []byte            `bun:"schema,nullzero"`
	SchemaVersion string            `bun:"schema_version,notnull,default:''"`
	Version       string            `bun:"version,notnull,default:''"`
	Example       []byte            `bun:"example,nullzero"`
	IsDeprecated  bool              `bun:"is_deprecated,notnull,default:false"`
	DeprecatedAt  *time.Time        `bun:"deprecated_at,nullzero"`
	Metadata      map[string]string `bun:"metadata,json_use_number"`
	CreatedAt     time.Time         `bun:"created_at,notnull"`
	UpdatedAt     time.Time         `bun:"updated_at,notnull"`
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
	bun.BaseModel `bun:"table:herald_subscriptions"`

	ID             string            `bun:"id,pk"`
	WorkspaceID    string            `bun:"workspace_id,notnull,default:''"`
	AppID          string            `bun:"app_id,notnull,default:''"`
	InstallationID string            `bun:"installation_id,notnull,default:''"`
	URL            string            `bun:"url,notnull,default:''"`
	Description    string            `bun:"description,notnull,default:''"`
	Secret         string            `bun:"secret,notnull,default:''"`
	EventTypes     []string          `bun:"event_types,array"`
	Headers        map[string]string `bun:"headers,json_use_number"`
	Active         bool              `bun:"active,notnull,default:true"`
	RateLimit      int               `bun:"rate_limit,notnull,default:0"`
	Metadata       map[string]string `bun:"metadata,json_use_number"`
	CreatedAt      time.Time         `bun:"created_at,notnull"`
	UpdatedAt      time.Time         `bun:"updated_at,notnull"`
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
	bun.BaseModel `bun:"table:herald_installations"`

	ID            string            `bun:"id,pk"`
	AppID         string            `bun:"app_id,notnull,default:''"`
	WorkspaceID   string            `bun:"workspace_id,notnull,default:''"`
	State         string            `bun:"state,notnull,default:'active'"`
	InstalledBy   string            `bun:"installed_by,notnull,default:''"`
	UninstalledAt *time.Time        `bun:"uninstalled_at,nullzero"`
	Metadata      map[string]string `bun:"metadata,json_use_number"`
	CreatedAt     time.Time         `bun:"created_at,notnull"`
	UpdatedAt     time.Time         `bun:"updated_at,notnull"`
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
	bun.BaseModel `bun:"table:herald_records"`

	ID             string          `bun:"id,pk"`
	SubscriptionID string          `bun:"subscription_id,notnull"`
	EventID        string          `bun:"event_id,notnull"`
	EventType      string          `bun:"event_type,notnull,default:''"`
	WorkspaceID    string          `bun:"workspace_id,notnull,default:''"`
	Payload        json.RawMessage `bun:"payload,nullzero"`
	Attempts       int             `bun:"attempts,notnull,default:0"`
	LastAttemptAt  *time.Time      `bun:"last_attempt_at,nullzero"`
	LastStatusCode int             `bun:"last_status_code,notnull,default:0"`
	LastResponse   string          `bun:"last_response,notnull,default:''"`
	LastError      string          `bun:"last_error,notnull,default:''"`
	LastSignature  string          `bun:"last_signature,notnull,default:''"`
	NextAttemptAt  *time.Time      `bun:"next_attempt_at,nullzero"`
	DeliveredAt    *time.Time      `bun:"delivered_at,nullzero"`
	FailedAt       *time.Time      `bun:"failed_at,nullzero"`
	CreatedAt      time.Time       `bun:"created_at,notnull"`
	UpdatedAt      time.Time       `bun:"updated_at,notnull"`
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
	bun.BaseModel `bun:"table:herald_dlq"`

	ID             string          `bun:"id,pk"`
	RecordID       string          `bun:"record_id,notnull"`
	EventID        string          `bun:"event_id,notnull"`
	SubscriptionID string          `bun:"subscription_id,notnull"`
	WorkspaceID    string          `bun:"workspace_id,notnull,default:''"`
	EventType      string          `bun:"event_type,notnull,default:''"`
	URL            string          `bun:"url,notnull,default:''"`
	Payload        json.RawMessage `bun:"payload,nullzero"`
	Error          string          `bun:"error,notnull,default:''"`
	Attempts       int             `bun:"attempts,notnull,default:0"`
	LastStatusCode int             `bun:"last_status_code,notnull,default:0"`
	ReplayedAt     *time.Time      `bun:"replayed_at,nullzero"`
	FailedAt       time.Time       `bun:"failed_at,notnull"`
	CreatedAt      time.Time       `bun:"created_at,notnull"`
	UpdatedAt      time.Time       `bun:"updated_at,notnull"`
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
