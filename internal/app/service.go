package app

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"mercato/api/internal/auth"
	"mercato/api/internal/config"
	"mercato/api/internal/locks"
	"mercato/api/internal/rbac"
	"mercato/api/internal/store"
	"mercato/api/internal/util"
)

// CompanyResourceKind is the governance identifier for the demo resource.
const CompanyResourceKind = "customers.company"

type Session struct {
	Token     string
	UserID    string
	UserName  string
	TenantID  string
	Role      string
	ExpiresAt time.Time
}

type SettingsInput struct {
	Enabled               bool     `json:"enabled"`
	Strategy              string   `json:"strategy"`
	TimeoutSeconds        int      `json:"timeoutSeconds"`
	HeartbeatSeconds      int      `json:"heartbeatSeconds"`
	EnabledResources      []string `json:"enabledResources"`
	AllowForceUnlock      bool     `json:"allowForceUnlock"`
	AllowIncomingOverride bool     `json:"allowIncomingOverride"`
	NotifyOnConflict      bool     `json:"notifyOnConflict"`
}

type CompanyInput struct {
	Name   string `json:"name"`
	Domain string `json:"domain"`
	Notes  string `json:"notes"`
}

type dataStore interface {
	GetLockSettings(ctx context.Context, tenantID string) (store.LockSettings, error)
	SaveLockSettings(ctx context.Context, settings store.LockSettings) error
	ActionLogHead(ctx context.Context, tenantID, resourceKind, resourceID string) (store.ActionLogEntry, bool, error)
	AppendActionSaveCompany(ctx context.Context, entry store.ActionLogEntry, baseLogID int64, company store.Company) (int64, error)
	AppendActionDeleteCompany(ctx context.Context, entry store.ActionLogEntry, baseLogID int64) (int64, error)
	ListNotifications(ctx context.Context, tenantID string, limit int) ([]store.Notification, error)
	ListCompanies(ctx context.Context, tenantID string) ([]store.Company, error)
	GetCompany(ctx context.Context, tenantID, companyID string) (store.Company, error)
	InsertCompany(ctx context.Context, company store.Company) error
	UpdateCompany(ctx context.Context, company store.Company) error
	DeleteCompany(ctx context.Context, tenantID, companyID string) error
	Ping(ctx context.Context) error
}

type Service struct {
	cfg         config.Config
	store       dataStore
	manager     *locks.Manager
	detector    *locks.Detector
	coordinator *locks.Coordinator
	emitter     locks.Emitter
	log         *logrus.Logger
}

func New(cfg config.Config, dataStore *store.PostgresStore, intents locks.IntentStore, emitter locks.Emitter, clk clock.Clock, log *logrus.Logger) *Service {
	return &Service{
		cfg:         cfg,
		store:       dataStore,
		manager:     locks.NewManager(dataStore, emitter, clk, log),
		detector:    locks.NewDetector(dataStore, dataStore, intents, emitter, clk, log),
		coordinator: locks.NewCoordinator(dataStore, dataStore, intents, cfg.IntentTTL, clk, log),
		emitter:     emitter,
		log:         log,
	}
}

// Bootstrap seeds the demo tenant so the governed endpoints have something
// to lock against on a fresh install.
func (s *Service) Bootstrap(ctx context.Context) error {
	companies, err := s.store.ListCompanies(ctx, "t-demo")
	if err != nil {
		return err
	}
	if len(companies) > 0 {
		return nil
	}
	seeds := []store.Company{
		{ID: "C123", TenantID: "t-demo", Name: "Aurora Freight GmbH", Domain: "aurorafreight.example", Notes: "Key account"},
		{ID: "C124", TenantID: "t-demo", Name: "Basalt Retail Co", Domain: "basaltretail.example"},
		{ID: "C125", TenantID: "t-demo", Name: "Corvus Logistics", Domain: "corvus.example"},
	}
	for _, seed := range seeds {
		seed.UpdatedBy = "system"
		if err := s.store.InsertCompany(ctx, seed); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) Login(ctx context.Context, name, tenantID, role string) (Session, error) {
	if name == "" || tenantID == "" {
		return Session{}, domainError(http.StatusBadRequest, "INVALID_BODY", "name and tenant are required", nil)
	}
	normalized := string(rbac.Normalize(role))
	expiresAt := time.Now().Add(s.cfg.AccessTTL)
	userID := actorID(tenantID, name)
	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:    userID,
		Name:   name,
		Tenant: tenantID,
		Role:   normalized,
		Exp:    expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, fmt.Errorf("issue token: %w", err)
	}
	return Session{
		Token:     token,
		UserID:    userID,
		UserName:  name,
		TenantID:  tenantID,
		Role:      normalized,
		ExpiresAt: expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:    token,
		UserID:   claims.Sub,
		UserName: claims.Name,
		TenantID: claims.Tenant,
		Role:     string(rbac.Normalize(claims.Role)),
	}, nil
}

// actorID derives a stable id so the same user logging in twice is the same
// lock owner.
func actorID(tenantID, name string) string {
	sum := sha256.Sum256([]byte(tenantID + ":" + name))
	return "usr_" + hex.EncodeToString(sum[:6])
}

func (s *Service) loadSettings(ctx context.Context, tenantID string) (store.LockSettings, error) {
	settings, err := s.store.GetLockSettings(ctx, tenantID)
	if errors.Is(err, sql.ErrNoRows) {
		return locks.DefaultSettings(tenantID), nil
	}
	if err != nil {
		return store.LockSettings{}, err
	}
	return settings, nil
}

func (s *Service) Settings(ctx context.Context, session Session) (map[string]any, error) {
	settings, err := s.loadSettings(ctx, session.TenantID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"settings": settingsPayload(settings)}, nil
}

func (s *Service) UpdateSettings(ctx context.Context, session Session, input SettingsInput) (map[string]any, error) {
	if !rbac.Can(rbac.Role(session.Role), rbac.ActionManageSettings) {
		return nil, locks.ErrNotPermitted
	}
	resources := input.EnabledResources
	if resources == nil {
		resources = []string{}
	}
	settings := store.LockSettings{
		TenantID:              session.TenantID,
		Enabled:               input.Enabled,
		Strategy:              input.Strategy,
		TimeoutSeconds:        input.TimeoutSeconds,
		HeartbeatSeconds:      input.HeartbeatSeconds,
		EnabledResources:      resources,
		AllowForceUnlock:      input.AllowForceUnlock,
		AllowIncomingOverride: input.AllowIncomingOverride,
		NotifyOnConflict:      input.NotifyOnConflict,
	}
	if err := locks.ValidateSettings(settings); err != nil {
		return nil, err
	}
	if err := s.store.SaveLockSettings(ctx, settings); err != nil {
		return nil, err
	}
	s.emitter.Emit(ctx, locks.Event{
		Type:     locks.EventSettingsUpdated,
		TenantID: session.TenantID,
		Payload: map[string]any{
			"updatedBy": session.UserID,
			"strategy":  settings.Strategy,
			"enabled":   settings.Enabled,
		},
	})
	return map[string]any{"settings": settingsPayload(settings)}, nil
}

func (s *Service) Acquire(ctx context.Context, session Session, resourceKind, resourceID string) (map[string]any, error) {
	settings, err := s.loadSettings(ctx, session.TenantID)
	if err != nil {
		return nil, err
	}
	lock, err := s.manager.Acquire(ctx, settings, resourceKind, resourceID, session.UserID, session.UserName)
	if err != nil {
		return nil, err
	}
	head, _, err := s.store.ActionLogHead(ctx, session.TenantID, resourceKind, resourceID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"ok":                true,
		"lock":              lockPayload(lock),
		"latestActionLogId": head.LogID,
	}, nil
}

func (s *Service) Heartbeat(ctx context.Context, session Session, token string) (map[string]any, error) {
	settings, err := s.loadSettings(ctx, session.TenantID)
	if err != nil {
		return nil, err
	}
	expiresAt, err := s.manager.Heartbeat(ctx, settings, token)
	if err != nil {
		return nil, err
	}
	return map[string]any{"ok": true, "expiresAt": expiresAt}, nil
}

func (s *Service) Release(ctx context.Context, session Session, token, reason string) (map[string]any, error) {
	settings, err := s.loadSettings(ctx, session.TenantID)
	if err != nil {
		return nil, err
	}
	if err := s.manager.Release(ctx, settings, token, reason); err != nil {
		return nil, err
	}
	return map[string]any{"ok": true}, nil
}

func (s *Service) ForceRelease(ctx context.Context, session Session, resourceKind, resourceID, reason string) (map[string]any, error) {
	if !rbac.Can(rbac.Role(session.Role), rbac.ActionForceRelease) {
		return nil, locks.ErrNotPermitted
	}
	settings, err := s.loadSettings(ctx, session.TenantID)
	if err != nil {
		return nil, err
	}
	released, err := s.manager.ForceRelease(ctx, settings, resourceKind, resourceID, session.UserID, session.UserName, reason)
	if err != nil {
		return nil, err
	}
	return map[string]any{"released": true, "lock": lockPayload(released)}, nil
}

func (s *Service) LockStatus(ctx context.Context, session Session, resourceKind, resourceID string) (map[string]any, error) {
	settings, err := s.loadSettings(ctx, session.TenantID)
	if err != nil {
		return nil, err
	}
	head, _, err := s.store.ActionLogHead(ctx, session.TenantID, resourceKind, resourceID)
	if err != nil {
		return nil, err
	}
	payload := map[string]any{
		"governed":          locks.Governs(settings, resourceKind),
		"strategy":          settings.Strategy,
		"locked":            false,
		"latestActionLogId": head.LogID,
	}
	lock, held, err := s.manager.Status(ctx, settings, resourceKind, resourceID)
	if err != nil {
		return nil, err
	}
	if held {
		payload["locked"] = true
		payload["lockedBy"] = lock.OwnerID
		payload["lockedByName"] = lock.OwnerName
		payload["expiresAt"] = lock.ExpiresAt
	}
	return payload, nil
}

func (s *Service) ListNotifications(ctx context.Context, session Session) (map[string]any, error) {
	items, err := s.store.ListNotifications(ctx, session.TenantID, 50)
	if err != nil {
		return nil, err
	}
	notifications := make([]map[string]any, 0, len(items))
	for _, item := range items {
		var payload map[string]any
		_ = json.Unmarshal(item.Payload, &payload)
		notifications = append(notifications, map[string]any{
			"id":           item.ID,
			"type":         item.Type,
			"resourceKind": item.ResourceKind,
			"resourceId":   item.ResourceID,
			"payload":      payload,
			"actions":      item.Actions,
			"createdAt":    item.CreatedAt,
		})
	}
	return map[string]any{"notifications": notifications}, nil
}

func (s *Service) ExecuteNotificationAction(ctx context.Context, session Session, notificationID, actionID string) (map[string]any, error) {
	if err := s.coordinator.ExecuteAction(ctx, session.TenantID, notificationID, actionID, session.UserID); err != nil {
		return nil, err
	}
	return map[string]any{"ok": true, "result": map[string]any{"ok": true}}, nil
}

func (s *Service) ListCompanies(ctx context.Context, session Session) (map[string]any, error) {
	items, err := s.store.ListCompanies(ctx, session.TenantID)
	if err != nil {
		return nil, err
	}
	companies := make([]map[string]any, 0, len(items))
	for _, item := range items {
		companies = append(companies, companyPayload(item))
	}
	return map[string]any{"companies": companies}, nil
}

// loadCompany distinguishes "never existed" from "deleted under governance":
// a missing row whose action log ends in a delete tombstone is reported as
// ErrRecordDeleted so in-flight editors get a terminal answer, not a 404.
func (s *Service) loadCompany(ctx context.Context, tenantID, companyID string) (store.Company, error) {
	company, err := s.store.GetCompany(ctx, tenantID, companyID)
	if errors.Is(err, sql.ErrNoRows) {
		head, found, headErr := s.store.ActionLogHead(ctx, tenantID, CompanyResourceKind, companyID)
		if headErr == nil && found && head.Deleted {
			return store.Company{}, locks.ErrRecordDeleted
		}
	}
	return company, err
}

func (s *Service) GetCompany(ctx context.Context, session Session, companyID string) (map[string]any, error) {
	company, err := s.loadCompany(ctx, session.TenantID, companyID)
	if err != nil {
		return nil, err
	}
	head, _, err := s.store.ActionLogHead(ctx, session.TenantID, CompanyResourceKind, companyID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"company":           companyPayload(company),
		"latestActionLogId": head.LogID,
	}, nil
}

func (s *Service) CreateCompany(ctx context.Context, session Session, input CompanyInput) (map[string]any, error) {
	if input.Name == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}
	company := store.Company{
		ID:        util.NewID("cmp"),
		TenantID:  session.TenantID,
		Name:      input.Name,
		Domain:    input.Domain,
		Notes:     input.Notes,
		UpdatedBy: session.UserName,
	}

	settings, err := s.loadSettings(ctx, session.TenantID)
	if err != nil {
		return nil, err
	}
	var logID int64
	if locks.Governs(settings, CompanyResourceKind) {
		logID, err = s.store.AppendActionSaveCompany(ctx, store.ActionLogEntry{
			TenantID:     session.TenantID,
			ResourceKind: CompanyResourceKind,
			ResourceID:   company.ID,
			ActorID:      session.UserID,
			ActorName:    session.UserName,
			Action:       "create",
			Snapshot:     companySnapshot(company),
		}, -1, company)
	} else {
		err = s.store.InsertCompany(ctx, company)
	}
	if err != nil {
		return nil, err
	}
	return map[string]any{"ok": true, "company": companyPayload(company), "actionLogId": logID}, nil
}

func (s *Service) UpdateCompany(ctx context.Context, session Session, companyID string, input CompanyInput, hdr LockHeaders) (map[string]any, error) {
	company, err := s.loadCompany(ctx, session.TenantID, companyID)
	if err != nil {
		return nil, err
	}

	settings, decision, err := s.Guard(ctx, session, CompanyResourceKind, companyID, hdr)
	if err != nil {
		return nil, err
	}

	company.Name = input.Name
	company.Domain = input.Domain
	company.Notes = input.Notes
	company.UpdatedBy = session.UserName

	var logID int64
	if decision.Governed {
		logID, err = s.appendGoverned(ctx, session, settings, decision, store.ActionLogEntry{
			TenantID:     session.TenantID,
			ResourceKind: CompanyResourceKind,
			ResourceID:   companyID,
			ActorID:      session.UserID,
			ActorName:    session.UserName,
			Action:       "update",
			Snapshot:     companySnapshot(company),
		}, &company)
		if err != nil {
			return nil, err
		}
	} else if err := s.store.UpdateCompany(ctx, company); err != nil {
		return nil, err
	}
	return map[string]any{"ok": true, "company": companyPayload(company), "actionLogId": logID}, nil
}

func (s *Service) DeleteCompany(ctx context.Context, session Session, companyID string, hdr LockHeaders) (map[string]any, error) {
	company, err := s.loadCompany(ctx, session.TenantID, companyID)
	if err != nil {
		return nil, err
	}

	settings, decision, err := s.Guard(ctx, session, CompanyResourceKind, companyID, hdr)
	if err != nil {
		return nil, err
	}

	if decision.Governed {
		if _, err := s.appendGoverned(ctx, session, settings, decision, store.ActionLogEntry{
			TenantID:     session.TenantID,
			ResourceKind: CompanyResourceKind,
			ResourceID:   companyID,
			ActorID:      session.UserID,
			ActorName:    session.UserName,
			Action:       "delete",
			Snapshot:     companySnapshot(company),
			Deleted:      true,
		}, nil); err != nil {
			return nil, err
		}
	} else if err := s.store.DeleteCompany(ctx, session.TenantID, companyID); err != nil {
		return nil, err
	}
	return map[string]any{"ok": true}, nil
}

// appendGoverned lands the action-log entry and the company row for a
// governed write in one transaction; company nil means the write is the
// delete tombstone. Optimistic writes use the compare-and-bump append so the
// head cannot move between the detector's check and the write; if it did,
// the check re-runs to record the conflict.
func (s *Service) appendGoverned(ctx context.Context, session Session, settings store.LockSettings, decision GuardDecision, entry store.ActionLogEntry, company *store.Company) (int64, error) {
	baseLogID := int64(-1)
	if decision.Strategy == store.StrategyOptimistic && !decision.Bypassed {
		baseLogID = decision.BaseLogID
	}

	var logID int64
	var err error
	if company != nil {
		logID, err = s.store.AppendActionSaveCompany(ctx, entry, baseLogID, *company)
	} else {
		logID, err = s.store.AppendActionDeleteCompany(ctx, entry, baseLogID)
	}
	if err != nil {
		return 0, err
	}
	if logID == 0 && baseLogID >= 0 {
		if _, err := s.detector.Check(ctx, settings, entry.ResourceKind, entry.ResourceID, locks.CheckRequest{
			BaseLogID: decision.BaseLogID,
			ActorID:   session.UserID,
			ActorName: session.UserName,
		}); err != nil {
			return 0, err
		}
		return 0, domainError(http.StatusConflict, "record_lock_conflict", "Concurrent update detected", nil)
	}
	return logID, nil
}

func settingsPayload(settings store.LockSettings) map[string]any {
	resources := settings.EnabledResources
	if resources == nil {
		resources = []string{}
	}
	return map[string]any{
		"enabled":               settings.Enabled,
		"strategy":              settings.Strategy,
		"timeoutSeconds":        settings.TimeoutSeconds,
		"heartbeatSeconds":      settings.HeartbeatSeconds,
		"enabledResources":      resources,
		"allowForceUnlock":      settings.AllowForceUnlock,
		"allowIncomingOverride": settings.AllowIncomingOverride,
		"notifyOnConflict":      settings.NotifyOnConflict,
	}
}

func lockPayload(lock store.Lock) map[string]any {
	return map[string]any{
		"token":        lock.Token,
		"resourceKind": lock.ResourceKind,
		"resourceId":   lock.ResourceID,
		"ownerUserId":  lock.OwnerID,
		"ownerName":    lock.OwnerName,
		"status":       lock.Status,
		"acquiredAt":   lock.AcquiredAt,
		"expiresAt":    lock.ExpiresAt,
	}
}

func companyPayload(company store.Company) map[string]any {
	return map[string]any{
		"id":        company.ID,
		"name":      company.Name,
		"domain":    company.Domain,
		"notes":     company.Notes,
		"updatedBy": company.UpdatedBy,
		"updatedAt": company.UpdatedAt,
	}
}

func companySnapshot(company store.Company) json.RawMessage {
	snapshot, _ := json.Marshal(map[string]any{
		"name":   company.Name,
		"domain": company.Domain,
		"notes":  company.Notes,
	})
	return snapshot
}

// Ping verifies the backing store is reachable
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
