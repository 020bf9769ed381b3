package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"mercato/api/internal/auth"
	"mercato/api/internal/locks"
	"mercato/api/internal/rbac"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	log        *logrus.Logger
}

func NewHTTPServer(service *Service, corsOrigin string, log *logrus.Logger) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin, log: log}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}
		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{"status": "error", "error": err.Error()}
		}
		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/login" {
		var body struct {
			Name   string `json:"name"`
			Tenant string `json:"tenant"`
			Role   string `json:"role"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		session, err := s.service.Login(r.Context(), body.Name, body.Tenant, body.Role)
		if err != nil {
			s.respondError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"token":     session.Token,
			"userId":    session.UserID,
			"userName":  session.UserName,
			"tenantId":  session.TenantID,
			"role":      session.Role,
			"expiresAt": session.ExpiresAt.Unix(),
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
			return
		}
		session, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"authenticated": true,
			"userId":        session.UserID,
			"userName":      session.UserName,
			"tenantId":      session.TenantID,
			"role":          session.Role,
		})
		return
	}

	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	if r.URL.Path == "/api/record_locks/settings" {
		s.handleSettings(w, r, session)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/record_locks/acquire" {
		if !rbac.Can(rbac.Role(session.Role), rbac.ActionWrite) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		var body struct {
			ResourceKind string `json:"resourceKind"`
			ResourceID   string `json:"resourceId"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if body.ResourceKind == "" || body.ResourceID == "" {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "resourceKind and resourceId are required", nil)
			return
		}
		payload, err := s.service.Acquire(r.Context(), session, body.ResourceKind, body.ResourceID)
		if err != nil {
			s.respondError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/record_locks/heartbeat" {
		var body struct {
			Token string `json:"token"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.Heartbeat(r.Context(), session, body.Token)
		if err != nil {
			s.respondError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/record_locks/release" {
		var body struct {
			Token  string `json:"token"`
			Reason string `json:"reason"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.Release(r.Context(), session, body.Token, body.Reason)
		if err != nil {
			s.respondError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/record_locks/force-release" {
		var body struct {
			ResourceKind string `json:"resourceKind"`
			ResourceID   string `json:"resourceId"`
			Reason       string `json:"reason"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.ForceRelease(r.Context(), session, body.ResourceKind, body.ResourceID, body.Reason)
		if err != nil {
			s.respondError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/record_locks/status" {
		resourceKind := strings.TrimSpace(r.URL.Query().Get("resourceKind"))
		resourceID := strings.TrimSpace(r.URL.Query().Get("resourceId"))
		if resourceKind == "" || resourceID == "" {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "resourceKind and resourceId are required", nil)
			return
		}
		payload, err := s.service.LockStatus(r.Context(), session, resourceKind, resourceID)
		if err != nil {
			s.respondError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/notifications" {
		payload, err := s.service.ListNotifications(r.Context(), session)
		if err != nil {
			s.respondError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/notifications/actions/execute" {
		var body struct {
			NotificationID string `json:"notificationId"`
			ActionID       string `json:"actionId"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if body.NotificationID == "" || body.ActionID == "" {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "notificationId and actionId are required", nil)
			return
		}
		payload, err := s.service.ExecuteNotificationAction(r.Context(), session, body.NotificationID, body.ActionID)
		if err != nil {
			s.respondError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if r.URL.Path == "/api/companies" {
		switch r.Method {
		case http.MethodGet:
			payload, err := s.service.ListCompanies(r.Context(), session)
			if err != nil {
				s.respondError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
		case http.MethodPost:
			if !rbac.Can(rbac.Role(session.Role), rbac.ActionWrite) {
				writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
				return
			}
			var body CompanyInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.CreateCompany(r.Context(), session, body)
			if err != nil {
				s.respondError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) == 3 && parts[0] == "api" && parts[1] == "companies" {
		s.handleCompany(w, r, session, parts[2])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleSettings(w http.ResponseWriter, r *http.Request, session Session) {
	if r.Method == http.MethodGet {
		payload, err := s.service.Settings(r.Context(), session)
		if err != nil {
			s.respondError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if r.Method == http.MethodPost || r.Method == http.MethodPut {
		var body SettingsInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.UpdateSettings(r.Context(), session, body)
		if err != nil {
			s.respondError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
}

func (s *HTTPServer) handleCompany(w http.ResponseWriter, r *http.Request, session Session, companyID string) {
	if r.Method == http.MethodGet {
		payload, err := s.service.GetCompany(r.Context(), session, companyID)
		if err != nil {
			s.respondError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if r.Method == http.MethodPut {
		if !rbac.Can(rbac.Role(session.Role), rbac.ActionWrite) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		var body CompanyInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.UpdateCompany(r.Context(), session, companyID, body, ParseLockHeaders(r))
		if err != nil {
			s.respondError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if r.Method == http.MethodDelete {
		if !rbac.Can(rbac.Role(session.Role), rbac.ActionWrite) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		payload, err := s.service.DeleteCompany(r.Context(), session, companyID, ParseLockHeaders(r))
		if err != nil {
			s.respondError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Session{}, false
	}
	return session, true
}

// respondError maps domain errors onto the wire. A conflict response carries
// the durable conflict record under a top-level "conflict" key so the client
// can render the resolution dialog from the 409 alone.
func (s *HTTPServer) respondError(w http.ResponseWriter, err error) {
	var conflictErr *locks.ConflictError
	if errors.As(err, &conflictErr) {
		conflict := conflictErr.Conflict
		writeJSON(w, http.StatusConflict, map[string]any{
			"code":  "record_lock_conflict",
			"error": "Record was changed by another user",
			"conflict": map[string]any{
				"conflictId":          conflict.ID,
				"resourceKind":        conflict.ResourceKind,
				"resourceId":          conflict.ResourceID,
				"baseActionLogId":     conflict.BaseActionLogID,
				"incomingActionLogId": conflict.IncomingActionLogID,
				"changedFields":       conflict.ChangedFields,
				"resolutionOptions":   conflict.ResolutionOptions,
			},
		})
		return
	}
	status, code, message, details := mapError(err)
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		s.log.WithFields(logrus.Fields{
			"request_id":  requestID,
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      writer.status,
			"duration_ms": time.Since(started).Milliseconds(),
		}).Info("request")
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, x-om-record-lock-kind, x-om-record-lock-resource-id, x-om-record-lock-token, x-om-record-lock-base-log-id, x-om-record-lock-resolution, x-om-record-lock-conflict-id")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var lockedErr *locks.AlreadyLockedError
	if errors.As(err, &lockedErr) {
		var lockDetails any
		if lockedErr.Lock.OwnerID != "" {
			lockDetails = map[string]any{
				"lockedBy":     lockedErr.Lock.OwnerID,
				"lockedByName": lockedErr.Lock.OwnerName,
				"expiresAt":    lockedErr.Lock.ExpiresAt,
			}
		}
		return http.StatusLocked, "record_locked", "Record is locked by another user", lockDetails
	}
	switch {
	case errors.Is(err, locks.ErrResourceNotGoverned):
		return http.StatusNotFound, "NOT_GOVERNED", "Resource kind is not governed by record locking", nil
	case errors.Is(err, locks.ErrLockNotFound):
		return http.StatusNotFound, "LOCK_NOT_FOUND", "Lock not found", nil
	case errors.Is(err, locks.ErrNotPermitted):
		return http.StatusForbidden, "FORBIDDEN", "Forbidden", nil
	case errors.Is(err, locks.ErrAlreadyActioned):
		return http.StatusConflict, "CONFLICT_ALREADY_ACTIONED", "Conflict was already actioned", nil
	case errors.Is(err, locks.ErrNotActionable):
		return http.StatusConflict, "NOT_ACTIONABLE", "Notification has no executable actions", nil
	case errors.Is(err, locks.ErrRecordDeleted):
		return http.StatusGone, "RECORD_DELETED", "Record was deleted by another user", nil
	case errors.Is(err, locks.ErrInvalidSettings):
		return http.StatusBadRequest, "INVALID_SETTINGS", err.Error(), nil
	case errors.Is(err, locks.ErrInvalidBase):
		return http.StatusBadRequest, "INVALID_BASE_LOG_ID", "baseActionLogId is ahead of the current head", nil
	case errors.Is(err, sql.ErrNoRows):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
