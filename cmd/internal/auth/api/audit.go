package authapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Event is one security-relevant action taken by the auth endpoints.
type Event struct {
	Action    string
	UserID    string
	SessionID string
	IP        net.IP
	UserAgent string
	Meta      map[string]any
}

// Auditor persists audit events. Implementations must not block requests on
// failure; they log and move on.
type Auditor interface {
	Record(ctx context.Context, ev Event)
}

// LogAuditor writes audit events as structured log lines.
type LogAuditor struct {
	Log *slog.Logger
}

func (a LogAuditor) Record(ctx context.Context, ev Event) {
	log := a.Log
	if log == nil {
		log = slog.Default()
	}
	attrs := []any{"audit", true}
	if ev.UserID != "" {
		attrs = append(attrs, "user_id", ev.UserID)
	}
	if ev.SessionID != "" {
		attrs = append(attrs, "session_id", ev.SessionID)
	}
	if ev.IP != nil {
		attrs = append(attrs, "ip", ev.IP.String())
	}
	for k, v := range ev.Meta {
		attrs = append(attrs, k, v)
	}
	log.InfoContext(ctx, ev.Action, attrs...)
}

// PostgresAuditor appends events to <schema>.audit_events and counts recent
// signin failures for the IP throttle.
type PostgresAuditor struct {
	pool  *pgxpool.Pool
	table string
	log   *slog.Logger
}

// NewPostgresAuditor uses the storefront.audit_events table.
func NewPostgresAuditor(pool *pgxpool.Pool, log *slog.Logger) (*PostgresAuditor, error) {
	if pool == nil {
		return nil, errors.New("authapi: nil pool")
	}
	if log == nil {
		log = slog.Default()
	}
	return &PostgresAuditor{
		pool:  pool,
		table: pgx.Identifier{"storefront", "audit_events"}.Sanitize(),
		log:   log,
	}, nil
}

func (a *PostgresAuditor) Record(ctx context.Context, ev Event) {
	action := strings.TrimSpace(ev.Action)
	if action == "" {
		return
	}

	var ipVal any
	if ev.IP != nil {
		ipVal = ev.IP.String()
	}

	var metaVal *string
	if len(ev.Meta) > 0 {
		if b, err := json.Marshal(ev.Meta); err == nil {
			s := string(b)
			metaVal = &s
		}
	}

	_, err := a.pool.Exec(ctx, `
		INSERT INTO `+a.table+` (
			action, user_id, session_id, ip, user_agent, meta, created_at
		) VALUES ($1, $2, $3, $4, $5, $6::jsonb, now())
	`, action, trimOrNil(ev.UserID), trimOrNil(ev.SessionID), ipVal, trimOrNil(ev.UserAgent), metaVal)
	if err != nil {
		a.log.Error("auth.audit.insert.fail", "err", err, "action", action)
	}
}

// CountSigninFailuresByIP implements SigninThrottle.
func (a *PostgresAuditor) CountSigninFailuresByIP(ctx context.Context, ip net.IP, since time.Time) (int, error) {
	if ip == nil {
		return 0, nil
	}
	var n int
	err := a.pool.QueryRow(ctx, `
		SELECT count(*)
		FROM `+a.table+`
		WHERE action = $1
		  AND ip = $2
		  AND created_at >= $3
	`, actionSigninFailed, ip.String(), since).Scan(&n)
	return n, err
}

const (
	actionSigninSuccess     = "auth.signin.success"
	actionSigninFailed      = "auth.signin.failed"
	actionSigninRateLimited = "auth.signin.rate_limited"
	actionSignup            = "auth.signup"
	actionRefreshSuccess    = "auth.refresh.success"
	actionRefreshFailed     = "auth.refresh.failed"
	actionSignout           = "auth.signout"
)

func (h *Handler) auditSigninFailed(ctx context.Context, ip net.IP, ua, reason string) {
	h.audit.Record(ctx, Event{Action: actionSigninFailed, IP: ip, UserAgent: ua, Meta: map[string]any{"reason": reason}})
}

func (h *Handler) auditSigninSuccess(ctx context.Context, userID, sessionID string, ip net.IP, ua string) {
	h.audit.Record(ctx, Event{Action: actionSigninSuccess, UserID: userID, SessionID: sessionID, IP: ip, UserAgent: ua})
}

func (h *Handler) auditSigninRateLimited(ctx context.Context, ip net.IP, ua string, retryAfter time.Duration) {
	h.audit.Record(ctx, Event{Action: actionSigninRateLimited, IP: ip, UserAgent: ua, Meta: map[string]any{
		"retry_after_s": int64(retryAfter.Seconds()),
	}})
}

func (h *Handler) auditSignup(ctx context.Context, userID, sessionID string, ip net.IP, ua string) {
	h.audit.Record(ctx, Event{Action: actionSignup, UserID: userID, SessionID: sessionID, IP: ip, UserAgent: ua})
}

func (h *Handler) auditRefreshSuccess(ctx context.Context, userID, sessionID string, ip net.IP, ua string) {
	h.audit.Record(ctx, Event{Action: actionRefreshSuccess, UserID: userID, SessionID: sessionID, IP: ip, UserAgent: ua})
}

// auditRefreshFailed keeps the failure kind internal; the client only ever
// sees invalid_session.
func (h *Handler) auditRefreshFailed(ctx context.Context, kind string, ip net.IP, ua string) {
	h.audit.Record(ctx, Event{Action: actionRefreshFailed, IP: ip, UserAgent: ua, Meta: map[string]any{"kind": kind}})
}

func (h *Handler) auditSignout(ctx context.Context, ip net.IP, ua string) {
	h.audit.Record(ctx, Event{Action: actionSignout, IP: ip, UserAgent: ua})
}

func trimOrNil(s string) any {
	v := strings.TrimSpace(s)
	if v == "" {
		return nil
	}
	return v
}
