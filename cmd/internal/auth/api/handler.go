package authapi

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"storefront/cmd/identity"
	"storefront/cmd/internal/auth/access"
	"storefront/cmd/internal/auth/session"
)

// SigninObserver receives signin outcomes (metrics hook).
type SigninObserver interface {
	SigninOutcome(outcome string)
}

// Deps are the services the endpoints call into.
type Deps struct {
	Users    identity.UserStore
	Verifier *identity.Verifier
	Rotator  *session.Rotator
	Issuer   access.Issuer
}

// Handler wires HTTP auth endpoints to the identity and session services.
type Handler struct {
	log *slog.Logger
	cfg Config

	users    identity.UserStore
	verifier *identity.Verifier
	rotator  *session.Rotator
	issuer   access.Issuer

	audit    Auditor
	throttle SigninThrottle
	signins  SigninObserver
	clock    session.Clock
}

// HandlerOption configures optional auth handler dependencies.
type HandlerOption func(*Handler)

// WithAuditor overrides the default log auditor.
func WithAuditor(a Auditor) HandlerOption {
	return func(h *Handler) {
		if a != nil {
			h.audit = a
		}
	}
}

// WithSigninThrottle enables the per-address signin throttle.
func WithSigninThrottle(t SigninThrottle) HandlerOption {
	return func(h *Handler) {
		if t != nil {
			h.throttle = t
		}
	}
}

// WithSigninObserver installs a signin metrics hook.
func WithSigninObserver(o SigninObserver) HandlerOption {
	return func(h *Handler) {
		if o != nil {
			h.signins = o
		}
	}
}

// WithClock overrides the wall clock (tests).
func WithClock(c session.Clock) HandlerOption {
	return func(h *Handler) {
		if c != nil {
			h.clock = c
		}
	}
}

type nopSigninObserver struct{}

func (nopSigninObserver) SigninOutcome(string) {}

// NewHandler constructs an auth Handler.
func NewHandler(log *slog.Logger, cfg Config, deps Deps, opts ...HandlerOption) (*Handler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Users == nil || deps.Verifier == nil || deps.Rotator == nil || deps.Issuer == nil {
		return nil, errors.New("authapi: users, verifier, rotator and issuer are required")
	}
	if log == nil {
		log = slog.Default()
	}

	h := &Handler{
		log:      log,
		cfg:      cfg,
		users:    deps.Users,
		verifier: deps.Verifier,
		rotator:  deps.Rotator,
		issuer:   deps.Issuer,
		audit:    LogAuditor{Log: log},
		signins:  nopSigninObserver{},
		clock:    session.SystemClock,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(h)
	}
	return h, nil
}

// Register wires auth routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("/auth/signin", h.handleSignin)
	mux.HandleFunc("/auth/signup", h.handleSignup)
	mux.HandleFunc(h.cfg.RefreshPath, h.handleRefresh)
	mux.HandleFunc("/me", h.handleMe)
}

// ---- handlers ----

func (h *Handler) handleSignin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	var req signinRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		h.signins.SigninOutcome("bad_request")
		writeDecodeError(w, err)
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		h.signins.SigninOutcome("bad_request")
		writeError(w, http.StatusBadRequest, "invalid_request", "email and password are required")
		return
	}

	ctx := r.Context()
	ip := clientIP(r, h.cfg.TrustProxy)
	ua := strings.TrimSpace(r.UserAgent())

	if blocked, retryAfter, err := h.checkSigninIPThrottle(ctx, ip, h.clock.Now()); err != nil {
		h.log.Error("auth.signin.throttle_ip.fail", "err", err)
		h.signins.SigninOutcome("unavailable")
		writeUnavailable(w, h.cfg.RetryAfter)
		return
	} else if blocked {
		h.auditSigninRateLimited(ctx, ip, ua, retryAfter)
		h.signins.SigninOutcome("rate_limited")
		writeRateLimited(w, retryAfter)
		return
	}

	user, err := h.verifier.Validate(ctx, req.Email, req.Password)
	if err != nil {
		var locked identity.LockedOutError
		switch {
		case errors.As(err, &locked):
			h.auditSigninRateLimited(ctx, ip, ua, locked.RetryAfter)
			h.signins.SigninOutcome("locked_out")
			writeRateLimited(w, locked.RetryAfter)
		case errors.Is(err, identity.ErrInvalidCredentials):
			h.auditSigninFailed(ctx, ip, ua, "invalid_credentials")
			h.signins.SigninOutcome("invalid_credentials")
			writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid email or password")
		case errors.Is(err, identity.ErrInactive):
			h.auditSigninFailed(ctx, ip, ua, "inactive")
			h.signins.SigninOutcome("inactive")
			writeError(w, http.StatusForbidden, "account_inactive", "account is disabled")
		case errors.Is(err, identity.ErrUnavailable):
			h.log.Error("auth.signin.verify.fail", "err", err)
			h.signins.SigninOutcome("unavailable")
			writeUnavailable(w, h.cfg.RetryAfter)
		default:
			h.log.Error("auth.signin.verify.fail", "err", err)
			h.signins.SigninOutcome("error")
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		}
		return
	}

	issued, ok := h.startSession(w, r, user, req.DeviceID)
	if !ok {
		h.signins.SigninOutcome("error")
		return
	}
	h.auditSigninSuccess(ctx, user.ID, issued.SessionID, ip, ua)
	h.signins.SigninOutcome("ok")

	writeJSON(w, http.StatusOK, signinResponse{User: toUserResponse(user), Session: toSessionResponse(issued)})
}

func (h *Handler) handleSignup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	var req signupRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	ctx := r.Context()
	user, err := h.verifier.Enroll(ctx, req.Email, req.Password, req.FirstName, req.LastName)
	if err != nil {
		switch {
		case identity.IsInvalidInput(err):
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid email, name or password")
		case identity.IsConflict(err):
			writeError(w, http.StatusConflict, "email_taken", "email already registered")
		case errors.Is(err, identity.ErrUnavailable):
			h.log.Error("auth.signup.fail", "err", err)
			writeUnavailable(w, h.cfg.RetryAfter)
		default:
			h.log.Error("auth.signup.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		}
		return
	}

	issued, ok := h.startSession(w, r, user, req.DeviceID)
	if !ok {
		return
	}
	h.auditSignup(ctx, user.ID, issued.SessionID, clientIP(r, h.cfg.TrustProxy), strings.TrimSpace(r.UserAgent()))

	writeJSON(w, http.StatusCreated, signinResponse{User: toUserResponse(user), Session: toSessionResponse(issued)})
}

// handleRefresh serves the cookie path: POST rotates, DELETE signs out.
func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.refresh(w, r)
	case http.MethodDelete:
		h.signout(w, r)
	default:
		methodNotAllowed(w, http.MethodPost, http.MethodDelete)
	}
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ip := clientIP(r, h.cfg.TrustProxy)
	ua := strings.TrimSpace(r.UserAgent())

	issued, err := h.rotator.Refresh(ctx, h.sessionCookieValue(r), h.requestMeta(r, ""))
	if err != nil {
		switch {
		case errors.Is(err, session.ErrStoreUnavailable):
			writeUnavailable(w, h.cfg.RetryAfter)
		default:
			if !errors.Is(err, session.ErrInvalidSession) {
				h.log.Error("auth.refresh.error", "err", err)
			}
			h.auditRefreshFailed(ctx, session.Kind(err), ip, ua)
			h.clearSessionCookie(w)
			writeError(w, http.StatusUnauthorized, "invalid_session", "session is invalid or expired")
		}
		return
	}

	h.auditRefreshSuccess(ctx, issued.UserID, issued.SessionID, ip, ua)
	h.setSessionCookie(w, issued.CookieValue)
	writeJSON(w, http.StatusOK, refreshResponse{Session: toSessionResponse(issued)})
}

func (h *Handler) signout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := h.rotator.Signout(ctx, h.sessionCookieValue(r)); err != nil {
		if errors.Is(err, session.ErrStoreUnavailable) {
			writeUnavailable(w, h.cfg.RetryAfter)
			return
		}
		h.log.Error("auth.signout.error", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.auditSignout(ctx, clientIP(r, h.cfg.TrustProxy), strings.TrimSpace(r.UserAgent()))
	h.clearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// handleMe trusts the access token for identity only; activity is re-read
// from the live store on every call.
func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	u, err := h.users.FindByID(r.Context(), claims.UserID)
	if err != nil {
		if identity.IsNotFound(err) {
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
			return
		}
		h.log.Error("auth.me.fail", "err", err)
		writeUnavailable(w, h.cfg.RetryAfter)
		return
	}
	if !u.IsActive {
		writeError(w, http.StatusForbidden, "account_inactive", "account is disabled")
		return
	}

	writeJSON(w, http.StatusOK, meResponse{User: toUserResponse(u)})
}

// ---- helpers ----

func (h *Handler) startSession(w http.ResponseWriter, r *http.Request, user identity.User, deviceID string) (session.Issued, bool) {
	issued, err := h.rotator.Start(r.Context(), user, h.requestMeta(r, deviceID))
	if err != nil {
		switch {
		case errors.Is(err, session.ErrStoreUnavailable):
			writeUnavailable(w, h.cfg.RetryAfter)
		case errors.Is(err, session.ErrUserInactive):
			writeError(w, http.StatusForbidden, "account_inactive", "account is disabled")
		default:
			h.log.Error("auth.session.start.fail", "err", err, "user_id", user.ID)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		}
		return session.Issued{}, false
	}
	h.setSessionCookie(w, issued.CookieValue)
	return issued, true
}

func (h *Handler) requireAuth(w http.ResponseWriter, r *http.Request) (access.Claims, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return access.Claims{}, false
	}
	claims, err := h.issuer.Verify(token, h.clock.Now())
	if err != nil {
		h.log.Debug("auth.access.verify.fail", "kind", access.KindLabel(err))
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
		return access.Claims{}, false
	}
	return claims, true
}

func (h *Handler) requestMeta(r *http.Request, deviceID string) session.Meta {
	if deviceID == "" {
		deviceID = r.Header.Get("X-Device-ID")
	}
	meta := session.Meta{
		UserAgent: truncate(strings.TrimSpace(r.UserAgent()), 512),
		DeviceID:  truncate(strings.TrimSpace(deviceID), 128),
	}
	if ip := clientIP(r, h.cfg.TrustProxy); ip != nil {
		meta.IP = ip.String()
	}
	return meta
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	w.WriteHeader(http.StatusMethodNotAllowed)
}

func bearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if raw == "" {
		return ""
	}
	parts := strings.SplitN(raw, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func clientIP(r *http.Request, trustProxy bool) net.IP {
	if trustProxy {
		if ip := parseForwardedIP(r.Header.Get("X-Forwarded-For")); ip != nil {
			return ip
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip
		}
	}
	return nil
}

func parseForwardedIP(raw string) net.IP {
	if raw == "" {
		return nil
	}
	for _, p := range strings.Split(raw, ",") {
		if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
			return ip
		}
	}
	return nil
}
