package authapi

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"
)

// SigninThrottle counts recent signin failures from one address.
type SigninThrottle interface {
	CountSigninFailuresByIP(ctx context.Context, ip net.IP, since time.Time) (int, error)
}

func (h *Handler) checkSigninIPThrottle(ctx context.Context, ip net.IP, now time.Time) (bool, time.Duration, error) {
	if h.throttle == nil || ip == nil || h.cfg.SigninIPMax <= 0 || h.cfg.SigninIPWindow <= 0 {
		return false, 0, nil
	}
	count, err := h.throttle.CountSigninFailuresByIP(ctx, ip, now.Add(-h.cfg.SigninIPWindow))
	if err != nil {
		return false, 0, err
	}
	if count >= h.cfg.SigninIPMax {
		return true, h.cfg.SigninIPWindow, nil
	}
	return false, 0, nil
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	setRetryAfter(w, retryAfter)
	writeError(w, http.StatusTooManyRequests, "rate_limited", "too many attempts")
}

func writeUnavailable(w http.ResponseWriter, retryAfter time.Duration) {
	setRetryAfter(w, retryAfter)
	writeError(w, http.StatusServiceUnavailable, "temporarily_unavailable", "please retry later")
}

func setRetryAfter(w http.ResponseWriter, d time.Duration) {
	if d <= 0 {
		return
	}
	secs := int64(d / time.Second)
	if d%time.Second != 0 {
		secs++
	}
	w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
}
