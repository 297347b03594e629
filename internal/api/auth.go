package api

import (
	"net/http"
	"strings"

	"github.com/pquerna/otp/totp"
)

// OTPHeader carries the one-time code for guarded endpoints.
const OTPHeader = "X-OTP"

// requireTOTP rejects requests whose X-OTP header is not a valid code for
// secret. An empty secret disables the guard.
func requireTOTP(secret string, next http.HandlerFunc) http.HandlerFunc {
	if secret == "" {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		code := strings.TrimSpace(r.Header.Get(OTPHeader))
		if code == "" || !totp.Validate(code, secret) {
			writeError(w, http.StatusUnauthorized, "missing or invalid one-time code")
			return
		}
		next(w, r)
	}
}
