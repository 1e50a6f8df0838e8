package middleware

import (
	"errors"
	"net/http"

	"supportchat/internal/auth"
	apperrors "supportchat/internal/errors"
	"supportchat/internal/httputil"
	"supportchat/internal/privacy"
	"supportchat/internal/service"
	"supportchat/internal/tracing"

	"github.com/sirupsen/logrus"
)

// StaffAuth requires a valid staff bearer token and stores the staff
// member in the request context
func StaffAuth(verifier auth.Verifier, logger *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := tracing.GetRequestID(r.Context())

			token, err := auth.BearerToken(r.Header.Get("Authorization"))
			if err == nil {
				var staff *auth.Staff
				staff, err = verifier.Verify(token)
				if err == nil {
					logger.WithFields(logrus.Fields{
						service.LogFieldRequestID: requestID,
						service.LogFieldStaffID:   privacy.MaskUserID(staff.ID),
					}).Debug("Staff request authenticated")
					next.ServeHTTP(w, r.WithContext(auth.WithStaff(r.Context(), staff)))
					return
				}
			}

			reason := "invalid token"
			switch {
			case errors.Is(err, auth.ErrMissingToken):
				reason = "missing token"
			case errors.Is(err, auth.ErrExpiredToken):
				reason = "token expired"
			}
			logger.WithFields(logrus.Fields{
				service.LogFieldRequestID: requestID,
				service.LogFieldRemoteIP:  httputil.GetClientIP(r),
				service.LogFieldReason:    reason,
			}).Warn("Staff authentication failed")

			w.Header().Set("WWW-Authenticate", `Bearer realm="supportchat"`)
			_ = httputil.WriteError(w, apperrors.NewAuthError(reason), requestID, "")
		})
	}
}
