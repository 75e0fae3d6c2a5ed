package middleware

import (
	"fmt"
	"net/http"

	apperrors "github.com/3leaps/gosweep/internal/errors"
	"github.com/3leaps/gosweep/internal/observability"
	gferrors "github.com/fulmenhq/gofulmen/errors"
	"go.uber.org/zap"
)

// ErrorResponse is the JSON body written for recovered failures.
type ErrorResponse = apperrors.HTTPErrorResponse

// Recovery converts panics in downstream handlers into a 500 JSON error.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}

			reqID := apperrors.RequestIDFromContext(r.Context())
			observability.CLILogger.Error("panic in http handler",
				zap.Any("panic", rec),
				zap.String("path", r.URL.Path),
				zap.String("request_id", reqID),
			)

			env := gferrors.NewErrorEnvelope(string(apperrors.KindInternal), fmt.Sprintf("panic: %v", rec)).
				WithCorrelationID(reqID).
				WithPath(r.URL.Path)
			env, _ = env.WithSeverity(gferrors.SeverityCritical)
			writeErrorResponse(w, env, http.StatusInternalServerError)
		}()
		next.ServeHTTP(w, r)
	})
}

// ErrorHandler is an alias of Recovery.
func ErrorHandler(next http.Handler) http.Handler {
	return Recovery(next)
}

func writeErrorResponse(w http.ResponseWriter, envelope *gferrors.ErrorEnvelope, statusCode int) {
	apperrors.WriteHTTPError(w, statusCode, envelope)
}
