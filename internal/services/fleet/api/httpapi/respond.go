package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	apperrors "github.com/louisbranch/motorpool/internal/platform/errors"
	"github.com/louisbranch/motorpool/internal/platform/errors/i18n"
)

const maxBodyBytes = 1 << 20

type errorBody struct {
	Code    apperrors.Code `json:"code"`
	Message string         `json:"message"`
	Field   string         `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError renders err with a message localized from Accept-Language.
// Errors without a domain code are logged and reported as UNKNOWN.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	appErr, ok := apperrors.As(err)
	if !ok {
		appErr = apperrors.Wrap(apperrors.CodeUnknown, "unexpected error", err)
	}
	status := appErr.Code.HTTPStatus()
	if status >= http.StatusInternalServerError {
		log.Printf("request failed method=%s path=%s request_id=%s status=%d err=%v",
			r.Method, r.URL.Path, middleware.GetReqID(r.Context()), status, err)
	}
	catalog := i18n.GetCatalog(i18n.NegotiateLocale(r.Header.Get("Accept-Language")))
	w.Header().Set("Content-Language", catalog.Locale())
	writeJSON(w, status, errorBody{
		Code:    appErr.Code,
		Message: catalog.Format(string(appErr.Code), appErr.Metadata),
		Field:   appErr.Metadata["Field"],
	})
}

func decodeBody(r *http.Request, dst any) error {
	err := decodeOptionalBody(r, dst)
	if errors.Is(err, io.EOF) {
		return invalidArgument("body", "request body is required")
	}
	return err
}

// decodeOptionalBody leaves dst untouched and returns io.EOF when the body is empty.
func decodeOptionalBody(r *http.Request, dst any) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return io.EOF
		}
		return apperrors.WrapWithMetadata(apperrors.CodeInvalidArgument, "decode request body", map[string]string{"Field": "body"}, err)
	}
	return nil
}

func invalidArgument(field, message string) error {
	return apperrors.WithMetadata(apperrors.CodeInvalidArgument, message, map[string]string{"Field": field})
}
