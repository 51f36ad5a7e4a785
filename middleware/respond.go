package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/erpcore/authgate/autherr"
)

// ErrorBody is the JSON error envelope.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    autherr.Code `json:"code"`
	Message string       `json:"message"`
	// Detail carries the underlying cause in development deployments only.
	Detail string `json:"detail,omitempty"`
}

// WriteJSON writes v with status. Encoding errors are dropped; the header is
// already sent by then.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError renders err as the error envelope with its taxonomy status.
// Anything that is not an *autherr.Error becomes INTERNAL_ERROR. With
// detail set, the cause text is included.
func WriteError(w http.ResponseWriter, err error, detail bool) {
	ae := autherr.From(err)
	if ae == nil {
		ae = autherr.ErrInternal
	}

	body := ErrorBody{Error: ErrorDetail{Code: ae.Code, Message: ae.Message}}
	if detail {
		if cause := ae.Unwrap(); cause != nil {
			body.Error.Detail = cause.Error()
		}
	}
	if ae.Status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="authgate"`)
	}
	WriteJSON(w, ae.Status, body)
}
