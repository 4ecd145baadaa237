package http

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/logsift/logsift/kit/errors"
)

// errorBody is the wire form of a failed request.
type errorBody struct {
	Code  int    `json:"code"`
	Error string `json:"error"`
}

func statusCode(fault int) int {
	switch fault {
	case errors.FaultBadRequest:
		return http.StatusBadRequest
	case errors.FaultNotAuthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// encodeError writes the fault code and message of err. Internal faults hide
// the message from the client; the log keeps it.
func (h *Handler) encodeError(w http.ResponseWriter, r *http.Request, err error) {
	fault := errors.FaultCode(err)
	msg := errors.ErrorMessage(err)
	if fault == errors.FaultInternal {
		h.log.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("op", errors.ErrorOp(err)),
			zap.Error(err))
		msg = "an internal error has occurred"
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(statusCode(fault))
	json.NewEncoder(w).Encode(errorBody{Code: fault, Error: msg})
}
