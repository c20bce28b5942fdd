package api

import (
	"encoding/json"
	"net/http"

	"github.com/cadencehq/cadence/internal/logx"
	"github.com/cadencehq/cadence/internal/services"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// writeError maps service error codes to HTTP statuses. Anything that is not
// a ServiceError is an internal error and its detail stays out of the body.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := "internal"
	message := "internal error"

	if se, ok := services.AsServiceError(err); ok {
		code = string(se.Code)
		message = se.Message
		switch se.Code {
		case services.ErrorInvalid:
			status = http.StatusBadRequest
		case services.ErrorUnauthorized:
			status = http.StatusUnauthorized
		case services.ErrorForbidden:
			status = http.StatusForbidden
		case services.ErrorNotFound:
			status = http.StatusNotFound
		case services.ErrorConflict:
			status = http.StatusConflict
		case services.ErrorGone:
			status = http.StatusGone
		case services.ErrorBadGateway:
			status = http.StatusBadGateway
		default:
			status = http.StatusInternalServerError
		}
	} else {
		logx.Error("api.internal_error", err, nil)
	}

	var body errorBody
	body.Error.Code = code
	body.Error.Message = message
	writeJSON(w, status, body)
}

// decodeBody reads a JSON request body into dst. Unknown fields are
// rejected so typos surface as 400s instead of vanishing.
func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return services.NewInvalidError("malformed JSON body: " + err.Error())
	}
	return nil
}

func methodNotAllowed(w http.ResponseWriter) {
	writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
}
