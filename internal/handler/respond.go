package handler

import (
	"encoding/json"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/oolio-delivery/internal/domain/apperr"
	"github.com/xenking/oolio-delivery/pkg/httpmiddleware"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	httpmiddleware.WriteError(w, code, msg)
}

// fail maps a domain error onto a response. Unclassified errors are logged
// and hidden behind a generic 500.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	switch apperr.Kind(err) {
	case apperr.ErrNotFound:
		writeError(w, http.StatusNotFound, err.Error())
	case apperr.ErrUnavailable:
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case apperr.ErrEmptyOrder, apperr.ErrInvalid:
		writeError(w, http.StatusBadRequest, err.Error())
	case apperr.ErrConflict:
		writeError(w, http.StatusConflict, "concurrent modification, retry the request")
	default:
		zctx.From(r.Context()).Error("Request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func newValidator() *validatorv10.Validate {
	v := validatorv10.New(validatorv10.WithRequiredStructEnabled())
	// Report JSON field names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

type validationBody struct {
	Code    int               `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// bind decodes the JSON body into out and validates it. On failure the 400
// response is already written and bind returns false.
func (h *Handler) bind(w http.ResponseWriter, r *http.Request, out any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	if err := h.validate.Struct(out); err != nil {
		body := validationBody{Code: http.StatusBadRequest, Message: "validation failed"}
		var ve validatorv10.ValidationErrors
		if errors.As(err, &ve) {
			body.Fields = make(map[string]string, len(ve))
			for _, fe := range ve {
				body.Fields[fe.Namespace()] = fe.Tag()
			}
		}
		writeJSON(w, http.StatusBadRequest, body)
		return false
	}
	return true
}

// money renders a decimal as a JSON number with two decimals.
type money decimal.Decimal

func (m money) MarshalJSON() ([]byte, error) {
	return []byte(decimal.Decimal(m).StringFixed(2)), nil
}
