// Package validate turns loosely typed request values into a validated
// domain.RouteRequest or rejects them as a whole.
package validate

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"

	"github.com/go-playground/validator/v10"

	"tripplan/internal/domain"
)

// ErrInvalidRequest is matched by every rejection.
var ErrInvalidRequest = errors.New("invalid request")

// FieldError names the first field that made a request invalid.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("invalid request: %s %s", e.Field, e.Reason)
}

func (e *FieldError) Is(target error) bool {
	return target == ErrInvalidRequest
}

var structValidator = newStructValidator()

func newStructValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return f.Tag.Get("json")
	})
	// Registration only fails for empty tags or nil functions.
	_ = v.RegisterValidation("transportmode", func(fl validator.FieldLevel) bool {
		return domain.TransportMode(fl.Field().Int()).Valid()
	})
	return v
}

// Request coerces and checks raw. Checks run in a fixed order and stop at
// the first failure: from, to, depTime, modes.
func Request(raw domain.RawRequest) (domain.RouteRequest, error) {
	from, ok := toInt(raw.From)
	if !ok {
		return domain.RouteRequest{}, &FieldError{Field: "from", Reason: "is not an integer"}
	}
	to, ok := toInt(raw.To)
	if !ok {
		return domain.RouteRequest{}, &FieldError{Field: "to", Reason: "is not an integer"}
	}
	depTime, ok := toInt(raw.DepTime)
	if !ok {
		return domain.RouteRequest{}, &FieldError{Field: "depTime", Reason: "is not an integer"}
	}

	req := domain.RouteRequest{From: from, To: to, DepTime: depTime}
	if err := checkFields(req, "From", "To", "DepTime"); err != nil {
		return domain.RouteRequest{}, err
	}

	if len(raw.Modes) == 0 {
		return domain.RouteRequest{}, &FieldError{Field: "modes", Reason: "is empty"}
	}
	seen := make(map[domain.TransportMode]struct{}, len(raw.Modes))
	for i, value := range raw.Modes {
		id, ok := toInt(value)
		if !ok {
			return domain.RouteRequest{}, &FieldError{Field: fmt.Sprintf("modes[%d]", i), Reason: "is not an integer"}
		}
		if id < math.MinInt32 || id > math.MaxInt32 {
			return domain.RouteRequest{}, &FieldError{Field: fmt.Sprintf("modes[%d]", i), Reason: "is not a transport mode"}
		}
		mode := domain.TransportMode(id)
		if _, dup := seen[mode]; dup {
			continue
		}
		seen[mode] = struct{}{}
		req.Modes = append(req.Modes, mode)
	}

	if err := structValidator.Struct(req); err != nil {
		return domain.RouteRequest{}, firstFieldError(err)
	}
	return req, nil
}

// checkFields runs the struct rules of the named fields only, so scalar
// failures are reported before any mode is looked at.
func checkFields(req domain.RouteRequest, fields ...string) error {
	if err := structValidator.StructPartial(req, fields...); err != nil {
		return firstFieldError(err)
	}
	return nil
}

func firstFieldError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		reason := "fails " + fe.Tag()
		switch fe.Tag() {
		case "gte":
			reason = "is negative"
		case "min":
			reason = "is empty"
		case "transportmode":
			reason = "is not a transport mode"
		}
		return &FieldError{Field: fe.Field(), Reason: reason}
	}
	return &FieldError{Field: "request", Reason: err.Error()}
}

// IsInteger reports whether value holds an integer: an integral number or
// the canonical decimal spelling of one ("12", "-3", but not "012", "1.0",
// "1e3" or " 1").
func IsInteger(value any) bool {
	_, ok := toInt(value)
	return ok
}

func toInt(value any) (int64, bool) {
	switch v := value.(type) {
	case int:
		return int64(v), true
	case int8:
		return int64(v), true
	case int16:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case uint:
		if uint64(v) > math.MaxInt64 {
			return 0, false
		}
		return int64(v), true
	case uint8:
		return int64(v), true
	case uint16:
		return int64(v), true
	case uint32:
		return int64(v), true
	case uint64:
		if v > math.MaxInt64 {
			return 0, false
		}
		return int64(v), true
	case float32:
		return floatToInt(float64(v))
	case float64:
		return floatToInt(v)
	case domain.TransportMode:
		return int64(v), true
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n, true
		}
		f, err := v.Float64()
		if err != nil {
			return 0, false
		}
		return floatToInt(f)
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || strconv.FormatInt(n, 10) != v {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

func floatToInt(f float64) (int64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	if f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}
