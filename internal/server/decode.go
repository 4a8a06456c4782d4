package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/oriphim/watcher/internal/verdict"
)

var agentIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:\-]+$`)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("agentid", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		return s == "" || agentIDPattern.MatchString(s)
	})
	return v
}

// errBodyTooLarge is surfaced as 413.
var errBodyTooLarge = errors.New("request body too large")

// decodeRequest reads a bounded JSON body and runs the struct validators.
func (s *Server) decodeRequest(w http.ResponseWriter, r *http.Request) (verdict.Request, error) {
	var req verdict.Request
	if s.cfg.Server.MaxRequestBodySize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Server.MaxRequestBodySize)
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return req, errBodyTooLarge
		}
		if errors.Is(err, io.EOF) {
			return req, errors.New("request body is empty")
		}
		return req, fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := s.validate.Struct(req); err != nil {
		return req, describeValidation(err)
	}
	return req, nil
}

func describeValidation(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "Request.")
		switch fe.Tag() {
		case "required", "required_with":
			msgs = append(msgs, field+" is required")
		case "len":
			msgs = append(msgs, fmt.Sprintf("%s must have exactly %s entries", field, fe.Param()))
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s exceeds max length %s", field, fe.Param()))
		case "agentid":
			msgs = append(msgs, field+" contains invalid characters")
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %q", field, fe.Tag()))
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}
