package types

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidInsight wraps every structural validation failure of an Insight.
var ErrInvalidInsight = errors.New("invalid insight")

var (
	validate *validator.Validate
	once     sync.Once
)

func getValidator() *validator.Validate {
	once.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return fld.Name
			}
			return name
		})
	})
	return validate
}

// Validate checks that every required field is present and that the
// sentiment belongs to the fixed enumeration.
func (in Insight) Validate() error {
	if in.ActionItems == nil {
		return fmt.Errorf("%w: action_items is required", ErrInvalidInsight)
	}
	err := getValidator().Struct(in)
	if err == nil {
		if strings.TrimSpace(in.Summary) == "" {
			return fmt.Errorf("%w: summary is required", ErrInvalidInsight)
		}
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidInsight, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		msgs = append(msgs, e.Namespace()+": "+describe(e))
	}
	return fmt.Errorf("%w: %s", ErrInvalidInsight, strings.Join(msgs, "; "))
}

func describe(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "min":
		return "must have at least " + e.Param() + " entries"
	case "oneof":
		return "must be one of: " + e.Param()
	default:
		return "is invalid"
	}
}

// Normalize trims free text, lower-cases the sentiment and drops blank
// list entries while keeping model order. It never fills in missing fields.
func (in Insight) Normalize() Insight {
	out := Insight{
		Summary:     strings.TrimSpace(in.Summary),
		Sentiment:   Sentiment(strings.ToLower(strings.TrimSpace(string(in.Sentiment)))),
		Topics:      compact(in.Topics),
		ActionItems: compact(in.ActionItems),
		Language:    strings.TrimSpace(in.Language),
	}
	return out
}

func (in Insight) Clone() Insight {
	out := in
	out.Topics = append([]string(nil), in.Topics...)
	out.ActionItems = append(make([]string, 0, len(in.ActionItems)), in.ActionItems...)
	return out
}

// compact keeps nil as nil so a missing list is still caught by Validate.
func compact(items []string) []string {
	if items == nil {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s := strings.TrimSpace(it); s != "" {
			out = append(out, s)
		}
	}
	return out
}
