package calendar

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"

	"schoolcal/internal/model"
)

// custom validation tags
const (
	rruleTag     = "rrule"
	knownRoleTag = "knownrole"
	nonEmptyTag  = "nonempty"
)

// ValidationError is the single form error reported for rejected input.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"error"`
}

func (e *ValidationError) Error() string {
	return e.Message
}

// IsValidationError reports whether err is (or wraps) a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Validator checks event input before it is stored.
type Validator struct {
	validate   *validator.Validate
	translator ut.Translator
}

var (
	defaultValidator     *Validator
	defaultValidatorOnce sync.Once
)

// ValidateEventData checks candidate event fields with the shared
// validator. It returns nil or a *ValidationError naming the first
// failing field.
func ValidateEventData(in model.EventInput) error {
	defaultValidatorOnce.Do(func() {
		defaultValidator = NewValidator()
	})
	return defaultValidator.ValidateEvent(in)
}

// NewValidator instantiates a validator with English messages.
func NewValidator() *Validator {
	enLocale := en.New()
	uni := ut.New(enLocale, enLocale)
	trans, _ := uni.GetTranslator("en")

	validate := validator.New(validator.WithRequiredStructEnabled())
	_ = en_translations.RegisterDefaultTranslations(validate, trans)

	// Messages use the label tag, e.g. "Start date is required".
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		if label := fld.Tag.Get("label"); label != "" {
			return label
		}
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = validate.RegisterValidation(rruleTag, rruleValidation)
	_ = validate.RegisterValidation(knownRoleTag, knownRoleValidation)
	_ = validate.RegisterValidation(nonEmptyTag, nonEmptyValidation)

	registerTranslation(validate, trans, "required", "{0} is required", true,
		func(fe validator.FieldError) []string { return []string{fe.Field()} })
	registerTranslation(validate, trans, "gtefield", "{0} must be after {1}", true,
		func(fe validator.FieldError) []string {
			return []string{fe.Field(), strings.ToLower(inputLabel(fe.Param()))}
		})
	registerTranslation(validate, trans, nonEmptyTag, "At least one {0} must be selected", false,
		func(fe validator.FieldError) []string { return []string{fe.Field()} })
	registerTranslation(validate, trans, knownRoleTag, "Unknown role: {0}", false,
		func(fe validator.FieldError) []string { return []string{fmt.Sprint(fe.Value())} })
	registerTranslation(validate, trans, rruleTag, "Invalid recurrence pattern", false,
		func(validator.FieldError) []string { return nil })

	return &Validator{validate: validate, translator: trans}
}

// ValidateEvent validates in without modifying it. Leading and trailing
// whitespace does not count as content.
func (v *Validator) ValidateEvent(in model.EventInput) error {
	in.Title = strings.TrimSpace(in.Title)
	in.CategoryID = strings.TrimSpace(in.CategoryID)
	in.RecurrenceRule = strings.TrimSpace(in.RecurrenceRule)

	err := v.validate.Struct(in)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	return &ValidationError{
		Field:   inputJSONName(fe.StructField()),
		Message: fe.Translate(v.translator),
	}
}

func registerTranslation(
	validate *validator.Validate,
	trans ut.Translator,
	tag, text string,
	override bool,
	params func(fe validator.FieldError) []string,
) {
	_ = validate.RegisterTranslation(
		tag, trans,
		func(t ut.Translator) error { return t.Add(tag, text, override) },
		func(t ut.Translator, fe validator.FieldError) string {
			s, _ := t.T(tag, params(fe)...)
			return s
		},
	)
}

// Custom Validators

func rruleValidation(fl validator.FieldLevel) bool {
	_, err := ParseRule(fl.Field().String())
	return err == nil
}

func knownRoleValidation(fl validator.FieldLevel) bool {
	return model.IsKnownRole(fl.Field().String())
}

func nonEmptyValidation(fl validator.FieldLevel) bool {
	switch fl.Field().Kind() {
	case reflect.Slice, reflect.Map, reflect.Array, reflect.String:
		return fl.Field().Len() > 0
	default:
		return false
	}
}

var inputType = reflect.TypeOf(model.EventInput{})

func inputLabel(structField string) string {
	if f, ok := inputType.FieldByName(structField); ok {
		if label := f.Tag.Get("label"); label != "" {
			return label
		}
	}
	return structField
}

// inputJSONName maps "VisibleToRoles[0]" to "visibleToRoles".
func inputJSONName(structField string) string {
	name, _, _ := strings.Cut(structField, "[")
	if f, ok := inputType.FieldByName(name); ok {
		if j := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]; j != "" && j != "-" {
			return j
		}
	}
	return name
}
