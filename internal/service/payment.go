package service

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"
)

// CardDetails — платёжные поля формы; проверяется только формат,
// обращения к платёжной сети нет.
type CardDetails struct {
	CardNumber string `validate:"required,len=16,number"`
	Expiry     string `validate:"required,expiry"`
	CVC        string `validate:"required,len=3,number"`
}

// expiryRegexp — MM/YY, месяц в диапазоне 01..12
var expiryRegexp = regexp.MustCompile(`^(0[1-9]|1[0-2])/[0-9]{2}$`)

var cardValidate = func() *validator.Validate {
	v := validator.New()
	// validator не умеет MM/YY из коробки, регистрируем собственное правило
	if err := v.RegisterValidation("expiry", func(fl validator.FieldLevel) bool {
		return expiryRegexp.MatchString(fl.Field().String())
	}); err != nil {
		panic(err)
	}
	return v
}()

// ValidationError — исправимая пользователем ошибка формата платёжного поля.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ValidateCard — чистая проверка формата платёжных полей: без I/O и побочных эффектов.
// Возвращает nil либо *ValidationError с указанием поля и причины.
func ValidateCard(card CardDetails) error {
	err := cardValidate.Struct(card)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return &ValidationError{
			Field:  cardFieldName(fe.StructField()),
			Reason: cardFieldReason(fe.StructField(), fe.Tag()),
		}
	}
	return err
}

func cardFieldName(structField string) string {
	switch structField {
	case "CardNumber":
		return "cardNumber"
	case "Expiry":
		return "expiry"
	case "CVC":
		return "cvc"
	}
	return structField
}

func cardFieldReason(structField, tag string) string {
	if tag == "required" {
		return "is required"
	}
	switch structField {
	case "CardNumber":
		return "must be exactly 16 digits"
	case "Expiry":
		return "must match MM/YY with month 01-12"
	case "CVC":
		return "must be exactly 3 digits"
	}
	return "is invalid"
}
