package server

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"kanban/internal/errs"
	"kanban/internal/models"
)

var validatorsOnce sync.Once

// registerValidators adds the cardstatus tag to gin's validator and makes
// field errors report JSON names.
func registerValidators() {
	validatorsOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		_ = v.RegisterValidation("cardstatus", func(fl validator.FieldLevel) bool {
			return models.Status(fl.Field().String()).Valid()
		})
	})
}

// bindJSON decodes and validates the body, translating failures into the
// error taxonomy.
func bindJSON(c *gin.Context, dst any) error {
	err := c.ShouldBindJSON(dst)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		if fe.Tag() == "required" {
			return errs.NewMissingRequiredField(fe.Field())
		}
		return errs.NewInvalidField(fe.Field(), describe(fe))
	}
	return errs.NewMalformedPayload(err)
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "email":
		return "not a valid address"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "cardstatus":
		return fmt.Sprintf("unknown status %q", fe.Value())
	}
	return fmt.Sprintf("failed %s check", fe.Tag())
}
