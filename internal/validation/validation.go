package validation

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

// phoneNumberRegex 印尼手机号：+62 / 62 / 0 开头，后接 8[1-9] 和 6-10 位数字
var phoneNumberRegex = regexp.MustCompile(`^(?:\+62|62|0)8[1-9][0-9]{6,10}$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// 错误里使用 wire 字段名（package_ids / recipient_id），与表单保持一致
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
	_ = v.RegisterValidation("idphone", func(fl validator.FieldLevel) bool {
		return phoneNumberRegex.MatchString(fl.Field().String())
	})
	return v
}

// Errors 字段 -> 消息。非致命，阻止提交
type Errors map[string]string

func (e Errors) Error() string {
	fields := make([]string, 0, len(e))
	for f := range e {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, f+": "+e[f])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Has 某字段是否有错
func (e Errors) Has(field string) bool {
	_, ok := e[field]
	return ok
}

// Validate 校验表单结构体；通过时返回 nil，否则返回 Errors
func Validate(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	out := make(Errors, len(verrs))
	for _, fe := range verrs {
		field := fieldPath(fe)
		if _, exists := out[field]; exists {
			continue
		}
		out[field] = message(fe)
	}
	return out
}

// fieldPath 去掉顶层结构体名；dive 出来的元素错误归到切片字段上
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		ns = ns[i+1:]
	}
	if i := strings.Index(ns, "["); i >= 0 {
		ns = ns[:i]
	}
	return ns
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("must contain at least %s item(s)", fe.Param())
		}
		return fmt.Sprintf("must have at least %s characters", fe.Param())
	case "max":
		return fmt.Sprintf("must have at most %s characters", fe.Param())
	case "email":
		return "email is not valid"
	case "idphone":
		return "phone number format is not valid"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "uuid":
		return "must be a valid UUID"
	case "url":
		return "must be a valid URL"
	case "gte":
		return "must be at least " + fe.Param()
	default:
		return "is not valid (" + fe.Tag() + ")"
	}
}
