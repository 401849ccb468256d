// Package validate 在 gin 的 validator 引擎上注册业务校验规则，并统一输出字段错误。
package validate

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"sync"
	"unicode"

	"civicvoice/internal/model"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var registerOnce sync.Once

// Register 向 gin 默认引擎注册自定义规则：
//
//	otp      恰好 6 位数字
//	pwbytes  不超过 bcrypt 可处理的 72 字节
//	strongpw 至少 8 位且同时包含字母和数字
//	service  服务目录中的 slug
//	status   反馈状态枚举
//	priority 反馈优先级枚举
func Register() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(jsonName)
		_ = v.RegisterValidation("otp", func(fl validator.FieldLevel) bool {
			return IsOTP(fl.Field().String())
		})
		_ = v.RegisterValidation("pwbytes", func(fl validator.FieldLevel) bool {
			return FitsBcrypt(fl.Field().String())
		})
		_ = v.RegisterValidation("strongpw", func(fl validator.FieldLevel) bool {
			return IsStrongPassword(fl.Field().String())
		})
		_ = v.RegisterValidation("service", func(fl validator.FieldLevel) bool {
			return model.IsService(fl.Field().String())
		})
		_ = v.RegisterValidation("status", func(fl validator.FieldLevel) bool {
			return model.FeedbackStatus(fl.Field().String()).Valid()
		})
		_ = v.RegisterValidation("priority", func(fl validator.FieldLevel) bool {
			return model.Priority(fl.Field().String()).Valid()
		})
	})
}

func jsonName(f reflect.StructField) string {
	for _, tag := range []string{"json", "form"} {
		name := strings.SplitN(f.Tag.Get(tag), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name != "" {
			return name
		}
	}
	return f.Name
}

// IsOTP 恰好 6 位 ASCII 数字。
func IsOTP(s string) bool {
	if len(s) != 6 {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// MaxPasswordBytes bcrypt 只接受不超过 72 字节的输入。
const MaxPasswordBytes = 72

// FitsBcrypt 判断密码长度（按字节）是否在 bcrypt 限制内。
func FitsBcrypt(s string) bool {
	return len(s) <= MaxPasswordBytes
}

// IsStrongPassword 至少 8 位，含字母和数字。
func IsStrongPassword(s string) bool {
	if len(s) < 8 {
		return false
	}
	var letter, digit bool
	for _, r := range s {
		switch {
		case unicode.IsLetter(r):
			letter = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	return letter && digit
}

// FieldErrors 将 validator 错误转换为 字段 -> 提示 的映射。非校验错误返回 nil。
func FieldErrors(err error) map[string]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		field := fe.Field()
		if _, exists := out[field]; exists {
			continue
		}
		out[field] = message(fe)
	}
	return out
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "min":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("must be at least %s characters", fe.Param())
		}
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("must be at most %s characters", fe.Param())
		}
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "otp":
		return "must be exactly 6 digits"
	case "pwbytes":
		return fmt.Sprintf("must be at most %d bytes", MaxPasswordBytes)
	case "strongpw":
		return "must be at least 8 characters and contain a letter and a digit"
	case "service":
		return "must be one of the listed services"
	case "status":
		return "must be a valid feedback status"
	case "priority":
		return "must be one of low, medium, high, urgent"
	default:
		return "is invalid"
	}
}

// Respond 写出 400。校验错误带 fields，其余（如 JSON 语法错误）只给通用提示。
func Respond(c *gin.Context, err error) {
	fields := FieldErrors(err)
	if fields == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": "validation failed", "fields": fields})
}

// Fail 直接以单个字段错误响应，用于绑定之外的检查（如上传文件）。
func Fail(c *gin.Context, field, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "validation failed", "fields": map[string]string{field: msg}})
}
