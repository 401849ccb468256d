package validate

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

type sample struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,strongpw"`
	OTP      string `json:"otp" binding:"required,otp"`
	Service  string `json:"service" binding:"required,service"`
	Priority string `json:"priority" binding:"omitempty,priority"`
	Comment  string `json:"comment" binding:"required,min=10"`
}

func bindAndRespond(t *testing.T, body string) (int, map[string]interface{}) {
	t.Helper()
	Register()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(body))
	c.Request.Header.Set("Content-Type", "application/json")

	var req sample
	if err := c.ShouldBindJSON(&req); err != nil {
		Respond(c, err)
	} else {
		c.Status(http.StatusOK)
	}
	var out map[string]interface{}
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return w.Code, out
}

func TestRules(t *testing.T) {
	cases := []struct {
		in   string
		want bool
		fn   func(string) bool
	}{
		{"123456", true, IsOTP},
		{"12345", false, IsOTP},
		{"12345a", false, IsOTP},
		{"１２３４５６", false, IsOTP},
		{"Secret123", true, IsStrongPassword},
		{"short1", false, IsStrongPassword},
		{"allletters", false, IsStrongPassword},
		{"12345678", false, IsStrongPassword},
		{strings.Repeat("a", 72), true, FitsBcrypt},
		{strings.Repeat("a", 72) + "1234", false, FitsBcrypt},
		{strings.Repeat("é", 37), false, FitsBcrypt},
	}
	for _, tc := range cases {
		if got := tc.fn(tc.in); got != tc.want {
			t.Fatalf("%q: expected %v, got %v", tc.in, tc.want, got)
		}
	}
}

func TestRespond_FieldErrors(t *testing.T) {
	code, out := bindAndRespond(t, `{"email":"nope","password":"abc","otp":"12","service":"spaceport","priority":"asap","comment":"short"}`)
	if code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", code)
	}
	if out["error"] != "validation failed" {
		t.Fatalf("unexpected error %v", out["error"])
	}
	fields, ok := out["fields"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected fields map, got %v", out)
	}
	for _, name := range []string{"email", "password", "otp", "service", "priority", "comment"} {
		if _, ok := fields[name]; !ok {
			t.Fatalf("expected error for %s, got %v", name, fields)
		}
	}
	if fields["comment"] != "must be at least 10 characters" {
		t.Fatalf("unexpected comment message %v", fields["comment"])
	}
}

func TestRespond_Valid(t *testing.T) {
	code, _ := bindAndRespond(t, `{"email":"abel@x.com","password":"Secret123","otp":"123456","service":"health","comment":"queues are too long"}`)
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
}

func TestRespond_MalformedBody(t *testing.T) {
	code, out := bindAndRespond(t, `{"email":`)
	if code != http.StatusBadRequest || out["error"] != "invalid request body" {
		t.Fatalf("unexpected response %d %v", code, out)
	}
	if _, ok := out["fields"]; ok {
		t.Fatalf("malformed body should not report fields")
	}
}
