package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func adminContext(header string) (*gin.Context, *httptest.ResponseRecorder) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest("POST", "/admin/blacklist", nil)
	if header != "" {
		c.Request.Header.Set(HeaderAdminSecret, header)
	}
	return c, w
}

// --- RequireAdmin() ---

func TestRequireAdmin_DevelopmentOpen(t *testing.T) {
	c, _ := adminContext("")
	c.Request.Header.Set(HeaderOperator, "  kim ")

	RequireAdmin("", true)(c)

	if c.IsAborted() {
		t.Error("Expected open gate to pass in development")
	}
	if !IsAdmin(c) {
		t.Error("Expected request to be marked admin")
	}
	if got := Operator(c, "system"); got != "kim" {
		t.Errorf("Operator = %q, want kim", got)
	}
}

func TestRequireAdmin_UnsetClosed(t *testing.T) {
	c, w := adminContext("anything")

	RequireAdmin("", false)(c)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 when no secret is configured, got %d", w.Code)
	}
}

func TestRequireAdmin_CorrectSecret(t *testing.T) {
	c, _ := adminContext("supersecret123")

	RequireAdmin("supersecret123", false)(c)

	if c.IsAborted() {
		t.Error("Expected correct admin secret to pass")
	}
	if got := Operator(c, "system"); got != "system" {
		t.Errorf("Operator = %q, want fallback", got)
	}
}

func TestRequireAdmin_WrongSecret(t *testing.T) {
	c, w := adminContext("wrongsecret")

	RequireAdmin("supersecret123", true)(c)

	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for wrong secret, got %d", w.Code)
	}
	if IsAdmin(c) {
		t.Error("Rejected request must not be marked admin")
	}
}

func TestRequireAdmin_MissingHeader(t *testing.T) {
	c, w := adminContext("")

	RequireAdmin("supersecret123", true)(c)

	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for missing admin header, got %d", w.Code)
	}
}
