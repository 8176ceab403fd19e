// README: Tests for bearer auth middleware.
package middleware_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"ridesync/internal/http/middleware"
	"ridesync/internal/modules/orderstore"
)

// stubVerifier is a test double for middleware.TokenVerifier.
type stubVerifier struct {
	principal orderstore.Principal
	err       error
	seen      string
}

func (s *stubVerifier) ParseToken(raw string) (orderstore.Principal, error) {
	s.seen = raw
	return s.principal, s.err
}

func newTestRouter(verifier middleware.TokenVerifier) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.Auth(verifier))
	r.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"uid": middleware.CallerID(c), "driver": middleware.CallerIsDriver(c)})
	})
	return r
}

func serve(r *gin.Engine, auth string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuth_Rejects(t *testing.T) {
	cases := []struct {
		name     string
		verifier *stubVerifier
		header   string
	}{
		{"missing header", &stubVerifier{principal: orderstore.Principal{UserID: "u1"}}, ""},
		{"wrong scheme", &stubVerifier{principal: orderstore.Principal{UserID: "u1"}}, "Token abc"},
		{"empty token", &stubVerifier{principal: orderstore.Principal{UserID: "u1"}}, "Bearer  "},
		{"verifier error", &stubVerifier{err: errors.New("bad token")}, "Bearer abc"},
	}
	for _, tc := range cases {
		w := serve(newTestRouter(tc.verifier), tc.header)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s: expected 401, got %d", tc.name, w.Code)
		}
		if !strings.Contains(w.Body.String(), "message") {
			t.Errorf("%s: expected a message body, got %s", tc.name, w.Body.String())
		}
	}
}

func TestAuth_ValidToken_CallerPopulated(t *testing.T) {
	v := &stubVerifier{principal: orderstore.Principal{UserID: "driver123", IsDriver: true}}
	w := serve(newTestRouter(v), "bearer validtoken")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if v.seen != "validtoken" {
		t.Fatalf("verifier saw %q", v.seen)
	}
	body := w.Body.String()
	if !strings.Contains(body, `"uid":"driver123"`) || !strings.Contains(body, `"driver":true`) {
		t.Errorf("unexpected body %s", body)
	}
}

func TestAuth_RiderToken(t *testing.T) {
	v := &stubVerifier{principal: orderstore.Principal{UserID: "rider456"}}
	w := serve(newTestRouter(v), "Bearer t")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"driver":false`) {
		t.Errorf("unexpected response %d %s", w.Code, w.Body.String())
	}
}
