package session_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/agrisentinel/lotchain/internal/session"
	"github.com/gin-gonic/gin"
)

var secret = []byte("0123456789abcdef0123456789abcdef")

func newIssuer(t *testing.T, ttl time.Duration) *session.TokenIssuer {
	t.Helper()
	tokens, err := session.NewTokenIssuer(secret, "lotchain-test", ttl)
	if err != nil {
		t.Fatal(err)
	}
	return tokens
}

func TestDirectory_Authenticate(t *testing.T) {
	acct, err := session.NewAccount("u-1", "Coop@Demo.com", "Coop", session.RoleCooperative, "s3cret-pass")
	if err != nil {
		t.Fatal(err)
	}
	d := session.NewDirectory(acct)

	a, err := d.Authenticate(" coop@demo.com ", "s3cret-pass")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if a.UID != "u-1" || a.Role != session.RoleCooperative {
		t.Errorf("actor = %+v", a)
	}

	if _, err := d.Authenticate("coop@demo.com", "wrong"); !errors.Is(err, session.ErrInvalidCredentials) {
		t.Errorf("wrong password: err = %v", err)
	}
	if _, err := d.Authenticate("nobody@demo.com", "s3cret-pass"); !errors.Is(err, session.ErrInvalidCredentials) {
		t.Errorf("unknown email: err = %v", err)
	}
}

func TestNewAccount_unknownRole(t *testing.T) {
	if _, err := session.NewAccount("u", "x@y.z", "X", "admin", "pw"); err == nil {
		t.Error("expected error for unknown role")
	}
}

func TestDemoAccounts(t *testing.T) {
	accts, err := session.DemoAccounts()
	if err != nil {
		t.Fatal(err)
	}
	d := session.NewDirectory(accts...)
	if d.Len() != 5 {
		t.Fatalf("expected 5 demo accounts, got %d", d.Len())
	}
	a, err := d.Authenticate("planteur@demo.com", session.DemoPassword)
	if err != nil {
		t.Fatal(err)
	}
	if a.Role != session.RolePlanter || a.UID != "demo-planter" {
		t.Errorf("planter demo actor = %+v", a)
	}
}

func TestTokenIssuer_roundTrip(t *testing.T) {
	tokens := newIssuer(t, time.Hour)
	in := session.Actor{UID: "u-9", Name: "Certifier", Role: session.RoleCertifier}

	tok, err := tokens.Issue(in)
	if err != nil {
		t.Fatal(err)
	}
	claims, err := tokens.Verify(tok)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Actor() != in {
		t.Errorf("actor = %+v, want %+v", claims.Actor(), in)
	}
}

func TestTokenIssuer_rejects(t *testing.T) {
	tokens := newIssuer(t, time.Hour)
	tok, _ := tokens.Issue(session.Actor{UID: "u", Role: session.RolePlanter})

	other, err := session.NewTokenIssuer([]byte(strings.Repeat("x", 32)), "lotchain-test", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := other.Verify(tok); err == nil {
		t.Error("token signed with another secret should not verify")
	}

	expired := newIssuer(t, -time.Minute)
	old, _ := expired.Issue(session.Actor{UID: "u", Role: session.RolePlanter})
	if _, err := tokens.Verify(old); err == nil {
		t.Error("expired token should not verify")
	}

	if _, err := tokens.Verify("not-a-jwt"); err == nil {
		t.Error("garbage should not verify")
	}
}

func TestNewTokenIssuer_shortSecret(t *testing.T) {
	if _, err := session.NewTokenIssuer([]byte("short"), "x", 0); err == nil {
		t.Error("expected error for short secret")
	}
}

func TestContext(t *testing.T) {
	if _, ok := session.FromContext(context.Background()); ok {
		t.Error("empty context should carry no actor")
	}
	a := session.Actor{UID: "u", Role: session.RoleNGO}
	got, ok := session.FromContext(session.NewContext(context.Background(), a))
	if !ok || got != a {
		t.Errorf("FromContext = %+v, %v", got, ok)
	}
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tokens := newIssuer(t, time.Hour)

	r := gin.New()
	r.POST("/harvest",
		session.RequireActor(tokens),
		session.RequireRole(session.RolePlanter),
		func(c *gin.Context) {
			a, _ := session.FromContext(c.Request.Context())
			c.JSON(http.StatusOK, gin.H{"uid": a.UID})
		},
	)

	planter, _ := tokens.Issue(session.Actor{UID: "p1", Role: session.RolePlanter})
	coop, _ := tokens.Issue(session.Actor{UID: "c1", Role: session.RoleCooperative})

	cases := []struct {
		name   string
		header string
		want   int
	}{
		{"no token", "", http.StatusUnauthorized},
		{"bad token", "Bearer nope", http.StatusUnauthorized},
		{"wrong role", "Bearer " + coop, http.StatusForbidden},
		{"allowed", "Bearer " + planter, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/harvest", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tc.want {
				t.Errorf("status = %d, want %d (%s)", w.Code, tc.want, w.Body.String())
			}
			if tc.want == http.StatusOK && !strings.Contains(w.Body.String(), `"p1"`) {
				t.Errorf("actor not propagated to request context: %s", w.Body.String())
			}
		})
	}
}
