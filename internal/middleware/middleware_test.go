package middleware

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/Windi-Fikriyansyah/consultant_escrow/internal/utils"
)

const secret = "test-secret"

func newApp() *fiber.App {
	app := fiber.New()
	app.Get("/me", JWT(secret), AttachJWTLocals(), func(c *fiber.Ctx) error {
		return c.SendString(UserID(c) + "/" + Role(c))
	})
	app.Get("/consultants/:id", JWT(secret), AttachJWTLocals(), func(c *fiber.Ctx) error {
		id, err := uuid.Parse(c.Params("id"))
		if err != nil || !IsSelf(c, id) {
			return c.SendStatus(fiber.StatusForbidden)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})
	app.Get("/admin", JWT(secret), AttachJWTLocals(), RequireRoles(RoleAdmin), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusNoContent)
	})
	return app
}

func token(t *testing.T, key, uid, role string) string {
	t.Helper()
	tok, err := utils.SignJWT(key, uid, role, 5)
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func TestJWTCookieAndBearer(t *testing.T) {
	t.Parallel()

	app := newApp()
	tok := token(t, secret, "u-1", "Client")

	req := httptest.NewRequest("GET", "/me", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	resp, err := app.Test(req)
	if err != nil || resp.StatusCode != fiber.StatusOK {
		t.Fatalf("bearer: status=%v err=%v", resp.StatusCode, err)
	}

	req = httptest.NewRequest("GET", "/me", nil)
	req.Header.Set("Cookie", TokenCookie+"="+tok)
	resp, err = app.Test(req)
	if err != nil || resp.StatusCode != fiber.StatusOK {
		t.Fatalf("cookie: status=%v err=%v", resp.StatusCode, err)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "u-1/client" {
		t.Fatalf("locals = %q, want u-1/client", body)
	}
}

func TestIsSelf(t *testing.T) {
	t.Parallel()

	app := newApp()
	own := uuid.New()
	cases := []struct {
		name string
		uid  string
		role string
		want int
	}{
		{"own account", own.String(), "consultant", fiber.StatusNoContent},
		{"other consultant", uuid.NewString(), "consultant", fiber.StatusForbidden},
		{"admin is not self", own.String(), "admin", fiber.StatusForbidden},
	}
	for _, tc := range cases {
		req := httptest.NewRequest("GET", "/consultants/"+own.String(), nil)
		req.Header.Set("Authorization", "Bearer "+token(t, secret, tc.uid, tc.role))
		resp, err := app.Test(req)
		if err != nil || resp.StatusCode != tc.want {
			t.Fatalf("%s: status=%v err=%v", tc.name, resp.StatusCode, err)
		}
	}
}

func TestJWTRejects(t *testing.T) {
	t.Parallel()

	app := newApp()
	cases := map[string]string{
		"missing":      "",
		"wrong secret": "Bearer " + token(t, "other", "u-1", "client"),
		"garbage":      "Bearer abc.def.ghi",
		"no uid":       "Bearer " + token(t, secret, "", "client"),
	}
	for name, header := range cases {
		req := httptest.NewRequest("GET", "/me", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		resp, err := app.Test(req)
		if err != nil || resp.StatusCode != fiber.StatusUnauthorized {
			t.Fatalf("%s: status=%v err=%v", name, resp.StatusCode, err)
		}
	}
}

func TestRequireRoles(t *testing.T) {
	t.Parallel()

	app := newApp()
	for role, want := range map[string]int{"admin": fiber.StatusNoContent, "client": fiber.StatusForbidden} {
		req := httptest.NewRequest("GET", "/admin", nil)
		req.Header.Set("Authorization", "Bearer "+token(t, secret, "u-1", role))
		resp, err := app.Test(req)
		if err != nil || resp.StatusCode != want {
			t.Fatalf("%s: status=%v err=%v", role, resp.StatusCode, err)
		}
	}
}
