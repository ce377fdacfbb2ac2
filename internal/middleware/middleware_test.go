package middleware

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/wallet-pass-engine/internal/config"
	"github.com/iliyamo/wallet-pass-engine/internal/logs"
	"github.com/iliyamo/wallet-pass-engine/internal/model"
	"github.com/iliyamo/wallet-pass-engine/internal/repository"
	"github.com/iliyamo/wallet-pass-engine/internal/utils"
)

func ok(c echo.Context) error { return c.NoContent(http.StatusOK) }

func serve(h echo.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if err := h(c); err != nil {
		e.HTTPErrorHandler(err, c)
	}
	return rec
}

func TestJWTAuth(t *testing.T) {
	logs.Discard()
	const secret = "s3cret"

	t.Run("Given a valid token When authenticated Then user and role are set", func(t *testing.T) {
		tok, err := utils.NewAccessToken(secret, 42, "MERCHANT", 5)
		if err != nil {
			t.Fatalf("token: %v", err)
		}
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+tok.Token)

		var gotID uint64
		var gotRole any
		rec := serve(JWTAuth(secret)(func(c echo.Context) error {
			gotID, _ = UserID(c)
			gotRole = c.Get("role")
			return ok(c)
		}), req)
		if rec.Code != http.StatusOK || gotID != 42 || gotRole != "MERCHANT" {
			t.Fatalf("code=%d id=%d role=%v", rec.Code, gotID, gotRole)
		}
	})

	t.Run("Given a token signed with another secret When authenticated Then 401", func(t *testing.T) {
		tok, _ := utils.NewAccessToken("other", 42, "MERCHANT", 5)
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+tok.Token)
		if rec := serve(JWTAuth(secret)(ok), req); rec.Code != http.StatusUnauthorized {
			t.Fatalf("code = %d", rec.Code)
		}
	})

	t.Run("Given no header When authenticated Then 401", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if rec := serve(JWTAuth(secret)(ok), req); rec.Code != http.StatusUnauthorized {
			t.Fatalf("code = %d", rec.Code)
		}
	})
}

func TestRequireRole(t *testing.T) {
	h := RequireRole("MERCHANT", "ADMIN")(ok)
	for role, want := range map[string]int{"MERCHANT": http.StatusOK, "ADMIN": http.StatusOK, "CUSTOMER": http.StatusForbidden} {
		e := echo.New()
		rec := httptest.NewRecorder()
		c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
		c.Set("role", role)
		_ = h(c)
		if rec.Code != want {
			t.Errorf("role %s: code = %d, want %d", role, rec.Code, want)
		}
	}
}

func TestParseUserID(t *testing.T) {
	cases := []struct {
		in   any
		want uint64
		ok   bool
	}{
		{"7", 7, true},
		{float64(9), 9, true},
		{"0", 0, false},
		{"abc", 0, false},
		{float64(1.5), 0, false},
		{nil, 0, false},
	}
	for _, tc := range cases {
		got, ok := parseUserID(tc.in)
		if got != tc.want || ok != tc.ok {
			t.Errorf("parseUserID(%v) = %d,%v want %d,%v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestServiceSignature(t *testing.T) {
	logs.Discard()
	const secret = "svc"
	body := `{"fields":{"seat":"1A"}}`

	t.Run("Given a valid signature When verified Then the handler still reads the body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPatch, "/", strings.NewReader(body))
		req.Header.Set(SignatureHeader, utils.SignHex(secret, []byte(body)))
		var seen string
		rec := serve(ServiceSignature(secret)(func(c echo.Context) error {
			b := new(strings.Builder)
			_, _ = io.Copy(b, c.Request().Body)
			seen = b.String()
			return ok(c)
		}), req)
		if rec.Code != http.StatusOK || seen != body {
			t.Fatalf("code=%d body=%q", rec.Code, seen)
		}
	})

	t.Run("Given a tampered body When verified Then 401", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPatch, "/", strings.NewReader(body+" "))
		req.Header.Set(SignatureHeader, utils.SignHex(secret, []byte(body)))
		if rec := serve(ServiceSignature(secret)(ok), req); rec.Code != http.StatusUnauthorized {
			t.Fatalf("code = %d", rec.Code)
		}
	})
}

type linkFinder map[string]*model.ScannerLink

func (f linkFinder) FindScannerLinkByTokenHash(_ context.Context, h string) (*model.ScannerLink, error) {
	if l, ok := f[h]; ok {
		return l, nil
	}
	return nil, repository.ErrNotFound
}

func TestScannerAuth(t *testing.T) {
	logs.Discard()
	link := &model.ScannerLink{ID: 5, UserID: 1, IsActive: true}
	finder := linkFinder{utils.HashToken("scan-token"): link}

	t.Run("Given a known token When authenticated Then the link is available", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.Header.Set("Authorization", "Bearer scan-token")
		var got *model.ScannerLink
		rec := serve(ScannerAuth(finder)(func(c echo.Context) error {
			got, _ = ScannerLink(c)
			return ok(c)
		}), req)
		if rec.Code != http.StatusOK || got == nil || got.ID != 5 {
			t.Fatalf("code=%d link=%+v", rec.Code, got)
		}
	})

	t.Run("Given an unknown token When authenticated Then 401", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.Header.Set("Authorization", "Bearer nope")
		if rec := serve(ScannerAuth(finder)(ok), req); rec.Code != http.StatusUnauthorized {
			t.Fatalf("code = %d", rec.Code)
		}
	})
}

func TestTokenBucket(t *testing.T) {
	logs.Discard()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	cfg := config.RateLimitConfig{
		Enabled: true, Capacity: 2, RefillTokens: 1, RefillInterval: time.Minute,
		TTL: 10 * time.Minute, KeyStrategy: "ip_principal_route", Prefix: "rl",
	}
	e := echo.New()
	e.GET("/limited", ok, NewTokenBucket(cfg, rdb))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/limited", nil))
		codes = append(codes, rec.Code)
		if i == 2 && rec.Header().Get("Retry-After") == "" {
			t.Errorf("blocked response has no Retry-After")
		}
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("codes = %v", codes)
	}
}

func TestRequestIDAndRecoverer(t *testing.T) {
	logs.Discard()
	e := echo.New()
	e.Use(RequestID, Recoverer)
	e.GET("/panic", func(c echo.Context) error { panic("kaboom") })

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/panic", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("code = %d", rec.Code)
	}
	if rec.Header().Get(echo.HeaderXRequestID) == "" {
		t.Error("missing request id header")
	}
}
