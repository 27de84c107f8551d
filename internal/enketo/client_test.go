package enketo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, baseURL string, ttl time.Duration) *Client {
	t.Helper()
	c, err := New(Options{
		BaseURL:   baseURL,
		APIToken:  "secret-token",
		Timeout:   5 * time.Second,
		CacheSize: 10,
		CacheTTL:  ttl,
	}, testLogger())
	if err != nil {
		t.Fatalf("New() вернул ошибку: %v", err)
	}
	return c
}

// TestSingleSubmitURL проверяет получение ссылки однократной отправки.
func TestSingleSubmitURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/api/v2/survey/single/once" {
			t.Errorf("запрос %s %s, ожидался GET /api/v2/survey/single/once", r.Method, r.URL.Path)
		}
		if got := r.URL.Query().Get("server_url"); got != "https://ona.io/preview/bob/1" {
			t.Errorf("server_url = %q, ожидался https://ona.io/preview/bob/1", got)
		}
		if got := r.URL.Query().Get("form_id"); got != "tag_team" {
			t.Errorf("form_id = %q, ожидался tag_team", got)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "secret-token" || pass != "" {
			t.Errorf("basic auth = (%q, %q, %v), ожидался (secret-token, \"\")", user, pass, ok)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"single_url": "https://enketo.ona.io/single/::XZqoZ94y", "code": 200}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL+"/", 0)

	link, err := c.SingleSubmitURL(context.Background(), "https://ona.io/preview/bob/1", "tag_team")
	if err != nil {
		t.Fatalf("SingleSubmitURL() вернул ошибку: %v", err)
	}
	if link != "https://enketo.ona.io/single/::XZqoZ94y" {
		t.Errorf("link = %q, ожидался https://enketo.ona.io/single/::XZqoZ94y", link)
	}
}

// TestSingleSubmitURL_UnknownAccount проверяет ошибку Enketo для неизвестного аккаунта.
func TestSingleSubmitURL_UnknownAccount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `{"code": 403, "message": "Quota exceeded or account Milly not found"}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, time.Minute)

	_, err := c.SingleSubmitURL(context.Background(), "https://ona.io/preview/Milly/1", "tag_team")
	if !errors.Is(err, ErrEnketo) {
		t.Fatalf("err = %v, ожидалась ErrEnketo", err)
	}

	var enketoErr *Error
	if !errors.As(err, &enketoErr) {
		t.Fatalf("err = %T, ожидался *Error", err)
	}
	if enketoErr.StatusCode != http.StatusForbidden {
		t.Errorf("StatusCode = %d, ожидался 403", enketoErr.StatusCode)
	}
	if enketoErr.Message != "Quota exceeded or account Milly not found" {
		t.Errorf("Message = %q, ожидалось сообщение Enketo", enketoErr.Message)
	}
}

// TestSingleSubmitURL_NotConfigured проверяет ошибку без сетевого запроса.
func TestSingleSubmitURL_NotConfigured(t *testing.T) {
	c := newTestClient(t, "", time.Minute)

	if c.Configured() {
		t.Fatal("Configured() = true, ожидалось false")
	}
	_, err := c.SingleSubmitURL(context.Background(), "https://ona.io/bob", "tag_team")
	if !errors.Is(err, ErrEnketo) {
		t.Errorf("err = %v, ожидалась ErrEnketo", err)
	}
}

// TestSingleSubmitURL_Unreachable проверяет ошибку транспорта.
func TestSingleSubmitURL_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	baseURL := srv.URL
	srv.Close()

	c := newTestClient(t, baseURL, 0)

	_, err := c.SingleSubmitURL(context.Background(), "https://ona.io/bob", "tag_team")
	if !errors.Is(err, ErrEnketo) {
		t.Fatalf("err = %v, ожидалась ErrEnketo", err)
	}
	var enketoErr *Error
	if errors.As(err, &enketoErr) && enketoErr.StatusCode != 0 {
		t.Errorf("StatusCode = %d, ожидался 0 без ответа", enketoErr.StatusCode)
	}
}

// TestSingleSubmitURL_Unauthorized проверяет сообщение о неверном токене.
func TestSingleSubmitURL_Unauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 0)

	_, err := c.SingleSubmitURL(context.Background(), "https://ona.io/bob", "tag_team")
	var enketoErr *Error
	if !errors.As(err, &enketoErr) {
		t.Fatalf("err = %v, ожидался *Error", err)
	}
	if enketoErr.Message != "неверный API-токен Enketo" {
		t.Errorf("Message = %q, ожидалось сообщение о неверном токене", enketoErr.Message)
	}
}

// TestSingleSubmitURL_MissingField проверяет ответ 200 без ссылки.
func TestSingleSubmitURL_MissingField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"code": 200}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 0)

	if _, err := c.SingleSubmitURL(context.Background(), "https://ona.io/bob", "tag_team"); !errors.Is(err, ErrEnketo) {
		t.Errorf("err = %v, ожидалась ErrEnketo", err)
	}
}

// TestSingleSubmitURL_InvalidJSON проверяет неразбираемый ответ.
func TestSingleSubmitURL_InvalidJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `<html>gateway</html>`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 0)

	if _, err := c.SingleSubmitURL(context.Background(), "https://ona.io/bob", "tag_team"); !errors.Is(err, ErrEnketo) {
		t.Errorf("err = %v, ожидалась ErrEnketo", err)
	}
}

// TestSurveyURL проверяет POST-запрос ссылки на веб-форму.
func TestSurveyURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v2/survey" {
			t.Errorf("запрос %s %s, ожидался POST /api/v2/survey", r.Method, r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm: %v", err)
		}
		if r.PostForm.Get("form_id") != "tutorial" {
			t.Errorf("form_id = %q, ожидался tutorial", r.PostForm.Get("form_id"))
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"url": "https://enketo.ona.io/::abcd", "code": 201}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 0)

	link, err := c.SurveyURL(context.Background(), "https://ona.io/bob", "tutorial")
	if err != nil {
		t.Fatalf("SurveyURL() вернул ошибку: %v", err)
	}
	if link != "https://enketo.ona.io/::abcd" {
		t.Errorf("link = %q, ожидался https://enketo.ona.io/::abcd", link)
	}
}

// TestPreviewURL_Cached проверяет кэширование ссылок.
func TestPreviewURL_Cached(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != "/api/v2/survey/preview" {
			t.Errorf("path = %q, ожидался /api/v2/survey/preview", r.URL.Path)
		}
		_, _ = io.WriteString(w, `{"preview_url": "https://enketo.ona.io/preview/::abcd"}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, time.Minute)
	ctx := context.Background()

	for range 3 {
		link, err := c.PreviewURL(ctx, "https://ona.io/bob", "tutorial")
		if err != nil {
			t.Fatalf("PreviewURL() вернул ошибку: %v", err)
		}
		if link != "https://enketo.ona.io/preview/::abcd" {
			t.Errorf("link = %q", link)
		}
	}
	if calls.Load() != 1 {
		t.Errorf("запросов к Enketo = %d, ожидался 1", calls.Load())
	}

	// Другая форма — отдельный ключ кэша
	if _, err := c.PreviewURL(ctx, "https://ona.io/bob", "other"); err != nil {
		t.Fatalf("PreviewURL(other) вернул ошибку: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("запросов к Enketo = %d, ожидалось 2", calls.Load())
	}
}

// TestSingleSubmitURL_NotCached проверяет, что каждая ссылка однократной
// отправки запрашивается заново даже при включённом кэше.
func TestSingleSubmitURL_NotCached(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		n := calls.Add(1)
		_, _ = fmt.Fprintf(w, `{"single_url": "https://enketo.ona.io/single/::token%d"}`, n)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, time.Minute)
	ctx := context.Background()

	first, err := c.SingleSubmitURL(ctx, "https://ona.io/bob", "tutorial")
	if err != nil {
		t.Fatalf("SingleSubmitURL() вернул ошибку: %v", err)
	}
	second, err := c.SingleSubmitURL(ctx, "https://ona.io/bob", "tutorial")
	if err != nil {
		t.Fatalf("SingleSubmitURL() вернул ошибку: %v", err)
	}

	if calls.Load() != 2 {
		t.Errorf("запросов к Enketo = %d, ожидалось 2", calls.Load())
	}
	if first == second {
		t.Errorf("повторный вызов вернул ту же одноразовую ссылку %q", first)
	}
}

// TestNew_InvalidCACert проверяет ошибку загрузки CA-сертификата.
func TestNew_InvalidCACert(t *testing.T) {
	_, err := New(Options{BaseURL: "https://enketo.ona.io", CACertPath: "/nonexistent/ca.pem"}, testLogger())
	if err == nil {
		t.Error("ожидалась ошибка для несуществующего CA-сертификата")
	}
}
