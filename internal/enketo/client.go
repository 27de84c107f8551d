// Пакет enketo — HTTP-клиент Enketo API v2.
// Получает ссылки на веб-формы (survey, preview, single submit) для
// сервера сбора данных. Полученные ссылки кэшируются в LRU с TTL.
package enketo

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Пути Enketo API v2.
const (
	surveyPath  = "/api/v2/survey"
	previewPath = "/api/v2/survey/preview"
	singlePath  = "/api/v2/survey/single/once"
)

// Виды ссылок (метка метрики и часть ключа кэша).
const (
	kindSurvey  = "survey"
	kindPreview = "preview"
	kindSingle  = "single"
)

// maxErrorBody — сколько байт тела ответа читается для сообщения об ошибке.
const maxErrorBody = 4096

var requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "fd_enketo_requests_total",
	Help: "Запросы к Enketo API по виду ссылки и результату.",
}, []string{"kind", "result"})

// ErrEnketo — любая ошибка получения ссылки из Enketo.
var ErrEnketo = errors.New("ошибка Enketo")

// Error — ошибка Enketo с HTTP-статусом и сообщением сервиса.
// errors.Is(err, ErrEnketo) истинно для любого *Error.
type Error struct {
	// StatusCode — HTTP-статус ответа Enketo (0 — ответа не было)
	StatusCode int
	// Message — сообщение об ошибке
	Message string
	// Err — исходная ошибка транспорта или декодирования
	Err error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("enketo: статус %d: %s", e.StatusCode, msg)
	}
	return "enketo: " + msg
}

// Is сопоставляет любой *Error с ErrEnketo.
func (e *Error) Is(target error) bool {
	return target == ErrEnketo
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Options — параметры клиента Enketo.
type Options struct {
	// BaseURL — базовый URL Enketo (пустая строка — Enketo не настроен)
	BaseURL string
	// APIToken — API-токен (логин basic auth, пароль пустой)
	APIToken string
	// CACertPath — CA-сертификат для TLS (пустая строка — системный пул)
	CACertPath string
	// Timeout — таймаут HTTP-запросов
	Timeout time.Duration
	// CacheSize — максимальное количество закэшированных ссылок
	CacheSize int
	// CacheTTL — время жизни ссылки в кэше (0 — без кэширования)
	CacheTTL time.Duration
}

// Client — клиент Enketo API v2.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiToken   string //nolint:gosec // G101: поле структуры, не содержит секрет напрямую
	cache      *expirable.LRU[string, string]
	logger     *slog.Logger
}

// New создаёт клиент Enketo.
func New(opts Options, logger *slog.Logger) (*Client, error) {
	transport := &http.Transport{
		MaxIdleConnsPerHost: 10,
	}

	if opts.CACertPath != "" {
		tlsConfig, err := buildTLSConfig(opts.CACertPath)
		if err != nil {
			return nil, fmt.Errorf("загрузка CA-сертификата Enketo: %w", err)
		}
		transport.TLSClientConfig = tlsConfig
		logger.Info("CA-сертификат Enketo добавлен в пул доверия",
			slog.String("ca_cert", opts.CACertPath),
		)
	}

	c := &Client{
		httpClient: &http.Client{Timeout: opts.Timeout, Transport: transport},
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		apiToken:   opts.APIToken,
		logger:     logger.With(slog.String("component", "enketo_client")),
	}

	if opts.CacheTTL > 0 {
		size := opts.CacheSize
		if size <= 0 {
			size = 1000
		}
		c.cache = expirable.NewLRU[string, string](size, nil, opts.CacheTTL)
	}

	return c, nil
}

// Configured сообщает, задан ли URL Enketo.
func (c *Client) Configured() bool {
	return c.baseURL != ""
}

// SurveyURL возвращает ссылку на веб-форму (POST /api/v2/survey → url).
func (c *Client) SurveyURL(ctx context.Context, serverURL, formID string) (string, error) {
	return c.link(ctx, kindSurvey, http.MethodPost, surveyPath, "url", serverURL, formID)
}

// PreviewURL возвращает ссылку предпросмотра (GET /api/v2/survey/preview → preview_url).
func (c *Client) PreviewURL(ctx context.Context, serverURL, formID string) (string, error) {
	return c.link(ctx, kindPreview, http.MethodGet, previewPath, "preview_url", serverURL, formID)
}

// SingleSubmitURL возвращает ссылку однократной отправки
// (GET /api/v2/survey/single/once → single_url).
func (c *Client) SingleSubmitURL(ctx context.Context, serverURL, formID string) (string, error) {
	return c.link(ctx, kindSingle, http.MethodGet, singlePath, "single_url", serverURL, formID)
}

// link выполняет запрос ссылки с учётом кэша.
// Ссылки однократной отправки не кэшируются: Enketo выдаёт новую на каждый запрос.
func (c *Client) link(
	ctx context.Context,
	kind, method, path, field, serverURL, formID string,
) (string, error) {
	if !c.Configured() {
		requestsTotal.WithLabelValues(kind, "not_configured").Inc()
		return "", &Error{Message: "URL Enketo не настроен"}
	}

	cacheable := c.cache != nil && kind != kindSingle
	key := kind + "|" + serverURL + "|" + formID
	if cacheable {
		if cached, ok := c.cache.Get(key); ok {
			requestsTotal.WithLabelValues(kind, "cached").Inc()
			return cached, nil
		}
	}

	link, err := c.request(ctx, method, path, field, serverURL, formID)
	if err != nil {
		requestsTotal.WithLabelValues(kind, "error").Inc()
		c.logger.Warn("Ошибка запроса к Enketo",
			slog.String("kind", kind),
			slog.String("form_id", formID),
			slog.String("error", err.Error()),
		)
		return "", err
	}
	requestsTotal.WithLabelValues(kind, "ok").Inc()

	if cacheable {
		c.cache.Add(key, link)
	}
	return link, nil
}

// request выполняет один запрос к Enketo без повторов.
func (c *Client) request(ctx context.Context, method, path, field, serverURL, formID string) (string, error) {
	params := url.Values{
		"server_url": {serverURL},
		"form_id":    {formID},
	}

	reqURL := c.baseURL + path
	body := io.Reader(http.NoBody)
	if method == http.MethodPost {
		body = strings.NewReader(params.Encode())
	} else {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return "", &Error{Message: "создание запроса", Err: err}
	}
	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(c.apiToken, "")

	resp, err := c.httpClient.Do(req) //nolint:gosec // G704: URL из конфигурации
	if err != nil {
		return "", &Error{Message: "запрос к " + c.baseURL, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return "", &Error{StatusCode: resp.StatusCode, Message: "чтение ответа", Err: err}
	}

	var payload map[string]any
	decodeErr := json.Unmarshal(raw, &payload)

	if !successStatus(method, resp.StatusCode) {
		return "", &Error{StatusCode: resp.StatusCode, Message: errorMessage(resp.StatusCode, payload, raw)}
	}
	if decodeErr != nil {
		return "", &Error{StatusCode: resp.StatusCode, Message: "декодирование ответа", Err: decodeErr}
	}

	link, _ := payload[field].(string)
	if link == "" {
		return "", &Error{StatusCode: resp.StatusCode, Message: fmt.Sprintf("в ответе нет поля %s", field)}
	}
	return link, nil
}

// successStatus — POST /survey возвращает 201 для новой формы, остальные вызовы — 200.
func successStatus(method string, status int) bool {
	if status == http.StatusOK {
		return true
	}
	return method == http.MethodPost && status == http.StatusCreated
}

// errorMessage извлекает сообщение об ошибке из ответа Enketo.
func errorMessage(status int, payload map[string]any, raw []byte) string {
	if status == http.StatusUnauthorized {
		return "неверный API-токен Enketo"
	}
	if msg, ok := payload["message"].(string); ok && msg != "" {
		return msg
	}
	if text := strings.TrimSpace(string(raw)); text != "" {
		return text
	}
	return "HTTP " + strconv.Itoa(status)
}

// buildTLSConfig создаёт TLS-конфигурацию с кастомным CA-сертификатом.
func buildTLSConfig(caCertPath string) (*tls.Config, error) {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, fmt.Errorf("чтение CA-сертификата: %w", err)
	}

	caCertPool, err := x509.SystemCertPool()
	if err != nil {
		caCertPool = x509.NewCertPool()
	}
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("CA-сертификат %s не содержит PEM-блоков", caCertPath)
	}

	return &tls.Config{
		RootCAs:    caCertPool,
		MinVersion: tls.VersionTLS12,
	}, nil
}
