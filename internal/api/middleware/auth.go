// auth.go — JWT middleware Form Data Module.
// Проверяет подпись Bearer-токена по JWKS, извлекает claims и определяет
// доступ к данным форм: пользователь с ролью admin/readonly (по группам IdP
// или realm_access.roles) либо сервисный аккаунт со scope forms:read.
package middleware

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	apierrors "github.com/bigkaa/goodk/formdata-module/internal/api/errors"
)

// contextKey — тип для ключей контекста.
type contextKey string

// ContextKeyClaims — извлечённые claims в контексте запроса.
const ContextKeyClaims contextKey = "jwt_claims"

// Роли и scope доступа к данным форм.
const (
	RoleReadonly   = "readonly"
	RoleAdmin      = "admin"
	ScopeFormsRead = "forms:read"
)

// SubjectType — тип субъекта JWT.
type SubjectType string

const (
	SubjectTypeUser SubjectType = "user"
	SubjectTypeSA   SubjectType = "service_account"
)

// AuthClaims — claims субъекта, помещаемые в контекст запроса.
type AuthClaims struct {
	Subject           string
	SubjectType       SubjectType
	PreferredUsername string
	// Role — admin, readonly или пустая строка (только для пользователей)
	Role string
	// Scopes — scopes сервисного аккаунта
	Scopes   []string
	ClientID string
}

// CanReadForms сообщает, разрешено ли субъекту читать данные форм.
func (c *AuthClaims) CanReadForms() bool {
	switch c.SubjectType {
	case SubjectTypeUser:
		return c.Role == RoleAdmin || c.Role == RoleReadonly
	case SubjectTypeSA:
		return slices.Contains(c.Scopes, ScopeFormsRead)
	}
	return false
}

// tokenClaims — raw claims JWT от IdP.
type tokenClaims struct {
	jwt.RegisteredClaims
	PreferredUsername string   `json:"preferred_username"`
	Groups            []string `json:"groups,omitempty"`
	Scope             string   `json:"scope,omitempty"`
	ClientID          string   `json:"client_id,omitempty"`
	RealmAccess       *struct {
		Roles []string `json:"roles"`
	} `json:"realm_access,omitempty"`
}

// AuthOptions — параметры проверки токенов.
type AuthOptions struct {
	// Issuer — ожидаемый iss (пустая строка — не проверяется)
	Issuer         string
	AdminGroups    []string
	ReadonlyGroups []string
	Leeway         time.Duration
}

// JWTAuth — middleware JWT-аутентификации.
type JWTAuth struct {
	jwks   keyfunc.Keyfunc
	opts   AuthOptions
	logger *slog.Logger
}

// NewJWTAuth создаёт middleware с JWKS, загружаемым по jwksURL с фоновым обновлением.
// caCertPath — опциональный CA-сертификат для TLS к JWKS endpoint.
func NewJWTAuth(
	jwksURL, caCertPath string,
	clientTimeout, refreshInterval time.Duration,
	opts AuthOptions,
	logger *slog.Logger,
) (*JWTAuth, error) {
	httpClient, err := httpClientWithCA(caCertPath, clientTimeout)
	if err != nil {
		return nil, fmt.Errorf("загрузка CA-сертификата %s: %w", caCertPath, err)
	}

	// NoErrorReturnFirstHTTPReq — стартуем даже если IdP ещё недоступен.
	storage, err := jwkset.NewStorageFromHTTP(jwksURL, jwkset.HTTPClientStorageOptions{
		Client:                    httpClient,
		NoErrorReturnFirstHTTPReq: true,
		RefreshInterval:           refreshInterval,
		RefreshErrorHandler: func(_ context.Context, err error) {
			logger.Error("Ошибка обновления JWKS",
				slog.String("error", err.Error()),
				slog.String("url", jwksURL),
			)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("создание JWKS storage: %w", err)
	}

	k, err := keyfunc.New(keyfunc.Options{Storage: storage})
	if err != nil {
		return nil, fmt.Errorf("создание keyfunc: %w", err)
	}

	return NewJWTAuthWithKeyfunc(k, opts, logger), nil
}

// NewJWTAuthWithKeyfunc создаёт middleware с готовой keyfunc.
// Используется в тестах для подстановки JWKS.
func NewJWTAuthWithKeyfunc(k keyfunc.Keyfunc, opts AuthOptions, logger *slog.Logger) *JWTAuth {
	return &JWTAuth{
		jwks:   k,
		opts:   opts,
		logger: logger.With(slog.String("component", "jwt_auth")),
	}
}

// Middleware проверяет Bearer-токен (RS256, exp обязателен) и кладёт
// AuthClaims в контекст. Субъект без прав на чтение форм получает 403.
func (j *JWTAuth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, msg := bearerToken(r)
			if msg != "" {
				apierrors.Unauthorized(w, msg)
				return
			}

			raw := &tokenClaims{}
			parserOpts := []jwt.ParserOption{
				jwt.WithValidMethods([]string{"RS256"}),
				jwt.WithExpirationRequired(),
				jwt.WithLeeway(j.opts.Leeway),
			}
			if j.opts.Issuer != "" {
				parserOpts = append(parserOpts, jwt.WithIssuer(j.opts.Issuer))
			}

			if _, err := jwt.ParseWithClaims(tokenString, raw, j.jwks.KeyfuncCtx(r.Context()), parserOpts...); err != nil {
				j.logger.Debug("JWT валидация не пройдена",
					slog.String("error", err.Error()),
					slog.String("remote_addr", r.RemoteAddr),
				)
				apierrors.Unauthorized(w, "Невалидный или просроченный токен")
				return
			}
			if raw.Subject == "" {
				apierrors.Unauthorized(w, "Отсутствует sub в токене")
				return
			}

			claims := j.buildClaims(raw)
			if !claims.CanReadForms() {
				apierrors.Forbidden(w, fmt.Sprintf(
					"Недостаточно прав: требуется роль %s или %s либо scope %s",
					RoleAdmin, RoleReadonly, ScopeFormsRead,
				))
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeyClaims, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken извлекает токен из Authorization. Непустой msg — причина отказа.
func bearerToken(r *http.Request) (token, msg string) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", "Отсутствует заголовок Authorization"
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", "Неверный формат Authorization: ожидается Bearer <token>"
	}
	if token = strings.TrimSpace(token); token == "" {
		return "", "Пустой Bearer token"
	}
	return token, ""
}

// buildClaims определяет тип субъекта: сервисный аккаунт имеет client_id и scope.
func (j *JWTAuth) buildClaims(raw *tokenClaims) *AuthClaims {
	claims := &AuthClaims{
		Subject:           raw.Subject,
		PreferredUsername: raw.PreferredUsername,
	}

	if raw.ClientID != "" && raw.Scope != "" {
		claims.SubjectType = SubjectTypeSA
		claims.ClientID = raw.ClientID
		claims.Scopes = strings.Fields(raw.Scope)
		return claims
	}

	claims.SubjectType = SubjectTypeUser
	claims.Role = roleFromGroups(raw.Groups, j.opts.AdminGroups, j.opts.ReadonlyGroups)
	if claims.Role == "" && raw.RealmAccess != nil {
		claims.Role = roleFromGroups(raw.RealmAccess.Roles, []string{RoleAdmin}, []string{RoleReadonly})
	}
	return claims
}

// roleFromGroups возвращает старшую роль: admin важнее readonly.
func roleFromGroups(groups, adminGroups, readonlyGroups []string) string {
	role := ""
	for _, g := range groups {
		if slices.Contains(adminGroups, g) {
			return RoleAdmin
		}
		if slices.Contains(readonlyGroups, g) {
			role = RoleReadonly
		}
	}
	return role
}

// ClaimsFromContext извлекает AuthClaims из контекста запроса (nil — нет claims).
func ClaimsFromContext(ctx context.Context) *AuthClaims {
	claims, _ := ctx.Value(ContextKeyClaims).(*AuthClaims)
	return claims
}

// httpClientWithCA создаёт HTTP-клиент; при непустом caCertPath — с дополнительным CA.
func httpClientWithCA(caCertPath string, timeout time.Duration) (*http.Client, error) {
	client := &http.Client{Timeout: timeout}
	if caCertPath == "" {
		return client, nil
	}

	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, err
	}
	pool, err := x509.SystemCertPool()
	if err != nil {
		pool = x509.NewCertPool()
	}
	pool.AppendCertsFromPEM(caCert)

	client.Transport = &http.Transport{
		TLSClientConfig: &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12},
	}
	return client, nil
}

// --- Readiness JWKS ---

// JWKSReadinessChecker — проверка доступности JWKS endpoint IdP.
type JWKSReadinessChecker struct {
	jwksURL string
	client  *http.Client
}

// NewJWKSReadinessChecker создаёт checker доступности JWKS.
func NewJWKSReadinessChecker(jwksURL, caCertPath string, timeout time.Duration) (*JWKSReadinessChecker, error) {
	client, err := httpClientWithCA(caCertPath, timeout)
	if err != nil {
		return nil, fmt.Errorf("загрузка CA для readiness checker: %w", err)
	}
	return &JWKSReadinessChecker{jwksURL: jwksURL, client: client}, nil
}

// CheckReady проверяет, что JWKS отдаёт хотя бы один ключ.
func (k *JWKSReadinessChecker) CheckReady() (status, message string) {
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, k.jwksURL, http.NoBody)
	if err != nil {
		return "fail", "ошибка создания запроса: " + err.Error()
	}
	resp, err := k.client.Do(req) //nolint:gosec // G704: URL из конфигурации
	if err != nil {
		return "fail", fmt.Sprintf("JWKS недоступен: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "fail", fmt.Sprintf("JWKS вернул статус %d", resp.StatusCode)
	}

	var set struct {
		Keys []json.RawMessage `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return "degraded", fmt.Sprintf("JWKS: невалидный JSON: %v", err)
	}
	if len(set.Keys) == 0 {
		return "degraded", "JWKS: нет ключей"
	}
	return "ok", fmt.Sprintf("JWKS доступен, ключей: %d", len(set.Keys))
}
