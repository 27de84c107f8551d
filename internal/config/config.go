// Пакет config — загрузка и валидация конфигурации Form Data Module
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации Form Data Module.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера (по умолчанию 8040)
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- HTTP Server Timeouts ---

	// Таймаут чтения HTTP-сервера (по умолчанию 30s)
	HTTPReadTimeout time.Duration
	// Таймаут записи HTTP-сервера (по умолчанию 60s)
	HTTPWriteTimeout time.Duration
	// Таймаут простоя HTTP-сервера (по умолчанию 120s)
	HTTPIdleTimeout time.Duration

	// --- Graceful shutdown ---

	// Таймаут graceful shutdown (по умолчанию 5s)
	ShutdownTimeout time.Duration

	// --- PostgreSQL ---

	// Движок БД. Построитель запросов поддерживает только postgres.
	DBEngine string
	// Хост PostgreSQL
	DBHost string
	// Порт PostgreSQL (по умолчанию 5432)
	DBPort int
	// Имя базы данных
	DBName string
	// Пользователь
	DBUser string
	// Пароль
	DBPassword string
	// Режим SSL (disable, require, verify-ca, verify-full)
	DBSSLMode string
	// Применять ли миграции при старте (по умолчанию true)
	DBMigrate bool

	// --- URL форм ---

	// Хост по умолчанию, если в запросе нет заголовка Host
	DefaultHost string
	// Тестовый режим: хост и username берутся из TestHTTPHost/TestUsername
	TestingMode bool
	// Хост для тестового режима
	TestHTTPHost string
	// Username для тестового режима
	TestUsername string

	// --- Enketo ---

	// Базовый URL Enketo (пустая строка — Enketo не настроен)
	EnketoURL string
	// API-токен Enketo (basic auth username)
	EnketoAPIToken string
	// Протокол server_url, передаваемого в Enketo (по умолчанию https)
	EnketoProtocol string
	// Таймаут HTTP-запросов к Enketo (по умолчанию 10s)
	EnketoTimeout time.Duration
	// Путь к CA-сертификату Enketo (опционально)
	EnketoCACertPath string
	// TTL кэша URL Enketo (по умолчанию 10m)
	EnketoCacheTTL time.Duration
	// Путь health endpoint Enketo для topologymetrics
	EnketoHealthPath string

	// --- Кэш форм ---

	// Максимальное количество форм в LRU-кэше (по умолчанию 1000)
	CacheMaxSize int
	// TTL записи кэша (по умолчанию 5m)
	CacheTTL time.Duration

	// --- JWT (опционально) ---

	// URL JWKS endpoint (пустая строка — аутентификация отключена)
	JWTJWKSURL string
	// Ожидаемый issuer JWT
	JWTIssuer string
	// Путь к CA-сертификату JWKS
	JWTCACertPath string
	// Таймаут HTTP-клиента JWKS (по умолчанию 10s)
	JWKSClientTimeout time.Duration
	// Интервал обновления JWKS (по умолчанию 15s)
	JWKSRefreshInterval time.Duration
	// Допустимое отклонение времени при проверке JWT (по умолчанию 5s)
	JWTLeeway time.Duration
	// Группы IdP, дающие роль admin
	RoleAdminGroups []string
	// Группы IdP, дающие роль readonly
	RoleReadonlyGroups []string

	// --- CORS ---

	// Разрешённые Origin (пусто — CORS middleware не подключается)
	CORSAllowedOrigins []string

	// --- topologymetrics ---

	// Группа в метриках зависимостей
	DephealthGroup string
	// Интервал проверки зависимостей (по умолчанию 15s)
	DephealthCheckInterval time.Duration
	// Лейбл isentry=yes для всех зависимостей
	DephealthIsEntry bool
}

// Load загружает конфигурацию из переменных окружения.
// Возвращает ошибку, если обязательные переменные не заданы
// или значения некорректны.
//
//nolint:funlen,cyclop // линейная загрузка всех параметров
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	// FD_PORT — порт HTTP-сервера (по умолчанию 8040)
	cfg.Port, err = getEnvInt("FD_PORT", 8040)
	if err != nil {
		return nil, fmt.Errorf("FD_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("FD_PORT: порт вне диапазона 1-65535: %d", cfg.Port)
	}

	// FD_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("FD_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("FD_LOG_LEVEL: %w", err)
	}

	// FD_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("FD_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("FD_LOG_FORMAT: недопустимый формат %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- HTTP Server Timeouts ---

	if cfg.HTTPReadTimeout, err = getEnvDuration("FD_HTTP_READ_TIMEOUT", 30*time.Second); err != nil {
		return nil, fmt.Errorf("FD_HTTP_READ_TIMEOUT: %w", err)
	}
	if cfg.HTTPWriteTimeout, err = getEnvDuration("FD_HTTP_WRITE_TIMEOUT", 60*time.Second); err != nil {
		return nil, fmt.Errorf("FD_HTTP_WRITE_TIMEOUT: %w", err)
	}
	if cfg.HTTPIdleTimeout, err = getEnvDuration("FD_HTTP_IDLE_TIMEOUT", 120*time.Second); err != nil {
		return nil, fmt.Errorf("FD_HTTP_IDLE_TIMEOUT: %w", err)
	}
	if cfg.ShutdownTimeout, err = getEnvDuration("FD_SHUTDOWN_TIMEOUT", 5*time.Second); err != nil {
		return nil, fmt.Errorf("FD_SHUTDOWN_TIMEOUT: %w", err)
	}

	// --- PostgreSQL ---

	// FD_DB_ENGINE — движок БД (по умолчанию postgres).
	// Другие значения допускаются, но построитель запросов вернёт ошибку.
	cfg.DBEngine = strings.ToLower(getEnvDefault("FD_DB_ENGINE", "postgres"))

	if cfg.DBHost, err = getEnvRequired("FD_DB_HOST"); err != nil {
		return nil, err
	}
	if cfg.DBPort, err = getEnvInt("FD_DB_PORT", 5432); err != nil {
		return nil, fmt.Errorf("FD_DB_PORT: %w", err)
	}
	if cfg.DBName, err = getEnvRequired("FD_DB_NAME"); err != nil {
		return nil, err
	}
	if cfg.DBUser, err = getEnvRequired("FD_DB_USER"); err != nil {
		return nil, err
	}
	if cfg.DBPassword, err = getEnvRequired("FD_DB_PASSWORD"); err != nil {
		return nil, err
	}

	// FD_DB_SSL_MODE — режим SSL (по умолчанию disable)
	cfg.DBSSLMode = getEnvDefault("FD_DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return nil, fmt.Errorf("FD_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}

	if cfg.DBMigrate, err = getEnvBool("FD_DB_MIGRATE", true); err != nil {
		return nil, fmt.Errorf("FD_DB_MIGRATE: %w", err)
	}

	// --- URL форм ---

	cfg.DefaultHost = getEnvDefault("FD_DEFAULT_HOST", "ona.io")
	if cfg.TestingMode, err = getEnvBool("FD_TESTING_MODE", false); err != nil {
		return nil, fmt.Errorf("FD_TESTING_MODE: %w", err)
	}
	cfg.TestHTTPHost = getEnvDefault("FD_TEST_HTTP_HOST", "testserver.com")
	cfg.TestUsername = getEnvDefault("FD_TEST_USERNAME", "bob")

	// --- Enketo ---

	cfg.EnketoURL = strings.TrimRight(os.Getenv("FD_ENKETO_URL"), "/")
	if cfg.EnketoURL != "" {
		if err := validateURL(cfg.EnketoURL); err != nil {
			return nil, fmt.Errorf("FD_ENKETO_URL: %w", err)
		}
	}
	cfg.EnketoAPIToken = os.Getenv("FD_ENKETO_API_TOKEN")
	cfg.EnketoProtocol = getEnvDefault("FD_ENKETO_PROTOCOL", "https")
	if cfg.EnketoProtocol != "http" && cfg.EnketoProtocol != "https" {
		return nil, fmt.Errorf("FD_ENKETO_PROTOCOL: недопустимый протокол %q, допустимые: http, https", cfg.EnketoProtocol)
	}
	if cfg.EnketoTimeout, err = getEnvDurationPositive("FD_ENKETO_TIMEOUT", 10*time.Second); err != nil {
		return nil, fmt.Errorf("FD_ENKETO_TIMEOUT: %w", err)
	}
	cfg.EnketoCACertPath = os.Getenv("FD_ENKETO_CA_CERT_PATH")
	if cfg.EnketoCacheTTL, err = getEnvDurationPositive("FD_ENKETO_CACHE_TTL", 10*time.Minute); err != nil {
		return nil, fmt.Errorf("FD_ENKETO_CACHE_TTL: %w", err)
	}
	cfg.EnketoHealthPath = getEnvDefault("FD_ENKETO_HEALTH_PATH", "/")

	// --- Кэш форм ---

	if cfg.CacheMaxSize, err = getEnvInt("FD_CACHE_MAX_SIZE", 1000); err != nil {
		return nil, fmt.Errorf("FD_CACHE_MAX_SIZE: %w", err)
	}
	if cfg.CacheMaxSize < 1 {
		return nil, fmt.Errorf("FD_CACHE_MAX_SIZE: значение должно быть > 0")
	}
	if cfg.CacheTTL, err = getEnvDurationPositive("FD_CACHE_TTL", 5*time.Minute); err != nil {
		return nil, fmt.Errorf("FD_CACHE_TTL: %w", err)
	}

	// --- JWT ---

	cfg.JWTJWKSURL = os.Getenv("FD_JWT_JWKS_URL")
	if cfg.JWTJWKSURL != "" {
		if err := validateURL(cfg.JWTJWKSURL); err != nil {
			return nil, fmt.Errorf("FD_JWT_JWKS_URL: %w", err)
		}
	}
	cfg.JWTIssuer = os.Getenv("FD_JWT_ISSUER")
	cfg.JWTCACertPath = os.Getenv("FD_JWT_CA_CERT_PATH")
	if cfg.JWKSClientTimeout, err = getEnvDurationPositive("FD_JWKS_CLIENT_TIMEOUT", 10*time.Second); err != nil {
		return nil, fmt.Errorf("FD_JWKS_CLIENT_TIMEOUT: %w", err)
	}
	if cfg.JWKSRefreshInterval, err = getEnvDurationPositive("FD_JWKS_REFRESH_INTERVAL", 15*time.Second); err != nil {
		return nil, fmt.Errorf("FD_JWKS_REFRESH_INTERVAL: %w", err)
	}
	if cfg.JWTLeeway, err = getEnvDuration("FD_JWT_LEEWAY", 5*time.Second); err != nil {
		return nil, fmt.Errorf("FD_JWT_LEEWAY: %w", err)
	}
	cfg.RoleAdminGroups = parseCSV(getEnvDefault("FD_ROLE_ADMIN_GROUPS", "formdata-admins"))
	cfg.RoleReadonlyGroups = parseCSV(getEnvDefault("FD_ROLE_READONLY_GROUPS", "formdata-viewers"))

	// --- CORS ---

	cfg.CORSAllowedOrigins = parseCSV(os.Getenv("FD_CORS_ALLOWED_ORIGINS"))

	// --- topologymetrics ---

	cfg.DephealthGroup = getEnvDefault("FD_DEPHEALTH_GROUP", "goodk")
	if cfg.DephealthCheckInterval, err = getEnvDurationPositive("FD_DEPHEALTH_CHECK_INTERVAL", 15*time.Second); err != nil {
		return nil, fmt.Errorf("FD_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}
	if cfg.DephealthIsEntry, err = getEnvBool("DEPHEALTH_ISENTRY", false); err != nil {
		return nil, fmt.Errorf("DEPHEALTH_ISENTRY: %w", err)
	}

	return cfg, nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL PostgreSQL без пароля (для лейблов метрик).
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%d/%s", c.DBHost, c.DBPort, c.DBName)
}

// MigrateURL возвращает URL для golang-migrate (схема pgx5).
func (c *Config) MigrateURL() string {
	u := url.URL{
		Scheme:   "pgx5",
		User:     url.UserPassword(c.DBUser, c.DBPassword),
		Host:     fmt.Sprintf("%s:%d", c.DBHost, c.DBPort),
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=" + url.QueryEscape(c.DBSSLMode),
	}
	return u.String()
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// getEnvDurationPositive — как getEnvDuration, но значение должно быть > 0.
func getEnvDurationPositive(key string, defaultVal time.Duration) (time.Duration, error) {
	d, err := getEnvDuration(key, defaultVal)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("значение должно быть > 0")
	}
	return d, nil
}

// getEnvBool возвращает булево значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное булево значение: %q (допустимые: true, false, 1, 0)", val)
	}
	return b, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}

// parseCSV разбивает строку по запятым, отбрасывая пустые элементы.
func parseCSV(s string) []string {
	if s == "" {
		return nil
	}
	var result []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			result = append(result, p)
		}
	}
	return result
}

// validateURL проверяет, что строка — абсолютный http(s) URL.
func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("некорректный URL %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL %q должен начинаться с http:// или https://", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("URL %q без хоста", raw)
	}
	return nil
}
