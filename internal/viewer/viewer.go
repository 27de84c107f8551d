// Пакет viewer — вспомогательные функции представления форм:
// построение URL формы, IP клиента, значения по умолчанию для Enketo
// и определение типа экспорта по имени файла.
package viewer

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/bigkaa/goodk/formdata-module/internal/domain/model"
)

// ErrUnknownExport — расширение файла не соответствует ни одному типу экспорта.
var ErrUnknownExport = errors.New("неизвестный тип экспорта")

// exportMimes — MIME-подтипы экспорта по расширению файла.
var exportMimes = map[string]string{
	"xls":     "vnd.ms-excel",
	"xlsx":    "vnd.openxmlformats",
	"csv":     "csv",
	"zip":     "zip",
	"csv_zip": "zip",
	"sav_zip": "zip",
	"sav":     "sav",
	"kml":     "vnd.google-earth.kml+xml",
	"geojson": "geo+json",
	"osm":     "osm",
}

// URLConfig — настройки построения URL формы.
type URLConfig struct {
	// DefaultHost — хост, если у запроса нет заголовка Host
	DefaultHost string
	// TestingMode — подставлять тестовые хост и пользователя
	TestingMode  bool
	TestHost     string
	TestUsername string
}

// FormURLOptions — параметры конкретного URL.
type FormURLOptions struct {
	// Username — владелец формы (пустая строка — без сегмента пользователя)
	Username string
	// Protocol — схема URL, по умолчанию https
	Protocol string
	// Preview — добавить префикс /preview
	Preview bool
	// XFormPK — первичный ключ формы (0 — без сегмента)
	XFormPK int64
}

// FormURL строит URL формы: <protocol>://<host>[/preview][/<username>[/<pk>]].
func FormURL(r *http.Request, cfg URLConfig, opts FormURLOptions) string {
	host := r.Host
	username := opts.Username
	if cfg.TestingMode {
		host = cfg.TestHost
		username = cfg.TestUsername
	}
	if host == "" {
		host = cfg.DefaultHost
	}

	protocol := opts.Protocol
	if protocol == "" {
		protocol = "https"
	}

	var b strings.Builder
	b.WriteString(protocol)
	b.WriteString("://")
	b.WriteString(host)
	if opts.Preview {
		b.WriteString("/preview")
	}
	if username != "" {
		b.WriteString("/")
		b.WriteString(username)
		if opts.XFormPK != 0 {
			b.WriteString("/")
			b.WriteString(strconv.FormatInt(opts.XFormPK, 10))
		}
	}
	return b.String()
}

// ClientIP возвращает IP клиента: первый адрес X-Forwarded-For,
// иначе хост из RemoteAddr.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// EnketoFormDefaults строит значения по умолчанию для веб-формы Enketo:
// defaults[<xpath>] = value для каждого имени, найденного в схеме формы.
// Неизвестные имена пропускаются.
func EnketoFormDefaults(form *model.XForm, values map[string]string) map[string]string {
	defaults := make(map[string]string)
	if form == nil {
		return defaults
	}

	for name, value := range values {
		field, ok := form.Element(name)
		if !ok {
			continue
		}
		defaults[fmt.Sprintf("defaults[%s]", field.XPath)] = value
	}
	return defaults
}

// ExportDefFromFilename возвращает расширение и MIME-подтип экспорта по имени файла.
// Расширение возвращается в нижнем регистре.
func ExportDefFromFilename(filename string) (ext, mimeType string, err error) {
	ext = strings.ToLower(strings.TrimPrefix(path.Ext(filename), "."))
	mimeType, ok := exportMimes[ext]
	if !ok {
		return "", "", fmt.Errorf("%w: %q", ErrUnknownExport, filename)
	}
	return ext, mimeType, nil
}
