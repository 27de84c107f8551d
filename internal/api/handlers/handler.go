// handler.go — основной обработчик API, реализующий openapi.ServerInterface.
// Объединяет health и бизнес-обработчики, отображает ошибки сервисов в HTTP-ответы.
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	apierrors "github.com/bigkaa/goodk/formdata-module/internal/api/errors"
	"github.com/bigkaa/goodk/formdata-module/internal/api/openapi"
	"github.com/bigkaa/goodk/formdata-module/internal/domain/model"
	"github.com/bigkaa/goodk/formdata-module/internal/enketo"
	"github.com/bigkaa/goodk/formdata-module/internal/query"
	"github.com/bigkaa/goodk/formdata-module/internal/repository"
	"github.com/bigkaa/goodk/formdata-module/internal/service"
)

var _ openapi.ServerInterface = (*APIHandler)(nil)

// APIHandler — основной обработчик API Form Data Module.
type APIHandler struct {
	health *HealthHandler
	forms  *service.FormService
	stats  *service.StatsService
	links  *service.LinkService
	logger *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
func NewAPIHandler(
	health *HealthHandler,
	forms *service.FormService,
	stats *service.StatsService,
	links *service.LinkService,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		health: health,
		forms:  forms,
		stats:  stats,
		links:  links,
		logger: logger.With(slog.String("component", "api_handler")),
	}
}

// HealthLive — liveness-проверка (делегируется в HealthHandler).
func (h *APIHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.health.HealthLive(w, r)
}

// HealthReady — readiness-проверка (делегируется в HealthHandler).
func (h *APIHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.health.HealthReady(w, r)
}

// GetMetrics — Prometheus метрики (делегируется в HealthHandler).
func (h *APIHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.health.GetMetrics(w, r)
}

// --- Вспомогательные функции ---

// loadForm получает форму по параметру form_id.
// При ошибке ответ уже записан, возвращается nil.
func (h *APIHandler) loadForm(w http.ResponseWriter, r *http.Request, formID openapi.FormId) *model.XForm {
	form, err := h.forms.GetForm(r.Context(), lookupFromParam(formID))
	if err != nil {
		h.writeServiceError(w, err, "Ошибка получения формы", slog.String("form_id", formID))
		return nil
	}
	return form
}

// lookupFromParam: число — первичный ключ, иначе id_string без учёта регистра.
func lookupFromParam(formID string) repository.FormLookup {
	if id, err := strconv.ParseInt(formID, 10, 64); err == nil && id > 0 {
		return repository.FormLookup{ID: &id}
	}
	return repository.FormLookup{IDString: formID, IgnoreCase: true}
}

// writeServiceError отображает ошибку сервисного слоя в HTTP-ответ.
// Непредвиденные ошибки логируются и возвращаются как 500 с сообщением msg.
func (h *APIHandler) writeServiceError(w http.ResponseWriter, err error, msg string, attrs ...any) {
	var enketoErr *enketo.Error

	switch {
	case errors.Is(err, service.ErrNotFound):
		apierrors.NotFound(w, "Форма не найдена")
	case errors.Is(err, service.ErrValidation):
		apierrors.ValidationError(w, err.Error())
	case errors.As(err, &enketoErr):
		h.logger.Warn("Ошибка Enketo", append(attrs, slog.String("error", err.Error()))...)
		apierrors.EnketoError(w, enketoErr.Message)
	case errors.Is(err, query.ErrUnsupportedDatabase):
		apierrors.UnsupportedDatabase(w, err.Error())
	default:
		h.logger.Error(msg, append(attrs, slog.String("error", err.Error()))...)
		apierrors.InternalError(w, msg)
	}
}

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
