// links.go — обработчики ссылок на форму: URL формы, ссылки Enketo,
// значения по умолчанию для веб-формы и тип экспорта.
package handlers

import (
	"context"
	"net/http"

	apierrors "github.com/bigkaa/goodk/formdata-module/internal/api/errors"
	"github.com/bigkaa/goodk/formdata-module/internal/api/openapi"
	"github.com/bigkaa/goodk/formdata-module/internal/domain/model"
	"github.com/bigkaa/goodk/formdata-module/internal/viewer"
)

type linkResponse struct {
	URL string `json:"url"`
}

type exportDefResponse struct {
	Extension string `json:"extension"`
	MimeType  string `json:"mime_type"`
}

// GetFormURL — GET /api/v1/forms/{form_id}/url.
func (h *APIHandler) GetFormURL(
	w http.ResponseWriter,
	r *http.Request,
	formID openapi.FormId,
	params openapi.GetFormURLParams,
) {
	form := h.loadForm(w, r, formID)
	if form == nil {
		return
	}

	var protocol string
	if params.Protocol != nil {
		protocol = *params.Protocol
	}
	preview := params.Preview != nil && *params.Preview

	writeJSON(w, http.StatusOK, linkResponse{URL: h.links.FormURL(r, form, protocol, preview, false)})
}

// GetEnketoSingleURL — GET /api/v1/forms/{form_id}/enketo/single.
func (h *APIHandler) GetEnketoSingleURL(w http.ResponseWriter, r *http.Request, formID openapi.FormId) {
	h.enketoLink(w, r, formID, h.links.SingleSubmitURL)
}

// GetEnketoSurveyURL — GET /api/v1/forms/{form_id}/enketo/survey.
func (h *APIHandler) GetEnketoSurveyURL(w http.ResponseWriter, r *http.Request, formID openapi.FormId) {
	h.enketoLink(w, r, formID, h.links.SurveyURL)
}

// GetEnketoPreviewURL — GET /api/v1/forms/{form_id}/enketo/preview.
func (h *APIHandler) GetEnketoPreviewURL(w http.ResponseWriter, r *http.Request, formID openapi.FormId) {
	h.enketoLink(w, r, formID, h.links.PreviewURL)
}

// enketoLink — общий путь получения ссылки Enketo.
func (h *APIHandler) enketoLink(
	w http.ResponseWriter,
	r *http.Request,
	formID openapi.FormId,
	get func(ctx context.Context, r *http.Request, form *model.XForm) (string, error),
) {
	form := h.loadForm(w, r, formID)
	if form == nil {
		return
	}

	link, err := get(r.Context(), r, form)
	if err != nil {
		h.writeServiceError(w, err, "Ошибка получения ссылки Enketo", "form_id", formID)
		return
	}

	writeJSON(w, http.StatusOK, linkResponse{URL: link})
}

// GetEnketoDefaults — GET /api/v1/forms/{form_id}/enketo/defaults.
// Каждый query-параметр — имя поля и его значение по умолчанию;
// для повторяющихся параметров берётся первое значение.
func (h *APIHandler) GetEnketoDefaults(w http.ResponseWriter, r *http.Request, formID openapi.FormId) {
	form := h.loadForm(w, r, formID)
	if form == nil {
		return
	}

	query := r.URL.Query()
	values := make(map[string]string, len(query))
	for name := range query {
		values[name] = query.Get(name)
	}

	writeJSON(w, http.StatusOK, h.links.EnketoDefaults(form, values))
}

// GetExportDef — GET /api/v1/export-def.
func (h *APIHandler) GetExportDef(w http.ResponseWriter, _ *http.Request, params openapi.GetExportDefParams) {
	ext, mimeType, err := viewer.ExportDefFromFilename(params.Filename)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, exportDefResponse{Extension: ext, MimeType: mimeType})
}
