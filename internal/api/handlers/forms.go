// forms.go — обработчики метаданных формы и списков её полей.
package handlers

import (
	"net/http"
	"time"

	"github.com/bigkaa/goodk/formdata-module/internal/api/openapi"
	"github.com/bigkaa/goodk/formdata-module/internal/domain/model"
	"github.com/bigkaa/goodk/formdata-module/internal/service"
)

// formResponse — метаданные формы (схема Form).
type formResponse struct {
	ID           int64     `json:"id"`
	IDString     string    `json:"id_string"`
	Title        string    `json:"title"`
	Owner        string    `json:"owner"`
	Downloadable bool      `json:"downloadable"`
	CreatedAt    time.Time `json:"created_at"`
}

// fieldListResponse — список полей формы (схема FieldList).
type fieldListResponse struct {
	Type   string   `json:"type"`
	Fields []string `json:"fields"`
}

// GetForm — GET /api/v1/forms/{form_id}.
func (h *APIHandler) GetForm(w http.ResponseWriter, r *http.Request, formID openapi.FormId) {
	form := h.loadForm(w, r, formID)
	if form == nil {
		return
	}
	writeJSON(w, http.StatusOK, mapForm(form))
}

// ListFormFields — GET /api/v1/forms/{form_id}/fields.
// type: all (по умолчанию), date, numeric.
func (h *APIHandler) ListFormFields(
	w http.ResponseWriter,
	r *http.Request,
	formID openapi.FormId,
	params openapi.ListFormFieldsParams,
) {
	kind := service.FieldKindAll
	if params.Type != nil && *params.Type != "" {
		kind = *params.Type
	}

	form := h.loadForm(w, r, formID)
	if form == nil {
		return
	}

	fields, err := h.forms.Fields(form, kind)
	if err != nil {
		h.writeServiceError(w, err, "Ошибка получения полей формы", "form_id", formID)
		return
	}
	if fields == nil {
		fields = []string{}
	}

	writeJSON(w, http.StatusOK, fieldListResponse{Type: kind, Fields: fields})
}

func mapForm(form *model.XForm) formResponse {
	return formResponse{
		ID:           form.ID,
		IDString:     form.IDString,
		Title:        form.Title,
		Owner:        form.Owner,
		Downloadable: form.Downloadable,
		CreatedAt:    form.CreatedAt.UTC(),
	}
}
