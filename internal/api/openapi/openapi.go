// Пакет openapi — контракт HTTP API Form Data Module и связывание
// его операций с маршрутами chi. Документ openapi.yaml встроен в бинарник;
// параметры запросов разбираются через oapi-codegen runtime.
package openapi

import (
	"context"
	_ "embed"
	"fmt"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
)

//go:embed openapi.yaml
var document []byte

// Load разбирает и валидирует встроенный OpenAPI-документ.
func Load() (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(document)
	if err != nil {
		return nil, fmt.Errorf("разбор OpenAPI-документа: %w", err)
	}
	if err := doc.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("валидация OpenAPI-документа: %w", err)
	}
	return doc, nil
}

// FormId — первичный ключ формы или её id_string.
type FormId = string //nolint:revive // имя по параметру контракта

// ListFormFieldsParams — параметры listFormFields.
type ListFormFieldsParams struct {
	Type *string `form:"type,omitempty" json:"type,omitempty"`
}

// GetGroupedStatsParams — параметры getGroupedStats.
type GetGroupedStatsParams struct {
	Field   string  `form:"field" json:"field"`
	Name    *string `form:"name,omitempty" json:"name,omitempty"`
	GroupBy *string `form:"group_by,omitempty" json:"group_by,omitempty"`
}

// GetFieldSummaryParams — параметры getFieldSummary.
type GetFieldSummaryParams struct {
	Field string `form:"field" json:"field"`
}

// GetFormURLParams — параметры getFormURL.
type GetFormURLParams struct {
	Protocol *string `form:"protocol,omitempty" json:"protocol,omitempty"`
	Preview  *bool   `form:"preview,omitempty" json:"preview,omitempty"`
}

// GetExportDefParams — параметры getExportDef.
type GetExportDefParams struct {
	Filename string `form:"filename" json:"filename"`
}

// ServerInterface — обработчики операций контракта.
type ServerInterface interface {
	// GET /health/live
	HealthLive(w http.ResponseWriter, r *http.Request)
	// GET /health/ready
	HealthReady(w http.ResponseWriter, r *http.Request)
	// GET /metrics
	GetMetrics(w http.ResponseWriter, r *http.Request)
	// GET /api/v1/forms/{form_id}
	GetForm(w http.ResponseWriter, r *http.Request, formID FormId)
	// GET /api/v1/forms/{form_id}/fields
	ListFormFields(w http.ResponseWriter, r *http.Request, formID FormId, params ListFormFieldsParams)
	// GET /api/v1/forms/{form_id}/stats/grouped
	GetGroupedStats(w http.ResponseWriter, r *http.Request, formID FormId, params GetGroupedStatsParams)
	// GET /api/v1/forms/{form_id}/stats/summary
	GetFieldSummary(w http.ResponseWriter, r *http.Request, formID FormId, params GetFieldSummaryParams)
	// GET /api/v1/forms/{form_id}/url
	GetFormURL(w http.ResponseWriter, r *http.Request, formID FormId, params GetFormURLParams)
	// GET /api/v1/forms/{form_id}/enketo/single
	GetEnketoSingleURL(w http.ResponseWriter, r *http.Request, formID FormId)
	// GET /api/v1/forms/{form_id}/enketo/survey
	GetEnketoSurveyURL(w http.ResponseWriter, r *http.Request, formID FormId)
	// GET /api/v1/forms/{form_id}/enketo/preview
	GetEnketoPreviewURL(w http.ResponseWriter, r *http.Request, formID FormId)
	// GET /api/v1/forms/{form_id}/enketo/defaults
	GetEnketoDefaults(w http.ResponseWriter, r *http.Request, formID FormId)
	// GET /api/v1/export-def
	GetExportDef(w http.ResponseWriter, r *http.Request, params GetExportDefParams)
}

// ErrorHandlerFunc — обработчик ошибок разбора параметров.
type ErrorHandlerFunc func(w http.ResponseWriter, r *http.Request, err error)

// ParamError — ошибка разбора параметра запроса.
type ParamError struct {
	ParamName string
	Err       error
}

func (e *ParamError) Error() string {
	return fmt.Sprintf("некорректный параметр %q: %v", e.ParamName, e.Err)
}

func (e *ParamError) Unwrap() error {
	return e.Err
}

// wrapper разбирает параметры и вызывает ServerInterface.
type wrapper struct {
	handler      ServerInterface
	errorHandler ErrorHandlerFunc
}

// HandlerFromMux регистрирует маршруты контракта на router.
// errorHandler вызывается при ошибке разбора параметров (nil — 400 text/plain).
func HandlerFromMux(si ServerInterface, r chi.Router, errorHandler ErrorHandlerFunc) http.Handler {
	if errorHandler == nil {
		errorHandler = func(w http.ResponseWriter, _ *http.Request, err error) {
			http.Error(w, err.Error(), http.StatusBadRequest)
		}
	}
	wr := &wrapper{handler: si, errorHandler: errorHandler}

	r.Get("/health/live", si.HealthLive)
	r.Get("/health/ready", si.HealthReady)
	r.Get("/metrics", si.GetMetrics)

	r.Get("/api/v1/forms/{form_id}", wr.withFormID(si.GetForm))
	r.Get("/api/v1/forms/{form_id}/fields", wr.listFormFields)
	r.Get("/api/v1/forms/{form_id}/stats/grouped", wr.getGroupedStats)
	r.Get("/api/v1/forms/{form_id}/stats/summary", wr.getFieldSummary)
	r.Get("/api/v1/forms/{form_id}/url", wr.getFormURL)
	r.Get("/api/v1/forms/{form_id}/enketo/single", wr.withFormID(si.GetEnketoSingleURL))
	r.Get("/api/v1/forms/{form_id}/enketo/survey", wr.withFormID(si.GetEnketoSurveyURL))
	r.Get("/api/v1/forms/{form_id}/enketo/preview", wr.withFormID(si.GetEnketoPreviewURL))
	r.Get("/api/v1/forms/{form_id}/enketo/defaults", wr.withFormID(si.GetEnketoDefaults))
	r.Get("/api/v1/export-def", wr.getExportDef)

	return r
}

// formID разбирает path-параметр form_id.
func (wr *wrapper) formID(w http.ResponseWriter, r *http.Request) (FormId, bool) {
	var formID FormId
	err := runtime.BindStyledParameterWithOptions("simple", "form_id", chi.URLParam(r, "form_id"), &formID,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		wr.errorHandler(w, r, &ParamError{ParamName: "form_id", Err: err})
		return "", false
	}
	return formID, true
}

func (wr *wrapper) withFormID(h func(http.ResponseWriter, *http.Request, FormId)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if formID, ok := wr.formID(w, r); ok {
			h(w, r, formID)
		}
	}
}

// bindQuery разбирает query-параметр в стиле form.
func (wr *wrapper) bindQuery(w http.ResponseWriter, r *http.Request, name string, required bool, dest any) bool {
	if err := runtime.BindQueryParameter("form", true, required, name, r.URL.Query(), dest); err != nil {
		wr.errorHandler(w, r, &ParamError{ParamName: name, Err: err})
		return false
	}
	return true
}

func (wr *wrapper) listFormFields(w http.ResponseWriter, r *http.Request) {
	formID, ok := wr.formID(w, r)
	if !ok {
		return
	}
	var params ListFormFieldsParams
	if !wr.bindQuery(w, r, "type", false, &params.Type) {
		return
	}
	wr.handler.ListFormFields(w, r, formID, params)
}

func (wr *wrapper) getGroupedStats(w http.ResponseWriter, r *http.Request) {
	formID, ok := wr.formID(w, r)
	if !ok {
		return
	}
	var params GetGroupedStatsParams
	if !wr.bindQuery(w, r, "field", true, &params.Field) ||
		!wr.bindQuery(w, r, "name", false, &params.Name) ||
		!wr.bindQuery(w, r, "group_by", false, &params.GroupBy) {
		return
	}
	wr.handler.GetGroupedStats(w, r, formID, params)
}

func (wr *wrapper) getFieldSummary(w http.ResponseWriter, r *http.Request) {
	formID, ok := wr.formID(w, r)
	if !ok {
		return
	}
	var params GetFieldSummaryParams
	if !wr.bindQuery(w, r, "field", true, &params.Field) {
		return
	}
	wr.handler.GetFieldSummary(w, r, formID, params)
}

func (wr *wrapper) getFormURL(w http.ResponseWriter, r *http.Request) {
	formID, ok := wr.formID(w, r)
	if !ok {
		return
	}
	var params GetFormURLParams
	if !wr.bindQuery(w, r, "protocol", false, &params.Protocol) ||
		!wr.bindQuery(w, r, "preview", false, &params.Preview) {
		return
	}
	wr.handler.GetFormURL(w, r, formID, params)
}

func (wr *wrapper) getExportDef(w http.ResponseWriter, r *http.Request) {
	var params GetExportDefParams
	if !wr.bindQuery(w, r, "filename", true, &params.Filename) {
		return
	}
	wr.handler.GetExportDef(w, r, params)
}
