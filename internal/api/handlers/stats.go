// stats.go — обработчики статистики по полям формы.
package handlers

import (
	"net/http"

	"github.com/bigkaa/goodk/formdata-module/internal/api/openapi"
	"github.com/bigkaa/goodk/formdata-module/internal/service"
)

// groupedStatsResponse — строки группировки (схема GroupedStats).
type groupedStatsResponse struct {
	Field   string           `json:"field"`
	GroupBy string           `json:"group_by,omitempty"`
	Rows    []map[string]any `json:"rows"`
}

// fieldSummaryResponse — сводная статистика поля (схема FieldSummary).
type fieldSummaryResponse struct {
	Field  string  `json:"field"`
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	Mode   float64 `json:"mode"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Range  float64 `json:"range"`
}

// GetGroupedStats — GET /api/v1/forms/{form_id}/stats/grouped.
func (h *APIHandler) GetGroupedStats(
	w http.ResponseWriter,
	r *http.Request,
	formID openapi.FormId,
	params openapi.GetGroupedStatsParams,
) {
	var name, groupBy string
	if params.Name != nil {
		name = *params.Name
	}
	if params.GroupBy != nil {
		groupBy = *params.GroupBy
	}

	form := h.loadForm(w, r, formID)
	if form == nil {
		return
	}

	rows, err := h.stats.Grouped(r.Context(), form, params.Field, name, groupBy)
	if err != nil {
		h.writeServiceError(w, err, "Ошибка группировки", "form_id", formID, "field", params.Field)
		return
	}
	if rows == nil {
		rows = []map[string]any{}
	}

	writeJSON(w, http.StatusOK, groupedStatsResponse{
		Field:   params.Field,
		GroupBy: groupBy,
		Rows:    rows,
	})
}

// GetFieldSummary — GET /api/v1/forms/{form_id}/stats/summary.
func (h *APIHandler) GetFieldSummary(
	w http.ResponseWriter,
	r *http.Request,
	formID openapi.FormId,
	params openapi.GetFieldSummaryParams,
) {
	form := h.loadForm(w, r, formID)
	if form == nil {
		return
	}

	summary, err := h.stats.Summary(r.Context(), form, params.Field)
	if err != nil {
		h.writeServiceError(w, err, "Ошибка расчёта статистики", "form_id", formID, "field", params.Field)
		return
	}

	writeJSON(w, http.StatusOK, mapSummary(summary))
}

func mapSummary(s *service.FieldSummary) fieldSummaryResponse {
	return fieldSummaryResponse{
		Field:  s.Field,
		Count:  s.Count,
		Mean:   s.Mean.InexactFloat64(),
		Median: s.Median.InexactFloat64(),
		Mode:   s.Mode.InexactFloat64(),
		Min:    s.Min.InexactFloat64(),
		Max:    s.Max.InexactFloat64(),
		Range:  s.Range.InexactFloat64(),
	}
}
