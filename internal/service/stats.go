// stats.go — сервис статистики по значениям полей сабмишенов.
// Координирует SubmissionRepository и Prometheus-метрики;
// сводная статистика считается в точной десятичной арифметике.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"

	"github.com/bigkaa/goodk/formdata-module/internal/domain/model"
	"github.com/bigkaa/goodk/formdata-module/internal/repository"
)

// Prometheus-метрики статистики.
var (
	statsQueriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fd_stats_queries_total",
		Help: "Общее количество запросов статистики по виду.",
	}, []string{"kind"})
	statsQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fd_stats_query_duration_seconds",
		Help:    "Длительность запросов статистики.",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})
)

// FieldSummary — сводная статистика числового поля.
type FieldSummary struct {
	Field  string
	Count  int
	Mean   decimal.Decimal
	Median decimal.Decimal
	Mode   decimal.Decimal
	Min    decimal.Decimal
	Max    decimal.Decimal
	Range  decimal.Decimal
}

// StatsService — статистика по полям формы.
type StatsService struct {
	subs   repository.SubmissionRepository
	logger *slog.Logger
}

// NewStatsService создаёт сервис статистики.
func NewStatsService(subs repository.SubmissionRepository, logger *slog.Logger) *StatsService {
	return &StatsService{
		subs:   subs,
		logger: logger.With(slog.String("component", "stats_service")),
	}
}

// Grouped возвращает количество сабмишенов по значениям field, а при
// непустом groupBy — сумму и среднее field в разрезе groupBy.
// Поля-даты группируются по дню.
func (s *StatsService) Grouped(
	ctx context.Context,
	form *model.XForm,
	field, name, groupBy string,
) ([]map[string]any, error) {
	if field == "" {
		return nil, fmt.Errorf("%w: не указано поле", ErrValidation)
	}
	if groupBy != "" && !form.IsNumericField(field) {
		return nil, fmt.Errorf("%w: поле %q не числовое, агрегирование невозможно", ErrValidation, field)
	}

	kind := "count"
	if groupBy != "" {
		kind = "aggregate"
	}
	defer observe(kind, time.Now())

	rows, err := s.subs.GroupedByField(ctx, form, field, name, groupBy)
	if err != nil {
		return nil, fmt.Errorf("группировка по полю %q: %w", field, err)
	}

	s.logger.Debug("Группировка выполнена",
		slog.Int64("form_id", form.ID),
		slog.String("field", field),
		slog.String("group_by", groupBy),
		slog.Int("rows", len(rows)),
	)
	return rows, nil
}

// Summary возвращает сводную статистику числового поля.
// Без значений возвращается нулевая сводка с Count = 0.
func (s *StatsService) Summary(ctx context.Context, form *model.XForm, field string) (*FieldSummary, error) {
	if !form.IsNumericField(field) {
		return nil, fmt.Errorf("%w: поле %q не числовое", ErrValidation, field)
	}

	defer observe("summary", time.Now())

	values, err := s.subs.FieldRecords(ctx, form, field)
	if err != nil {
		return nil, fmt.Errorf("значения поля %q: %w", field, err)
	}

	return summarize(field, values), nil
}

// summarize считает сводную статистику по значениям.
func summarize(field string, values []float64) *FieldSummary {
	summary := &FieldSummary{Field: field, Count: len(values)}
	if len(values) == 0 {
		return summary
	}

	nums := make([]decimal.Decimal, len(values))
	for i, v := range values {
		nums[i] = decimal.NewFromFloat(v)
	}
	slices.SortFunc(nums, func(a, b decimal.Decimal) int { return a.Cmp(b) })

	count := decimal.NewFromInt(int64(len(nums)))
	summary.Mean = decimal.Sum(nums[0], nums[1:]...).Div(count)
	summary.Min = nums[0]
	summary.Max = nums[len(nums)-1]
	summary.Range = summary.Max.Sub(summary.Min)

	mid := len(nums) / 2
	if len(nums)%2 == 1 {
		summary.Median = nums[mid]
	} else {
		summary.Median = nums[mid-1].Add(nums[mid]).Div(decimal.NewFromInt(2))
	}

	summary.Mode = mode(nums)
	return summary
}

// mode — наиболее частое значение отсортированного среза;
// при равной частоте — наименьшее.
func mode(sorted []decimal.Decimal) decimal.Decimal {
	best, bestCount := sorted[0], 0
	for i := 0; i < len(sorted); {
		j := i
		for j < len(sorted) && sorted[j].Equal(sorted[i]) {
			j++
		}
		if j-i > bestCount {
			best, bestCount = sorted[i], j-i
		}
		i = j
	}
	return best
}

func observe(kind string, start time.Time) {
	statsQueriesTotal.WithLabelValues(kind).Inc()
	statsQueryDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
}
