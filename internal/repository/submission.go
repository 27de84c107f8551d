package repository

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/goodk/formdata-module/internal/domain/model"
	"github.com/bigkaa/goodk/formdata-module/internal/query"
)

// SubmissionRepository — агрегирующие запросы по сабмишенам формы.
type SubmissionRepository interface {
	// FieldRecords возвращает числовые значения поля по активным сабмишенам.
	// NULL-значения пропускаются.
	FieldRecords(ctx context.Context, form *model.XForm, field string) ([]float64, error)
	// GroupedByField возвращает строки агрегации (колонка → значение):
	// количество по значениям field, либо sum/mean field в разрезе groupBy.
	// Пустой name заменяется на field.
	GroupedByField(ctx context.Context, form *model.XForm, field, name, groupBy string) ([]map[string]any, error)
}

// submissionRepo — реализация SubmissionRepository через pgx.
type submissionRepo struct {
	db      DBTX
	builder query.Builder
}

// NewSubmissionRepository создаёт репозиторий сабмишенов.
// builder — построитель SQL для движка БД из конфигурации.
func NewSubmissionRepository(db DBTX, builder query.Builder) SubmissionRepository {
	return &submissionRepo{db: db, builder: builder}
}

// FieldRecords выполняет выборку значения поля и приводит значения к float64.
func (r *submissionRepo) FieldRecords(ctx context.Context, form *model.XForm, field string) ([]float64, error) {
	q, err := r.builder.SelectKey(field, field, form)
	if err != nil {
		return nil, fmt.Errorf("построение запроса значений поля: %w", err)
	}

	rows, err := r.db.Query(ctx, q.SQL, q.Args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки значений поля %q: %w", field, err)
	}
	defer rows.Close()

	var result []float64
	for rows.Next() {
		var raw *string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("ошибка сканирования значения поля: %w", err)
		}
		if raw == nil {
			continue
		}
		v, err := strconv.ParseFloat(*raw, 64)
		if err != nil {
			return nil, fmt.Errorf("значение %q поля %q не является числом: %w", *raw, field, err)
		}
		result = append(result, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации результатов: %w", err)
	}

	return result, nil
}

// GroupedByField выполняет запрос группировки и возвращает строки как map.
func (r *submissionRepo) GroupedByField(
	ctx context.Context,
	form *model.XForm,
	field, name, groupBy string,
) ([]map[string]any, error) {
	if name == "" {
		name = field
	}

	q, err := r.builder.CountGroup(field, name, form, groupBy)
	if err != nil {
		return nil, fmt.Errorf("построение запроса группировки: %w", err)
	}

	rows, err := r.db.Query(ctx, q.SQL, q.Args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка группировки по полю %q: %w", field, err)
	}

	result, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения результатов группировки: %w", err)
	}
	return result, nil
}
