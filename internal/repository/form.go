package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/goodk/formdata-module/internal/domain/model"
)

// formColumns — список столбцов таблицы logger_xform для SELECT-запросов.
const formColumns = `id, id_string, title, owner, json, downloadable, created_at, deleted_at`

// FormLookup — критерии поиска формы.
// Хотя бы одно из ID и IDString должно быть задано.
type FormLookup struct {
	// ID — первичный ключ формы
	ID *int64
	// IDString — строковый идентификатор формы
	IDString string
	// IgnoreCase — сравнивать IDString без учёта регистра
	IgnoreCase bool
	// Owner — username владельца (пустая строка — любой владелец)
	Owner string
}

// FormRepository — интерфейс доступа к формам в logger_xform.
type FormRepository interface {
	// Get возвращает активную (не удалённую) форму по критериям.
	// ErrNotFound — форма не найдена или помечена как удалённая.
	Get(ctx context.Context, lookup FormLookup) (*model.XForm, error)
	// IsActive сообщает, существует ли форма id и не помечена ли она удалённой.
	IsActive(ctx context.Context, id int64) (bool, error)
}

// formRepo — реализация FormRepository через pgx.
type formRepo struct {
	db DBTX
}

// NewFormRepository создаёт репозиторий форм.
func NewFormRepository(db DBTX) FormRepository {
	return &formRepo{db: db}
}

// Get возвращает форму или ErrNotFound.
// При нескольких совпадениях (один id_string у разных владельцев) — форма с меньшим id.
func (r *formRepo) Get(ctx context.Context, lookup FormLookup) (*model.XForm, error) {
	where, args, err := buildFormWhere(lookup, 1)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT %s FROM logger_xform %s ORDER BY id LIMIT 1`, formColumns, where)

	var (
		x      model.XForm
		schema []byte
	)
	err = r.db.QueryRow(ctx, query, args...).Scan(
		&x.ID, &x.IDString, &x.Title, &x.Owner, &schema,
		&x.Downloadable, &x.CreatedAt, &x.DeletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения формы: %w", err)
	}

	x.Survey, err = model.ParseSurvey(schema)
	if err != nil {
		return nil, fmt.Errorf("форма %d: %w", x.ID, err)
	}
	return &x, nil
}

// IsActive проверяет deleted_at формы без загрузки схемы.
// Отсутствующая форма — false без ошибки.
func (r *formRepo) IsActive(ctx context.Context, id int64) (bool, error) {
	var active bool
	err := r.db.QueryRow(ctx, `SELECT deleted_at IS NULL FROM logger_xform WHERE id = $1`, id).Scan(&active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("ошибка проверки формы %d: %w", id, err)
	}
	return active, nil
}

// buildFormWhere строит WHERE-условие поиска формы.
// Условие deleted_at IS NULL добавляется всегда.
// startArg — номер первого $-параметра.
func buildFormWhere(lookup FormLookup, startArg int) (whereClause string, args []any, err error) {
	if lookup.ID == nil && lookup.IDString == "" {
		return "", nil, ErrInvalidLookup
	}

	conditions := []string{"deleted_at IS NULL"}
	argNum := startArg

	if lookup.ID != nil {
		conditions = append(conditions, fmt.Sprintf("id = $%d", argNum))
		args = append(args, *lookup.ID)
		argNum++
	}

	if lookup.IDString != "" {
		if lookup.IgnoreCase {
			conditions = append(conditions, fmt.Sprintf("LOWER(id_string) = LOWER($%d)", argNum))
		} else {
			conditions = append(conditions, fmt.Sprintf("id_string = $%d", argNum))
		}
		args = append(args, lookup.IDString)
		argNum++
	}

	if lookup.Owner != "" {
		conditions = append(conditions, fmt.Sprintf("LOWER(owner) = LOWER($%d)", argNum))
		args = append(args, lookup.Owner)
	}

	return "WHERE " + strings.Join(conditions, " AND "), args, nil
}
