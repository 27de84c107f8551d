// Пакет query — построение SQL-запросов агрегации значений полей
// сабмишенов, хранящихся в JSON-колонке logger_instance.
// Диалект выбирается один раз через NewBuilder; поддерживается только PostgreSQL.
package query

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/goodk/formdata-module/internal/domain/model"
)

// ErrUnsupportedDatabase — движок БД не поддерживается построителем запросов.
var ErrUnsupportedDatabase = errors.New("неподдерживаемая база данных")

// Имена таблицы и колонок сабмишенов.
const (
	instanceTable = "logger_instance"
	restrictField = "xform_id"
	jsonColumn    = "json"
	deletedColumn = "deleted_at"
)

// dateFormat — формат, к которому приводятся значения полей-дат.
const dateFormat = "YYYY-MM-DD"

// Query — SQL-запрос с позиционными аргументами ($1, $2, ...).
type Query struct {
	SQL  string
	Args []any
}

// Builder — построитель запросов для конкретного диалекта.
type Builder interface {
	// SelectKey — выборка значения поля field по всем активным сабмишенам формы.
	// name — имя колонки результата.
	SelectKey(field, name string, form *model.XForm) (Query, error)
	// CountGroup — количество сабмишенов по значениям поля field.
	// При непустом groupBy — сумма и среднее field в разрезе значений groupBy.
	CountGroup(field, name string, form *model.XForm, groupBy string) (Query, error)
}

// NewBuilder возвращает построитель для указанного движка.
// Для любого движка кроме PostgreSQL возвращается построитель,
// каждый вызов которого завершается ErrUnsupportedDatabase.
func NewBuilder(engine string) Builder {
	if IsPostgres(engine) {
		return postgresBuilder{}
	}
	return unsupportedBuilder{engine: engine}
}

// IsPostgres сообщает, относится ли имя движка к PostgreSQL.
func IsPostgres(engine string) bool {
	switch strings.ToLower(engine) {
	case "postgres", "postgresql", "pgx":
		return true
	}
	return false
}

// --- PostgreSQL ---

type postgresBuilder struct{}

// SelectKey строит:
//
//	SELECT json->>$2::text AS "name" FROM logger_instance
//	WHERE xform_id = $1 AND deleted_at IS NULL
func (postgresBuilder) SelectKey(field, name string, form *model.XForm) (Query, error) {
	if err := validate(field, name, form); err != nil {
		return Query{}, err
	}

	sql := fmt.Sprintf(
		`SELECT %s AS %s FROM %s WHERE %s`,
		jsonQuery(2), quoteIdent(name), instanceTable, restriction(),
	)
	return Query{SQL: sql, Args: []any{form.ID, field}}, nil
}

// CountGroup выбирает форму запроса по наличию groupBy.
func (b postgresBuilder) CountGroup(field, name string, form *model.XForm, groupBy string) (Query, error) {
	if err := validate(field, name, form); err != nil {
		return Query{}, err
	}
	if groupBy != "" {
		return b.aggregateGroupBy(field, form, groupBy), nil
	}
	return b.countGroup(field, name, form), nil
}

// countGroup строит:
//
//	SELECT <expr> AS "name", COUNT(*) AS count FROM logger_instance
//	WHERE xform_id = $1 AND deleted_at IS NULL GROUP BY 1
func (postgresBuilder) countGroup(field, name string, form *model.XForm) Query {
	expr := fieldExpr(form, field, 2)

	sql := fmt.Sprintf(
		`SELECT %s AS %s, COUNT(*) AS count FROM %s WHERE %s GROUP BY 1`,
		expr, quoteIdent(name), instanceTable, restriction(),
	)
	return Query{SQL: sql, Args: []any{form.ID, field}}
}

// aggregateGroupBy строит сумму и среднее field в разрезе groupBy:
//
//	SELECT <group expr> AS "group_by", SUM((json->>$2::text)::numeric)::float8 AS sum,
//	AVG((json->>$2::text)::numeric)::float8 AS mean FROM logger_instance
//	WHERE xform_id = $1 AND deleted_at IS NULL GROUP BY 1
func (postgresBuilder) aggregateGroupBy(field string, form *model.XForm, groupBy string) Query {
	value := jsonQuery(2)
	group := fieldExpr(form, groupBy, 3)

	sql := fmt.Sprintf(
		`SELECT %s AS %s, SUM((%s)::numeric)::float8 AS sum, AVG((%s)::numeric)::float8 AS mean FROM %s WHERE %s GROUP BY 1`,
		group, quoteIdent(groupBy), value, value, instanceTable, restriction(),
	)
	return Query{SQL: sql, Args: []any{form.ID, field, groupBy}}
}

// --- Неподдерживаемые движки ---

type unsupportedBuilder struct {
	engine string
}

func (b unsupportedBuilder) SelectKey(string, string, *model.XForm) (Query, error) {
	return Query{}, b.err()
}

func (b unsupportedBuilder) CountGroup(string, string, *model.XForm, string) (Query, error) {
	return Query{}, b.err()
}

func (b unsupportedBuilder) err() error {
	return fmt.Errorf("%w: %q", ErrUnsupportedDatabase, b.engine)
}

// --- Вспомогательные функции ---

// jsonQuery — извлечение ключа JSON как текста; ключ передаётся аргументом $n.
// Явный ::text снимает неоднозначность операторов ->> (text / int).
func jsonQuery(arg int) string {
	return fmt.Sprintf("%s->>$%d::text", jsonColumn, arg)
}

// fieldExpr — выражение значения поля; поля-даты приводятся к dateFormat.
func fieldExpr(form *model.XForm, field string, arg int) string {
	expr := jsonQuery(arg)
	if form.IsDateField(field) {
		expr = fmt.Sprintf("to_char(to_date(%s, '%s'), '%s')", expr, dateFormat, dateFormat)
	}
	return expr
}

// restriction — условие активных сабмишенов формы ($1 — ID формы).
func restriction() string {
	return fmt.Sprintf("%s = $1 AND %s IS NULL", restrictField, deletedColumn)
}

// quoteIdent экранирует имя колонки результата.
func quoteIdent(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

func validate(field, name string, form *model.XForm) error {
	if form == nil {
		return errors.New("форма не задана")
	}
	if field == "" {
		return errors.New("имя поля не задано")
	}
	if name == "" {
		return errors.New("имя колонки результата не задано")
	}
	return nil
}
