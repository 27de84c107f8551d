// Пакет model — доменные модели Form Data Module.
// XForm — маппинг таблицы logger_xform, SurveyElement — дерево схемы формы
// (pyxform JSON), Instance — маппинг таблицы logger_instance.
package model

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"
)

// SubmissionTime — служебное поле времени отправки в JSON сабмишена.
// Всегда считается полем-датой.
const SubmissionTime = "_submission_time"

// Типы элементов схемы формы (значения поля type в pyxform JSON).
const (
	TypeSurvey = "survey"
	TypeGroup  = "group"
	TypeRepeat = "repeat"
	TypeLoop   = "loop"

	TypeDate     = "date"
	TypeDateTime = "datetime"
	TypeStart    = "start"
	TypeEnd      = "end"
	TypeToday    = "today"

	TypeDecimal = "decimal"
	TypeInteger = "integer"

	TypeText           = "text"
	TypeSelectOne      = "select one"
	TypeSelectMultiple = "select all that apply"
)

// DateTypes — типы полей, значения которых приводятся к формату даты.
var DateTypes = []string{TypeDate, TypeDateTime, TypeStart, TypeEnd, TypeToday}

// NumericTypes — типы числовых полей.
var NumericTypes = []string{TypeDecimal, TypeInteger}

// SurveyElement — узел дерева схемы формы.
type SurveyElement struct {
	// Name — имя элемента (сегмент xpath)
	Name string `json:"name"`
	// Type — тип элемента (survey, group, repeat, loop, integer, date, ...)
	Type string `json:"type"`
	// Children — вложенные элементы (для survey, group, repeat, loop)
	Children []*SurveyElement `json:"children,omitempty"`
	// Columns — варианты, по которым разворачивается loop
	Columns []*SurveyElement `json:"columns,omitempty"`
}

// Field — лист дерева схемы с вычисленными путями.
type Field struct {
	// Name — имя поля
	Name string
	// Type — тип поля
	Type string
	// XPath — полный путь, например /transportation/transport/frequency
	XPath string
	// AbbreviatedXPath — путь без корневого элемента, например transport/frequency.
	// Под этим ключом значение хранится в JSON сабмишена.
	AbbreviatedXPath string
}

// XForm — запись формы в logger_xform.
type XForm struct {
	// ID — первичный ключ формы
	ID int64
	// IDString — строковый идентификатор формы (form_id в ODK)
	IDString string
	// Title — заголовок формы
	Title string
	// Owner — username владельца формы
	Owner string
	// Downloadable — доступна ли форма для скачивания клиентами
	Downloadable bool
	// Survey — корень дерева схемы (тип survey)
	Survey *SurveyElement
	// CreatedAt — время создания
	CreatedAt time.Time
	// DeletedAt — время мягкого удаления (nil — форма активна)
	DeletedAt *time.Time
}

// ParseSurvey декодирует pyxform JSON схемы формы.
func ParseSurvey(data []byte) (*SurveyElement, error) {
	var root SurveyElement
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("некорректный JSON схемы формы: %w", err)
	}
	if root.Name == "" {
		return nil, fmt.Errorf("схема формы без имени корневого элемента")
	}
	return &root, nil
}

// IsDeleted сообщает, помечена ли форма как удалённая.
func (x *XForm) IsDeleted() bool {
	return x.DeletedAt != nil
}

// Fields возвращает все поля формы в порядке обхода в глубину.
func (x *XForm) Fields() []Field {
	if x.Survey == nil {
		return nil
	}
	return flatten(x.Survey, "", nil)
}

// FieldsOfType возвращает сокращённые xpath полей указанных типов.
// Порядок результатов соответствует порядку types, внутри типа — порядку в схеме.
func (x *XForm) FieldsOfType(types ...string) []string {
	var names []string
	for _, t := range types {
		for _, f := range x.Fields() {
			if f.Type == t {
				names = append(names, f.AbbreviatedXPath)
			}
		}
	}
	return names
}

// DateFields — поля-даты формы, включая _submission_time.
func (x *XForm) DateFields() []string {
	return append([]string{SubmissionTime}, x.FieldsOfType(DateTypes...)...)
}

// NumericFields — числовые поля формы.
func (x *XForm) NumericFields() []string {
	return x.FieldsOfType(NumericTypes...)
}

// IsDateField сообщает, является ли поле датой.
func (x *XForm) IsDateField(field string) bool {
	return slices.Contains(x.DateFields(), field)
}

// IsNumericField сообщает, является ли поле числовым.
func (x *XForm) IsNumericField(field string) bool {
	return slices.Contains(x.NumericFields(), field)
}

// Element ищет поле по полному xpath, а если не нашлось — первое поле
// с указанным именем.
func (x *XForm) Element(nameOrXPath string) (Field, bool) {
	fields := x.Fields()
	for _, f := range fields {
		if f.XPath == nameOrXPath {
			return f, true
		}
	}
	for _, f := range fields {
		if f.Name == nameOrXPath {
			return f, true
		}
	}
	return Field{}, false
}

// flatten обходит дерево в глубину и собирает листья.
// loop разворачивается в группу на каждый элемент columns.
func flatten(el *SurveyElement, parent string, acc []Field) []Field {
	xpath := parent + "/" + el.Name

	switch el.Type {
	case TypeSurvey, TypeGroup, TypeRepeat:
		for _, child := range el.Children {
			acc = flatten(child, xpath, acc)
		}
	case TypeLoop:
		for _, col := range el.Columns {
			for _, child := range el.Children {
				acc = flatten(child, xpath+"/"+col.Name, acc)
			}
		}
	default:
		acc = append(acc, Field{
			Name:             el.Name,
			Type:             el.Type,
			XPath:            xpath,
			AbbreviatedXPath: abbreviate(xpath),
		})
	}
	return acc
}

// abbreviate отбрасывает корневой сегмент xpath: /root/a/b → a/b.
func abbreviate(xpath string) string {
	parts := strings.Split(xpath, "/")
	if len(parts) <= 2 {
		return strings.TrimPrefix(xpath, "/")
	}
	return strings.Join(parts[2:], "/")
}
