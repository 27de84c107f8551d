// forms.go — сервис получения форм и списков их полей.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bigkaa/goodk/formdata-module/internal/domain/model"
	"github.com/bigkaa/goodk/formdata-module/internal/repository"
)

// Виды списков полей.
const (
	FieldKindAll     = "all"
	FieldKindDate    = "date"
	FieldKindNumeric = "numeric"
)

// FormService — получение активных форм с кэшированием по ID.
type FormService struct {
	repo   repository.FormRepository
	cache  *CacheService
	logger *slog.Logger
}

// NewFormService создаёт сервис форм. cache может быть nil.
func NewFormService(repo repository.FormRepository, cache *CacheService, logger *slog.Logger) *FormService {
	return &FormService{
		repo:   repo,
		cache:  cache,
		logger: logger.With(slog.String("component", "form_service")),
	}
}

// GetForm возвращает форму по критериям.
// ErrNotFound — форма не существует или помечена как удалённая.
// Кэш используется только для поиска по одному ID; при попадании
// deleted_at формы всё равно проверяется в БД.
func (s *FormService) GetForm(ctx context.Context, lookup repository.FormLookup) (*model.XForm, error) {
	byIDOnly := lookup.ID != nil && lookup.IDString == "" && lookup.Owner == ""

	if byIDOnly && s.cache != nil {
		if form, ok := s.cache.Get(*lookup.ID); ok {
			return s.checkCached(ctx, form)
		}
	}

	form, err := s.repo.Get(ctx, lookup)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		if errors.Is(err, repository.ErrInvalidLookup) {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		return nil, fmt.Errorf("получение формы: %w", err)
	}

	if s.cache != nil {
		s.cache.Set(form)
	}

	s.logger.Debug("Форма загружена из БД",
		slog.Int64("form_id", form.ID),
		slog.String("id_string", form.IDString),
	)
	return form, nil
}

// checkCached возвращает форму из кэша, если она всё ещё активна.
// Удалённая или исчезнувшая форма вытесняется из кэша.
func (s *FormService) checkCached(ctx context.Context, form *model.XForm) (*model.XForm, error) {
	active, err := s.repo.IsActive(ctx, form.ID)
	if err != nil {
		return nil, fmt.Errorf("проверка формы: %w", err)
	}
	if !active {
		s.cache.Delete(form.ID)
		s.logger.Debug("Форма удалена, запись кэша сброшена", slog.Int64("form_id", form.ID))
		return nil, ErrNotFound
	}
	return form, nil
}

// Fields возвращает список полей формы указанного вида
// (all — все поля, date — поля-даты, numeric — числовые).
func (s *FormService) Fields(form *model.XForm, kind string) ([]string, error) {
	switch kind {
	case "", FieldKindAll:
		fields := form.Fields()
		names := make([]string, 0, len(fields))
		for _, f := range fields {
			names = append(names, f.AbbreviatedXPath)
		}
		return names, nil
	case FieldKindDate:
		return form.DateFields(), nil
	case FieldKindNumeric:
		return form.NumericFields(), nil
	default:
		return nil, fmt.Errorf("%w: неизвестный вид полей %q", ErrValidation, kind)
	}
}
