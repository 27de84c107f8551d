package service

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/bigkaa/goodk/formdata-module/internal/domain/model"
	"github.com/bigkaa/goodk/formdata-module/internal/repository"
)

func int64Ptr(v int64) *int64 { return &v }

// TestGetForm_Found проверяет получение формы и её кэширование по ID.
func TestGetForm_Found(t *testing.T) {
	repo := &mockFormRepo{getFn: func(_ context.Context, lookup repository.FormLookup) (*model.XForm, error) {
		return &model.XForm{ID: *lookup.ID, IDString: "tutorial"}, nil
	}}
	svc := NewFormService(repo, NewCacheService(10, time.Minute), testLogger())

	for range 2 {
		form, err := svc.GetForm(context.Background(), repository.FormLookup{ID: int64Ptr(5)})
		if err != nil {
			t.Fatalf("GetForm() вернул ошибку: %v", err)
		}
		if form.ID != 5 {
			t.Errorf("ID = %d, ожидался 5", form.ID)
		}
	}
	if repo.calls != 1 {
		t.Errorf("обращений к репозиторию = %d, ожидалось 1", repo.calls)
	}
	if repo.checks != 1 {
		t.Errorf("проверок активности = %d, ожидалась 1", repo.checks)
	}
}

// TestGetForm_NotFound проверяет ошибку для отсутствующей формы.
func TestGetForm_NotFound(t *testing.T) {
	repo := &mockFormRepo{getFn: func(context.Context, repository.FormLookup) (*model.XForm, error) {
		return nil, repository.ErrNotFound
	}}
	svc := NewFormService(repo, nil, testLogger())

	_, err := svc.GetForm(context.Background(), repository.FormLookup{IDString: "non_existent_form"})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, ожидалась ErrNotFound", err)
	}
}

// TestGetForm_SoftDeletedAfterCaching проверяет, что форма, удалённая после
// попадания в кэш, больше не возвращается.
func TestGetForm_SoftDeletedAfterCaching(t *testing.T) {
	deleted := false
	repo := &mockFormRepo{
		getFn: func(_ context.Context, lookup repository.FormLookup) (*model.XForm, error) {
			if deleted {
				return nil, repository.ErrNotFound
			}
			return &model.XForm{ID: *lookup.ID, IDString: "tutorial"}, nil
		},
		isActiveFn: func(context.Context, int64) (bool, error) {
			return !deleted, nil
		},
	}
	cache := NewCacheService(10, time.Minute)
	svc := NewFormService(repo, cache, testLogger())
	lookup := repository.FormLookup{ID: int64Ptr(9)}

	if _, err := svc.GetForm(context.Background(), lookup); err != nil {
		t.Fatalf("GetForm() вернул ошибку: %v", err)
	}

	deleted = true

	for range 2 {
		if _, err := svc.GetForm(context.Background(), lookup); !errors.Is(err, ErrNotFound) {
			t.Errorf("err = %v, ожидалась ErrNotFound", err)
		}
	}
	if _, ok := cache.Get(9); ok {
		t.Error("удалённая форма должна быть вытеснена из кэша")
	}
	if repo.checks != 1 || repo.calls != 2 {
		t.Errorf("проверок = %d, загрузок = %d, ожидалось 1 и 2", repo.checks, repo.calls)
	}
}

// TestGetForm_CacheCheckError проверяет проброс ошибки проверки кэшированной формы.
func TestGetForm_CacheCheckError(t *testing.T) {
	dbErr := errors.New("connection refused")
	repo := &mockFormRepo{
		getFn: func(_ context.Context, lookup repository.FormLookup) (*model.XForm, error) {
			return &model.XForm{ID: *lookup.ID}, nil
		},
		isActiveFn: func(context.Context, int64) (bool, error) {
			return false, dbErr
		},
	}
	svc := NewFormService(repo, NewCacheService(10, time.Minute), testLogger())
	lookup := repository.FormLookup{ID: int64Ptr(3)}

	if _, err := svc.GetForm(context.Background(), lookup); err != nil {
		t.Fatalf("GetForm() вернул ошибку: %v", err)
	}
	if _, err := svc.GetForm(context.Background(), lookup); !errors.Is(err, dbErr) || errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, ожидалась исходная ошибка БД", err)
	}
}

// TestGetForm_ByIDStringSkipsCache проверяет, что поиск по id_string идёт в БД.
func TestGetForm_ByIDStringSkipsCache(t *testing.T) {
	repo := &mockFormRepo{getFn: func(_ context.Context, lookup repository.FormLookup) (*model.XForm, error) {
		if !lookup.IgnoreCase {
			t.Error("ожидался поиск без учёта регистра")
		}
		return &model.XForm{ID: 1, IDString: "tutorial"}, nil
	}}
	svc := NewFormService(repo, NewCacheService(10, time.Minute), testLogger())

	lookup := repository.FormLookup{IDString: "Tutorial", IgnoreCase: true}
	for range 2 {
		if _, err := svc.GetForm(context.Background(), lookup); err != nil {
			t.Fatalf("GetForm() вернул ошибку: %v", err)
		}
	}
	if repo.calls != 2 {
		t.Errorf("обращений к репозиторию = %d, ожидалось 2", repo.calls)
	}
}

// TestGetForm_InvalidLookup проверяет ошибку валидации без критериев.
func TestGetForm_InvalidLookup(t *testing.T) {
	repo := &mockFormRepo{getFn: func(context.Context, repository.FormLookup) (*model.XForm, error) {
		return nil, repository.ErrInvalidLookup
	}}
	svc := NewFormService(repo, nil, testLogger())

	if _, err := svc.GetForm(context.Background(), repository.FormLookup{}); !errors.Is(err, ErrValidation) {
		t.Errorf("err = %v, ожидалась ErrValidation", err)
	}
}

// TestGetForm_RepoError проверяет проброс прочих ошибок.
func TestGetForm_RepoError(t *testing.T) {
	dbErr := errors.New("connection refused")
	repo := &mockFormRepo{getFn: func(context.Context, repository.FormLookup) (*model.XForm, error) {
		return nil, dbErr
	}}
	svc := NewFormService(repo, nil, testLogger())

	_, err := svc.GetForm(context.Background(), repository.FormLookup{ID: int64Ptr(1)})
	if !errors.Is(err, dbErr) || errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, ожидалась исходная ошибка БД", err)
	}
}

// TestFields проверяет списки полей по виду.
func TestFields(t *testing.T) {
	svc := NewFormService(nil, nil, testLogger())
	form := testForm()

	all, err := svc.Fields(form, "")
	if err != nil || !slices.Equal(all, []string{"visit_date", "age", "weight", "gender"}) {
		t.Errorf("Fields(all) = %v, %v", all, err)
	}

	dates, err := svc.Fields(form, FieldKindDate)
	if err != nil || !slices.Equal(dates, []string{model.SubmissionTime, "visit_date"}) {
		t.Errorf("Fields(date) = %v, %v", dates, err)
	}

	numeric, err := svc.Fields(form, FieldKindNumeric)
	if err != nil || !slices.Equal(numeric, []string{"weight", "age"}) {
		t.Errorf("Fields(numeric) = %v, %v", numeric, err)
	}

	if _, err := svc.Fields(form, "geo"); !errors.Is(err, ErrValidation) {
		t.Errorf("Fields(geo) err = %v, ожидалась ErrValidation", err)
	}
}
