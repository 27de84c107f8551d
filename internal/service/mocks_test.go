package service

import (
	"context"
	"io"
	"log/slog"

	"github.com/bigkaa/goodk/formdata-module/internal/domain/model"
	"github.com/bigkaa/goodk/formdata-module/internal/repository"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockFormRepo — мок FormRepository.
// isActiveFn == nil — форма считается активной.
type mockFormRepo struct {
	getFn      func(ctx context.Context, lookup repository.FormLookup) (*model.XForm, error)
	isActiveFn func(ctx context.Context, id int64) (bool, error)
	calls      int
	checks     int
}

func (m *mockFormRepo) Get(ctx context.Context, lookup repository.FormLookup) (*model.XForm, error) {
	m.calls++
	return m.getFn(ctx, lookup)
}

func (m *mockFormRepo) IsActive(ctx context.Context, id int64) (bool, error) {
	m.checks++
	if m.isActiveFn == nil {
		return true, nil
	}
	return m.isActiveFn(ctx, id)
}

// mockSubmissionRepo — мок SubmissionRepository.
type mockSubmissionRepo struct {
	fieldRecordsFn   func(ctx context.Context, form *model.XForm, field string) ([]float64, error)
	groupedByFieldFn func(ctx context.Context, form *model.XForm, field, name, groupBy string) ([]map[string]any, error)
}

func (m *mockSubmissionRepo) FieldRecords(ctx context.Context, form *model.XForm, field string) ([]float64, error) {
	return m.fieldRecordsFn(ctx, form, field)
}

func (m *mockSubmissionRepo) GroupedByField(
	ctx context.Context, form *model.XForm, field, name, groupBy string,
) ([]map[string]any, error) {
	return m.groupedByFieldFn(ctx, form, field, name, groupBy)
}

// mockEnketo — мок EnketoClient.
type mockEnketo struct {
	surveyFn  func(ctx context.Context, serverURL, formID string) (string, error)
	previewFn func(ctx context.Context, serverURL, formID string) (string, error)
	singleFn  func(ctx context.Context, serverURL, formID string) (string, error)
}

func (m *mockEnketo) SurveyURL(ctx context.Context, serverURL, formID string) (string, error) {
	return m.surveyFn(ctx, serverURL, formID)
}

func (m *mockEnketo) PreviewURL(ctx context.Context, serverURL, formID string) (string, error) {
	return m.previewFn(ctx, serverURL, formID)
}

func (m *mockEnketo) SingleSubmitURL(ctx context.Context, serverURL, formID string) (string, error) {
	return m.singleFn(ctx, serverURL, formID)
}

// testForm — форма с датой, числовыми и текстовым полями.
func testForm() *model.XForm {
	return &model.XForm{
		ID:       42,
		IDString: "tutorial",
		Owner:    "bob",
		Survey: &model.SurveyElement{
			Name: "tutorial",
			Type: model.TypeSurvey,
			Children: []*model.SurveyElement{
				{Name: "visit_date", Type: model.TypeDate},
				{Name: "age", Type: model.TypeInteger},
				{Name: "weight", Type: model.TypeDecimal},
				{Name: "gender", Type: model.TypeSelectOne},
			},
		},
	}
}
