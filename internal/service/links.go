// links.go — сервис ссылок на форму: URL формы на сервере сбора данных
// и ссылки на веб-формы Enketo.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/bigkaa/goodk/formdata-module/internal/domain/model"
	"github.com/bigkaa/goodk/formdata-module/internal/viewer"
)

// EnketoClient — операции Enketo API, используемые сервисом ссылок.
// Реализуется *enketo.Client.
type EnketoClient interface {
	SurveyURL(ctx context.Context, serverURL, formID string) (string, error)
	PreviewURL(ctx context.Context, serverURL, formID string) (string, error)
	SingleSubmitURL(ctx context.Context, serverURL, formID string) (string, error)
}

// LinkService — построение ссылок на формы.
type LinkService struct {
	enketo         EnketoClient
	urlConfig      viewer.URLConfig
	enketoProtocol string
	logger         *slog.Logger
}

// NewLinkService создаёт сервис ссылок.
// enketoProtocol — схема server_url, передаваемого в Enketo.
func NewLinkService(
	enketo EnketoClient,
	urlConfig viewer.URLConfig,
	enketoProtocol string,
	logger *slog.Logger,
) *LinkService {
	return &LinkService{
		enketo:         enketo,
		urlConfig:      urlConfig,
		enketoProtocol: enketoProtocol,
		logger:         logger.With(slog.String("component", "link_service")),
	}
}

// FormURL возвращает URL формы владельца на сервере сбора данных.
// withPK добавляет первичный ключ формы.
func (s *LinkService) FormURL(r *http.Request, form *model.XForm, protocol string, preview, withPK bool) string {
	opts := viewer.FormURLOptions{
		Username: form.Owner,
		Protocol: protocol,
		Preview:  preview,
	}
	if withPK {
		opts.XFormPK = form.ID
	}
	return viewer.FormURL(r, s.urlConfig, opts)
}

// SingleSubmitURL возвращает ссылку Enketo для однократной отправки формы.
// server_url — preview-URL формы с её первичным ключом.
func (s *LinkService) SingleSubmitURL(ctx context.Context, r *http.Request, form *model.XForm) (string, error) {
	serverURL := s.FormURL(r, form, s.enketoProtocol, true, true)

	link, err := s.enketo.SingleSubmitURL(ctx, serverURL, form.IDString)
	if err != nil {
		return "", fmt.Errorf("ссылка однократной отправки для %s: %w", form.IDString, err)
	}
	return link, nil
}

// SurveyURL возвращает ссылку Enketo на веб-форму.
func (s *LinkService) SurveyURL(ctx context.Context, r *http.Request, form *model.XForm) (string, error) {
	serverURL := s.FormURL(r, form, s.enketoProtocol, false, false)

	link, err := s.enketo.SurveyURL(ctx, serverURL, form.IDString)
	if err != nil {
		return "", fmt.Errorf("ссылка на веб-форму %s: %w", form.IDString, err)
	}
	return link, nil
}

// PreviewURL возвращает ссылку Enketo на предпросмотр формы.
func (s *LinkService) PreviewURL(ctx context.Context, r *http.Request, form *model.XForm) (string, error) {
	serverURL := s.FormURL(r, form, s.enketoProtocol, false, false)

	link, err := s.enketo.PreviewURL(ctx, serverURL, form.IDString)
	if err != nil {
		return "", fmt.Errorf("ссылка предпросмотра %s: %w", form.IDString, err)
	}
	return link, nil
}

// EnketoDefaults возвращает значения по умолчанию для веб-формы.
func (s *LinkService) EnketoDefaults(form *model.XForm, values map[string]string) map[string]string {
	return viewer.EnketoFormDefaults(form, values)
}
