package visualize

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"oneiro-bot/internal/domain"
	"oneiro-bot/internal/infra/metrics"
)

const (
	// DailyLimit максимум генераций на пользователя в окне.
	DailyLimit = 5
	// Window окно лимита.
	Window = 24 * time.Hour
)

// Service генерирует изображения снов с ограничением частоты.
type Service struct {
	generator domain.ImageGenerator
	window    domain.RateWindow
	log       zerolog.Logger
}

// NewService создаёт сервис визуализации.
func NewService(generator domain.ImageGenerator, window domain.RateWindow, logger zerolog.Logger) *Service {
	return &Service{generator: generator, window: window, log: logger.With().Str("component", "visualize").Logger()}
}

func rateKey(viewerID int64) string { return "visualize:" + strconv.FormatInt(viewerID, 10) }

// Visualize проверяет лимит и вызывает генератор.
func (s *Service) Visualize(ctx context.Context, req domain.VisualizationRequest) (domain.Visualization, error) {
	if strings.TrimSpace(req.DreamText) == "" {
		return domain.Visualization{}, fmt.Errorf("%w: dreamText is required", domain.ErrValidation)
	}
	if req.ViewerID <= 0 {
		return domain.Visualization{}, fmt.Errorf("%w: userId is required", domain.ErrValidation)
	}
	if s.generator == nil {
		return domain.Visualization{}, domain.ErrCollaboratorUnavailable
	}
	ok, err := s.window.Hit(ctx, rateKey(req.ViewerID), DailyLimit, Window)
	if err != nil {
		return domain.Visualization{}, fmt.Errorf("%w: rate window: %v", domain.ErrCollaboratorFailure, err)
	}
	if !ok {
		metrics.ImageRateLimited.Inc()
		s.log.Info().Int64("tg_user_id", req.ViewerID).Msg("лимит визуализаций исчерпан")
		return domain.Visualization{}, fmt.Errorf("%w: Maximum %d visualizations per 24 hours", domain.ErrRateLimited, DailyLimit)
	}
	v, err := s.generator.Visualize(ctx, req)
	if err != nil {
		s.log.Error().Err(err).Int64("tg_user_id", req.ViewerID).Msg("визуализация не удалась")
		return domain.Visualization{}, err
	}
	return v, nil
}
