package symbol

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"oneiro-bot/internal/domain"
)

const cacheTTL = 36 * time.Hour

// Service отдаёт символ дня с кэшированием по дате.
type Service struct {
	source domain.SymbolSource
	cache  domain.Cache
	loc    *time.Location
	now    func() time.Time
	log    zerolog.Logger
}

// NewService создаёт сервис символа дня. cache может быть nil.
func NewService(source domain.SymbolSource, cache domain.Cache, loc *time.Location, logger zerolog.Logger) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{source: source, cache: cache, loc: loc, now: time.Now, log: logger.With().Str("component", "symbol").Logger()}
}

func cacheKey(date string) string { return "daily-symbol:" + date }

// Today возвращает символ на текущую дату.
func (s *Service) Today(ctx context.Context) domain.DailySymbol {
	return s.For(ctx, domain.DateKey(s.now(), s.loc))
}

// For возвращает символ для даты. Ошибки источника и кэша сводятся к символу из пула.
func (s *Service) For(ctx context.Context, date string) domain.DailySymbol {
	if s.cache != nil {
		if raw, err := s.cache.Get(ctx, cacheKey(date)); err == nil {
			var cached domain.DailySymbol
			if json.Unmarshal(raw, &cached) == nil && cached.Name != "" {
				return cached
			}
		}
	}
	if s.source == nil {
		return domain.PoolSymbolFor(date)
	}
	sym, err := s.source.DailySymbol(ctx, date)
	if err != nil || sym.Name == "" {
		s.log.Warn().Err(err).Str("date", date).Msg("источник символа дня недоступен")
		return domain.PoolSymbolFor(date)
	}
	sym.Date = date
	s.store(ctx, sym)
	return sym
}

// Warm заранее вычисляет символ на сегодня. Вызывается планировщиком.
func (s *Service) Warm(ctx context.Context) (domain.DailySymbol, error) {
	date := domain.DateKey(s.now(), s.loc)
	sym := domain.PoolSymbolFor(date)
	if s.source != nil {
		var err error
		if sym, err = s.source.DailySymbol(ctx, date); err != nil {
			return domain.DailySymbol{}, err
		}
	}
	sym.Date = date
	s.store(ctx, sym)
	s.log.Info().Str("date", date).Str("symbol", sym.Name).Bool("enhanced", sym.Enhanced).Msg("символ дня подготовлен")
	return sym, nil
}

func (s *Service) store(ctx context.Context, sym domain.DailySymbol) {
	if s.cache == nil {
		return
	}
	raw, err := json.Marshal(sym)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, cacheKey(sym.Date), raw, cacheTTL); err != nil {
		s.log.Debug().Err(err).Msg("не удалось закэшировать символ дня")
	}
}
