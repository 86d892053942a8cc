package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"oneiro-bot/internal/domain"
	"oneiro-bot/internal/usecase/entitlement"
	"oneiro-bot/internal/usecase/interpret"
	"oneiro-bot/internal/usecase/presentation"
)

// DefaultIdleTTL время жизни неактивной сессии.
const DefaultIdleTTL = 2 * time.Hour

// Session состояние одного пользователя мини-приложения.
type Session struct {
	viewer       domain.Viewer
	referralCode string
	runner       *interpret.Runner

	mu       sync.Mutex
	reading  *presentation.Reading
	gate     *entitlement.Gate
	progress domain.ReferralProgress
	lastSeen time.Time
}

// Viewer пользователь сессии. Не меняется за время жизни сессии.
func (s *Session) Viewer() domain.Viewer { return s.viewer }

// ReferralCode код, выданный на сессию.
func (s *Session) ReferralCode() string { return s.referralCode }

// Runner раннер толкований этой сессии.
func (s *Session) Runner() *interpret.Runner { return s.runner }

// SetReading заменяет текущее толкование и его гейт.
func (s *Session) SetReading(reading presentation.Reading, gate *entitlement.Gate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reading = &reading
	s.gate = gate
}

// Current возвращает текущее толкование и гейт.
func (s *Session) Current() (presentation.Reading, *entitlement.Gate, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reading == nil {
		return presentation.Reading{}, nil, false
	}
	return *s.reading, s.gate, true
}

// AttachVisualization привязывает изображение к толкованию, если оно всё ещё текущее.
func (s *Session) AttachVisualization(readingID string, v domain.Visualization) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reading == nil || s.reading.ID != readingID {
		return false
	}
	s.reading.Visualization = &v
	return true
}

// Progress последний известный реферальный прогресс.
func (s *Session) Progress() domain.ReferralProgress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress
}

// SetProgress запоминает реферальный прогресс.
func (s *Session) SetProgress(p domain.ReferralProgress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress = p
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *Session) idleSince(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastSeen)
}

// Store хранит сессии в памяти процесса.
type Store struct {
	pipeline *interpret.Pipeline
	codeFor  func(domain.Viewer) string
	idleTTL  time.Duration
	now      func() time.Time
	log      zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewStore создаёт хранилище. codeFor вызывается один раз при создании сессии.
func NewStore(pipeline *interpret.Pipeline, codeFor func(domain.Viewer) string, idleTTL time.Duration, logger zerolog.Logger) *Store {
	if idleTTL <= 0 {
		idleTTL = DefaultIdleTTL
	}
	return &Store{
		pipeline: pipeline,
		codeFor:  codeFor,
		idleTTL:  idleTTL,
		now:      time.Now,
		log:      logger.With().Str("component", "session").Logger(),
		sessions: make(map[string]*Session),
	}
}

// Get возвращает сессию по ключу, создавая её при первом обращении.
func (st *Store) Get(key string, viewer domain.Viewer) *Session {
	now := st.now()
	st.mu.Lock()
	s, ok := st.sessions[key]
	if !ok {
		s = &Session{
			viewer:       viewer,
			referralCode: st.codeFor(viewer),
			runner:       interpret.NewRunner(st.pipeline),
		}
		st.sessions[key] = s
	}
	st.mu.Unlock()
	if !ok {
		st.log.Debug().Str("session", key).Int64("viewer", viewer.ID).Msg("session: создана")
	}
	s.touch(now)
	return s
}

// Len количество живых сессий.
func (st *Store) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}

// Sweep удаляет сессии, неактивные дольше idleTTL, и отменяет их запуски.
func (st *Store) Sweep(now time.Time) int {
	st.mu.Lock()
	defer st.mu.Unlock()
	removed := 0
	for key, s := range st.sessions {
		if s.idleSince(now) < st.idleTTL {
			continue
		}
		s.runner.Cancel()
		delete(st.sessions, key)
		removed++
	}
	return removed
}

// Run периодически чистит сессии до отмены контекста.
func (st *Store) Run(ctx context.Context) {
	interval := st.idleTTL / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := st.Sweep(st.now()); n > 0 {
				st.log.Info().Int("removed", n).Msg("session: очищены неактивные сессии")
			}
		}
	}
}
