package functionsapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"oneiro-bot/internal/domain"
	httpinfra "oneiro-bot/internal/infra/http"
	"oneiro-bot/internal/usecase/visualize"
)

type interpretRequest struct {
	DreamText      string   `json:"dreamText"`
	Mood           []string `json:"mood"`
	IsRecurring    bool     `json:"isRecurring"`
	TelegramUserID int64    `json:"telegramUserId"`
	Language       string   `json:"language"`
}

// interpretDream толкует сон и сохраняет его для известного пользователя.
func (s *Server) interpretDream(w http.ResponseWriter, r *http.Request) {
	var req interpretRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, "interpret-dream", err)
		return
	}
	sub := domain.NewDreamSubmission(req.DreamText, req.Mood, req.IsRecurring, req.Language)
	if strings.TrimSpace(sub.Text) == "" {
		s.writeError(w, r, "interpret-dream", fmt.Errorf("%w: Dream text is required", domain.ErrValidation))
		return
	}
	if s.deps.Interpreter == nil {
		s.writeError(w, r, "interpret-dream", fmt.Errorf("%w: OpenAI API key not configured", domain.ErrCollaboratorUnavailable))
		return
	}
	viewer := domain.Viewer{ID: req.TelegramUserID}
	result, err := s.deps.Interpreter.Interpret(r.Context(), sub, viewer)
	if err != nil {
		s.writeError(w, r, "interpret-dream", err)
		return
	}
	if !viewer.IsGuest() && s.deps.Dreams != nil {
		id, err := s.deps.Dreams.SaveDream(r.Context(), domain.DreamRecord{
			ViewerID:    viewer.ID,
			Text:        sub.Text,
			Moods:       sub.MoodStrings(),
			IsRecurring: sub.IsRecurring,
			Language:    sub.Language,
			Result:      result,
			CreatedAt:   s.now().UTC(),
		})
		if err != nil {
			s.log.Warn().Err(err).Int64("viewer", viewer.ID).Msg("functions: толкование не сохранено")
		} else {
			s.log.Debug().Int64("viewer", viewer.ID).Int64("dream", id).Msg("functions: толкование сохранено")
		}
	}
	httpinfra.WriteJSON(w, http.StatusOK, result)
}

type userRequest struct {
	Product      string `json:"product"`
	UserID       int64  `json:"userId"`
	ReferralCode string `json:"referralCode"`
}

func (s *Server) createInvoice(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, "create-invoice", err)
		return
	}
	info, err := domain.LookupProduct(req.Product)
	if err != nil {
		s.writeError(w, r, "create-invoice", err)
		return
	}
	if req.UserID <= 0 {
		s.writeError(w, r, "create-invoice", fmt.Errorf("%w: userId is required", domain.ErrValidation))
		return
	}
	if s.deps.Invoices == nil {
		s.writeError(w, r, "create-invoice", fmt.Errorf("%w: bot token not configured", domain.ErrCollaboratorUnavailable))
		return
	}
	inv, err := s.deps.Invoices.CreateInvoice(r.Context(), info.Product, req.UserID)
	if err != nil {
		s.writeError(w, r, "create-invoice", err)
		return
	}
	s.log.Info().Int64("viewer", req.UserID).Str("product", string(info.Product)).Str("invoice", inv.ID).Msg("functions: счёт выставлен")
	httpinfra.WriteJSON(w, http.StatusOK, inv)
}

// handleReferral засчитывает приглашение. Повтор отвечает 409 с success=false.
func (s *Server) handleReferral(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, "handle-referral", err)
		return
	}
	if req.UserID <= 0 || strings.TrimSpace(req.ReferralCode) == "" {
		s.writeError(w, r, "handle-referral", fmt.Errorf("%w: userId and referralCode are required", domain.ErrValidation))
		return
	}
	outcome, err := s.deps.Ledger.ApplyReferral(r.Context(), req.UserID, req.ReferralCode)
	if errors.Is(err, domain.ErrAlreadyReferred) {
		httpinfra.WriteJSON(w, http.StatusConflict, map[string]any{
			"success":    false,
			"error":      "User already referred",
			"error_code": domain.ErrorCode(err),
		})
		return
	}
	if err != nil {
		s.writeError(w, r, "handle-referral", err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, outcome)
}

// referralProgress регистрирует пользователя, чтобы его код работал, и отдаёт прогресс.
func (s *Server) referralProgress(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, "referral-progress", err)
		return
	}
	if req.UserID <= 0 {
		s.writeError(w, r, "referral-progress", fmt.Errorf("%w: userId is required", domain.ErrValidation))
		return
	}
	if _, err := s.deps.Ledger.EnsureUser(r.Context(), req.UserID); err != nil {
		s.writeError(w, r, "referral-progress", err)
		return
	}
	progress, err := s.deps.Ledger.Progress(r.Context(), req.UserID)
	if err != nil {
		s.writeError(w, r, "referral-progress", err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, progress)
}

func (s *Server) consumeCredit(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, "consume-credit", err)
		return
	}
	if req.UserID <= 0 {
		s.writeError(w, r, "consume-credit", fmt.Errorf("%w: userId is required", domain.ErrValidation))
		return
	}
	remaining, err := s.deps.Ledger.ConsumeCredit(r.Context(), req.UserID)
	if err != nil {
		s.writeError(w, r, "consume-credit", err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, map[string]int{"freeCreditsEarned": remaining})
}

func (s *Server) visualizeDream(w http.ResponseWriter, r *http.Request) {
	var req domain.VisualizationRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, "visualize-dream", err)
		return
	}
	if s.deps.Images == nil {
		s.writeError(w, r, "visualize-dream", fmt.Errorf("%w: OpenAI API key not configured", domain.ErrCollaboratorUnavailable))
		return
	}
	v, err := s.deps.Images.Visualize(r.Context(), req)
	if errors.Is(err, domain.ErrRateLimited) {
		writeErrorBody(w, http.StatusTooManyRequests, fmt.Errorf("%w: Rate limit exceeded. Maximum %d visualizations per 24 hours.", domain.ErrRateLimited, visualize.DailyLimit))
		return
	}
	if err != nil {
		s.writeError(w, r, "visualize-dream", err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, v)
}

func (s *Server) dailySymbol(w http.ResponseWriter, r *http.Request) {
	if s.deps.Symbols == nil {
		s.writeError(w, r, "daily-symbol", domain.ErrCollaboratorUnavailable)
		return
	}
	date := strings.TrimSpace(r.URL.Query().Get("date"))
	if date == "" {
		httpinfra.WriteJSON(w, http.StatusOK, s.deps.Symbols.Today(r.Context()))
		return
	}
	if _, err := time.Parse(domain.DateLayout, date); err != nil {
		s.writeError(w, r, "daily-symbol", fmt.Errorf("%w: date must be YYYY-MM-DD", domain.ErrValidation))
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, s.deps.Symbols.For(r.Context(), date))
}
