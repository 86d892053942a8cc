package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"oneiro-bot/internal/domain"
	httpinfra "oneiro-bot/internal/infra/http"
	"oneiro-bot/internal/usecase/entitlement"
	"oneiro-bot/internal/usecase/presentation"
	"oneiro-bot/internal/usecase/referral"
)

type sessionRequest struct {
	InitData   string `json:"initData"`
	StartParam string `json:"startParam"`
}

type sessionResponse struct {
	Token        string                  `json:"token"`
	Viewer       domain.Viewer           `json:"viewer"`
	ReferralCode string                  `json:"referralCode"`
	ReferralLink string                  `json:"referralLink"`
	Progress     domain.ReferralProgress `json:"progress"`
}

// createSession обменивает initData на токен сессии.
func (a *API) createSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	if req.InitData == "" {
		req.InitData = r.Header.Get(httpinfra.InitDataHeader)
	}
	viewer, err := httpinfra.ValidateInitData(req.InitData, a.cfg.BotToken, a.cfg.InitDataMaxAge, a.now())
	if err != nil {
		httpinfra.WriteError(w, http.StatusUnauthorized, err)
		return
	}
	token, principal, err := a.deps.Tokens.Issue(httpinfra.Principal{Viewer: viewer})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	sess := a.deps.Sessions.Get(principal.Key(), viewer)

	if code := strings.TrimSpace(req.StartParam); code != "" && !viewer.IsGuest() && a.deps.Invites != nil {
		if _, err := a.deps.Invites.ApplyReferral(r.Context(), viewer.ID, code); err != nil && !errors.Is(err, domain.ErrAlreadyReferred) {
			a.log.Warn().Err(err).Int64("viewer", viewer.ID).Str("code", code).Msg("api: приглашение не засчитано")
		}
	}
	progress := a.deps.Referrals.Progress(r.Context(), viewer)
	sess.SetProgress(progress)

	writeJSON(w, http.StatusOK, sessionResponse{
		Token:        token,
		Viewer:       viewer,
		ReferralCode: sess.ReferralCode(),
		ReferralLink: a.deps.Referrals.Link(sess.ReferralCode()),
		Progress:     progress,
	})
}

type dreamRequest struct {
	Text        string   `json:"dreamText"`
	Moods       []string `json:"mood"`
	IsRecurring bool     `json:"isRecurring"`
	Language    string   `json:"language"`
}

type readingResponse struct {
	ReadingID     string                `json:"readingId"`
	Reason        entitlement.Reason    `json:"reason,omitempty"`
	Preview       bool                  `json:"preview,omitempty"`
	Visualization *domain.Visualization `json:"visualization,omitempty"`
	View          presentation.View     `json:"view"`
}

func readingView(reading presentation.Reading, gate *entitlement.Gate) readingResponse {
	return readingResponse{
		ReadingID:     reading.ID,
		Reason:        gate.Reason(),
		Preview:       gate.Preview(),
		Visualization: reading.Visualization,
		View:          presentation.BuildView(reading.Result, gate.State()),
	}
}

// submitDream толкует сон и открывает для него новый гейт.
func (a *API) submitDream(w http.ResponseWriter, r *http.Request) {
	sess, err := a.session(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	var req dreamRequest
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	viewer := sess.Viewer()
	lang := req.Language
	if lang == "" {
		lang = viewer.LanguageCode
	}
	sub := domain.NewDreamSubmission(req.Text, req.Moods, req.IsRecurring, lang)
	if err := sub.Validate(); err != nil {
		a.writeError(w, r, err)
		return
	}

	result, err := sess.Runner().Run(r.Context(), sub, viewer)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	opts := entitlement.OpenOptions{
		FirstReading: a.firstReading(r, sess.Viewer(), sess.Current),
		Preview:      a.previewRequested(r),
	}
	gate := a.deps.Engine.Open(r.Context(), viewer, opts)
	reading := presentation.Reading{
		ID:         uuid.NewString(),
		Submission: sub,
		Result:     result,
		CreatedAt:  a.now().UTC(),
	}
	sess.SetReading(reading, gate)
	sess.SetProgress(domain.ReferralProgress{
		ReferralCount:     gate.State().ReferralCount,
		FreeCreditsEarned: gate.State().FreeCreditsAvailable,
	})
	writeJSON(w, http.StatusOK, readingView(reading, gate))
}

// firstReading применяет правило «первое прочтение бесплатно». Известный пользователь
// учитывается в реестре, гость и пользователь без реестра в пределах сессии.
func (a *API) firstReading(r *http.Request, viewer domain.Viewer, current func() (presentation.Reading, *entitlement.Gate, bool)) bool {
	if viewer.IsGuest() || a.deps.Readings == nil {
		_, _, had := current()
		return !had
	}
	first, err := a.deps.Readings.RegisterReading(r.Context(), viewer.ID)
	if err != nil {
		a.log.Warn().Err(err).Int64("viewer", viewer.ID).Msg("api: не удалось учесть прочтение")
		return false
	}
	return first
}

func (a *API) currentDream(w http.ResponseWriter, r *http.Request) {
	sess, err := a.session(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	reading, gate, ok := sess.Current()
	if !ok {
		a.writeError(w, r, domain.ErrNoResult)
		return
	}
	writeJSON(w, http.StatusOK, readingView(reading, gate))
}

type unlockRequest struct {
	Product string `json:"product"`
}

type unlockResponse struct {
	Unlocked   bool               `json:"unlocked"`
	Via        entitlement.Reason `json:"via,omitempty"`
	InvoiceID  string             `json:"invoice_id,omitempty"`
	InvoiceURL string             `json:"invoice_url,omitempty"`
	View       presentation.View  `json:"view"`
}

func (a *API) unlock(w http.ResponseWriter, r *http.Request) {
	sess, err := a.session(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	var req unlockRequest
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	product := domain.ProductFullReading
	if req.Product != "" {
		info, err := domain.LookupProduct(req.Product)
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		product = info.Product
	}
	reading, gate, ok := sess.Current()
	if !ok {
		a.writeError(w, r, domain.ErrNoResult)
		return
	}
	res, err := presentation.Presenter{}.Unlock(r.Context(), gate, reading, product)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	resp := unlockResponse{Unlocked: res.Outcome.Unlocked, Via: res.Outcome.Via, View: res.View}
	if inv := res.Outcome.Invoice; inv != nil {
		resp.InvoiceID = inv.ID
		resp.InvoiceURL = inv.URL
	}
	writeJSON(w, http.StatusOK, resp)
}

type confirmRequest struct {
	InvoiceID string `json:"invoice_id"`
	Status    string `json:"status"`
}

// confirmPayment применяет статус платёжной формы. unknown считается оплатой,
// если воркер уже записал покупку продукта из ожидающего счёта.
func (a *API) confirmPayment(w http.ResponseWriter, r *http.Request) {
	sess, err := a.session(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	var req confirmRequest
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.InvoiceID) == "" {
		a.writeError(w, r, fmt.Errorf("%w: invoice_id is required", domain.ErrValidation))
		return
	}
	reading, gate, ok := sess.Current()
	if !ok {
		a.writeError(w, r, domain.ErrNoResult)
		return
	}
	status := domain.ParsePaymentStatus(req.Status)
	if status == domain.PaymentUnknown {
		if product, pending := gate.PendingProduct(req.InvoiceID); pending && a.receiptExists(r, sess.Viewer(), product, reading) {
			status = domain.PaymentPaid
		}
	}
	view, err := presentation.Presenter{}.Confirm(gate, reading, req.InvoiceID, status)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": status, "view": view})
}

func (a *API) receiptExists(r *http.Request, viewer domain.Viewer, product domain.Product, reading presentation.Reading) bool {
	if a.deps.Purchases == nil || viewer.IsGuest() {
		return false
	}
	has, err := a.deps.Purchases.HasPurchase(r.Context(), viewer.ID, product, reading.CreatedAt)
	if err != nil {
		a.log.Warn().Err(err).Int64("viewer", viewer.ID).Msg("api: не удалось проверить покупку")
		return false
	}
	return has
}

type journalRequest struct {
	Confirm bool `json:"confirm"`
}

func (a *API) saveJournal(w http.ResponseWriter, r *http.Request) {
	sess, err := a.session(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	var req journalRequest
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	reading, gate, ok := sess.Current()
	if !ok {
		a.writeError(w, r, domain.ErrNoResult)
		return
	}
	entry, err := a.deps.Saver.Save(r.Context(), sess.Viewer(), reading, gate.State().Unlocked, req.Confirm)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (a *API) listJournal(w http.ResponseWriter, r *http.Request) {
	sess, err := a.session(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	viewer := sess.Viewer()
	entries := []domain.JournalEntry{}
	if !viewer.IsGuest() && a.deps.Journal != nil {
		list, err := a.deps.Journal.ListJournal(r.Context(), viewer.ID, a.cfg.JournalLimit)
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		entries = append(entries, list...)
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

type shareRequest struct {
	CanOpenLink bool `json:"can_open_link"`
	CanCopy     bool `json:"can_copy"`
}

func (a *API) share(w http.ResponseWriter, r *http.Request) {
	sess, err := a.session(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	var req shareRequest
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	reading, _, ok := sess.Current()
	if !ok {
		a.writeError(w, r, domain.ErrNoResult)
		return
	}
	text := a.deps.Sharer.Text(reading.Result.HiddenMeaning, reading.Result.Essence)
	host := presentation.CapabilityHost{CanOpenLink: req.CanOpenLink, CanCopy: req.CanCopy}
	writeJSON(w, http.StatusOK, a.deps.Sharer.Share(r.Context(), text, host))
}

type referralResponse struct {
	Code      string                  `json:"code"`
	Link      string                  `json:"link"`
	Progress  domain.ReferralProgress `json:"progress"`
	Threshold int                     `json:"threshold"`
	Copy      referral.Intent         `json:"copy"`
	Share     referral.Intent         `json:"share"`
}

func (a *API) referralInfo(w http.ResponseWriter, r *http.Request) {
	sess, err := a.session(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	code := sess.ReferralCode()
	progress := a.deps.Referrals.Progress(r.Context(), sess.Viewer())
	sess.SetProgress(progress)
	writeJSON(w, http.StatusOK, referralResponse{
		Code:      code,
		Link:      a.deps.Referrals.Link(code),
		Progress:  progress,
		Threshold: domain.ReferralThreshold,
		Copy:      a.deps.Referrals.CopyIntent(code),
		Share:     a.deps.Referrals.ShareIntent(code),
	})
}

// visualize генерирует изображение текущего сна. Нужна покупка визуализатора или предпросмотр.
func (a *API) visualize(w http.ResponseWriter, r *http.Request) {
	sess, err := a.session(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	reading, gate, ok := sess.Current()
	if !ok {
		a.writeError(w, r, domain.ErrNoResult)
		return
	}
	if !gate.Purchased(domain.ProductDreamVisualizer) && !gate.Preview() {
		a.writeError(w, r, fmt.Errorf("%w: %s", errPaymentRequired, domain.ProductDreamVisualizer))
		return
	}
	if a.deps.Images == nil {
		a.writeError(w, r, domain.ErrCollaboratorUnavailable)
		return
	}
	v, err := a.deps.Images.Visualize(r.Context(), domain.VisualizationRequest{
		DreamText:     reading.Submission.Text,
		Symbols:       reading.Result.Symbols,
		EmotionalTone: reading.Result.EmotionalTone,
		ViewerID:      sess.Viewer().ID,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	attached := sess.AttachVisualization(reading.ID, v)
	writeJSON(w, http.StatusOK, map[string]any{"imageUrl": v.ImageURL, "artTitle": v.ArtTitle, "attached": attached})
}

func (a *API) dailySymbol(w http.ResponseWriter, r *http.Request) {
	if a.deps.Symbols == nil {
		a.writeError(w, r, domain.ErrCollaboratorUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, a.deps.Symbols.Today(r.Context()))
}
