package functionsclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"oneiro-bot/internal/domain"
	"oneiro-bot/internal/infra/metrics"
)

// Client ходит в сервис функций: толкование, счета, рефералы, изображения, символ дня.
type Client struct {
	baseURL    *url.URL
	secret     string
	httpClient *http.Client
	llmTimeout time.Duration
	// llmClient для функций, которые ждут ответа модели: толкование, картинка, символ дня.
	llmClient *http.Client
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if c.httpClient == nil {
			c.httpClient = &http.Client{}
		}
		c.httpClient.Timeout = timeout
	}
}

// WithLLMTimeout задаёт таймаут вызовов, которые ждут ответа модели.
func WithLLMTimeout(timeout time.Duration) Option {
	return func(c *Client) { c.llmTimeout = timeout }
}

// WithSecret задаёт общий секрет, который уходит в Authorization.
func WithSecret(secret string) Option {
	return func(c *Client) { c.secret = secret }
}

type apiError struct {
	Error string `json:"error"`
	Code  string `json:"error_code"`
}

var (
	_ domain.Interpreter     = (*Client)(nil)
	_ domain.InvoiceIssuer   = (*Client)(nil)
	_ domain.CreditLedger    = (*Client)(nil)
	_ domain.ReferralService = (*Client)(nil)
	_ domain.ImageGenerator  = (*Client)(nil)
	_ domain.SymbolSource    = (*Client)(nil)
)

func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("baseURL is required")
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Scheme == "" {
		parsed.Scheme = "http"
	}
	client := &Client{
		baseURL:    parsed,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(client)
	}
	client.llmClient = client.httpClient
	if client.llmTimeout > 0 {
		slow := *client.httpClient
		slow.Timeout = client.llmTimeout
		client.llmClient = &slow
	}
	return client, nil
}

type interpretRequest struct {
	DreamText      string   `json:"dreamText"`
	Mood           []string `json:"mood"`
	IsRecurring    bool     `json:"isRecurring"`
	TelegramUserID int64    `json:"telegramUserId,omitempty"`
	Language       string   `json:"language"`
}

var requiredResultKeys = []string{"essence", "hiddenMeaning", "deepInsight", "symbols", "advice", "emotionalTone", "spiritualMessage"}

// Interpret отправляет сон в interpret-dream. Тело с полем error или без обязательных ключей считается сбоем.
func (c *Client) Interpret(ctx context.Context, submission domain.DreamSubmission, viewer domain.Viewer) (domain.InterpretationResult, error) {
	payload := interpretRequest{
		DreamText:      submission.Text,
		Mood:           submission.MoodStrings(),
		IsRecurring:    submission.IsRecurring,
		TelegramUserID: viewer.ID,
		Language:       string(submission.Language),
	}
	var raw json.RawMessage
	if err := c.postWith(ctx, c.llmClient, "/interpret-dream", payload, &raw); err != nil {
		return domain.InterpretationResult{}, err
	}
	body := gjson.ParseBytes(raw)
	if !body.IsObject() {
		return domain.InterpretationResult{}, fmt.Errorf("%w: interpret-dream: тело не объект", domain.ErrCollaboratorFailure)
	}
	if e := body.Get("error"); e.Exists() {
		return domain.InterpretationResult{}, fmt.Errorf("%w: interpret-dream: %s", domain.ErrCollaboratorFailure, e.String())
	}
	for _, key := range requiredResultKeys {
		if !body.Get(key).Exists() {
			return domain.InterpretationResult{}, fmt.Errorf("%w: interpret-dream: нет поля %s", domain.ErrCollaboratorFailure, key)
		}
	}
	var result domain.InterpretationResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return domain.InterpretationResult{}, fmt.Errorf("%w: decode interpret-dream: %v", domain.ErrCollaboratorFailure, err)
	}
	result.IsFallback = false
	return result, nil
}

// CreateInvoice просит create-invoice выпустить ссылку на оплату.
func (c *Client) CreateInvoice(ctx context.Context, product domain.Product, viewerID int64) (domain.Invoice, error) {
	payload := map[string]any{"product": product, "userId": viewerID}
	var invoice domain.Invoice
	if err := c.post(ctx, "/create-invoice", payload, &invoice); err != nil {
		return domain.Invoice{}, err
	}
	if invoice.URL == "" {
		return domain.Invoice{}, fmt.Errorf("%w: create-invoice: пустая ссылка", domain.ErrCollaboratorFailure)
	}
	invoice.Product = product
	invoice.ViewerID = viewerID
	return invoice, nil
}

// ApplyReferral вызывает handle-referral. Повторное приглашение возвращает исход вместе с ErrAlreadyReferred.
func (c *Client) ApplyReferral(ctx context.Context, viewerID int64, code string) (domain.ReferralOutcome, error) {
	payload := map[string]any{"userId": viewerID, "referralCode": code}
	var outcome domain.ReferralOutcome
	if err := c.post(ctx, "/handle-referral", payload, &outcome); err != nil {
		if errors.Is(err, domain.ErrAlreadyReferred) {
			return domain.ReferralOutcome{Success: false}, err
		}
		return domain.ReferralOutcome{}, err
	}
	return outcome, nil
}

// Progress читает referral-progress.
func (c *Client) Progress(ctx context.Context, viewerID int64) (domain.ReferralProgress, error) {
	var progress domain.ReferralProgress
	if err := c.post(ctx, "/referral-progress", map[string]any{"userId": viewerID}, &progress); err != nil {
		return domain.ReferralProgress{}, err
	}
	return progress, nil
}

// ConsumeCredit списывает бесплатное прочтение и возвращает остаток.
func (c *Client) ConsumeCredit(ctx context.Context, viewerID int64) (int, error) {
	var out struct {
		FreeCreditsEarned int `json:"freeCreditsEarned"`
	}
	if err := c.post(ctx, "/consume-credit", map[string]any{"userId": viewerID}, &out); err != nil {
		return 0, err
	}
	return out.FreeCreditsEarned, nil
}

// Visualize вызывает visualize-dream.
func (c *Client) Visualize(ctx context.Context, req domain.VisualizationRequest) (domain.Visualization, error) {
	var v domain.Visualization
	if err := c.postWith(ctx, c.llmClient, "/visualize-dream", req, &v); err != nil {
		return domain.Visualization{}, err
	}
	return v, nil
}

// DailySymbol читает символ дня на дату.
func (c *Client) DailySymbol(ctx context.Context, date string) (domain.DailySymbol, error) {
	var s domain.DailySymbol
	if err := c.get(ctx, c.llmClient, "/daily-symbol?date="+url.QueryEscape(date), &s); err != nil {
		return domain.DailySymbol{}, err
	}
	return s, nil
}

func (c *Client) get(ctx context.Context, client *http.Client, endpoint string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(client, req, out)
}

func (c *Client) post(ctx context.Context, endpoint string, body any, out any) error {
	return c.postWith(ctx, c.httpClient, endpoint, body, out)
}

func (c *Client) postWith(ctx context.Context, client *http.Client, endpoint string, body any, out any) error {
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return err
	}
	return c.do(client, req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body any) (*http.Request, error) {
	resolved := *c.baseURL
	endpointPath, rawQuery, _ := strings.Cut(endpoint, "?")
	basePath := strings.TrimSuffix(c.baseURL.Path, "/")
	resolved.Path = path.Clean(basePath + endpointPath)
	resolved.RawQuery = rawQuery
	var buf io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		buf = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, resolved.String(), buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.secret != "" {
		req.Header.Set("Authorization", "Bearer "+c.secret)
	}
	return req, nil
}

func (c *Client) do(client *http.Client, req *http.Request, out any) (err error) {
	start := time.Now()
	defer func() {
		metrics.ObserveNetworkRequest("functions", req.Method, path.Base(req.URL.Path), start, err)
	}()

	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return fmt.Errorf("%w: functions request failed: %v", domain.ErrCollaboratorFailure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr apiError
		data, readErr := io.ReadAll(resp.Body)
		if readErr == nil && len(data) > 0 {
			_ = json.Unmarshal(data, &apiErr)
		}
		if apiErr.Error == "" {
			apiErr.Error = strings.TrimSpace(string(data))
		}
		return mapAPIError(resp.StatusCode, apiErr)
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", domain.ErrCollaboratorFailure, err)
	}
	return nil
}

func mapAPIError(status int, err apiError) error {
	if sentinel := domain.ErrorForCode(err.Code); sentinel != nil {
		return fmt.Errorf("%w: %s", sentinel, err.Error)
	}
	switch {
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, err.Error)
	case status == http.StatusServiceUnavailable:
		return fmt.Errorf("%w: %s", domain.ErrCollaboratorUnavailable, err.Error)
	case err.Code == "":
		return fmt.Errorf("%w: functions api error: status=%d message=%s", domain.ErrCollaboratorFailure, status, err.Error)
	default:
		return fmt.Errorf("%w: functions api error [%s]: %s", domain.ErrCollaboratorFailure, err.Code, err.Error)
	}
}
