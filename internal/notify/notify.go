// Package notify tells the hiring team about evaluated interviews.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/WFHTask/AI-interview/internal/evaluation"
	"github.com/WFHTask/AI-interview/internal/interview"
	"github.com/WFHTask/AI-interview/internal/logger"
)

const (
	contentType    = "application/json"
	userAgent      = "WFHTask/ai-interview"
	defaultTimeout = 10 * time.Second
	// Response bodies larger than this are not read.
	maxResponseSize = 64 << 10
)

// DefaultAllowedHosts are the only webhook hosts accepted unless configured
// otherwise.
var DefaultAllowedHosts = []string{"open.feishu.cn", "open.larksuite.com"}

var ErrHostNotAllowed = errors.New("webhook host is not allowed")

// Config configures the webhook dispatcher.
type Config struct {
	WebhookURL   string        `mapstructure:"webhook-url"`
	AllowedHosts []string      `mapstructure:"allowed-hosts"`
	DetailURL    string        `mapstructure:"detail-url"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// Nop drops every notification.
type Nop struct{}

func (Nop) Notify(context.Context, *interview.Session, *interview.JobProfile, *evaluation.Result) error {
	return nil
}

// Webhook posts interactive cards to a chat webhook.
type Webhook struct {
	url        string
	detailURL  string
	logger     *zap.Logger
	HTTPClient *http.Client
	UserAgent  string
}

// NewWebhook validates the webhook URL against the allowed hosts.
func NewWebhook(cfg Config, log *zap.Logger) (*Webhook, error) {
	hosts := cfg.AllowedHosts
	if len(hosts) == 0 {
		hosts = DefaultAllowedHosts
	}
	if err := ValidateURL(cfg.WebhookURL, hosts); err != nil {
		return nil, err
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &Webhook{
		url:       cfg.WebhookURL,
		detailURL: strings.TrimRight(cfg.DetailURL, "/"),
		logger:    log,
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
		UserAgent: userAgent,
	}, nil
}

// ValidateURL accepts only https URLs whose host is in hosts.
func ValidateURL(raw string, hosts []string) error {
	if strings.TrimSpace(raw) == "" {
		return errors.New("webhook url is not configured")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("parsing webhook url: %w", err)
	}
	if u.Scheme != "https" {
		return fmt.Errorf("webhook url must use https, got %q", u.Scheme)
	}
	if u.User != nil {
		return errors.New("webhook url must not carry credentials")
	}
	if !slices.Contains(hosts, strings.ToLower(u.Hostname())) {
		return fmt.Errorf("%w: %s", ErrHostNotAllowed, u.Hostname())
	}
	return nil
}

// Notify sends the result card. S-tier results are marked urgent and followed
// by a separate alert; a failed alert is only logged.
func (w *Webhook) Notify(ctx context.Context, session *interview.Session, job *interview.JobProfile, result *evaluation.Result) error {
	log := logger.WithSession(w.logger, session.ID, job.ID)
	urgent := result.Tier == evaluation.TierS

	card := buildCard(session, job, result, w.detail(session.ID), urgent)
	if err := w.post(ctx, card); err != nil {
		return fmt.Errorf("sending result card: %w", err)
	}
	log.Info("result card sent", zap.String("tier", string(result.Tier)), zap.Bool("urgent", urgent))

	if urgent {
		if err := w.post(ctx, buildAlert(session, job, result)); err != nil {
			log.Warn("sending urgent alert failed", zap.Error(err))
		}
	}
	return nil
}

func (w *Webhook) detail(sessionID string) string {
	if w.detailURL == "" {
		return ""
	}
	return w.detailURL + "/" + url.PathEscape(sessionID)
}

type webhookResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func (w *Webhook) post(ctx context.Context, message any) error {
	body, err := json.Marshal(message)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("User-Agent", w.UserAgent)

	w.logger.Debug("make request", zap.String("host", req.URL.Host))
	resp, err := w.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bad status: %s", resp.Status)
	}

	var parsed webhookResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("parsing webhook response: %w", err)
	}
	if parsed.Code != 0 {
		return fmt.Errorf("webhook error %d: %s", parsed.Code, parsed.Msg)
	}
	return nil
}
