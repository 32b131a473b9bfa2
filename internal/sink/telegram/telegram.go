// Package telegram delivers messages through the Telegram Bot API.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	tele "gopkg.in/telebot.v3"
)

// DefaultAPIBase is the public Bot API endpoint.
const DefaultAPIBase = "https://api.telegram.org"

// ErrNoToken is returned by New when no bot token is configured.
var ErrNoToken = errors.New("telegram: bot token is required")

// Config configures the sink.
type Config struct {
	Token   string
	APIBase string
	Timeout time.Duration
	// Proxy routes Bot API calls through an HTTP(S) or SOCKS5 proxy.
	Proxy string
}

// Sink sends HTML formatted messages with sendMessage.
type Sink struct {
	bot    *tele.Bot
	logger *zap.Logger
}

// New builds a Sink. The bot is created offline; nothing is sent until Send.
func New(cfg Config, logger *zap.Logger) (*Sink, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, ErrNoToken
	}
	if cfg.APIBase == "" {
		cfg.APIBase = DefaultAPIBase
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.Proxy != "" {
		proxyURL, err := url.Parse(cfg.Proxy)
		if err != nil {
			return nil, fmt.Errorf("parse telegram proxy: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	bot, err := tele.NewBot(tele.Settings{
		URL:       strings.TrimRight(cfg.APIBase, "/"),
		Token:     cfg.Token,
		Client:    &http.Client{Timeout: cfg.Timeout, Transport: transport},
		ParseMode: tele.ModeHTML,
		Offline:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", redact(err))
	}
	return &Sink{bot: bot, logger: logger}, nil
}

// APIError is a rejection reported by the Bot API.
type APIError struct {
	Code        int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram: %d %s", e.Code, e.Description)
}

type chat string

func (c chat) Recipient() string { return string(c) }

// Send implements release.Sink.
func (s *Sink) Send(ctx context.Context, chatID, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.bot.Send(chat(chatID), text, &tele.SendOptions{
		ParseMode:             tele.ModeHTML,
		DisableWebPagePreview: true,
	})
	if err != nil {
		s.logger.Debug("sendMessage rejected", zap.String("chat_id", chatID), zap.Error(redact(err)))
		return fmt.Errorf("send to %s: %w", chatID, classify(err))
	}
	return nil
}

var apiErrText = regexp.MustCompile(`^telegram: (.*) \((\d+)\)$`)

// classify maps library errors onto APIError and strips the token from
// transport failures.
func classify(err error) error {
	var flood tele.FloodError
	if errors.As(err, &flood) {
		return &APIError{
			Code:        http.StatusTooManyRequests,
			Description: fmt.Sprintf("Too Many Requests: retry after %d", flood.RetryAfter),
		}
	}
	var known *tele.Error
	if errors.As(err, &known) && known != nil {
		return &APIError{Code: known.Code, Description: known.Description}
	}
	if m := apiErrText.FindStringSubmatch(err.Error()); m != nil {
		code, _ := strconv.Atoi(m[2])
		return &APIError{Code: code, Description: m[1]}
	}
	return redact(err)
}

// redact drops the request URL, which carries the bot token.
func redact(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return uerr.Err
	}
	return err
}
