// Package vies checks VAT numbers against the EU VIES registry and classifies its failures.
package vies

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/m3rciful/vatwatch/core/logger"
)

const component = "vies"

// DefaultBaseURL is the public VIES REST endpoint.
const DefaultBaseURL = "https://ec.europa.eu/taxation_customs/vies/rest-api"

// Result is the registry answer for one VAT number.
type Result struct {
	CountryCode string
	VatNumber   string
	Valid       bool
	Name        string
	Address     string
	RequestDate string
}

// Checker validates VAT numbers. Init must be called once before CheckValidity; repeated calls are no-ops.
type Checker interface {
	Init(ctx context.Context) error
	CheckValidity(ctx context.Context, countryCode, vatNumber string) (Result, error)
}

// Config configures the VIES client. Each check is a single request; a
// failed check waits for the next cycle.
type Config struct {
	BaseURL string        `yaml:"base_url" envconfig:"VIES_BASE_URL"`
	Timeout time.Duration `yaml:"timeout" envconfig:"VIES_TIMEOUT"`
}

// Observer receives the latency of every VIES call.
type Observer interface {
	ObserveViesCall(kind string, d time.Duration)
}

type checkRequest struct {
	CountryCode string `json:"countryCode"`
	VatNumber   string `json:"vatNumber"`
}

type errorWrapper struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type checkResponse struct {
	CountryCode   string         `json:"countryCode"`
	VatNumber     string         `json:"vatNumber"`
	RequestDate   string         `json:"requestDate"`
	Valid         *bool          `json:"valid"`
	Name          string         `json:"name"`
	Address       string         `json:"address"`
	UserError     string         `json:"userError"`
	ActionSucceed *bool          `json:"actionSucceed"`
	ErrorWrappers []errorWrapper `json:"errorWrappers"`
}

// Client is a resty-backed Checker.
type Client struct {
	cfg      Config
	observer Observer

	mu sync.Mutex
	rc *resty.Client
}

// NewClient builds a client; the HTTP transport is created lazily by Init.
func NewClient(cfg Config, observer Observer) *Client {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{cfg: cfg, observer: observer}
}

// Init builds the HTTP client once.
func (c *Client) Init(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rc != nil {
		return nil
	}
	c.rc = resty.New().
		SetBaseURL(strings.TrimRight(c.cfg.BaseURL, "/")).
		SetTimeout(c.cfg.Timeout).
		SetRetryCount(0).
		SetLogger(restyLog{}).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	logger.Debug(ctx, component, "vies.init",
		slog.String("base_url", c.cfg.BaseURL),
		slog.Duration("timeout", c.cfg.Timeout),
	)
	return nil
}

// restyLog sends resty's own diagnostics to the vies logger. Failures are
// already logged by CheckValidity, so resty's errors stay at debug level.
type restyLog struct{}

func (restyLog) Errorf(format string, v ...any) { restyLine(slog.LevelDebug, format, v) }
func (restyLog) Warnf(format string, v ...any) { restyLine(slog.LevelWarn, format, v) }
func (restyLog) Debugf(format string, v ...any) { restyLine(slog.LevelDebug, format, v) }

func restyLine(level slog.Level, format string, v []any) {
	logger.Event(context.Background(), component, level, "vies.resty",
		slog.String("detail", strings.TrimSpace(fmt.Sprintf(format, v...))))
}

func (c *Client) client() (*resty.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rc == nil {
		return nil, fmt.Errorf("vies: client not initialized")
	}
	return c.rc, nil
}

// CheckValidity asks VIES whether the number is registered.
// Service-reported failures are returned as *Error; transport failures are returned raw for Classify.
func (c *Client) CheckValidity(ctx context.Context, countryCode, vatNumber string) (Result, error) {
	hc, err := c.client()
	if err != nil {
		return Result{}, err
	}
	start := time.Now()
	resp, err := hc.R().
		SetContext(ctx).
		SetBody(checkRequest{CountryCode: countryCode, VatNumber: vatNumber}).
		Post("/check-vat-number")
	took := time.Since(start)
	if err != nil {
		c.observe(string(KindOf(err)), took)
		logger.Warn(ctx, component, "vies.check",
			slog.String("status", "error"),
			slog.String("vat", countryCode+vatNumber),
			slog.Duration("duration", logger.RoundMS(took)),
			slog.String("err", err.Error()),
		)
		return Result{}, fmt.Errorf("vies request: %w", err)
	}

	res, err := decodeResponse(resp.StatusCode(), resp.Body())
	if err != nil {
		c.observe(string(KindOf(err)), took)
		logger.Warn(ctx, component, "vies.check",
			slog.String("status", "error"),
			slog.String("vat", countryCode+vatNumber),
			slog.Int("http_code", resp.StatusCode()),
			slog.Duration("duration", logger.RoundMS(took)),
			slog.String("err", err.Error()),
		)
		return Result{}, err
	}
	c.observe("ok", took)
	logger.Debug(ctx, component, "vies.check",
		slog.String("status", "ok"),
		slog.String("vat", countryCode+vatNumber),
		slog.Bool("valid", res.Valid),
		slog.Duration("duration", logger.RoundMS(took)),
	)
	return res, nil
}

func (c *Client) observe(kind string, d time.Duration) {
	if c.observer == nil {
		return
	}
	c.observer.ObserveViesCall(kind, d)
}

// decodeResponse interprets a VIES response body.
func decodeResponse(status int, body []byte) (Result, error) {
	var payload checkResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return Result{}, fmt.Errorf("%w: http %d: %v", ErrMalformedResponse, status, err)
	}
	if msg := wrappedErrors(payload.ErrorWrappers); msg != "" {
		return Result{}, &Error{Kind: ClassifyMessage(msg), Message: msg}
	}
	switch ue := strings.TrimSpace(payload.UserError); ue {
	case "", "VALID", "INVALID":
	default:
		return Result{}, &Error{Kind: ClassifyMessage(ue), Message: ue}
	}
	if status >= http.StatusBadRequest || payload.Valid == nil {
		return Result{}, fmt.Errorf("%w: http %d without verdict", ErrMalformedResponse, status)
	}
	return Result{
		CountryCode: payload.CountryCode,
		VatNumber:   payload.VatNumber,
		Valid:       *payload.Valid,
		Name:        payload.Name,
		Address:     payload.Address,
		RequestDate: payload.RequestDate,
	}, nil
}

func wrappedErrors(wrappers []errorWrapper) string {
	parts := make([]string, 0, len(wrappers))
	for _, w := range wrappers {
		text := strings.TrimSpace(w.Error)
		if m := strings.TrimSpace(w.Message); m != "" {
			if text != "" {
				text += ": "
			}
			text += m
		}
		if text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "; ")
}
