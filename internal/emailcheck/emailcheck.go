// Package emailcheck verifies that an address can receive mail before it is accepted.
package emailcheck

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
)

const (
	defaultBaseURL = "https://api.kickbox.com"
	defaultTimeout = 10 * time.Second
	maxBodyBytes   = 1 << 20
)

// Result is the outcome of a deliverability check.
type Result struct {
	Deliverable bool   `json:"deliverable"`
	Reason      string `json:"reason,omitempty"`
}

// Checker reports whether an email address is deliverable.
type Checker interface {
	Verify(ctx context.Context, email string) (Result, error)
}

// KickboxOptions configures the Kickbox client.
type KickboxOptions struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
	Logger     *logrus.Logger
}

// KickboxChecker calls the Kickbox verification API.
type KickboxChecker struct {
	apiKey  string
	baseURL string
	client  *http.Client
	logger  *logrus.Logger
}

var _ Checker = (*KickboxChecker)(nil)

// NewKickbox constructs a checker for the Kickbox API.
func NewKickbox(opts KickboxOptions) (*KickboxChecker, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, eris.New("kickbox api key is required")
	}

	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}

	return &KickboxChecker{apiKey: opts.APIKey, baseURL: baseURL, client: client, logger: opts.Logger}, nil
}

type kickboxResponse struct {
	Result  string `json:"result"`
	Reason  string `json:"reason"`
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Verify asks Kickbox about email. Only a "deliverable" result counts as deliverable;
// transport failures and non-2xx answers are returned as errors.
func (k *KickboxChecker) Verify(ctx context.Context, email string) (Result, error) {
	query := url.Values{}
	query.Set("email", email)
	query.Set("apikey", k.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, k.baseURL+"/v2/verify?"+query.Encode(), nil)
	if err != nil {
		return Result{}, eris.Wrap(err, "building kickbox request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := k.client.Do(req)
	if err != nil {
		return Result{}, eris.Wrap(err, "calling kickbox")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Result{}, eris.Wrap(err, "reading kickbox response")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, eris.Errorf("kickbox returned status %d", resp.StatusCode)
	}

	var payload kickboxResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return Result{}, eris.Wrap(err, "decoding kickbox response")
	}

	result := Result{Deliverable: payload.Result == "deliverable", Reason: payload.Reason}
	if k.logger != nil {
		k.logger.WithFields(logrus.Fields{
			"result": payload.Result,
			"reason": payload.Reason,
		}).Debug("kickbox verification finished")
	}

	return result, nil
}

// Static accepts every address. It stands in when no Kickbox key is configured.
type Static struct{}

var _ Checker = Static{}

func (Static) Verify(context.Context, string) (Result, error) {
	return Result{Deliverable: true}, nil
}
