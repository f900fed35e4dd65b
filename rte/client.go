package rte

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kilianp07/hems/auth"
	"github.com/kilianp07/hems/core/contract"
	"github.com/kilianp07/hems/infra/logger"
)

// Default service locations.
const (
	DefaultPublicURL = "https://www.api-couleur-tempo.fr/api"
	DefaultRTEURL    = "https://digital.iservices.rte-france.com/open_api/tempo_like_supply_contract/v1"
)

// PublicClient reads colours from the public api-couleur-tempo service.
type PublicClient struct {
	baseURL string
	client  *http.Client
	log     logger.Logger
}

// NewPublicClient creates a client. An empty baseURL selects the public
// service.
func NewPublicClient(baseURL string, timeout time.Duration) *PublicClient {
	if baseURL == "" {
		baseURL = DefaultPublicURL
	}
	return &PublicClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		log:     logger.New("tempo-public"),
	}
}

// Color implements contract.ColorProvider.
func (c *PublicClient) Color(ctx context.Context, day time.Time) (contract.Color, error) {
	u := c.baseURL + "/jourTempo/" + day.Format(dayLayout)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("get %s: %w", u, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.log.Warnf("get %s: status %d", u, resp.StatusCode)
		return "", fmt.Errorf("get %s: status %d: %w", u, resp.StatusCode, ErrColorUnavailable)
	}
	var d PublicDay
	if err := json.NewDecoder(resp.Body).Decode(&d); err != nil {
		return "", fmt.Errorf("decode %s: %w", u, err)
	}
	return d.Color()
}

// RTEClient reads colours from the RTE data portal. Requests are
// authenticated with OAuth2 client credentials.
type RTEClient struct {
	apiURL string
	creds  *auth.ClientCred
	client *http.Client
	log    logger.Logger
}

// NewRTEClient creates a client for the tempo_like_supply_contract API.
func NewRTEClient(apiURL string, creds *auth.ClientCred, timeout time.Duration) *RTEClient {
	if apiURL == "" {
		apiURL = DefaultRTEURL
	}
	return &RTEClient{
		apiURL: strings.TrimSuffix(apiURL, "/"),
		creds:  creds,
		client: &http.Client{Timeout: timeout},
		log:    logger.New("tempo-rte"),
	}
}

// Color implements contract.ColorProvider. A 401 answer forces a token
// refresh and one more attempt.
func (c *RTEClient) Color(ctx context.Context, day time.Time) (contract.Color, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	q := url.Values{}
	q.Set("start_date", start.Format(rteTimeLayout))
	q.Set("end_date", start.AddDate(0, 0, 1).Format(rteTimeLayout))
	u := c.apiURL + "/tempo_like_calendars?" + q.Encode()

	resp, err := c.get(ctx, u)
	if err != nil {
		return "", err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		c.log.Infof("token rejected, refreshing")
		if _, err := c.creds.ForceRefresh(ctx); err != nil {
			return "", err
		}
		if resp, err = c.get(ctx, u); err != nil {
			return "", err
		}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("tempo_like_calendars: status %d: %w", resp.StatusCode, ErrColorUnavailable)
	}
	var r CalendarResponse
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return "", fmt.Errorf("decode tempo_like_calendars: %w", err)
	}
	return r.colorFor(start)
}

func (c *RTEClient) get(ctx context.Context, u string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if err := c.creds.SetAuthHeader(req); err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get tempo_like_calendars: %w", err)
	}
	return resp, nil
}

// StaticProvider always answers the same colour.
type StaticProvider contract.Color

func (s StaticProvider) Color(context.Context, time.Time) (contract.Color, error) {
	return contract.Color(s), nil
}
