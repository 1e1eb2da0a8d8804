// Package ledger implements the remote record client: the thin boundary to
// the external ledger holding each account's 64-byte data entries. The
// client performs no retries and no caching; transient failures propagate
// to the caller untouched.
package ledger

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/tillsync/tillsync/internal/domain"
	"github.com/tillsync/tillsync/internal/logger"
	"github.com/tillsync/tillsync/pkg/errors"
)

// Client talks to a Horizon-style ledger gateway over HTTP. Record values
// travel base64-encoded on the wire, so a stored value is always printable
// regardless of what the store put in it.
type Client struct {
	log        zerolog.Logger
	gatewayURL string
	apiToken   string
	httpClient *http.Client
}

// NewClient builds a gateway client from the ledger section of the config.
func NewClient(log logger.Logger, cfg domain.LedgerConfig) *Client {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		log:        log.With().Str("module", "ledger").Logger(),
		gatewayURL: strings.TrimRight(cfg.GatewayURL, "/"),
		apiToken:   cfg.APIToken,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type recordBody struct {
	Value string `json:"value"`
}

type recordEntry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type listBody struct {
	Records []recordEntry `json:"records"`
}

// PutRecord stores one value under key in the account's data namespace.
// The ledger rejects values over 64 bytes, so the limit is enforced before
// the call goes out.
func (c *Client) PutRecord(ctx context.Context, scope, key, value string) error {
	if len(value) > domain.MaxRecordBytes {
		return errors.Wrap(domain.ErrRecordTooLarge, "value for %q is %d bytes", key, len(value))
	}

	body, err := json.Marshal(recordBody{Value: base64.StdEncoding.EncodeToString([]byte(value))})
	if err != nil {
		return errors.Wrap(err, "could not marshal record body")
	}

	resp, err := c.do(ctx, http.MethodPut, c.recordURL(scope, key), bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer drain(resp)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return errors.New("ledger: put %q returned status %d", key, resp.StatusCode)
	}

	return nil
}

// GetRecord fetches one value. Returns domain.ErrRecordNotFound when the
// key has no entry.
func (c *Client) GetRecord(ctx context.Context, scope, key string) (string, error) {
	resp, err := c.do(ctx, http.MethodGet, c.recordURL(scope, key), nil)
	if err != nil {
		return "", err
	}
	defer drain(resp)

	if resp.StatusCode == http.StatusNotFound {
		return "", domain.ErrRecordNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return "", errors.New("ledger: get %q returned status %d", key, resp.StatusCode)
	}

	var body recordBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", errors.Wrap(err, "could not decode record body")
	}

	value, err := base64.StdEncoding.DecodeString(body.Value)
	if err != nil {
		return "", errors.Wrap(err, "could not decode record value for %q", key)
	}

	return string(value), nil
}

// DeleteRecord removes one entry. Deleting an absent key is not an error.
func (c *Client) DeleteRecord(ctx context.Context, scope, key string) error {
	resp, err := c.do(ctx, http.MethodDelete, c.recordURL(scope, key), nil)
	if err != nil {
		return err
	}
	defer drain(resp)

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent, http.StatusNotFound:
		return nil
	default:
		return errors.New("ledger: delete %q returned status %d", key, resp.StatusCode)
	}
}

// ListRecords returns every entry in the account scope whose key starts
// with prefix. Entries whose value fails base64 decoding are skipped with a
// warning so one bad entry cannot fail a whole listing.
func (c *Client) ListRecords(ctx context.Context, scope, prefix string) ([]domain.Record, error) {
	u := fmt.Sprintf("%s/v1/accounts/%s/data?prefix=%s",
		c.gatewayURL, url.PathEscape(scope), url.QueryEscape(prefix))

	resp, err := c.do(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	defer drain(resp)

	if resp.StatusCode != http.StatusOK {
		return nil, errors.New("ledger: list %q returned status %d", prefix, resp.StatusCode)
	}

	var body listBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, errors.Wrap(err, "could not decode record listing")
	}

	records := make([]domain.Record, 0, len(body.Records))
	for _, entry := range body.Records {
		value, err := base64.StdEncoding.DecodeString(entry.Value)
		if err != nil {
			c.log.Warn().Err(err).Str("key", entry.Key).Msg("skipping record with undecodable value")
			continue
		}
		records = append(records, domain.Record{Key: entry.Key, Value: string(value)})
	}

	return records, nil
}

// Ping probes the gateway's network endpoint, the same check the readiness
// handler surfaces.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, c.gatewayURL+"/v1/network", nil)
	if err != nil {
		return err
	}
	defer drain(resp)

	if resp.StatusCode != http.StatusOK {
		return errors.New("ledger: gateway returned status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) recordURL(scope, key string) string {
	return fmt.Sprintf("%s/v1/accounts/%s/data/%s",
		c.gatewayURL, url.PathEscape(scope), url.PathEscape(key))
}

func (c *Client) do(ctx context.Context, method, u string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, errors.Wrap(err, "could not build ledger request")
	}

	if c.apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiToken)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "ledger request failed")
	}
	return resp, nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}

var _ domain.RecordClient = (*Client)(nil)
