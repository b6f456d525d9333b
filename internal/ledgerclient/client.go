// Package ledgerclient talks to a remote invoice ledger over HTTP. Ledger
// deployments differ in whether they wrap payloads in a "data" envelope, so
// every response is normalized before decoding.
package ledgerclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"

	"kasirinaja/terminal/internal/domain"
	"kasirinaja/terminal/internal/store"
)

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func New(baseURL string, token string, timeout time.Duration) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.Wrap(domain.ErrInvalidConfiguration, "ledger base url is empty")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, errors.Wrap(domain.ErrInvalidConfiguration, err.Error())
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		token:   strings.TrimSpace(token),
		http:    &http.Client{Timeout: timeout},
	}, nil
}

func (c *Client) GetInvoice(ctx context.Context, invoiceID string) (*domain.Invoice, error) {
	var inv domain.Invoice
	if err := c.do(ctx, http.MethodGet, "/invoices/"+url.PathEscape(invoiceID), nil, nil, &inv); err != nil {
		return nil, errors.Wrapf(err, "get invoice %s", invoiceID)
	}
	return &inv, nil
}

func (c *Client) SubmitInvoice(ctx context.Context, draft domain.Invoice) (*domain.Invoice, error) {
	var saved domain.Invoice
	if err := c.do(ctx, http.MethodPost, "/invoices", nil, draft, &saved); err != nil {
		return nil, errors.Wrapf(err, "submit invoice %s", draft.ID)
	}
	if saved.ID == "" {
		return nil, errors.Errorf("submit invoice %s: ledger returned no invoice id", draft.ID)
	}
	return &saved, nil
}

func (c *Client) ListInvoices(ctx context.Context, filter store.InvoiceFilter) ([]domain.Invoice, error) {
	params := url.Values{}
	setIf := func(key, value string) {
		if value != "" {
			params.Set(key, value)
		}
	}
	setIf("store_id", filter.StoreID)
	setIf("terminal_id", filter.TerminalID)
	setIf("shift_id", filter.ShiftID)
	if !filter.From.IsZero() {
		params.Set("from", filter.From.UTC().Format(time.RFC3339))
	}
	if !filter.To.IsZero() {
		params.Set("to", filter.To.UTC().Format(time.RFC3339))
	}

	invoices := []domain.Invoice{}
	if err := c.do(ctx, http.MethodGet, "/invoices", params, nil, &invoices); err != nil {
		return nil, errors.Wrap(err, "list invoices")
	}
	return invoices, nil
}

func (c *Client) ReturnedQuantities(ctx context.Context, invoiceID string) (map[string]int, error) {
	returned := map[string]int{}
	if err := c.do(ctx, http.MethodGet, "/invoices/"+url.PathEscape(invoiceID)+"/returned", nil, nil, &returned); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return map[string]int{}, nil
		}
		return nil, errors.Wrapf(err, "returned quantities %s", invoiceID)
	}
	return returned, nil
}

func (c *Client) do(ctx context.Context, method string, path string, params url.Values, body any, out any) error {
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return err
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return domain.ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("ledger status %d: %s", resp.StatusCode, errorMessage(raw))
	}
	return decode(raw, out)
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Items json.RawMessage `json:"items"`
	Error string          `json:"error"`
}

// Unwrap returns the payload of a response, looking inside a "data" or
// "items" envelope when present.
func Unwrap(raw []byte) []byte {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return trimmed
	}
	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return trimmed
	}
	if len(env.Data) > 0 && !bytes.Equal(env.Data, []byte("null")) {
		return env.Data
	}
	if len(env.Items) > 0 && !bytes.Equal(env.Items, []byte("null")) {
		return env.Items
	}
	return trimmed
}

func decode(raw []byte, out any) error {
	payload := Unwrap(raw)
	if len(payload) == 0 {
		return errors.New("empty ledger response")
	}
	return errors.Wrap(json.Unmarshal(payload, out), "decode ledger response")
}

func errorMessage(raw []byte) string {
	var env envelope
	if err := json.Unmarshal(raw, &env); err == nil && env.Error != "" {
		return env.Error
	}
	msg := strings.TrimSpace(string(raw))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}
