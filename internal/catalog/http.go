package catalog

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

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Compile-time check ensuring HTTPClient satisfies the Client interface.
var _ Client = (*HTTPClient)(nil)

// nextPageHeader carries the opaque continuation reference of a paginated
// listing. The catalog returns it out-of-band, next to the response body.
const nextPageHeader = "X-Next-Page-Token"

// tokenHeader authenticates requests against the catalog admin API.
const tokenHeader = "X-Catalog-Access-Token"

// HTTPClientConfig holds the connection parameters of the catalog service.
type HTTPClientConfig struct {
	BaseURL string
	Token   string
	// Timeout bounds a single catalog call. Zero means 30s.
	Timeout time.Duration
}

// HTTPClient implements Client against the catalog's REST admin API.
// Transport failures and non-2xx statuses are translated into the typed
// failure classes declared in this package; retrying is the caller's job.
type HTTPClient struct {
	http    *http.Client
	baseURL string
	token   string
}

// NewHTTPClient creates an HTTPClient. The transport is instrumented with
// otelhttp so outbound catalog calls show up in traces.
func NewHTTPClient(cfg HTTPClientConfig) (*HTTPClient, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("catalog base URL is required")
	}
	if cfg.Token == "" {
		return nil, errors.New("catalog access token is required")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		token:   cfg.Token,
	}, nil
}

// Ping performs a cheap authenticated request, for readiness checks.
func (c *HTTPClient) Ping(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, "/ping", nil)
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

func (c *HTTPClient) GetCustomer(ctx context.Context, customerID int64) (*Customer, error) {
	resp, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/customers/%d", customerID), nil)
	if err != nil {
		return nil, errors.Wrapf(err, "get customer %d", customerID)
	}
	defer resp.Body.Close()

	var body struct {
		ID        int64  `json:"id"`
		Email     string `json:"email"`
		FirstName string `json:"first_name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, errors.Wrap(err, "decode customer")
	}
	return &Customer{ID: body.ID, Email: body.Email, FirstName: body.FirstName}, nil
}

func (c *HTTPClient) GetWelcomeCode(ctx context.Context, customerID int64) (string, error) {
	path := fmt.Sprintf("/customers/%d/annotations/welcome_code", customerID)
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return "", errors.Wrapf(err, "get welcome code for customer %d", customerID)
	}
	defer resp.Body.Close()

	var body struct {
		Value string `json:"value"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", errors.Wrap(err, "decode welcome code")
	}
	return body.Value, nil
}

func (c *HTTPClient) SetWelcomeFields(ctx context.Context, customerID int64, fields []Field) error {
	type wireField struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	}
	payload := struct {
		Fields []wireField `json:"fields"`
	}{Fields: make([]wireField, len(fields))}
	for i, f := range fields {
		payload.Fields[i] = wireField{Key: f.Key, Value: f.Value}
	}

	resp, err := c.do(ctx, http.MethodPut, fmt.Sprintf("/customers/%d/annotations", customerID), payload)
	if err != nil {
		return errors.Wrapf(err, "set welcome fields for customer %d", customerID)
	}
	return resp.Body.Close()
}

func (c *HTTPClient) CreateDiscountCode(ctx context.Context, ruleID int64, code string) (*DiscountCode, error) {
	payload := struct {
		Code string `json:"code"`
	}{Code: code}

	resp, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/price_rules/%d/discount_codes", ruleID), payload)
	if err != nil {
		return nil, errors.Wrapf(err, "create discount code %q", code)
	}
	defer resp.Body.Close()

	var body wireDiscountCode
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, errors.Wrap(err, "decode discount code")
	}
	dc := body.toDomain()
	return &dc, nil
}

func (c *HTTPClient) ListDiscountCodes(ctx context.Context, ruleID int64, pageToken string) (*Page, error) {
	path := fmt.Sprintf("/price_rules/%d/discount_codes", ruleID)
	if pageToken != "" {
		// The token is opaque and may carry URL-reserved characters.
		path += "?page_token=" + url.QueryEscape(pageToken)
	}

	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, errors.Wrap(err, "list discount codes")
	}
	defer resp.Body.Close()

	items, err := decodeCodePage(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "decode code page")
	}
	return &Page{
		Items:     items,
		NextToken: resp.Header.Get(nextPageHeader),
	}, nil
}

func (c *HTTPClient) DeleteDiscountCode(ctx context.Context, ruleID int64, codeID string) error {
	path := fmt.Sprintf("/price_rules/%d/discount_codes/%s", ruleID, codeID)
	resp, err := c.do(ctx, http.MethodDelete, path, nil)
	if err != nil {
		return errors.Wrapf(err, "delete discount code %s", codeID)
	}
	return resp.Body.Close()
}

// do performs one catalog request and maps non-2xx statuses to the typed
// failure classes. The response body is open on success; the caller closes it.
func (c *HTTPClient) do(ctx context.Context, method, path string, payload any) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, errors.Wrap(err, "marshal payload")
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, errors.Wrap(err, "create request")
	}
	req.Header.Set(tokenHeader, c.token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "request")
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()
	return nil, statusError(resp)
}

// statusError maps an error response to the failure-class contract. The
// mapping is structural (status code plus machine-readable error code); the
// human-readable message is never inspected.
func statusError(resp *http.Response) error {
	var envelope struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	// Best effort: an unparsable error body still yields a typed failure.
	_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&envelope)

	switch resp.StatusCode {
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	case http.StatusTooManyRequests:
		return ErrRateLimited
	case http.StatusUnprocessableEntity:
		// Some catalog deployments report uniqueness violations as a
		// validation failure with a dedicated error code.
		if envelope.Code == "code_taken" {
			return ErrConflict
		}
	}
	return &APIError{
		Status:  resp.StatusCode,
		Code:    envelope.Code,
		Message: envelope.Message,
	}
}

// wireDiscountCode is the catalog's JSON representation of a discount code.
type wireDiscountCode struct {
	ID         string    `json:"id"`
	Code       string    `json:"code"`
	UsageCount int       `json:"usage_count"`
	CreatedAt  time.Time `json:"created_at"`
}

func (w wireDiscountCode) toDomain() DiscountCode {
	return DiscountCode{
		ID:         w.ID,
		Code:       w.Code,
		UsageCount: w.UsageCount,
		CreatedAt:  w.CreatedAt,
	}
}

// decodeCodePage decodes a {"discount_codes": [...]} listing body. Pages can
// be large, so this streams with jx instead of buffering the whole document.
func decodeCodePage(r io.Reader) ([]DiscountCode, error) {
	d := jx.Decode(r, 4096)

	var items []DiscountCode
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		if key != "discount_codes" {
			return d.Skip()
		}
		return d.Arr(func(d *jx.Decoder) error {
			item, err := decodeCode(d)
			if err != nil {
				return err
			}
			items = append(items, item)
			return nil
		})
	}); err != nil {
		return nil, err
	}
	return items, nil
}

func decodeCode(d *jx.Decoder) (DiscountCode, error) {
	var item DiscountCode
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "id":
			v, err := d.Str()
			if err != nil {
				return errors.Wrap(err, "id")
			}
			item.ID = v
		case "code":
			v, err := d.Str()
			if err != nil {
				return errors.Wrap(err, "code")
			}
			item.Code = v
		case "usage_count":
			v, err := d.Int()
			if err != nil {
				return errors.Wrap(err, "usage_count")
			}
			item.UsageCount = v
		case "created_at":
			v, err := d.Str()
			if err != nil {
				return errors.Wrap(err, "created_at")
			}
			ts, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return errors.Wrap(err, "parse created_at")
			}
			item.CreatedAt = ts
		default:
			return d.Skip()
		}
		return nil
	})
	return item, err
}
