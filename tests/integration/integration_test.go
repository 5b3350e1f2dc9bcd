//go:build integration

// Package integration exercises the fully wired service against an
// in-process fake catalog: real HTTP client, real issuance and maintenance
// services, real trigger endpoints.
package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront-perks/internal/catalog"
	"github.com/xenking/storefront-perks/internal/handler"
	"github.com/xenking/storefront-perks/internal/mail"
	"github.com/xenking/storefront-perks/internal/maintenance"
	"github.com/xenking/storefront-perks/internal/retry"
	"github.com/xenking/storefront-perks/internal/welcome"
)

const (
	accessToken   = "test-token"
	webhookSecret = "hook-secret"
	cronSecret    = "cron-secret"
	ruleID        = int64(42)
	pageSize      = 2
)

// --- Fake catalog ---

type fakeCode struct {
	ID         string    `json:"id"`
	Code       string    `json:"code"`
	UsageCount int       `json:"usage_count"`
	CreatedAt  time.Time `json:"created_at"`
}

type fakeCustomer struct {
	ID        int64  `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
}

// fakeCatalog is an in-memory stand-in for the catalog admin API, speaking
// the same REST surface the real client expects.
type fakeCatalog struct {
	mu          sync.Mutex
	customers   map[int64]fakeCustomer
	annotations map[int64]map[string]string
	codes       []fakeCode
	nextID      int

	// rateLimitDeletes makes the next N delete calls answer 429.
	rateLimitDeletes int
	deleteCalls      int
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		customers:   make(map[int64]fakeCustomer),
		annotations: make(map[int64]map[string]string),
	}
}

func (f *fakeCatalog) addCustomer(c fakeCustomer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.customers[c.ID] = c
}

func (f *fakeCatalog) addCode(code string, usage int, createdAt time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.codes = append(f.codes, fakeCode{
		ID:         fmt.Sprintf("dc-%d", f.nextID),
		Code:       code,
		UsageCount: usage,
		CreatedAt:  createdAt,
	})
}

func (f *fakeCatalog) codeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.codes)
}

func (f *fakeCatalog) server(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /customers/{id}", f.handleGetCustomer)
	mux.HandleFunc("GET /customers/{id}/annotations/{key}", f.handleGetAnnotation)
	mux.HandleFunc("PUT /customers/{id}/annotations", f.handlePutAnnotations)
	mux.HandleFunc("POST /price_rules/{rule}/discount_codes", f.handleCreateCode)
	mux.HandleFunc("GET /price_rules/{rule}/discount_codes", f.handleListCodes)
	mux.HandleFunc("DELETE /price_rules/{rule}/discount_codes/{id}", f.handleDeleteCode)

	auth := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Catalog-Access-Token") != accessToken {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		mux.ServeHTTP(w, r)
	})

	srv := httptest.NewServer(auth)
	t.Cleanup(srv.Close)
	return srv
}

func (f *fakeCatalog) handleGetCustomer(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(r.PathValue("id"), 10, 64)

	f.mu.Lock()
	c, ok := f.customers[id]
	f.mu.Unlock()

	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	_ = json.NewEncoder(w).Encode(c)
}

func (f *fakeCatalog) handleGetAnnotation(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(r.PathValue("id"), 10, 64)
	key := r.PathValue("key")

	f.mu.Lock()
	value, ok := f.annotations[id][key]
	f.mu.Unlock()

	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	_ = json.NewEncoder(w).Encode(struct {
		Value string `json:"value"`
	}{Value: value})
}

func (f *fakeCatalog) handlePutAnnotations(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(r.PathValue("id"), 10, 64)

	var body struct {
		Fields []struct {
			Key   string `json:"key"`
			Value string `json:"value"`
		} `json:"fields"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	if f.annotations[id] == nil {
		f.annotations[id] = make(map[string]string)
	}
	for _, field := range body.Fields {
		f.annotations[id][field.Key] = field.Value
	}
	f.mu.Unlock()

	w.WriteHeader(http.StatusOK)
}

func (f *fakeCatalog) handleCreateCode(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	for _, c := range f.codes {
		if c.Code == body.Code {
			w.WriteHeader(http.StatusConflict)
			return
		}
	}
	f.nextID++
	created := fakeCode{
		ID:        fmt.Sprintf("dc-%d", f.nextID),
		Code:      body.Code,
		CreatedAt: time.Now().UTC(),
	}
	f.codes = append(f.codes, created)

	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(created)
}

func (f *fakeCatalog) handleListCodes(w http.ResponseWriter, r *http.Request) {
	offset := 0
	if token := r.URL.Query().Get("page_token"); token != "" {
		offset, _ = strconv.Atoi(token)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	end := min(offset+pageSize, len(f.codes))
	if offset > end {
		offset = end
	}
	if end < len(f.codes) {
		w.Header().Set("X-Next-Page-Token", strconv.Itoa(end))
	}
	_ = json.NewEncoder(w).Encode(struct {
		DiscountCodes []fakeCode `json:"discount_codes"`
	}{DiscountCodes: f.codes[offset:end]})
}

func (f *fakeCatalog) handleDeleteCode(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	f.mu.Lock()
	defer f.mu.Unlock()

	f.deleteCalls++
	if f.rateLimitDeletes > 0 {
		f.rateLimitDeletes--
		w.WriteHeader(http.StatusTooManyRequests)
		return
	}

	for i, c := range f.codes {
		if c.ID == id {
			f.codes = append(f.codes[:i], f.codes[i+1:]...)
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	w.WriteHeader(http.StatusNotFound)
}

// --- Recording mail provider ---

type recordingProvider struct {
	mu   sync.Mutex
	sent []mail.Message
}

func (p *recordingProvider) Send(_ context.Context, msg mail.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, msg)
	return nil
}

type recordingNotifier struct {
	mu        sync.Mutex
	summaries []string
}

func (n *recordingNotifier) Notify(_ context.Context, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.summaries = append(n.summaries, text)
	return nil
}

// --- Fixture ---

type fixture struct {
	catalog  *fakeCatalog
	provider *recordingProvider
	notifier *recordingNotifier
	server   *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		catalog:  newFakeCatalog(),
		provider: &recordingProvider{},
		notifier: &recordingNotifier{},
	}
	catalogSrv := f.catalog.server(t)

	client, err := catalog.NewHTTPClient(catalog.HTTPClientConfig{
		BaseURL: catalogSrv.URL,
		Token:   accessToken,
	})
	require.NoError(t, err)

	issuer := welcome.NewService(client, nil, ruleID)
	sweeper := maintenance.NewSweeper(
		client,
		retry.NewPolicy(2, time.Millisecond),
		f.notifier,
		ruleID,
		8*24*time.Hour,
	)
	mailer, err := mail.NewService(f.provider, mail.Config{
		FromEmail: "perks@shop.example.com",
		FromName:  "The Shop",
	})
	require.NoError(t, err)

	h := handler.NewHandler(
		handler.Config{WebhookSecret: webhookSecret, CronSecret: cronSecret},
		issuer, sweeper, mailer, client,
	)
	mux := http.NewServeMux()
	h.Routes(mux)

	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fixture) post(t *testing.T, path, secret, body string) (*http.Response, []byte) {
	t.Helper()

	req, err := http.NewRequest(http.MethodPost, f.server.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+secret)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, respBody
}

// --- Tests ---

func TestIssuanceEndToEnd(t *testing.T) {
	f := newFixture(t)
	f.catalog.addCustomer(fakeCustomer{ID: 123, Email: "ada@example.com", FirstName: "Ada"})

	resp, body := f.post(t, "/webhooks/customers", webhookSecret, `{"customer_id":"123"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var first struct {
		Code   string `json:"code"`
		Reused bool   `json:"reused"`
	}
	require.NoError(t, json.Unmarshal(body, &first))
	assert.True(t, strings.HasPrefix(first.Code, "WELCOME-"), first.Code)
	assert.Len(t, first.Code, len("WELCOME-")+8)
	assert.False(t, first.Reused)
	assert.Equal(t, 1, f.catalog.codeCount())

	// Same customer again, this time via the GID form: same code, no new
	// catalog object.
	resp, body = f.post(t, "/webhooks/customers", webhookSecret,
		`{"customer_id":"gid://shopify/Customer/123"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var second struct {
		Code   string `json:"code"`
		Reused bool   `json:"reused"`
	}
	require.NoError(t, json.Unmarshal(body, &second))
	assert.Equal(t, first.Code, second.Code)
	assert.True(t, second.Reused)
	assert.Equal(t, 1, f.catalog.codeCount())
}

func TestIssuanceWithWelcomeEmail(t *testing.T) {
	f := newFixture(t)
	f.catalog.addCustomer(fakeCustomer{ID: 7, Email: "grace@example.com", FirstName: "Grace"})

	resp, body := f.post(t, "/webhooks/customers", webhookSecret,
		`{"customer_id":7,"send_welcome_email":true}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	require.Len(t, f.provider.sent, 1)
	msg := f.provider.sent[0]
	assert.Equal(t, "grace@example.com", msg.To)
	assert.Contains(t, msg.HTML, "WELCOME-")
	assert.Contains(t, msg.HTML, "Grace")
}

func TestBackInStockEndToEnd(t *testing.T) {
	f := newFixture(t)
	f.catalog.addCustomer(fakeCustomer{ID: 9, Email: "linus@example.com", FirstName: "Linus"})

	resp, _ := f.post(t, "/webhooks/back-in-stock", webhookSecret,
		`{"customer_id":9,"product_name":"Walnut Desk","product_url":"https://shop.example.com/p/1"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	require.Len(t, f.provider.sent, 1)
	msg := f.provider.sent[0]
	assert.Equal(t, "linus@example.com", msg.To)
	assert.Contains(t, msg.Subject, "Walnut Desk")
	assert.Contains(t, msg.HTML, "https://shop.example.com/p/1")
}

func TestMaintenanceEndToEnd(t *testing.T) {
	f := newFixture(t)
	now := time.Now().UTC()

	// Threshold is 8 days. Stale: day-10 and day-9 codes regardless of
	// usage; fresh: day-1 code. Five codes total to force pagination.
	f.catalog.addCode("WELCOME-OLD00001", 0, now.Add(-10*24*time.Hour))
	f.catalog.addCode("WELCOME-OLD00002", 3, now.Add(-9*24*time.Hour))
	f.catalog.addCode("WELCOME-FRESH001", 0, now.Add(-24*time.Hour))
	f.catalog.addCode("WELCOME-FRESH002", 1, now.Add(-24*time.Hour))
	f.catalog.addCode("WELCOME-FRESH003", 0, now.Add(-2*24*time.Hour))

	// The first delete call is rate limited; the retry policy must absorb it.
	f.catalog.rateLimitDeletes = 1

	resp, body := f.post(t, "/jobs/maintenance", cronSecret, "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var rep maintenance.Report
	require.NoError(t, json.Unmarshal(body, &rep))
	assert.Equal(t, 2, rep.DeletedCount)
	assert.Equal(t, 5, rep.Before.Total)
	assert.Equal(t, 2, rep.Before.Used)
	assert.Equal(t, 3, rep.Before.Unused)
	assert.Equal(t, 3, rep.After.Total)
	assert.Equal(t, 3, f.catalog.codeCount())

	// Two stale codes plus one rate-limited attempt.
	assert.Equal(t, 3, f.catalog.deleteCalls)

	require.Len(t, f.notifier.summaries, 1)
	assert.Contains(t, f.notifier.summaries[0], "Deleted: 2 stale codes")
}

func TestTriggerEndpointsRequireSecrets(t *testing.T) {
	f := newFixture(t)

	resp, _ := f.post(t, "/webhooks/customers", "wrong", `{"customer_id":"123"}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = f.post(t, "/jobs/maintenance", webhookSecret, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	assert.Zero(t, f.catalog.codeCount())
}
