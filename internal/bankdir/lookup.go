package bankdir

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/zombor/bill-pay/internal/iban"
)

const (
	defaultLookupBaseURL = "https://openiban.com"
	lookupTimeout        = 3 * time.Second
)

// Lookup sources, in the order they are tried.
const (
	SourceDirectory = "directory"
	SourceCache     = "cache"
	SourceOnline    = "online"
	SourceNone      = "none"
)

// LookupResult is the resolved bank for an account number.
type LookupResult struct {
	Name   string `json:"name"`
	BIC    string `json:"bic"`
	City   string `json:"city"`
	Source string `json:"source"`
}

// Resolver answers "which bank does this account number belong to". The
// chain is local directory, then cache, then the online validation service;
// a miss everywhere degrades to an "Unknown bank" placeholder instead of
// failing, because a missing bank name never blocks a payment.
type Resolver struct {
	store   *Store
	baseURL string
	client  *http.Client
}

func NewResolver(store *Store, baseURL string) *Resolver {
	if baseURL == "" {
		baseURL = defaultLookupBaseURL
	}
	return &Resolver{
		store:   store,
		baseURL: baseURL,
		client:  &http.Client{Timeout: lookupTimeout},
	}
}

// Lookup resolves the bank behind an account number.
func (r *Resolver) Lookup(ctx context.Context, account string) (LookupResult, error) {
	normalized := iban.Normalize(account)
	routingCode, hasRoutingCode := iban.RoutingCode(normalized)

	if hasRoutingCode {
		entry, err := r.store.Get(routingCode)
		if err != nil {
			return LookupResult{}, err
		}
		if entry != nil {
			return LookupResult{Name: entry.Name, BIC: entry.BIC, City: entry.City, Source: SourceDirectory}, nil
		}
	}

	cached, err := r.store.CachedLookup(normalized)
	if err != nil {
		return LookupResult{}, err
	}
	if cached != nil {
		result := *cached
		result.Source = SourceCache
		return result, nil
	}

	if online, ok := r.lookupOnline(ctx, normalized); ok {
		if err := r.store.CacheLookup(normalized, online); err != nil {
			return LookupResult{}, err
		}
		return online, nil
	}

	fallback := LookupResult{Name: "Unknown bank", Source: SourceNone}
	if hasRoutingCode {
		fallback.BIC = routingCode
	}
	return fallback, nil
}

type onlineLookupResponse struct {
	Valid    bool `json:"valid"`
	BankData struct {
		Name string `json:"name"`
		BIC  string `json:"bic"`
		City string `json:"city"`
	} `json:"bankData"`
}

// lookupOnline asks the validation service. Any failure is a miss, not an
// error; the service is best effort.
func (r *Resolver) lookupOnline(ctx context.Context, account string) (LookupResult, bool) {
	lookupURL := fmt.Sprintf("%s/validate/%s?getBIC=true", r.baseURL, url.PathEscape(account))

	req, err := http.NewRequestWithContext(ctx, "GET", lookupURL, nil)
	if err != nil {
		return LookupResult{}, false
	}

	resp, err := r.client.Do(req)
	if err != nil {
		slog.Warn("Online bank lookup failed", "error", err)
		return LookupResult{}, false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		slog.Warn("Online bank lookup failed", "status", resp.StatusCode)
		return LookupResult{}, false
	}

	var parsed onlineLookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		slog.Warn("Online bank lookup returned invalid JSON", "error", err)
		return LookupResult{}, false
	}

	if !parsed.Valid || parsed.BankData.Name == "" {
		return LookupResult{}, false
	}

	return LookupResult{
		Name:   parsed.BankData.Name,
		BIC:    parsed.BankData.BIC,
		City:   parsed.BankData.City,
		Source: SourceOnline,
	}, true
}
