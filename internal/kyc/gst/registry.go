package gst

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"kyc-intake/internal/kyc/models"
)

const maxRegistryResponse = 64 << 10

// RegistryVerifier asks a GST registry API whether a number is registered.
// The format check runs first so malformed input never reaches the network.
type RegistryVerifier struct {
	id         string
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewRegistryVerifier builds a verifier for the registry at baseURL.
func NewRegistryVerifier(id, baseURL, apiKey string, timeout time.Duration) *RegistryVerifier {
	return &RegistryVerifier{
		id:         id,
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (v *RegistryVerifier) ID() string {
	return v.id
}

// registryResponse is the registry's answer for GET /gstin/{number}.
type registryResponse struct {
	GSTIN     string `json:"gstin"`
	Status    string `json:"status"`
	LegalName string `json:"legal_name"`
	CheckedAt string `json:"checked_at"`
}

func (v *RegistryVerifier) Verify(ctx context.Context, gstNumber string) (*models.GSTVerification, error) {
	if err := CheckFormat(gstNumber); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.baseURL+"/gstin/"+url.PathEscape(gstNumber), nil)
	if err != nil {
		return nil, NewProviderError(ErrorInternal, v.id, "build request", err)
	}
	req.Header.Set("Accept", "application/json")
	if v.apiKey != "" {
		req.Header.Set("X-API-Key", v.apiKey)
	}

	resp, err := v.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return nil, NewProviderError(ErrorTimeout, v.id, "registry request timed out", err)
		}
		return nil, NewProviderError(ErrorProviderOutage, v.id, "registry request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRegistryResponse))
	if err != nil {
		return nil, NewProviderError(ErrorProviderOutage, v.id, "read registry response", err)
	}
	return parseRegistryResponse(v.id, gstNumber, resp.StatusCode, body)
}

func parseRegistryResponse(providerID, gstNumber string, status int, body []byte) (*models.GSTVerification, error) {
	switch {
	case status == http.StatusNotFound:
		return nil, ErrNotRegistered
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return nil, NewProviderError(ErrorAuthentication, providerID, "registry rejected credentials", nil)
	case status == http.StatusTooManyRequests:
		return nil, NewProviderError(ErrorRateLimited, providerID, "registry rate limited", nil)
	case status >= 500:
		return nil, NewProviderError(ErrorProviderOutage, providerID, fmt.Sprintf("registry returned %d", status), nil)
	case status != http.StatusOK:
		return nil, NewProviderError(ErrorBadData, providerID, fmt.Sprintf("unexpected registry status %d", status), nil)
	}

	var parsed registryResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, NewProviderError(ErrorBadData, providerID, "decode registry response", err)
	}
	if parsed.GSTIN != "" && parsed.GSTIN != gstNumber {
		return nil, NewProviderError(ErrorBadData, providerID, "registry answered for a different GSTIN", nil)
	}

	checkedAt, err := time.Parse(time.RFC3339, parsed.CheckedAt)
	if err != nil {
		checkedAt = time.Now()
	}

	switch strings.ToLower(parsed.Status) {
	case "active":
		return &models.GSTVerification{
			Status:    models.GSTStatusVerified,
			Source:    providerID,
			LegalName: parsed.LegalName,
			CheckedAt: checkedAt,
		}, nil
	case "inactive", "cancelled", "suspended":
		return nil, ErrNotRegistered
	default:
		return nil, NewProviderError(ErrorBadData, providerID, "unknown registration status "+parsed.Status, nil)
	}
}

func isTimeout(err error) bool {
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}
