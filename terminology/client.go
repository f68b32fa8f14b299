package terminology

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gofhir/igvalidator/pkg/logger"
)

// DefaultEndpoint is the public HL7 terminology server.
const DefaultEndpoint = "http://tx.fhir.org"

const defaultTimeout = 30 * time.Second

// Client talks to a FHIR terminology server over its REST API.
type Client struct {
	httpClient *http.Client
	endpoint   string
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// Connect creates a terminology client for the given endpoint and
// verifies the server is reachable by fetching its CapabilityStatement.
// A server reporting a FHIR version other than fhirVersion logs a
// warning but does not fail the connection.
func Connect(ctx context.Context, endpoint, fhirVersion string, opts ...ClientOption) (*Client, error) {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}

	c := &Client{
		httpClient: &http.Client{Timeout: defaultTimeout},
		endpoint:   strings.TrimRight(endpoint, "/"),
	}
	for _, opt := range opts {
		opt(c)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/metadata", http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/fhir+json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach terminology server %s: %w", c.endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("terminology server %s returned status %d", c.endpoint, resp.StatusCode)
	}

	var capability struct {
		ResourceType string `json:"resourceType"`
		FHIRVersion  string `json:"fhirVersion"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&capability); err != nil {
		return nil, fmt.Errorf("failed to decode capability statement: %w", err)
	}
	if capability.ResourceType != "CapabilityStatement" {
		return nil, fmt.Errorf("terminology server %s did not return a CapabilityStatement", c.endpoint)
	}

	if fhirVersion != "" && capability.FHIRVersion != "" && capability.FHIRVersion != fhirVersion {
		logger.Warn("terminology server %s reports FHIR %s, expected %s",
			c.endpoint, capability.FHIRVersion, fhirVersion)
	}

	logger.Info("connected to terminology server %s", c.endpoint)
	return c, nil
}

// Endpoint returns the server base URL.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// parametersResponse is the Parameters resource returned by
// $validate-code.
type parametersResponse struct {
	ResourceType string `json:"resourceType"`
	Parameter    []struct {
		Name         string `json:"name"`
		ValueBoolean *bool  `json:"valueBoolean,omitempty"`
		ValueString  string `json:"valueString,omitempty"`
	} `json:"parameter"`
}

func (p *parametersResponse) result() *ValidateCodeResult {
	result := &ValidateCodeResult{}
	for _, param := range p.Parameter {
		switch param.Name {
		case "result":
			if param.ValueBoolean != nil {
				result.Valid = *param.ValueBoolean
			}
		case "message":
			result.Message = param.ValueString
		case "display":
			result.Display = param.ValueString
		}
	}
	return result
}

// ValidateCode validates a code against its code system using
// CodeSystem/$validate-code.
func (c *Client) ValidateCode(ctx context.Context, system, code string) (*ValidateCodeResult, error) {
	query := url.Values{}
	query.Set("url", system)
	query.Set("code", code)

	endpoint := fmt.Sprintf("%s/CodeSystem/$validate-code?%s", c.endpoint, query.Encode())

	params, _, err := c.validateCodeCall(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	if params == nil {
		return nil, fmt.Errorf("code system not known to server: %s", system)
	}
	return params.result(), nil
}

// ValidateCodeInValueSet validates a code against a value set using
// ValueSet/$validate-code. An empty system is omitted from the request.
// A value set the server does not know yields found=false rather than
// an error.
func (c *Client) ValidateCodeInValueSet(ctx context.Context, system, code, valueSetURL string) (*ValidateCodeResult, bool, error) {
	query := url.Values{}
	query.Set("url", valueSetURL)
	if system != "" {
		query.Set("system", system)
	}
	query.Set("code", code)

	endpoint := fmt.Sprintf("%s/ValueSet/$validate-code?%s", c.endpoint, query.Encode())

	params, found, err := c.validateCodeCall(ctx, endpoint)
	if err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, nil
	}
	return params.result(), true, nil
}

// validateCodeCall performs a $validate-code GET. A 404 reports
// found=false; other non-200 statuses are errors.
func (c *Client) validateCodeCall(ctx context.Context, endpoint string) (*parametersResponse, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/fhir+json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("terminology call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("terminology server returned status %d", resp.StatusCode)
	}

	var params parametersResponse
	if err := json.NewDecoder(resp.Body).Decode(&params); err != nil {
		return nil, false, fmt.Errorf("failed to decode terminology response: %w", err)
	}
	return &params, true, nil
}

var _ Provider = (*Client)(nil)
