package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// CatalogEntry identifies a published implementation guide in the
// registry catalog.
type CatalogEntry struct {
	Name        string `json:"Name"`
	Description string `json:"Description,omitempty"`
	FHIRVersion string `json:"FhirVersion,omitempty"`
	URL         string `json:"url,omitempty"`
}

// Catalog fetches the registry's implementation-guide catalog. A fetch
// or decode failure is returned as an error; callers never receive a
// placeholder list.
func (c *Client) Catalog(ctx context.Context) ([]CatalogEntry, error) {
	url := fmt.Sprintf("%s/catalog", c.registryURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch catalog: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch catalog: status %d", resp.StatusCode)
	}

	var entries []CatalogEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("failed to decode catalog: %w", err)
	}
	return entries, nil
}
