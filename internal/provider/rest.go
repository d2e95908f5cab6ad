package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/shelfarr/shelfarr/internal/fetch"
	"github.com/shelfarr/shelfarr/internal/models"
)

// RESTProvider is a generic HTTP-JSON metadata provider. It speaks a small
// conventional API:
//
//	GET {base}/search?kind=movie&title=Heat&year=1995
//	GET {base}/items/{id}
//	GET {base}/items/{id}/assets?types=poster,fanart
//
// The API key, when set, is sent as a bearer token. Concrete provider quirks
// belong in dedicated implementations; this one covers any source that can
// front itself with these three endpoints.
type RESTProvider struct {
	name    string
	baseURL string
	apiKey  string
	client  *fetch.Client
}

// NewRESTProvider creates a provider for the given endpoint. The trailing
// slash of baseURL is ignored.
func NewRESTProvider(name, baseURL, apiKey string, client *fetch.Client) *RESTProvider {
	return &RESTProvider{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  client,
	}
}

// Name returns the provider's unique name.
func (p *RESTProvider) Name() string {
	return p.name
}

// restItem is the provider's wire format for one catalog entry.
type restItem struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	SortTitle string `json:"sort_title"`
	Year      int    `json:"year"`
	Overview  string `json:"overview"`
	Language  string `json:"language"`
}

// restAsset is the provider's wire format for one offered asset.
type restAsset struct {
	Type        string  `json:"type"`
	URL         string  `json:"url"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	DurationSec int     `json:"duration_sec"`
	Votes       int     `json:"votes"`
	VoteAverage float64 `json:"vote_average"`
	Language    string  `json:"language"`
}

// Identify matches the ref against the provider catalog. A known provider ID
// is looked up directly; otherwise the title search's first result wins.
func (p *RESTProvider) Identify(ctx context.Context, ref EntityRef) (*Metadata, error) {
	if id, ok := ref.ProviderIDs[p.name]; ok && id != "" {
		item, err := p.getItem(ctx, id)
		if err != nil {
			return nil, err
		}
		return itemMetadata(item), nil
	}

	q := url.Values{}
	q.Set("kind", string(ref.Kind))
	q.Set("title", ref.Title)
	if ref.Year > 0 {
		q.Set("year", strconv.Itoa(ref.Year))
	}

	var result struct {
		Results []restItem `json:"results"`
	}
	if err := p.getJSON(ctx, p.baseURL+"/search?"+q.Encode(), &result); err != nil {
		return nil, err
	}
	if len(result.Results) == 0 {
		return nil, NewError(p.name, ErrorKindNotFound, fmt.Errorf("no match for %q", ref.Title))
	}
	return itemMetadata(&result.Results[0]), nil
}

// Candidates returns the assets the provider offers for the ref. The entity
// must carry this provider's ID from a previous identification.
func (p *RESTProvider) Candidates(ctx context.Context, ref EntityRef, assetTypes []models.AssetType) ([]Candidate, error) {
	id, ok := ref.ProviderIDs[p.name]
	if !ok || id == "" {
		return nil, NewError(p.name, ErrorKindNotFound, fmt.Errorf("entity %q has no %s id", ref.Title, p.name))
	}

	types := make([]string, len(assetTypes))
	for i, t := range assetTypes {
		types[i] = string(t)
	}

	q := url.Values{}
	q.Set("types", strings.Join(types, ","))

	var result struct {
		Assets []restAsset `json:"assets"`
	}
	endpoint := fmt.Sprintf("%s/items/%s/assets?%s", p.baseURL, url.PathEscape(id), q.Encode())
	if err := p.getJSON(ctx, endpoint, &result); err != nil {
		return nil, err
	}

	requested := make(map[models.AssetType]bool, len(assetTypes))
	for _, t := range assetTypes {
		requested[t] = true
	}

	candidates := make([]Candidate, 0, len(result.Assets))
	for _, a := range result.Assets {
		assetType := models.AssetType(a.Type)
		if !requested[assetType] || a.URL == "" {
			continue
		}
		candidates = append(candidates, Candidate{
			AssetType:   assetType,
			URL:         a.URL,
			Width:       a.Width,
			Height:      a.Height,
			DurationSec: a.DurationSec,
			Votes:       a.Votes,
			VoteAverage: a.VoteAverage,
			Language:    a.Language,
		})
	}
	return candidates, nil
}

// getItem fetches one catalog entry by provider ID.
func (p *RESTProvider) getItem(ctx context.Context, id string) (*restItem, error) {
	var item restItem
	if err := p.getJSON(ctx, p.baseURL+"/items/"+url.PathEscape(id), &item); err != nil {
		return nil, err
	}
	return &item, nil
}

// getJSON performs an authenticated GET and decodes the JSON response,
// mapping failures to typed provider errors.
func (p *RESTProvider) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return NewError(p.name, ErrorKindUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return NewError(p.name, ErrorKindTimeout, err)
		}
		return NewError(p.name, ErrorKindUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return NewError(p.name, ErrorKindNotFound, fmt.Errorf("GET %s: %s", endpoint, resp.Status))
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return NewError(p.name, ErrorKindAuth, fmt.Errorf("GET %s: %s", endpoint, resp.Status))
	case resp.StatusCode == http.StatusTooManyRequests:
		return NewError(p.name, ErrorKindRateLimited, fmt.Errorf("GET %s: %s", endpoint, resp.Status))
	case resp.StatusCode != http.StatusOK:
		return NewError(p.name, ErrorKindUnavailable, fmt.Errorf("GET %s: %s", endpoint, resp.Status))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return NewError(p.name, ErrorKindUnavailable, fmt.Errorf("decoding response: %w", err))
	}
	return nil
}

func itemMetadata(item *restItem) *Metadata {
	return &Metadata{
		ProviderID: item.ID,
		Title:      item.Title,
		SortTitle:  item.SortTitle,
		Year:       item.Year,
		Overview:   item.Overview,
		Language:   item.Language,
	}
}
