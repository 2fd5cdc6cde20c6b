package notion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"notion_mirror/internal/domain"
)

// Config holds Notion API client configuration.
type Config struct {
	BaseURL        string
	APIKey         string
	Version        string
	DatabaseID     string
	PageSize       int
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Source fetches pages from one Notion database and normalizes them into
// domain records.
type Source struct {
	httpClient     *http.Client
	baseURL        string
	apiKey         string
	version        string
	databaseID     string
	pageSize       int
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	schema         *SchemaCache
	logger         *slog.Logger
}

// New creates a Notion source. The schema cache is injected so callers (and
// tests) control its lifetime and clock.
func New(cfg Config, schema *SchemaCache, logger *slog.Logger) *Source {
	return &Source{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL:        cfg.BaseURL,
		apiKey:         cfg.APIKey,
		version:        cfg.Version,
		databaseID:     cfg.DatabaseID,
		pageSize:       cfg.PageSize,
		maxAttempts:    cfg.MaxAttempts,
		initialBackoff: cfg.InitialBackoff,
		maxBackoff:     cfg.MaxBackoff,
		schema:         schema,
		logger:         logger.With("source", "notion", "database_id", cfg.DatabaseID),
	}
}

// DatabaseID returns the Notion database this source mirrors.
func (s *Source) DatabaseID() string {
	return s.databaseID
}

// FetchChanges returns every page edited after since, or the whole database
// when since is zero. Pagination is followed until exhausted; one call is one
// complete snapshot of the requested window.
func (s *Source) FetchChanges(ctx context.Context, since time.Time) ([]domain.Record, error) {
	mapping, err := s.schema.Mapping(ctx, s.fetchSchema)
	if err != nil {
		return nil, fmt.Errorf("property mapping: %w", err)
	}

	req := queryRequest{
		Sorts: []timestampSort{
			{Timestamp: "last_edited_time", Direction: "descending"},
		},
		PageSize: s.pageSize,
	}
	if !since.IsZero() {
		req.Filter = &timestampFilter{
			Timestamp:      "last_edited_time",
			LastEditedTime: &afterCondition{After: since.UTC().Format(time.RFC3339)},
		}
	}

	var pages []Page
	for pageNum := 0; ; pageNum++ {
		resp, err := s.queryPage(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("query page %d: %w", pageNum, err)
		}

		pages = append(pages, resp.Results...)

		s.logger.Debug("fetched page",
			"page", pageNum,
			"results", len(resp.Results),
			"total", len(pages),
		)

		if !resp.HasMore || resp.NextCursor == nil {
			break
		}
		req.StartCursor = *resp.NextCursor
	}

	return s.transform(pages, mapping), nil
}

func (s *Source) queryPage(ctx context.Context, query queryRequest) (*queryResponse, error) {
	var resp *queryResponse
	var err error

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		resp, err = s.doQuery(ctx, query)
		if err == nil {
			return resp, nil
		}

		if attempt == s.maxAttempts || !domain.IsTransient(err) {
			break
		}

		backoff := s.calculateBackoff(attempt)
		s.logger.Warn("request failed, retrying",
			"attempt", attempt,
			"backoff", backoff,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}

	return nil, err
}

func (s *Source) doQuery(ctx context.Context, query queryRequest) (*queryResponse, error) {
	url := fmt.Sprintf("%s/databases/%s/query", s.baseURL, s.databaseID)

	body, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("marshal query: %w", err)
	}

	var apiResp queryResponse
	if err := s.doRequest(ctx, http.MethodPost, url, bytes.NewReader(body), &apiResp); err != nil {
		return nil, err
	}
	return &apiResp, nil
}

// fetchSchema retrieves the database schema and builds the property-name →
// property-ID mapping.
func (s *Source) fetchSchema(ctx context.Context) (map[string]string, error) {
	url := fmt.Sprintf("%s/databases/%s", s.baseURL, s.databaseID)

	var schema databaseResponse
	if err := s.doRequest(ctx, http.MethodGet, url, nil, &schema); err != nil {
		return nil, fmt.Errorf("fetch database schema: %w", err)
	}

	mapping := make(map[string]string, len(schema.Properties))
	for key, prop := range schema.Properties {
		name, id := prop.Name, prop.ID
		if name == "" {
			name = key
		}
		if id == "" {
			id = key
		}
		mapping[name] = id
	}

	s.logger.Debug("built property mapping", "properties", len(mapping))
	return mapping, nil
}

func (s *Source) doRequest(ctx context.Context, method, url string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Notion-Version", s.version)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return &domain.FetchError{Message: err.Error(), Transient: true}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr apiError
		msg := fmt.Sprintf("unexpected status %d", resp.StatusCode)
		if decodeErr := json.NewDecoder(resp.Body).Decode(&apiErr); decodeErr == nil && apiErr.Message != "" {
			msg = apiErr.Message
		}
		return &domain.FetchError{
			StatusCode: resp.StatusCode,
			Message:    msg,
			Transient:  transientStatus(resp.StatusCode),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &domain.FetchError{Message: fmt.Sprintf("decode response: %v", err)}
	}
	return nil
}

func transientStatus(code int) bool {
	return code == http.StatusTooManyRequests ||
		code == http.StatusRequestTimeout ||
		code >= 500
}

func (s *Source) calculateBackoff(attempt int) time.Duration {
	backoff := s.initialBackoff
	for i := 1; i < attempt; i++ {
		backoff *= 2
	}
	if backoff > s.maxBackoff {
		backoff = s.maxBackoff
	}
	return backoff
}

func (s *Source) transform(pages []Page, mapping map[string]string) []domain.Record {
	records := make([]domain.Record, 0, len(pages))

	for _, p := range pages {
		createdTime, err := time.Parse(time.RFC3339, p.CreatedTime)
		if err != nil {
			s.logger.Warn("failed to parse created_time, skipping page",
				"notion_id", p.ID,
				"created_time", p.CreatedTime,
			)
			continue
		}
		lastModified, err := time.Parse(time.RFC3339, p.LastEditedTime)
		if err != nil {
			s.logger.Warn("failed to parse last_edited_time, skipping page",
				"notion_id", p.ID,
				"last_edited_time", p.LastEditedTime,
			)
			continue
		}

		r := resolver{props: p.Properties, mapping: mapping, logger: s.logger}

		records = append(records, domain.Record{
			DatabaseID:   s.databaseID,
			NotionID:     p.ID,
			Title:        r.title("Task Name"),
			Properties:   extractProperties(p.Properties, mapping, s.logger),
			CreatedTime:  createdTime,
			LastModified: lastModified,
			IsArchived:   p.Archived,
			URL:          p.URL,
		})
	}

	return records
}
