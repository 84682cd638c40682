package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/reglens/reglens/internal/crawler"
)

// sourceCacheTTL bounds how long a source row is served from cache. Crawl
// config edits take effect within this window without a restart.
const sourceCacheTTL = 5 * time.Minute

// SourceTypePolicy marks regulator/government sources whose documents are
// flagged as alerts. Everything else is treated as news.
const SourceTypePolicy = "policy"

// Source is a monitored site with its stored crawl overrides.
type Source struct {
	ID        string
	Name      string
	URL       string
	Type      string
	Active    bool
	Overrides *crawler.SourceOverrides
}

// GetSource fetches a source by id, served from cache when fresh.
func (d *DB) GetSource(ctx context.Context, id string) (*Source, error) {
	cacheKey := "source:" + id
	if cached, found := d.Cache.Get(cacheKey); found {
		return cached.(*Source), nil
	}

	source := &Source{}
	var crawlConfig []byte

	err := d.client.QueryRowContext(ctx, `
		SELECT id, name, url, source_type, active, crawl_config
		FROM sources WHERE id = $1
	`, id).Scan(&source.ID, &source.Name, &source.URL, &source.Type, &source.Active, &crawlConfig)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("source %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch source %s: %w", id, err)
	}

	if len(crawlConfig) > 0 {
		overrides := &crawler.SourceOverrides{}
		if err := json.Unmarshal(crawlConfig, overrides); err != nil {
			return nil, fmt.Errorf("invalid crawl_config for source %s: %w", id, err)
		}
		source.Overrides = overrides
	}

	d.Cache.SetWithTTL(cacheKey, source, sourceCacheTTL)
	return source, nil
}

// CreateSource inserts a source and returns its generated id.
func (d *DB) CreateSource(ctx context.Context, name, url, sourceType string, overrides *crawler.SourceOverrides) (string, error) {
	var crawlConfig any
	if overrides != nil {
		crawlConfig = Serialise(overrides)
	}

	var id string
	err := d.client.QueryRowContext(ctx, `
		INSERT INTO sources (name, url, source_type, crawl_config)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, name, url, sourceType, crawlConfig).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("failed to create source: %w", err)
	}
	return id, nil
}
