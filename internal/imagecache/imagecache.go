// Package imagecache remembers the images scraped off of product pages so that the
// same page is not scraped again every time someone opens the product.
package imagecache

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"shopsnap-backend/internal/components/assert"
	"shopsnap-backend/internal/components/chrono"
	"time"

	"github.com/PuerkitoBio/purell"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

//go:embed schema.sql
var Schema string

var tracer = otel.Tracer("shopsnap.internal.imagecache")

var ErrNotFound = errors.New("imagecache: not found")

type Cache struct {
	db    *sql.DB
	clock chrono.TimeAPI
	ttl   time.Duration
}

// NewCache expects db to already have Schema applied.
func NewCache(db *sql.DB, clock chrono.TimeAPI, ttl time.Duration) Cache {
	assert.NotNil(db)
	assert.NotNil(clock)
	if ttl <= 0 {
		ttl = 6 * time.Hour
	}
	return Cache{db: db, clock: clock, ttl: ttl}
}

// Key normalizes a product url so that trivially different urls of the same page
// (query order, fragments, trailing slashes) share an entry.
func Key(productUrl string) (string, error) {
	parsed, err := url.Parse(productUrl)
	if err != nil {
		return "", err
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("imagecache: url has no host: %q", productUrl)
	}
	normalized := purell.NormalizeURL(
		parsed,
		purell.FlagsSafe|
			purell.FlagsUsuallySafeGreedy|
			purell.FlagRemoveDirectoryIndex|
			purell.FlagRemoveFragment|
			purell.FlagSortQuery,
	)
	return normalized, nil
}

func (c Cache) Get(ctx context.Context, productUrl string) ([]string, error) {
	ctx, span := tracer.Start(ctx, "Get")
	defer span.End()

	key, err := Key(productUrl)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create cache key")
		return nil, err
	}
	span.SetAttributes(attribute.String("cache_key", key))

	var serialized string
	err = c.db.QueryRowContext(
		ctx,
		"select images from scraped_images where key = ? and expires_at > ?",
		key, c.clock.Now().Unix(),
	).Scan(&serialized)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to query cached images")
		return nil, err
	}

	var images []string
	err = json.Unmarshal([]byte(serialized), &images)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to deserialize cached images")
		return nil, err
	}
	return images, nil
}

func (c Cache) Set(ctx context.Context, productUrl string, images []string) error {
	ctx, span := tracer.Start(ctx, "Set")
	defer span.End()

	key, err := Key(productUrl)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create cache key")
		return err
	}
	if images == nil {
		images = []string{}
	}
	serialized, err := json.Marshal(images)
	if err != nil {
		return err
	}

	expiresAt := c.clock.Now().Add(c.ttl).Unix()
	_, err = c.db.ExecContext(
		ctx,
		`insert into scraped_images(key, images, expires_at) values (?, ?, ?)
		on conflict(key) do update set images = excluded.images, expires_at = excluded.expires_at`,
		key, string(serialized), expiresAt,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to write cached images")
		return err
	}
	return nil
}

// DeleteExpired removes stale entries and returns how many were removed.
func (c Cache) DeleteExpired(ctx context.Context) (int64, error) {
	ctx, span := tracer.Start(ctx, "DeleteExpired")
	defer span.End()

	res, err := c.db.ExecContext(
		ctx,
		"delete from scraped_images where expires_at <= ?",
		c.clock.Now().Unix(),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to delete expired images")
		return 0, err
	}
	return res.RowsAffected()
}
