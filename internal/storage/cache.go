package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/JSH-Team/vidcache/internal/utils/logger"

	"github.com/google/uuid"
	"github.com/pocketbase/dbx"
)

// Cache is a handle on one named generation.
type Cache struct {
	store *Store
	name  string
}

type entryRow struct {
	URL      string `db:"url"`
	Status   int    `db:"status"`
	Headers  string `db:"headers"`
	BodyKey  string `db:"body_key"`
	Size     int64  `db:"size"`
	StoredAt string `db:"stored_at"`
}

// Name returns the generation name.
func (c *Cache) Name() string {
	return c.name
}

// Put stores resp under rawURL, replacing any previous entry. Anything but
// a complete 200 response is refused with ErrIncompleteResponse.
func (c *Cache) Put(ctx context.Context, rawURL string, resp *Response) error {
	if !resp.Complete() {
		status := 0
		if resp != nil {
			status = resp.Status
		}
		return fmt.Errorf("%w: %s returned status %d", ErrIncompleteResponse, rawURL, status)
	}

	release, err := c.store.acquire()
	if err != nil {
		return err
	}
	defer release()

	headers, err := json.Marshal(resp.Header)
	if err != nil {
		return fmt.Errorf("failed to encode headers for %s: %w", rawURL, err)
	}

	// Every put gets its own blob so readers of the previous body are never torn.
	bodyKey := fmt.Sprintf("%s/%s/%s", c.name, urlHash(rawURL), uuid.NewString())
	if err := c.store.blobs.Upload(resp.Body, bodyKey); err != nil {
		return fmt.Errorf("failed to write body for %s: %w", rawURL, err)
	}

	var previousKey string
	err = c.store.db.TransactionalContext(ctx, nil, func(tx *dbx.Tx) error {
		_, err := tx.NewQuery("INSERT OR IGNORE INTO generations (name, created_at) VALUES ({:name}, {:created_at})").
			Bind(dbx.Params{"name": c.name, "created_at": now()}).
			Execute()
		if err != nil {
			return err
		}

		var row entryRow
		err = tx.Select("body_key").
			From("entries").
			Where(dbx.HashExp{"generation": c.name, "url": rawURL}).
			One(&row)
		if err != nil && !isNoRows(err) {
			return err
		}
		previousKey = row.BodyKey

		_, err = tx.NewQuery(`
			INSERT INTO entries (generation, url, status, headers, body_key, size, stored_at)
			VALUES ({:generation}, {:url}, {:status}, {:headers}, {:body_key}, {:size}, {:stored_at})
			ON CONFLICT (generation, url) DO UPDATE SET
				status = excluded.status,
				headers = excluded.headers,
				body_key = excluded.body_key,
				size = excluded.size,
				stored_at = excluded.stored_at`).
			Bind(dbx.Params{
				"generation": c.name,
				"url":        rawURL,
				"status":     resp.Status,
				"headers":    string(headers),
				"body_key":   bodyKey,
				"size":       len(resp.Body),
				"stored_at":  now(),
			}).
			Execute()
		return err
	})
	if err != nil {
		if delErr := c.store.blobs.Delete(bodyKey); delErr != nil {
			logger.Warn("Failed to clean up orphan blob %s: %v", bodyKey, delErr)
		}
		return fmt.Errorf("failed to index %s in %s: %w", rawURL, c.name, err)
	}

	if previousKey != "" && previousKey != bodyKey {
		if err := c.store.blobs.Delete(previousKey); err != nil {
			logger.Warn("Failed to delete replaced blob %s: %v", previousKey, err)
		}
	}

	// A concurrent DeleteGeneration may have removed the blob before the row
	// landed. A newer put replacing it is fine and leaves no row to drop.
	if exists, err := c.store.blobs.Exists(bodyKey); err == nil && !exists {
		if c.dropOrphan(ctx, rawURL, bodyKey) {
			return fmt.Errorf("body for %s was removed from %s while storing", rawURL, c.name)
		}
	}

	return nil
}

// dropOrphan removes the entry for rawURL if it still points at bodyKey and
// reports whether it did.
func (c *Cache) dropOrphan(ctx context.Context, rawURL, bodyKey string) bool {
	result, err := c.store.db.Delete("entries", dbx.HashExp{
		"generation": c.name,
		"url":        rawURL,
		"body_key":   bodyKey,
	}).WithContext(ctx).Execute()
	if err != nil {
		logger.Warn("Failed to drop orphan entry %s in %s: %v", rawURL, c.name, err)
		return false
	}
	affected, _ := result.RowsAffected()
	return affected > 0
}

// Match returns the stored response for rawURL, or nil when absent.
func (c *Cache) Match(ctx context.Context, rawURL string) (*Response, error) {
	release, err := c.store.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	// A second lookup covers a body replaced between the lookup and the read.
	for attempt := 0; attempt < 2; attempt++ {
		var row entryRow
		err = c.store.db.Select("url", "status", "headers", "body_key", "size", "stored_at").
			From("entries").
			Where(dbx.HashExp{"generation": c.name, "url": rawURL}).
			WithContext(ctx).
			One(&row)
		if isNoRows(err) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to look up %s in %s: %w", rawURL, c.name, err)
		}

		body, found, err := c.readBody(row.BodyKey)
		if err != nil {
			return nil, fmt.Errorf("failed to read body for %s: %w", rawURL, err)
		}
		if !found {
			logger.Debug("Body %s for %s vanished", row.BodyKey, rawURL)
			c.dropOrphan(ctx, rawURL, row.BodyKey)
			continue
		}
		return decodeEntry(row, body)
	}
	return nil, nil
}

func (c *Cache) readBody(bodyKey string) ([]byte, bool, error) {
	reader, err := c.store.blobs.GetFile(bodyKey)
	if err != nil {
		if exists, existsErr := c.store.blobs.Exists(bodyKey); existsErr == nil && !exists {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer reader.Close()

	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, false, err
	}
	return body, true, nil
}

func decodeEntry(row entryRow, body []byte) (*Response, error) {
	header := make(http.Header)
	if err := json.Unmarshal([]byte(row.Headers), &header); err != nil {
		return nil, fmt.Errorf("failed to decode headers for %s: %w", row.URL, err)
	}

	storedAt, _ := time.Parse(time.RFC3339Nano, row.StoredAt)

	return &Response{
		URL:      row.URL,
		Status:   row.Status,
		Header:   header,
		Body:     body,
		StoredAt: storedAt,
	}, nil
}

// Delete removes the entry for rawURL and reports whether one existed.
func (c *Cache) Delete(ctx context.Context, rawURL string) (bool, error) {
	release, err := c.store.acquire()
	if err != nil {
		return false, err
	}
	defer release()

	var bodyKey string
	err = c.store.db.TransactionalContext(ctx, nil, func(tx *dbx.Tx) error {
		var row entryRow
		err := tx.Select("body_key").
			From("entries").
			Where(dbx.HashExp{"generation": c.name, "url": rawURL}).
			One(&row)
		if isNoRows(err) {
			return nil
		}
		if err != nil {
			return err
		}

		if _, err := tx.Delete("entries", dbx.HashExp{"generation": c.name, "url": rawURL}).Execute(); err != nil {
			return err
		}
		bodyKey = row.BodyKey
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to delete %s from %s: %w", rawURL, c.name, err)
	}

	if bodyKey == "" {
		return false, nil
	}

	if err := c.store.blobs.Delete(bodyKey); err != nil {
		logger.Warn("Failed to delete blob %s: %v", bodyKey, err)
	}
	return true, nil
}

// Keys lists the URLs stored in the generation in insertion order.
func (c *Cache) Keys(ctx context.Context) ([]string, error) {
	release, err := c.store.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	urls := []string{}
	err = c.store.db.Select("url").
		From("entries").
		Where(dbx.HashExp{"generation": c.name}).
		OrderBy("rowid ASC").
		WithContext(ctx).
		Column(&urls)
	if err != nil {
		return nil, fmt.Errorf("failed to list keys of %s: %w", c.name, err)
	}
	return urls, nil
}
