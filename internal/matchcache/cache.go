// Package matchcache stores fetched matches keyed by match ID. Matches never
// change once played, so entries are written once and never invalidated.
package matchcache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/zstd"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob" // file:// driver
	_ "gocloud.dev/blob/gcsblob"  // gs:// driver
	_ "gocloud.dev/blob/memblob"  // mem:// driver
	_ "gocloud.dev/blob/s3blob"   // s3:// driver
	"gocloud.dev/gcerrors"

	"match-ingest/internal/riot"
)

const (
	keyPrefix = "matches/"
	keySuffix = ".json.zst"
)

// ErrInvalidID is returned for IDs that cannot be used as an object key
var ErrInvalidID = errors.New("matchcache: invalid match id")

// Cache is a content-addressed match store over any gocloud bucket
type Cache struct {
	bucket *blob.Bucket
	enc    *zstd.Encoder
	dec    *zstd.Decoder
}

// Open opens the bucket at bucketURL (file:///dir, mem://, gs://bucket, s3://bucket).
// Local directories are created if missing.
func Open(ctx context.Context, bucketURL string) (*Cache, error) {
	if u, err := url.Parse(bucketURL); err == nil && u.Scheme == "file" {
		if err := os.MkdirAll(u.Path, 0755); err != nil {
			return nil, fmt.Errorf("create cache dir %s: %w", u.Path, err)
		}
	}

	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("open match cache %s: %w", bucketURL, err)
	}
	return New(bucket)
}

// New wraps an already open bucket. The Cache owns it from here on.
func New(bucket *blob.Bucket) (*Cache, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &Cache{bucket: bucket, enc: enc, dec: dec}, nil
}

func key(matchID string) (string, error) {
	if matchID == "" || strings.ContainsAny(matchID, "/\\") || strings.Contains(matchID, "..") {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, matchID)
	}
	return keyPrefix + matchID + keySuffix, nil
}

// Get returns the cached match. A miss is (nil, false, nil).
func (c *Cache) Get(ctx context.Context, matchID string) (*riot.MatchResponse, bool, error) {
	k, err := key(matchID)
	if err != nil {
		return nil, false, err
	}

	compressed, err := c.bucket.ReadAll(ctx, k)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read %s: %w", k, err)
	}

	match, err := c.decode(compressed, matchID)
	if err != nil {
		return nil, false, fmt.Errorf("decode %s: %w", k, err)
	}
	return match, true, nil
}

// Has reports whether matchID is cached without reading it
func (c *Cache) Has(ctx context.Context, matchID string) (bool, error) {
	k, err := key(matchID)
	if err != nil {
		return false, err
	}
	ok, err := c.bucket.Exists(ctx, k)
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", k, err)
	}
	return ok, nil
}

// Put stores a match. The upstream body is kept as sent when the match
// carries it; otherwise the decoded fields are encoded. Writing the same ID
// twice is harmless: same ID, same bytes.
func (c *Cache) Put(ctx context.Context, matchID string, match *riot.MatchResponse) error {
	k, err := key(matchID)
	if err != nil {
		return err
	}
	raw := match.Raw
	if len(raw) == 0 {
		if raw, err = json.Marshal(match); err != nil {
			return fmt.Errorf("encode match %s: %w", matchID, err)
		}
	}

	opts := &blob.WriterOptions{ContentType: "application/zstd"}
	if err := c.bucket.WriteAll(ctx, k, c.enc.EncodeAll(raw, nil), opts); err != nil {
		return fmt.Errorf("write %s: %w", k, err)
	}
	return nil
}

// Walk calls fn for every cached match in key order. A decode failure on one
// object aborts the walk; the corpus should never contain partial writes.
func (c *Cache) Walk(ctx context.Context, fn func(*riot.MatchResponse) error) error {
	iter := c.bucket.List(&blob.ListOptions{Prefix: keyPrefix})
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("list match cache: %w", err)
		}
		if obj.IsDir || !strings.HasSuffix(obj.Key, keySuffix) {
			continue
		}

		compressed, err := c.bucket.ReadAll(ctx, obj.Key)
		if err != nil {
			return fmt.Errorf("read %s: %w", obj.Key, err)
		}
		id := strings.TrimSuffix(strings.TrimPrefix(obj.Key, keyPrefix), keySuffix)
		match, err := c.decode(compressed, id)
		if err != nil {
			return fmt.Errorf("decode %s: %w", obj.Key, err)
		}
		if err := fn(match); err != nil {
			return err
		}
	}
}

// Count returns the number of cached matches
func (c *Cache) Count(ctx context.Context) (int, error) {
	n := 0
	iter := c.bucket.List(&blob.ListOptions{Prefix: keyPrefix})
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("list match cache: %w", err)
		}
		if !obj.IsDir && strings.HasSuffix(obj.Key, keySuffix) {
			n++
		}
	}
}

func (c *Cache) decode(compressed []byte, matchID string) (*riot.MatchResponse, error) {
	raw, err := c.dec.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	var match riot.MatchResponse
	if err := json.Unmarshal(raw, &match); err != nil {
		return nil, err
	}
	match.Raw = raw
	if match.Metadata.MatchID == "" {
		match.Metadata.MatchID = matchID
	}
	return &match, nil
}

// Close releases the bucket and codec resources
func (c *Cache) Close() error {
	c.dec.Close()
	if err := c.enc.Close(); err != nil {
		return err
	}
	return c.bucket.Close()
}
