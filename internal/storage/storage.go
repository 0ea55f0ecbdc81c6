package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
)

// Fetcher downloads a remote object to a local path.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL, dest string) (string, error)
}

// Uploader stores a local file under key and returns its remote URL.
type Uploader interface {
	Store(ctx context.Context, localPath, key string) (string, error)
}

// Store combines both directions.
type Store interface {
	Fetcher
	Uploader
}

// Location identifies an object inside a bucket.
type Location struct {
	Bucket string
	Key    string
}

// ParseURL resolves rawURL to a bucket and key. s3://bucket/key names its bucket
// explicitly; for http(s) URLs the key is the URL path and the bucket is
// defaultBucket, with a leading "<defaultBucket>/" segment stripped so
// path-style URLs resolve to the same object as virtual-hosted ones.
func ParseURL(rawURL, defaultBucket string) (Location, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return Location{}, fmt.Errorf("parse object url: %w", err)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "s3":
		key := strings.TrimPrefix(parsed.Path, "/")
		if parsed.Host == "" || key == "" {
			return Location{}, fmt.Errorf("object url %q must name a bucket and key", rawURL)
		}
		return Location{Bucket: parsed.Host, Key: key}, nil
	case "http", "https":
	default:
		return Location{}, fmt.Errorf("object url %q: unsupported scheme %q", rawURL, parsed.Scheme)
	}

	key := strings.TrimPrefix(parsed.Path, "/")
	if defaultBucket != "" {
		key = strings.TrimPrefix(key, defaultBucket+"/")
	}
	if key == "" || strings.HasSuffix(key, "/") {
		return Location{}, fmt.Errorf("object url %q has no object key", rawURL)
	}
	if defaultBucket == "" {
		return Location{}, errors.New("storage bucket is not configured")
	}
	return Location{Bucket: defaultBucket, Key: key}, nil
}

// FileName returns the last path segment of rawURL, used as the local file name.
func FileName(rawURL string) string {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || parsed.Path == "" {
		trimmed := strings.TrimRight(strings.TrimSpace(rawURL), "/")
		if idx := strings.LastIndex(trimmed, "/"); idx >= 0 {
			return trimmed[idx+1:]
		}
		return trimmed
	}
	name := path.Base(parsed.Path)
	if name == "/" || name == "." {
		return ""
	}
	return name
}

// ResultKey joins the configured result prefix with name.
func ResultKey(prefix, name string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}
