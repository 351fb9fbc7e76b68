package model

import (
	"context"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// IsRemote reports whether location is an http(s) URL rather than a local path.
func IsRemote(location string) bool {
	u, err := url.Parse(location)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// Fetch resolves location to a local file. Local paths are checked and
// returned as is; URLs are downloaded into cacheDir once and reused.
func Fetch(ctx context.Context, location, cacheDir string) (string, error) {
	if !IsRemote(location) {
		if _, err := os.Stat(location); err != nil {
			return "", fmt.Errorf("model source %s: %w", location, err)
		}
		return location, nil
	}

	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create cache dir: %w", err)
	}

	dest := filepath.Join(cacheDir, cacheName(location))
	if _, err := os.Stat(dest); err == nil {
		slog.Debug("using cached model artifact", "url", location, "path", dest)
		return dest, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to download %s: %w", location, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to download %s: %s", location, resp.Status)
	}

	tmp, err := os.CreateTemp(cacheDir, ".download-*")
	if err != nil {
		return "", fmt.Errorf("failed to create download file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, resp.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", fmt.Errorf("failed to download %s: %w", location, err)
	}

	if err := os.Rename(tmp.Name(), dest); err != nil {
		return "", fmt.Errorf("failed to store %s: %w", location, err)
	}

	slog.Info("downloaded model artifact", "url", location, "path", dest, "bytes", n)
	return dest, nil
}

// cacheName keeps the URL's file name readable and prefixes a hash of the
// full URL so different sources never share a cache entry.
func cacheName(location string) string {
	sum := sha256.Sum256([]byte(location))
	base := "artifact"
	if u, err := url.Parse(location); err == nil {
		if b := path.Base(u.Path); b != "." && b != "/" {
			base = b
		}
	}
	return hex.EncodeToString(sum[:6]) + "-" + base
}

// DefaultClassMap derives the class map location that sits next to the model.
func DefaultClassMap(modelLocation string) string {
	const name = "yamnet_class_map.csv"
	if IsRemote(modelLocation) {
		u, err := url.Parse(modelLocation)
		if err != nil {
			return name
		}
		u.Path = path.Join(path.Dir(u.Path), name)
		return u.String()
	}
	return filepath.Join(filepath.Dir(modelLocation), name)
}

// ReadClassMap parses a YAMNet class map (index,mid,display_name) and returns
// the display names in index order.
func ReadClassMap(r io.Reader) ([]string, error) {
	rows, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse class map: %w", err)
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("class map has no classes")
	}

	col := -1
	for i, h := range rows[0] {
		if strings.TrimSpace(h) == "display_name" {
			col = i
			break
		}
	}
	if col < 0 {
		return nil, fmt.Errorf("class map has no display_name column")
	}

	names := make([]string, 0, len(rows)-1)
	for i, row := range rows[1:] {
		if col >= len(row) {
			return nil, fmt.Errorf("class map row %d has %d columns", i+1, len(row))
		}
		names = append(names, row[col])
	}
	return names, nil
}

// LoadClassMap fetches and parses the class map at location.
func LoadClassMap(ctx context.Context, location, cacheDir string) ([]string, error) {
	p, err := Fetch(ctx, location, cacheDir)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(p)
	if err != nil {
		return nil, fmt.Errorf("failed to read class map: %w", err)
	}
	defer f.Close()

	return ReadClassMap(f)
}
