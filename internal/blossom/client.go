package blossom

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/nostrworks/video-dvm/internal/nostrcrypto"
)

// BlobDescriptor is the JSON shape a Blossom server returns after a
// successful upload or list.
type BlobDescriptor struct {
	URL      string `json:"url"`
	SHA256   string `json:"sha256"`
	Size     int64  `json:"size"`
	MimeType string `json:"type"`
	Uploaded int64  `json:"uploaded"`
}

// ProgressFunc is invoked after each server upload completes with the
// number of bytes sent and how long it took.
type ProgressFunc func(bytesSent int64, elapsed time.Duration)

// Client uploads, lists, and deletes blobs against a set of
// configured Blossom servers, authorizing each request with a
// freshly-minted kind-24242 token. The teacher repo carries no
// third-party HTTP client of its own (its server-side net/http use is
// the closest idiom available), so this wraps the standard library's
// http.Client rather than importing one solely for this.
type Client struct {
	keys    *nostrcrypto.KeyPair
	http    *http.Client
	log     *slog.Logger
	servers []string
}

// New constructs a Client for the given Blossom server base URLs.
func New(keys *nostrcrypto.KeyPair, servers []string, log *slog.Logger) *Client {
	return &Client{
		keys: keys,
		http: &http.Client{Timeout: 5 * time.Minute},
		log:  log,
		servers: append([]string(nil), servers...),
	}
}

// ServerCount returns the number of configured Blossom servers.
func (c *Client) ServerCount() int {
	return len(c.servers)
}

// ErrAllUploadsFailed is returned when every configured server rejects
// an upload.
var ErrAllUploadsFailed = fmt.Errorf("all server uploads failed")

// UploadFileToAll uploads path to every configured server, returning
// the descriptor from each server that accepted it. At least one
// success is required.
func (c *Client) UploadFileToAll(ctx context.Context, path, mimeType string, onProgress ProgressFunc) ([]BlobDescriptor, error) {
	sha256Hex, size, err := hashFile(path)
	if err != nil {
		return nil, fmt.Errorf("hash file: %w", err)
	}

	var results []BlobDescriptor
	for _, server := range c.servers {
		start := time.Now()
		blob, err := c.uploadToServer(ctx, server, path, sha256Hex, size, mimeType)
		if err != nil {
			c.log.Warn("blossom upload failed", "server", server, "error", err)
			continue
		}
		if onProgress != nil {
			onProgress(size, time.Since(start))
		}
		c.log.Info("blossom upload succeeded", "server", server, "url", blob.URL, "sha256", blob.SHA256)
		results = append(results, blob)
	}

	if len(results) == 0 {
		return nil, &BlossomError{Kind: KindAllFailed, Err: ErrAllUploadsFailed}
	}
	return results, nil
}

// UploadFile uploads to all configured servers and returns the first
// successful descriptor.
func (c *Client) UploadFile(ctx context.Context, path, mimeType string) (BlobDescriptor, error) {
	results, err := c.UploadFileToAll(ctx, path, mimeType, nil)
	if err != nil {
		return BlobDescriptor{}, err
	}
	return results[0], nil
}

func (c *Client) uploadToServer(ctx context.Context, server, path, sha256Hex string, size int64, mimeType string) (BlobDescriptor, error) {
	authToken, err := CreateUploadAuthToken(c.keys, size, sha256Hex)
	if err != nil {
		return BlobDescriptor{}, fmt.Errorf("create upload auth token: %w", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return BlobDescriptor{}, err
	}
	defer f.Close()

	url := strings.TrimRight(server, "/") + "/upload"
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, f)
	if err != nil {
		return BlobDescriptor{}, err
	}
	req.ContentLength = size
	req.Header.Set("Content-Type", mimeType)
	req.Header.Set("Authorization", "Nostr "+authToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return BlobDescriptor{}, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return BlobDescriptor{}, &BlossomError{Kind: KindUpload, Err: fmt.Errorf("upload failed: %s: %s", resp.Status, string(body))}
	}

	var blob BlobDescriptor
	if err := json.Unmarshal(body, &blob); err != nil {
		return BlobDescriptor{}, fmt.Errorf("decode upload response: %w", err)
	}
	return blob, nil
}

// List returns the blobs the given pubkey has uploaded to server.
func (c *Client) List(ctx context.Context, server, pubkeyHex string) ([]BlobDescriptor, error) {
	authToken, err := CreateListAuthToken(c.keys)
	if err != nil {
		return nil, fmt.Errorf("create list auth token: %w", err)
	}

	url := strings.TrimRight(server, "/") + "/list/" + pubkeyHex
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Nostr "+authToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &BlossomError{Kind: KindList, Err: fmt.Errorf("list failed: %s: %s", resp.Status, string(body))}
	}

	var blobs []BlobDescriptor
	if err := json.Unmarshal(body, &blobs); err != nil {
		return nil, fmt.Errorf("decode list response: %w", err)
	}
	return blobs, nil
}

// Delete removes the blob identified by sha256Hex from server.
func (c *Client) Delete(ctx context.Context, server, sha256Hex string) error {
	authToken, err := CreateDeleteAuthToken(c.keys, sha256Hex)
	if err != nil {
		return fmt.Errorf("create delete auth token: %w", err)
	}

	url := strings.TrimRight(server, "/") + "/" + sha256Hex
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Nostr "+authToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return &BlossomError{Kind: KindDelete, Err: fmt.Errorf("delete failed: %s: %s", resp.Status, string(body))}
	}
	return nil
}

// DeleteFromAll removes the blob from every configured server,
// collecting (not failing fast on) individual server errors.
func (c *Client) DeleteFromAll(ctx context.Context, sha256Hex string) []error {
	var errs []error
	for _, server := range c.servers {
		if err := c.Delete(ctx, server, sha256Hex); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", server, err))
		}
	}
	return errs
}

func hashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}
