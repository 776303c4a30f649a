package mcpserver

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

const maxImageSize = 10 << 20

// supportedImages lists the MIME types the OCR provider accepts.
var supportedImages = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/webp": true,
	"image/gif":  true,
}

// loadImage resolves src, a base64 data URI or an http(s) URL, into
// base64 data and its sniffed MIME type.
func loadImage(ctx context.Context, src string) (string, string, error) {
	var (
		data []byte
		err  error
	)
	if strings.HasPrefix(src, "data:") {
		data, err = decodeDataURI(src)
	} else {
		data, err = fetchHTTP(ctx, src)
	}
	if err != nil {
		return "", "", err
	}
	if len(data) > maxImageSize {
		return "", "", fmt.Errorf("image too large: %d bytes (max %d)", len(data), maxImageSize)
	}
	mimeType := strings.Split(http.DetectContentType(data), ";")[0]
	if !supportedImages[mimeType] {
		return "", "", fmt.Errorf("unsupported image type %s (allowed: png, jpeg, webp, gif)", mimeType)
	}
	return base64.StdEncoding.EncodeToString(data), mimeType, nil
}

// decodeDataURI parses data:[<mediatype>];base64,<data>.
func decodeDataURI(uri string) ([]byte, error) {
	meta, encoded, ok := strings.Cut(strings.TrimPrefix(uri, "data:"), ",")
	if !ok {
		return nil, fmt.Errorf("invalid data URI: missing comma separator")
	}
	if !strings.HasSuffix(meta, ";base64") {
		return nil, fmt.Errorf("only base64 data URIs are supported")
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("invalid base64 data: %w", err)
		}
	}
	return data, nil
}

func fetchHTTP(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid image URL: %w", err)
	}
	if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
		return nil, fmt.Errorf("unsupported URL scheme %q", req.URL.Scheme)
	}
	if err := checkBlockedHost(req.URL.Hostname()); err != nil {
		return nil, err
	}

	client := &http.Client{
		Timeout: 30 * time.Second,
		CheckRedirect: func(r *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return fmt.Errorf("too many redirects (max 5)")
			}
			return checkBlockedHost(r.URL.Hostname())
		},
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download failed: HTTP %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageSize+1))
	if err != nil {
		return nil, fmt.Errorf("read body failed: %w", err)
	}
	return data, nil
}

// checkBlockedHost rejects hosts that resolve to loopback, private,
// link-local or unspecified addresses, and the cloud metadata name. Every
// resolved address is checked.
func checkBlockedHost(host string) error {
	if host == "metadata.google.internal" {
		return fmt.Errorf("blocked host: %s", host)
	}
	ips := []net.IP{net.ParseIP(host)}
	if ips[0] == nil {
		resolved, err := net.LookupIP(host)
		if err != nil || len(resolved) == 0 {
			return nil //nolint:nilerr // DNS failures surface from the client
		}
		ips = resolved
	}
	for _, ip := range ips {
		if blockedIP(ip) {
			return fmt.Errorf("blocked host: %s", host)
		}
	}
	return nil
}

func blockedIP(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() || ip.IsUnspecified()
}
