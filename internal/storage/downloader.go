package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"syscall"
	"time"
)

var (
	ErrTooLarge = errors.New("storage: download exceeds size limit")
	// ErrUnsupportedType means the download is not an image, video or audio
	// type we know how to store.
	ErrUnsupportedType = errors.New("storage: unsupported download content type")
	// ErrForbiddenAddress means the download host resolved to a loopback,
	// private, link-local or otherwise non-public address.
	ErrForbiddenAddress = errors.New("storage: download address not allowed")
)

// Downloader fetches provider output URLs with a size cap. Only media types
// listed in extensionsByType are accepted, and connections to non-public
// addresses are refused unless WithPrivateNetworks is set.
type Downloader struct {
	httpClient   *http.Client
	maxBytes     int64
	allowPrivate bool
}

// DownloaderOption configures a Downloader.
type DownloaderOption func(*Downloader)

// WithPrivateNetworks allows downloads from loopback and private addresses.
func WithPrivateNetworks() DownloaderOption {
	return func(d *Downloader) {
		d.allowPrivate = true
	}
}

// NewDownloader creates a Downloader. maxBytes <= 0 means 512 MiB.
func NewDownloader(timeout time.Duration, maxBytes int64, opts ...DownloaderOption) *Downloader {
	if maxBytes <= 0 {
		maxBytes = 512 << 20
	}
	d := &Downloader{maxBytes: maxBytes}
	for _, opt := range opts {
		opt(d)
	}

	dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
	if !d.allowPrivate {
		dialer.Control = refusePrivate
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = nil
	transport.DialContext = dialer.DialContext
	d.httpClient = &http.Client{Timeout: timeout, Transport: transport}
	return d
}

// refusePrivate runs after name resolution, so it also covers redirects and
// hosts that resolve to internal addresses.
func refusePrivate(_, address string, _ syscall.RawConn) error {
	ap, err := netip.ParseAddrPort(address)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrForbiddenAddress, address)
	}
	if !isPublic(ap.Addr()) {
		return fmt.Errorf("%w: %s", ErrForbiddenAddress, ap.Addr())
	}
	return nil
}

func isPublic(ip netip.Addr) bool {
	ip = ip.Unmap()
	return ip.IsValid() &&
		!ip.IsLoopback() &&
		!ip.IsPrivate() &&
		!ip.IsLinkLocalUnicast() &&
		!ip.IsLinkLocalMulticast() &&
		!ip.IsInterfaceLocalMulticast() &&
		!ip.IsMulticast() &&
		!ip.IsUnspecified() &&
		!cgnat.Contains(ip)
}

var cgnat = netip.MustParsePrefix("100.64.0.0/10")

// Fetch downloads rawURL and returns its bytes and media type. The type is
// taken from the response header, then the URL extension, then sniffed, and
// must be an image, video or audio type we store.
func (d *Downloader) Fetch(ctx context.Context, rawURL string) ([]byte, string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, "", fmt.Errorf("storage: invalid download url %q", rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("storage: build download request: %w", err)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, ErrForbiddenAddress) {
			return nil, "", fmt.Errorf("download %s: %w", u.Host, ErrForbiddenAddress)
		}
		return nil, "", fmt.Errorf("storage: download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("storage: download %s: status %d", rawURL, resp.StatusCode)
	}
	if resp.ContentLength > d.maxBytes {
		return nil, "", ErrTooLarge
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, d.maxBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("storage: read download body: %w", err)
	}
	if int64(len(data)) > d.maxBytes {
		return nil, "", ErrTooLarge
	}

	contentType := normalizeMediaType(resp.Header.Get("Content-Type"))
	if contentType == "" || contentType == "application/octet-stream" || contentType == "binary/octet-stream" {
		if ct := ContentTypeForExtension(u.Path); ct != "" {
			contentType = ct
		} else {
			contentType = normalizeMediaType(http.DetectContentType(data))
		}
	}
	if !IsAllowedContentType(contentType) {
		return nil, "", fmt.Errorf("%w: %q", ErrUnsupportedType, contentType)
	}
	return data, contentType, nil
}

// IsAllowedContentType reports whether contentType is a media type with a
// known storage extension.
func IsAllowedContentType(contentType string) bool {
	_, ok := extensionsByType[normalizeMediaType(contentType)]
	return ok
}
