// Package fetch materializes HRRR archive objects as local files. It knows
// the public archive layout (Google cloud-storage mirror and the NOAA S3
// bucket), probes mirrors for existence, and maintains a dated download
// cache. It implements the product layer's Fetcher contract.
package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/couchcryptid/storm-grid-sampler/internal/hrrr"
	"github.com/couchcryptid/storm-grid-sampler/internal/raster"
)

// Public archive mirrors, probed in order. The Google mirror has the deeper
// history; the NOAA bucket usually publishes new cycles first.
var DefaultMirrors = []string{
	"https://storage.googleapis.com/high-resolution-rapid-refresh",
	"https://noaa-hrrr-bdp-pds.s3.amazonaws.com",
}

// Client downloads archive objects into a local cache directory. The zero
// value is not usable; call NewClient.
type Client struct {
	httpClient *http.Client
	dir        string
	mirrors    []string
	s3Endpoint string
	logger     *slog.Logger
}

// ClientConfig carries the Client knobs. Zero values select defaults.
type ClientConfig struct {
	// Dir is the cache directory for downloaded products.
	Dir string
	// Mirrors overrides the archive mirror base URLs.
	Mirrors []string
	// S3Endpoint serves s3:// locations; defaults to AWS.
	S3Endpoint string
	// HTTPClient defaults to a client with a generous download timeout.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// NewClient validates the configuration and creates the cache directory.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("%w: fetch cache directory is required", hrrr.ErrInvalidArgument)
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("fetch: create cache dir: %w", err)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Minute}
	}
	mirrors := cfg.Mirrors
	if len(mirrors) == 0 {
		mirrors = DefaultMirrors
	}
	s3Endpoint := cfg.S3Endpoint
	if s3Endpoint == "" {
		s3Endpoint = "s3.amazonaws.com"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		httpClient: httpClient,
		dir:        cfg.Dir,
		mirrors:    mirrors,
		s3Endpoint: s3Endpoint,
		logger:     logger,
	}, nil
}

// archivePath is the object key of a product within any mirror.
func archivePath(runTime time.Time, forecastHour int, category hrrr.Category) string {
	return fmt.Sprintf("hrrr.%s/conus/hrrr.t%02dz.wrf%sf%02d.grib2",
		runTime.UTC().Format("20060102"), runTime.UTC().Hour(), category, forecastHour)
}

// ArchiveURLs returns the candidate URLs for a product cycle, one per mirror,
// in probe order.
func (c *Client) ArchiveURLs(runTime time.Time, forecastHour int, category hrrr.Category) []string {
	key := archivePath(runTime, forecastHour, category)
	urls := make([]string, len(c.mirrors))
	for i, m := range c.mirrors {
		urls[i] = m + "/" + key
	}
	return urls
}

// Exists probes a URL with a HEAD request.
func (c *Client) Exists(ctx context.Context, loc string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, loc, nil)
	if err != nil {
		return false, fmt.Errorf("fetch: probe %s: %w", loc, err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("fetch: probe %s: %w", loc, err)
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound, http.StatusForbidden:
		// Both AWS and GCS answer 403 for anonymous misses on some paths.
		return false, nil
	}
	return false, fmt.Errorf("fetch: probe %s: unexpected status %s", loc, resp.Status)
}

// Locate returns the first mirror URL holding the product, probing mirrors
// in order. Fails with NotFound when no mirror has it.
func (c *Client) Locate(ctx context.Context, runTime time.Time, forecastHour int, category hrrr.Category) (string, error) {
	for _, loc := range c.ArchiveURLs(runTime, forecastHour, category) {
		ok, err := c.Exists(ctx, loc)
		if err != nil {
			return "", err
		}
		if ok {
			return loc, nil
		}
	}
	return "", fmt.Errorf("%w: no archive mirror has %s", hrrr.ErrNotFound,
		archivePath(runTime, forecastHour, category))
}

// datedDirPattern picks the cycle-date segment out of an archive key so
// cached files keep the archive's dated layout and never collide across days.
var datedDirPattern = regexp.MustCompile(`^hrrr\.\d{8}$`)

// cachePath maps a remote location to its place in the cache directory.
func (c *Client) cachePath(loc *url.URL) string {
	dir := c.dir
	for _, seg := range strings.Split(loc.Path, "/") {
		if datedDirPattern.MatchString(seg) {
			dir = filepath.Join(dir, seg)
			break
		}
	}
	return filepath.Join(dir, path.Base(loc.Path))
}

// Fetch materializes loc as a local file, downloading into the cache on a
// miss and re-using the cached copy on a hit. Supported schemes are http,
// https, and s3.
func (c *Client) Fetch(ctx context.Context, loc string) (string, error) {
	u, err := url.Parse(loc)
	if err != nil {
		return "", fmt.Errorf("%w: fetch location %q: %v", hrrr.ErrInvalidArgument, loc, err)
	}

	dest := c.cachePath(u)
	if _, err := os.Stat(dest); err == nil {
		c.logger.Debug("cache hit", "loc", loc, "path", dest)
		return dest, nil
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("fetch: create cache dir: %w", err)
	}

	switch u.Scheme {
	case "http", "https":
		err = c.fetchHTTP(ctx, loc, dest)
	case "s3":
		err = c.fetchS3(ctx, u, dest)
	default:
		return "", fmt.Errorf("%w: unsupported fetch scheme %q", hrrr.ErrInvalidArgument, u.Scheme)
	}
	if err != nil {
		return "", err
	}
	return dest, nil
}

// fetchHTTP downloads loc to dest, writing through a temp file so a partial
// download never masquerades as a cached product.
func (c *Client) fetchHTTP(ctx context.Context, loc, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, loc, nil)
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetch: get %s: %w", loc, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", hrrr.ErrNotFound, loc)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch: get %s: unexpected status %s", loc, resp.Status)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".download-*")
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, resp.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("fetch: download %s: %w", loc, err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	c.logger.Info("downloaded product", "loc", loc, "path", dest, "bytes", n)
	return nil
}

// fetchS3 downloads an s3://bucket/key location with anonymous credentials.
func (c *Client) fetchS3(ctx context.Context, u *url.URL, dest string) error {
	bucket := u.Host
	key := u.Path
	if len(key) > 0 && key[0] == '/' {
		key = key[1:]
	}
	if bucket == "" || key == "" {
		return fmt.Errorf("%w: s3 location %q needs bucket and key", hrrr.ErrInvalidArgument, u.String())
	}

	client, err := minio.New(c.s3Endpoint, &minio.Options{
		Creds:  credentials.NewStatic("", "", "", credentials.SignatureAnonymous),
		Secure: true,
	})
	if err != nil {
		return fmt.Errorf("fetch: s3 client: %w", err)
	}
	if err := client.FGetObject(ctx, bucket, key, dest, minio.GetObjectOptions{}); err != nil {
		return fmt.Errorf("fetch: s3 get %s: %w", u.String(), err)
	}
	c.logger.Info("downloaded product", "loc", u.String(), "path", dest)
	return nil
}

// Product locates a cycle on the archive mirrors and wraps it as a lazy
// product; nothing is downloaded until the product's raster is first used.
func (c *Client) Product(ctx context.Context, runTime time.Time, forecastHour int, category hrrr.Category, opener raster.Opener) (*hrrr.Product, error) {
	loc, err := c.Locate(ctx, runTime, forecastHour, category)
	if err != nil {
		return nil, err
	}
	return hrrr.NewProduct(hrrr.ProductConfig{
		Loc:          loc,
		RunTime:      runTime,
		ForecastHour: forecastHour,
		Category:     category,
		Fetcher:      c,
		Opener:       opener,
		Logger:       c.logger,
	})
}
