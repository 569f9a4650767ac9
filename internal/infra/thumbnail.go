package infra

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"realty_go/internal/domain"

	"github.com/disintegration/imaging"
)

// ThumbnailSize is the edge length of cached asset thumbnails in pixels.
const ThumbnailSize = 64

// ThumbnailCache downloads asset cover images from an IPFS gateway and caches
// resized PNG copies on disk.
type ThumbnailCache struct {
	basePath   string
	gatewayURL string
	client     *http.Client
}

// NewThumbnailCache creates the cache rooted at basePath (the user data dir when empty).
func NewThumbnailCache(basePath, gatewayURL string) (*ThumbnailCache, error) {
	if basePath == "" {
		dbPath, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve assets path: %w", err)
		}
		basePath = filepath.Join(dbPath, "RealtyGo", "assets", "thumbnails")
	}

	// Ensure directory exists
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create assets directory: %w", err)
	}

	// Optimize HTTP Transport to prevent connection leaks
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConns = 100
	transport.MaxConnsPerHost = 10
	transport.IdleConnTimeout = 30 * time.Second

	return &ThumbnailCache{
		basePath:   basePath,
		gatewayURL: strings.TrimRight(gatewayURL, "/"),
		client: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
	}, nil
}

// Fetch downloads the image behind cid if it is not cached yet and returns the local path.
func (c *ThumbnailCache) Fetch(ctx context.Context, cid string) (string, error) {
	// Security: Sanitize CID to prevent path traversal
	safeCID := sanitizeCID(cid)
	if safeCID == "" {
		return "", domain.NewValidationError("cid", "invalid content identifier %q", cid)
	}

	filePath := c.Path(safeCID)

	// Check if exists
	if _, err := os.Stat(filePath); err == nil {
		return filePath, nil // Already exists (Cache Hit)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.gatewayURL+"/"+safeCID, nil)
	if err != nil {
		return "", err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", domain.WrapService("storage gateway", "fetch image", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", domain.WrapService("storage gateway", "fetch image", StatusError("fetch image", resp.StatusCode))
	}

	// Decode the image
	srcImg, err := imaging.Decode(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to decode image: %w", err)
	}

	thumb := imaging.Fill(srcImg, ThumbnailSize, ThumbnailSize, imaging.Center, imaging.Lanczos)

	if err := imaging.Save(thumb, filePath); err != nil {
		return "", fmt.Errorf("failed to save thumbnail: %w", err)
	}

	return filePath, nil
}

// Path returns the local path for a CID's thumbnail
func (c *ThumbnailCache) Path(cid string) string {
	return filepath.Join(c.basePath, sanitizeCID(cid)+".png")
}

func sanitizeCID(cid string) string {
	res := make([]rune, 0, len(cid))
	for _, r := range cid {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			res = append(res, r)
		}
	}
	return string(res)
}
