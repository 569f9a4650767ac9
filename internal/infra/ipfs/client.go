package ipfs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"realty_go/internal/domain"
	"realty_go/internal/infra"
)

const service = "storage gateway"

// ErrMissingJWT is returned by uploads when no pinning credential is configured.
var ErrMissingJWT = errors.New("pinning service JWT not configured")

type pinResponse struct {
	IpfsHash  string `json:"IpfsHash"`
	PinSize   int64  `json:"PinSize"`
	Timestamp string `json:"Timestamp"`
}

// Client pins content through Pinata and reads it back through an IPFS gateway.
type Client struct {
	pinataURL  string
	gatewayURL string
	jwt        string
	httpClient *http.Client
	retry      infra.RetryPolicy
}

// NewClient creates a pinning client.
func NewClient(pinataURL, gatewayURL, jwt string) *Client {
	return &Client{
		pinataURL:  strings.TrimRight(pinataURL, "/"),
		gatewayURL: strings.TrimRight(gatewayURL, "/"),
		jwt:        jwt,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		retry:      infra.DefaultRetryPolicy,
	}
}

// UploadFile pins a file and returns its CID.
func (c *Client) UploadFile(ctx context.Context, name string, r io.Reader) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, r); err != nil {
		return "", fmt.Errorf("failed to read upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	return c.pin(ctx, "upload file", "/pinning/pinFileToIPFS", mw.FormDataContentType(), body.Bytes())
}

// UploadJSON pins a JSON document and returns its CID.
func (c *Client) UploadJSON(ctx context.Context, name string, doc any) (string, error) {
	payload := map[string]any{
		"pinataContent":  doc,
		"pinataMetadata": map[string]string{"name": name},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode metadata: %w", err)
	}

	return c.pin(ctx, "upload json", "/pinning/pinJSONToIPFS", "application/json", body)
}

func (c *Client) pin(ctx context.Context, op, path, contentType string, body []byte) (string, error) {
	if c.jwt == "" {
		return "", domain.WrapService(service, op, ErrMissingJWT)
	}

	var cid string
	err := c.retry.Do(ctx, op, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.pinataURL+path, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("Authorization", "Bearer "+c.jwt)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return domain.NewNetworkError(op, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return infra.StatusError(op, resp.StatusCode)
		}

		var pr pinResponse
		if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
			return domain.NewFatalNetworkError(op, fmt.Errorf("decode response: %w", err))
		}
		if pr.IpfsHash == "" {
			return domain.NewFatalNetworkError(op, errors.New("response carries no CID"))
		}
		cid = pr.IpfsHash
		return nil
	})
	if err != nil {
		return "", domain.WrapService(service, op, err)
	}
	return cid, nil
}

// FetchMetadata reads an asset metadata document by CID from the gateway.
func (c *Client) FetchMetadata(ctx context.Context, cid string) (*domain.AssetDocument, error) {
	if cid == "" {
		return nil, domain.NewValidationError("cid", "empty content identifier")
	}

	var doc domain.AssetDocument
	err := c.retry.Do(ctx, "fetch metadata", func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.gatewayURL+"/"+cid, nil)
		if err != nil {
			return err
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return domain.NewNetworkError("fetch metadata", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return infra.StatusError("fetch metadata", resp.StatusCode)
		}
		if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
			return domain.NewFatalNetworkError("fetch metadata", fmt.Errorf("decode metadata: %w", err))
		}
		return nil
	})
	if err != nil {
		return nil, domain.WrapService(service, "fetch metadata", err)
	}
	return &doc, nil
}
