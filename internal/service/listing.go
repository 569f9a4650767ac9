package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"realty_go/internal/domain"

	"golang.org/x/sync/errgroup"
)

// syncConcurrency bounds gateway requests during thumbnail sync.
const syncConcurrency = 5

// Pinner stores content in content-addressed storage.
type Pinner interface {
	UploadFile(ctx context.Context, name string, r io.Reader) (string, error)
	UploadJSON(ctx context.Context, name string, doc any) (string, error)
	FetchMetadata(ctx context.Context, cid string) (*domain.AssetDocument, error)
}

// RegistryPublisher announces listed assets on the ledger.
type RegistryPublisher interface {
	PublishToRegistry(ctx context.Context, tokenID, metadataCID string) (string, error)
}

// Thumbnailer caches small previews of asset images.
type Thumbnailer interface {
	Fetch(ctx context.Context, cid string) (string, error)
}

// ListingRequest lists an already minted token with its cover image and document.
type ListingRequest struct {
	TokenID   string
	Owner     string
	Document  domain.AssetDocument
	ImageName string
	Image     io.Reader
}

// ListingResult describes a stored listing.
type ListingResult struct {
	Metadata       domain.AssetMetadata `json:"metadata"`
	ImageCID       string               `json:"image_cid"`
	RegistryStatus string               `json:"registry_status,omitempty"`
}

// ListingService pins asset documents, links them to tokens and keeps thumbnails warm.
type ListingService struct {
	pinner   Pinner
	store    domain.MetadataStore
	registry RegistryPublisher
	thumbs   Thumbnailer
	logger   *slog.Logger
}

// NewListingService creates a listing service. registry and thumbs may be nil.
func NewListingService(pinner Pinner, store domain.MetadataStore, registry RegistryPublisher, thumbs Thumbnailer, logger *slog.Logger) *ListingService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ListingService{
		pinner:   pinner,
		store:    store,
		registry: registry,
		thumbs:   thumbs,
		logger:   logger,
	}
}

// ListAsset uploads the image and the metadata document, records the CID and
// announces the asset on the registry topic. Registry failures are logged only.
func (s *ListingService) ListAsset(ctx context.Context, req ListingRequest) (*ListingResult, error) {
	if !domain.IsAccountID(req.TokenID) {
		return nil, domain.NewValidationError("token_id", "invalid token id %q", req.TokenID)
	}
	if strings.TrimSpace(req.Document.Name) == "" {
		return nil, domain.NewValidationError("name", "asset name is required")
	}
	if req.Image == nil {
		return nil, domain.NewValidationError("image", "cover image is required")
	}

	imageCID, err := s.pinner.UploadFile(ctx, req.ImageName, req.Image)
	if err != nil {
		return nil, fmt.Errorf("upload image: %w", err)
	}

	doc := req.Document
	doc.Image = imageCID
	metadataCID, err := s.pinner.UploadJSON(ctx, doc.Name+" metadata", doc)
	if err != nil {
		return nil, fmt.Errorf("upload metadata: %w", err)
	}

	meta := domain.AssetMetadata{
		MetadataCID: metadataCID,
		TokenID:     req.TokenID,
		Owner:       req.Owner,
	}
	if err := s.store.SaveMetadataCID(ctx, &meta); err != nil {
		return nil, err
	}

	res := &ListingResult{Metadata: meta, ImageCID: imageCID}
	if s.registry != nil {
		status, err := s.registry.PublishToRegistry(ctx, req.TokenID, metadataCID)
		if err != nil {
			s.logger.Warn("Registry publish failed",
				slog.String("token", req.TokenID),
				slog.String("cid", metadataCID),
				slog.Any("error", err))
		}
		res.RegistryStatus = status
	}

	s.logger.Info("Asset listed",
		slog.String("token", req.TokenID),
		slog.String("metadata_cid", metadataCID))
	return res, nil
}

// Listings returns every listed asset, oldest first.
func (s *ListingService) Listings(ctx context.Context) ([]domain.AssetMetadata, error) {
	rows, err := s.store.ListAssetMetadata(ctx)
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []domain.AssetMetadata{}
	}
	return rows, nil
}

// Document resolves the metadata document of a listed token.
func (s *ListingService) Document(ctx context.Context, metadataCID string) (*domain.AssetDocument, error) {
	if _, err := s.store.TokenIDByMetadataCID(ctx, metadataCID); err != nil {
		return nil, err
	}
	return s.pinner.FetchMetadata(ctx, metadataCID)
}

// SyncThumbnails fetches the document of every listed asset and caches its cover
// thumbnail. Per-asset failures are logged and skipped. Returns the number cached.
func (s *ListingService) SyncThumbnails(ctx context.Context) (int, error) {
	if s.thumbs == nil {
		return 0, nil
	}

	rows, err := s.store.ListAssetMetadata(ctx)
	if err != nil {
		return 0, err
	}

	results := make([]bool, len(rows))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(syncConcurrency)

	for i, row := range rows {
		i, row := i, row
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			doc, err := s.pinner.FetchMetadata(gctx, row.MetadataCID)
			if err != nil {
				s.logger.Warn("Failed to fetch asset metadata",
					slog.String("token", row.TokenID), slog.Any("error", err))
				return nil
			}
			if doc.Image == "" {
				return nil
			}
			if _, err := s.thumbs.Fetch(gctx, doc.Image); err != nil {
				s.logger.Warn("Failed to cache thumbnail",
					slog.String("token", row.TokenID), slog.Any("error", err))
				return nil
			}
			results[i] = true
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return 0, err
	}

	cached := 0
	for _, ok := range results {
		if ok {
			cached++
		}
	}
	return cached, nil
}
