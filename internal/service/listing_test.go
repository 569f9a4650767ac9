package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"realty_go/internal/domain"
)

type fakePinner struct {
	mu       sync.Mutex
	uploads  []string
	docs     map[string]*domain.AssetDocument
	pinned   []domain.AssetDocument
	fileErr  error
	fetchErr map[string]error
}

func (f *fakePinner) UploadFile(ctx context.Context, name string, r io.Reader) (string, error) {
	if f.fileErr != nil {
		return "", f.fileErr
	}
	b, _ := io.ReadAll(r)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, name)
	return fmt.Sprintf("QmImage%d", len(b)), nil
}

func (f *fakePinner) UploadJSON(ctx context.Context, name string, doc any) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pinned = append(f.pinned, doc.(domain.AssetDocument))
	return "QmDoc", nil
}

func (f *fakePinner) FetchMetadata(ctx context.Context, cid string) (*domain.AssetDocument, error) {
	if err := f.fetchErr[cid]; err != nil {
		return nil, err
	}
	doc, ok := f.docs[cid]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return doc, nil
}

type memMetadata struct {
	mu   sync.Mutex
	rows []domain.AssetMetadata
}

func (m *memMetadata) SaveMetadataCID(ctx context.Context, meta *domain.AssetMetadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, *meta)
	return nil
}

func (m *memMetadata) TokenIDByMetadataCID(ctx context.Context, cid string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.MetadataCID == cid {
			return r.TokenID, nil
		}
	}
	return "", domain.ErrNotFound
}

func (m *memMetadata) ListAssetMetadata(ctx context.Context) ([]domain.AssetMetadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.AssetMetadata(nil), m.rows...), nil
}

type fakeRegistry struct {
	status string
	err    error
	calls  int
}

func (f *fakeRegistry) PublishToRegistry(ctx context.Context, tokenID, metadataCID string) (string, error) {
	f.calls++
	return f.status, f.err
}

type fakeThumbs struct {
	mu      sync.Mutex
	fetched []string
}

func (f *fakeThumbs) Fetch(ctx context.Context, cid string) (string, error) {
	if cid == "QmBroken" {
		return "", errors.New("decode failed")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched = append(f.fetched, cid)
	return "/tmp/" + cid + ".png", nil
}

func TestListAsset(t *testing.T) {
	pinner := &fakePinner{}
	store := &memMetadata{}
	registry := &fakeRegistry{status: domain.StatusSuccess}
	svc := NewListingService(pinner, store, registry, nil, nil)

	res, err := svc.ListAsset(context.Background(), ListingRequest{
		TokenID:   "0.0.700",
		Owner:     "0.0.1001",
		Document:  domain.AssetDocument{Name: "Harbor Loft", Location: "Lisbon"},
		ImageName: "loft.jpg",
		Image:     strings.NewReader("jpeg"),
	})
	if err != nil {
		t.Fatalf("ListAsset failed: %v", err)
	}

	if res.ImageCID != "QmImage4" || res.Metadata.MetadataCID != "QmDoc" {
		t.Errorf("unexpected result %+v", res)
	}
	if res.RegistryStatus != domain.StatusSuccess || registry.calls != 1 {
		t.Errorf("registry not published: %+v", res)
	}
	if len(pinner.pinned) != 1 || pinner.pinned[0].Image != "QmImage4" {
		t.Errorf("document should reference the image CID, got %+v", pinner.pinned)
	}

	tokenID, err := store.TokenIDByMetadataCID(context.Background(), "QmDoc")
	if err != nil || tokenID != "0.0.700" {
		t.Errorf("metadata not saved: %q %v", tokenID, err)
	}
}

func TestListAsset_RegistryFailureIsNotFatal(t *testing.T) {
	registry := &fakeRegistry{err: errors.New("topic deleted")}
	svc := NewListingService(&fakePinner{}, &memMetadata{}, registry, nil, nil)

	res, err := svc.ListAsset(context.Background(), ListingRequest{
		TokenID:  "0.0.700",
		Document: domain.AssetDocument{Name: "Loft"},
		Image:    strings.NewReader("x"),
	})
	if err != nil {
		t.Fatalf("registry failure should not fail the listing: %v", err)
	}
	if res.RegistryStatus != "" {
		t.Errorf("expected empty registry status, got %q", res.RegistryStatus)
	}
}

func TestListAsset_Validation(t *testing.T) {
	pinner := &fakePinner{}
	svc := NewListingService(pinner, &memMetadata{}, nil, nil, nil)

	tests := []struct {
		name  string
		req   ListingRequest
		field string
	}{
		{"bad token", ListingRequest{TokenID: "x", Document: domain.AssetDocument{Name: "a"}, Image: strings.NewReader("x")}, "token_id"},
		{"no name", ListingRequest{TokenID: "0.0.1", Image: strings.NewReader("x")}, "name"},
		{"no image", ListingRequest{TokenID: "0.0.1", Document: domain.AssetDocument{Name: "a"}}, "image"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.ListAsset(context.Background(), tt.req)
			var ve *domain.ValidationError
			if !errors.As(err, &ve) || ve.Field != tt.field {
				t.Errorf("expected %s validation error, got %v", tt.field, err)
			}
		})
	}
	if len(pinner.uploads) != 0 {
		t.Error("invalid listings must not upload")
	}
}

func TestListAsset_UploadFailure(t *testing.T) {
	store := &memMetadata{}
	pinner := &fakePinner{fileErr: domain.WrapService("storage gateway", "upload file", errors.New("503"))}
	svc := NewListingService(pinner, store, nil, nil, nil)

	_, err := svc.ListAsset(context.Background(), ListingRequest{
		TokenID:  "0.0.1",
		Document: domain.AssetDocument{Name: "a"},
		Image:    strings.NewReader("x"),
	})
	var se *domain.ServiceError
	if !errors.As(err, &se) {
		t.Fatalf("expected ServiceError, got %v", err)
	}
	if len(store.rows) != 0 {
		t.Error("nothing should be saved after a failed upload")
	}
}

func TestDocument(t *testing.T) {
	store := &memMetadata{rows: []domain.AssetMetadata{{MetadataCID: "QmA", TokenID: "0.0.1"}}}
	pinner := &fakePinner{docs: map[string]*domain.AssetDocument{"QmA": {Name: "Villa"}}}
	svc := NewListingService(pinner, store, nil, nil, nil)

	doc, err := svc.Document(context.Background(), "QmA")
	if err != nil || doc.Name != "Villa" {
		t.Fatalf("Document = %+v, %v", doc, err)
	}
	if _, err := svc.Document(context.Background(), "QmMissing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListings(t *testing.T) {
	svc := NewListingService(&fakePinner{}, &memMetadata{}, nil, nil, nil)
	rows, err := svc.Listings(context.Background())
	if err != nil || rows == nil || len(rows) != 0 {
		t.Fatalf("expected empty non-nil list, got %v, %v", rows, err)
	}

	store := &memMetadata{rows: []domain.AssetMetadata{{MetadataCID: "QmA", TokenID: "0.0.1"}}}
	svc = NewListingService(&fakePinner{}, store, nil, nil, nil)
	rows, err = svc.Listings(context.Background())
	if err != nil || len(rows) != 1 || rows[0].TokenID != "0.0.1" {
		t.Errorf("Listings = %v, %v", rows, err)
	}
}

func TestSyncThumbnails(t *testing.T) {
	store := &memMetadata{rows: []domain.AssetMetadata{
		{MetadataCID: "QmA", TokenID: "0.0.1"},
		{MetadataCID: "QmB", TokenID: "0.0.2"},
		{MetadataCID: "QmC", TokenID: "0.0.3"},
		{MetadataCID: "QmD", TokenID: "0.0.4"},
		{MetadataCID: "QmE", TokenID: "0.0.5"},
	}}
	pinner := &fakePinner{
		docs: map[string]*domain.AssetDocument{
			"QmA": {Name: "a", Image: "QmImgA"},
			"QmB": {Name: "b", Image: "QmImgB"},
			"QmC": {Name: "c"},
			"QmE": {Name: "e", Image: "QmBroken"},
		},
		fetchErr: map[string]error{"QmD": errors.New("gateway timeout")},
	}
	thumbs := &fakeThumbs{}
	svc := NewListingService(pinner, store, nil, thumbs, nil)

	n, err := svc.SyncThumbnails(context.Background())
	if err != nil {
		t.Fatalf("SyncThumbnails failed: %v", err)
	}
	if n != 2 || len(thumbs.fetched) != 2 {
		t.Errorf("expected 2 cached thumbnails, got %d (%v)", n, thumbs.fetched)
	}
}

func TestSyncThumbnails_Cancelled(t *testing.T) {
	store := &memMetadata{rows: []domain.AssetMetadata{{MetadataCID: "QmA", TokenID: "0.0.1"}}}
	pinner := &fakePinner{docs: map[string]*domain.AssetDocument{"QmA": {Name: "a", Image: "QmImgA"}}}
	svc := NewListingService(pinner, store, nil, &fakeThumbs{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := svc.SyncThumbnails(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
