package domain

import (
	"time"
)

// AssetMetadata links a ledger token to the content identifier of its metadata document.
type AssetMetadata struct {
	MetadataCID string    `gorm:"column:metadata_cid;primaryKey" json:"metadataCID"`
	TokenID     string    `gorm:"column:token_id;index" json:"tokenId"`
	Owner       string    `json:"owner"`
	CreatedAt   time.Time `json:"created_at"`
}

func (AssetMetadata) TableName() string { return "asset_metadata" }

// AssetDocument is the JSON metadata pinned to content-addressed storage for an asset.
type AssetDocument struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Image       string            `json:"image"` // CID of the cover image
	Location    string            `json:"location,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}
