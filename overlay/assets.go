package overlay

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hiroroworks/gemini-super-linker/kv"
)

// KeyPrefix prefixes the kv key of a gem's icon asset.
const KeyPrefix = "icon_asset_"

// MaxIconBytes caps uploaded icons at 2 MiB.
const MaxIconBytes = 2 << 20

var (
	ErrNotImage = errors.New("overlay: only image files are supported")
	ErrTooLarge = errors.New("overlay: image exceeds 2MB")
	ErrNoGem    = errors.New("overlay: no gem id")
)

// IconAsset is a cached custom icon. ImageData is a data: URL.
type IconAsset struct {
	ImageData string `json:"imageData"`
	UpdatedAt int64  `json:"updatedAt"`
}

// AssetSource is what the engine reads icons from.
type AssetSource interface {
	Load(ctx context.Context, gemID string) (IconAsset, bool, error)
}

// Assets stores icon assets in a kv.Store.
type Assets struct {
	kv kv.Store
}

// NewAssets creates an asset store over backend.
func NewAssets(backend kv.Store) *Assets {
	return &Assets{kv: backend}
}

// Key returns the kv key for gemID.
func Key(gemID string) string { return KeyPrefix + gemID }

// Load returns the icon for gemID. A missing or undecodable entry reports
// ok=false.
func (a *Assets) Load(ctx context.Context, gemID string) (IconAsset, bool, error) {
	data, ok, err := a.kv.Get(ctx, Key(gemID))
	if err != nil {
		return IconAsset{}, false, fmt.Errorf("overlay: load asset %s: %w", gemID, err)
	}
	if !ok {
		return IconAsset{}, false, nil
	}
	var asset IconAsset
	if err := json.Unmarshal(data, &asset); err != nil || !isImageDataURL(asset.ImageData) {
		return IconAsset{}, false, nil
	}
	return asset, true, nil
}

// Save validates and stores a new icon for gemID.
func (a *Assets) Save(ctx context.Context, gemID, contentType string, img []byte, now time.Time) (IconAsset, error) {
	if gemID == "" {
		return IconAsset{}, ErrNoGem
	}
	if !strings.HasPrefix(contentType, "image/") {
		return IconAsset{}, ErrNotImage
	}
	if len(img) > MaxIconBytes {
		return IconAsset{}, ErrTooLarge
	}
	asset := IconAsset{
		ImageData: "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(img),
		UpdatedAt: now.UnixMilli(),
	}
	data, err := json.Marshal(asset)
	if err != nil {
		return IconAsset{}, fmt.Errorf("overlay: encode asset: %w", err)
	}
	if err := a.kv.Set(ctx, Key(gemID), data); err != nil {
		return IconAsset{}, fmt.Errorf("overlay: save asset %s: %w", gemID, err)
	}
	return asset, nil
}

// Reset removes the icon for gemID.
func (a *Assets) Reset(ctx context.Context, gemID string) error {
	if gemID == "" {
		return ErrNoGem
	}
	if err := a.kv.Delete(ctx, Key(gemID)); err != nil {
		return fmt.Errorf("overlay: reset asset %s: %w", gemID, err)
	}
	return nil
}

func isImageDataURL(s string) bool {
	return strings.HasPrefix(s, "data:image/")
}
