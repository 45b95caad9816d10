package storage

import (
	"fmt"
	"strings"
)

const (
	processedRoot  = "processed-videos"
	masterName     = "master.m3u8"
	manifestPrefix = Manifests + "/"
)

// SourceKey is the raw upload in the videos bucket.
func SourceKey(assetID string) string {
	return assetID
}

// RenditionPrefix holds every processed rendition of an asset.
func RenditionPrefix(assetID string) string {
	return fmt.Sprintf("%s/%s/", processedRoot, assetID)
}

// RenditionKey addresses a file of one rendition in the videos bucket.
func RenditionKey(assetID, quality, name string) string {
	return RenditionPrefix(assetID) + quality + "/" + name
}

// AssetPrefix scopes thumbnails and manifests of an asset.
func AssetPrefix(assetID string) string {
	return assetID + "/"
}

func ThumbnailKey(assetID string, t int) string {
	return fmt.Sprintf("%sthumbnail_%d.jpg", AssetPrefix(assetID), t)
}

// ManifestKey is the master playlist key in the manifests bucket.
func ManifestKey(assetID string) string {
	return AssetPrefix(assetID) + masterName
}

// ManifestURL is the bucket-qualified manifest location stored on the
// catalog record.
func ManifestURL(assetID string) string {
	return manifestPrefix + ManifestKey(assetID)
}

// ManifestKeyFromURL strips the bucket qualifier of a stored manifest URL.
func ManifestKeyFromURL(url string) string {
	return strings.TrimPrefix(url, manifestPrefix)
}

// AssetOf extracts the asset id a key belongs to, or "" when the key does
// not follow the layout.
func AssetOf(bucket, key string) string {
	switch bucket {
	case Videos:
		if strings.HasPrefix(key, processedRoot+"/") {
			parts := strings.SplitN(strings.TrimPrefix(key, processedRoot+"/"), "/", 2)
			return parts[0]
		}

		if strings.Contains(key, "/") {
			return ""
		}

		return key
	case Thumbnails, Manifests:
		parts := strings.SplitN(key, "/", 2)

		if len(parts) != 2 {
			return ""
		}

		return parts[0]
	}

	return ""
}
