package epubemoji

import (
	"archive/zip"
	"time"
)

// SourceMode selects where emoji images may come from.
type SourceMode int

const (
	// RemoteWithCache uses the local asset cache first and fetches missing
	// images from the CDN, persisting them to the cache.
	RemoteWithCache SourceMode = iota

	// LocalOnly never touches the network; keys missing from the cache
	// are left as text.
	LocalOnly
)

// String returns the configuration name of the source mode.
func (m SourceMode) String() string {
	switch m {
	case RemoteWithCache:
		return "remote"
	case LocalOnly:
		return "local"
	default:
		return "unknown"
	}
}

// DeliveryMode selects how resolved images are referenced from documents.
type DeliveryMode int

const (
	// ReferencedFile injects each image into the archive under the asset
	// directory, lists it in the manifest and references it by relative path.
	ReferencedFile DeliveryMode = iota

	// EmbeddedDataURI inlines each image as a base64 data: URI. No files
	// are injected and no manifest items are added.
	EmbeddedDataURI
)

// String returns the configuration name of the delivery mode.
func (m DeliveryMode) String() string {
	switch m {
	case ReferencedFile:
		return "file"
	case EmbeddedDataURI:
		return "datauri"
	default:
		return "unknown"
	}
}

// Asset is a resolved emoji image.
type Asset struct {
	// Key is the codepoint key the image was requested for.
	Key Key

	// Data holds the PNG bytes, as read from the asset cache.
	Data []byte
}

// Report summarises one transform.
type Report struct {
	// ManifestPath is the archive path of the package document, or empty
	// when the archive has none.
	ManifestPath string

	// AssetDir is the archive directory the images were injected into.
	AssetDir string

	// Documents is the number of HTML documents routed through the rewriter.
	Documents int

	// Substitutions is the number of emoji occurrences replaced by images.
	Substitutions int

	// Assets lists the keys whose images were delivered, sorted.
	Assets []Key

	// Unresolved lists keys left as text because no image was available, sorted.
	Unresolved []Key

	// Warnings contains non-fatal problems met during the run.
	Warnings []string
}

// member is one archive entry, fully buffered.
type member struct {
	// Name is the archive-relative path and the member identity.
	Name string

	// Data is the decompressed content.
	Data []byte

	// Method is the original compression method (zip.Store or zip.Deflate).
	Method uint16

	// Modified is the original modification time.
	Modified time.Time

	// Comment is the original per-entry comment.
	Comment string
}

// newMember captures the header fields of f that are carried into the output.
func newMember(f *zip.File, data []byte) member {
	method := f.Method
	if method != zip.Store {
		method = zip.Deflate
	}
	return member{
		Name:     f.Name,
		Data:     data,
		Method:   method,
		Modified: f.Modified,
		Comment:  f.Comment,
	}
}
