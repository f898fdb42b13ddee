package epubemoji

import "errors"

// Sentinel errors returned by the epubemoji package.
//
// Only ErrArchiveOpen, ErrMemberRead, ErrDRMProtected and ErrOutputWrite are
// ever returned from a transform. The remaining kinds describe degraded
// paths; they are logged and recorded in [Report.Warnings] instead.
var (
	// ErrArchiveOpen indicates the input is not a readable zip archive.
	ErrArchiveOpen = errors.New("epubemoji: cannot open archive")

	// ErrMemberRead indicates a specific archive member could not be read
	// (corrupt data, unsafe path, or decompressed size over the limit).
	ErrMemberRead = errors.New("epubemoji: cannot read archive member")

	// ErrManifestMissing indicates META-INF/container.xml is absent or does
	// not name a package document.
	ErrManifestMissing = errors.New("epubemoji: package document not found")

	// ErrAssetFetch indicates no image could be obtained for an emoji key,
	// neither from the local cache nor from the remote source.
	ErrAssetFetch = errors.New("epubemoji: emoji image unavailable")

	// ErrAssetWrite indicates the local asset cache could not be written.
	ErrAssetWrite = errors.New("epubemoji: cannot write asset cache")

	// ErrManifestPatch indicates the package document could not be parsed
	// and was left unchanged.
	ErrManifestPatch = errors.New("epubemoji: cannot patch manifest")

	// ErrOutputWrite indicates the output archive could not be created.
	ErrOutputWrite = errors.New("epubemoji: cannot write output archive")

	// ErrDRMProtected indicates the ePub is protected by DRM
	// (e.g., Adobe ADEPT, Apple FairPlay, Readium LCP); encrypted
	// documents cannot be rewritten.
	ErrDRMProtected = errors.New("epubemoji: file is DRM protected")

	// ErrFileNotFound indicates the requested file does not exist
	// in the archive.
	ErrFileNotFound = errors.New("epubemoji: file not found in archive")
)
