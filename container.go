package epubemoji

import (
	"encoding/xml"
	"errors"
	"fmt"
	"path"
	"strings"
)

// containerXML models the META-INF/container.xml file used to locate the OPF.
type containerXML struct {
	XMLName   xml.Name   `xml:"container"`
	RootFiles []rootFile `xml:"rootfiles>rootfile"`
}

// rootFile represents a single <rootfile> element inside container.xml.
type rootFile struct {
	FullPath  string `xml:"full-path,attr"`
	MediaType string `xml:"media-type,attr"`
}

// containerPath is the well-known location of container.xml in an ePub archive.
const containerPath = "META-INF/container.xml"

// locateManifest returns the archive path of the package document named by
// META-INF/container.xml (case-insensitive lookup). It never rewrites the
// descriptor. An absent or unusable descriptor yields a wrapped
// ErrManifestMissing; the caller proceeds without a manifest.
func locateManifest(a *archive) (string, error) {
	data, err := a.readFile(containerPath)
	if err != nil {
		if errors.Is(err, ErrFileNotFound) {
			return "", fmt.Errorf("%w: %s absent", ErrManifestMissing, containerPath)
		}
		return "", err
	}
	return parseContainerXML(data)
}

// parseContainerXML decodes container.xml and returns the full-path of the
// first rootfile, preferring one declared as an OPF package document.
func parseContainerXML(data []byte) (string, error) {
	data = stripBOM(data)

	var c containerXML
	if err := xml.Unmarshal(data, &c); err != nil {
		return "", fmt.Errorf("%w: parse %s: %v", ErrManifestMissing, containerPath, err)
	}

	var fallbackPath string
	for _, rf := range c.RootFiles {
		fullPath := strings.TrimSpace(rf.FullPath)
		if fullPath == "" || !isSafePath(fullPath) {
			continue
		}
		fullPath = path.Clean(fullPath)
		if strings.EqualFold(strings.TrimSpace(rf.MediaType), "application/oebps-package+xml") {
			return fullPath, nil
		}
		if fallbackPath == "" {
			fallbackPath = fullPath
		}
	}

	if fallbackPath == "" {
		return "", fmt.Errorf("%w: %s has no rootfile full-path", ErrManifestMissing, containerPath)
	}
	return fallbackPath, nil
}
