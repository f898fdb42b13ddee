package epubemoji

import (
	"encoding/xml"
	"fmt"
	"path"
	"strings"
)

// opfPackage represents the parts of the OPF <package> element the
// transform reads. The manifest itself is rewritten by patchManifest,
// which works on the raw bytes.
type opfPackage struct {
	XMLName  xml.Name    `xml:"package"`
	Version  string      `xml:"version,attr"`
	Manifest opfManifest `xml:"manifest"`
	Spine    opfSpine    `xml:"spine"`
}

// opfManifest wraps the <manifest> element.
type opfManifest struct {
	Items []opfManifestItem `xml:"item"`
}

// opfManifestItem represents a single <item> in the manifest.
type opfManifestItem struct {
	ID         string `xml:"id,attr"`
	Href       string `xml:"href,attr"`
	MediaType  string `xml:"media-type,attr"`
	Properties string `xml:"properties,attr"`
}

// opfSpine wraps the <spine> element.
type opfSpine struct {
	Toc string `xml:"toc,attr"`
}

// navProperty is the ePub 3 manifest property marking the navigation document.
const navProperty = "nav"

// parseOPF parses the OPF file content and returns the parsed package structure.
func parseOPF(data []byte) (*opfPackage, error) {
	data = preprocessHTMLEntities(data)
	data = stripBOM(data)

	var pkg opfPackage
	if err := xml.Unmarshal(data, &pkg); err != nil {
		return nil, fmt.Errorf("parse OPF: %w", err)
	}
	if pkg.Version == "" {
		pkg.Version = "2.0"
	}
	return &pkg, nil
}

// navigationDocuments returns the archive paths of the manifest items
// flagged with the "nav" property, resolved against manifestPath's
// directory. These documents are copied through without substitution.
//
// The ePub 2 NCX (the item named by spine@toc) is XML, never routed to the
// rewriter, and is included only so callers see the complete set.
func navigationDocuments(pkg *opfPackage, manifestPath string) map[string]bool {
	nav := make(map[string]bool)
	for _, item := range pkg.Manifest.Items {
		if !hasProperty(item.Properties, navProperty) && (pkg.Spine.Toc == "" || item.ID != pkg.Spine.Toc) {
			continue
		}
		if p := resolveRelativePath(manifestPath, item.Href); p != "" {
			nav[p] = true
		}
	}
	return nav
}

// hasProperty reports whether the space-separated list props contains name.
func hasProperty(props, name string) bool {
	for _, p := range strings.Fields(props) {
		if p == name {
			return true
		}
	}
	return false
}

// manifestDir returns the directory of the package document, "." for the root.
func manifestDir(manifestPath string) string {
	return path.Dir(manifestPath)
}
