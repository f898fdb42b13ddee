package epubemoji

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// archive is an input ePub read fully into memory, members in their
// original order.
type archive struct {
	members  []member
	exact    map[string]int // exact-match member index
	lower    map[string]int // lowercase member index
	comment  string
	warnings []string
}

// openArchive opens the zip file at path and buffers every member.
func openArchive(path string) (*archive, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrArchiveOpen, path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrArchiveOpen, path, err)
	}
	return readArchive(f, info.Size())
}

// readArchive buffers every member of the zip archive in r.
// Members repeating an earlier path are dropped; the first one wins.
func readArchive(r io.ReaderAt, size int64) (*archive, error) {
	zr, err := newZipReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrArchiveOpen, err)
	}

	a := &archive{
		members: make([]member, 0, len(zr.File)),
		exact:   make(map[string]int, len(zr.File)),
		lower:   make(map[string]int, len(zr.File)),
		comment: zr.Comment,
	}
	for _, f := range zr.File {
		if _, dup := a.exact[f.Name]; dup {
			a.warnings = append(a.warnings, fmt.Sprintf("duplicate archive member %q dropped", f.Name))
			continue
		}
		data, err := readZipFile(f)
		if err != nil {
			return nil, err
		}
		a.add(newMember(f, data))
	}
	return a, nil
}

func (a *archive) add(m member) {
	a.exact[m.Name] = len(a.members)
	lower := strings.ToLower(m.Name)
	if _, exists := a.lower[lower]; !exists {
		a.lower[lower] = len(a.members) // first match wins for case-insensitive
	}
	a.members = append(a.members, m)
}

// find looks up a member by path, trying an exact match first and then a
// case-insensitive one. Returns nil if there is no such member.
func (a *archive) find(name string) *member {
	if i, ok := a.exact[name]; ok {
		return &a.members[i]
	}
	if i, ok := a.lower[strings.ToLower(name)]; ok {
		return &a.members[i]
	}
	return nil
}

// readFile returns the content of the named member.
func (a *archive) readFile(name string) ([]byte, error) {
	m := a.find(name)
	if m == nil {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, name)
	}
	return m.Data, nil
}
