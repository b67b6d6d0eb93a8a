package artifact

import (
	"fmt"
	"path"
)

// Kind classifies a captured artifact and selects its object-store directory.
type Kind string

// Artifact kinds captured during a run.
const (
	KindScreenshot Kind = "screenshot"
	KindHTML       Kind = "html"
	KindDownload   Kind = "download"
	KindArchive    Kind = "archive"
)

var kindDirs = map[Kind]string{
	KindScreenshot: "screenshots",
	KindHTML:       "html",
	KindDownload:   "downloads",
	KindArchive:    "archive",
}

// Artifact is a single captured file held in memory until upload.
type Artifact struct {
	Kind Kind
	Name string
	Data []byte
}

// Set collects the artifacts of one run. Names are assigned as a per-kind
// sequence so that re-uploading the same run writes the same object keys.
type Set struct {
	items []Artifact
	seq   map[Kind]int
}

// NewSet creates an empty artifact set.
func NewSet() *Set {
	return &Set{seq: make(map[Kind]int)}
}

// Add appends an artifact of the given kind and file extension, assigning the
// next sequence number for that kind.
func (s *Set) Add(kind Kind, ext string, data []byte) {
	s.seq[kind]++
	s.items = append(s.items, Artifact{
		Kind: kind,
		Name: fmt.Sprintf("%04d.%s", s.seq[kind], ext),
		Data: data,
	})
}

// Items returns the collected artifacts in capture order.
func (s *Set) Items() []Artifact {
	return s.items
}

// Len returns the number of collected artifacts.
func (s *Set) Len() int {
	return len(s.items)
}

// Key returns the object-store key for an artifact under a run prefix,
// following <run-id>/<kind-dir>/<name>.
func Key(runID string, a Artifact) string {
	dir, ok := kindDirs[a.Kind]
	if !ok {
		dir = string(a.Kind)
	}
	return path.Join(runID, dir, a.Name)
}
