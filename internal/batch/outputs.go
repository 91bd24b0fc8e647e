package batch

import (
	"path/filepath"
	"strconv"
	"strings"
)

// outputNames hands out destination paths. A name already claimed in this run
// gets a "-<id>" suffix so concurrent jobs never write the same file.
type outputNames struct {
	claimed map[string]struct{}
	byKey   map[nameKey]string
}

type nameKey struct {
	phase string
	id    int
}

func newOutputNames() *outputNames {
	return &outputNames{
		claimed: make(map[string]struct{}),
		byKey:   make(map[nameKey]string),
	}
}

// claim reserves dir/stem+ext for item id in phase and returns the path.
func (n *outputNames) claim(phase string, id int, dir, stem, ext string) string {
	candidate := filepath.Join(dir, stem+ext)
	if _, taken := n.claimed[candidate]; taken {
		candidate = filepath.Join(dir, stem+"-"+strconv.Itoa(id)+ext)
	}
	n.claimed[candidate] = struct{}{}
	n.byKey[nameKey{phase: phase, id: id}] = candidate
	return candidate
}

func (n *outputNames) lookup(phase string, id int) string {
	return n.byKey[nameKey{phase: phase, id: id}]
}

// splitName returns the stem and lower-cased extension of path.
func splitName(path string) (stem, ext string) {
	base := filepath.Base(path)
	ext = filepath.Ext(base)
	return strings.TrimSuffix(base, ext), strings.ToLower(ext)
}

// writableStills are still formats ffmpeg can encode. Other stills (RAW,
// SVG, HEIC, ICO) are written as PNG.
var writableStills = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
	".bmp":  {},
	".tif":  {},
	".tiff": {},
	".webp": {},
}

func stillOutputExt(ext string) string {
	if _, ok := writableStills[ext]; ok {
		return ext
	}
	return ".png"
}
