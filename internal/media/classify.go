package media

import (
	"path/filepath"
	"strings"
)

// Category is the processing class of an input file.
type Category int

const (
	CategoryUnsupported Category = iota
	CategoryImage
	CategoryVideo
	CategoryAnimated
)

func (c Category) String() string {
	switch c {
	case CategoryImage:
		return "image"
	case CategoryVideo:
		return "video"
	case CategoryAnimated:
		return "animated"
	default:
		return "unsupported"
	}
}

var imageExtensions = extensionSet(
	".jpg", ".jpeg", ".png", ".webp", ".bmp", ".tiff", ".tif", ".ico", ".svg",
	".heic", ".heif", ".raw", ".cr2", ".nef", ".orf", ".sr2", ".arw", ".dng",
	".raf", ".rw2", ".pef", ".x3f", ".3fr", ".erf", ".kdc", ".mrw", ".nrw",
	".ptx", ".r3d", ".srw",
)

var videoExtensions = extensionSet(
	".mp4", ".avi", ".mpeg", ".mpg", ".webm", ".mov", ".mkv", ".flv", ".wmv",
	".3gp", ".3g2", ".m4v", ".f4v", ".f4p", ".f4a", ".f4b", ".vob", ".ogv",
	".ogg", ".drc", ".mng", ".mts", ".m2ts", ".ts", ".rm", ".rmvb", ".asf",
	".amv", ".m2v", ".svi", ".3gpp", ".3gpp2",
)

const animatedExtension = ".gif"

func extensionSet(exts ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(exts))
	for _, ext := range exts {
		set[ext] = struct{}{}
	}
	return set
}

// Classify maps a file name to its Category using the extension only.
// Matching is case-insensitive; names without a known extension are unsupported.
func Classify(name string) Category {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		return CategoryUnsupported
	}
	if ext == animatedExtension {
		return CategoryAnimated
	}
	if _, ok := imageExtensions[ext]; ok {
		return CategoryImage
	}
	if _, ok := videoExtensions[ext]; ok {
		return CategoryVideo
	}
	return CategoryUnsupported
}
