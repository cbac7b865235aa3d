package fileformat

import (
	"fmt"
	"path/filepath"
)

// FileNames returns the head/data/last paths for partition fid under
// dataDir, following the `f<fid>.<suffix>` convention.
func FileNames(dataDir string, fid int64) (head, data, last string) {
	base := filepath.Join(dataDir, fmt.Sprintf("f%d", fid))
	return base + headSuffix, base + dataSuffix, base + lastSuffix
}

// TempFileNames returns the corresponding `.tmp`-suffixed paths used
// while a partition rewrite is staged, before the atomic rename that
// publishes it.
func TempFileNames(dataDir string, fid int64) (head, last string) {
	h, _, l := FileNames(dataDir, fid)
	return h + ".tmp", l + ".tmp"
}
