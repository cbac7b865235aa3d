package commit

import "github.com/tsdbcore/engine/internal/partition"

// Config carries the subset of repository configuration the commit
// pipeline needs to plan partitions and size blocks.
type Config struct {
	Precision           partition.Precision
	DaysPerFile         int32
	MinRowsPerFileBlock int32
	MaxRowsPerFileBlock int32
	MaxTables           int32
}
