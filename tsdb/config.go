package tsdb

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tsdbcore/engine/internal/partition"
	"github.com/tsdbcore/engine/pkg/fs"
)

// configMagic/configVersion guard the fixed-size CONFIG file the same
// way a file group's header guards against a foreign or stale file.
const (
	configMagic   uint32 = 0x43464731
	configVersion uint32 = 1
	// configSize is the on-disk size of Config's fixed-size binary
	// encoding: magic(4) + version(4) + precision(1) + tsdbId(4) +
	// maxTables(4) + daysPerFile(4) + minRowsPerFileBlock(4) +
	// maxRowsPerFileBlock(4) + keep(4) + maxCacheSize(8).
	configSize = 4 + 4 + 1 + 4 + 4 + 4 + 4 + 4 + 4 + 8
)

// Config mirrors STsdbCfg: the fixed-size, atomically-written
// repository configuration persisted at rootDir/CONFIG.
type Config struct {
	Precision           partition.Precision
	TsdbID              int32
	MaxTables           int32
	DaysPerFile         int32
	MinRowsPerFileBlock int32
	MaxRowsPerFileBlock int32
	Keep                int32
	MaxCacheSize        int64
}

// DefaultConfig returns a Config populated with the bounds table's defaults.
func DefaultConfig() Config {
	return Config{
		Precision:           partition.Milli,
		MaxTables:           1000,
		DaysPerFile:         10,
		MinRowsPerFileBlock: 100,
		MaxRowsPerFileBlock: 4096,
		Keep:                3650,
		MaxCacheSize:        16 << 20,
	}
}

// Validate enforces the repository's configuration bounds table. It
// returns a RepoError with Kind CONFIG_INVALID describing the first
// violated bound.
func (c Config) Validate() error {
	switch {
	case c.Precision < partition.Milli || c.Precision > partition.Nano:
		return newConfigError("precision must be MILLI, MICRO or NANO")
	case c.MaxTables < 10 || c.MaxTables > 100_000:
		return newConfigError("maxTables must be in [10, 100000]")
	case c.DaysPerFile < 1 || c.DaysPerFile > 60:
		return newConfigError("daysPerFile must be in [1, 60]")
	case c.MinRowsPerFileBlock < 10 || c.MinRowsPerFileBlock > 1000:
		return newConfigError("minRowsPerFileBlock must be in [10, 1000]")
	case c.MaxRowsPerFileBlock < 200 || c.MaxRowsPerFileBlock > 10_000:
		return newConfigError("maxRowsPerFileBlock must be in [200, 10000]")
	case c.MinRowsPerFileBlock > c.MaxRowsPerFileBlock:
		return newConfigError("minRowsPerFileBlock must be <= maxRowsPerFileBlock")
	case c.Keep < 1:
		return newConfigError("keep must be >= 1")
	case c.MaxCacheSize < 4<<20 || c.MaxCacheSize > 1<<30:
		return newConfigError("maxCacheSize must be in [4MiB, 1GiB]")
	}
	return nil
}

func (c Config) marshal() []byte {
	buf := make([]byte, configSize)
	binary.BigEndian.PutUint32(buf[0:4], configMagic)
	binary.BigEndian.PutUint32(buf[4:8], configVersion)
	buf[8] = byte(c.Precision)
	binary.BigEndian.PutUint32(buf[9:13], uint32(c.TsdbID))
	binary.BigEndian.PutUint32(buf[13:17], uint32(c.MaxTables))
	binary.BigEndian.PutUint32(buf[17:21], uint32(c.DaysPerFile))
	binary.BigEndian.PutUint32(buf[21:25], uint32(c.MinRowsPerFileBlock))
	binary.BigEndian.PutUint32(buf[25:29], uint32(c.MaxRowsPerFileBlock))
	binary.BigEndian.PutUint32(buf[29:33], uint32(c.Keep))
	binary.BigEndian.PutUint64(buf[33:41], uint64(c.MaxCacheSize))
	return buf
}

func unmarshalConfig(buf []byte) (Config, error) {
	if len(buf) != configSize {
		return Config{}, newIOError(fmt.Errorf("CONFIG file has %d bytes, want %d", len(buf), configSize))
	}
	if binary.BigEndian.Uint32(buf[0:4]) != configMagic {
		return Config{}, newConfigError("CONFIG file has bad magic")
	}
	if binary.BigEndian.Uint32(buf[4:8]) != configVersion {
		return Config{}, newConfigError("CONFIG file has unsupported version")
	}
	return Config{
		Precision:           partition.Precision(buf[8]),
		TsdbID:              int32(binary.BigEndian.Uint32(buf[9:13])),
		MaxTables:           int32(binary.BigEndian.Uint32(buf[13:17])),
		DaysPerFile:         int32(binary.BigEndian.Uint32(buf[17:21])),
		MinRowsPerFileBlock: int32(binary.BigEndian.Uint32(buf[21:25])),
		MaxRowsPerFileBlock: int32(binary.BigEndian.Uint32(buf[25:29])),
		Keep:                int32(binary.BigEndian.Uint32(buf[29:33])),
		MaxCacheSize:        int64(binary.BigEndian.Uint64(buf[33:41])),
	}, nil
}

// configPath returns the fixed CONFIG file location under rootDir.
func configPath(rootDir string) string {
	return filepath.Join(rootDir, "CONFIG")
}

// SaveConfig atomically writes cfg to rootDir/CONFIG, restoring
// tsdbSaveConfig's behavior from original_source/ (see SPEC_FULL.md's
// Supplemented features).
func SaveConfig(rootDir string, cfg Config) error {
	tmp := configPath(rootDir) + ".tmp"
	if err := os.WriteFile(tmp, cfg.marshal(), 0o644); err != nil {
		return newIOError(err)
	}
	if err := fs.RenameFileWithReplacement(tmp, configPath(rootDir)); err != nil {
		return newIOError(err)
	}
	return nil
}

// LoadConfig reads back rootDir/CONFIG, failing fast on a size or
// version mismatch rather than trusting caller-supplied config —
// tsdbRestoreCfg's contract.
func LoadConfig(rootDir string) (Config, error) {
	buf, err := os.ReadFile(configPath(rootDir))
	if err != nil {
		return Config{}, newIOError(err)
	}
	return unmarshalConfig(buf)
}
