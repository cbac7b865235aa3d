package fileformat

import (
	"fmt"
	"os"

	"github.com/tsdbcore/engine/pkg/fs"
)

// Stage opens a file group for an in-progress commit rewrite. .data is
// always append-only and is opened read-write against its existing
// final path directly — appends to it need no rename. .head is always
// staged at a temporary path, since every touched table's SCompIdx
// entry changes. .last is staged at a temporary path only when
// rewriteLast is true (the existing tail file has grown past
// MaxLastFileSize); otherwise the existing .last is opened read-write
// and new tail blocks are simply appended to it.
//
// The caller must call Publish once the rewrite is complete and
// synced, which performs the copy-and-rename design note requires:
// .last (if staged) renamed before .head.
func Stage(dataDir string, fid int64, maxTables int32, rewriteLast bool) (*FileGroup, error) {
	headPath, dataPath, lastPath := FileNames(dataDir, fid)
	tempHead, tempLast := TempFileNames(dataDir, fid)

	head, err := os.OpenFile(tempHead, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, fmt.Errorf("fileformat: staging head file: %w", err)
	}
	if err := writeFileHead(head); err != nil {
		head.Close()
		return nil, err
	}
	zero := make([]byte, int(maxTables)*compIdxEntrySize)
	if _, err := head.WriteAt(zero, FileHeadSize); err != nil {
		head.Close()
		return nil, fmt.Errorf("fileformat: zeroing staged SCompIdx region: %w", err)
	}

	data, err := os.OpenFile(dataPath, os.O_RDWR, 0644)
	if err != nil {
		head.Close()
		return nil, fmt.Errorf("fileformat: opening data file for append: %w", err)
	}

	var last *os.File
	var stagedLastPath string
	if rewriteLast {
		last, err = os.OpenFile(tempLast, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
		if err != nil {
			head.Close()
			data.Close()
			return nil, fmt.Errorf("fileformat: staging last file: %w", err)
		}
		if err := writeFileHead(last); err != nil {
			head.Close()
			data.Close()
			last.Close()
			return nil, err
		}
		stagedLastPath = tempLast
	} else {
		last, err = os.OpenFile(lastPath, os.O_RDWR, 0644)
		if err != nil {
			head.Close()
			data.Close()
			return nil, fmt.Errorf("fileformat: opening last file for append: %w", err)
		}
	}

	return &FileGroup{
		Fid: fid, MaxTables: maxTables,
		HeadPath: tempHead, DataPath: dataPath, LastPath: lastPath,
		stagedHeadPath: tempHead,
		finalHeadPath:  headPath,
		stagedLastPath: stagedLastPath,
		finalLastPath:  lastPath,
		head:           head, data: data, last: last,
	}, nil
}

// Publish fsyncs the staged files and atomically renames them into
// place: .last first (if staged), then .head, then fsyncs the
// directory — the order the design notes require so a crash between
// renames leaves the old .head still pointing at a consistent .last.
func (fg *FileGroup) Publish(syncDir func(dir string) error, dataDir string) error {
	if err := fg.Sync(); err != nil {
		return err
	}
	if err := fg.Close(); err != nil {
		return err
	}

	if fg.stagedLastPath != "" {
		if err := fs.RenameFileWithReplacement(fg.stagedLastPath, fg.finalLastPath); err != nil {
			return fmt.Errorf("fileformat: publishing last file: %w", err)
		}
	}
	if err := fs.RenameFileWithReplacement(fg.stagedHeadPath, fg.finalHeadPath); err != nil {
		return fmt.Errorf("fileformat: publishing head file: %w", err)
	}
	if syncDir != nil {
		return syncDir(dataDir)
	}
	return nil
}

// Abort discards a staged rewrite, closing handles and removing any
// temporary files without touching the original file group.
func (fg *FileGroup) Abort() error {
	fg.Close()
	if fg.stagedHeadPath != "" {
		os.Remove(fg.stagedHeadPath)
	}
	if fg.stagedLastPath != "" {
		os.Remove(fg.stagedLastPath)
	}
	return nil
}
