package memtable

import "errors"

// ErrFrozen is returned by Insert once Freeze has been called; the
// caller is expected to have already installed a fresh active
// memtable before routing further writes.
var ErrFrozen = errors.New("memtable: insert into frozen memtable")
