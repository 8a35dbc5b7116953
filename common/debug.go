package common

import "sync/atomic"

// SuppressWALReset is a process-wide debug toggle that disables WAL
// truncation after an otherwise-successful checkpoint. Production
// behavior is to always reset; tests flip this to force recovery paths to
// run on the next engine open.
var SuppressWALReset atomic.Bool
