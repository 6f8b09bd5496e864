//go:build go1.21

package cutcounts

import (
	"math/rand"
	_ "unsafe" // for go:linkname
)

// github.com/grailbio/hts/sam pulls in sync.fastrand via go:linkname, but Go
// 1.21 removed that runtime symbol.  Define it here so binaries that use the
// sam record free pool still link.
//
//go:linkname syncFastrand sync.fastrand
func syncFastrand() uint32 { return rand.Uint32() }
