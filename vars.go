package nhdb

import (
	"expvar"
	"fmt"
)

// Get an *expvar.Int with the given path.
func getVarInt(base string, id string, name string) *expvar.Int {
	fullname := fmt.Sprintf("nexthopdb.%s.%s.%s", base, id, name)
	if v := expvar.Get(fullname); v != nil {
		return v.(*expvar.Int)
	}
	return expvar.NewInt(fullname)
}
