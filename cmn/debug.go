package cmn

import "github.com/golang/glog"

// Assert panics with msg when cond is false and DARC_DEBUG is set, and logs
// an error otherwise. Gating on the runtime DARC_DEBUG flag (rather than a
// build tag) keeps a single crawler binary usable for both modes.
func Assert(cond bool, msg string) {
	if cond {
		return
	}
	if c := GCOGet(); c != nil && c.Debug {
		panic("assertion failed: " + msg)
	}
	glog.Errorf("assertion failed: %s", msg)
}

// AssertNoErr is a shorthand for the common Assert(err == nil, ...) call.
func AssertNoErr(err error) {
	if err == nil {
		return
	}
	if c := GCOGet(); c != nil && c.Debug {
		panic("assertion failed: unexpected error: " + err.Error())
	}
	glog.Errorf("unexpected error: %v", err)
}
