package store

import "github.com/tinylib/msgp/msgp"

// urlEntry is the side-mapping value for a queued URL hash in the Redis
// backend: the URL text plus the host it belongs to. It is encoded with
// github.com/tinylib/msgp instead of JSON to keep the side-mapping compact
// at the scale the sorted-set backend targets (SPEC_FULL.md §4.2).
//
// MarshalMsg/UnmarshalMsg below follow the shape `msgp -file` would emit
// for this struct; hand-written here since code generation isn't run as
// part of this build.
type urlEntry struct {
	URL  string `msg:"u"`
	Host string `msg:"h"`
}

func (z *urlEntry) MarshalMsg(b []byte) (o []byte, err error) {
	o = msgp.AppendMapHeader(b, 2)
	o = msgp.AppendString(o, "u")
	o = msgp.AppendString(o, z.URL)
	o = msgp.AppendString(o, "h")
	o = msgp.AppendString(o, z.Host)
	return
}

func (z *urlEntry) UnmarshalMsg(bts []byte) (o []byte, err error) {
	var field []byte
	var n uint32
	n, bts, err = msgp.ReadMapHeaderBytes(bts)
	if err != nil {
		return bts, err
	}
	for i := uint32(0); i < n; i++ {
		field, bts, err = msgp.ReadMapKeyZC(bts)
		if err != nil {
			return bts, err
		}
		switch string(field) {
		case "u":
			z.URL, bts, err = msgp.ReadStringBytes(bts)
		case "h":
			z.Host, bts, err = msgp.ReadStringBytes(bts)
		default:
			bts, err = msgp.Skip(bts)
		}
		if err != nil {
			return bts, err
		}
	}
	o = bts
	return
}
