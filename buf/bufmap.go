package buf

import "github.com/c8ef/CS111/addr"

// BufMap collects a set of Bufs keyed by address. The txn package does not
// use it; it tracks touched sectors through the caches instead.
type BufMap struct {
	addrs *AddrMap
}

func MkBufMap() *BufMap {
	return &BufMap{addrs: MkAddrMap()}
}

func (bmap *BufMap) Insert(b *Buf) {
	bmap.addrs.Insert(b.Addr, b)
}

func (bmap *BufMap) Lookup(a addr.Addr) *Buf {
	if e := bmap.addrs.Lookup(a); e != nil {
		return e.(*Buf)
	}
	return nil
}

func (bmap *BufMap) Ndirty() uint64 {
	n := uint64(0)
	bmap.addrs.Apply(func(_ addr.Addr, e interface{}) {
		if e.(*Buf).dirty {
			n++
		}
	})
	return n
}

func (bmap *BufMap) DirtyBufs() []*Buf {
	var bufs []*Buf
	bmap.addrs.Apply(func(_ addr.Addr, e interface{}) {
		if b := e.(*Buf); b.dirty {
			bufs = append(bufs, b)
		}
	})
	return bufs
}
