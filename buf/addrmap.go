package buf

import "github.com/c8ef/CS111/addr"

// AddrMap is a map from addr.Addr to an arbitrary payload (BufMap's index).
type AddrMap struct {
	addrs map[uint64][]*aentry
}

type aentry struct {
	addr addr.Addr
	obj  interface{}
}

func MkAddrMap() *AddrMap {
	return &AddrMap{addrs: make(map[uint64][]*aentry)}
}

func (amap *AddrMap) Lookup(a addr.Addr) interface{} {
	for _, e := range amap.addrs[a.Blkno] {
		if a.Eq(e.addr) {
			return e.obj
		}
	}
	return nil
}

func (amap *AddrMap) Insert(a addr.Addr, obj interface{}) {
	amap.addrs[a.Blkno] = append(amap.addrs[a.Blkno], &aentry{addr: a, obj: obj})
}

func (amap *AddrMap) Del(a addr.Addr) {
	entries, found := amap.addrs[a.Blkno]
	if !found {
		panic("AddrMap.Del: not present")
	}
	for i, e := range entries {
		if e.addr.Eq(a) {
			amap.addrs[a.Blkno] = append(entries[:i], entries[i+1:]...)
			return
		}
	}
	panic("AddrMap.Del: not present")
}

func (amap *AddrMap) Apply(f func(addr.Addr, interface{})) {
	for _, entries := range amap.addrs {
		for _, e := range entries {
			f(e.addr, e.obj)
		}
	}
}
