package ident

import (
	"encoding/binary"
	"hash/fnv"
	"sort"
)

// nvisitWrap keeps the visit count inside the 3-digit filename field.
const nvisitWrap = 1000

// WraparoundNVisit wraps a visit count into the 3-digit range used by the
// naming convention.
func WraparoundNVisit(n int) uint32 {
	return uint32(n % nvisitWrap)
}

// VisitSetHash computes the 63-bit hash identifying a visit combination.
//
// The hash is FNV-1a over the sorted, deduplicated visit IDs, so any
// permutation of the same set yields the same hash. The top bit is masked
// off to keep the value representable in signed 64-bit columns.
func VisitSetHash(visits []uint32) uint64 {
	set := make([]uint32, 0, len(visits))
	seen := make(map[uint32]struct{}, len(visits))
	for _, v := range visits {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		set = append(set, v)
	}
	sort.Slice(set, func(i, j int) bool { return set[i] < set[j] })

	h := fnv.New64a()
	var buf [4]byte
	for _, v := range set {
		binary.BigEndian.PutUint32(buf[:], v)
		h.Write(buf[:])
	}
	return h.Sum64() & 0x7fffffffffffffff
}
