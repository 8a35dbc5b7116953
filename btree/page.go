package btree

import (
	"bytes"
	"encoding/binary"
	"errors"

	"github.com/arkatz-dev/dualkv/common"
)

// Page header layout: [magic:int32 BE][version:int32 BE][flags:int32 BE]
// [keyCount:int32 BE][reserved:16 bytes] = 32 bytes.
const (
	PageMagic   = 0xDEADBEEF
	PageVersion = 1
	HeaderSize  = 32

	flagLeaf = 1 << 0
)

// ErrPageOverflow is returned by Encode when the payload would not fit in
// pageSize bytes. It bounds what the splitter must keep below MaxKeysPerPage.
var ErrPageOverflow = errors.New("btree: page overflow")

// Page is the in-memory, decoded form of either a leaf or an internal
// node. Leaf pages hold parallel Keys/Values slices of equal length.
// Internal pages hold Keys of length k and Children of length k+1: every
// key in the subtree rooted at Children[i] is < Keys[i] and, for i >= 1,
// >= Keys[i-1].
type Page struct {
	ID   uint32
	Leaf bool

	Keys   [][]byte
	Values [][]byte // leaf only, parallel to Keys

	Children []uint32 // internal only, len(Children) == len(Keys)+1
}

// NewLeafPage returns an empty leaf page with the given id.
func NewLeafPage(id uint32) *Page {
	return &Page{ID: id, Leaf: true}
}

// NewInternalPage returns an empty internal page with the given id.
func NewInternalPage(id uint32) *Page {
	return &Page{ID: id, Leaf: false}
}

// Encode serializes p into a pageSize-byte buffer: header, payload, then
// zero padding. Fails with ErrPageOverflow if the payload doesn't fit.
func Encode(p *Page, pageSize int) ([]byte, error) {
	var payload bytes.Buffer

	if p.Leaf {
		for i, k := range p.Keys {
			v := p.Values[i]
			var hdr [8]byte
			binary.BigEndian.PutUint32(hdr[0:4], uint32(len(k)))
			binary.BigEndian.PutUint32(hdr[4:8], uint32(len(v)))
			payload.Write(hdr[:])
			payload.Write(k)
			payload.Write(v)
		}
	} else if len(p.Keys) > 0 {
		var child0 [4]byte
		binary.BigEndian.PutUint32(child0[:], p.Children[0])
		payload.Write(child0[:])
		for i, k := range p.Keys {
			var klen [4]byte
			binary.BigEndian.PutUint32(klen[:], uint32(len(k)))
			payload.Write(klen[:])
			payload.Write(k)
			var child [4]byte
			binary.BigEndian.PutUint32(child[:], p.Children[i+1])
			payload.Write(child[:])
		}
	}

	total := HeaderSize + payload.Len()
	if total > pageSize {
		return nil, ErrPageOverflow
	}

	out := make([]byte, pageSize)
	binary.BigEndian.PutUint32(out[0:4], uint32(PageMagic))
	binary.BigEndian.PutUint32(out[4:8], uint32(PageVersion))
	var flags uint32
	if p.Leaf {
		flags |= flagLeaf
	}
	binary.BigEndian.PutUint32(out[8:12], flags)
	binary.BigEndian.PutUint32(out[12:16], uint32(len(p.Keys)))
	copy(out[HeaderSize:], payload.Bytes())
	return out, nil
}

// Decode parses a pageSize-byte buffer back into a Page. Any header field
// or cell that would cross out of bounds is a corruption error.
func Decode(id uint32, data []byte) (*Page, error) {
	if len(data) < HeaderSize {
		return nil, common.NewCorruptionError("btree-page", "page smaller than header")
	}

	magic := binary.BigEndian.Uint32(data[0:4])
	if magic != PageMagic {
		return nil, common.NewCorruptionError("btree-page", "bad page magic")
	}
	flags := binary.BigEndian.Uint32(data[8:12])
	keyCount := binary.BigEndian.Uint32(data[12:16])
	isLeaf := flags&flagLeaf != 0

	payload := data[HeaderSize:]
	offset := 0
	p := &Page{ID: id, Leaf: isLeaf}

	if isLeaf {
		p.Keys = make([][]byte, 0, keyCount)
		p.Values = make([][]byte, 0, keyCount)
		for i := uint32(0); i < keyCount; i++ {
			if offset+8 > len(payload) {
				return nil, common.NewCorruptionError("btree-page", "leaf cell header out of bounds")
			}
			kLen := binary.BigEndian.Uint32(payload[offset : offset+4])
			vLen := binary.BigEndian.Uint32(payload[offset+4 : offset+8])
			offset += 8
			if kLen == 0 {
				return nil, common.NewCorruptionError("btree-page", "zero-length leaf key")
			}
			if offset+int(kLen)+int(vLen) > len(payload) {
				return nil, common.NewCorruptionError("btree-page", "leaf cell body out of bounds")
			}
			key := make([]byte, kLen)
			copy(key, payload[offset:offset+int(kLen)])
			offset += int(kLen)
			val := make([]byte, vLen)
			copy(val, payload[offset:offset+int(vLen)])
			offset += int(vLen)
			p.Keys = append(p.Keys, key)
			p.Values = append(p.Values, val)
		}
		return p, nil
	}

	if keyCount == 0 {
		// Degenerate empty internal page.
		return p, nil
	}

	if offset+4 > len(payload) {
		return nil, common.NewCorruptionError("btree-page", "internal child0 out of bounds")
	}
	child0 := binary.BigEndian.Uint32(payload[offset : offset+4])
	offset += 4

	children := make([]uint32, 1, keyCount+1)
	children[0] = child0
	keys := make([][]byte, 0, keyCount)

	for i := uint32(0); i < keyCount; i++ {
		if offset+4 > len(payload) {
			return nil, common.NewCorruptionError("btree-page", "internal key header out of bounds")
		}
		kLen := binary.BigEndian.Uint32(payload[offset : offset+4])
		offset += 4
		if offset+int(kLen)+4 > len(payload) {
			return nil, common.NewCorruptionError("btree-page", "internal key body out of bounds")
		}
		key := make([]byte, kLen)
		copy(key, payload[offset:offset+int(kLen)])
		offset += int(kLen)
		child := binary.BigEndian.Uint32(payload[offset : offset+4])
		offset += 4
		keys = append(keys, key)
		children = append(children, child)
	}

	p.Keys = keys
	p.Children = children
	return p, nil
}

// searchKeys returns the index of an exact match (idx, true) or the
// insertion position (idx, false) for key within a sorted key slice.
func searchKeys(keys [][]byte, key []byte) (int, bool) {
	lo, hi := 0, len(keys)
	for lo < hi {
		mid := (lo + hi) / 2
		cmp := bytes.Compare(key, keys[mid])
		if cmp == 0 {
			return mid, true
		} else if cmp < 0 {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	return lo, false
}
