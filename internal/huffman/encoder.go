package huffman

import (
	"container/heap"
	"sort"
)

// Code is one canonical Huffman code ready for LSB-first emission: Bits
// holds the code with its bit order already reversed, Len its length.
type Code struct {
	Bits uint32
	Len  uint8
}

// CodesFromLengths assigns canonical codes to the given lengths per
// RFC 1951 (by length, then symbol order). The returned codes are
// bit-reversed so they can be written directly with an LSB-first writer.
func CodesFromLengths(lengths []uint8) []Code {
	var count [MaxCodeLen + 1]int
	maxLen := uint8(0)
	for _, n := range lengths {
		if n > 0 {
			count[n]++
			if n > maxLen {
				maxLen = n
			}
		}
	}

	var nextcode [MaxCodeLen + 1]uint32
	code := uint32(0)
	for n := uint8(1); n <= maxLen; n++ {
		code = (code + uint32(count[n-1])) << 1
		nextcode[n] = code
	}

	codes := make([]Code, len(lengths))
	for sym, n := range lengths {
		if n == 0 {
			continue
		}
		codes[sym] = Code{Bits: reverseBits(nextcode[n], n), Len: n}
		nextcode[n]++
	}
	return codes
}

func reverseBits(v uint32, n uint8) uint32 {
	var out uint32
	for i := uint8(0); i < n; i++ {
		out = out<<1 | v&1
		v >>= 1
	}
	return out
}

type leaf struct {
	sym  int
	freq uint32
}

// ComputeLengths derives code lengths (0 for unused symbols) from symbol
// frequencies, limited to maxBits. The result always satisfies the Kraft
// inequality and is deterministic for a given frequency vector.
func ComputeLengths(freqs []uint32, maxBits uint8) []uint8 {
	lengths := make([]uint8, len(freqs))

	var used []leaf
	for sym, f := range freqs {
		if f > 0 {
			used = append(used, leaf{sym, f})
		}
	}

	switch len(used) {
	case 0:
		return lengths
	case 1:
		lengths[used[0].sym] = 1
		return lengths
	case 2:
		lengths[used[0].sym] = 1
		lengths[used[1].sym] = 1
		return lengths
	}

	depths := treeDepths(used)

	// Clamp overlong codes to maxBits, then restore the Kraft equality.
	// Measured in units of 2^-maxBits the clamped set over-uses the code
	// space; each repair step retires one code at maxBits and reissues a
	// shallower code one level deeper, shrinking the total by exactly one
	// unit until the space is used exactly. Strict decoders reject
	// anything else.
	var count [MaxCodeLen + 2]int
	for _, d := range depths {
		if d > maxBits {
			d = maxBits
		}
		count[d]++
	}
	total := 0
	for n := 1; n <= int(maxBits); n++ {
		total += count[n] << (int(maxBits) - n)
	}
	for total != 1<<maxBits {
		count[maxBits]--
		for n := int(maxBits) - 1; n > 0; n-- {
			if count[n] != 0 {
				count[n]--
				count[n+1] += 2
				break
			}
		}
		total--
	}

	// Reassign lengths canonically: most frequent symbols get the
	// shortest codes. Ties break on symbol order for determinism.
	order := make([]leaf, len(used))
	copy(order, used)
	sort.Slice(order, func(i, j int) bool {
		if order[i].freq != order[j].freq {
			return order[i].freq > order[j].freq
		}
		return order[i].sym < order[j].sym
	})
	idx := 0
	for n := uint8(1); n <= maxBits; n++ {
		for k := 0; k < count[n]; k++ {
			lengths[order[idx].sym] = n
			idx++
		}
	}
	return lengths
}

type treeNode struct {
	freq        uint64
	order       int
	left, right int // -1 for leaves
}

// treeDepths builds a Huffman tree over the used symbols and returns each
// leaf's depth, in the same order as used.
func treeDepths(used []leaf) []uint8 {
	nodes := make([]treeNode, 0, 2*len(used)-1)
	for _, u := range used {
		nodes = append(nodes, treeNode{freq: uint64(u.freq), order: len(nodes), left: -1, right: -1})
	}

	h := &nodeHeap{nodes: &nodes}
	for i := range used {
		h.idx = append(h.idx, i)
	}
	heap.Init(h)

	for h.Len() > 1 {
		a := heap.Pop(h).(int)
		b := heap.Pop(h).(int)
		nodes = append(nodes, treeNode{
			freq:  nodes[a].freq + nodes[b].freq,
			order: len(nodes),
			left:  a,
			right: b,
		})
		heap.Push(h, len(nodes)-1)
	}
	root := h.idx[0]

	depths := make([]uint8, len(used))
	type frame struct {
		node  int
		depth uint8
	}
	stack := []frame{{root, 0}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n := nodes[f.node]
		if n.left < 0 {
			d := f.depth
			if d == 0 {
				d = 1
			}
			depths[f.node] = d
			continue
		}
		stack = append(stack, frame{n.left, f.depth + 1}, frame{n.right, f.depth + 1})
	}
	return depths
}

// nodeHeap orders tree nodes by frequency, breaking ties on creation order
// so the resulting tree is deterministic.
type nodeHeap struct {
	nodes *[]treeNode
	idx   []int
}

func (h *nodeHeap) Len() int { return len(h.idx) }

func (h *nodeHeap) Less(i, j int) bool {
	a, b := (*h.nodes)[h.idx[i]], (*h.nodes)[h.idx[j]]
	if a.freq != b.freq {
		return a.freq < b.freq
	}
	return a.order < b.order
}

func (h *nodeHeap) Swap(i, j int) { h.idx[i], h.idx[j] = h.idx[j], h.idx[i] }

func (h *nodeHeap) Push(x any) { h.idx = append(h.idx, x.(int)) }

func (h *nodeHeap) Pop() any {
	x := h.idx[len(h.idx)-1]
	h.idx = h.idx[:len(h.idx)-1]
	return x
}
