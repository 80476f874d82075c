// Package deltamsg builds the Message: the ordered instruction list that
// describes how to turn image I into image T. It is the only component
// that decides what each changed block becomes — a MessageReference, a
// DiskReference, a Hash, or a Literal — following a fixed priority order
// so the payload is always the cheapest kind available.
package deltamsg

import (
	"fmt"
	"math/bits"

	"github.com/blockdelta/diskdelta/blockhash"
	"github.com/blockdelta/diskdelta/imageindex"
	"github.com/blockdelta/diskdelta/knownstore"
)

// bitWidth implements bits(v) = max(1, bit_length(v)) from the spec: the
// minimum number of bits needed to hold v, but never less than 1 so a
// zero-valued field still occupies a field in the wire format.
func bitWidth(v uint64) int {
	if w := bits.Len64(v); w > 0 {
		return w
	}
	return 1
}

// Kind identifies how an Instruction's payload should be interpreted.
type Kind int

const (
	Literal Kind = iota
	Hash
	DiskReference
	MessageReference
)

func (k Kind) String() string {
	switch k {
	case Literal:
		return "Literal"
	case Hash:
		return "Hash"
	case DiskReference:
		return "DiskReference"
	case MessageReference:
		return "MessageReference"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Instruction is one unit of the delta: the target block it rewrites and
// how to obtain its literal.
type Instruction struct {
	DiskIndex uint32
	Kind      Kind

	// Literal holds the raw B bytes when Kind == Literal.
	Literal []byte
	// Digest holds the stored digest when Kind == Hash.
	Digest blockhash.Digest
	// Ref holds the block index (DiskReference) or instruction index
	// (MessageReference) payload.
	Ref uint32
}

// Message is the built, immutable instruction list plus the bit widths
// the serializer needs to lay out its payloads.
type Message struct {
	Instructions []Instruction

	HeaderBits       int
	ChangedIndexBits int
	DiskRefBits      int
	MessageRefBits   int
}

// Build walks blocks 0..N-1 of mI/mT and classifies every changed block,
// consulting and updating the shared known-block store k along the way.
// mI and mT must describe images of the same block count.
func Build(mI, mT *imageindex.Map, k *knownstore.Store) (*Message, error) {
	n := mI.NumBlocks()
	if mT.NumBlocks() != n {
		return nil, fmt.Errorf("deltamsg: image block counts differ: %d vs %d", n, mT.NumBlocks())
	}

	seen := make(map[string]uint32)
	var instructions []Instruction
	var maxDiskRef, maxMsgRef uint64

	for i := uint32(0); i < n; i++ {
		hI, err := mI.HashByIndex(i)
		if err != nil {
			return nil, err
		}
		hT, err := mT.HashByIndex(i)
		if err != nil {
			return nil, err
		}
		if string(hI) == string(hT) {
			continue
		}

		lit, err := mT.LiteralByIndex(i)
		if err != nil {
			return nil, err
		}

		msgIdx := uint32(len(instructions))
		inst := Instruction{DiskIndex: i}

		switch {
		case tryMessageReference(seen, hT, &inst, &maxMsgRef):
		case tryDiskReference(mI, hT, &inst, &maxDiskRef):
		case k.Contains(hT):
			inst.Kind = Hash
			inst.Digest = hT
		default:
			inst.Kind = Literal
			inst.Literal = lit
		}

		instructions = append(instructions, inst)
		seen[string(hT)] = msgIdx

		if err := k.Add(hT, lit); err != nil {
			return nil, err
		}
	}

	nMinus1 := uint64(0)
	if n > 0 {
		nMinus1 = uint64(n - 1)
	}
	changedIndexBits := bitWidth(nMinus1)

	msg := &Message{
		Instructions:     instructions,
		HeaderBits:       changedIndexBits,
		ChangedIndexBits: changedIndexBits,
		DiskRefBits:      bitWidth(maxDiskRef),
		MessageRefBits:   bitWidth(maxMsgRef),
	}
	return msg, nil
}

func tryMessageReference(seen map[string]uint32, hT blockhash.Digest, inst *Instruction, maxMsgRef *uint64) bool {
	idx, ok := seen[string(hT)]
	if !ok {
		return false
	}
	inst.Kind = MessageReference
	inst.Ref = idx
	if v := uint64(idx); v > *maxMsgRef {
		*maxMsgRef = v
	}
	return true
}

func tryDiskReference(mI *imageindex.Map, hT blockhash.Digest, inst *Instruction, maxDiskRef *uint64) bool {
	runs := mI.IndexesByHash(hT)
	if len(runs) == 0 {
		return false
	}
	inst.Kind = DiskReference
	inst.Ref = runs[0].Start
	if v := uint64(runs[0].Start); v > *maxDiskRef {
		*maxDiskRef = v
	}
	return true
}
