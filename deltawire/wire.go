// Package deltawire implements the on-wire layout of a Message (C6):
// a fixed two-field header (the DiskReference and MessageReference payload
// widths) followed by a run of variable-width instructions, bit-packed
// MSB-first via bitstream. The disk-index width and the header field
// width are never themselves stored — the encoder takes them from the
// Message and the decoder derives them from N, the block count of the
// images in hand.
package deltawire

import (
	"errors"
	"fmt"
	"io"

	"github.com/blockdelta/diskdelta/bitstream"
	"github.com/blockdelta/diskdelta/deltaerr"
	"github.com/blockdelta/diskdelta/deltamsg"
)

// endOfStream reports whether a read hit the end of the instruction
// stream: either cleanly (eof, nothing left at all) or mid-field because
// only the final byte's zero-padding remained. bitstream.Reader cannot
// tell real data from trailing padding, so both are treated the same way
// here, exactly as the original tool's bit reader does by returning None
// for both cases: whatever was read this call is discarded, not errored.
func endOfStream(eof bool, err error) bool {
	return eof || errors.Is(err, deltaerr.ErrTruncated)
}

// BitWidth implements bits(v) = max(1, bit_length(v)).
func BitWidth(v uint64) int {
	w := 0
	for t := v; t != 0; t >>= 1 {
		w++
	}
	if w == 0 {
		return 1
	}
	return w
}

// HeaderWidths derives changed_index_bits and header_bits from N, per
// the Open Question decision that both equal bits(N-1).
func HeaderWidths(n uint32) (changedIndexBits, headerBits int) {
	nMinus1 := uint64(0)
	if n > 0 {
		nMinus1 = uint64(n - 1)
	}
	w := BitWidth(nMinus1)
	return w, w
}

// Write serializes msg to w: the two header_bits-wide width fields, then
// every instruction in order.
func Write(w io.Writer, msg *deltamsg.Message) error {
	bw := bitstream.NewWriter(w)

	if err := bw.WriteBits(uint64(msg.DiskRefBits), msg.HeaderBits); err != nil {
		return err
	}
	if err := bw.WriteBits(uint64(msg.MessageRefBits), msg.HeaderBits); err != nil {
		return err
	}

	for _, inst := range msg.Instructions {
		if err := bw.WriteBits(uint64(inst.DiskIndex), msg.ChangedIndexBits); err != nil {
			return err
		}
		if err := bw.WriteBits(uint64(inst.Kind), 2); err != nil {
			return err
		}
		switch inst.Kind {
		case deltamsg.Literal:
			if err := bw.WriteBytes(inst.Literal); err != nil {
				return err
			}
		case deltamsg.Hash:
			if err := bw.WriteBytes(inst.Digest); err != nil {
				return err
			}
		case deltamsg.DiskReference:
			if err := bw.WriteBits(uint64(inst.Ref), msg.DiskRefBits); err != nil {
				return err
			}
		case deltamsg.MessageReference:
			if err := bw.WriteBits(uint64(inst.Ref), msg.MessageRefBits); err != nil {
				return err
			}
		default:
			return fmt.Errorf("%w: %v", deltaerr.ErrInvalidTag, inst.Kind)
		}
	}

	return bw.Close()
}

// Read deserializes a Message from r. n is the block count of the image
// pair (known to the decoder because it holds the initial image of equal
// size); blockSize is B, the byte length of a Literal payload; digestLen
// is ⌈D/8⌉, the byte length of a Hash payload.
func Read(r io.Reader, n uint32, blockSize, digestLen int) (*deltamsg.Message, error) {
	changedIndexBits, headerBits := HeaderWidths(n)
	br := bitstream.NewReader(r)

	diskRefBits, eof, err := br.ReadBits(headerBits)
	if err != nil {
		return nil, err
	}
	if eof {
		return &deltamsg.Message{HeaderBits: headerBits, ChangedIndexBits: changedIndexBits, DiskRefBits: 1, MessageRefBits: 1}, nil
	}
	if diskRefBits == 0 {
		diskRefBits = 1
	}
	msgRefBits, eof, err := br.ReadBits(headerBits)
	if err != nil {
		return nil, err
	}
	if eof {
		msgRefBits = 1
	} else if msgRefBits == 0 {
		msgRefBits = 1
	}

	msg := &deltamsg.Message{
		HeaderBits:       headerBits,
		ChangedIndexBits: changedIndexBits,
		DiskRefBits:      int(diskRefBits),
		MessageRefBits:   int(msgRefBits),
	}

	for {
		diskIndex, eof, err := br.ReadBits(changedIndexBits)
		if endOfStream(eof, err) {
			break
		}
		if err != nil {
			return nil, err
		}

		tag, eof, err := br.ReadBits(2)
		if endOfStream(eof, err) {
			break
		}
		if err != nil {
			return nil, err
		}

		inst := deltamsg.Instruction{
			DiskIndex: uint32(diskIndex),
			Kind:      deltamsg.Kind(tag),
		}

		stop := false
		switch inst.Kind {
		case deltamsg.Literal:
			payload, eof, err := br.ReadBytes(blockSize)
			if endOfStream(eof, err) {
				stop = true
			} else if err != nil {
				return nil, err
			} else {
				inst.Literal = payload
			}
		case deltamsg.Hash:
			digest, eof, err := br.ReadBytes(digestLen)
			if endOfStream(eof, err) {
				stop = true
			} else if err != nil {
				return nil, err
			} else {
				inst.Digest = digest
			}
		case deltamsg.DiskReference:
			v, eof, err := br.ReadBits(msg.DiskRefBits)
			if endOfStream(eof, err) {
				stop = true
			} else if err != nil {
				return nil, err
			} else {
				inst.Ref = uint32(v)
			}
		case deltamsg.MessageReference:
			v, eof, err := br.ReadBits(msg.MessageRefBits)
			if endOfStream(eof, err) {
				stop = true
			} else if err != nil {
				return nil, err
			} else {
				inst.Ref = uint32(v)
			}
		default:
			return nil, fmt.Errorf("%w: tag %d", deltaerr.ErrInvalidTag, tag)
		}
		if stop {
			break
		}

		msg.Instructions = append(msg.Instructions, inst)
	}

	return msg, nil
}
