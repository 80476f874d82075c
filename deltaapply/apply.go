// Package deltaapply reconstructs T from I and a built Message (C7): copy
// I verbatim to the output path, then overwrite each instruction's target
// block with its resolved literal.
package deltaapply

import (
	"fmt"
	"io"
	"os"

	"github.com/blockdelta/diskdelta/blockhash"
	"github.com/blockdelta/diskdelta/deltaerr"
	"github.com/blockdelta/diskdelta/deltamsg"
	"github.com/blockdelta/diskdelta/imageindex"
	"github.com/blockdelta/diskdelta/knownstore"
)

// Apply writes outPath as a copy of iPath with msg's instructions
// applied on top. mI resolves DiskReference payloads; k resolves Hash
// payloads. blockSize is B.
func Apply(msg *deltamsg.Message, iPath, outPath string, blockSize int, mI *imageindex.Map, k *knownstore.Store) error {
	if err := copyFile(iPath, outPath); err != nil {
		return err
	}

	out, err := os.OpenFile(outPath, os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("%w: %v", deltaerr.ErrIoFailure, err)
	}
	defer out.Close()

	for i := range msg.Instructions {
		inst := &msg.Instructions[i]
		lit, err := resolve(msg, i, mI, k)
		if err != nil {
			return err
		}
		if len(lit) != blockSize {
			return fmt.Errorf("%w: resolved literal for disk_index %d has length %d, want %d", deltaerr.ErrInvalidParameter, inst.DiskIndex, len(lit), blockSize)
		}
		if _, err := out.WriteAt(lit, int64(inst.DiskIndex)*int64(blockSize)); err != nil {
			return fmt.Errorf("%w: writing block %d: %v", deltaerr.ErrIoFailure, inst.DiskIndex, err)
		}
	}

	return nil
}

// resolve computes the literal for msg.Instructions[idx], recursing
// through MessageReference chains. References are strictly backward
// (idx' < idx), so the recursion always terminates.
func resolve(msg *deltamsg.Message, idx int, mI *imageindex.Map, k *knownstore.Store) ([]byte, error) {
	inst := msg.Instructions[idx]
	switch inst.Kind {
	case deltamsg.Literal:
		return inst.Literal, nil
	case deltamsg.Hash:
		lit, err := k.GetDataByHash(blockhash.Digest(inst.Digest))
		if err != nil {
			return nil, err
		}
		return lit, nil
	case deltamsg.DiskReference:
		return mI.LiteralByIndex(inst.Ref)
	case deltamsg.MessageReference:
		if int(inst.Ref) >= idx {
			return nil, fmt.Errorf("%w: message reference %d is not strictly backward from instruction %d", deltaerr.ErrInvalidParameter, inst.Ref, idx)
		}
		return resolve(msg, int(inst.Ref), mI, k)
	default:
		return nil, fmt.Errorf("%w: %v", deltaerr.ErrInvalidTag, inst.Kind)
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("%w: %v", deltaerr.ErrIoFailure, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("%w: %v", deltaerr.ErrIoFailure, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("%w: %v", deltaerr.ErrIoFailure, err)
	}
	return nil
}
