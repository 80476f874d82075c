// Package deltacore binds block size B and digest size D for one run,
// validates the two images, and drives C3/C4/C5/C6/C7 to encode and
// decode deltas between them (C8 Coordinator).
package deltacore

import (
	"crypto/sha256"
	"fmt"
	"io"
	"os"

	logging "github.com/ipfs/go-log/v2"
	"github.com/schollz/progressbar/v3"

	"github.com/blockdelta/diskdelta/blockhash"
	"github.com/blockdelta/diskdelta/deltaapply"
	"github.com/blockdelta/diskdelta/deltaerr"
	"github.com/blockdelta/diskdelta/deltamsg"
	"github.com/blockdelta/diskdelta/deltawire"
	"github.com/blockdelta/diskdelta/filecache"
	"github.com/blockdelta/diskdelta/imageindex"
	"github.com/blockdelta/diskdelta/knownstore"
)

var log = logging.Logger("diskdelta/deltacore")

// Params binds the per-run parameters: B (block size in bytes) and D
// (digest size in bits).
type Params struct {
	BlockSize  int
	DigestBits int
}

func (p Params) validate() error {
	if p.BlockSize <= 0 {
		return fmt.Errorf("%w: block size %d", deltaerr.ErrInvalidParameter, p.BlockSize)
	}
	if p.DigestBits <= 0 || p.DigestBits > blockhash.MaxDigestBits {
		return fmt.Errorf("%w: digest size %d", deltaerr.ErrInvalidParameter, p.DigestBits)
	}
	return nil
}

// Coordinator owns the IndexHashMaps, the known-block store, and the
// cache of file handles for a single encode or decode run.
type Coordinator struct {
	params  Params
	initial string
	cache   *filecache.Cache
	hasher  *blockhash.Hasher
	store   *knownstore.Store
	mI      *imageindex.Map
}

// Open validates the images and builds M_I, opening (or creating) the
// known-block store at storePath.
func Open(initialPath, targetPath, storePath string, params Params) (*Coordinator, error) {
	return OpenWithProgress(initialPath, targetPath, storePath, params, nil)
}

// OpenWithProgress is Open with an optional bar advanced once per block
// while scanning the initial image; passing a nil bar is equivalent to
// calling Open directly.
func OpenWithProgress(initialPath, targetPath, storePath string, params Params, bar *progressbar.ProgressBar) (*Coordinator, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}

	iInfo, err := os.Stat(initialPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", deltaerr.ErrIoFailure, err)
	}
	tInfo, err := os.Stat(targetPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", deltaerr.ErrIoFailure, err)
	}
	if iInfo.Size() != tInfo.Size() {
		return nil, fmt.Errorf("%w: initial image is %d bytes, target is %d bytes", deltaerr.ErrSizeMismatch, iInfo.Size(), tInfo.Size())
	}
	if iInfo.Size()%int64(params.BlockSize) != 0 {
		return nil, fmt.Errorf("%w: image size %d is not a multiple of block size %d", deltaerr.ErrSizeMismatch, iInfo.Size(), params.BlockSize)
	}

	hasher, err := blockhash.New(params.DigestBits)
	if err != nil {
		return nil, err
	}
	cache := filecache.New(8, filecache.AdviseSequential)

	mI, err := imageindex.BuildWithProgress(initialPath, params.BlockSize, hasher, cache, bar)
	if err != nil {
		return nil, err
	}

	store, err := knownstore.Open(storePath, params.BlockSize, params.DigestBits)
	if err != nil {
		return nil, err
	}

	log.Infow("opened coordinator", "blockSize", params.BlockSize, "digestBits", params.DigestBits, "blocks", mI.NumBlocks())

	return &Coordinator{
		params:  params,
		initial: initialPath,
		cache:   cache,
		hasher:  hasher,
		store:   store,
		mI:      mI,
	}, nil
}

// Close releases the coordinator's known-block store and file handles.
func (c *Coordinator) Close() error {
	c.cache.Clear()
	return c.store.Close()
}

// Encode builds the delta message between the initial image and
// targetPath and writes it to outPath.
func (c *Coordinator) Encode(targetPath, outPath string) error {
	return c.EncodeWithProgress(targetPath, outPath, nil)
}

// EncodeWithProgress is Encode with an optional bar advanced once per
// block while scanning the target image.
func (c *Coordinator) EncodeWithProgress(targetPath, outPath string, bar *progressbar.ProgressBar) error {
	mT, err := imageindex.BuildWithProgress(targetPath, c.params.BlockSize, c.hasher, c.cache, bar)
	if err != nil {
		return err
	}

	msg, err := deltamsg.Build(c.mI, mT, c.store)
	if err != nil {
		return err
	}

	out, err := os.OpenFile(outPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("%w: %v", deltaerr.ErrIoFailure, err)
	}
	defer out.Close()

	if err := deltawire.Write(out, msg); err != nil {
		return err
	}

	log.Infow("encoded delta", "instructions", len(msg.Instructions), "out", outPath)
	return nil
}

// Decode reads the delta at deltaPath and applies it on top of the
// initial image, writing the reconstructed image to outPath.
func (c *Coordinator) Decode(deltaPath, outPath string) error {
	f, err := os.Open(deltaPath)
	if err != nil {
		return fmt.Errorf("%w: %v", deltaerr.ErrIoFailure, err)
	}
	defer f.Close()

	digestLen := c.hasher.Size()
	msg, err := deltawire.Read(f, c.mI.NumBlocks(), c.params.BlockSize, digestLen)
	if err != nil {
		return err
	}

	return deltaapply.Apply(msg, c.initial, outPath, c.params.BlockSize, c.mI, c.store)
}

// SelfCheck encodes target into delta, decodes it back, and compares the
// reconstructed image against target byte-for-byte via SHA-256, mirroring
// the original tool's unconditional post-encode verification.
func (c *Coordinator) SelfCheck(targetPath, deltaPath, reconstructedPath string) error {
	return c.SelfCheckWithProgress(targetPath, deltaPath, reconstructedPath, nil)
}

// SelfCheckWithProgress is SelfCheck with an optional bar advanced once
// per block while scanning the target image during the encode step.
func (c *Coordinator) SelfCheckWithProgress(targetPath, deltaPath, reconstructedPath string, bar *progressbar.ProgressBar) error {
	if err := c.EncodeWithProgress(targetPath, deltaPath, bar); err != nil {
		return err
	}
	if err := c.Decode(deltaPath, reconstructedPath); err != nil {
		return err
	}
	return VerifyMatch(targetPath, reconstructedPath)
}

// VerifyMatch reports whether two files are byte-for-byte identical,
// compared via SHA-256 so neither file is held in memory at once.
func VerifyMatch(wantPath, gotPath string) error {
	wantSum, err := sha256File(wantPath)
	if err != nil {
		return err
	}
	gotSum, err := sha256File(gotPath)
	if err != nil {
		return err
	}
	if wantSum != gotSum {
		return fmt.Errorf("%w: reconstructed image does not match target", deltaerr.ErrContentMismatch)
	}
	return nil
}

func sha256File(path string) ([32]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return [32]byte{}, fmt.Errorf("%w: %v", deltaerr.ErrIoFailure, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return [32]byte{}, fmt.Errorf("%w: %v", deltaerr.ErrIoFailure, err)
	}
	var sum [32]byte
	copy(sum[:], h.Sum(nil))
	return sum, nil
}
