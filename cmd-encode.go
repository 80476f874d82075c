package main

import (
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v2"
	"k8s.io/klog/v2"

	"github.com/blockdelta/diskdelta/deltacore"
	"github.com/blockdelta/diskdelta/knownstore"
)

// blockCount returns the number of blockSize-sized blocks in the file at
// path, or -1 (an indeterminate progress bar) if it cannot be statted;
// Open/Encode will surface the real error shortly after.
func blockCount(path string, blockSize int) int64 {
	info, err := os.Stat(path)
	if err != nil || blockSize <= 0 {
		return -1
	}
	return info.Size() / int64(blockSize)
}

func newCmd_Encode() *cli.Command {
	var (
		initialImage PathArg
		targetImage  PathArg
		outputDelta  PathArg
		storePath    PathArg
		blockSize    int
		digestBits   int
		verify       bool
	)
	return &cli.Command{
		Name:        "encode",
		Description: "Compute a compact delta between an initial image and a target image of equal size.",
		ArgsUsage:   "--initial-image <path> --target-image <path> --output <path>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "initial-image",
				Aliases:     []string{"i"},
				Usage:       "path to the initial (already-possessed) disk image",
				Required:    true,
				Destination: (*string)(&initialImage),
			},
			&cli.StringFlag{
				Name:        "target-image",
				Aliases:     []string{"t"},
				Usage:       "path to the target disk image to diff against",
				Required:    true,
				Destination: (*string)(&targetImage),
			},
			&cli.StringFlag{
				Name:        "output",
				Aliases:     []string{"o"},
				Usage:       "path to write the encoded delta to",
				Required:    true,
				Destination: (*string)(&outputDelta),
			},
			&cli.IntFlag{
				Name:        "block-size",
				Aliases:     []string{"b"},
				Usage:       "block size B in bytes",
				Value:       DefaultBlockSize,
				Destination: &blockSize,
			},
			&cli.IntFlag{
				Name:        "digest-size",
				Usage:       "digest size D in bits (defaults to a size calibrated against a 100,000 TB working set)",
				Destination: &digestBits,
			},
			&cli.StringFlag{
				Name:        "known-store",
				Usage:       "path to the persistent known-block store (defaults to data/hashes_{B}_{D} under the working directory)",
				Destination: (*string)(&storePath),
			},
			&cli.BoolFlag{
				Name:        "verify",
				Usage:       "decode the freshly-encoded delta and compare it against the target image before exiting",
				Value:       true,
				Destination: &verify,
			},
		},
		Action: func(c *cli.Context) error {
			if err := initialImage.Validate("initial-image"); err != nil {
				return cli.Exit(err, 1)
			}
			if err := targetImage.Validate("target-image"); err != nil {
				return cli.Exit(err, 1)
			}
			if err := outputDelta.Validate("output"); err != nil {
				return cli.Exit(err, 1)
			}
			if digestBits == 0 {
				digestBits = DefaultDigestBits(blockSize)
			}
			if storePath.IsZero() {
				storePath = PathArg(knownstore.DefaultPath(blockSize, digestBits))
			}

			startedAt := time.Now()
			defer func() {
				klog.Infof("Finished in %s", time.Since(startedAt))
			}()

			klog.Infof("Opening coordinator (block size %s, digest %d bits, store %s)",
				humanize.Bytes(uint64(blockSize)), digestBits, storePath.String())
			scanBar := progressbar.Default(blockCount(initialImage.String(), blockSize), "scanning initial image")
			coord, err := deltacore.OpenWithProgress(initialImage.String(), targetImage.String(), storePath.String(), deltacore.Params{
				BlockSize:  blockSize,
				DigestBits: digestBits,
			}, scanBar)
			scanBar.Close()
			if err != nil {
				return cli.Exit(err, 1)
			}
			defer coord.Close()

			encodeBar := progressbar.Default(blockCount(targetImage.String(), blockSize), "scanning target image")
			defer encodeBar.Close()

			if verify {
				tmpOut := outputDelta.String() + ".selfcheck.img"
				defer os.Remove(tmpOut)
				klog.Infof("Encoding %s and verifying round trip", targetImage.String())
				if err := coord.SelfCheckWithProgress(targetImage.String(), outputDelta.String(), tmpOut, encodeBar); err != nil {
					return cli.Exit(fmt.Errorf("self-check failed: %w", err), 1)
				}
				klog.Info("Self-check passed: reconstructed image matches target")
				return nil
			}

			klog.Infof("Encoding %s against %s", targetImage.String(), initialImage.String())
			if err := coord.EncodeWithProgress(targetImage.String(), outputDelta.String(), encodeBar); err != nil {
				return cli.Exit(err, 1)
			}
			return nil
		},
	}
}
