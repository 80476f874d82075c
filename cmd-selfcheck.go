package main

import (
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"
	"k8s.io/klog/v2"

	"github.com/blockdelta/diskdelta/deltacore"
	"github.com/blockdelta/diskdelta/knownstore"
)

func newCmd_SelfCheck() *cli.Command {
	var (
		initialImage  PathArg
		targetImage   PathArg
		storePath     PathArg
		blockSize     int
		digestBits    int
		keepArtifacts bool
	)
	return &cli.Command{
		Name:        "self-check",
		Description: "Encode a delta between an initial and target image, decode it back, and verify the reconstructed image matches the target byte-for-byte.",
		ArgsUsage:   "--initial-image <path> --target-image <path>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "initial-image",
				Aliases:     []string{"i"},
				Usage:       "path to the initial disk image",
				Required:    true,
				Destination: (*string)(&initialImage),
			},
			&cli.StringFlag{
				Name:        "target-image",
				Aliases:     []string{"t"},
				Usage:       "path to the target disk image",
				Required:    true,
				Destination: (*string)(&targetImage),
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
				Usage:       "path to the persistent known-block store",
				Destination: (*string)(&storePath),
			},
			&cli.BoolFlag{
				Name:        "keep-artifacts",
				Usage:       "keep the intermediate delta and reconstructed image instead of deleting them when the command exits",
				Destination: &keepArtifacts,
			},
		},
		Action: func(c *cli.Context) error {
			if err := initialImage.Validate("initial-image"); err != nil {
				return cli.Exit(err, 1)
			}
			if err := targetImage.Validate("target-image"); err != nil {
				return cli.Exit(err, 1)
			}
			if digestBits == 0 {
				digestBits = DefaultDigestBits(blockSize)
			}
			if storePath.IsZero() {
				storePath = PathArg(knownstore.DefaultPath(blockSize, digestBits))
			}

			tmpDir, err := os.MkdirTemp("", "diskdelta-selfcheck-*")
			if err != nil {
				return cli.Exit(fmt.Errorf("%w", err), 1)
			}
			if !keepArtifacts {
				defer os.RemoveAll(tmpDir)
			} else {
				klog.Infof("keeping artifacts in %s", tmpDir)
			}
			deltaPath := tmpDir + "/delta.bin"
			outPath := tmpDir + "/reconstructed.img"

			startedAt := time.Now()
			defer func() {
				klog.Infof("Finished in %s", time.Since(startedAt))
			}()

			klog.Infof("Opening coordinator (block size %d bytes, digest %d bits)", blockSize, digestBits)
			coord, err := deltacore.Open(initialImage.String(), targetImage.String(), storePath.String(), deltacore.Params{
				BlockSize:  blockSize,
				DigestBits: digestBits,
			})
			if err != nil {
				return cli.Exit(err, 1)
			}
			defer coord.Close()

			klog.Infof("Encoding, decoding, and comparing %s against %s", targetImage.String(), initialImage.String())
			if err := coord.SelfCheck(targetImage.String(), deltaPath, outPath); err != nil {
				return cli.Exit(err, 1)
			}
			klog.Info("Self-check passed: reconstructed image matches target")
			return nil
		},
	}
}
