package main

import (
	"time"

	"github.com/urfave/cli/v2"
	"k8s.io/klog/v2"

	"github.com/blockdelta/diskdelta/deltacore"
	"github.com/blockdelta/diskdelta/knownstore"
)

func newCmd_Decode() *cli.Command {
	var (
		initialImage PathArg
		deltaPath    PathArg
		outputImage  PathArg
		storePath    PathArg
		blockSize    int
		digestBits   int
	)
	return &cli.Command{
		Name:        "decode",
		Description: "Apply a previously-encoded delta on top of an initial image to reconstruct the target image.",
		ArgsUsage:   "--initial-image <path> --delta <path> --output <path>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "initial-image",
				Aliases:     []string{"i"},
				Usage:       "path to the initial disk image the delta was computed against",
				Required:    true,
				Destination: (*string)(&initialImage),
			},
			&cli.StringFlag{
				Name:        "delta",
				Aliases:     []string{"d"},
				Usage:       "path to the encoded delta",
				Required:    true,
				Destination: (*string)(&deltaPath),
			},
			&cli.StringFlag{
				Name:        "output",
				Aliases:     []string{"o"},
				Usage:       "path to write the reconstructed image to",
				Required:    true,
				Destination: (*string)(&outputImage),
			},
			&cli.IntFlag{
				Name:        "block-size",
				Aliases:     []string{"b"},
				Usage:       "block size B in bytes (must match the value used to encode the delta)",
				Value:       DefaultBlockSize,
				Destination: &blockSize,
			},
			&cli.IntFlag{
				Name:        "digest-size",
				Usage:       "digest size D in bits (must match the value used to encode the delta)",
				Destination: &digestBits,
			},
			&cli.StringFlag{
				Name:        "known-store",
				Usage:       "path to the persistent known-block store (must be the one the delta's Hash instructions reference)",
				Destination: (*string)(&storePath),
			},
		},
		Action: func(c *cli.Context) error {
			if err := initialImage.Validate("initial-image"); err != nil {
				return cli.Exit(err, 1)
			}
			if err := deltaPath.Validate("delta"); err != nil {
				return cli.Exit(err, 1)
			}
			if err := outputImage.Validate("output"); err != nil {
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

			// Decode does not need a target image ahead of time, but the
			// coordinator validates equal-sized images on Open, so it is
			// opened against the initial image twice: the initial image
			// stands in as its own "target" for the size/param check, and
			// the reconstructed image is produced fresh from the delta.
			klog.Infof("Opening coordinator (block size %d bytes, digest %d bits, store %s)",
				blockSize, digestBits, storePath.String())
			coord, err := deltacore.Open(initialImage.String(), initialImage.String(), storePath.String(), deltacore.Params{
				BlockSize:  blockSize,
				DigestBits: digestBits,
			})
			if err != nil {
				return cli.Exit(err, 1)
			}
			defer coord.Close()

			klog.Infof("Decoding %s on top of %s", deltaPath.String(), initialImage.String())
			if err := coord.Decode(deltaPath.String(), outputImage.String()); err != nil {
				return cli.Exit(err, 1)
			}
			klog.Infof("Wrote reconstructed image to %s", outputImage.String())
			return nil
		},
	}
}
