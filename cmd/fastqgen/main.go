// fastqgen emits synthetic gzip-compressed FASTQ for exercising and
// benchmarking the transcoder. Reads are random but reproducible for a
// given seed, so benchmark inputs can be regenerated instead of stored.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"math/rand/v2"
	"os"

	"github.com/klauspost/compress/gzip"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		outputFile = flag.String("o", "", "output file (default: stdout)")
		numReads   = flag.Int("n", 100000, "number of reads")
		readLen    = flag.Int("len", 150, "read length in bases")
		level      = flag.Int("level", 6, "gzip compression level")
		seed       = flag.Uint64("seed", 42, "random seed for reproducibility")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `fastqgen - Generate synthetic gzip-compressed FASTQ

Usage:
  fastqgen -n 100000 -len 150 -o sample.fastq.gz
  fastqgen -n 1000 | bgzify -o sample.bgzf

Options:
`)
		flag.PrintDefaults()
	}
	flag.Parse()

	out, cleanup, err := openOutput(*outputFile)
	if err != nil {
		return err
	}
	defer cleanup()

	gz, err := gzip.NewWriterLevel(out, *level)
	if err != nil {
		return err
	}

	if err := generate(gz, *numReads, *readLen, *seed); err != nil {
		return err
	}
	return gz.Close()
}

func openOutput(path string) (io.Writer, func(), error) {
	if path == "" || path == "-" {
		bw := bufio.NewWriterSize(os.Stdout, 1<<20)
		return bw, func() { _ = bw.Flush() }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("cannot create output: %w", err)
	}
	bw := bufio.NewWriterSize(f, 1<<20)
	return bw, func() { _ = bw.Flush(); _ = f.Close() }, nil
}

var bases = []byte("ACGT")

func generate(w io.Writer, numReads, readLen int, seed uint64) error {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	seq := make([]byte, readLen)
	qual := make([]byte, readLen)
	buf := bufio.NewWriterSize(w, 1<<16)

	for i := 0; i < numReads; i++ {
		for j := range seq {
			seq[j] = bases[rng.IntN(len(bases))]
			qual[j] = byte('!' + 10 + rng.IntN(30))
		}
		if _, err := fmt.Fprintf(buf, "@read_%d/1\n", i+1); err != nil {
			return err
		}
		buf.Write(seq)
		buf.WriteByte('\n')
		buf.WriteByte('+')
		buf.WriteByte('\n')
		buf.Write(qual)
		buf.WriteByte('\n')
	}
	return buf.Flush()
}
