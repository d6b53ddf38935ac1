package transcode

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"golang.org/x/sync/errgroup"

	"github.com/vertti/bgzify/internal/bgzf"
	"github.com/vertti/bgzify/internal/bitio"
	"github.com/vertti/bgzify/internal/deflate"
	"github.com/vertti/bgzify/internal/errs"
)

// encodedBlock is a fully framed BGZF member ready to write, tagged for
// ordered reassembly.
type encodedBlock struct {
	seq  int
	data []byte
	size int
	err  error
}

// transcodeParallel splits the pipeline over three stages: a producer that
// parses, splits and resolves (inherently serial because of the sliding
// window), a worker pool that re-encodes and frames self-contained blocks,
// and a collector that restores output order by sequence number.
func transcodeParallel(r io.Reader, w io.Writer, cfg Config, idx *bgzf.IndexBuilder) (*Stats, error) {
	workers := cfg.effectiveThreads()

	jobs := make(chan outputBlock, workers*2)
	results := make(chan encodedBlock, workers*2)

	g, ctx := errgroup.WithContext(context.Background())

	for range workers {
		g.Go(func() error {
			return runEncodeWorker(ctx, jobs, results, cfg.dynamicHuffman())
		})
	}

	stats := &Stats{}
	var producerBits int64
	producerBuilder := newBlockBuilder(cfg.BlockSize, cfg.recordAligned(), nil)
	g.Go(func() error {
		defer close(jobs)
		br := bitio.NewReader(bufio.NewReaderSize(r, cfg.BufferSize))
		producerBuilder.emit = func(blk outputBlock) error {
			select {
			case jobs <- blk:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		err := drive(br, producerBuilder, cfg.Verify)
		producerBits = br.BitPosition()
		return err
	})

	// Collector runs outside the group so closing results cannot race
	// with g.Wait.
	out := bufio.NewWriterSize(w, cfg.BufferSize)
	var collectorErr error
	collectorDone := make(chan struct{})
	go func() {
		defer close(collectorDone)
		collectorErr = collectBlocks(results, out, stats, idx)
	}()

	workerErr := g.Wait()
	close(results)
	<-collectorDone

	if workerErr != nil {
		return stats, workerErr
	}
	if collectorErr != nil {
		return stats, collectorErr
	}

	bw := bgzf.NewWriter(out)
	if err := bw.WriteEOF(); err != nil {
		return stats, err
	}
	stats.OutputBytes += uint64(len(bgzf.EOFBlock))
	stats.InputBytes = uint64(producerBits / 8)
	stats.RefsResolved = producerBuilder.refsResolved
	stats.RefsPreserved = producerBuilder.refsPreserved

	if err := out.Flush(); err != nil {
		return stats, errs.Wrap(errs.KindIO, err, "flushing output")
	}
	return stats, nil
}

// runEncodeWorker re-encodes blocks until the job channel drains. Errors
// travel with the result so the collector learns which block failed. Once
// the group context is cancelled, a worker returns on its next job without
// sending a result for it.
func runEncodeWorker(ctx context.Context, jobs <-chan outputBlock, results chan<- encodedBlock, dynamic bool) error {
	enc := deflate.NewBlockWriter(dynamic)
	for blk := range jobs {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		payload := encodeBlock(enc, blk)
		data, err := bgzf.AppendBlock(make([]byte, 0, bgzf.FramedSize(len(payload))), payload, blk.crc, blk.size)
		results <- encodedBlock{seq: blk.seq, data: data, size: blk.size, err: err}
		if err != nil {
			return err
		}
	}
	return nil
}

// collectBlocks writes encoded blocks in sequence order, parking
// out-of-order arrivals in a pending table. After a failure it keeps
// draining the channel so workers never block on a full results buffer.
func collectBlocks(results <-chan encodedBlock, w io.Writer, stats *Stats, idx *bgzf.IndexBuilder) error {
	pending := make(map[int]encodedBlock)
	next := 0
	var firstErr error

	for res := range results {
		if firstErr != nil {
			continue
		}
		if res.err != nil {
			firstErr = fmt.Errorf("encoding block %d: %w", res.seq, res.err)
			continue
		}
		pending[res.seq] = res

		for {
			blk, ok := pending[next]
			if !ok {
				break
			}
			if _, err := w.Write(blk.data); err != nil {
				firstErr = errs.Wrap(errs.KindIO, err, fmt.Sprintf("writing block %d", next))
				break
			}
			stats.BlocksWritten++
			stats.OutputBytes += uint64(len(blk.data))
			if idx != nil {
				idx.AddBlock(uint64(len(blk.data)), uint64(blk.size))
			}
			delete(pending, next)
			next++
		}
	}
	return firstErr
}
