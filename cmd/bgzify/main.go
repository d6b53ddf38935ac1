// bgzify converts gzip streams into BGZF without full recompression, so
// bioinformatics tools can random-access the result.
package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli"
	"github.com/vbauerster/mpb"
	"github.com/vbauerster/mpb/decor"

	"github.com/vertti/bgzify/internal/bgzf"
	"github.com/vertti/bgzify/internal/errs"
	"github.com/vertti/bgzify/internal/transcode"
)

var version = "dev"

// Exit codes.
const (
	exitSuccess    = 0
	exitMalformed  = 1
	exitIO         = 2
	exitUsage      = 3
	exitValidation = 4
)

// errNotBgzf marks a negative --check / --verify result.
var errNotBgzf = errors.New("input is not valid BGZF")

func main() {
	log.SetOutput(os.Stderr)
	log.SetFormatter(&log.TextFormatter{DisableTimestamp: true})

	app := newApp()
	if err := app.Run(os.Args); err != nil {
		if !errors.Is(err, errNotBgzf) {
			log.Error(err)
		}
		os.Exit(exitCode(err))
	}
}

func newApp() *cli.App {
	// -v is taken by the verbose flag.
	cli.VersionFlag = cli.BoolFlag{Name: "version", Usage: "print the version"}

	app := cli.NewApp()
	app.Name = "bgzify"
	app.Usage = "convert gzip files to BGZF without recompressing"
	app.Version = version
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "input, i", Usage: "input gzip file (- for stdin)", Value: "-"},
		cli.StringFlag{Name: "output, o", Usage: "output BGZF file (- for stdout)", Value: "-"},
		cli.IntFlag{Name: "level, l", Usage: "compression level 1-9", Value: 1},
		cli.IntFlag{Name: "threads, t", Usage: "worker threads (0 = auto, 1 = single-threaded)", Value: 1},
		cli.IntFlag{Name: "block-size", Usage: "uncompressed bytes per BGZF block", Value: bgzf.DefaultBlockSize},
		cli.StringFlag{Name: "format", Usage: "input profile: default, fastq or auto", Value: "default"},
		cli.BoolFlag{Name: "index", Usage: "write a GZI sidecar next to the output"},
		cli.StringFlag{Name: "index-path", Usage: "write the GZI sidecar to `PATH`"},
		cli.BoolFlag{Name: "check", Usage: "report whether the input is already BGZF and exit"},
		cli.BoolFlag{Name: "strict", Usage: "with --check, walk every block instead of the first"},
		cli.BoolFlag{Name: "verify", Usage: "validate checksums (alone: of a BGZF input; with a transcode: of each gzip member)"},
		cli.BoolFlag{Name: "stats", Usage: "print BGZF block statistics without transcoding"},
		cli.BoolFlag{Name: "force", Usage: "transcode even when the input is already BGZF"},
		cli.BoolFlag{Name: "progress, p", Usage: "show transcoding progress"},
		cli.BoolFlag{Name: "json", Usage: "emit results as JSON on stdout"},
		cli.BoolFlag{Name: "verbose, v", Usage: "debug logging"},
		cli.BoolFlag{Name: "quiet, q", Usage: "errors only"},
	}
	app.Action = run
	return app
}

func run(c *cli.Context) error {
	switch {
	case c.Bool("verbose"):
		log.SetLevel(log.DebugLevel)
	case c.Bool("quiet"):
		log.SetLevel(log.ErrorLevel)
	}

	switch {
	case c.Bool("check"):
		return runCheck(c)
	case c.Bool("stats"):
		return runStats(c)
	case c.Bool("verify") && c.String("output") == "-" && !outputRequested(c):
		return runVerify(c)
	default:
		return runTranscode(c)
	}
}

// outputRequested reports whether the user explicitly asked for transcoded
// output, which turns --verify into a transcode-time trailer check.
func outputRequested(c *cli.Context) bool {
	return c.IsSet("output") || c.IsSet("o")
}

func runCheck(c *cli.Context) error {
	in, closeIn, err := openInput(c.String("input"))
	if err != nil {
		return err
	}
	defer closeIn()

	if c.Bool("strict") {
		v, err := bgzf.Validate(in)
		if err != nil {
			return err
		}
		reportCheck(c, v.Valid, v)
		if !v.Valid {
			return errNotBgzf
		}
		return nil
	}

	ok, err := bgzf.Sniff(in)
	if err != nil {
		return err
	}
	reportCheck(c, ok, nil)
	if !ok {
		return errNotBgzf
	}
	return nil
}

func runStats(c *cli.Context) error {
	in, closeIn, err := openInput(c.String("input"))
	if err != nil {
		return err
	}
	defer closeIn()

	v, err := bgzf.Validate(in)
	if err != nil {
		return err
	}
	if !v.Valid {
		reportCheck(c, false, v)
		return errNotBgzf
	}
	if c.Bool("json") {
		return printJSON(map[string]any{
			"valid":          v.Valid,
			"blocks":         v.Blocks,
			"uncompressed":   v.Uncompressed,
			"has_terminator": v.HasTerminator,
		})
	}
	log.Infof("valid BGZF: %d blocks, %s uncompressed",
		v.Blocks, humanize.IBytes(v.Uncompressed))
	return nil
}

func runVerify(c *cli.Context) error {
	in, closeIn, err := openInput(c.String("input"))
	if err != nil {
		return err
	}
	defer closeIn()

	v, err := bgzf.Verify(in)
	if err != nil {
		switch errs.KindOf(err) {
		case errs.KindCRCMismatch, errs.KindSizeMismatch, errs.KindMalformedDeflate:
			log.Error(err)
			return errNotBgzf
		}
		return err
	}
	if !v.Valid {
		reportCheck(c, false, v)
		return errNotBgzf
	}
	if c.Bool("json") {
		return printJSON(map[string]any{
			"valid":        true,
			"blocks":       v.Blocks,
			"uncompressed": v.Uncompressed,
		})
	}
	log.Infof("verified %d blocks, %s uncompressed",
		v.Blocks, humanize.IBytes(v.Uncompressed))
	return nil
}

func reportCheck(c *cli.Context, ok bool, v *bgzf.Validation) {
	if c.Bool("json") {
		out := map[string]any{"bgzf": ok}
		if v != nil {
			out["blocks"] = v.Blocks
			out["uncompressed"] = v.Uncompressed
		}
		_ = printJSON(out)
		return
	}
	if ok {
		log.Info("input is BGZF")
	} else {
		log.Info("input is not BGZF")
	}
}

func runTranscode(c *cli.Context) error {
	cfg, err := buildConfig(c)
	if err != nil {
		return err
	}

	inputPath := c.String("input")
	outputPath := c.String("output")

	in, closeIn, err := openInput(inputPath)
	if err != nil {
		return err
	}
	defer closeIn()

	out, closeOut, err := openOutput(outputPath)
	if err != nil {
		return err
	}
	commit := false
	defer func() { closeOut(commit) }()

	// Already-BGZF inputs pass through untouched unless forced.
	if !c.Bool("force") {
		ok, err := bgzf.Sniff(in)
		if err != nil {
			return err
		}
		if ok {
			n, err := io.Copy(out, in)
			if err != nil {
				return errs.Wrap(errs.KindIO, err, "copying bgzf input")
			}
			commit = true
			log.Debugf("input already BGZF, copied %d bytes", n)
			return report(c, &transcode.Stats{
				InputBytes:     uint64(n),
				OutputBytes:    uint64(n),
				CopiedDirectly: true,
			}, cfg, 0)
		}
	}

	var idx *bgzf.IndexBuilder
	indexPath := c.String("index-path")
	if c.Bool("index") || indexPath != "" {
		if indexPath == "" {
			if outputPath == "-" {
				return errs.New(errs.KindConfig, "--index needs --index-path when writing to stdout")
			}
			indexPath = outputPath + ".gzi"
		}
		idx = bgzf.NewIndexBuilder()
	}

	reader, finishProgress := wrapProgress(c, in, inputPath)

	start := time.Now()
	stats, err := transcode.TranscodeIndexed(reader, out, cfg, idx)
	finishProgress()
	if err != nil {
		return err
	}
	commit = true
	elapsed := time.Since(start)

	if idx != nil {
		if err := writeIndex(idx, indexPath); err != nil {
			return err
		}
		log.Debugf("wrote %d index entries to %s", idx.Len(), indexPath)
	}

	return report(c, stats, cfg, elapsed)
}

func buildConfig(c *cli.Context) (transcode.Config, error) {
	cfg := transcode.Config{
		Level:     c.Int("level"),
		BlockSize: c.Int("block-size"),
		Threads:   c.Int("threads"),
		Verify:    c.Bool("verify"),
	}
	switch c.String("format") {
	case "default", "":
		cfg.Format = transcode.FormatDefault
	case "fastq":
		cfg.Format = transcode.FormatFASTQ
	case "auto":
		name := strings.ToLower(c.String("input"))
		if strings.HasSuffix(name, ".fastq.gz") || strings.HasSuffix(name, ".fq.gz") {
			cfg.Format = transcode.FormatFASTQ
		}
	default:
		return cfg, errs.New(errs.KindConfig, "unknown format %q", c.String("format"))
	}
	return cfg, cfg.Validate()
}

func report(c *cli.Context, stats *transcode.Stats, cfg transcode.Config, elapsed time.Duration) error {
	if c.Bool("json") {
		return printJSON(map[string]any{
			"stats":      stats,
			"level":      cfg.Level,
			"threads":    cfg.Threads,
			"block_size": cfg.BlockSize,
			"elapsed_ms": elapsed.Milliseconds(),
		})
	}
	if stats.CopiedDirectly {
		log.Infof("already BGZF, copied %s unchanged", humanize.IBytes(stats.InputBytes))
		return nil
	}
	ratio := 0.0
	if stats.InputBytes > 0 {
		ratio = float64(stats.OutputBytes) / float64(stats.InputBytes)
	}
	log.Infof("%s in, %s out (%.2fx) in %d blocks, %s",
		humanize.IBytes(stats.InputBytes), humanize.IBytes(stats.OutputBytes),
		ratio, stats.BlocksWritten, elapsed.Round(time.Millisecond))
	log.Debugf("boundary refs literalized: %d, preserved: %d",
		stats.RefsResolved, stats.RefsPreserved)
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// wrapProgress attaches a progress bar to the input when requested and the
// input size is knowable.
func wrapProgress(c *cli.Context, in *bufio.Reader, path string) (io.Reader, func()) {
	if !c.Bool("progress") || path == "-" {
		return in, func() {}
	}
	fi, err := os.Stat(path)
	if err != nil || fi.Size() == 0 {
		return in, func() {}
	}

	p := mpb.New(mpb.WithWidth(64), mpb.WithOutput(os.Stderr))
	bar := p.AddBar(fi.Size(),
		mpb.PrependDecorators(decor.CountersKibiByte("% .1f / % .1f")),
		mpb.AppendDecorators(decor.Percentage()),
	)
	return bar.ProxyReader(in), func() {
		if !bar.Completed() {
			bar.SetTotal(fi.Size(), true)
		}
		p.Wait()
	}
}

func openInput(path string) (*bufio.Reader, func(), error) {
	if path == "" || path == "-" {
		return bufio.NewReaderSize(os.Stdin, transcode.DefaultBufferSize), func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, errs.Wrap(errs.KindIO, err, "opening input")
	}
	return bufio.NewReaderSize(f, transcode.DefaultBufferSize), func() { _ = f.Close() }, nil
}

// openOutput opens the output sink. The returned close function removes a
// newly created file again when the run did not commit, so a failed
// transcode leaves no partial output behind.
func openOutput(path string) (io.Writer, func(commit bool), error) {
	if path == "" || path == "-" {
		bw := bufio.NewWriterSize(os.Stdout, transcode.DefaultBufferSize)
		return bw, func(bool) { _ = bw.Flush() }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, errs.Wrap(errs.KindIO, err, "creating output")
	}
	return f, func(commit bool) {
		_ = f.Close()
		if !commit {
			_ = os.Remove(path)
		}
	}, nil
}

func writeIndex(idx *bgzf.IndexBuilder, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return errs.Wrap(errs.KindIO, err, "creating index")
	}
	if _, err := idx.WriteTo(f); err != nil {
		_ = f.Close()
		return errs.Wrap(errs.KindIO, err, "writing index")
	}
	if err := f.Close(); err != nil {
		return errs.Wrap(errs.KindIO, err, "closing index")
	}
	return nil
}

// exitCode maps an error to the process exit code.
func exitCode(err error) int {
	if err == nil {
		return exitSuccess
	}
	if errors.Is(err, errNotBgzf) {
		return exitValidation
	}
	switch errs.KindOf(err) {
	case errs.KindMalformedGzip, errs.KindMalformedDeflate, errs.KindTruncated, errs.KindBlockTooLarge:
		return exitMalformed
	case errs.KindIO:
		return exitIO
	case errs.KindConfig:
		return exitUsage
	case errs.KindCRCMismatch, errs.KindSizeMismatch:
		return exitValidation
	default:
		return exitUsage
	}
}
