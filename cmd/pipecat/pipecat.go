// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Program pipecat copies a file to stdout through a data pipe.
//
// Usage:
//
//	pipecat [flags] [file]
//
// The input is read by a data source and sent over an in-memory channel to a
// receiver, with the two ends joined by a JSON-RPC control link. This is
// mainly useful for exercising the datapipe packages: the --fail-at flag
// injects a source error at a chosen offset, to show how errors are delivered
// in stream order.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/creachadair/datapipe"
	"github.com/creachadair/datapipe/channel"
	"github.com/creachadair/datapipe/code"
	"github.com/creachadair/datapipe/control"
	"github.com/creachadair/datapipe/metrics"
	jchannel "github.com/creachadair/jrpc2/channel"
	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/alecthomas/kingpin.v2"
)

var (
	inputPath = kingpin.Arg("file", "Input file (default stdin)").String()
	bufSize   = kingpin.Flag("buffer", "Channel buffer size in bytes").Short('b').Default("65536").Int()
	chunkSize = kingpin.Flag("chunk", "Source read size in bytes").Default("4096").Int()
	failAt    = kingpin.Flag("fail-at", "Inject a source error at this offset (negative for none)").Default("-1").Int64()
	failCode  = kingpin.Flag("fail-code", "Error code for the injected error").Default("1").Int32()
	keepGoing = kingpin.Flag("continue", "Resume the stream after source errors").Short('c').Bool()
	doVerbose = kingpin.Flag("verbose", "Enable verbose logging").Short('v').Bool()
	showStats = kingpin.Flag("stats", "Print transfer statistics to stderr").Bool()
	httpAddr  = kingpin.Flag("metrics-addr", "Serve Prometheus metrics at this address while copying").String()
)

func main() {
	kingpin.Version("0.1.0")
	kingpin.Parse()
	log.SetPrefix("[pipecat] ")

	var input io.Reader = os.Stdin
	if *inputPath != "" && *inputPath != "-" {
		f, err := os.Open(*inputPath)
		if err != nil {
			log.Fatalf("Opening input: %v", err)
		}
		defer f.Close()
		input = f
	}
	if *failAt >= 0 {
		input = &faultReader{r: input, at: uint64(*failAt), code: code.Code(*failCode)}
	}

	var lg datapipe.Logger
	if *doVerbose {
		lg = datapipe.StdLogger(log.New(os.Stderr, "[pipecat] ", log.LstdFlags|log.Lmicroseconds))
	}
	m := metrics.New()
	if *httpAddr != "" {
		go serveMetrics(*httpAddr, m)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	var reg channel.Registry
	cch, sch := jchannel.Direct()
	src := control.NewSource(&reg, input, &control.SourceOptions{
		ChunkSize: *chunkSize,
		Logger:    lg,
		Metrics:   m,
	})
	srv := control.Serve(src, sch, nil)
	link := control.NewLink(cch, &control.LinkOptions{Logger: lg})

	rcv, err := datapipe.Open(ctx, &reg, link, &datapipe.ReceiverOptions{
		BufferSize: *bufSize,
		Logger:     lg,
		Metrics:    m,
	})
	if err != nil {
		log.Fatalf("Opening pipe: %v", err)
	}

	start := time.Now()
	cerr := copyStream(ctx, os.Stdout, datapipe.NewReader(ctx, rcv))
	elapsed := time.Since(start)

	rcv.Close()
	src.Stop()
	if err := src.Wait(); err != nil && *doVerbose {
		log.Printf("Source stopped: %v", err)
	}
	srv.Wait()
	link.Wait()

	if *showStats {
		printStats(m, elapsed)
	}
	if cerr != nil {
		log.Fatalf("Copy failed: %v", cerr)
	}
}

// copyStream copies rd to w. Source errors are reported to stderr; unless
// --continue is set, the first one ends the copy.
func copyStream(ctx context.Context, w io.Writer, rd io.Reader) error {
	for {
		_, err := io.Copy(w, rd)
		if err == nil || ctx.Err() != nil {
			return err
		}
		var e *datapipe.Error
		if !errors.As(err, &e) || e.Fatal() || !*keepGoing {
			return err
		}
		log.Printf("Source error at offset %d: %v (continuing)", e.Offset(), e.Code())
	}
}

func printStats(m *metrics.M, elapsed time.Duration) {
	snap := m.Snapshot()
	nb := snap.Counter["bytes_received"]
	rate := float64(nb) / elapsed.Seconds()
	fmt.Fprintf(os.Stderr, "received %s in %d reads (largest %s), %s/s over %v\n",
		humanize.IBytes(uint64(nb)), snap.Counter["reads"],
		humanize.IBytes(uint64(snap.MaxValue["read_size"])),
		humanize.IBytes(uint64(rate)), elapsed.Round(time.Millisecond))
	fmt.Fprintf(os.Stderr, "source errors: %d reported, %d delivered; resumes: %d\n",
		snap.Counter["errors_reported"], snap.Counter["errors_delivered"], snap.Counter["resumes"])
}

// serveMetrics exports m to Prometheus over HTTP at addr.
func serveMetrics(addr string, m *metrics.M) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(metrics.NewCollector(m, "pipecat"))
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Printf("Metrics server failed: %v", err)
	}
}

// faultReader reports a single error with the given code when the stream
// reaches offset at, and otherwise passes reads through to r.
type faultReader struct {
	r     io.Reader
	at    uint64
	code  code.Code
	pos   uint64
	fired bool
}

func (f *faultReader) Read(p []byte) (int, error) {
	if !f.fired {
		if f.pos == f.at {
			f.fired = true
			return 0, f
		} else if left := f.at - f.pos; uint64(len(p)) > left {
			p = p[:left]
		}
	}
	n, err := f.r.Read(p)
	f.pos += uint64(n)
	return n, err
}

func (f *faultReader) Code() code.Code { return f.code }
func (f *faultReader) Error() string   { return fmt.Sprintf("injected fault at offset %d", f.at) }
