package main

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"time"

	"github.com/facebookincubator/go-belt"
	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/facebookincubator/go-belt/tool/logger/implementation/logrus"
	"github.com/spf13/pflag"
	"github.com/xaionaro-go/avtranscode/config"
	"github.com/xaionaro-go/avtranscode/libav"
	avlogger "github.com/xaionaro-go/avtranscode/logger"
	"github.com/xaionaro-go/avtranscode/pipeline"
	"github.com/xaionaro-go/observability"
	"golang.org/x/sys/unix"
)

func main() {
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "syntax: %s [--config job.yaml] [-i URL ...] [options]\n", os.Args[0])
		pflag.PrintDefaults()
	}

	flags := config.NewFlags()
	flags.AddTo(pflag.CommandLine)
	netPprofAddr := pflag.String("net-pprof-listen-addr", "", "an address to listen for incoming net/pprof connections")
	pflag.Parse()

	cfg, err := flags.Config()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		pflag.Usage()
		os.Exit(1)
	}

	loggerLevel, err := avlogger.ParseLevel(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	l := logrus.Default().WithLevel(loggerLevel)
	ctx := logger.CtxWithLogger(context.Background(), l)
	logger.Default = func() logger.Logger {
		return l
	}
	defer belt.Flush(ctx)

	if *netPprofAddr != "" {
		observability.Go(ctx, func(ctx context.Context) { l.Error(http.ListenAndServe(*netPprofAddr, nil)) })
	}

	libav.RedirectLogs(l)

	job, err := pipeline.New(ctx, cfg, pipeline.LibAV{}, pipeline.Options{})
	if err != nil {
		l.Fatal(err)
	}

	runCtx, cancelFn := context.WithCancel(ctx)
	defer cancelFn()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, unix.SIGTERM)
	observability.Go(ctx, func(ctx context.Context) {
		sig, ok := <-sigCh
		if !ok {
			return
		}
		l.Warnf("received %v, stopping", sig)
		cancelFn()
	})

	runErr := job.Run(runCtx)
	signal.Stop(sigCh)
	close(sigCh)

	fmt.Print(job.Summary(ctx))
	if cfg.Benchmark {
		printBenchmark()
	}
	job.Close(ctx)
	if runErr != nil {
		belt.Flush(ctx)
		os.Exit(1)
	}
}

func printBenchmark() {
	var usage unix.Rusage
	if err := unix.Getrusage(unix.RUSAGE_SELF, &usage); err != nil {
		fmt.Fprintf(os.Stderr, "unable to get the resource usage: %v\n", err)
		return
	}
	utime := time.Duration(usage.Utime.Nano())
	stime := time.Duration(usage.Stime.Nano())
	fmt.Printf("bench: utime=%.3fs stime=%.3fs maxrss=%dKiB\n", utime.Seconds(), stime.Seconds(), usage.Maxrss)
}
