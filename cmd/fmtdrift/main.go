package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jessevdk/go-flags"

	"fmtdrift/internal/cli"
	"fmtdrift/internal/logging"
	"fmtdrift/internal/pipeline"
	"fmtdrift/internal/stopsig"
)

func main() {
	opts, err := cli.Parse(os.Args[1:])
	if err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			fmt.Println(flagsErr.Message)
			os.Exit(cli.ExitSuccess)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.ExitInvalidInvocation)
	}
	if err := logging.Setup(opts.Verbosity); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.ExitInvalidInvocation)
	}

	os.Exit(run(opts.PipelineConfig()))
}

// run drives the pipeline against interrupt handling: the first interrupt
// requests a graceful stop, a second one halts immediately.
func run(cfg pipeline.Config) int {
	interrupts := make(chan os.Signal, 2)
	signal.Notify(interrupts, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(interrupts)

	stopSend, stopRecv := stopsig.Pair()
	runDone := make(chan error, 1)
	go func() {
		runDone <- pipeline.Run(context.Background(), cfg, stopRecv)
	}()

	stopping := false
	for {
		select {
		case err := <-runDone:
			if err != nil {
				fmt.Fprintf(os.Stderr, "fmtdrift run failed: %v\n", err)
				return cli.ExitRunFailure
			}
			return cli.ExitSuccess
		case <-interrupts:
			if stopping {
				fmt.Fprintln(os.Stderr, "received second interrupt, halting immediately")
				return cli.ExitRunFailure
			}
			stopping = true
			fmt.Fprintln(os.Stderr, "received interrupt, attempting graceful shutdown, interrupt again to force stop")
			go stopSend.Stop(context.Background())
		}
	}
}
