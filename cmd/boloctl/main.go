// Boloctl is the command-line client for a running bolod instance. It
// connects over HTTP and WebSocket to query the instrument, start jobs and
// stream live events from the daemon.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/large-farva/bolometric-engine/internal/ctl"
)

func main() {
	var (
		host    = pflag.StringP("host", "H", "http://127.0.0.1:8080", "Bolometric daemon URL (e.g. http://10.0.0.5:8080)")
		jsonOut = pflag.Bool("json", false, "Output raw JSON instead of formatted text")
		filter  = pflag.StringSlice("filter", nil, "Event types to show in watch (e.g. --filter state,progress)")
	)

	// Stop parsing global flags at the first non-flag argument (the command
	// name), so subcommand-specific flags like --detector are not rejected.
	pflag.CommandLine.SetInterspersed(false)
	pflag.Parse()

	if pflag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	cmd := pflag.Arg(0)
	subArgs := pflag.Args()[1:]

	var err error
	switch cmd {
	// ── Query commands ────────────────────────────────────────────
	case "status":
		err = ctl.Status(*host, *jsonOut)

	case "health":
		err = ctl.Health(*host, *jsonOut)

	case "version":
		err = ctl.VersionInfo(*host, *jsonOut)

	case "config":
		err = ctl.Config(*host, *jsonOut)

	case "peaks":
		opts := ctl.PeaksOptions{JSON: *jsonOut}
		peakFlags := pflag.NewFlagSet("peaks", pflag.ContinueOnError)
		peakFlags.IntVarP(&opts.Detector, "detector", "d", 0, "Detector index")
		peakFlags.BoolVar(&opts.All, "all", false, "Include padding slots past the required count")
		peakFlags.BoolVar(&opts.Direct, "direct", false, "Compare with the horn-sum beam (slow)")
		if err := peakFlags.Parse(subArgs); err != nil {
			os.Exit(2)
		}
		err = ctl.Peaks(*host, opts)

	case "operators":
		err = ctl.Operators(*host, *jsonOut)

	// ── Job commands ──────────────────────────────────────────────
	case "nep":
		opts := ctl.NEPOptions{JSON: *jsonOut}
		nepFlags := pflag.NewFlagSet("nep", pflag.ContinueOnError)
		nepFlags.BoolVar(&opts.Detail, "detail", false, "Show the contribution of every emitter")
		if err := nepFlags.Parse(subArgs); err != nil {
			os.Exit(2)
		}
		err = ctl.NEP(*host, opts)

	case "build":
		err = ctl.Build(*host, *jsonOut)

	case "pause":
		err = ctl.Pause(*host, *jsonOut)

	case "resume":
		err = ctl.Resume(*host, *jsonOut)

	case "cancel":
		err = ctl.Cancel(*host, *jsonOut)

	// ── Live streaming ────────────────────────────────────────────
	case "watch":
		opts := ctl.WatchOptions{JSON: *jsonOut}
		watchFlags := pflag.NewFlagSet("watch", pflag.ContinueOnError)
		watchFlags.StringSliceVar(&opts.Filter, "filter", *filter, "Event types to show")
		if err := watchFlags.Parse(subArgs); err != nil {
			os.Exit(2)
		}
		err = ctl.Watch(*host, opts)

	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Print(`
  boloctl: Bolometric Engine control CLI

  USAGE
    boloctl [flags] <command> [command-flags]

  COMMANDS (query)
    status          Show daemon state, instrument summary and last results
    health          Check daemon liveness
    version         Show CLI and daemon version information
    config          Show the daemon's running configuration
    peaks           List the retained synthetic-beam peaks of a detector
    operators       Show aperture, filter and per-detector scalings

  COMMANDS (jobs)
    nep             Evaluate the photon noise of every detector
    build           Build the projection operator for the configured sampling
    pause           Refuse new jobs
    resume          Accept jobs again
    cancel          Abort the running job

  COMMANDS (live)
    watch           Stream live events from the daemon (Ctrl-C to stop)

  GLOBAL FLAGS
    -H, --host URL      Daemon base URL (default: http://127.0.0.1:8080)
        --json          Output raw JSON instead of formatted text
        --filter TYPE   Event types to show in watch (comma-separated)

  COMMAND FLAGS
    peaks:
        -d, --detector N    Detector index (default: 0)
            --all           Include padding slots
            --direct        Add the horn-sum beam at each peak

    nep:
        --detail            Per-emitter breakdown

    watch:
        --filter TYPE       Same as the global flag

  EXAMPLES
    boloctl status
    boloctl --json nep --detail
    boloctl peaks -d 12
    boloctl peaks -d 3 --direct
    boloctl build
    boloctl --host http://10.0.0.5:8080 watch --filter progress,build_done
    boloctl cancel

`)
}
