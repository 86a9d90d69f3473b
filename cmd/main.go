package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/peterbourgon/ff/v3"
	"github.com/peterbourgon/ff/v3/ffcli"
	"k8s.io/klog/v2"

	"github.com/lutaod/memhog/internal/balloon"
	"github.com/lutaod/memhog/internal/config"
	"github.com/lutaod/memhog/internal/coreset"
	"github.com/lutaod/memhog/internal/oomadj"
	"github.com/lutaod/memhog/internal/worker"
)

const appName = "memhog"

func main() {
	// Handle "worker" argument, which signals that current process was
	// spawned by the orchestrator and should run a single stress worker
	if len(os.Args) > 1 && os.Args[1] == worker.ChildArg {
		workerFlagSet := flag.NewFlagSet(worker.ChildArg, flag.ExitOnError)
		klog.InitFlags(workerFlagSet)
		workerFlagSet.Parse(os.Args[2:])

		if err := worker.RunChild(); err != nil {
			fatal(err)
		}
		klog.Flush()
		return
	}

	// Definitions related to balloon command
	balloonFlagSet := flag.NewFlagSet("balloon", flag.ContinueOnError)

	balloonScore := balloonFlagSet.Int("oom-score", config.DefaultOOMScore, "oom_score_adj of the balloon process")

	balloonCmd := &ffcli.Command{
		Name:       "balloon",
		ShortUsage: "memhog balloon [-oom-score N]",
		ShortHelp:  "Set oom_score_adj and idle until terminated",
		FlagSet:    balloonFlagSet,
		Exec: func(ctx context.Context, args []string) error {
			if len(args) != 0 {
				return fmt.Errorf("'memhog balloon' accepts no arguments")
			}

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return balloon.Run(ctx, oomadj.Path(), *balloonScore)
		},
	}

	// Definitions related to root command
	rootFlagSet := flag.NewFlagSet(appName, flag.ContinueOnError)

	cfg := config.New()
	cfg.RegisterFlags(rootFlagSet)

	rootFlagSet.String("config", "", "Config file with one \"flag value\" per line (optional)")

	klog.InitFlags(rootFlagSet)

	root := &ffcli.Command{
		Name:       appName,
		ShortUsage: "memhog [-anon-mem SIZE] [-file-mem SIZE -file-path PATH] [-cpus LIST] [-t N] [-oom-score N] [-l N] [-r SIZE] [-dry-run] [COMMAND]",
		ShortHelp:  "memhog generates controlled memory and CPU pressure",
		LongHelp: "Spawns workers that repeatedly touch every page of a heap or file-backed region\n" +
			"and burn CPU per page, optionally pinned to cores. With -cpus, -t workers of each\n" +
			"mode are spawned on every listed core. Sizes accept a b/k/m/g suffix. Every flag\n" +
			"can also be set through MEMHOG_<FLAG> environment variables.",
		FlagSet:     rootFlagSet,
		Subcommands: []*ffcli.Command{balloonCmd},
		Options: []ff.Option{
			ff.WithEnvVarPrefix("MEMHOG"),
			ff.WithConfigFileFlag("config"),
			ff.WithConfigFileParser(ff.PlainParser),
		},
		Exec: func(ctx context.Context, args []string) error {
			if len(args) != 0 {
				return fmt.Errorf("'%s' is not a memhog command.\nSee 'memhog -h'", args[0])
			}

			return run(cfg, rootFlagSet)
		},
	}

	if err := root.ParseAndRun(context.Background(), os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fatal(err)
	}
	klog.Flush()
}

var onlineCores = coreset.Online

// onlineCount returns how many core ids are addressable on this host. The
// kernel's online list covers hosts with offline cores, which NumCPU
// undercounts.
func onlineCount() int {
	n, err := onlineCores()
	if err != nil {
		klog.V(1).InfoS("Falling back to NumCPU for online cores", "err", err)
		return runtime.NumCPU()
	}
	return n
}

// run validates cfg and starts the worker fleet, or prints the setup when
// -dry-run is given.
func run(cfg *config.Config, fs *flag.FlagSet) error {
	cores, err := coreset.Parse(cfg.CPUs, onlineCount())
	if err != nil {
		return err
	}

	if cfg.DryRun {
		specs := worker.Plan(cfg.Templates(), cores, cfg.Replicas)
		cfg.Print(os.Stdout, cores, len(specs))
		return nil
	}

	if err := cfg.Validate(os.Getpagesize()); err != nil {
		return err
	}

	return worker.Start(cfg, cores, worker.NewExecSpawner(childArgs(fs)...))
}

// childArgs returns the logging flags forwarded to worker processes.
func childArgs(fs *flag.FlagSet) []string {
	var args []string
	if f := fs.Lookup("v"); f != nil {
		args = append(args, "-v="+f.Value.String())
	}
	return args
}

func fatal(err error) {
	klog.ErrorS(err, "memhog failed")
	klog.FlushAndExit(klog.ExitFlushTimeout, 1)
}
