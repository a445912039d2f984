// Command hintctl resolves query hints of statement files and runs their join
// sites against the hash table recycler.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"
	"github.com/wbrown/janus-recycler/sqlhint/annotations"
	"github.com/wbrown/janus-recycler/sqlhint/catalog"
	"github.com/wbrown/janus-recycler/sqlhint/config"
	"github.com/wbrown/janus-recycler/sqlhint/executor"
	"github.com/wbrown/janus-recycler/sqlhint/propagator"
	"github.com/wbrown/janus-recycler/sqlhint/recycler"
	"github.com/wbrown/janus-recycler/sqlhint/resolver"
)

func main() {
	if err := newRootCmd(os.Stdout).ExecuteContext(context.Background()); err != nil {
		log.Fatalf("hintctl: %v", err)
	}
}

type app struct {
	out        io.Writer
	configPath string
	dbPath     string
	verbose    bool

	cfg       config.Config
	collector *annotations.Collector
	formatter *executor.TableFormatter
}

func newRootCmd(out io.Writer) *cobra.Command {
	a := &app{out: out, formatter: executor.NewTableFormatter()}

	root := &cobra.Command{
		Use:           "hintctl",
		Short:         "Inspect query hints and the hash table recycler",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "YAML configuration file")
	root.PersistentFlags().StringVar(&a.dbPath, "db", "", "table generations database path (overrides config)")
	root.PersistentFlags().BoolVar(&a.verbose, "verbose", false, "print hint and recycler annotations to stderr")

	root.AddCommand(
		&cobra.Command{
			Use:   "resolve <statement.yaml>",
			Short: "Print the local hints of every final block and the global hints",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.resolve(args[0])
			},
		},
		&cobra.Command{
			Use:   "explain <statement.yaml>",
			Short: "Print every directive of every block and what became of it",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.explain(args[0])
			},
		},
		a.runCmd(),
	)
	return root
}

func (a *app) setup() error {
	a.cfg = config.Default()
	if a.configPath != "" {
		cfg, err := config.Load(a.configPath)
		if err != nil {
			return err
		}
		a.cfg = cfg
	}
	if a.dbPath != "" {
		a.cfg.Recycler.GenerationsPath = a.dbPath
	}
	if a.verbose {
		a.collector = annotations.NewCollector(annotations.NewOutputFormatter(os.Stderr).Handle)
	}
	return nil
}

func (a *app) propagator() *propagator.Propagator {
	return propagator.New(resolver.New(a.cfg.Defaults(), a.collector), a.collector)
}

func (a *app) resolve(path string) error {
	stmt, err := loadStatement(path)
	if err != nil {
		return err
	}
	hints := a.propagator().Propagate(stmt.source, stmt.final)
	fmt.Fprintln(a.out, a.formatter.FormatHints(hints))
	return nil
}

func (a *app) explain(path string) error {
	stmt, err := loadStatement(path)
	if err != nil {
		return err
	}
	p := a.propagator()
	for i, res := range p.ResolveBlocks(stmt.source) {
		fmt.Fprintf(a.out, "### %s\n\n", stmt.source.Blocks[i].Label)
		fmt.Fprintln(a.out, a.formatter.FormatResolution(res))
	}
	fmt.Fprintf(a.out, "_global: %s_\n", p.Global(stmt.source))
	return nil
}

func (a *app) openGenerations() (catalog.Generations, error) {
	if a.cfg.Recycler.GenerationsPath == "" {
		return catalog.NewMemoryGenerations(), nil
	}
	return catalog.OpenBadgerGenerations(a.cfg.Recycler.GenerationsPath)
}

func (a *app) runCmd() *cobra.Command {
	var repeat int
	var evict string
	var metrics bool

	cmd := &cobra.Command{
		Use:   "run <statement.yaml>",
		Short: "Execute the join sites of a statement with a synthetic hash table builder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd.Context(), args[0], repeat, evict, metrics)
		},
	}
	cmd.Flags().IntVar(&repeat, "repeat", 1, "number of times to run the statement")
	cmd.Flags().StringVar(&evict, "evict", "", "device to evict after the runs (cpu, gpuN)")
	cmd.Flags().BoolVar(&metrics, "metrics", false, "print the recycler metrics in the Prometheus text format")
	return cmd
}

func (a *app) run(ctx context.Context, path string, repeat int, evict string, metrics bool) error {
	if repeat < 1 {
		return errors.Newf("--repeat must be at least 1, got %d", repeat)
	}
	stmt, err := loadStatement(path)
	if err != nil {
		return err
	}
	for _, j := range stmt.joins {
		if int(j.device) > a.cfg.Executor.GPUsPresent {
			return errors.Newf("join in block %q wants %s but %d GPUs are present", j.block, j.device, a.cfg.Executor.GPUsPresent)
		}
	}

	gens, err := a.openGenerations()
	if err != nil {
		return err
	}
	defer gens.Close()
	for key, gen := range stmt.generations {
		if err := gens.SetGeneration(key, gen); err != nil {
			return err
		}
	}

	store := recycler.NewStore(a.collector)
	exec := executor.New(&syntheticBuilder{gens: gens}, recycler.NewKeyBuilder(gens), store, a.cfg.ExecutorOptions(), a.collector)
	p := a.propagator()

	for i := 0; i < repeat; i++ {
		hints := p.Propagate(stmt.source, stmt.final)
		sites, err := stmt.sites(hints)
		if err != nil {
			return err
		}
		if _, err := exec.Run(ctx, hints, sites); err != nil {
			return errors.Wrapf(err, "run %d", i+1)
		}
	}

	if evict != "" {
		device, err := recycler.ParseDevice(evict)
		if err != nil {
			return err
		}
		n, err := store.Evict(ctx, device)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "_evicted %d entries from %s_\n\n", n, device)
	}

	var entries []recycler.Entry
	for d := 0; d <= a.cfg.Executor.GPUsPresent; d++ {
		for _, item := range []recycler.CacheItemType{recycler.OverlapsHashTable, recycler.PerfectHashTable, recycler.BaselineHashTable} {
			entries = append(entries, store.Entries(item, recycler.DeviceID(d))...)
		}
	}
	fmt.Fprintln(a.out, a.formatter.FormatEntries(entries))
	fmt.Fprintln(a.out, a.formatter.FormatStats(store.Stats()))

	if metrics {
		return writeMetrics(a.out, store)
	}
	return nil
}

func writeMetrics(w io.Writer, store *recycler.Store) error {
	reg := prometheus.NewRegistry()
	if err := reg.Register(recycler.NewStoreCollector(store)); err != nil {
		return errors.Wrap(err, "registering recycler metrics")
	}
	families, err := reg.Gather()
	if err != nil {
		return errors.Wrap(err, "gathering recycler metrics")
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}
