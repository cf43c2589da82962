// Package commands implements the argthread CLI subcommands.
package commands

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"golang.org/x/exp/rand"

	"github.com/bredelings/argweaver/internal/config"
	"github.com/bredelings/argweaver/pkg/localtree"
	"github.com/bredelings/argweaver/pkg/model"
	"github.com/bredelings/argweaver/pkg/seqs"
	"github.com/bredelings/argweaver/pkg/thread"
)

// threadOptions holds the thread command's flag values.
type threadOptions struct {
	configPath string
	sites      string
	fasta      string
	seed       uint64
	resamples  int
	maximize   bool
}

// NewThreadCommand returns the "thread" subcommand: it reads an alignment,
// seeds a two-chromosome ARG, threads the remaining chromosomes one at a
// time, and optionally resamples each thread.
func NewThreadCommand() *cobra.Command {
	opts := &threadOptions{}

	cmd := &cobra.Command{
		Use:   "thread",
		Short: "Build an ARG by threading chromosomes one at a time",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runThread(opts)
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "config file path")
	cmd.Flags().StringVar(&opts.sites, "sites", "", "sites alignment input")
	cmd.Flags().StringVar(&opts.fasta, "fasta", "", "FASTA alignment input")
	cmd.Flags().Uint64Var(&opts.seed, "seed", 0, "random seed (0 = clock)")
	cmd.Flags().IntVar(&opts.resamples, "resamples", 0, "per-chromosome resampling rounds")
	cmd.Flags().BoolVar(&opts.maximize, "max", false, "use Viterbi threading instead of sampling")

	return cmd
}

func runThread(opts *threadOptions) error {
	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		return err
	}

	// flags override the config file
	if opts.sites != "" {
		cfg.Sites = opts.sites
	}
	if opts.fasta != "" {
		cfg.Fasta = opts.fasta
	}
	if opts.seed != 0 {
		cfg.Seed = opts.seed
	}
	if opts.resamples != 0 {
		cfg.Resamples = opts.resamples
	}

	sequences, err := loadAlignment(cfg)
	if err != nil {
		return err
	}

	if sequences.NSeqs() < 3 {
		return fmt.Errorf("need at least 3 sequences to thread, got %d", sequences.NSeqs())
	}

	m := model.New(cfg.Model.Ntimes, cfg.Model.Maxtime, cfg.Model.Popsize,
		cfg.Model.Rho, cfg.Model.Mu)
	if err := m.Validate(); err != nil {
		return fmt.Errorf("model: %w", err)
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	rng := rand.New(rand.NewSource(seed))

	slog.Info("threading",
		"sequences", sequences.NSeqs(),
		"sites", humanize.Comma(int64(sequences.Length())),
		"seed", seed)

	// seed the ARG with the first two chromosomes coalescing mid-grid
	trees := localtree.NewLocalTrees(0, sequences.Length())
	trees.Blocks = []*localtree.LocalTreeSpr{{
		Tree:     localtree.MakeTwoLeafTree(m.NTimes() / 2),
		Blocklen: sequences.Length(),
	}}

	threadStart := time.Now()
	for chrom := 2; chrom < sequences.NSeqs(); chrom++ {
		if opts.maximize {
			err = thread.MaxArgThread(m, sequences, trees, chrom)
		} else {
			err = thread.SampleArgThread(m, sequences, trees, chrom, rng)
		}
		if err != nil {
			return fmt.Errorf("thread chromosome %d: %w", chrom, err)
		}

		slog.Debug("chromosome threaded", "chrom", chrom, "blocks", trees.NumTrees())
	}
	threadElapsed := time.Since(threadStart)

	resampleStart := time.Now()
	for round := 0; round < cfg.Resamples; round++ {
		for chrom := 2; chrom < sequences.NSeqs(); chrom++ {
			if err := thread.ResampleArgThread(m, sequences, trees, chrom, rng); err != nil {
				return fmt.Errorf("resample round %d chromosome %d: %w", round, chrom, err)
			}
		}
	}
	resampleElapsed := time.Since(resampleStart)

	printSummary(sequences, trees, threadElapsed, resampleElapsed, cfg.Resamples)

	return nil
}

func loadAlignment(cfg *config.Config) (*seqs.Sequences, error) {
	switch {
	case cfg.Sites != "":
		sites, err := seqs.ReadSitesFile(cfg.Sites)
		if err != nil {
			return nil, err
		}

		return seqs.MakeSequencesFromSites(sites, 'A'), nil

	case cfg.Fasta != "":
		return seqs.ReadFastaFile(cfg.Fasta)

	default:
		return nil, fmt.Errorf("no alignment input: set --sites or --fasta")
	}
}

func printSummary(sequences *seqs.Sequences, trees *localtree.LocalTrees,
	threadElapsed, resampleElapsed time.Duration, resamples int) {

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Phase", "Result", "Elapsed"})
	t.AppendRows([]table.Row{
		{"thread", fmt.Sprintf("%d chromosomes, %s blocks",
			sequences.NSeqs(), humanize.Comma(int64(trees.NumTrees()))), threadElapsed.Round(time.Millisecond)},
		{"resample", fmt.Sprintf("%d rounds", resamples), resampleElapsed.Round(time.Millisecond)},
	})
	t.AppendFooter(table.Row{"total", fmt.Sprintf("%s recombinations",
		humanize.Comma(int64(trees.NumTrees() - 1))), (threadElapsed + resampleElapsed).Round(time.Millisecond)})
	t.Render()
}
