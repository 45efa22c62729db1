package cli

import (
	"context"
	"fmt"

	flag "github.com/spf13/pflag"

	"github.com/sunilkgrao/mv2vault/vault"
)

// StatsCmd returns the stats command: print a vault's summary counters.
func StatsCmd() *Command {
	fs := flag.NewFlagSet("stats", flag.ContinueOnError)

	return &Command{
		Flags: fs,
		Usage: "stats <path>",
		Short: "Print vault summary stats",
		Exec: func(_ context.Context, o *IO, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("stats requires exactly one <path> argument")
			}

			v, err := vault.OpenReadOnly(args[0], vault.Options{})
			if err != nil {
				return fmt.Errorf("open %s: %w", args[0], err)
			}
			defer func() { _ = v.Close() }()

			s, err := v.Stats()
			if err != nil {
				return fmt.Errorf("stats: %w", err)
			}

			o.Printf("frames:           %d\n", s.FrameCount)
			o.Printf("generation:       %d\n", s.Generation)
			o.Printf("bytes:            %d\n", s.Bytes)
			o.Printf("lex index:        %v\n", s.HasLexIndex)
			o.Printf("vector index:     %v\n", s.HasVecIndex)
			o.Printf("clip index:       %v\n", s.HasClipIndex)
			o.Printf("temporal track:   %v\n", s.HasTemporal)
			o.Printf("mesh track:       %v\n", s.HasMesh)
			o.Printf("sketch track:     %v\n", s.HasSketch)
			o.Printf("distinct content: %d\n", s.DistinctContent)
			o.Printf("distinct tags:    %d\n", s.DistinctTags)
			return nil
		},
	}
}
