package cli

import (
	"context"
	"fmt"
	"strconv"

	flag "github.com/spf13/pflag"

	"github.com/sunilkgrao/mv2vault/vault"
)

// SeedCmd returns the seed command: generate N synthetic frames via
// PutBulk, for exercising bulk ingestion and doctor/verify against a
// larger file without an external data source.
func SeedCmd() *Command {
	fs := flag.NewFlagSet("seed", flag.ContinueOnError)
	fs.Int("concurrency", 4, "Bulk worker pool size")

	return &Command{
		Flags: fs,
		Usage: "seed <path> <count> [flags]",
		Short: "Seed a vault with synthetic frames",
		Exec: func(_ context.Context, o *IO, args []string) error {
			if len(args) != 2 {
				return fmt.Errorf("seed requires <path> and <count>")
			}
			count, err := strconv.Atoi(args[1])
			if err != nil || count <= 0 {
				return fmt.Errorf("invalid count %q", args[1])
			}
			concurrency, _ := fs.GetInt("concurrency")

			v, err := vault.Open(args[0], vault.Options{})
			if err != nil {
				return fmt.Errorf("open %s: %w", args[0], err)
			}
			defer func() { _ = v.Close() }()

			items := make([]vault.BulkItem, count)
			for i := range items {
				items[i] = vault.BulkItem{
					Payload: []byte(fmt.Sprintf("synthetic frame %d", i)),
					Opts:    vault.PutOptions{URI: fmt.Sprintf("seed://%d", i), Title: fmt.Sprintf("seed %d", i)},
				}
			}

			results, err := v.PutBulk(items, vault.BulkOptions{Concurrency: concurrency, AutoCommit: true})
			if err != nil {
				return fmt.Errorf("put bulk: %w", err)
			}

			failed := 0
			for _, r := range results {
				if r.Err != nil {
					failed++
				}
			}
			if failed > 0 {
				o.Warn(fmt.Sprintf("%d of %d items failed", failed, len(results)))
			}

			o.Printf("seeded %d frames (%d failed)\n", len(results)-failed, failed)
			return nil
		},
	}
}
