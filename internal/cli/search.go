package cli

import (
	"context"
	"fmt"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/sunilkgrao/mv2vault/vault"
)

// SearchCmd returns the search command: run a lexical query against a
// vault's lex track.
func SearchCmd() *Command {
	fs := flag.NewFlagSet("search", flag.ContinueOnError)
	fs.Int("topk", 10, "Maximum hits to print")

	return &Command{
		Flags: fs,
		Usage: "search <path> <query...> [flags]",
		Short: "Run a lexical search",
		Exec: func(_ context.Context, o *IO, args []string) error {
			if len(args) < 2 {
				return fmt.Errorf("search requires <path> and a query")
			}
			topK, _ := fs.GetInt("topk")
			query := strings.Join(args[1:], " ")

			v, err := vault.OpenReadOnly(args[0], vault.Options{})
			if err != nil {
				return fmt.Errorf("open %s: %w", args[0], err)
			}
			defer func() { _ = v.Close() }()

			hits, err := v.SearchLex(query, topK)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}

			for _, h := range hits {
				o.Printf("%d\t%.4f\n", h.FrameID, h.Score)
			}
			return nil
		},
	}
}
