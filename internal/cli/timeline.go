package cli

import (
	"context"
	"fmt"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/sunilkgrao/mv2vault/vault"
)

// TimelineCmd returns the timeline command: list frames ordered by time.
func TimelineCmd() *Command {
	fs := flag.NewFlagSet("timeline", flag.ContinueOnError)
	fs.Int("limit", 20, "Maximum entries to print")
	fs.Bool("reverse", false, "List newest first")

	return &Command{
		Flags: fs,
		Usage: "timeline <path> [flags]",
		Short: "List the vault's timeline",
		Exec: func(_ context.Context, o *IO, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("timeline requires exactly one <path> argument")
			}
			limit, _ := fs.GetInt("limit")
			reverse, _ := fs.GetBool("reverse")

			v, err := vault.OpenReadOnly(args[0], vault.Options{})
			if err != nil {
				return fmt.Errorf("open %s: %w", args[0], err)
			}
			defer func() { _ = v.Close() }()

			entries, err := v.Timeline(vault.TimelineQuery{Limit: limit, Reverse: reverse})
			if err != nil {
				return fmt.Errorf("timeline: %w", err)
			}

			for _, e := range entries {
				preview := strings.ReplaceAll(e.Preview, "\n", " ")
				o.Printf("%d\t%s\t%s\t%s\n", e.FrameID, e.Timestamp.Format("2006-01-02T15:04:05Z07:00"), e.Title, preview)
				for _, c := range e.Children {
					o.Printf("  %d\t%s\t%s\n", c.FrameID, c.Timestamp.Format("2006-01-02T15:04:05Z07:00"), c.Title)
				}
			}
			return nil
		},
	}
}
