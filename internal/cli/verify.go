package cli

import (
	"context"
	"fmt"

	flag "github.com/spf13/pflag"

	"github.com/sunilkgrao/mv2vault/vault"
)

// VerifyCmd returns the verify command: run non-mutating integrity
// checks and report pass/fail per check.
func VerifyCmd() *Command {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	fs.Bool("deep", false, "Run the deep (sort-order) checks too")

	return &Command{
		Flags: fs,
		Usage: "verify <path> [flags]",
		Short: "Run read-only integrity checks",
		Exec: func(_ context.Context, o *IO, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("verify requires exactly one <path> argument")
			}
			deep, _ := fs.GetBool("deep")

			report, err := vault.Verify(args[0], deep)
			if err != nil {
				return fmt.Errorf("verify: %w", err)
			}

			for _, c := range report.Checks {
				o.Printf("%-24s %-8s %s\n", c.Name, c.Status, c.Detail)
				if c.Status == vault.CheckFailed {
					o.Warn(fmt.Sprintf("%s: %s", c.Name, c.Detail))
				}
			}
			o.Printf("overall: %s\n", report.Overall)
			return nil
		},
	}
}
