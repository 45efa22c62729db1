package cli

import (
	"context"
	"fmt"

	flag "github.com/spf13/pflag"

	"github.com/sunilkgrao/mv2vault/vault"
)

// DoctorCmd returns the doctor command: plan (and, unless --plan-only,
// apply) repairs to a vault file.
func DoctorCmd() *Command {
	fs := flag.NewFlagSet("doctor", flag.ContinueOnError)
	fs.Bool("deep", false, "Include deep verification in the plan")
	fs.Bool("plan-only", false, "Print the plan without applying it")
	fs.Bool("force-stale", false, "Steal the lock if its holder's heartbeat has lapsed")

	return &Command{
		Flags: fs,
		Usage: "doctor <path> [flags]",
		Short: "Diagnose and repair a vault file",
		Long: `Plans an ordered repair (Probe, HeaderHealing, WalReplay, IndexRebuild,
Vacuum, Finalize, Verify) and, unless --plan-only is given, applies it
under an exclusive lock.`,
		Exec: func(_ context.Context, o *IO, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("doctor requires exactly one <path> argument")
			}
			deep, _ := fs.GetBool("deep")
			planOnly, _ := fs.GetBool("plan-only")
			forceStale, _ := fs.GetBool("force-stale")

			plan, err := vault.DoctorPlan(args[0], vault.DoctorOptions{Deep: deep, ForceStaleLock: forceStale})
			if err != nil {
				return fmt.Errorf("doctor plan: %w", err)
			}
			printPlan(o, plan)

			if planOnly {
				return nil
			}
			if plan.IsNoOp() {
				o.Println("status: clean (nothing to apply)")
				return nil
			}

			report, err := vault.DoctorApply(args[0], plan)
			if err != nil {
				return fmt.Errorf("doctor apply: %w", err)
			}
			o.Printf("status: %s\n", report.Status)
			for _, f := range report.Findings {
				o.Warn(f)
			}
			return nil
		},
	}
}

func printPlan(o *IO, plan vault.RepairPlan) {
	for _, phase := range plan.Phases {
		o.Printf("[%s]\n", phase.Name)
		for _, a := range phase.Actions {
			o.Printf("  %-22s %s\n", a.Kind, a.Detail)
		}
	}
}
