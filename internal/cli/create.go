package cli

import (
	"context"
	"fmt"

	flag "github.com/spf13/pflag"

	"github.com/sunilkgrao/mv2vault/vault"
)

// CreateCmd returns the create command: initialize a new .mv2 file with
// the requested tracks enabled.
func CreateCmd() *Command {
	fs := flag.NewFlagSet("create", flag.ContinueOnError)
	fs.Bool("lex", false, "Enable the lexical search track")
	fs.Bool("vec", false, "Enable the vector search track")
	fs.Bool("clip", false, "Enable the CLIP visual track")
	fs.Bool("temporal", false, "Enable the temporal mentions/anchors track")
	fs.Bool("mesh", false, "Enable the logic-mesh entity graph")
	fs.Bool("sketch", false, "Enable the HyperLogLog sketch track")

	return &Command{
		Flags: fs,
		Usage: "create <path> [flags]",
		Short: "Create a new .mv2 vault",
		Exec: func(_ context.Context, o *IO, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("create requires exactly one <path> argument")
			}
			lex, _ := fs.GetBool("lex")
			vecOn, _ := fs.GetBool("vec")
			clip, _ := fs.GetBool("clip")
			temporal, _ := fs.GetBool("temporal")
			mesh, _ := fs.GetBool("mesh")
			sketch, _ := fs.GetBool("sketch")

			v, err := vault.Create(args[0], vault.Options{
				EnableLex: lex, EnableVec: vecOn, EnableClip: clip,
				EnableTemporal: temporal, EnableMesh: mesh, EnableSketch: sketch,
			})
			if err != nil {
				return fmt.Errorf("create %s: %w", args[0], err)
			}
			if err := v.Close(); err != nil {
				return fmt.Errorf("close %s: %w", args[0], err)
			}

			o.Println("created", args[0])
			return nil
		},
	}
}
