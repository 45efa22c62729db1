package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/sunilkgrao/mv2vault/vault"
)

// PutCmd returns the put command: write one frame's payload (read from
// stdin) into an existing vault and commit.
func PutCmd(stdin io.Reader) *Command {
	fs := flag.NewFlagSet("put", flag.ContinueOnError)
	fs.String("uri", "", "Frame URI")
	fs.String("title", "", "Frame title")
	fs.StringSlice("tags", nil, "Comma-separated tags")

	return &Command{
		Flags: fs,
		Usage: "put <path> [flags]",
		Short: "Put one frame from stdin and commit",
		Exec: func(_ context.Context, o *IO, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("put requires exactly one <path> argument")
			}
			uri, _ := fs.GetString("uri")
			title, _ := fs.GetString("title")
			tags, _ := fs.GetStringSlice("tags")

			payload, err := io.ReadAll(stdin)
			if err != nil {
				return fmt.Errorf("read stdin: %w", err)
			}

			v, err := vault.Open(args[0], vault.Options{})
			if err != nil {
				return fmt.Errorf("open %s: %w", args[0], err)
			}
			defer func() { _ = v.Close() }()

			id, err := v.PutBytes(payload, vault.PutOptions{URI: uri, Title: title, Tags: tags})
			if err != nil {
				return fmt.Errorf("put: %w", err)
			}
			if err := v.Commit(); err != nil {
				return fmt.Errorf("commit: %w", err)
			}

			o.Println(strings.TrimSpace(fmt.Sprintf("frame %d", id)))
			return nil
		},
	}
}
