package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/aeriedb/aerie/internal/cli/output"
)

var namespaceCmd = &cobra.Command{
	Use:   "namespace [path]",
	Short: "Inspect a namespace node",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "/"
		if len(args) == 1 {
			path = args[0]
		}

		info, err := client().Namespace(cmd.Context(), path)
		if err != nil {
			return err
		}

		fmt.Printf("path:      %s\n", info.Node.Path)
		fmt.Printf("created:   %s\n", info.Node.CreatedAt.Format(time.RFC3339))
		fmt.Printf("ephemeral: %t\n", info.Node.Ephemeral)
		if info.Node.Ephemeral {
			fmt.Printf("owner:     %d\n", info.Node.OwnerSession)
		}
		fmt.Printf("locked:    %t\n", info.Locked)

		if len(info.Node.Attrs) > 0 {
			fmt.Println("\nattributes:")
			t := output.NewTable("NAME", "BYTES")
			for name, value := range info.Node.Attrs {
				t.AddRow(name, fmt.Sprintf("%d", len(value)))
			}
			t.Render(os.Stdout)
		}

		if len(info.Children) > 0 {
			fmt.Println("\nchildren:")
			for _, c := range info.Children {
				fmt.Printf("  %s\n", c)
			}
		}
		return nil
	},
}
