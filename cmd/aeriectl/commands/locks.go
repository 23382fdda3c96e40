package commands

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aeriedb/aerie/internal/cli/output"
)

var locksCmd = &cobra.Command{
	Use:   "locks",
	Short: "List nodes with lock state",
	RunE: func(cmd *cobra.Command, args []string) error {
		infos, err := client().Locks(cmd.Context())
		if err != nil {
			return err
		}
		if len(infos) == 0 {
			fmt.Println("no locks")
			return nil
		}

		t := output.NewTable("PATH", "MODE", "HOLDERS", "WAITING")
		for _, l := range infos {
			holders := make([]string, 0, len(l.Holders))
			for _, h := range l.Holders {
				holders = append(holders, strconv.FormatUint(uint64(h), 10))
			}
			t.AddRow(l.Path, l.Mode, strings.Join(holders, ","), strconv.Itoa(l.Waiting))
		}
		t.Render(os.Stdout)
		return nil
	},
}
