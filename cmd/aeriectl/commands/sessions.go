package commands

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/aeriedb/aerie/internal/cli/output"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List tracked sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		infos, err := client().Sessions(cmd.Context())
		if err != nil {
			return err
		}
		if len(infos) == 0 {
			fmt.Println("no sessions")
			return nil
		}

		t := output.NewTable("ID", "STATE", "REMOTE", "HANDLES", "LEASE EXPIRES", "AGE")
		now := time.Now()
		for _, s := range infos {
			t.AddRow(
				strconv.FormatUint(uint64(s.ID), 10),
				s.State,
				s.RemoteAddr,
				strconv.Itoa(s.HandleCount),
				s.Deadline.Format(time.RFC3339),
				now.Sub(s.CreatedAt).Round(time.Second).String(),
			)
		}
		t.Render(os.Stdout)
		return nil
	},
}

var handlesCmd = &cobra.Command{
	Use:   "handles",
	Short: "List open handles",
	RunE: func(cmd *cobra.Command, args []string) error {
		infos, err := client().Handles(cmd.Context())
		if err != nil {
			return err
		}
		if len(infos) == 0 {
			fmt.Println("no open handles")
			return nil
		}

		t := output.NewTable("ID", "SESSION", "PATH", "OPENED")
		for _, h := range infos {
			t.AddRow(
				strconv.FormatUint(uint64(h.ID), 10),
				strconv.FormatUint(uint64(h.Session), 10),
				h.Path,
				h.OpenedAt.Format(time.RFC3339),
			)
		}
		t.Render(os.Stdout)
		return nil
	},
}
