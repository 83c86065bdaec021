package commands

import (
	"os"

	"eios-backend/lib/scrapers/eios"
	"eios-backend/lib/serviceutil"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(decodeCmd)
}

var decodeCmd = &cobra.Command{
	Use:   "decode <path/to/payload.txt>",
	Short: "Decodes a dumped calendar callback payload without touching the portal.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		payload, err := os.ReadFile(args[0])
		if err != nil {
			serviceutil.Fatal("failed to read payload", err)
		}
		renderEvents(eios.Decode(string(payload)))
	},
}

func renderEvents(events []eios.ScheduleEvent) {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Start", "End", "Course", "Type", "Teacher", "Room", "Group"})
	for _, e := range events {
		t.AppendRow(table.Row{
			e.StartTime, e.EndTime, e.CourseName, e.EventType, e.Teacher, e.Room, e.Group,
		})
	}
	t.Render()
}
