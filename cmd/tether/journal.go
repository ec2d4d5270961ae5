package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"tether/internal/journal"

	"github.com/goccy/go-json"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var journalTable bool

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Read journals written by listen --record",
}

var journalCatCmd = &cobra.Command{
	Use:   "cat FILE",
	Short: "Print the records of a journal",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		out := cmd.OutOrStdout()
		var t table.Writer
		if journalTable {
			t = table.NewWriter()
			t.SetOutputMirror(out)
			t.SetStyle(table.StyleRounded)
			t.AppendHeader(table.Row{"AT", "TYPE", "PAYLOAD"})
		}

		r := journal.NewReader(f)
		for {
			rec, err := r.Next()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return err
			}
			b, err := json.Marshal(rec)
			if err != nil {
				return err
			}
			if t == nil {
				fmt.Fprintln(out, string(b))
				continue
			}
			payload, _ := json.Marshal(rec.Payload)
			t.AppendRow(table.Row{rec.At.Format("2006-01-02T15:04:05.000Z07:00"), rec.Type, string(payload)})
		}
		if t != nil {
			t.Render()
		}
		return nil
	},
}

func init() {
	journalCatCmd.Flags().BoolVar(&journalTable, "table", false, "render as a table instead of JSON lines")
	journalCmd.AddCommand(journalCatCmd)
}
