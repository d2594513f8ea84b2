package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/vk/scopegrid/internal/app"
	"github.com/vk/scopegrid/internal/graph"
	"github.com/vk/scopegrid/internal/history"
	"github.com/vk/scopegrid/internal/trigger"
)

func printSummary(w io.Writer, sum *app.Summary) {
	tbl := table.NewWriter()
	tbl.SetTitle("Session " + sum.Session)
	tbl.SetOutputMirror(w)
	tbl.AppendHeader(table.Row{"acquisitions", "history", "refreshes", "avg", "min", "p75", "p99", "max", "duration"})
	tbl.AppendRow(table.Row{
		humanize.Comma(int64(sum.Acquisitions)),
		humanize.Comma(int64(sum.History)),
		humanize.Comma(sum.Worker.Refreshes),
		sum.Worker.Avg,
		sum.Worker.Min,
		sum.Worker.P75,
		sum.Worker.P99,
		sum.Worker.Max,
		sum.Duration.Round(time.Millisecond),
	})
	tbl.Render()

	if len(sum.Failed) > 0 {
		fmt.Fprintf(w, "Failed nodes: %s\n", strings.Join(sum.Failed, ", "))
	}
	if len(sum.Leaked) > 0 {
		fmt.Fprintf(w, "Leaked nodes: %s\n", strings.Join(sum.Leaked, ", "))
	}
}

func printGroups(w io.Writer, groups []trigger.Membership) {
	tbl := table.NewWriter()
	tbl.SetTitle("Trigger groups")
	tbl.SetOutputMirror(w)
	tbl.AppendHeader(table.Row{"group", "default", "primary", "secondaries", "nodes"})
	for _, g := range groups {
		tbl.AppendRow(table.Row{g.Name, g.Default, g.Primary, strings.Join(g.Secondaries, ", "), len(g.Nodes)})
	}
	tbl.Render()
}

func printNodes(w io.Writer, nodes []graph.Snapshot) {
	names := make(map[graph.Handle]string, len(nodes))
	for _, n := range nodes {
		names[n.Handle] = n.Name
	}

	tbl := table.NewWriter()
	tbl.SetTitle("Nodes")
	tbl.SetOutputMirror(w)
	tbl.AppendHeader(table.Row{"node", "kind", "type", "inputs", "outputs"})
	for _, n := range nodes {
		inputs := make([]string, 0, len(n.Inputs))
		for _, in := range n.Inputs {
			if !in.Bound() {
				inputs = append(inputs, "-")
				continue
			}
			src, ok := names[in.Source]
			if !ok {
				src = "?"
			}
			inputs = append(inputs, fmt.Sprintf("%s:%d", src, in.Stream))
		}
		outputs := make([]string, 0, len(n.Outputs))
		for _, out := range n.Outputs {
			outputs = append(outputs, out.Name)
		}
		tbl.AppendRow(table.Row{n.Name, n.Kind, n.Type, strings.Join(inputs, ", "), strings.Join(outputs, ", ")})
	}
	tbl.Render()
}

func printArchive(w io.Writer, path string, records []history.Archived) {
	tbl := table.NewWriter()
	tbl.SetTitle("History " + path)
	tbl.SetOutputMirror(w)
	tbl.AppendHeader(table.Row{"timestamp", "added", "instruments", "samples", "label", "pinned"})
	for _, r := range records {
		tbl.AppendRow(table.Row{
			r.Key.String(),
			humanize.Time(r.Added),
			strings.Join(r.Instruments, ", "),
			humanize.Comma(int64(r.Samples)),
			r.Label,
			r.Pinned,
		})
	}
	tbl.Render()
	fmt.Fprintf(w, "%d records.\n", len(records))
}
