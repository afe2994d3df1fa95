package main

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

// column describes one table column. A positive maxWidth soft-wraps longer
// cells instead of stretching the table.
type column struct {
	header   string
	align    columnAlignment
	maxWidth int
}

func left(header string) column { return column{header: header} }
func right(header string) column { return column{header: header, align: alignRight} }

func wrapped(header string, width int) column {
	return column{header: header, maxWidth: width}
}

func renderTable(columns []column, rows [][]string) string {
	if len(columns) == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, len(columns))
	configs := make([]table.ColumnConfig, len(columns))
	for i, col := range columns {
		header[i] = col.header
		cfg := table.ColumnConfig{
			Number:      i + 1,
			Align:       text.AlignLeft,
			AlignHeader: text.AlignLeft,
		}
		if col.align == alignRight {
			cfg.Align = text.AlignRight
		}
		if col.maxWidth > 0 {
			cfg.WidthMax = col.maxWidth
			cfg.WidthMaxEnforcer = text.WrapSoft
		}
		configs[i] = cfg
	}
	tw.AppendHeader(header)
	tw.SetColumnConfigs(configs)

	for _, row := range rows {
		r := make(table.Row, len(columns))
		for i := range columns {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}
	return tw.Render()
}
