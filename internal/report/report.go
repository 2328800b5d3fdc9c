// Package report renders probe results.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/olekukonko/tablewriter"

	"github.com/TheCjw/DoHVerifier/internal/probe"
	"github.com/TheCjw/DoHVerifier/pkg/stamp"
)

// Format is an output format.
type Format string

const (
	// FormatTable is a GitHub-flavoured markdown table.
	FormatTable Format = "table"
	// FormatJSON is one JSON object per line.
	FormatJSON Format = "json"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case FormatTable, FormatJSON:
		return f, nil
	default:
		return "", fmt.Errorf("invalid format %q, must be %q or %q", s, FormatTable, FormatJSON)
	}
}

// Row is the JSON form of a result.
type Row struct {
	Name            string `json:"name"`
	URL             string `json:"url"`
	Address         string `json:"ip_address"`
	Status          string `json:"status"`
	LatencyMillis   *int64 `json:"latency_ms"`
	ResolvedIP      string `json:"resolved_ip,omitempty"`
	ResolvedCountry string `json:"resolved_country,omitempty"`
	DNSSEC          bool   `json:"dnssec"`
	NoLog           bool   `json:"nolog"`
	NoFilter        bool   `json:"nofilter"`
}

// NewRow converts a result.
func NewRow(res *probe.Result) Row {
	row := Row{
		Name:            res.Name,
		URL:             res.URL,
		Address:         res.Address,
		Status:          "ok",
		ResolvedIP:      res.ResolvedIP,
		ResolvedCountry: res.ResolvedCountry,
		DNSSEC:          res.Props.Has(stamp.PropDNSSEC),
		NoLog:           res.Props.Has(stamp.PropNoLog),
		NoFilter:        res.Props.Has(stamp.PropNoFilter),
	}

	if res.Status == probe.StatusTimeout {
		row.Status = "timeout"
	} else {
		ms := res.LatencyMillis()
		row.LatencyMillis = &ms
	}

	return row
}

// Write renders results sorted by name. queryName labels the answer column.
func Write(w io.Writer, results []*probe.Result, format Format, queryName string) error {
	sorted := make([]*probe.Result, len(results))
	copy(sorted, results)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Name < sorted[j].Name
	})

	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		for _, res := range sorted {
			if err := enc.Encode(NewRow(res)); err != nil {
				return fmt.Errorf("report: %w", err)
			}
		}
		return nil
	case FormatTable, "":
		writeTable(w, sorted, queryName)
		return nil
	default:
		return fmt.Errorf("report: unknown format %q", format)
	}
}

func writeTable(w io.Writer, results []*probe.Result, queryName string) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"name", "ip_address", "url", "latency(ms)", queryName})
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetBorders(tablewriter.Border{Left: true, Top: false, Right: true, Bottom: false})
	table.SetCenterSeparator("|")

	for _, res := range results {
		table.Append([]string{res.Name, res.Address, res.URL, res.LatencyString(), answer(res)})
	}

	table.Render()
}

// answer formats the resolved address as "ip(CC)".
func answer(res *probe.Result) string {
	switch {
	case res.ResolvedIP == "":
		return ""
	case res.ResolvedCountry == "":
		return res.ResolvedIP
	default:
		return fmt.Sprintf("%s(%s)", res.ResolvedIP, res.ResolvedCountry)
	}
}
