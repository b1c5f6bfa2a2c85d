package output

import (
	"strconv"

	"github.com/marmos91/hostd/pkg/runtime/models"
)

// ModuleList renders module records.
type ModuleList []models.ModuleRecord

func (l ModuleList) Headers() []string { return []string{"Name", "Version", "State", "File"} }

func (l ModuleList) Rows() [][]string {
	rows := make([][]string, 0, len(l))
	for _, m := range l {
		rows = append(rows, []string{m.Name, m.Version, string(m.State), m.FileName})
	}
	return rows
}

// ServiceList renders service records. Host services show "-" as their
// module.
type ServiceList []models.ServiceRecord

func (l ServiceList) Headers() []string { return []string{"Module", "Type", "State", "Auto Start"} }

func (l ServiceList) Rows() [][]string {
	rows := make([][]string, 0, len(l))
	for _, s := range l {
		module := s.ID.Module
		if s.ID.IsHost() {
			module = "-"
		}
		rows = append(rows, []string{module, s.ID.Type, string(s.State), strconv.FormatBool(s.AutoStart)})
	}
	return rows
}

// StatusSummary is the table form of a status snapshot: one row per
// counter.
type StatusSummary models.Status

func (s StatusSummary) Headers() []string { return []string{"Field", "Value"} }

func (s StatusSummary) Rows() [][]string {
	running := 0
	for _, svc := range s.Services {
		if svc.State == models.ServiceRunning {
			running++
		}
	}
	return [][]string{
		{"Process", string(s.ProcessState)},
		{"Address", s.BaseAddress},
		{"Modules", strconv.Itoa(len(s.Modules))},
		{"Services", strconv.Itoa(len(s.Services))},
		{"Running", strconv.Itoa(running)},
	}
}
