package status

import (
	"slices"
	"sort"
)

// Summary is the reduction of a status document.
type Summary struct {
	Total int `json:"total"`

	// States always holds the four known states, zero or not. Unknown
	// state values are counted under their own key.
	States map[State]int `json:"states"`

	// Reasons counts runs per recorded reason; runs without one are
	// not counted.
	Reasons map[string]int `json:"reasons"`

	// ReturnCodes counts every component return code of every run.
	ReturnCodes map[int]int `json:"return_codes"`
}

// Aggregate reduces doc in a single pass. Missing reasons and return codes
// are tolerated.
func Aggregate(doc Document) Summary {
	s := Summary{
		Total:       len(doc),
		States:      make(map[State]int, 4),
		Reasons:     map[string]int{},
		ReturnCodes: map[int]int{},
	}
	for _, st := range States() {
		s.States[st] = 0
	}
	for _, rec := range doc {
		s.States[rec.State]++
		if rec.Reason != "" {
			s.Reasons[rec.Reason]++
		}
		for _, rc := range rec.ReturnCodes {
			s.ReturnCodes[rc]++
		}
	}
	return s
}

// InProgress is the number of runs not yet started or still running.
func (s Summary) InProgress() int {
	return s.States[StateNotStarted] + s.States[StateRunning]
}

// Settled is the number of runs no longer in progress.
func (s Summary) Settled() int {
	return s.Total - s.InProgress()
}

// Failed is the number of runs whose reason is not the success reason,
// including runs that have no reason yet.
func (s Summary) Failed() int {
	return s.Total - s.Reasons[ReasonSucceeded]
}

// Complete reports whether every run has reached a terminal state.
// An empty summary is never complete.
func (s Summary) Complete() bool {
	return s.Total > 0 && s.States[StateDone]+s.States[StateKilled] == s.Total
}

// ReasonCount is one reason and its count.
type ReasonCount struct {
	Reason string
	Count  int
}

// SortedReasons returns the reason counts sorted by reason.
func (s Summary) SortedReasons() []ReasonCount {
	out := make([]ReasonCount, 0, len(s.Reasons))
	for r, n := range s.Reasons {
		out = append(out, ReasonCount{Reason: r, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Reason < out[j].Reason })
	return out
}

// SortedStates returns the states present in the summary, sorted.
func (s Summary) SortedStates() []State {
	out := make([]State, 0, len(s.States))
	for st := range s.States {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// SortedReturnCodes returns the distinct return codes in ascending order.
func (s Summary) SortedReturnCodes() []int {
	out := make([]int, 0, len(s.ReturnCodes))
	for rc := range s.ReturnCodes {
		out = append(out, rc)
	}
	sort.Ints(out)
	return out
}

// ReturnCode is the exit status of one component of one run.
type ReturnCode struct {
	Run       string `json:"run"`
	Component string `json:"component"`
	Code      int    `json:"code"`
}

// ReturnCodes lists the per-component return codes of doc sorted by run id
// then component name. When runs is non-empty only those run ids are
// listed.
func ReturnCodes(doc Document, runs []string) []ReturnCode {
	ids := make([]string, 0, len(doc))
	for id := range doc {
		if len(runs) > 0 && !slices.Contains(runs, id) {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []ReturnCode
	for _, id := range ids {
		codes := doc[id].ReturnCodes
		names := make([]string, 0, len(codes))
		for name := range codes {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			out = append(out, ReturnCode{Run: id, Component: name, Code: codes[name]})
		}
	}
	return out
}
