package multiagent

import (
	"sort"
	"strings"

	"github.com/chih3b/SanteConnect/internal/domain"
)

// route is one routing rule entry. seq orders rules by registration.
type route struct {
	agent    string
	priority int
	seq      int
}

// routingTable maps a task substring to its candidate agents. Each pattern's
// entries are kept sorted by descending priority, ties in registration order.
type routingTable struct {
	patterns []string // registration order of first use
	routes   map[string][]route
	next     int
}

func newRoutingTable() *routingTable {
	return &routingTable{routes: make(map[string][]route)}
}

func (t *routingTable) add(pattern, agent string, priority int) {
	if _, ok := t.routes[pattern]; !ok {
		t.patterns = append(t.patterns, pattern)
	}
	entries := append(t.routes[pattern], route{agent: agent, priority: priority, seq: t.next})
	t.next++
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].priority > entries[j].priority })
	t.routes[pattern] = entries
}

// match returns the highest priority agent among all patterns contained in
// task, case-insensitively. On equal priority the rule registered first wins.
func (t *routingTable) match(task string) (string, bool) {
	lower := strings.ToLower(task)
	var best *route
	for _, p := range t.patterns {
		if !strings.Contains(lower, strings.ToLower(p)) {
			continue
		}
		top := t.routes[p][0]
		if best == nil || top.priority > best.priority || (top.priority == best.priority && top.seq < best.seq) {
			best = &top
		}
	}
	if best == nil {
		return "", false
	}
	return best.agent, true
}

func (t *routingTable) len() int {
	n := 0
	for _, entries := range t.routes {
		n += len(entries)
	}
	return n
}

// keywordRoutes is consulted when no routing rule matches.
var keywordRoutes = []struct {
	keywords []string
	agent    string
}{
	{[]string{"ocr", "prescription", "extract", "read", "scan"}, domain.AgentOCR},
	{[]string{"segment", "region", "mask"}, domain.AgentSegmentation},
	{[]string{"text", "recognize", "handwriting"}, domain.AgentTextRecognition},
	{[]string{"phi", "filter", "redact", "hipaa"}, domain.AgentPHIFilter},
	{[]string{"drug", "medication"}, domain.AgentDrugInformation},
}

func routeByKeyword(task string) string {
	lower := strings.ToLower(task)
	for _, kr := range keywordRoutes {
		for _, kw := range kr.keywords {
			if strings.Contains(lower, kw) {
				return kr.agent
			}
		}
	}
	return domain.AgentOCR
}

func inferTaskType(task string) string {
	lower := strings.ToLower(task)
	switch {
	case strings.Contains(lower, "batch") || strings.Contains(lower, "multiple"):
		return domain.TaskBatch
	case strings.Contains(lower, "workflow") || strings.Contains(lower, "pipeline"):
		return domain.TaskWorkflow
	default:
		return domain.TaskSingle
	}
}
