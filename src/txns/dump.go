package txns

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Blackdeer1524/RelDB/src/pkg/common"
)

type waitEdge struct {
	waiter common.TxnID
	holder common.TxnID
	mode   LockMode
	rid    common.RID
}

// DumpWaitGraph renders the current waits-for relation in graphviz
// format: an edge from every ungranted request to every granted one
// on the same row. Wound-wait keeps the graph acyclic; the dump is a
// debugging aid for staring at stuck scenarios.
func (m *LockManager) DumpWaitGraph() string {
	m.latch.Lock()
	rows := make(map[common.RID]*lockRow, len(m.rows))
	for rid, row := range m.rows {
		rows[rid] = row
	}
	m.latch.Unlock()

	nodes := map[common.TxnID]struct{}{}
	var edges []waitEdge

	for rid, row := range rows {
		row.mtx.Lock()
		for _, r := range row.queue {
			nodes[r.txn.ID()] = struct{}{}
			if r.granted {
				continue
			}
			for _, holder := range row.queue {
				if holder.granted {
					edges = append(edges, waitEdge{
						waiter: r.txn.ID(),
						holder: holder.txn.ID(),
						mode:   r.mode,
						rid:    rid,
					})
				}
			}
		}
		row.mtx.Unlock()
	}

	ids := make([]common.TxnID, 0, len(nodes))
	for id := range nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].waiter != edges[j].waiter {
			return edges[i].waiter < edges[j].waiter
		}
		return edges[i].holder < edges[j].holder
	})

	sb := strings.Builder{}
	sb.WriteString("digraph WaitsFor {\n")
	sb.WriteString("\trankdir=LR;\n")
	sb.WriteString("\tnode [shape=box];\n")
	for _, id := range ids {
		fmt.Fprintf(&sb, "\t\"txn_%d\" [label=\"Txn %d\"];\n", id, id)
	}
	for _, e := range edges {
		fmt.Fprintf(&sb,
			"\t\"txn_%d\" -> \"txn_%d\" [label=\"%s %s\"];\n",
			e.waiter, e.holder, e.mode, e.rid,
		)
	}
	sb.WriteString("}\n")
	return sb.String()
}
