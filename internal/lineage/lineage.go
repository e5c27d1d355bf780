// Package lineage infers the tables a statement reads and writes when the
// caller did not declare them. The dispatcher uses the write set to build
// notifications and the read set to populate live-query dependencies.
package lineage

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// Tables parses the statement and returns its read and write table sets,
// both sorted. The write set is the target relation of an INSERT, UPDATE
// or DELETE; the read set is every relation referenced from a FROM/USING
// position anywhere in the tree, plus the target for UPDATE/DELETE (their
// WHERE clauses read it).
func Tables(sql string) (reads, writes []string, err error) {
	raw, err := pg_query.ParseToJSON(sql)
	if err != nil {
		// The parser speaks postgres grammar, which rejects sqlite's ?
		// placeholders. Retry with numbered parameters before giving up.
		retry, rewrote := numberPlaceholders(sql)
		if !rewrote {
			return nil, nil, fmt.Errorf("parse error: %w", err)
		}
		raw, err = pg_query.ParseToJSON(retry)
		if err != nil {
			return nil, nil, fmt.Errorf("parse error: %w", err)
		}
	}

	var tree map[string]any
	if err := json.Unmarshal([]byte(raw), &tree); err != nil {
		return nil, nil, fmt.Errorf("invalid json ast: %w", err)
	}

	stmts, _ := tree["stmts"].([]any)
	if len(stmts) == 0 {
		return nil, nil, fmt.Errorf("no statements")
	}

	readSet := map[string]struct{}{}
	writeSet := map[string]struct{}{}

	for _, s := range stmts {
		stmt, ok := s.(map[string]any)["stmt"].(map[string]any)
		if !ok {
			continue
		}
		collectStmt(stmt, readSet, writeSet)
	}

	return sorted(readSet), sorted(writeSet), nil
}

func collectStmt(stmt map[string]any, reads, writes map[string]struct{}) {
	switch {
	case stmt["InsertStmt"] != nil:
		node := stmt["InsertStmt"].(map[string]any)
		addRelation(node["relation"], writes)
		// The INSERT target is inlined (not a wrapped RangeVar node), so a
		// generic walk over the subtree finds only the genuinely-read
		// relations of an INSERT ... SELECT.
		collectRangeVars(node, reads)

	case stmt["UpdateStmt"] != nil:
		node := stmt["UpdateStmt"].(map[string]any)
		addRelation(node["relation"], writes)
		addRelation(node["relation"], reads)
		collectRangeVars(node, reads)

	case stmt["DeleteStmt"] != nil:
		node := stmt["DeleteStmt"].(map[string]any)
		addRelation(node["relation"], writes)
		addRelation(node["relation"], reads)
		collectRangeVars(node, reads)

	default:
		// SELECT and anything else: read-only as far as notifications go.
		collectRangeVars(stmt, reads)
	}
}

// collectRangeVars walks the AST collecting every wrapped RangeVar node
// (FROM items, joins, sublinks, CTE bodies).
func collectRangeVars(node any, out map[string]struct{}) {
	switch n := node.(type) {
	case map[string]any:
		if rv, ok := n["RangeVar"].(map[string]any); ok {
			addRelation(rv, out)
		}
		for _, v := range n {
			collectRangeVars(v, out)
		}
	case []any:
		for _, v := range n {
			collectRangeVars(v, out)
		}
	}
}

func addRelation(rel any, out map[string]struct{}) {
	rv, ok := rel.(map[string]any)
	if !ok {
		return
	}
	name, _ := rv["relname"].(string)
	if name == "" {
		return
	}
	if schema, _ := rv["schemaname"].(string); schema != "" {
		name = schema + "." + name
	}
	out[name] = struct{}{}
}

// numberPlaceholders rewrites ? placeholders to $1, $2, ... so the
// postgres parser accepts sqlite-flavored text. Question marks inside
// string literals are left alone.
func numberPlaceholders(sql string) (string, bool) {
	var b strings.Builder
	n := 0
	inString := false
	for i := 0; i < len(sql); i++ {
		ch := sql[i]
		switch {
		case ch == '\'':
			inString = !inString
			b.WriteByte(ch)
		case ch == '?' && !inString:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(ch)
		}
	}
	return b.String(), n > 0
}

func sorted(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
