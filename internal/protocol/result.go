package protocol

import (
	"fmt"

	"github.com/relaydb/relaydb/internal/executor"
	"github.com/relaydb/relaydb/internal/wire"
)

// Results travel as wire values so the response payload stays inside the
// codec's domain: selects as {"columns": [...], "rows": [[...], ...]},
// writes as {"rowsAffected": n, "lastInsertId": n}.

func EncodeRows(r *executor.Rows) (wire.Value, error) {
	cols := make([]any, len(r.Columns))
	for i, c := range r.Columns {
		cols[i] = c
	}
	rows := make([]any, len(r.Rows))
	for i, row := range r.Rows {
		rows[i] = append([]any(nil), row...)
	}
	return wire.Encode(map[string]any{"columns": cols, "rows": rows})
}

func DecodeRows(v wire.Value) (*executor.Rows, error) {
	dec, err := wire.Decode(v)
	if err != nil {
		return nil, err
	}
	m, ok := dec.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("protocol: select result is %T, not a mapping", dec)
	}
	rawCols, ok := m["columns"].([]any)
	if !ok {
		return nil, fmt.Errorf("protocol: select result missing columns")
	}
	rawRows, ok := m["rows"].([]any)
	if !ok {
		return nil, fmt.Errorf("protocol: select result missing rows")
	}

	out := &executor.Rows{Columns: make([]string, len(rawCols)), Rows: make([][]any, len(rawRows))}
	for i, c := range rawCols {
		s, ok := c.(string)
		if !ok {
			return nil, fmt.Errorf("protocol: column name is %T", c)
		}
		out.Columns[i] = s
	}
	for i, r := range rawRows {
		row, ok := r.([]any)
		if !ok {
			return nil, fmt.Errorf("protocol: row %d is %T", i, r)
		}
		out.Rows[i] = row
	}
	return out, nil
}

func EncodeExec(e *executor.Exec) (wire.Value, error) {
	return wire.Encode(map[string]any{
		"rowsAffected": e.RowsAffected,
		"lastInsertId": e.LastInsertID,
	})
}

func DecodeExec(v wire.Value) (*executor.Exec, error) {
	dec, err := wire.Decode(v)
	if err != nil {
		return nil, err
	}
	m, ok := dec.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("protocol: exec result is %T, not a mapping", dec)
	}
	out := &executor.Exec{}
	if n, ok := m["rowsAffected"].(int64); ok {
		out.RowsAffected = n
	}
	if n, ok := m["lastInsertId"].(int64); ok {
		out.LastInsertID = n
	}
	return out, nil
}
