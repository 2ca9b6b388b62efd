package travel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/dshills/langgraph-travel/graph"
)

// queryRows runs query and returns every row as a column-name map.
func (d *DB) queryRows(ctx context.Context, query string, args ...interface{}) ([]map[string]interface{}, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	results := []map[string]interface{}{}
	for rows.Next() {
		values := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]interface{}, len(cols))
		for i, col := range cols {
			row[col] = normalize(values[i])
		}
		results = append(results, row)
	}
	return results, rows.Err()
}

func normalize(v interface{}) interface{} {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

// listContent renders rows as the JSON list shown to the model.
func listContent(rows []map[string]interface{}) (map[string]interface{}, error) {
	data, err := json.Marshal(rows)
	if err != nil {
		return nil, err
	}
	return text(string(data)), nil
}

func text(s string) map[string]interface{} {
	return map[string]interface{}{"content": s}
}

// intArg reads an integer argument. Models send numbers as JSON floats and
// sometimes as strings.
func intArg(in map[string]interface{}, key string) (int64, error) {
	switch v := in[key].(type) {
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) || v != math.Trunc(v) || math.Abs(v) > 1<<53 {
			return 0, fmt.Errorf("%s must be an integer, got %v", key, v)
		}
		return int64(v), nil
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case json.Number:
		return v.Int64()
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
		}
		return n, nil
	case nil:
		return 0, fmt.Errorf("%s is required", key)
	default:
		return 0, fmt.Errorf("%s must be an integer, got %T", key, v)
	}
}

func stringArg(in map[string]interface{}, key string) string {
	switch v := in[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

var errNoPassenger = errors.New("No passenger ID configured.") //nolint:staticcheck // shown to the model

// passengerID returns the signed-in passenger from the run config carried
// in ctx.
func passengerID(ctx context.Context) (string, error) {
	cfg, _ := graph.RunConfigFromContext(ctx)
	id, ok := cfg.Value("passenger_id")
	if !ok || id == "" {
		return "", errNoPassenger
	}
	return id, nil
}

// filter accumulates optional WHERE conditions.
type filter struct {
	conds []string
	args  []interface{}
}

func (f *filter) like(col, value string) {
	if value == "" {
		return
	}
	f.conds = append(f.conds, col+" LIKE ?")
	f.args = append(f.args, "%"+value+"%")
}

// anyLike matches rows where col contains at least one of the comma
// separated keywords.
func (f *filter) anyLike(col, keywords string) {
	if keywords == "" {
		return
	}
	var ors []string
	for _, kw := range strings.Split(keywords, ",") {
		ors = append(ors, col+" LIKE ?")
		f.args = append(f.args, "%"+strings.TrimSpace(kw)+"%")
	}
	f.conds = append(f.conds, "("+strings.Join(ors, " OR ")+")")
}

func (f *filter) add(cond string, arg interface{}) {
	f.conds = append(f.conds, cond)
	f.args = append(f.args, arg)
}

func (f *filter) where() string {
	if len(f.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(f.conds, " AND ")
}
