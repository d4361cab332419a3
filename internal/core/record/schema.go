package record

import (
	"fmt"
	"strings"
)

// ColumnType is the storage type of a field.
type ColumnType string

const (
	Text      ColumnType = "text"
	Timestamp ColumnType = "timestamp"
)

// Column is one candidate column of a target table.
type Column struct {
	Name string
	Type ColumnType
	// SQL is the column definition used when creating the table.
	SQL string
}

// Schema describes the fixed superset of columns for one item kind.
type Schema struct {
	Kind      Kind
	Table     string
	KeyColumn string
	// Columns lists every column, key first.
	Columns []Column
	index   map[string]int
}

func newSchema(kind Kind, table, key string, cols []Column) *Schema {
	s := &Schema{Kind: kind, Table: table, KeyColumn: key, Columns: cols, index: map[string]int{}}
	for i, c := range cols {
		s.index[c.Name] = i
	}
	return s
}

// Column looks up a column by name.
func (s *Schema) Column(name string) (Column, bool) {
	i, ok := s.index[name]
	if !ok {
		return Column{}, false
	}
	return s.Columns[i], true
}

// Fields lists the non-key column names.
func (s *Schema) Fields() []string {
	out := make([]string, 0, len(s.Columns)-1)
	for _, c := range s.Columns {
		if c.Name != s.KeyColumn {
			out = append(out, c.Name)
		}
	}
	return out
}

// CreateTableSQL returns an idempotent CREATE TABLE statement.
func (s *Schema) CreateTableSQL() string {
	defs := make([]string, 0, len(s.Columns))
	for _, c := range s.Columns {
		defs = append(defs, fmt.Sprintf("%s %s", c.Name, c.SQL))
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", s.Table, strings.Join(defs, ",\n\t"))
}

func text(name, sql string) Column { return Column{Name: name, Type: Text, SQL: sql} }
func stamp(name string) Column     { return Column{Name: name, Type: Timestamp, SQL: "TIMESTAMP"} }

var requests = newSchema(KindRequest, "requests", "id", []Column{
	text("id", "INT PRIMARY KEY"),
	text("room", "VARCHAR(20)"),
	text("status", "VARCHAR(20)"),
	text("building", "VARCHAR(50)"),
	text("tag", "VARCHAR(50)"),
	stamp("accept_date"),
	stamp("reject_date"),
	text("reject_reason", "TEXT"),
	text("location", "VARCHAR(50)"),
	text("item_description", "TEXT"),
	text("work_order_num", "VARCHAR(25)"),
	text("area_description", "VARCHAR(50)"),
	text("requested_action", "TEXT"),
})

var orders = newSchema(KindOrder, "orders", "order_number", []Column{
	text("order_number", "VARCHAR(15) PRIMARY KEY"),
	text("facility", "VARCHAR(50)"),
	text("building", "VARCHAR(50)"),
	text("location_id", "VARCHAR(20)"),
	text("priority", "TEXT"),
	text("request_date", "TEXT"),
	text("schedule_date", "TEXT"),
	text("work_status", "TEXT"),
	text("date_closed", "TEXT"),
	text("main_charge_account", "TEXT"),
	text("task_code", "TEXT"),
	text("reference_number", "TEXT"),
	text("tag_number", "TEXT"),
	text("item_description", "TEXT"),
	text("request_time", "TEXT"),
	text("date_last_posted", "TEXT"),
	text("trade", "TEXT"),
	text("contractor_name", "TEXT"),
	text("est_completion_date", "TEXT"),
	text("task_description", "TEXT"),
	text("requested_action", "TEXT"),
	text("corrective_action", "TEXT"),
})

// SchemaFor returns the schema of a kind. Unknown kinds get the request schema.
func SchemaFor(k Kind) *Schema {
	if k == KindOrder {
		return orders
	}
	return requests
}

// Schemas lists both schemas in creation order.
func Schemas() []*Schema { return []*Schema{requests, orders} }
