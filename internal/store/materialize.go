package store

import "github.com/parsl-go/monitordb/internal/messages"

// Materialize projects msg onto the requested columns of table. A nil
// columns slice means "every column defined for table". A column absent
// from msg.Fields() materialises as nil rather than an error — per spec.md
// §4.1, a missing key is never a materialisation failure; nullability is
// enforced only by the store's column constraints.
func Materialize(t TableName, columns []string, msg messages.Fielder) messages.Row {
	if columns == nil {
		columns = Columns(t)
	}
	fields := msg.Fields()
	row := make(messages.Row, len(columns))
	for _, c := range columns {
		if v, ok := fields[c]; ok {
			row[c] = v
		} else {
			row[c] = nil
		}
	}
	return row
}

// MaterializeAll applies Materialize across every message in msgs, in order.
func MaterializeAll(t TableName, columns []string, msgs []messages.Fielder) []messages.Row {
	rows := make([]messages.Row, 0, len(msgs))
	for _, m := range msgs {
		rows = append(rows, Materialize(t, columns, m))
	}
	return rows
}
