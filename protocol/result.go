package protocol

// ResultSet represents a query result
type ResultSet struct {
	Columns      []ColumnDef
	Rows         [][]interface{}
	RowsAffected int64
}

// ColumnDef represents a column definition
type ColumnDef struct {
	Name string
	Type byte
}

// MySQL column type for VARCHAR results
const ColumnTypeVarString byte = 0xFD
