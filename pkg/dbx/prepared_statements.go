package dbx

// PreparedStatement represents a prepared statement query.
//
// A PreparedStatement encapsulates a SQL query that is prepared on every new connection
// and can be executed multiple times with different arguments. A native TextQuery whose
// Text equals the statement Name runs the prepared statement.
//
// Fields:
//   - Name: A unique name identifying the prepared statement.
//   - Query: The SQL query string, with positional placeholders ($1, $2, ...).
type PreparedStatement struct {
	Name  string
	Query string
}

// NewPreparedStatement creates a new prepared statement.
func NewPreparedStatement(name, query string) PreparedStatement {
	return PreparedStatement{Name: name, Query: query}
}

func (p PreparedStatement) GetName() string {
	return p.Name
}

func (p PreparedStatement) GetQuery() string {
	return p.Query
}

// Call returns the native query executing the statement with positional args.
// It only runs on stores that prepared the statement.
func (p PreparedStatement) Call(args ...any) TextQuery {
	return NativeQuery(p.Name, args...)
}
