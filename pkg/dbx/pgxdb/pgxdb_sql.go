package pgxdb

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/jackc/pgx/v5"
	"github.com/marcodd23/go-micro-dao/pkg/dbx"
	"github.com/pkg/errors"
)

// splitTableName turns "schema.table" or "table" into a pgx.Identifier.
func splitTableName(tableName string) pgx.Identifier {
	parts := strings.Split(tableName, ".")
	if len(parts) == 2 {
		// Schema and table are provided
		return pgx.Identifier{parts[0], parts[1]}
	}

	// Only the table name is provided, assume the default schema
	return pgx.Identifier{tableName}
}

func quoteTable(meta *dbx.EntityMeta) string {
	return splitTableName(meta.Table()).Sanitize()
}

func quoteColumn(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

func quoteColumns(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = quoteColumn(n)
	}

	return strings.Join(quoted, ", ")
}

func lockClause(mode dbx.LockMode) string {
	if mode == dbx.LockUpgradeNoWait {
		return " FOR UPDATE NOWAIT"
	}

	return ""
}

func selectByIDSQL(meta *dbx.EntityMeta, mode dbx.LockMode) string {
	return fmt.Sprintf("SELECT %s FROM %s WHERE %s = $1%s",
		quoteColumns(meta.ColumnNames()), quoteTable(meta), quoteColumn(meta.IDColumn()), lockClause(mode))
}

func selectByIDsSQL(meta *dbx.EntityMeta, mode dbx.LockMode) string {
	return fmt.Sprintf("SELECT %s FROM %s WHERE %s = ANY($1) ORDER BY %s%s",
		quoteColumns(meta.ColumnNames()), quoteTable(meta), quoteColumn(meta.IDColumn()),
		quoteColumn(meta.IDColumn()), lockClause(mode))
}

func placeholders(from, n int) string {
	ph := make([]string, n)
	for i := range ph {
		ph[i] = "$" + strconv.Itoa(from+i)
	}

	return strings.Join(ph, ", ")
}

// insertSQL leaves out the identity column when the entity has none yet.
func insertSQL(meta *dbx.EntityMeta, entity any) (string, []any) {
	names, values := meta.Values(entity, meta.ID(entity) != 0)

	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING %s",
		quoteTable(meta), quoteColumns(names), placeholders(1, len(values)), quoteColumn(meta.IDColumn())), values
}

func updateSQL(meta *dbx.EntityMeta, entity any) (string, []any) {
	names, values := meta.Values(entity, false)

	sets := make([]string, len(names))
	for i, n := range names {
		sets[i] = fmt.Sprintf("%s = $%d", quoteColumn(n), i+1)
	}

	return fmt.Sprintf("UPDATE %s SET %s WHERE %s = $%d",
		quoteTable(meta), strings.Join(sets, ", "), quoteColumn(meta.IDColumn()), len(values)+1), append(values, meta.ID(entity))
}

// upsertSQL inserts the entity with its identity, updating every column on conflict.
func upsertSQL(meta *dbx.EntityMeta, entity any) (string, []any) {
	names, values := meta.Values(entity, true)

	sets := make([]string, 0, len(names))
	for _, n := range names {
		if n == meta.IDColumn() {
			continue
		}

		sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", quoteColumn(n), quoteColumn(n)))
	}

	conflict := "DO NOTHING"
	if len(sets) > 0 {
		conflict = "DO UPDATE SET " + strings.Join(sets, ", ")
	}

	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) %s RETURNING %s",
		quoteTable(meta), quoteColumns(names), placeholders(1, len(values)),
		quoteColumn(meta.IDColumn()), conflict, quoteColumn(meta.IDColumn())), values
}

// whereSQL renders the restrictions of c with positional parameters starting at $1.
func whereSQL(meta *dbx.EntityMeta, c dbx.Criteria) (string, []any, error) {
	restrictions := c.Restrictions()
	if len(restrictions) == 0 {
		return "", nil, nil
	}

	var (
		conds []string
		args  []any
	)

	for _, r := range restrictions {
		col, ok := meta.Column(r.Field)
		if !ok {
			return "", nil, errors.Errorf("unknown field %q of %s", r.Field, meta.Name())
		}

		name := quoteColumn(col.Name)

		switch r.Op {
		case dbx.OpIsNull, dbx.OpIsNotNull:
			conds = append(conds, fmt.Sprintf("%s %s", name, r.Op))
		case dbx.OpIn:
			values, _ := r.Value.([]any)
			if len(values) == 0 {
				conds = append(conds, "FALSE")
				continue
			}

			conds = append(conds, fmt.Sprintf("%s IN (%s)", name, placeholders(len(args)+1, len(values))))
			args = append(args, values...)
		case dbx.OpEq, dbx.OpNe, dbx.OpGt, dbx.OpGe, dbx.OpLt, dbx.OpLe, dbx.OpLike:
			args = append(args, r.Value)
			conds = append(conds, fmt.Sprintf("%s %s $%d", name, r.Op, len(args)))
		default:
			return "", nil, errors.Errorf("unsupported operator %q", r.Op)
		}
	}

	return " WHERE " + strings.Join(conds, " AND "), args, nil
}

func orderSQL(meta *dbx.EntityMeta, c dbx.Criteria) (string, error) {
	orders := c.Orders()
	if len(orders) == 0 {
		return "", nil
	}

	parts := make([]string, len(orders))

	for i, o := range orders {
		col, ok := meta.Column(o.Field)
		if !ok {
			return "", errors.Errorf("unknown order field %q of %s", o.Field, meta.Name())
		}

		dir := "ASC"
		if o.Desc {
			dir = "DESC"
		}

		parts[i] = quoteColumn(col.Name) + " " + dir
	}

	return " ORDER BY " + strings.Join(parts, ", "), nil
}

func pageSQL(p dbx.Page) string {
	var b strings.Builder

	if p.HasLimit() {
		b.WriteString(" LIMIT ")
		b.WriteString(strconv.Itoa(p.Limit))
	}

	if p.HasOffset() {
		b.WriteString(" OFFSET ")
		b.WriteString(strconv.Itoa(p.Offset))
	}

	return b.String()
}

func criteriaSQL(meta *dbx.EntityMeta, c dbx.Criteria, p dbx.Page) (string, []any, error) {
	where, args, err := whereSQL(meta, c)
	if err != nil {
		return "", nil, err
	}

	order, err := orderSQL(meta, c)
	if err != nil {
		return "", nil, err
	}

	return fmt.Sprintf("SELECT %s FROM %s%s%s%s",
		quoteColumns(meta.ColumnNames()), quoteTable(meta), where, order, pageSQL(p)), args, nil
}

func aggregateSQL(meta *dbx.EntityMeta, a dbx.Aggregate) (string, []any, error) {
	where, args, err := whereSQL(meta, a.Criteria)
	if err != nil {
		return "", nil, err
	}

	var projection string

	switch a.Kind {
	case dbx.Count:
		projection = "COUNT(*)::text"
	case dbx.Sum, dbx.Max:
		col, ok := meta.Column(a.Field)
		if !ok {
			return "", nil, errors.Errorf("unknown aggregate field %q of %s", a.Field, meta.Name())
		}

		if a.Kind == dbx.Sum {
			projection = fmt.Sprintf("COALESCE(SUM(%s), 0)::text", quoteColumn(col.Name))
		} else {
			projection = fmt.Sprintf("MAX(%s)::text", quoteColumn(col.Name))
		}
	default:
		return "", nil, errors.Errorf("unsupported aggregate %s", a.Kind)
	}

	return fmt.Sprintf("SELECT %s FROM %s%s", projection, quoteTable(meta), where), args, nil
}

// textSQL prepares a TextQuery for pgx. Entity queries are translated to table and column names.
// A bare "from ..." query and a "select <alias> from <Entity> <alias> ..." query are given the
// entity's column list. Named :params become pgx @params bound through pgx.NamedArgs; native
// queries with positional Args are sent as they are. Params and Args cannot be mixed.
func textSQL(meta *dbx.EntityMeta, q dbx.TextQuery, selecting bool) (string, []any, error) {
	if len(q.Params) > 0 && len(q.Args) > 0 {
		return "", nil, errors.Errorf("query %q mixes named params and positional args", q.Text)
	}

	if q.Native && len(q.Params) == 0 {
		return q.Text, q.Args, nil
	}

	ident := func(s string) string { return s }
	if !q.Native {
		ident = entityIdentifier(meta)
	}

	var text string

	switch alias, rest, ok := entityProjection(meta, q.Text); {
	case selecting && !q.Native && ok:
		text = fmt.Sprintf("SELECT %s%s", aliasColumns(alias, meta.ColumnNames()), rewriteQuery(rest, ident, q.Params))
	case selecting && !q.Native && strings.EqualFold(firstWord(q.Text), "from"):
		text = fmt.Sprintf("SELECT %s %s", quoteColumns(meta.ColumnNames()), rewriteQuery(q.Text, ident, q.Params))
	default:
		text = rewriteQuery(q.Text, ident, q.Params)
	}

	if len(q.Params) == 0 {
		return text, q.Args, nil
	}

	return text, []any{pgx.NamedArgs(q.Params)}, nil
}

// entityProjection matches "select n from Entity n ..." (or "... Entity as n ...") and returns
// the alias and the text following the projection.
func entityProjection(meta *dbx.EntityMeta, text string) (string, string, bool) {
	fields := strings.Fields(text)
	if len(fields) < 5 || !strings.EqualFold(fields[0], "select") || !strings.EqualFold(fields[2], "from") {
		return "", "", false
	}

	alias := fields[1]
	if !isIdentifier(alias) || fields[3] != meta.Name() {
		return "", "", false
	}

	declared := fields[4]
	if strings.EqualFold(declared, "as") && len(fields) > 5 {
		declared = fields[5]
	}

	if declared != alias {
		return "", "", false
	}

	rest := strings.TrimLeftFunc(text, unicode.IsSpace)[len(fields[0]):]
	rest = strings.TrimLeftFunc(rest, unicode.IsSpace)[len(alias):]

	return alias, rest, true
}

func aliasColumns(alias string, names []string) string {
	qualified := make([]string, len(names))
	for i, n := range names {
		qualified[i] = alias + "." + quoteColumn(n)
	}

	return strings.Join(qualified, ", ")
}

func isIdentifier(s string) bool {
	for i, r := range s {
		if !(r == '_' || unicode.IsLetter(r) || (i > 0 && unicode.IsDigit(r))) {
			return false
		}
	}

	return s != ""
}

func firstWord(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}

	return fields[0]
}

// entityIdentifier maps the entity name to its table and field names to columns,
// keeping an optional alias qualifier (n.Text -> n.text).
func entityIdentifier(meta *dbx.EntityMeta) func(string) string {
	return func(word string) string {
		if word == meta.Name() {
			return quoteTable(meta)
		}

		qualifier, name := "", word
		if i := strings.LastIndex(word, "."); i >= 0 {
			qualifier, name = word[:i+1], word[i+1:]
		}

		for _, c := range meta.Columns() {
			if c.Field == name {
				return qualifier + quoteColumn(c.Name)
			}
		}

		return word
	}
}

// rewriteQuery maps every identifier outside string literals through ident
// and turns :name parameters into @name. ": name" is read as a parameter too when
// name is one of params. Casts (::) are kept.
func rewriteQuery(text string, ident func(string) string, params map[string]any) string {
	var b strings.Builder

	runes := []rune(text)
	isIdent := func(r rune) bool { return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) }

	for i := 0; i < len(runes); {
		r := runes[i]

		switch {
		case r == '\'':
			j := i + 1
			for j < len(runes) {
				if runes[j] == '\'' {
					if j+1 < len(runes) && runes[j+1] == '\'' {
						j += 2
						continue
					}

					break
				}
				j++
			}

			end := j + 1
			if end > len(runes) {
				end = len(runes)
			}

			b.WriteString(string(runes[i:end]))
			i = end
		case r == ':' && i+1 < len(runes) && runes[i+1] == ':':
			b.WriteString("::")
			i += 2
		case r == ':' && i+1 < len(runes) && isIdent(runes[i+1]):
			j := i + 1
			for j < len(runes) && isIdent(runes[j]) {
				j++
			}

			b.WriteString("@")
			b.WriteString(string(runes[i+1 : j]))
			i = j
		case r == ':' && i+1 < len(runes) && unicode.IsSpace(runes[i+1]) && spacedParam(runes[i+1:], params) != "":
			name := spacedParam(runes[i+1:], params)
			j := i + 1
			for unicode.IsSpace(runes[j]) {
				j++
			}

			b.WriteString("@")
			b.WriteString(name)
			i = j + len([]rune(name))
		case r == '_' || unicode.IsLetter(r):
			j := i + 1
			for j < len(runes) && (isIdent(runes[j]) || (runes[j] == '.' && j+1 < len(runes) && isIdent(runes[j+1]))) {
				j++
			}

			word := string(runes[i:j])
			if i > 0 && runes[i-1] == ':' {
				// cast target after ::
				b.WriteString(word)
			} else {
				b.WriteString(ident(word))
			}
			i = j
		default:
			b.WriteRune(r)
			i++
		}
	}

	return b.String()
}

// spacedParam returns the identifier at the start of runes, after whitespace, when it names a param.
func spacedParam(runes []rune, params map[string]any) string {
	i := 0
	for i < len(runes) && unicode.IsSpace(runes[i]) {
		i++
	}

	j := i
	for j < len(runes) && (runes[j] == '_' || unicode.IsLetter(runes[j]) || unicode.IsDigit(runes[j])) {
		j++
	}

	name := string(runes[i:j])
	if _, ok := params[name]; !ok || name == "" {
		return ""
	}

	return name
}
