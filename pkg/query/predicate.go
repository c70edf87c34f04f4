// Package query composes the SQL that lists and searches books. Filters are
// expressed as predicates, a closed set of node types rendered to
// parameterized SQL, so no caller ever splices values into statement text.
package query

import (
	"strings"

	"github.com/unowned-ai/catalogue/pkg/db"
)

// Predicate is a boolean SQL expression. The implementations in this package
// are the only ones.
type Predicate interface {
	render(r *renderer)
}

// TextEquals matches a column equal to Value under the LOCALIZED collation.
type TextEquals struct {
	Column string
	Value  string
}

// TextLike matches a column containing Value, ignoring case. Both sides are
// case-folded with fold() because LIKE only folds ASCII.
type TextLike struct {
	Column string
	Value  string
}

// Exists matches when the subquery over From has a row satisfying Where.
type Exists struct {
	From  string
	Where Predicate
}

// And matches when every predicate matches. An empty And is true.
type And []Predicate

// Or matches when any predicate matches. An empty Or is false.
type Or []Predicate

// Not negates a predicate.
type Not struct {
	P Predicate
}

// Raw is a trusted SQL fragment with its arguments.
type Raw struct {
	SQL  string
	Args []any
}

// Render turns p into SQL text and its positional arguments.
func Render(p Predicate) (string, []any) {
	var r renderer
	p.render(&r)
	return r.sb.String(), r.args
}

type renderer struct {
	sb   strings.Builder
	args []any
}

func (r *renderer) write(s string, args ...any) {
	r.sb.WriteString(s)
	r.args = append(r.args, args...)
}

func (p TextEquals) render(r *renderer) {
	r.write(p.Column+" = ? COLLATE "+db.CollationName, p.Value)
}

func (p TextLike) render(r *renderer) {
	r.write(db.FoldFunction+"("+p.Column+`) LIKE ? ESCAPE '\'`, ContainsPattern(p.Value))
}

func (p Exists) render(r *renderer) {
	r.write("EXISTS (SELECT 1 FROM " + p.From)
	if p.Where != nil {
		r.write(" WHERE ")
		p.Where.render(r)
	}
	r.write(")")
}

func (p And) render(r *renderer) { renderJunction(r, p, " AND ", "1") }

func (p Or) render(r *renderer) { renderJunction(r, p, " OR ", "0") }

func renderJunction(r *renderer, ps []Predicate, op, empty string) {
	if len(ps) == 0 {
		r.write(empty)
		return
	}
	if len(ps) == 1 {
		ps[0].render(r)
		return
	}
	r.write("(")
	for i, p := range ps {
		if i > 0 {
			r.write(op)
		}
		p.render(r)
	}
	r.write(")")
}

func (p Not) render(r *renderer) {
	r.write("NOT (")
	p.P.render(r)
	r.write(")")
}

func (p Raw) render(r *renderer) {
	r.write(p.SQL, p.Args...)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// ContainsPattern is the LIKE pattern matching any text that contains s,
// case-folded and with LIKE wildcards in s escaped.
func ContainsPattern(s string) string {
	return "%" + likeEscaper.Replace(db.Fold(s)) + "%"
}
