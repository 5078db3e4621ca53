package postgres

import (
	"fmt"
	"strings"

	"github.com/alanyoungcy/algomarkets/internal/domain"
)

// listQuery extends a base SELECT with the filters and pagination of
// domain.ListOpts.
type listQuery struct {
	sb   strings.Builder
	args []any
}

func newListQuery(base string, args ...any) *listQuery {
	q := &listQuery{args: args}
	q.sb.WriteString(base)
	return q
}

func (q *listQuery) arg(v any) string {
	q.args = append(q.args, v)
	return fmt.Sprintf("$%d", len(q.args))
}

// apply filters and orders on timeCol.
func (q *listQuery) apply(timeCol string, opts domain.ListOpts) (string, []any) {
	if opts.Since != nil {
		fmt.Fprintf(&q.sb, " AND %s >= %s", timeCol, q.arg(*opts.Since))
	}
	if opts.Until != nil {
		fmt.Fprintf(&q.sb, " AND %s <= %s", timeCol, q.arg(*opts.Until))
	}
	fmt.Fprintf(&q.sb, " ORDER BY %s DESC", timeCol)
	if opts.Limit > 0 {
		fmt.Fprintf(&q.sb, " LIMIT %s", q.arg(opts.Limit))
	}
	if opts.Offset > 0 {
		fmt.Fprintf(&q.sb, " OFFSET %s", q.arg(opts.Offset))
	}
	return q.sb.String(), q.args
}
