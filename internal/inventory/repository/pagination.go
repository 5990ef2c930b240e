package repository

import (
	"fmt"
	"time"
)

const (
	defaultPerPage = 20
	maxPerPage     = 200
)

// paginate appends LIMIT/OFFSET placeholders after the existing args.
func paginate(query string, args []interface{}, page, perPage int) (string, []interface{}) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = defaultPerPage
	}
	if perPage > maxPerPage {
		perPage = maxPerPage
	}

	query += fmt.Sprintf(` LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	return query, append(args, perPage, (page-1)*perPage)
}

// sqlDate renders a calendar day for DATE parameters so the session time
// zone never shifts it.
func sqlDate(t time.Time) string {
	return t.Format("2006-01-02")
}
