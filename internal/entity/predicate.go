package entity

import (
	"fmt"
	"strings"

	"github.com/fraudlens/fraudlens/internal/errors"
	"github.com/fraudlens/fraudlens/internal/models"
)

// Dialect selects the column naming convention of the warehouse.
type Dialect string

const (
	// DialectColumnar is the columnar warehouse (upper-case columns).
	DialectColumnar Dialect = "columnar"
	// DialectRelational is the relational warehouse (lower-case columns).
	DialectRelational Dialect = "relational"
)

// SQLFragment is a parameterized WHERE-clause fragment. Placeholders use
// `?` and are rebound by the gateway for the target driver.
type SQLFragment struct {
	SQL  string
	Args []any
}

// Column mapping is fixed at compile time per dialect.
var entityColumns = map[models.EntityType]string{
	models.EntityEmail:    "email_normalized",
	models.EntityPhone:    "phone",
	models.EntityDevice:   "device_id",
	models.EntityIP:       "ip",
	models.EntityAccount:  "account_id",
	models.EntityMerchant: "store_id",
}

func column(name string, dialect Dialect) string {
	if dialect == DialectColumnar {
		return strings.ToUpper(name)
	}
	return name
}

// BuildPredicate produces the filter fragment selecting transactions for
// one entity. Email comparison is case-insensitive; card fingerprints
// expand to a conjunction on the BIN and last-four columns.
func BuildPredicate(e models.Entity, dialect Dialect) (SQLFragment, error) {
	switch e.Type {
	case models.EntityCardFingerprint:
		parts := strings.SplitN(e.NormalizedValue, "|", 2)
		if len(parts) != 2 {
			return SQLFragment{}, errors.Newf(errors.KindInvalidFormat,
				"malformed card fingerprint %q", e.NormalizedValue)
		}
		return SQLFragment{
			SQL:  fmt.Sprintf("(%s = ? AND %s = ?)", column("card_bin", dialect), column("last_four", dialect)),
			Args: []any{parts[0], parts[1]},
		}, nil
	case models.EntityEmail:
		return SQLFragment{
			SQL:  fmt.Sprintf("LOWER(%s) = ?", column(entityColumns[e.Type], dialect)),
			Args: []any{e.NormalizedValue},
		}, nil
	default:
		col, ok := entityColumns[e.Type]
		if !ok {
			return SQLFragment{}, errors.Newf(errors.KindInvalidFormat,
				"no column mapping for entity type %q", e.Type)
		}
		return SQLFragment{
			SQL:  fmt.Sprintf("%s = ?", column(col, dialect)),
			Args: []any{e.NormalizedValue},
		}, nil
	}
}

// BuildCompoundPredicate joins per-entity predicates under the compound
// boolean operator, preserving entity order.
func BuildCompoundPredicate(c models.CompoundEntity, dialect Dialect) (SQLFragment, error) {
	if len(c.Entities) == 0 {
		return SQLFragment{}, errors.New(errors.KindInvalidFormat, "compound entity has no members")
	}

	joiner := " AND "
	if c.Op == models.CompoundOr {
		joiner = " OR "
	}

	var clauses []string
	var args []any
	for _, e := range c.Entities {
		frag, err := BuildPredicate(e, dialect)
		if err != nil {
			return SQLFragment{}, err
		}
		clauses = append(clauses, frag.SQL)
		args = append(args, frag.Args...)
	}

	return SQLFragment{
		SQL:  "(" + strings.Join(clauses, joiner) + ")",
		Args: args,
	}, nil
}
