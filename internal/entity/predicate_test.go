package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fraudlens/fraudlens/internal/models"
)

func TestBuildPredicate(t *testing.T) {
	tests := []struct {
		name     string
		entity   models.Entity
		dialect  Dialect
		wantSQL  string
		wantArgs []any
	}{
		{
			name:     "email is case-insensitive",
			entity:   models.Entity{Type: models.EntityEmail, NormalizedValue: "a@b.co"},
			dialect:  DialectRelational,
			wantSQL:  "LOWER(email_normalized) = ?",
			wantArgs: []any{"a@b.co"},
		},
		{
			name:     "columnar upper-cases columns",
			entity:   models.Entity{Type: models.EntityEmail, NormalizedValue: "a@b.co"},
			dialect:  DialectColumnar,
			wantSQL:  "LOWER(EMAIL_NORMALIZED) = ?",
			wantArgs: []any{"a@b.co"},
		},
		{
			name:     "card fingerprint expands to conjunction",
			entity:   models.Entity{Type: models.EntityCardFingerprint, NormalizedValue: "451234|9876"},
			dialect:  DialectRelational,
			wantSQL:  "(card_bin = ? AND last_four = ?)",
			wantArgs: []any{"451234", "9876"},
		},
		{
			name:     "merchant maps to store_id",
			entity:   models.Entity{Type: models.EntityMerchant, NormalizedValue: "store-001"},
			dialect:  DialectRelational,
			wantSQL:  "store_id = ?",
			wantArgs: []any{"store-001"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frag, err := BuildPredicate(tt.entity, tt.dialect)
			require.NoError(t, err)
			assert.Equal(t, tt.wantSQL, frag.SQL)
			assert.Equal(t, tt.wantArgs, frag.Args)
		})
	}
}

func TestBuildCompoundPredicate(t *testing.T) {
	c := models.CompoundEntity{
		Op: models.CompoundAnd,
		Entities: []models.Entity{
			{Type: models.EntityEmail, NormalizedValue: "a@b.co"},
			{Type: models.EntityDevice, NormalizedValue: "dev-1"},
		},
	}

	frag, err := BuildCompoundPredicate(c, DialectRelational)
	require.NoError(t, err)
	assert.Equal(t, "(LOWER(email_normalized) = ? AND device_id = ?)", frag.SQL)
	assert.Equal(t, []any{"a@b.co", "dev-1"}, frag.Args)

	c.Op = models.CompoundOr
	frag, err = BuildCompoundPredicate(c, DialectRelational)
	require.NoError(t, err)
	assert.Contains(t, frag.SQL, " OR ")
}

func TestBuildCompoundPredicate_Empty(t *testing.T) {
	_, err := BuildCompoundPredicate(models.CompoundEntity{Op: models.CompoundAnd}, DialectRelational)
	require.Error(t, err)
}
