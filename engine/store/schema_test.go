package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recordsLayout() []Column {
	return []Column{
		{Name: "email", NotNull: true, PrimaryKey: true},
		{Name: "name", NotNull: true},
		{Name: "credential", NotNull: true},
	}
}

func TestCheckRecordsLayout(t *testing.T) {
	t.Run("Should accept the records layout", func(t *testing.T) {
		assert.NoError(t, CheckRecordsLayout(recordsLayout()))
	})

	t.Run("Should accept a primary key reported as nullable", func(t *testing.T) {
		cols := recordsLayout()
		cols[0].NotNull = false
		assert.NoError(t, CheckRecordsLayout(cols))
	})

	t.Run("Should reject a table without a primary key on email", func(t *testing.T) {
		cols := []Column{{Name: "email"}, {Name: "name"}, {Name: "credential"}}
		err := CheckRecordsLayout(cols)
		require.Error(t, err)
		assert.Equal(t,
			"schema mismatch: credential allows NULL; email is not the primary key; name allows NULL",
			err.Error())
	})

	t.Run("Should reject a composite primary key", func(t *testing.T) {
		cols := recordsLayout()
		cols[1].PrimaryKey = true
		assert.ErrorContains(t, CheckRecordsLayout(cols), "name is part of the primary key")
	})

	t.Run("Should reject missing and extra columns", func(t *testing.T) {
		cols := []Column{{Name: "id", NotNull: true, PrimaryKey: true}, {Name: "email", PrimaryKey: true}}
		err := CheckRecordsLayout(cols)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "missing column credential")
		assert.Contains(t, err.Error(), "missing column name")
		assert.Contains(t, err.Error(), "unexpected column id")
	})

	t.Run("Should reject an absent table", func(t *testing.T) {
		assert.ErrorContains(t, CheckRecordsLayout(nil), "missing column email")
	})
}
