package main

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/coupon-engine/internal/domain/coupon"
)

func collect(t *testing.T, input string) ([]row, error) {
	t.Helper()
	out := make(chan row, 64)
	err := parseCSV(context.Background(), "test.csv", strings.NewReader(input), out)
	close(out)
	var rows []row
	for r := range out {
		rows = append(rows, r)
	}
	return rows, err
}

func TestParseCSV(t *testing.T) {
	rows, err := collect(t, strings.Join([]string{
		"code,description,discount_value,minimum_order_amount,usage_limit,is_active",
		" save20 ,20% off,20,500,100,true",
		"welcome,,10,,,",
		"retired,old,5,0,,false",
		"toomuch,,150,,,",
		"nan,,ten,,,",
		"badlimit,,10,,many,",
		"bad code!,,10,,,",
	}, "\n"))
	require.NoError(t, err)
	require.Len(t, rows, 7)

	first := rows[0]
	require.NoError(t, first.Err)
	assert.Equal(t, 2, first.Line)
	assert.Equal(t, "SAVE20", first.Draft.Code)
	assert.Equal(t, "20% off", first.Draft.Description)
	assert.Equal(t, "500", first.Draft.MinimumOrderAmount.String())
	require.NotNil(t, first.Draft.UsageLimit)
	assert.Equal(t, 100, *first.Draft.UsageLimit)
	assert.True(t, first.Draft.IsActive)
	assert.Equal(t, coupon.DiscountPercentage, first.Draft.DiscountType)

	welcome := rows[1]
	require.NoError(t, welcome.Err)
	assert.Nil(t, welcome.Draft.UsageLimit)
	assert.True(t, welcome.Draft.MinimumOrderAmount.IsZero())
	assert.True(t, welcome.Draft.IsActive)

	require.NoError(t, rows[2].Err)
	assert.False(t, rows[2].Draft.IsActive)

	for _, tt := range []struct {
		idx   int
		field string
	}{
		{idx: 3, field: "discountValue"},
		{idx: 4, field: "discountValue"},
		{idx: 5, field: "usageLimit"},
		{idx: 6, field: "code"},
	} {
		var verr *coupon.ValidationError
		require.ErrorAs(t, rows[tt.idx].Err, &verr, "row %d", tt.idx)
		assert.Equal(t, tt.field, verr.Field, "row %d", tt.idx)
	}
}

func TestParseCSV_Header(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr string
	}{
		{name: "empty", input: "", wantErr: "read header"},
		{name: "missing code", input: "discount_value\n10\n", wantErr: `missing "code"`},
		{name: "missing value", input: "code\nSAVE\n", wantErr: `missing "discount_value"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := collect(t, tt.input)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseCSV_ColumnOrderAndCase(t *testing.T) {
	rows, err := collect(t, "Discount_Value,CODE\n15,spring\n")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.NoError(t, rows[0].Err)
	assert.Equal(t, "SPRING", rows[0].Draft.Code)
	assert.Equal(t, "15", rows[0].Draft.DiscountValue.String())
}

func TestParseCSV_MalformedRecord(t *testing.T) {
	rows, err := collect(t, "code,discount_value\n\"open,10\n")
	require.NoError(t, err)
	require.NotEmpty(t, rows)
	assert.Error(t, rows[0].Err)
}
