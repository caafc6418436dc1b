package repository

import (
	"testing"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/coupon-engine/internal/domain/coupon"
)

func TestMapWriteError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantField string
		wantDup   bool
	}{
		{name: "unique", err: &pgconn.PgError{Code: "23505"}, wantDup: true},
		{
			name:      "known check",
			err:       &pgconn.PgError{Code: "23514", ConstraintName: "coupons_discount_value_range"},
			wantField: "discountValue",
		},
		{
			name:      "unknown check",
			err:       &pgconn.PgError{Code: "23514", ConstraintName: "coupons_other"},
			wantField: "coupon",
		},
		{name: "numeric overflow", err: &pgconn.PgError{Code: "22003"}, wantField: "coupon"},
		{name: "wrapped", err: errors.Wrap(&pgconn.PgError{Code: "22003"}, "insert"), wantField: "coupon"},
		{name: "other sqlstate", err: &pgconn.PgError{Code: "40001"}},
		{name: "not a pg error", err: errors.New("boom")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mapWriteError(tt.err)
			switch {
			case tt.wantDup:
				require.ErrorIs(t, got, coupon.ErrDuplicateCode)
			case tt.wantField != "":
				require.ErrorIs(t, got, coupon.ErrInvalidCoupon)
				var verr *coupon.ValidationError
				require.ErrorAs(t, got, &verr)
				assert.Equal(t, tt.wantField, verr.Field)
			default:
				assert.NoError(t, got)
			}
		})
	}
}
