package main

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
	"github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"

	"github.com/xenking/coupon-engine/internal/domain/coupon"
)

const (
	colCode          = "code"
	colDescription   = "description"
	colDiscountValue = "discount_value"
	colMinimum       = "minimum_order_amount"
	colUsageLimit    = "usage_limit"
	colActive        = "is_active"
)

// row is one parsed CSV record. Err is set when the record was rejected.
type row struct {
	File  string
	Line  int
	Draft coupon.Draft
	Err   error
}

// parseFile streams path into out, decompressing it when it ends in .gz.
func parseFile(ctx context.Context, path string, out chan<- row) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := pgzip.NewReader(f)
		if err != nil {
			return errors.Wrapf(err, "create gzip reader for %s", path)
		}
		defer func() { _ = gz.Close() }()
		r = gz
	}
	return parseCSV(ctx, path, r, out)
}

// parseCSV sends one row per record. Malformed records are reported through
// row.Err; only unreadable input or a bad header fail the whole file.
func parseCSV(ctx context.Context, name string, r io.Reader, out chan<- row) error {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return errors.Wrapf(err, "read header of %s", name)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, required := range []string{colCode, colDiscountValue} {
		if _, ok := cols[required]; !ok {
			return errors.Errorf("%s: missing %q column", name, required)
		}
	}

	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			if !send(ctx, out, row{File: name, Line: parseErr.Line, Err: err}) {
				return ctx.Err()
			}
			continue
		}
		if err != nil {
			return errors.Wrapf(err, "read %s", name)
		}

		line, _ := cr.FieldPos(0)
		d, err := recordDraft(cols, rec)
		if !send(ctx, out, row{File: name, Line: line, Draft: d, Err: err}) {
			return ctx.Err()
		}
	}
}

func send(ctx context.Context, out chan<- row, r row) bool {
	select {
	case out <- r:
		return true
	case <-ctx.Done():
		return false
	}
}

// recordDraft converts a CSV record into a normalized, validated draft.
func recordDraft(cols map[string]int, rec []string) (coupon.Draft, error) {
	field := func(name string) string {
		i, ok := cols[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	d := coupon.Draft{
		Code:        field(colCode),
		Description: field(colDescription),
		IsActive:    true,
	}

	var err error
	if d.DiscountValue, err = decimal.NewFromString(field(colDiscountValue)); err != nil {
		return d, &coupon.ValidationError{Field: "discountValue", Reason: "is not a number"}
	}
	if v := field(colMinimum); v != "" {
		if d.MinimumOrderAmount, err = decimal.NewFromString(v); err != nil {
			return d, &coupon.ValidationError{Field: "minimumOrderAmount", Reason: "is not a number"}
		}
	}
	if v := field(colUsageLimit); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return d, &coupon.ValidationError{Field: "usageLimit", Reason: "is not an integer"}
		}
		d.UsageLimit = &n
	}
	if v := field(colActive); v != "" {
		if d.IsActive, err = strconv.ParseBool(v); err != nil {
			return d, &coupon.ValidationError{Field: "isActive", Reason: "is not a boolean"}
		}
	}

	d = d.Normalize()
	return d, d.Validate()
}
