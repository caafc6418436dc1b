package repository

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/coupon-engine/internal/domain/coupon"
)

// The used_by JSONB column and the redis cache payload share this codec.
// Decimals travel as strings so no precision is lost in JSON numbers.

func encodeRedemption(e *jx.Encoder, r coupon.Redemption) {
	e.ObjStart()
	e.FieldStart("userId")
	e.Str(r.UserID)
	e.FieldStart("usedAt")
	e.Str(r.UsedAt.UTC().Format(time.RFC3339Nano))
	e.FieldStart("orderAmount")
	e.Str(r.OrderAmount.String())
	e.FieldStart("discountAmount")
	e.Str(r.DiscountAmount.String())
	e.ObjEnd()
}

func marshalRedemption(r coupon.Redemption) []byte {
	var e jx.Encoder
	encodeRedemption(&e, r)
	return e.Bytes()
}

func decodeRedemption(d *jx.Decoder) (coupon.Redemption, error) {
	var r coupon.Redemption
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "userId":
			r.UserID, err = d.Str()
		case "usedAt":
			r.UsedAt, err = decodeTime(d)
		case "orderAmount":
			r.OrderAmount, err = decodeDecimal(d)
		case "discountAmount":
			r.DiscountAmount, err = decodeDecimal(d)
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrapf(err, "field %q", key)
		}
		return nil
	})
	return r, err
}

// unmarshalRedemptions decodes the used_by array. An empty or null document
// yields an empty trail.
func unmarshalRedemptions(data []byte) ([]coupon.Redemption, error) {
	if len(data) == 0 {
		return nil, nil
	}
	d := jx.DecodeBytes(data)
	if d.Next() == jx.Null {
		return nil, nil
	}

	var out []coupon.Redemption
	if err := d.Arr(func(d *jx.Decoder) error {
		r, err := decodeRedemption(d)
		if err != nil {
			return err
		}
		out = append(out, r)
		return nil
	}); err != nil {
		return nil, errors.Wrap(err, "decode used_by")
	}
	return out, nil
}

// marshalCachedCoupon encodes c without its audit trail.
func marshalCachedCoupon(c *coupon.Coupon) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("id")
	e.Str(c.ID)
	e.FieldStart("code")
	e.Str(c.Code)
	e.FieldStart("description")
	e.Str(c.Description)
	e.FieldStart("discountType")
	e.Str(string(c.DiscountType))
	e.FieldStart("discountValue")
	e.Str(c.DiscountValue.String())
	e.FieldStart("minimumOrderAmount")
	e.Str(c.MinimumOrderAmount.String())
	e.FieldStart("usageLimit")
	if c.UsageLimit == nil {
		e.Null()
	} else {
		e.Int(*c.UsageLimit)
	}
	e.FieldStart("usageCount")
	e.Int(c.UsageCount)
	e.FieldStart("isActive")
	e.Bool(c.IsActive)
	e.FieldStart("createdBy")
	e.Str(c.CreatedBy)
	e.FieldStart("createdAt")
	e.Str(c.CreatedAt.UTC().Format(time.RFC3339Nano))
	e.FieldStart("updatedAt")
	e.Str(c.UpdatedAt.UTC().Format(time.RFC3339Nano))
	e.ObjEnd()
	return e.Bytes()
}

func unmarshalCachedCoupon(data []byte) (*coupon.Coupon, error) {
	var c coupon.Coupon
	err := jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			c.ID, err = d.Str()
		case "code":
			c.Code, err = d.Str()
		case "description":
			c.Description, err = d.Str()
		case "discountType":
			var s string
			s, err = d.Str()
			c.DiscountType = coupon.DiscountType(s)
		case "discountValue":
			c.DiscountValue, err = decodeDecimal(d)
		case "minimumOrderAmount":
			c.MinimumOrderAmount, err = decodeDecimal(d)
		case "usageLimit":
			if d.Next() == jx.Null {
				err = d.Null()
				break
			}
			var n int
			n, err = d.Int()
			c.UsageLimit = &n
		case "usageCount":
			c.UsageCount, err = d.Int()
		case "isActive":
			c.IsActive, err = d.Bool()
		case "createdBy":
			c.CreatedBy, err = d.Str()
		case "createdAt":
			c.CreatedAt, err = decodeTime(d)
		case "updatedAt":
			c.UpdatedAt, err = decodeTime(d)
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrapf(err, "field %q", key)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode cached coupon")
	}
	return &c, nil
}

func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	var raw string
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Decimal{}, err
		}
		raw = s
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.Decimal{}, err
		}
		raw = n.String()
	default:
		return decimal.Decimal{}, errors.Errorf("unexpected %s for decimal", d.Next())
	}
	return decimal.NewFromString(raw)
}

func decodeTime(d *jx.Decoder) (time.Time, error) {
	s, err := d.Str()
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339Nano, s)
}
