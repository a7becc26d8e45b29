package query

import (
	"fmt"
	"reflect"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TimeLayout is the fixed-width UTC layout used for stored timestamps.
// Fixed width keeps lexical order equal to chronological order.
const TimeLayout = "2006-01-02T15:04:05.000000000Z"

// Encode converts a Go field value to its canonical storage form:
// nil, int64, or string. Zero uuids and zero times encode as nil.
func Encode(v any) (any, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case uuid.UUID:
		if val == uuid.Nil {
			return nil, nil
		}
		return val.String(), nil
	case *uuid.UUID:
		if val == nil {
			return nil, nil
		}
		return Encode(*val)
	case time.Time:
		if val.IsZero() {
			return nil, nil
		}
		return val.UTC().Format(TimeLayout), nil
	case decimal.Decimal:
		return val.String(), nil
	case bool:
		if val {
			return int64(1), nil
		}
		return int64(0), nil
	case int:
		return int64(val), nil
	case int64:
		return val, nil
	case string:
		return val, nil
	}

	// Named string types such as model.Period.
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.String {
		return rv.String(), nil
	}
	return nil, fmt.Errorf("unsupported value type %T", v)
}

// Decode assigns a raw driver value to the field pointer dst.
// NULL resets dst to its zero value.
func Decode(dst any, src any) error {
	if b, ok := src.([]byte); ok {
		src = string(b)
	}

	switch d := dst.(type) {
	case *uuid.UUID:
		s, ok := src.(string)
		if src == nil || (ok && s == "") {
			*d = uuid.Nil
			return nil
		}
		if !ok {
			return fmt.Errorf("decode uuid from %T", src)
		}
		id, err := uuid.Parse(s)
		if err != nil {
			return fmt.Errorf("decode uuid: %w", err)
		}
		*d = id
		return nil

	case *time.Time:
		switch s := src.(type) {
		case nil:
			*d = time.Time{}
		case string:
			if s == "" {
				*d = time.Time{}
				return nil
			}
			t, err := time.Parse(time.RFC3339Nano, s)
			if err != nil {
				return fmt.Errorf("decode time: %w", err)
			}
			*d = t.UTC()
		case time.Time:
			*d = s.UTC()
		default:
			return fmt.Errorf("decode time from %T", src)
		}
		return nil

	case *decimal.Decimal:
		switch s := src.(type) {
		case nil:
			*d = decimal.Zero
		case string:
			v, err := decimal.NewFromString(s)
			if err != nil {
				return fmt.Errorf("decode decimal: %w", err)
			}
			*d = v
		case int64:
			*d = decimal.NewFromInt(s)
		case float64:
			*d = decimal.NewFromFloat(s)
		default:
			return fmt.Errorf("decode decimal from %T", src)
		}
		return nil

	case *bool:
		switch s := src.(type) {
		case nil:
			*d = false
		case int64:
			*d = s != 0
		case bool:
			*d = s
		default:
			return fmt.Errorf("decode bool from %T", src)
		}
		return nil

	case *int64:
		switch s := src.(type) {
		case nil:
			*d = 0
		case int64:
			*d = s
		case string:
			n, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return fmt.Errorf("decode int: %w", err)
			}
			*d = n
		default:
			return fmt.Errorf("decode int from %T", src)
		}
		return nil
	}

	rv := reflect.ValueOf(dst)
	if rv.Kind() == reflect.Pointer && rv.Elem().Kind() == reflect.String {
		switch s := src.(type) {
		case nil:
			rv.Elem().SetString("")
		case string:
			rv.Elem().SetString(s)
		default:
			return fmt.Errorf("decode string from %T", src)
		}
		return nil
	}
	return fmt.Errorf("unsupported destination %T", dst)
}

// Equal compares two field values by canonical encoding.
func Equal(a, b any) bool {
	if da, ok := a.(decimal.Decimal); ok {
		if db, ok := b.(decimal.Decimal); ok {
			return da.Equal(db)
		}
	}
	ea, errA := Encode(a)
	eb, errB := Encode(b)
	if errA != nil || errB != nil {
		return false
	}
	return ea == eb
}
