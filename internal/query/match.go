package query

import "fmt"

// Lookup returns the current Go value of a column.
type Lookup func(column string) (any, bool)

// Match evaluates p against a record in memory with the same semantics the
// compiled SQL has against stored rows. A nil predicate matches.
func Match(p Predicate, get Lookup) (bool, error) {
	if p == nil {
		return true, nil
	}

	switch pred := p.(type) {
	case Equals:
		return matchEquals(pred.Field, pred.Value, get)
	case *Equals:
		return matchEquals(pred.Field, pred.Value, get)
	case NotEquals:
		return matchNotEquals(pred, get)
	case *NotEquals:
		return matchNotEquals(*pred, get)
	case In:
		return matchIn(pred, get)
	case *In:
		return matchIn(*pred, get)
	case And:
		return matchAnd(pred, get)
	case *And:
		return matchAnd(*pred, get)
	default:
		return false, fmt.Errorf("unsupported predicate type: %T", p)
	}
}

func encodedField(name string, get Lookup) (any, error) {
	raw, ok := get(name)
	if !ok {
		return nil, fmt.Errorf("unknown field %q", name)
	}
	return Encode(raw)
}

func matchEquals(name string, value any, get Lookup) (bool, error) {
	have, err := encodedField(name, get)
	if err != nil {
		return false, err
	}
	want, err := Encode(value)
	if err != nil {
		return false, err
	}
	return have == want, nil
}

func matchNotEquals(ne NotEquals, get Lookup) (bool, error) {
	have, err := encodedField(ne.Field, get)
	if err != nil {
		return false, err
	}
	want, err := Encode(ne.Value)
	if err != nil {
		return false, err
	}
	if want == nil {
		return have != nil, nil
	}
	return have == nil || have != want, nil
}

func matchIn(in In, get Lookup) (bool, error) {
	have, err := encodedField(in.Field, get)
	if err != nil {
		return false, err
	}
	for _, raw := range in.Values {
		want, err := Encode(raw)
		if err != nil {
			return false, err
		}
		if have == want {
			return true, nil
		}
	}
	return false, nil
}

func matchAnd(and And, get Lookup) (bool, error) {
	for _, p := range and.Predicates {
		ok, err := Match(p, get)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}
