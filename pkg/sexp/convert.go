package sexp

import "fmt"

// FromGo converts a native Go value into a wire Value.
//
// Supported inputs: nil, Value, bool (true → the symbol t, false → nil),
// the integer kinds except uint64 and uintptr, the float kinds, string,
// []any, and []Value. Method tasks
// may return any of these and the manager converts the result before
// sending the reply.
func FromGo(v any) (Value, error) {
	switch x := v.(type) {
	case nil:
		return Nil, nil
	case Value:
		return x, nil
	case bool:
		if x {
			return Symbol("t"), nil
		}
		return Nil, nil
	case int:
		return Int(x), nil
	case int8:
		return Int(x), nil
	case int16:
		return Int(x), nil
	case int32:
		return Int(x), nil
	case int64:
		return Int(x), nil
	case uint:
		return Int(x), nil
	case uint8:
		return Int(x), nil
	case uint16:
		return Int(x), nil
	case uint32:
		return Int(x), nil
	case float32:
		return Float(x), nil
	case float64:
		return Float(x), nil
	case string:
		return String(x), nil
	case []Value:
		return List(x), nil
	case []any:
		out := make(List, 0, len(x))
		for _, item := range x {
			cv, err := FromGo(item)
			if err != nil {
				return nil, err
			}
			out = append(out, cv)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("cannot represent %T as s-expression", v)
	}
}

// ToGo converts a wire Value into a native Go value: Int → int64,
// Float → float64, String → string, Symbol → Symbol, List → []any
// (empty list → nil).
func ToGo(v Value) any {
	switch x := v.(type) {
	case nil:
		return nil
	case Int:
		return int64(x)
	case Float:
		return float64(x)
	case String:
		return string(x)
	case Symbol:
		return x
	case List:
		if len(x) == 0 {
			return nil
		}
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = ToGo(item)
		}
		return out
	default:
		return v
	}
}
