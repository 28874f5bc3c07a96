package models

import (
	"database/sql/driver"
	"fmt"
	"math/big"
	"strconv"
)

// BigNum is an arbitrary-precision integer used for on-chain token amounts.
// It is stored as a Postgres numeric (string form) and serialized to JSON as
// a decimal string so precision never degrades through float64.
type BigNum struct {
	big.Int
}

// NewBigNum returns a BigNum holding v.
func NewBigNum(v int64) *BigNum {
	n := &BigNum{}
	n.SetInt64(v)
	return n
}

// BigNumFromString parses a base-10 string into a BigNum.
func BigNumFromString(s string) (*BigNum, error) {
	n := &BigNum{}
	if _, ok := n.SetString(s, 10); !ok {
		return nil, fmt.Errorf("invalid numeric value %q", s)
	}
	return n, nil
}

// Div returns n / d using integer division.
func (n *BigNum) Div(d int64) *BigNum {
	out := &BigNum{}
	out.Quo(&n.Int, big.NewInt(d))
	return out
}

// Value implements driver.Valuer.
func (n *BigNum) Value() (driver.Value, error) {
	if n == nil {
		return "0", nil
	}
	return n.String(), nil
}

// Scan implements sql.Scanner.
func (n *BigNum) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		n.SetInt64(0)
		return nil
	case int64:
		n.SetInt64(v)
		return nil
	case string:
		if _, ok := n.SetString(v, 10); !ok {
			return fmt.Errorf("cannot scan %q into BigNum", v)
		}
		return nil
	case []byte:
		if _, ok := n.SetString(string(v), 10); !ok {
			return fmt.Errorf("cannot scan %q into BigNum", v)
		}
		return nil
	default:
		return fmt.Errorf("cannot scan %T into BigNum", src)
	}
}

// MarshalJSON implements json.Marshaler.
func (n *BigNum) MarshalJSON() ([]byte, error) {
	if n == nil {
		return []byte(`"0"`), nil
	}
	return []byte(strconv.Quote(n.String())), nil
}

// UnmarshalJSON implements json.Unmarshaler. Accepts both quoted and bare
// numeric forms.
func (n *BigNum) UnmarshalJSON(data []byte) error {
	s := string(data)
	if unquoted, err := strconv.Unquote(s); err == nil {
		s = unquoted
	}
	if _, ok := n.SetString(s, 10); !ok {
		return fmt.Errorf("invalid numeric JSON value %s", data)
	}
	return nil
}
