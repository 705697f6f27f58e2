package postgres

import (
	"fmt"
	"math/big"
)

// Wei amounts travel as decimal text and are stored as NUMERIC(78,0), which
// holds any uint256.

func numeric(x *big.Int) any {
	if x == nil {
		return nil
	}
	return x.String()
}

func parseNumeric(s *string) (*big.Int, error) {
	if s == nil {
		return nil, nil
	}
	v, ok := new(big.Int).SetString(*s, 10)
	if !ok {
		return nil, fmt.Errorf("postgres: bad numeric %q", *s)
	}
	return v, nil
}

// limitArg turns a non-positive limit into NULL, which Postgres reads as
// LIMIT ALL.
func limitArg(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}
