package decode

import (
	"bytes"
	"fmt"
	"strconv"
)

// flexInt is an integer JSON field that tolerates quoted numbers and
// float-typed integers. Anything else is a decode error.
type flexInt int64

func (f *flexInt) UnmarshalJSON(data []byte) error {
	data = unquote(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = 0
		return nil
	}
	if v, err := strconv.ParseInt(string(data), 10, 64); err == nil {
		*f = flexInt(v)
		return nil
	}
	v, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("not a number: %q", data)
	}
	*f = flexInt(v)
	return nil
}

// flexFloat is a float JSON field that tolerates quoted numbers.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	data = unquote(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("not a number: %q", data)
	}
	*f = flexFloat(v)
	return nil
}

func unquote(data []byte) []byte {
	if len(data) >= 2 && data[0] == '"' && data[len(data)-1] == '"' {
		return data[1 : len(data)-1]
	}
	return data
}
