package sources

import (
	"encoding/json"
	"strconv"
	"strings"
)

// flexFloat unmarshals a price that upstream APIs serve inconsistently as a
// JSON number, a quoted number, or null.
type flexFloat struct {
	Value float64
	Set   bool
}

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" || s == `""` {
		return nil
	}
	s = strings.Trim(s, `"`)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		// Tolerate junk values; the listing is dropped downstream.
		return nil
	}
	f.Value = v
	f.Set = true
	return nil
}

var _ json.Unmarshaler = (*flexFloat)(nil)

// bearerHeaders builds the Authorization header map for key-carrying APIs.
func bearerHeaders(key string) map[string]string {
	if key == "" {
		return nil
	}
	return map[string]string{"Authorization": "Bearer " + key}
}
