package common

import (
	"database/sql/driver"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
)

// StringList is an ordered list that decodes from either a JSON array or a
// comma separated string, and is stored as a JSON array column.
type StringList []string

func SplitList(s string) StringList {
	list := StringList{}
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			list = append(list, item)
		}
	}
	return list
}

func (l *StringList) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*l = SplitList(s)
		return nil
	}

	var items []string
	if err := json.Unmarshal(data, &items); err != nil {
		return errors.Wrap(err, "expect comma separated string or string array")
	}

	list := StringList{}
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			list = append(list, item)
		}
	}
	*l = list
	return nil
}

// Equal reports whether both lists hold the same members, ignoring order.
func (l StringList) Equal(other StringList) bool {
	if len(l) != len(other) {
		return false
	}

	seen := make(map[string]int, len(l))
	for _, item := range l {
		seen[item]++
	}
	for _, item := range other {
		if seen[item] == 0 {
			return false
		}
		seen[item]--
	}
	return true
}

func (l StringList) Contains(item string) bool {
	for _, v := range l {
		if v == item {
			return true
		}
	}
	return false
}

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}

	b, err := json.Marshal([]string(l))
	return string(b), err
}

func (l *StringList) Scan(src interface{}) error {
	var data []byte
	switch v := src.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	case nil:
		*l = StringList{}
		return nil
	default:
		return errors.Errorf("can not scan %T into StringList", src)
	}

	var items []string
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}

	*l = items
	return nil
}
