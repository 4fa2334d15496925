package axis

import (
	"fmt"
	"strings"
)

// ID names one of the five mount axes.
type ID int

const (
	Elevation ID = iota
	Azimuth
	Rotator1
	Rotator2
	Rotator3
)

// All lists the axes in declaration order. Limit checks and reports walk
// the axes in this order.
var All = [...]ID{Elevation, Azimuth, Rotator1, Rotator2, Rotator3}

var idNames = [...]string{"elevation", "azimuth", "rotator1", "rotator2", "rotator3"}

func (id ID) String() string {
	if id < 0 || int(id) >= len(idNames) {
		return fmt.Sprintf("axis(%d)", int(id))
	}
	return idNames[id]
}

// ParseID accepts an axis name, case-insensitively.
func ParseID(s string) (ID, error) {
	for i, name := range idNames {
		if strings.EqualFold(s, name) {
			return ID(i), nil
		}
	}
	return 0, fmt.Errorf("unknown axis %q", s)
}

func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *ID) UnmarshalText(b []byte) error {
	v, err := ParseID(string(b))
	if err != nil {
		return err
	}
	*id = v
	return nil
}
