// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package codec

// unitPair maps one UN/ECE unit code to the canonical internal unit.
// Several codes collapse onto the same canonical unit ("buc"); the first
// entry for a unit is the preferred code when converting back.
type unitPair struct {
	code string
	unit string
}

var unitTable = []unitPair{
	{"C62", "buc"},
	{"H87", "buc"},
	{"EA", "buc"},
	{"KGM", "kg"},
	{"GRM", "g"},
	{"TNE", "t"},
	{"LTR", "l"},
	{"MLT", "ml"},
	{"MTR", "m"},
	{"CMT", "cm"},
	{"KMT", "km"},
	{"MTK", "mp"},
	{"MTQ", "mc"},
	{"HUR", "ora"},
	{"DAY", "zi"},
	{"MON", "luna"},
	{"ANN", "an"},
	{"SET", "set"},
	{"PR", "pereche"},
	{"KWH", "kWh"},
}

var (
	unitByCode = make(map[string]string, len(unitTable))
	codeByUnit = make(map[string]string, len(unitTable))
)

func init() {
	for _, p := range unitTable {
		unitByCode[p.code] = p.unit
		if _, ok := codeByUnit[p.unit]; !ok {
			codeByUnit[p.unit] = p.code
		}
	}
}

// UnitForCode resolves a provider unit code to the canonical unit.
func UnitForCode(code string) (string, bool) {
	u, ok := unitByCode[code]
	return u, ok
}

// CodeForUnit resolves a canonical unit back to its preferred provider code.
func CodeForUnit(unit string) (string, bool) {
	c, ok := codeByUnit[unit]
	return c, ok
}
