/*
Copyright © 2024 the LongBurden authors.
This file is part of LongBurden.

LongBurden is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

LongBurden is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with LongBurden.  If not, see <http://www.gnu.org/licenses/>.
*/

// Package hash computes content keys for cached results.
package hash

import (
	"encoding/gob"
	"fmt"
	"hash"
	"hash/fnv"

	"github.com/davecgh/go-spew/spew"
)

var printer = spew.ConfigState{
	Indent:                  " ",
	SortKeys:                true,
	DisableMethods:          true,
	SpewKeys:                true,
	DisablePointerAddresses: true,
	DisableCapacities:       true,
}

// Hash returns a hash key for the specified objects. Objects with the
// same contents give the same key.
func Hash(objects ...interface{}) string {
	h := fnv.New128a()
	for _, o := range objects {
		write(h, o)
	}
	bKey := h.Sum([]byte{})
	return fmt.Sprintf("%x", bKey[0:h.Size()])
}

func write(h hash.Hash, object interface{}) {
	// Encode to a scratch hash first so that a partial gob encoding
	// does not leak into h.
	scratch := fnv.New128a()
	if err := gob.NewEncoder(scratch).Encode(object); err == nil {
		h.Write(scratch.Sum(nil))
		return
	}
	// If gob can't encode the object (e.g., it is nil or has no
	// exported fields) use spew instead.
	printer.Fprintf(h, "%#v", object)
}
