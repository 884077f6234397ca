// Copyright © 2020 Ispirata Srl
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

package interfaces

import (
	"bytes"
	"encoding/gob"
	"time"
)

func init() {
	gob.Register(int32(0))
	gob.Register(int64(0))
	gob.Register(float64(0))
	gob.Register("")
	gob.Register([]byte(nil))
	gob.Register(false)
	gob.Register(time.Time{})
	gob.Register([]int32(nil))
	gob.Register([]int64(nil))
	gob.Register([]float64(nil))
	gob.Register([]string(nil))
	gob.Register([][]byte(nil))
	gob.Register([]bool(nil))
	gob.Register([]time.Time(nil))
}

// gobValue is the exported shape gob encodes Value as - Value itself keeps its fields private so
// that the tagged union invariant (t and raw always agree) can't be broken by a caller outside the
// package, but the property store needs a stable on-disk representation.
type gobValue struct {
	Type MappingType
	Raw  any
}

// GobEncode implements gob.GobEncoder, letting Value cross the property store's BLOB boundary.
func (v Value) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(gobValue{Type: v.t, Raw: v.raw}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// GobDecode implements gob.GobDecoder.
func (v *Value) GobDecode(data []byte) error {
	var gv gobValue
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&gv); err != nil {
		return err
	}
	v.t = gv.Type
	v.raw = gv.Raw
	return nil
}
