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

package device

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"io"
	"strings"
)

// EncodePropertiesList renders entries (each "<interface><path>") into the producer/consumer
// properties wire framing: a 4-byte little-endian length of the uncompressed payload, followed by
// the zlib-compressed ASCII list, items separated by ";". The source uses zlib (RFC 1950), not raw
// deflate, matching device_mqtt.py's zlib.compress/zlib.decompress.
func EncodePropertiesList(entries []string) ([]byte, error) {
	joined := strings.Join(entries, ";")

	var compressed bytes.Buffer
	writer := zlib.NewWriter(&compressed)
	if _, err := writer.Write([]byte(joined)); err != nil {
		return nil, fmt.Errorf("properties list: zlib compress: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("properties list: close zlib writer: %w", err)
	}

	out := make([]byte, 4+compressed.Len())
	binary.LittleEndian.PutUint32(out[:4], uint32(len(joined)))
	copy(out[4:], compressed.Bytes())
	return out, nil
}

// DecodePropertiesList parses the producer/consumer properties wire framing back into its
// "<interface><path>" entries, validating the declared uncompressed length against what the zlib
// decompression actually produced.
func DecodePropertiesList(frame []byte) ([]string, error) {
	if len(frame) < 4 {
		return nil, fmt.Errorf("properties list: frame too short (%d bytes)", len(frame))
	}
	declaredLen := binary.LittleEndian.Uint32(frame[:4])

	reader, err := zlib.NewReader(bytes.NewReader(frame[4:]))
	if err != nil {
		return nil, fmt.Errorf("properties list: open zlib reader: %w", err)
	}
	defer reader.Close()

	decoded, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("properties list: zlib decompress: %w", err)
	}
	if uint32(len(decoded)) != declaredLen {
		return nil, fmt.Errorf("properties list: declared length %d, got %d", declaredLen, len(decoded))
	}
	if len(decoded) == 0 {
		return nil, nil
	}
	return strings.Split(string(decoded), ";"), nil
}
