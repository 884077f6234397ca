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
	"regexp"
	"strings"
)

// endpointRegex matches a full endpoint template: 1 to 64 "/segment" groups, where a segment is
// either a plain identifier or a %{name} placeholder, both using the same identifier rule.
var endpointRegex = regexp.MustCompile(`^(/(%{[a-zA-Z_][a-zA-Z0-9_]*}|[a-zA-Z_][a-zA-Z0-9_]*)){1,64}$`)

// nameRegex matches a dotted Astarte interface name.
var nameRegex = regexp.MustCompile(`^([A-Za-z][A-Za-z0-9]*\.([A-Za-z0-9][A-Za-z0-9-]*\.)*)?[A-Za-z][A-Za-z0-9]*$`)

var placeholderRegex = regexp.MustCompile(`%{[a-zA-Z_][a-zA-Z0-9_]*}`)

func isValidEndpoint(endpoint string) bool {
	return endpointRegex.MatchString(endpoint)
}

func isValidInterfaceName(name string) bool {
	return nameRegex.MatchString(name)
}

// isParametric returns whether the endpoint has at least one %{...} placeholder segment.
func isParametric(endpoint string) bool {
	return strings.Contains(endpoint, "%{")
}

// splitPath splits a "/a/b/c" path into ["a","b","c"], dropping the leading empty token.
func splitPath(path string) []string {
	trimmed := strings.TrimPrefix(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func joinTokens(tokens []string) string {
	return strings.Join(tokens, "/")
}

// joinPath joins a path prefix and a bare key (no leading/trailing slash) into a full path.
func joinPath(prefix, key string) string {
	if prefix == "" || prefix == "/" {
		return "/" + key
	}
	return strings.TrimSuffix(prefix, "/") + "/" + key
}

// identifierRegex matches a single legal identifier, the only value a placeholder segment accepts.
var identifierRegex = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// matchesEndpoint returns whether concretePath is a legal instantiation of the endpoint template,
// substituting placeholders with any legal identifier.
func matchesEndpoint(endpoint, concretePath string) bool {
	endpointTokens := strings.Split(endpoint, "/")
	pathTokens := strings.Split(concretePath, "/")
	if len(endpointTokens) != len(pathTokens) {
		return false
	}
	for i, token := range endpointTokens {
		if strings.HasPrefix(token, "%{") {
			if !identifierRegex.MatchString(pathTokens[i]) {
				return false
			}
			continue
		}
		if token != pathTokens[i] {
			return false
		}
	}
	return true
}
