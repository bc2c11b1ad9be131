// Copyright 2024 ModelStore Authors
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

package common

import (
	"fmt"
	"path"
	"strings"
)

// Logical paths (context paths such as "run/fit/boot") always use forward
// slashes regardless of the host separator.

// NormalizePath cleans a logical path, removing leading/trailing slashes
func NormalizePath(p string) string {
	p = path.Clean(p)
	p = strings.TrimPrefix(p, "/")
	p = strings.TrimSuffix(p, "/")
	if p == "." {
		return ""
	}
	return p
}

// JoinPath joins logical path components
func JoinPath(parts ...string) string {
	return NormalizePath(path.Join(parts...))
}

// Depth returns the number of separators in a logical path, so "a" is 0 and
// "a/b" is 1.
func Depth(p string) int {
	return strings.Count(NormalizePath(p), "/")
}

// IsWithin reports whether p equals base or is nested below it.
func IsWithin(p, base string) bool {
	p = NormalizePath(p)
	base = NormalizePath(base)
	if base == "" {
		return true
	}
	return p == base || strings.HasPrefix(p, base+"/")
}

// ValidateName checks that name can be used as a single directory entry for a
// store key, a name link, a subcontext or an annotation. Names starting with a
// dot are reserved for store internals (.meta, .datasets, .lock).
func ValidateName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty name", ErrInvalidName)
	case strings.HasPrefix(name, "."):
		return fmt.Errorf("%w: %q starts with a dot", ErrInvalidName, name)
	case strings.ContainsAny(name, "/\\\x00"):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidName, name)
	case strings.ContainsAny(name, " \t\r\n"):
		return fmt.Errorf("%w: %q contains whitespace", ErrInvalidName, name)
	}
	return nil
}
