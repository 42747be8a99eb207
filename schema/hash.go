package schema

import (
	"crypto/sha256"
	"fmt"
	"strings"
)

// HashOperations computes a sha256 checksum over the rendered SQL of the
// operations in execution order. Two migrate calls that would issue the
// same statements hash identically, which is what makes re-running an
// unchanged schema an observable no-op.
func HashOperations(ops []Operation) string {
	var b strings.Builder
	for _, op := range ops {
		b.WriteString(op.SQL)
		b.WriteString(";\n")
	}
	h := sha256.Sum256([]byte(b.String()))
	return fmt.Sprintf("%x", h)
}
