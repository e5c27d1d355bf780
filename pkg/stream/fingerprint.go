package stream

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/relaydb/relaydb/internal/wire"
)

// Fingerprint is the structural identity of a live query: normalized
// statement text, ordered bound arguments and declared result shape. Two
// textually different but semantically identical statements stay distinct;
// the only normalization applied is whitespace collapsing.
type Fingerprint struct {
	Text  string
	Args  []any
	Shape []string
}

// Key returns the canonical registry key for the fingerprint.
func (f Fingerprint) Key() string {
	var b strings.Builder
	b.WriteString(strings.Join(strings.Fields(f.Text), " "))
	b.WriteByte('|')
	// wire encoding plus JSON gives a deterministic argument rendering
	// (encoding/json sorts map keys). Arguments the codec cannot handle
	// still contribute their Go representation, so queries differing only
	// in such arguments stay distinct.
	for _, a := range f.Args {
		if v, err := wire.Encode(a); err == nil {
			raw, _ := json.Marshal(v)
			b.Write(raw)
		} else {
			fmt.Fprintf(&b, "!%#v", a)
		}
		b.WriteByte(',')
	}
	b.WriteByte('|')
	b.WriteString(strings.Join(f.Shape, ","))

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
