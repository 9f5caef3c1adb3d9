package sparql

import (
	"fmt"

	"github.com/ledgerwatch/coreindex/tuple"
)

// quotedTag marks a tuple.Bytes value as an encoded RDF-star quoted triple
// rather than an ordinary byte string, so DecodeQuotedValue can recognize
// one without ever parsing a textual "<<s p o>>" form — spec §9's
// open-question resolution requires the term survive as structured data,
// not a stringification of it.
var quotedTag = []byte{0xff, 'q', 'u', 'o'}

// EncodeQuotedValue packs a fully-bound triple into a single tuple.Element
// so it can occupy an ordinary subject/object position in a
// indexing.GraphMaintainer's storage layout: the three resolved terms are
// packed as a sub-tuple and wrapped in a tagged byte string, recursively
// handling a quoted term nested inside a quoted term. tr.S/P/O must each be
// bound (no free variable) at every nesting level.
func EncodeQuotedValue(tr Triple) (tuple.Element, error) {
	s, err := tr.S.Resolve()
	if err != nil {
		return tuple.Element{}, fmt.Errorf("sparql: quoted triple subject: %w", err)
	}
	p, err := tr.P.Resolve()
	if err != nil {
		return tuple.Element{}, fmt.Errorf("sparql: quoted triple predicate: %w", err)
	}
	o, err := tr.O.Resolve()
	if err != nil {
		return tuple.Element{}, fmt.Errorf("sparql: quoted triple object: %w", err)
	}
	packed := tuple.From(s, p, o).Pack()
	raw := make([]byte, 0, len(quotedTag)+len(packed))
	raw = append(raw, quotedTag...)
	raw = append(raw, packed...)
	return tuple.Bytes(raw), nil
}

// DecodeQuotedValue reverses EncodeQuotedValue. It reports ok=false for any
// element that isn't a tagged quoted-triple encoding, including an ordinary
// byte-string field that merely happens to be a tuple.Bytes value.
func DecodeQuotedValue(e tuple.Element) (Triple, bool) {
	raw, ok := e.AsBytes()
	if !ok || len(raw) < len(quotedTag) {
		return Triple{}, false
	}
	for i, b := range quotedTag {
		if raw[i] != b {
			return Triple{}, false
		}
	}
	t, err := tuple.Unpack(raw[len(quotedTag):])
	if err != nil || len(t) != 3 {
		return Triple{}, false
	}
	return Triple{S: Bound(t[0]), P: Bound(t[1]), O: Bound(t[2])}, true
}

// Resolve returns t's storage-level tuple.Element: Value directly for a
// plain bound term, or the packed encoding of Quoted for an RDF-star
// quoted-triple term. It errors on an unbound variable — matching a stored
// quad against `GRAPH ?g` or a quoted pattern containing a free variable
// isn't supported, the same limitation scopedSubspace already names for
// GRAPH clauses.
func (t Term) Resolve() (tuple.Element, error) {
	if t.Quoted != nil {
		return EncodeQuotedValue(*t.Quoted)
	}
	if t.IsVar() {
		return tuple.Element{}, fmt.Errorf("sparql: cannot resolve unbound variable ?%s to a storage value", t.Var)
	}
	return t.Value, nil
}

// TermFromElement reconstructs a Term from a stored tuple.Element,
// recognizing an RDF-star quoted-triple encoding and returning a proper
// Quoted term rather than ever exposing its packed bytes as an opaque flat
// value to a caller that doesn't know to look for the tag.
func TermFromElement(e tuple.Element) Term {
	if tr, ok := DecodeQuotedValue(e); ok {
		return QuotedTerm(tr)
	}
	return Bound(e)
}
