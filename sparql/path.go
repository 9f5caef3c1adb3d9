package sparql

import "github.com/ledgerwatch/coreindex/tuple"

// PathKind names the property-path combinators of spec §4.6.
type PathKind string

const (
	PathIRI                PathKind = "iri"
	PathInverse             PathKind = "inverse"
	PathSequence            PathKind = "sequence"
	PathAlternative         PathKind = "alternative"
	PathZeroOrMore          PathKind = "zeroOrMore"
	PathOneOrMore           PathKind = "oneOrMore"
	PathZeroOrOne           PathKind = "zeroOrOne"
	PathNegatedPropertySet  PathKind = "negatedPropertySet"
)

// Path is one property-path expression (spec §4.6: "Π maps IRIs and regex
// combinators").
type Path struct {
	Kind     PathKind
	IRI      tuple.Element // PathIRI, PathNegatedPropertySet member check uses Excluded instead
	Excluded []tuple.Element
	Sub      []Path // operands: 1 for unary kinds, 2 for sequence/alternative
	Length   *PathLength
}

// PathLength bounds a variable-length path's expansion (spec §4.6:
// "Variable-length paths (PathLength {min, max?}) enforce effectiveMax when
// the source pattern is unbounded (guard against cycles)").
type PathLength struct {
	Min int
	Max *int // nil: unbounded, subject to EffectiveMax
}

// defaultEffectiveMax bounds zeroOrMore/oneOrMore expansion when the caller
// supplies no explicit Max — spec §4.6 requires a guard against cycles for
// an otherwise-unbounded path; this mirrors graphalgo's bounded-BFS
// discipline (spec §4.7) rather than inventing a second limit convention.
const defaultEffectiveMax = 50

// EffectiveMax returns the bound BFS expansion should respect for this path.
func (pl *PathLength) EffectiveMax() int {
	if pl == nil || pl.Max == nil {
		return defaultEffectiveMax
	}
	return *pl.Max
}

func IRI(v tuple.Element) Path { return Path{Kind: PathIRI, IRI: v} }
func Inverse(p Path) Path      { return Path{Kind: PathInverse, Sub: []Path{p}} }
func Sequence(a, b Path) Path  { return Path{Kind: PathSequence, Sub: []Path{a, b}} }
func Alternative(a, b Path) Path { return Path{Kind: PathAlternative, Sub: []Path{a, b}} }
func ZeroOrMore(p Path, max *int) Path {
	return Path{Kind: PathZeroOrMore, Sub: []Path{p}, Length: &PathLength{Min: 0, Max: max}}
}
func OneOrMore(p Path, max *int) Path {
	return Path{Kind: PathOneOrMore, Sub: []Path{p}, Length: &PathLength{Min: 1, Max: max}}
}
func ZeroOrOne(p Path) Path { return Path{Kind: PathZeroOrOne, Sub: []Path{p}} }
func NegatedPropertySet(excluded ...tuple.Element) Path {
	return Path{Kind: PathNegatedPropertySet, Excluded: excluded}
}
