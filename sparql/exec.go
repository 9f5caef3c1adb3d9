package sparql

import (
	"context"
	"fmt"
	"sort"

	"github.com/ledgerwatch/coreindex/indexing"
	"github.com/ledgerwatch/coreindex/kv"
	"github.com/ledgerwatch/coreindex/subspace"
	"github.com/ledgerwatch/coreindex/tuple"
)

// scopedSubspace resolves the permutation subspace a triple pattern scans:
// the maintainer's default (ungraphed) space when the pattern carries no
// enclosing GRAPH clause, or the named graph's own key range when it does.
// A GRAPH clause whose graph term is itself an unbound variable is rejected
// explicitly rather than silently falling back to the ungraphed scan —
// SPARQL's `GRAPH ?g` semantics require binding ?g per matched quad, which
// would need enumerating every graph this maintainer holds, a capability
// not named anywhere in the spec's graph-index description.
func scopedSubspace(gm *indexing.GraphMaintainer, name string, t Triple) (subspace.Subspace, error) {
	if !t.HasGraph {
		return gm.PermutationSubspace(name), nil
	}
	if t.G.IsVar() {
		return subspace.Subspace{}, fmt.Errorf("sparql: GRAPH ?%s with an unbound graph variable is not supported", t.G.Var)
	}
	return gm.PermutationSubspaceInGraph(name, t.G.Value), nil
}

// Binding is one row of variable -> value assignments produced by matching
// a pattern.
type Binding map[string]tuple.Element

func (b Binding) clone() Binding {
	out := make(Binding, len(b))
	for k, v := range b {
		out[k] = v
	}
	return out
}

// permOrder names, for each permutation a GraphMaintainer can materialize,
// which original triple position ('s', 'p', or 'o') occupies each of the
// permutation's three key slots — the same convention indexing.GraphMaintainer
// names its permutations by (spec §4.3/§4.6).
var permOrder = map[string][3]byte{
	"fwd": {'s', 'p', 'o'},
	"rev": {'o', 'p', 's'},
	"spo": {'s', 'p', 'o'},
	"pos": {'p', 'o', 's'},
	"osp": {'o', 's', 'p'},
	"sop": {'s', 'o', 'p'},
	"pso": {'p', 's', 'o'},
	"ops": {'o', 'p', 's'},
}

func termFor(letter byte, s, p, o Term) Term {
	switch letter {
	case 's':
		return s
	case 'p':
		return p
	default:
		return o
	}
}

// choosePermutation picks whichever of gm's materialized permutations has
// the longest leading run of bound positions for (s,p,o) — spec §4.6:
// "resolves each BGP triple to a range scan on whichever permutation best
// matches the bound/free pattern of (s,p,o)".
func choosePermutation(gm *indexing.GraphMaintainer, s, p, o Term) (name string, order [3]byte, boundRun int) {
	best := -1
	for _, candidate := range gm.AvailablePermutations() {
		ord, ok := permOrder[candidate]
		if !ok {
			continue
		}
		run := 0
		for _, letter := range ord {
			if termFor(letter, s, p, o).IsVar() {
				break
			}
			run++
		}
		if run > best {
			best, order, name = run, ord, candidate
		}
	}
	return name, order, best
}

// ScanTriple executes one triple pattern against a graph maintainer,
// yielding one Binding per matching row.
func ScanTriple(ctx context.Context, txn kv.Txn, gm *indexing.GraphMaintainer, t Triple) ([]Binding, error) {
	name, order, boundRun := choosePermutation(gm, t.S, t.P, t.O)
	if name == "" {
		return nil, fmt.Errorf("sparql: graph maintainer has no usable permutation")
	}
	sub, err := scopedSubspace(gm, name, t)
	if err != nil {
		return nil, err
	}

	var begin, end []byte
	if boundRun == 0 {
		begin, end = sub.Range()
	} else {
		elems := make(tuple.Tuple, 0, boundRun)
		for i := 0; i < boundRun; i++ {
			v, err := termFor(order[i], t.S, t.P, t.O).Resolve()
			if err != nil {
				return nil, err
			}
			elems = append(elems, v)
		}
		prefix := sub.Pack(elems)
		begin, end = kv.PrefixRange(prefix)
	}

	it := txn.GetRange(kv.FirstGreaterOrEqual(begin), kv.FirstGreaterOrEqual(end), kv.StreamWantAll)
	var out []Binding
	for it.Next() {
		row, err := sub.Unpack(it.KV().Key)
		if err != nil || len(row) != 3 {
			continue
		}
		b, ok := bindRow(order, row, t.S, t.P, t.O)
		if ok {
			out = append(out, b)
		}
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// bindRow maps a scanned permutation row back onto the triple's variables,
// rejecting rows where a bound position's stored value doesn't match (can
// only happen for positions after the leading bound run, which the prefix
// scan itself does not constrain). An unbound variable binds to the row's
// raw stored element; when that element is an RDF-star quoted-triple
// encoding the structure survives intact in the binding and a caller can
// recover it with TermFromElement/DecodeQuotedValue — it is never
// stringified on the way into a Binding.
func bindRow(order [3]byte, row tuple.Tuple, s, p, o Term) (Binding, bool) {
	b := Binding{}
	terms := map[byte]Term{'s': s, 'p': p, 'o': o}
	for i, letter := range order {
		term := terms[letter]
		if term.IsVar() {
			b[term.Var] = row[i]
			continue
		}
		resolved, err := term.Resolve()
		if err != nil || tuple.Compare(tuple.Tuple{resolved}, tuple.Tuple{row[i]}) != 0 {
			return nil, false
		}
	}
	return b, true
}

// sharedVars returns the variable names two binding sets share, the join
// condition for HashJoin, LeftJoin and MinusBindings. All joins here are
// hash joins; there is no sort-merge join.
func sharedVars(a, b []Binding) []string {
	if len(a) == 0 || len(b) == 0 {
		return nil
	}
	var shared []string
	for v := range a[0] {
		if _, ok := b[0][v]; ok {
			shared = append(shared, v)
		}
	}
	sort.Strings(shared)
	return shared
}

// HashJoin joins two binding sets on every variable they share, or returns
// their cross product when they share none.
func HashJoin(left, right []Binding) []Binding {
	shared := sharedVars(left, right)
	if len(shared) == 0 {
		out := make([]Binding, 0, len(left)*len(right))
		for _, l := range left {
			for _, r := range right {
				out = append(out, merge(l, r))
			}
		}
		return out
	}
	index := make(map[string][]Binding, len(right))
	for _, r := range right {
		index[joinKey(r, shared)] = append(index[joinKey(r, shared)], r)
	}
	var out []Binding
	for _, l := range left {
		for _, r := range index[joinKey(l, shared)] {
			out = append(out, merge(l, r))
		}
	}
	return out
}

func joinKey(b Binding, vars []string) string {
	s := ""
	for _, v := range vars {
		s += v + "=" + packKey(b[v]) + "|"
	}
	return s
}

func merge(a, b Binding) Binding {
	out := a.clone()
	for k, v := range b {
		out[k] = v
	}
	return out
}

// LeftJoin implements OPTIONAL semantics: every left row appears at least
// once, joined with matching right rows if any exist, or alone otherwise.
func LeftJoin(left, right []Binding) []Binding {
	shared := sharedVars(left, right)
	index := make(map[string][]Binding, len(right))
	for _, r := range right {
		index[joinKey(r, shared)] = append(index[joinKey(r, shared)], r)
	}
	var out []Binding
	for _, l := range left {
		matches := index[joinKey(l, shared)]
		if len(matches) == 0 && len(shared) > 0 {
			out = append(out, l)
			continue
		}
		if len(shared) == 0 {
			for _, r := range right {
				out = append(out, merge(l, r))
			}
			if len(right) == 0 {
				out = append(out, l)
			}
			continue
		}
		for _, r := range matches {
			out = append(out, merge(l, r))
		}
	}
	return out
}

// MinusBindings removes every left row that shares a compatible binding with
// any right row (SPARQL MINUS semantics).
func MinusBindings(left, right []Binding) []Binding {
	shared := sharedVars(left, right)
	excluded := make(map[string]bool, len(right))
	for _, r := range right {
		excluded[joinKey(r, shared)] = true
	}
	var out []Binding
	for _, l := range left {
		if len(shared) > 0 && excluded[joinKey(l, shared)] {
			continue
		}
		out = append(out, l)
	}
	return out
}

// FilterBindings keeps only bindings for which e evaluates truthy.
func FilterBindings(in []Binding, e Expr) []Binding {
	var out []Binding
	for _, b := range in {
		if v, ok := e.Eval(b); ok && truthy(v) {
			out = append(out, b)
		}
	}
	return out
}

func truthy(v tuple.Element) bool {
	if v.IsNull() {
		return false
	}
	if b, ok := v.AsBool(); ok {
		return b
	}
	return true
}
