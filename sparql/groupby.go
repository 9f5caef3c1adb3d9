package sparql

import "github.com/ledgerwatch/coreindex/tuple"

// GroupByExec streams bindings into a hash-aggregate keyed by group,
// applying each requested aggregate and an optional HAVING filter (spec
// §4.6: "groupBy streams sorted input into a hash-aggregate" — the sort is
// a property of the upstream plan node choosing a sort-merge join when
// that happens to also produce group-key order; this function itself only
// needs a stable hash grouping, so it does not require its input
// pre-sorted).
func GroupByExec(in []Binding, group []string, aggs []Aggregate, having *Expr) []Binding {
	type accState struct {
		key     Binding
		count   int64
		sums    map[string]float64
		mins    map[string]tuple.Element
		maxs    map[string]tuple.Element
		haveMin map[string]bool
	}
	order := []string{}
	groups := map[string]*accState{}

	for _, b := range in {
		k := groupKey(b, group)
		st, ok := groups[k]
		if !ok {
			keyBinding := Binding{}
			for _, g := range group {
				keyBinding[g] = b[g]
			}
			st = &accState{key: keyBinding, sums: map[string]float64{}, mins: map[string]tuple.Element{}, maxs: map[string]tuple.Element{}, haveMin: map[string]bool{}}
			groups[k] = st
			order = append(order, k)
		}
		st.count++
		for _, a := range aggs {
			if a.Var == "" {
				continue
			}
			v, ok := b[a.Var]
			if !ok {
				continue
			}
			f, isNum := v.AsFloat()
			if !isNum {
				if iv, ok := v.AsInt(); ok {
					f, isNum = float64(iv), true
				}
			}
			if isNum {
				st.sums[a.Var] += f
			}
			if !st.haveMin[a.Var] {
				st.mins[a.Var], st.maxs[a.Var] = v, v
				st.haveMin[a.Var] = true
			} else {
				if tuple.Compare(tuple.Tuple{v}, tuple.Tuple{st.mins[a.Var]}) < 0 {
					st.mins[a.Var] = v
				}
				if tuple.Compare(tuple.Tuple{v}, tuple.Tuple{st.maxs[a.Var]}) > 0 {
					st.maxs[a.Var] = v
				}
			}
		}
	}

	out := make([]Binding, 0, len(order))
	for _, k := range order {
		st := groups[k]
		row := st.key.clone()
		for _, a := range aggs {
			switch a.Kind {
			case AggCount:
				row[a.As] = tuple.Int(st.count)
			case AggSum:
				row[a.As] = tuple.Float(st.sums[a.Var])
			case AggAvg:
				if st.count > 0 {
					row[a.As] = tuple.Float(st.sums[a.Var] / float64(st.count))
				} else {
					row[a.As] = tuple.Float(0)
				}
			case AggMin:
				row[a.As] = st.mins[a.Var]
			case AggMax:
				row[a.As] = st.maxs[a.Var]
			}
		}
		if having == nil {
			out = append(out, row)
			continue
		}
		if v, ok := having.Eval(row); ok && truthy(v) {
			out = append(out, row)
		}
	}
	return out
}

func groupKey(b Binding, group []string) string {
	s := ""
	for _, g := range group {
		s += g + "=" + packKey(b[g]) + "|"
	}
	return s
}
