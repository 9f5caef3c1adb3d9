package query

// ToDNF normalizes a predicate tree to disjunctive normal form — an OR of
// ANDs of leaves (spec §4.6's planner step: "normalizes to DNF, and for
// each disjunct selects the best single-index plan"). Each returned
// Predicate is an OpAnd node (or a bare leaf, wrapped in a one-child
// OpAnd for uniformity) with no nested Or. A Not survives only directly
// around a leaf whose comparator has no inverse (contains, hasPrefix,
// hasSuffix, isNil, in); see negateLeaf.
func ToDNF(p Predicate) []Predicate {
	return distribute(pushNotInward(p))
}

// pushNotInward applies De Morgan's laws until every Not directly wraps a
// leaf, so distribute never has to reason about negation.
func pushNotInward(p Predicate) Predicate {
	if p.isLeaf() {
		return p
	}
	if p.Op == OpNot {
		child := p.Children[0]
		if child.isLeaf() {
			return negateLeaf(child)
		}
		switch child.Op {
		case OpNot:
			return pushNotInward(child.Children[0])
		case OpAnd:
			negated := make([]Predicate, len(child.Children))
			for i, c := range child.Children {
				negated[i] = pushNotInward(Not(c))
			}
			return Or(negated...)
		case OpOr:
			negated := make([]Predicate, len(child.Children))
			for i, c := range child.Children {
				negated[i] = pushNotInward(Not(c))
			}
			return And(negated...)
		}
	}
	children := make([]Predicate, len(p.Children))
	for i, c := range p.Children {
		children[i] = pushNotInward(c)
	}
	return Predicate{Op: p.Op, Children: children}
}

// negateLeaf returns the logical negation of a leaf comparison where a
// direct inverse comparator exists, else wraps it in an explicit Not (the
// evaluator closure, if present, is still correct under Evaluate's `!c.Evaluate`
// path, so this is purely a planner-friendliness normalization, not a
// correctness requirement).
func negateLeaf(leaf Predicate) Predicate {
	inverse, ok := map[Comparator]Comparator{
		Eq:  Neq,
		Neq: Eq,
		Lt:  Gte,
		Lte: Gt,
		Gt:  Lte,
		Gte: Lt,
	}[leaf.Comparator]
	if !ok {
		return Not(leaf)
	}
	return Predicate{Field: leaf.Field, Comparator: inverse, Operand: leaf.Operand}
}

// distribute expands Or-over-And structure into a flat list of AND-only
// disjuncts via the distributive law.
func distribute(p Predicate) []Predicate {
	if p.isLeaf() {
		return []Predicate{And(p)}
	}
	switch p.Op {
	case OpOr:
		var out []Predicate
		for _, c := range p.Children {
			out = append(out, distribute(c)...)
		}
		return out
	case OpAnd:
		disjuncts := []Predicate{And()}
		for _, c := range p.Children {
			childDisjuncts := distribute(c)
			var next []Predicate
			for _, d := range disjuncts {
				for _, cd := range childDisjuncts {
					next = append(next, And(append(append([]Predicate{}, d.Children...), cd.Children...)...))
				}
			}
			disjuncts = next
		}
		return disjuncts
	case OpNot:
		// pushNotInward has eliminated every Not above a non-leaf by
		// this point; a Not(leaf) that negateLeaf left for a comparator
		// with no inverse stays as a single conjunct.
		return []Predicate{And(p)}
	}
	return []Predicate{And(p)}
}
