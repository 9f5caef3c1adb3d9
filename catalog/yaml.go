package catalog

import (
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ledgerwatch/coreindex/errs"
)

// ExportYAML renders entities to the textual schema form described in
// spec §6: a top-level mapping from entity name to a mapping whose
// "#Directory" and "#Index" keys carry structural metadata and whose
// remaining keys are field declarations
// `name: [optional<][array<]primitive[>][>][#kind(k:v, …)]`.
func ExportYAML(entities []*Entity) ([]byte, error) {
	root := yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}

	sorted := append([]*Entity(nil), entities...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].TypeName < sorted[j].TypeName })

	for _, e := range sorted {
		entNode, err := entityToYAML(e)
		if err != nil {
			return nil, err
		}
		root.Content = append(root.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: e.TypeName},
			entNode,
		)
	}
	doc := yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{&root}}
	return yaml.Marshal(&doc)
}

func entityToYAML(e *Entity) (*yaml.Node, error) {
	m := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}

	if len(e.Directory) > 0 {
		dirSeq := &yaml.Node{Kind: yaml.SequenceNode}
		for _, d := range e.Directory {
			if d.FieldName != "" {
				fm := &yaml.Node{Kind: yaml.MappingNode}
				fm.Content = append(fm.Content,
					&yaml.Node{Kind: yaml.ScalarNode, Value: "field"},
					&yaml.Node{Kind: yaml.ScalarNode, Value: d.FieldName},
				)
				dirSeq.Content = append(dirSeq.Content, fm)
			} else {
				dirSeq.Content = append(dirSeq.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: d.Static})
			}
		}
		m.Content = append(m.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: "#Directory"},
			dirSeq,
		)
	}

	// Indexes over more than one field (or a graph index's from/edge/to
	// roles) are emitted as "#Index" block entries; single-field indexes
	// are folded into the owning field's inline declaration below.
	var blockIndexes []IndexDescriptor
	inlineByField := map[string]*IndexDescriptor{}
	for i := range e.Indexes {
		idx := e.Indexes[i]
		if len(idx.Fields) == 1 && idx.Kind != KindGraph {
			cp := idx
			inlineByField[idx.Fields[0]] = &cp
		} else {
			blockIndexes = append(blockIndexes, idx)
		}
	}

	for _, f := range e.Fields {
		decl := fieldDeclString(f, inlineByField[f.Name])
		m.Content = append(m.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: f.Name},
			&yaml.Node{Kind: yaml.ScalarNode, Value: decl},
		)
	}

	if len(blockIndexes) > 0 {
		idxSeq := &yaml.Node{Kind: yaml.SequenceNode}
		for _, idx := range blockIndexes {
			idxSeq.Content = append(idxSeq.Content, indexBlockToYAML(idx))
		}
		m.Content = append(m.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: "#Index"},
			idxSeq,
		)
	}

	return m, nil
}

func indexBlockToYAML(idx IndexDescriptor) *yaml.Node {
	n := &yaml.Node{Kind: yaml.MappingNode}
	add := func(k, v string) {
		n.Content = append(n.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: k}, &yaml.Node{Kind: yaml.ScalarNode, Value: v})
	}
	add("name", idx.Name)
	add("kind", string(idx.Kind))
	if idx.Kind == KindGraph && len(idx.Fields) == 3 {
		add("from", idx.Fields[0])
		add("edge", idx.Fields[1])
		add("to", idx.Fields[2])
	} else {
		seq := &yaml.Node{Kind: yaml.SequenceNode}
		for _, f := range idx.Fields {
			seq.Content = append(seq.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: f})
		}
		n.Content = append(n.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: "fields"}, seq)
	}
	if idx.Unique {
		add("unique", "true")
	}
	if idx.Sparse {
		add("sparse", "true")
	}
	keys := make([]string, 0, len(idx.Metadata))
	for k := range idx.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		add(k, idx.Metadata[k])
	}
	return n
}

func fieldDeclString(f FieldSchema, inline *IndexDescriptor) string {
	s := string(f.Type)
	if f.IsArray {
		s = "array<" + s + ">"
	}
	if f.IsOptional {
		s = "optional<" + s + ">"
	}
	if inline != nil {
		s += "#" + string(inline.Kind) + "(" + inlineMetaString(f.Name, *inline) + ")"
	}
	return s
}

// inlineMetaString renders an inline index's metadata, including an
// explicit "name:" pair whenever the index was given a name other than its
// owning field's — parseInlineIndex defaults the name to the field it's
// attached to, so a custom name that went unrecorded here would silently
// revert to the field name on the next ImportYAML.
func inlineMetaString(fieldName string, idx IndexDescriptor) string {
	var parts []string
	if idx.Name != "" && idx.Name != fieldName {
		parts = append(parts, "name:"+idx.Name)
	}
	if idx.Unique {
		parts = append(parts, "unique:true")
	}
	if idx.Sparse {
		parts = append(parts, "sparse:true")
	}
	keys := make([]string, 0, len(idx.Metadata))
	for k := range idx.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, k+":"+idx.Metadata[k])
	}
	return strings.Join(parts, ", ")
}

// ImportYAML parses the textual schema form back into entities. The
// mapping is bijective with ExportYAML: field order, field numbers (assigned
// densely in declaration order), directory components, indexes, and
// metadata all round-trip (spec P1).
func ImportYAML(data []byte) ([]*Entity, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("catalog: %w: %v", errs.ParseError, err)
	}
	if len(root.Content) == 0 {
		return nil, nil
	}
	top := root.Content[0]
	if top.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("catalog: %w: expected top-level mapping", errs.ParseError)
	}

	var out []*Entity
	for i := 0; i+1 < len(top.Content); i += 2 {
		name := top.Content[i].Value
		e, err := entityFromYAML(name, top.Content[i+1])
		if err != nil {
			return nil, fmt.Errorf("catalog: entity %q: %w", name, err)
		}
		out = append(out, e)
	}
	return out, nil
}

func entityFromYAML(name string, node *yaml.Node) (*Entity, error) {
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: entity body must be a mapping", errs.ParseError)
	}
	e := &Entity{TypeName: name}
	fieldNumber := 0
	var blockIdxNode *yaml.Node

	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		val := node.Content[i+1]
		switch key {
		case "#Directory":
			comps, err := directoryFromYAML(val)
			if err != nil {
				return nil, err
			}
			e.Directory = comps
		case "#Index":
			blockIdxNode = val
		default:
			f, idx, err := fieldFromDecl(key, fieldNumber, val.Value)
			if err != nil {
				return nil, err
			}
			fieldNumber++
			e.Fields = append(e.Fields, f)
			if idx != nil {
				e.Indexes = append(e.Indexes, *idx)
			}
		}
	}

	if blockIdxNode != nil {
		idxs, err := blockIndexesFromYAML(blockIdxNode)
		if err != nil {
			return nil, err
		}
		e.Indexes = append(e.Indexes, idxs...)
	}
	return e, nil
}

func directoryFromYAML(val *yaml.Node) ([]DirectoryComponentRecord, error) {
	if val.Kind != yaml.SequenceNode {
		return nil, fmt.Errorf("%w: #Directory must be a sequence", errs.ParseError)
	}
	var out []DirectoryComponentRecord
	for _, item := range val.Content {
		if item.Kind == yaml.ScalarNode {
			out = append(out, DirectoryComponentRecord{Static: item.Value})
			continue
		}
		if item.Kind == yaml.MappingNode && len(item.Content) == 2 && item.Content[0].Value == "field" {
			out = append(out, DirectoryComponentRecord{FieldName: item.Content[1].Value})
			continue
		}
		return nil, fmt.Errorf("%w: invalid #Directory entry", errs.ParseError)
	}
	return out, nil
}

func blockIndexesFromYAML(val *yaml.Node) ([]IndexDescriptor, error) {
	if val.Kind != yaml.SequenceNode {
		return nil, fmt.Errorf("%w: #Index must be a sequence", errs.ParseError)
	}
	var out []IndexDescriptor
	for _, item := range val.Content {
		idx := IndexDescriptor{Metadata: map[string]string{}, State: StateDisabled}
		var from, edge, to string
		for i := 0; i+1 < len(item.Content); i += 2 {
			k, v := item.Content[i].Value, item.Content[i+1]
			switch k {
			case "name":
				idx.Name = v.Value
			case "kind":
				idx.Kind = IndexKind(v.Value)
			case "fields":
				for _, f := range v.Content {
					idx.Fields = append(idx.Fields, f.Value)
				}
			case "from":
				from = v.Value
			case "edge":
				edge = v.Value
			case "to":
				to = v.Value
			case "unique":
				idx.Unique = v.Value == "true"
			case "sparse":
				idx.Sparse = v.Value == "true"
			default:
				idx.Metadata[k] = v.Value
			}
		}
		if from != "" || edge != "" || to != "" {
			idx.Fields = []string{from, edge, to}
		}
		out = append(out, idx)
	}
	return out, nil
}

// fieldFromDecl parses `[optional<][array<]primitive[>][>][#kind(k:v, …)]`.
func fieldFromDecl(name string, fieldNumber int, decl string) (FieldSchema, *IndexDescriptor, error) {
	f := FieldSchema{Name: name, FieldNumber: fieldNumber}

	typePart := decl
	var idx *IndexDescriptor
	if hashIdx := strings.IndexByte(decl, '#'); hashIdx >= 0 {
		typePart = decl[:hashIdx]
		kindPart := decl[hashIdx+1:]
		parsed, err := parseInlineIndex(name, kindPart)
		if err != nil {
			return f, nil, err
		}
		idx = parsed
	}

	for {
		if strings.HasPrefix(typePart, "optional<") && strings.HasSuffix(typePart, ">") {
			f.IsOptional = true
			typePart = typePart[len("optional<") : len(typePart)-1]
			continue
		}
		if strings.HasPrefix(typePart, "array<") && strings.HasSuffix(typePart, ">") {
			f.IsArray = true
			typePart = typePart[len("array<") : len(typePart)-1]
			continue
		}
		break
	}
	f.Type = normalizePrimitive(typePart)
	return f, idx, nil
}

func normalizePrimitive(s string) PrimitiveType {
	switch s {
	case "int":
		return TInt64
	case "float":
		return TDouble
	default:
		return PrimitiveType(s)
	}
}

// parseInlineIndex parses `kind(k:v, k2:v2)` into an IndexDescriptor named
// after the owning field, with the owning field as its sole indexed field.
func parseInlineIndex(fieldName, s string) (*IndexDescriptor, error) {
	open := strings.IndexByte(s, '(')
	if open < 0 || !strings.HasSuffix(s, ")") {
		return nil, fmt.Errorf("%w: malformed inline index %q", errs.ParseError, s)
	}
	kind := s[:open]
	body := s[open+1 : len(s)-1]
	idx := &IndexDescriptor{
		Name:     fieldName,
		Kind:     IndexKind(kind),
		Fields:   []string{fieldName},
		Metadata: map[string]string{},
		State:    StateDisabled,
	}
	if strings.TrimSpace(body) == "" {
		return idx, nil
	}
	for _, pair := range strings.Split(body, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		kv := strings.SplitN(pair, ":", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("%w: malformed index metadata %q", errs.ParseError, pair)
		}
		k, v := strings.TrimSpace(kv[0]), strings.TrimSpace(kv[1])
		switch k {
		case "name":
			idx.Name = v
		case "unique":
			idx.Unique = v == "true"
		case "sparse":
			idx.Sparse = v == "true"
		default:
			idx.Metadata[k] = v
		}
	}
	return idx, nil
}
