package parse

import (
	"encoding/json"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

const (
	maxSignatureLen = 300
	maxCalleeLen    = 80
)

type paramInfo struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

type callInfo struct {
	Caller string `json:"caller"`
	Callee string `json:"callee"`
	Line   int    `json:"line"`
}

// extractor accumulates semantic nodes during one tree walk.
type extractor struct {
	cfg    *languageConfig
	source []byte
	nodes  []Node
}

// walk traverses depth-first. scope carries the names of important ancestor
// nodes only, so inner definitions get correct dotted paths.
func (ex *extractor) walk(n *sitter.Node, scope []string) {
	important := ex.cfg.importantKindSet()

	var visit func(n *sitter.Node, scope []string)
	visit = func(n *sitter.Node, scope []string) {
		childScope := scope

		if important[n.Type()] {
			// decorated_definition wraps the real definition; record the
			// inner node's kind and name but span the whole wrapper.
			def, decorators := ex.unwrapDecorated(n)
			name := ex.nodeName(def)

			rec := ex.buildNode(n, def, name, scope)
			rec.Decorators = decorators
			ex.nodes = append(ex.nodes, rec)

			if name != "" {
				childScope = append(append([]string(nil), scope...), name)
			}
			if def != n {
				// Descend from the wrapper but skip re-recording the inner
				// definition node.
				for i := 0; i < int(n.NamedChildCount()); i++ {
					child := n.NamedChild(i)
					if child.StartByte() == def.StartByte() && child.Type() == def.Type() {
						for j := 0; j < int(def.NamedChildCount()); j++ {
							visit(def.NamedChild(j), childScope)
						}
						continue
					}
					visit(child, childScope)
				}
				return
			}
		}

		for i := 0; i < int(n.NamedChildCount()); i++ {
			visit(n.NamedChild(i), childScope)
		}
	}

	for i := 0; i < int(n.NamedChildCount()); i++ {
		visit(n.NamedChild(i), scope)
	}
}

// buildNode assembles the Node record for an important node. outer is the
// recorded span (may be a decorated wrapper); def is the definition carrying
// name, parameters, and body.
func (ex *extractor) buildNode(outer, def *sitter.Node, name string, scope []string) Node {
	parentScope := strings.Join(scope, ".")
	fullPath := name
	if parentScope != "" && name != "" {
		fullPath = parentScope + "." + name
	} else if parentScope != "" {
		fullPath = parentScope
	}

	nodeType := def.Type()

	return Node{
		Type:        nodeType,
		Name:        name,
		StartLine:   int(outer.StartPoint().Row),
		EndLine:     int(outer.EndPoint().Row),
		StartByte:   outer.StartByte(),
		EndByte:     outer.EndByte(),
		Signature:   ex.signature(def),
		Parameters:  ex.parameters(def),
		ReturnType:  ex.returnType(def),
		Docstring:   ex.docstring(outer, def),
		ParentScope: parentScope,
		FullPath:    fullPath,
		ScopeDepth:  len(scope),
		Calls:       ex.calls(def, name),
	}
}

// unwrapDecorated resolves a decorated_definition to its inner definition
// and the JSON list of decorator texts. Any other node maps to itself.
func (ex *extractor) unwrapDecorated(n *sitter.Node) (*sitter.Node, string) {
	if n.Type() != "decorated_definition" {
		return n, ""
	}

	var decorators []string
	def := n
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		switch child.Type() {
		case "decorator":
			decorators = append(decorators, firstLine(child.Content(ex.source)))
		case "function_definition", "class_definition":
			def = child
		}
	}
	return def, marshalJSON(decorators)
}

// nodeName extracts the declared symbol name, best-effort per grammar shape.
func (ex *extractor) nodeName(n *sitter.Node) string {
	if name := n.ChildByFieldName("name"); name != nil {
		return name.Content(ex.source)
	}

	switch n.Type() {
	case "type_declaration":
		// Go: type_declaration -> type_spec(name).
		for i := 0; i < int(n.NamedChildCount()); i++ {
			child := n.NamedChild(i)
			if child.Type() == "type_spec" || child.Type() == "type_alias" {
				if name := child.ChildByFieldName("name"); name != nil {
					return name.Content(ex.source)
				}
			}
		}
	case "impl_item":
		// Rust: impl blocks are named after the implemented type.
		if t := n.ChildByFieldName("type"); t != nil {
			return t.Content(ex.source)
		}
	case "arrow_function":
		// const f = () => {}: the name lives on the enclosing declarator.
		if parent := n.Parent(); parent != nil && parent.Type() == "variable_declarator" {
			if name := parent.ChildByFieldName("name"); name != nil {
				return name.Content(ex.source)
			}
		}
	case "function_definition":
		// C++: the identifier hides inside the declarator chain.
		if decl := n.ChildByFieldName("declarator"); decl != nil {
			if id := firstDescendantOfTypes(decl, identifierKinds); id != nil {
				return id.Content(ex.source)
			}
		}
	}
	return ""
}

var identifierKinds = map[string]bool{
	"identifier":           true,
	"field_identifier":     true,
	"property_identifier":  true,
	"type_identifier":      true,
	"qualified_identifier": true,
}

// signature is the declaration header: node start up to the body, collapsed
// to one line.
func (ex *extractor) signature(n *sitter.Node) string {
	end := n.EndByte()
	if body := n.ChildByFieldName("body"); body != nil {
		end = body.StartByte()
	}
	start := n.StartByte()
	if end <= start || int(end) > len(ex.source) {
		return ""
	}

	sig := string(ex.source[start:end])
	sig = strings.Join(strings.Fields(sig), " ")
	sig = strings.TrimRight(sig, "{: ")
	if len(sig) > maxSignatureLen {
		sig = sig[:maxSignatureLen]
	}
	return sig
}

// parameters encodes the parameter list as JSON [{name, type}].
func (ex *extractor) parameters(n *sitter.Node) string {
	params := n.ChildByFieldName("parameters")
	if params == nil {
		// C++: parameters live under the declarator.
		if decl := n.ChildByFieldName("declarator"); decl != nil {
			params = firstDescendantOfTypes(decl, map[string]bool{"parameter_list": true})
		}
	}
	if params == nil {
		return ""
	}

	var out []paramInfo
	for i := 0; i < int(params.NamedChildCount()); i++ {
		p := params.NamedChild(i)
		if p.Type() == "comment" {
			continue
		}

		info := paramInfo{}
		if t := p.ChildByFieldName("type"); t != nil {
			info.Type = t.Content(ex.source)
		}
		if id := firstDescendantOfTypes(p, identifierKinds); id != nil {
			info.Name = id.Content(ex.source)
		} else {
			info.Name = firstLine(p.Content(ex.source))
		}
		if info.Name == "" {
			continue
		}
		out = append(out, info)
	}
	return marshalJSON(out)
}

// returnType extracts the declared return type where the grammar has one.
func (ex *extractor) returnType(n *sitter.Node) string {
	for _, field := range []string{"return_type", "result", "type"} {
		if t := n.ChildByFieldName(field); t != nil {
			return strings.Join(strings.Fields(t.Content(ex.source)), " ")
		}
	}
	return ""
}

// docstring returns the python string-as-first-statement docstring, or the
// contiguous doc-comment block immediately above the node.
func (ex *extractor) docstring(outer, def *sitter.Node) string {
	if ex.cfg.StringDocstrings {
		if body := def.ChildByFieldName("body"); body != nil && body.NamedChildCount() > 0 {
			first := body.NamedChild(0)
			if first.Type() == "expression_statement" && first.NamedChildCount() > 0 {
				if s := first.NamedChild(0); s.Type() == "string" {
					return stripStringQuotes(s.Content(ex.source))
				}
			}
		}
		return ""
	}

	// Comment-documented languages: walk preceding siblings while they are
	// comments on adjacent lines.
	var parts []string
	expectedLine := int(outer.StartPoint().Row)
	for sib := outer.PrevNamedSibling(); sib != nil; sib = sib.PrevNamedSibling() {
		if sib.Type() != "comment" {
			break
		}
		if int(sib.EndPoint().Row) < expectedLine-1 {
			break
		}
		expectedLine = int(sib.StartPoint().Row)
		parts = append([]string{stripCommentMarkers(sib.Content(ex.source))}, parts...)
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}

// calls records every call expression within the node body as JSON.
func (ex *extractor) calls(n *sitter.Node, caller string) string {
	callKinds := ex.cfg.callKindSet()
	var out []callInfo

	var visit func(n *sitter.Node)
	visit = func(n *sitter.Node) {
		if callKinds[n.Type()] {
			callee := ex.calleeName(n)
			if callee != "" {
				out = append(out, callInfo{
					Caller: caller,
					Callee: callee,
					Line:   int(n.StartPoint().Row),
				})
			}
		}
		for i := 0; i < int(n.NamedChildCount()); i++ {
			visit(n.NamedChild(i))
		}
	}
	visit(n)

	return marshalJSON(out)
}

func (ex *extractor) calleeName(call *sitter.Node) string {
	var fn *sitter.Node
	for _, field := range []string{"function", "name"} {
		if fn = call.ChildByFieldName(field); fn != nil {
			break
		}
	}
	if fn == nil {
		return ""
	}
	callee := firstLine(fn.Content(ex.source))
	if len(callee) > maxCalleeLen {
		callee = callee[:maxCalleeLen]
	}
	return callee
}

// imports collects file-level import statements, ordered and de-duplicated.
func (ex *extractor) imports(root *sitter.Node) []string {
	kinds := make(map[string]bool, len(ex.cfg.ImportKinds))
	for _, k := range ex.cfg.ImportKinds {
		kinds[k] = true
	}

	seen := make(map[string]bool)
	var out []string

	var visit func(n *sitter.Node)
	visit = func(n *sitter.Node) {
		if kinds[n.Type()] {
			text := strings.Join(strings.Fields(n.Content(ex.source)), " ")
			if text != "" && !seen[text] {
				seen[text] = true
				out = append(out, text)
			}
			return
		}
		for i := 0; i < int(n.NamedChildCount()); i++ {
			visit(n.NamedChild(i))
		}
	}
	visit(root)

	return out
}

func firstDescendantOfTypes(n *sitter.Node, types map[string]bool) *sitter.Node {
	if types[n.Type()] {
		return n
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		if found := firstDescendantOfTypes(n.NamedChild(i), types); found != nil {
			return found
		}
	}
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

func stripStringQuotes(s string) string {
	s = strings.TrimSpace(s)
	for _, q := range []string{`"""`, `'''`, `"`, `'`} {
		if strings.HasPrefix(s, q) && strings.HasSuffix(s, q) && len(s) >= 2*len(q) {
			return strings.TrimSpace(s[len(q) : len(s)-len(q)])
		}
	}
	return s
}

func stripCommentMarkers(s string) string {
	s = strings.TrimSpace(s)
	switch {
	case strings.HasPrefix(s, "///"):
		s = s[3:]
	case strings.HasPrefix(s, "//"):
		s = s[2:]
	case strings.HasPrefix(s, "/*"):
		s = strings.TrimSuffix(s[2:], "*/")
	case strings.HasPrefix(s, "#"):
		s = s[1:]
	}
	return strings.TrimSpace(s)
}

func marshalJSON(v any) string {
	switch x := v.(type) {
	case []string:
		if len(x) == 0 {
			return ""
		}
	case []paramInfo:
		if len(x) == 0 {
			return ""
		}
	case []callInfo:
		if len(x) == 0 {
			return ""
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}
