package parse

import (
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/cpp"
	"github.com/smacker/go-tree-sitter/csharp"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/java"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/rust"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// languageConfig describes one supported grammar.
type languageConfig struct {
	// Tag is the normalized language tag stored on chunks.
	Tag string

	// ImportantKinds are the node types treated as semantic units.
	ImportantKinds []string

	// CallKinds are the node types representing call expressions.
	CallKinds []string

	// ImportKinds are the top-level node types carrying imports.
	ImportKinds []string

	// StringDocstrings is true when the first string statement of a
	// definition body is its docstring (python convention). False for
	// comment-documented languages.
	StringDocstrings bool

	language *sitter.Language
}

// languages is the fixed grammar set, keyed by internal grammar key.
// The tsx key shares the typescript tag; it only selects a different grammar.
var languages = map[string]*languageConfig{
	"python": {
		Tag:              "python",
		ImportantKinds:   []string{"function_definition", "class_definition", "decorated_definition"},
		CallKinds:        []string{"call"},
		ImportKinds:      []string{"import_statement", "import_from_statement"},
		StringDocstrings: true,
		language:         python.GetLanguage(),
	},
	"javascript": {
		Tag:            "javascript",
		ImportantKinds: []string{"function_declaration", "class_declaration", "method_definition", "arrow_function"},
		CallKinds:      []string{"call_expression"},
		ImportKinds:    []string{"import_statement"},
		language:       javascript.GetLanguage(),
	},
	"typescript": {
		Tag:            "typescript",
		ImportantKinds: []string{"function_declaration", "class_declaration", "method_definition", "arrow_function", "interface_declaration"},
		CallKinds:      []string{"call_expression"},
		ImportKinds:    []string{"import_statement"},
		language:       typescript.GetLanguage(),
	},
	"tsx": {
		Tag:            "typescript",
		ImportantKinds: []string{"function_declaration", "class_declaration", "method_definition", "arrow_function", "interface_declaration"},
		CallKinds:      []string{"call_expression"},
		ImportKinds:    []string{"import_statement"},
		language:       tsx.GetLanguage(),
	},
	"java": {
		Tag:            "java",
		ImportantKinds: []string{"class_declaration", "method_declaration", "interface_declaration"},
		CallKinds:      []string{"method_invocation"},
		ImportKinds:    []string{"import_declaration"},
		language:       java.GetLanguage(),
	},
	"cpp": {
		Tag:            "cpp",
		ImportantKinds: []string{"function_definition", "class_specifier", "struct_specifier"},
		CallKinds:      []string{"call_expression"},
		ImportKinds:    []string{"preproc_include"},
		language:       cpp.GetLanguage(),
	},
	"c_sharp": {
		Tag:            "c_sharp",
		ImportantKinds: []string{"class_declaration", "method_declaration", "interface_declaration"},
		CallKinds:      []string{"invocation_expression"},
		ImportKinds:    []string{"using_directive"},
		language:       csharp.GetLanguage(),
	},
	"go": {
		Tag:            "go",
		ImportantKinds: []string{"function_declaration", "method_declaration", "type_declaration"},
		CallKinds:      []string{"call_expression"},
		ImportKinds:    []string{"import_declaration"},
		language:       golang.GetLanguage(),
	},
	"rust": {
		Tag:            "rust",
		ImportantKinds: []string{"function_item", "impl_item", "trait_item", "struct_item"},
		CallKinds:      []string{"call_expression"},
		ImportKinds:    []string{"use_declaration"},
		language:       rust.GetLanguage(),
	},
}

// lexerToGrammar maps chroma lexer names to grammar keys. Files whose
// detected lexer is not listed here are skipped.
var lexerToGrammar = map[string]string{
	"Python":     "python",
	"Python 2":   "python",
	"JavaScript": "javascript",
	"TypeScript": "typescript",
	"TSX":        "tsx",
	"JSX":        "javascript",
	"react":      "javascript",
	"Java":       "java",
	"C++":        "cpp",
	"C":          "cpp",
	"C#":         "c_sharp",
	"Go":         "go",
	"Rust":       "rust",
}

// importantKindSet returns the important kinds as a set.
func (c *languageConfig) importantKindSet() map[string]bool {
	set := make(map[string]bool, len(c.ImportantKinds))
	for _, k := range c.ImportantKinds {
		set[k] = true
	}
	return set
}

// callKindSet returns the call kinds as a set.
func (c *languageConfig) callKindSet() map[string]bool {
	set := make(map[string]bool, len(c.CallKinds))
	for _, k := range c.CallKinds {
		set[k] = true
	}
	return set
}
