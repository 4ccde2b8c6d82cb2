package lang

// Language represents a supported source language.
type Language string

const (
	Python Language = "python"
)

// AllLanguages returns all supported languages.
func AllLanguages() []Language {
	return []Language{Python}
}

// LanguageSpec defines the tree-sitter node types the extractor relies on.
type LanguageSpec struct {
	Language          Language
	FileExtensions    []string
	FunctionNodeTypes []string
	ClassNodeTypes    []string
	ImportNodeTypes   []string
	ImportFromTypes   []string
	PackageIndicators []string

	// DecoratorNodeTypes lists decorator node kinds.
	DecoratorNodeTypes []string
	// AssignmentNodeTypes lists assignment statement node kinds.
	AssignmentNodeTypes []string
	// CompoundNodeTypes lists statements that own nested blocks.
	CompoundNodeTypes []string
}

// registry maps file extensions to language specs.
var registry = map[string]*LanguageSpec{}

// Register adds a LanguageSpec to the global registry.
func Register(spec *LanguageSpec) {
	for _, ext := range spec.FileExtensions {
		registry[ext] = spec
	}
}

// ForExtension returns the LanguageSpec for a file extension (e.g. ".py").
func ForExtension(ext string) *LanguageSpec {
	return registry[ext]
}

// ForLanguage returns the LanguageSpec for a language.
func ForLanguage(lang Language) *LanguageSpec {
	for _, spec := range registry {
		if spec.Language == lang {
			return spec
		}
	}
	return nil
}

// LanguageForExtension returns the Language for a file extension.
func LanguageForExtension(ext string) (Language, bool) {
	spec := registry[ext]
	if spec == nil {
		return "", false
	}
	return spec.Language, true
}

// Is reports whether kind is one of kinds.
func Is(kind string, kinds []string) bool {
	for _, k := range kinds {
		if k == kind {
			return true
		}
	}
	return false
}
