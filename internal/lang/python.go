package lang

func init() {
	Register(&LanguageSpec{
		Language:          Python,
		FileExtensions:    []string{".py"},
		FunctionNodeTypes: []string{"function_definition"},
		ClassNodeTypes:    []string{"class_definition"},
		ImportNodeTypes:   []string{"import_statement"},
		ImportFromTypes:   []string{"import_from_statement", "future_import_statement"},
		PackageIndicators: []string{"__init__.py"},

		DecoratorNodeTypes:  []string{"decorator"},
		AssignmentNodeTypes: []string{"assignment", "augmented_assignment"},
		CompoundNodeTypes: []string{
			"if_statement", "for_statement", "while_statement", "try_statement",
			"with_statement", "match_statement",
		},
	})
}
