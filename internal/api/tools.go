package api

import "github.com/anthropics/anthropic-sdk-go"

type prop struct {
	name, typ, desc string
}

func tool(name, desc string, required []string, props ...prop) anthropic.ToolUnionParam {
	schema := make(map[string]any, len(props))
	for _, p := range props {
		schema[p.name] = map[string]any{"type": p.typ, "description": p.desc}
	}
	return anthropic.ToolUnionParam{
		OfTool: &anthropic.ToolParam{
			Name:        name,
			Description: anthropic.String(desc),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: schema,
				Required:   required,
			},
		},
	}
}

// ToolDefinitions returns the tools offered to subagents.
func ToolDefinitions() []anthropic.ToolUnionParam {
	return []anthropic.ToolUnionParam{
		tool("Read", "Read a file. Returns contents with line numbers.", []string{"file_path"},
			prop{"file_path", "string", "Path to the file, absolute or relative to the workspace"},
			prop{"offset", "integer", "1-based line to start from"},
			prop{"limit", "integer", "Maximum number of lines"},
		),
		tool("Write", "Write a file inside the workspace, creating parent directories.", []string{"file_path", "content"},
			prop{"file_path", "string", "Path to the file"},
			prop{"content", "string", "Full file content"},
		),
		tool("Edit", "Replace text in a file. old_string must be unique unless replace_all is set.", []string{"file_path", "old_string", "new_string"},
			prop{"file_path", "string", "Path to the file"},
			prop{"old_string", "string", "Exact text to replace"},
			prop{"new_string", "string", "Replacement text"},
			prop{"replace_all", "boolean", "Replace every occurrence"},
		),
		tool("Bash", "Run a shell command in the workspace.", []string{"command"},
			prop{"command", "string", "Command to run"},
			prop{"timeout", "integer", "Timeout in milliseconds (default 120000)"},
		),
		tool("Glob", "List files matching a doublestar pattern such as src/**/*.go.", []string{"pattern"},
			prop{"pattern", "string", "Glob pattern"},
			prop{"path", "string", "Directory to search, defaults to the workspace"},
		),
		tool("Grep", "Search file contents with ripgrep.", []string{"pattern"},
			prop{"pattern", "string", "Regular expression"},
			prop{"path", "string", "File or directory to search"},
			prop{"glob", "string", "Only search files matching this glob"},
		),
		tool("ListDir", "List a directory.", []string{"path"},
			prop{"path", "string", "Directory path"},
		),
	}
}

// ReadOnlyToolDefinitions is the subset offered to exploration and review
// agents.
func ReadOnlyToolDefinitions() []anthropic.ToolUnionParam {
	var out []anthropic.ToolUnionParam
	for _, t := range ToolDefinitions() {
		switch t.OfTool.Name {
		case "Write", "Edit":
			continue
		}
		out = append(out, t)
	}
	return out
}
