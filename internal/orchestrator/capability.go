package orchestrator

// Capability is one of the closed set of plan-step capability tags
// (spec.md §4.8).
type Capability string

const (
	CapNone            Capability = "none"
	CapListDir         Capability = "list_dir"
	CapSearch          Capability = "search"
	CapRAGRetrieve     Capability = "rag_retrieve"
	CapRAGRewriteQuery Capability = "rag_rewrite_query"
	CapFileRead        Capability = "file_read"
	CapFileWrite       Capability = "file_write"
	CapCreateFile      Capability = "create_file"
	CapDeleteFile      Capability = "delete_file"
	CapGetTime         Capability = "get_time"
	CapCalculate       Capability = "calculate"
	CapCodeExec        Capability = "code_exec"
	CapExternalMCP     Capability = "external_mcp"
	CapAskUser         Capability = "ask_user"
)

var validCapabilities = map[Capability]struct{}{
	CapNone: {}, CapListDir: {}, CapSearch: {}, CapRAGRetrieve: {}, CapRAGRewriteQuery: {},
	CapFileRead: {}, CapFileWrite: {}, CapCreateFile: {}, CapDeleteFile: {}, CapGetTime: {},
	CapCalculate: {}, CapCodeExec: {}, CapExternalMCP: {}, CapAskUser: {},
}

// IsValidCapability reports whether cap belongs to the closed set.
func IsValidCapability(cap string) bool {
	_, ok := validCapabilities[Capability(cap)]
	return ok
}

// CapabilityTools maps a capability tag to the tool name(s) it is allowed to
// invoke. CapNone and CapAskUser map to no tools.
var CapabilityTools = map[Capability][]string{
	CapListDir:         {"list_dir"},
	CapSearch:          {"search"},
	CapRAGRetrieve:     {"rag_retrieve", "rag_rewrite_query"},
	CapRAGRewriteQuery: {"rag_rewrite_query"},
	CapFileRead:        {"file_read"},
	CapFileWrite:       {"file_write"},
	CapCreateFile:      {"create_file"},
	CapDeleteFile:      {"delete_file"},
	CapGetTime:         {"get_time"},
	CapCalculate:       {"calculate"},
	CapCodeExec:        {"code_exec"},
	CapExternalMCP:     nil, // resolved dynamically from the MCP tool registry
}

// ToolsAllowed reports whether cap maps to a non-empty tool set. It also
// reports true for CapExternalMCP, whose static tool set is empty because its
// tools are resolved at runtime.
func ToolsAllowed(cap Capability) bool {
	tools, ok := CapabilityTools[cap]
	return ok && (len(tools) > 0 || cap == CapExternalMCP)
}
