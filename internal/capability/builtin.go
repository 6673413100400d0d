package capability

import "github.com/mvaldr/cascade/internal/expressions"

// BuiltinConfig bundles the configuration for the builtin capabilities.
type BuiltinConfig struct {
	Shell  ShellConfig
	HTTP   HTTPConfig
	MCP    *MCPConfig
	Memory MemoryStore
}

// RegisterBuiltins registers all built-in capabilities in the given registry.
// The memory capability is registered only when a store is provided, and
// mcp.tool only when a server command is configured.
func RegisterBuiltins(reg *Registry, cfg BuiltinConfig) error {
	exprEngine := expressions.NewExprEngine()
	jqEngine := expressions.NewGoJQEngine()

	all := []Capability{
		NewShellExec(cfg.Shell),
		NewHTTPFetch(cfg.HTTP),
		NewExprEval(exprEngine),
		NewJQ(jqEngine),
		NewTemplate(),
	}

	if cfg.Memory != nil {
		all = append(all, NewMemory(cfg.Memory))
	}
	if cfg.MCP != nil && cfg.MCP.Command != "" {
		all = append(all, NewMCPTool(*cfg.MCP))
	}

	for _, c := range all {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
