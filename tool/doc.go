/*
Package tool defines the capability interface every tool implements, the
registry the orchestrator resolves invocations against, and the translation of
tool schemas into each provider's schema dialect.

# Design Decisions

  - Capability interface: a tool is anything with Schema and Execute, so
    hand-written tools and function-backed tools are interchangeable
  - Schema reflection: function-backed tools reflect their parameter schema from
    the Go input type with invopop/jsonschema
  - Functional options: Name, Description and Parameters configure a Definition
  - Ordered registry: lookup is a single hash probe, while listings keep the
    registration order so provider requests are deterministic
  - Dialects: ForProvider keeps the schema as-is for the block dialect and wraps
    it in a closed function envelope for the choices dialect

# Usage Examples

Typed tool:

	type weatherInput struct {
		City string `json:"city" jsonschema:"description=City to look up"`
	}

	weather := tool.MustTyped(func(ctx context.Context, in weatherInput) (any, error) {
		return map[string]any{"city": in.City, "forecast": "sunny"}, nil
	},
		tool.Name("get_weather"),
		tool.Description("Get the current weather for a city"),
	)

Registry:

	reg := tool.NewRegistry(weather)
	set, err := reg.ForProvider(messages.OpenAI)

Registering a second tool with an existing name replaces the first one without
an error; its position in listings is preserved.
*/
package tool
