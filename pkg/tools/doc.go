// Package tools holds the tool registry and invoker.
//
// Invariants:
// - Every Call that reaches the invoker produces exactly one Result; handler
//   errors, panics, and unknown tools become failed Results, never panics.
// - Schema validation applies only when the tool declares parameters and the
//   arguments decoded to a mapping.
//
// Usage:
//
//	reg := tools.NewRegistry()
//	_ = reg.Register(tools.Definition{
//		Name:        "echo",
//		Description: "Echo the input",
//		Parameters: []tools.Parameter{
//			{Name: "text", Type: "string", Description: "Text to echo", Required: true},
//		},
//		Handler: func(ctx context.Context, args any) (any, error) {
//			return args, nil
//		},
//	})
//	inv := tools.NewInvoker(reg)
//	result := inv.Invoke(ctx, call)
//	_ = result
package tools
