// Package xmlcall detects and parses tool calls embedded in model output as
// tagged content.
//
// Two grammars are recognized. The standard grammar wraps one or more invoke
// elements in a function_calls block:
//
//	<function_calls>
//	  <invoke name="tool_name">
//	    <parameter name="arg1">value</parameter>
//	  </invoke>
//	</function_calls>
//
// The legacy grammar is one element per tool, registered by tag name
// (<tool-name>…</tool-name>) and only consulted when the standard grammar
// matches nothing.
//
// Invariants:
// - Extract returns only balanced, complete blocks; partial blocks stay in
//   the remaining buffer for the next pass.
// - Parse failures are reported as errors, never as panics.
package xmlcall
