// Package logx configures hostshell's structured logging.
//
// Components log through a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - Level and sinks swappable at runtime (Service.Apply)
package logx
