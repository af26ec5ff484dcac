// Package logx configures hotlabel's structured logging.
//
// A small wrapper (logx.Logger) on top of zerolog keeps:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - The zero Logger usable as a no-op, so components never nil-check
package logx
