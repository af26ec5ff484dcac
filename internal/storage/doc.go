// Package storage provides the small persistence layer behind the scheduler.
//
// It holds:
//   - Completed task records (pruned by the privacy retention window)
//   - Session-scoped identifiers, purged when the visitor opts out
//
// Nothing else survives a restart; daily counters stay in memory.
package storage
