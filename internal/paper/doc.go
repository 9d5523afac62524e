// Package paper defines core types shared across subsystems: the canonical
// paper record, run configuration, worker outcomes, and the interfaces that
// connect sources, storage, and the supervisor.
package paper
