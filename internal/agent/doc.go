// Package agent contains the core orchestrator responsible for driving a
// natural-language instruction through parsing, compilation, safety
// validation, execution, and rendering. It owns the per-instruction stage
// machine and guarantees that every instruction, successful or not, ends
// with a rendered response.
package agent
