// Package llm contains adapters for invoking text-completion providers. It
// abstracts away provider-specific APIs behind a single Complete contract so
// the interpretation pipeline can be tested against stub providers.
package llm
