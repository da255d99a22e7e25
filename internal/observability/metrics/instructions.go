package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

type instructionKey struct {
	kind  string
	stage string
	code  string
}

type instructionCollector struct {
	mu       sync.Mutex
	outcomes map[instructionKey]uint64
	latency  map[string]*histogram
}

var instrCollector = &instructionCollector{
	outcomes: make(map[instructionKey]uint64),
	latency:  make(map[string]*histogram),
}

// ObserveInstruction records the outcome of one instruction pipeline run.
// Stage is the final stage reached; code is empty for successful runs.
func ObserveInstruction(kind, stage, code string, duration time.Duration) {
	instrCollector.observe(kind, stage, code, duration)
}

func (c *instructionCollector) observe(kind, stage, code string, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.outcomes[instructionKey{kind: kind, stage: stage, code: code}]++

	hist := c.latency[kind]
	if hist == nil {
		hist = newHistogram()
		c.latency[kind] = hist
	}
	hist.observe(duration.Seconds())
}

func (c *instructionCollector) render() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	type outcomeMetric struct {
		instructionKey
		value uint64
	}
	outcomes := make([]outcomeMetric, 0, len(c.outcomes))
	for key, value := range c.outcomes {
		outcomes = append(outcomes, outcomeMetric{instructionKey: key, value: value})
	}
	sort.Slice(outcomes, func(i, j int) bool {
		if outcomes[i].kind == outcomes[j].kind {
			if outcomes[i].stage == outcomes[j].stage {
				return outcomes[i].code < outcomes[j].code
			}
			return outcomes[i].stage < outcomes[j].stage
		}
		return outcomes[i].kind < outcomes[j].kind
	})

	kinds := make([]string, 0, len(c.latency))
	for kind := range c.latency {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)

	var builder strings.Builder
	builder.Grow(512)

	builder.WriteString("# HELP nlmongo_instructions_total Total number of instructions processed by final stage.\n")
	builder.WriteString("# TYPE nlmongo_instructions_total counter\n")
	for _, metric := range outcomes {
		builder.WriteString(fmt.Sprintf("nlmongo_instructions_total{kind=\"%s\",stage=\"%s\",code=\"%s\"} %d\n",
			escape(metric.kind), escape(metric.stage), escape(metric.code), metric.value))
	}

	builder.WriteString("# HELP nlmongo_instruction_duration_seconds Instruction pipeline duration in seconds.\n")
	builder.WriteString("# TYPE nlmongo_instruction_duration_seconds histogram\n")
	for _, kind := range kinds {
		hist := c.latency[kind]
		for idx, bound := range hist.buckets {
			builder.WriteString(fmt.Sprintf("nlmongo_instruction_duration_seconds_bucket{kind=\"%s\",le=\"%s\"} %d\n",
				escape(kind), formatFloat(bound), hist.counts[idx]))
		}
		builder.WriteString(fmt.Sprintf("nlmongo_instruction_duration_seconds_bucket{kind=\"%s\",le=\"+Inf\"} %d\n",
			escape(kind), hist.count))
		builder.WriteString(fmt.Sprintf("nlmongo_instruction_duration_seconds_sum{kind=\"%s\"} %s\n",
			escape(kind), formatFloat(hist.sum)))
		builder.WriteString(fmt.Sprintf("nlmongo_instruction_duration_seconds_count{kind=\"%s\"} %d\n",
			escape(kind), hist.count))
	}

	return builder.String()
}
