package providers

import (
	"context"

	"github.com/haasonsaas/tenantagent/internal/agent"
)

const defaultMaxTokens = 4096

// sendChunk delivers chunk unless the consumer has gone away. It returns
// false when ctx ended first.
func sendChunk(ctx context.Context, chunks chan<- *agent.CompletionChunk, chunk *agent.CompletionChunk) bool {
	select {
	case chunks <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

func getMaxTokens(maxTokens int) int {
	if maxTokens <= 0 {
		return defaultMaxTokens
	}
	return maxTokens
}
