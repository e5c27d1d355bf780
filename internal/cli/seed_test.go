package cli

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestSeedRejectsNonPositiveCount(t *testing.T) {
	for _, count := range []int{0, -5} {
		err := seed(context.Background(), zap.NewNop(), &SeedOptions{
			RootOptions: &RootOptions{},
			URL:         "ws://localhost:0/ws",
			Count:       count,
		})
		assert.ErrorContains(t, err, "count must be at least 1")
	}
}
