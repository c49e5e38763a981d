package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ok(context.Context) error   { return nil }
func fail(context.Context) error { return errors.New("connection refused") }

func TestOverallStatus(t *testing.T) {
	tests := []struct {
		name   string
		checks map[string]CheckFunc
		want   Status
	}{
		{name: "no checks", checks: map[string]CheckFunc{}, want: StatusHealthy},
		{name: "all pass", checks: map[string]CheckFunc{"a": ok, "b": ok}, want: StatusHealthy},
		{name: "some fail", checks: map[string]CheckFunc{"a": ok, "b": fail}, want: StatusDegraded},
		{name: "all fail", checks: map[string]CheckFunc{"a": fail, "b": fail}, want: StatusUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := NewChecker(0).RunAll(context.Background(), tt.checks)
			assert.Equal(t, tt.want, report.Status)
			assert.Len(t, report.Checks, len(tt.checks))
		})
	}
}

func TestRunAllForgetsRemovedChecks(t *testing.T) {
	c := NewChecker(0)
	c.RunAll(context.Background(), map[string]CheckFunc{"a": ok, "b": fail})
	assert.Equal(t, StatusDegraded, c.OverallStatus())

	report := c.RunAll(context.Background(), map[string]CheckFunc{"a": ok})
	require.Len(t, report.Checks, 1)
	assert.Equal(t, "a", report.Checks[0].Name)
	assert.Equal(t, StatusHealthy, report.Status)
}

func TestRunCheckTimeout(t *testing.T) {
	c := NewChecker(20 * time.Millisecond)
	check := c.RunCheck(context.Background(), "slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.Equal(t, StatusUnhealthy, check.Status)
	assert.Contains(t, check.Message, "deadline")
}

func TestLastHealthy(t *testing.T) {
	c := NewChecker(0)
	before := c.LastHealthy()

	c.RunCheck(context.Background(), "a", fail)
	assert.Equal(t, before, c.LastHealthy())

	c.RunCheck(context.Background(), "a", ok)
	assert.False(t, c.LastHealthy().Before(before))

	c.Remove("a")
	assert.Empty(t, c.Report().Checks)
}
