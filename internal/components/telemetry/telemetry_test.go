package telemetry

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScopedAPI(t *testing.T) {
	recorder := NewRecorder()
	scoped := NewScopedAPI("marketplace", recorder)

	scoped.ReportBroken("client.token", "boom")
	scoped.ReportWarning("client.request", 1)
	scoped.ReportDebug("state")
	scoped.ReportCount("client.retry", 3)

	broken := recorder.Find("broken", "client.token")
	require.Len(t, broken, 1)
	require.Equal(t, "marketplace: client.token", broken[0].Id)
	require.Equal(t, []any{"boom"}, broken[0].Params)

	require.Len(t, recorder.Find("warning", "marketplace: client.request"), 1)
	require.Len(t, recorder.Find("debug", "marketplace: state"), 1)

	counts := recorder.Find("count", "client.retry")
	require.Len(t, counts, 1)
	require.Equal(t, []any{int64(3)}, counts[0].Params)

	require.Empty(t, recorder.Find("broken", "client.request"))
}

func TestNestedScope(t *testing.T) {
	recorder := NewRecorder()
	scoped := NewScopedAPI("inner", NewScopedAPI("outer", recorder))
	scoped.ReportWarning("thing")

	require.Len(t, recorder.Find("warning", "outer: inner: thing"), 1)
}
