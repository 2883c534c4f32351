package telemetry

import (
	"fmt"
)

// API is how every component reports what happened to it, tests swap in a Recorder.
type API interface {
	// ReportBroken reports a component that broke and needs fixing. The id names
	// the component (`client.request`, `scraper.images`), not the failing line;
	// lowercase, with dots between a component and its method.
	ReportBroken(id string, params ...any)
	// ReportWarning reports something worth a look that is not necessarily broken.
	ReportWarning(id string, params ...any)
	// ReportDebug is dropped in production.
	ReportDebug(msg string, params ...any)
	// ReportCount records a point-in-time count, values are not summed.
	ReportCount(id string, count int64)
}

// ScopedAPI prefixes every id with a namespace.
type ScopedAPI struct {
	namespace string
	inner     API
}

func NewScopedAPI(namespace string, inner API) ScopedAPI {
	return ScopedAPI{namespace: namespace, inner: inner}
}

func (s ScopedAPI) ReportBroken(id string, params ...any) {
	s.inner.ReportBroken(fmt.Sprintf("%s: %s", s.namespace, id), params...)
}

func (s ScopedAPI) ReportWarning(id string, params ...any) {
	s.inner.ReportWarning(fmt.Sprintf("%s: %s", s.namespace, id), params...)
}

func (s ScopedAPI) ReportDebug(msg string, params ...any) {
	s.inner.ReportDebug(fmt.Sprintf("%s: %s", s.namespace, msg), params...)
}

func (s ScopedAPI) ReportCount(id string, count int64) {
	s.inner.ReportCount(fmt.Sprintf("%s: %s", s.namespace, id), count)
}
