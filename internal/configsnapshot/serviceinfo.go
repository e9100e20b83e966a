package configsnapshot

import (
	"fmt"

	"github.com/tidwall/pretty"

	tmpleval "github.com/kiscz/mcrouter/internal/eval/template"
	"github.com/kiscz/mcrouter/internal/mcproto"
	"github.com/kiscz/mcrouter/internal/stats"
)

// ServiceInfo answers "__mcrouter__." introspection GETs: routes,
// pools, clients and config_digest reports rendered as
// Handlebars templates through the shared tmpleval.Engine, which
// compiles and caches each report template the first time it's
// requested — the introspection surface here is a closed, fixed set
// of reports, not user-authorable templates.
type ServiceInfo struct {
	cell   *Cell
	stats  *stats.Sink
	engine *tmpleval.Engine
}

// NewServiceInfo builds a ServiceInfo bound to cell and stats,
// registering its four built-in reports with the template engine.
func NewServiceInfo(cell *Cell, sink *stats.Sink) *ServiceInfo {
	engine := tmpleval.NewEngine()
	for name, src := range reportTemplates {
		engine.RegisterReport(name, src)
	}
	return &ServiceInfo{cell: cell, stats: sink, engine: engine}
}

const (
	reportRoutes       = "routes"
	reportPools        = "pools"
	reportClients      = "clients"
	reportConfigDigest = "config_digest"
)

var reportTemplates = map[string]string{
	reportRoutes:       "{{#each routes}}{{prefix}} -> {{pool}}\n{{/each}}",
	reportPools:        "{{#each pools}}{{name}} ({{kind}}): {{numClients}} clients\n{{/each}}",
	reportClients:      "{{#each clients}}{{identity}} tko={{yesno tko}} rtt_avg_us={{rttAvg}}\n{{/each}}",
	reportConfigDigest: "digest: {{digest}}\nbuilt_at: {{builtAt}}\n{{json}}",
}

// Describe dispatches an already-rewritten get_service_info request
// (req.Key holds the post-"__mcrouter__." suffix, e.g. "pools") to the
// matching report. It returns nil, false for a key this ServiceInfo
// doesn't recognize, so the caller can fall back to its own "unknown
// key" handling.
func (s *ServiceInfo) Describe(req *mcproto.Req) (*mcproto.Reply, bool) {
	key := string(req.Key)
	switch key {
	case reportRoutes:
		return s.render(req, reportRoutes, s.routesData()), true
	case reportPools:
		return s.render(req, reportPools, s.poolsData()), true
	case reportClients:
		return s.render(req, reportClients, s.clientsData()), true
	case reportConfigDigest:
		return s.render(req, reportConfigDigest, s.configDigestData()), true
	default:
		return nil, false
	}
}

func (s *ServiceInfo) render(req *mcproto.Req, name string, data map[string]interface{}) *mcproto.Reply {
	out, err := s.engine.RenderReport(name, data)
	if err != nil {
		return mcproto.NewLocalErrorReply(req.Op, fmt.Sprintf("service-info: rendering %s: %v", name, err))
	}
	return &mcproto.Reply{Op: req.Op, Result: mcproto.ResultOK, Value: []byte(out)}
}

func (s *ServiceInfo) routesData() map[string]interface{} {
	snap := s.cell.Get()
	rows := make([]map[string]interface{}, 0, len(snap.Routes))
	for prefix := range snap.Routes {
		rows = append(rows, map[string]interface{}{"prefix": prefix, "pool": snap.DefaultPrefix})
	}
	return map[string]interface{}{"routes": rows}
}

func (s *ServiceInfo) poolsData() map[string]interface{} {
	snap := s.cell.Get()
	rows := make([]map[string]interface{}, 0, len(snap.Pools))
	for _, p := range snap.Pools {
		rows = append(rows, map[string]interface{}{
			"name":       p.Name,
			"kind":       p.Kind.String(),
			"numClients": len(p.Clients),
		})
	}
	return map[string]interface{}{"pools": rows}
}

func (s *ServiceInfo) clientsData() map[string]interface{} {
	snap := s.cell.Get()
	rows := make([]map[string]interface{}, 0)
	if snap.Table != nil {
		for _, c := range snap.Table.All() {
			_, avg, _ := c.RTT().Flush()
			rows = append(rows, map[string]interface{}{
				"identity": c.Identity.String(),
				"tko":      c.TKO(),
				"rttAvg":   avg,
			})
		}
	}
	return map[string]interface{}{"clients": rows}
}

func (s *ServiceInfo) configDigestData() map[string]interface{} {
	snap := s.cell.Get()
	return map[string]interface{}{
		"digest":  snap.Digest,
		"builtAt": snap.BuiltAt.Format("2006-01-02T15:04:05Z07:00"),
		"json":    string(pretty.Pretty(snap.RawConfig)),
	}
}
