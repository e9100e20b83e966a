// Package template provides the Handlebars template engine that renders
// the get_service_info introspection reports (routes, pools, clients,
// config_digest). Reports are a closed, built-in set: callers register
// each report's source once by name and render it by name from then on,
// rather than passing template source at render time.
//
// Example usage:
//
//	engine := template.NewEngine()
//	engine.RegisterReport("pools", "{{#each pools}}{{name}} ({{kind}}): {{numClients}} clients\n{{/each}}")
//
//	data := map[string]interface{}{
//	    "pools": []interface{}{
//	        map[string]interface{}{"name": "main", "kind": "regular", "numClients": 3},
//	    },
//	}
//
//	result, err := engine.RenderReport("pools", data)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Built-in helpers:
//   - yesno - renders a bool as "yes"/"no", used by the clients report's TKO column
package template
