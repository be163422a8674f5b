package api

// Route describes one API endpoint for the routes topic.
type Route struct {
	Method      string `json:"method"`
	Path        string `json:"path"`
	Description string `json:"description"`
}

// RouteList is the routes topic payload.
type RouteList struct {
	Routes []Route `json:"routes"`
	Count  int     `json:"count"`
}

// RouteTable lists every endpoint the daemon serves. The hub publishes it
// once per subscriber on the routes topic; keep it in step with Routes.
func RouteTable() RouteList {
	routes := []Route{
		{Method: "POST", Path: "/webhook", Description: "Ingest a GitHub webhook delivery"},
		{Method: "GET", Path: "/webhook-status", Description: "Webhook ingest counters and recent failures"},
		{Method: "POST", Path: "/github-webhook/redeliver", Description: "Re-index state files after a missed delivery"},
		{Method: "GET", Path: "/workflows", Description: "Live workflows from state files and the process registry"},
		{Method: "GET", Path: "/workflow-history", Description: "Indexed workflow history, paginated"},
		{Method: "POST", Path: "/workflows/batch", Description: "Look up workflow records by id"},
		{Method: "POST", Path: "/workflows/{id}/stop", Description: "Stop a running workflow"},
		{Method: "POST", Path: "/request", Description: "Resolve text to a workflow and estimate its cost"},
		{Method: "GET", Path: "/preview/{id}/cost", Description: "Read a held cost estimate"},
		{Method: "POST", Path: "/preview/{id}/confirm", Description: "Admit and dispatch a held estimate"},
		{Method: "POST", Path: "/services/{name}/{action}", Description: "Start, stop or restart a sidecar service"},
		{Method: "GET", Path: "/ws/{topic}", Description: "Subscribe to a broadcast topic over WebSocket"},
		{Method: "GET", Path: "/health", Description: "Daemon health with per-dependency checks"},
	}
	return RouteList{Routes: routes, Count: len(routes)}
}
