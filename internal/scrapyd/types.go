package scrapyd

// DaemonStatus is the body of daemonstatus.json.
type DaemonStatus struct {
	NodeName string `json:"node_name"`
	Pending  int    `json:"pending"`
	Running  int    `json:"running"`
	Finished int    `json:"finished"`
}

type projectsResponse struct {
	Projects []string `json:"projects"`
}

// versionsResponse lists versions oldest first, the way scrapyd sorts them.
type versionsResponse struct {
	Versions []string `json:"versions"`
}

type spidersResponse struct {
	Spiders []string `json:"spiders"`
}
