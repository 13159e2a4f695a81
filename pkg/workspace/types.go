package workspace

// Project is one folder under projects/.
type Project struct {
	Name      string `json:"name"`
	Slug      string `json:"slug"`
	DistDir   string `json:"distDir"`
	HasConfig bool   `json:"hasConfig"`
	JSEngine  string `json:"jsEngine"`
}

// ProjectList is what the project picker shows.
type ProjectList struct {
	ActiveProject string    `json:"activeProject"`
	Projects      []Project `json:"projects"`
}

// Manifest summarizes a dev-server manifest written by the dev runner.
// Optional fields are nil when the manifest omits them.
type Manifest struct {
	ID          string  `json:"id"`
	Mode        string  `json:"mode"`
	Project     *string `json:"project"`
	Host        string  `json:"host"`
	Port        *int    `json:"port"`
	URL         *string `json:"url"`
	GeneratedAt *string `json:"generatedAt"`
	PreviewURL  string  `json:"previewUrl"`
}

// PreparedSession is the newest folder produced by the chat prep pipeline.
// Paths are workspace-relative.
type PreparedSession struct {
	FolderName      string                 `json:"folderName"`
	FolderPath      string                 `json:"folderPath"`
	SessionJSONPath string                 `json:"sessionJsonPath"`
	BriefingPath    string                 `json:"briefingPath"`
	SessionJSON     map[string]interface{} `json:"sessionJson"`
}
