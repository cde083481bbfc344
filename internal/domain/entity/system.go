package entity

type SystemInfo struct {
	Database struct {
		Projects     int `json:"projects"`
		Videos       int `json:"videos"`
		StageConfigs int `json:"stage_configs"`
	} `json:"database"`
	Storage map[string]int `json:"storage"`
	System  struct {
		Status  string `json:"status"`
		Version string `json:"version"`
	} `json:"system"`
}
