package model

// Name is reported by the health endpoint.
const Name = "YAMNet"

type Detection struct {
	Class      string  `json:"class"`
	Confidence float64 `json:"confidence"`
	Type       string  `json:"type"`
}

type Verdict struct {
	EmergencyDetected bool        `json:"emergency_detected"`
	Type              string      `json:"type"`
	Confidence        float64     `json:"confidence"`
	Detections        []Detection `json:"detections"`
}

type HealthResponse struct {
	Status string  `json:"status"`
	Model  string  `json:"model"`
	Loaded bool    `json:"loaded"`
	Error  *string `json:"error"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
