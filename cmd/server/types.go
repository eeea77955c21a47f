package main

// DataCreatedResponse is the 201 body both creation endpoints return.
// For the bulk registration endpoint DataID is the last entry created.
type DataCreatedResponse struct {
	DataID  uint   `json:"data_id"`
	Message string `json:"message"`
	Type    string `json:"type"`
}

const (
	dataCreatedType    = "DATA_CREATED"
	dataCreatedMessage = "Data uploaded, created and assigned successfully"
)

// HealthResponse is the GET /health body.
type HealthResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"`
}
