package model

// Message is the payload carried by the queue from ingestion to the worker.
type Message struct {
	Company string `json:"company"`
	CSV     string `json:"csv"`
}
