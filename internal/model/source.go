package model

// SourceMetadata identifies the agent that produced a published payload
type SourceMetadata struct {
	ClusterID    string `json:"clusterId"`
	AgentVersion string `json:"agentVersion"`
}
