package memory

// The memory service partitions records by user_id. Three tiers share one
// store: working memory that lives for a task or campaign, per-project
// memory, and global user preferences.

// WorkingScope is an agent's ephemeral scratch space for its current task.
func WorkingScope(projectID, agentID string) Scope {
	return Scope{UserID: "working:" + projectID + ":" + agentID}
}

// CampaignScope is shared by every agent in a campaign. Agents write
// completion summaries here so siblings can see what is already done and
// avoid colliding. Cleared when the campaign finishes.
func CampaignScope(projectID, parentID string) Scope {
	return Scope{UserID: "working:" + projectID + ":campaign:" + parentID}
}

// ProjectScope is persistent per-project memory.
func ProjectScope(projectID string) Scope {
	return Scope{UserID: "project:" + projectID}
}

// GlobalScope is cross-project user preference memory.
func GlobalScope() Scope {
	return Scope{UserID: "global:user"}
}
