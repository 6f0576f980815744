package config

// ReviewMode controls when reviewer or QA agents run during a campaign
type ReviewMode string

const (
	// ReviewModePerSubtask runs the agent after each sub-task completes
	ReviewModePerSubtask ReviewMode = "per_subtask"
	// ReviewModePerCampaign runs the agent once, after all sub-tasks complete
	ReviewModePerCampaign ReviewMode = "per_campaign"
)

// IsValid checks if the review mode is valid
func (m ReviewMode) IsValid() bool {
	return m == ReviewModePerSubtask || m == ReviewModePerCampaign
}
