package ai

import "discussionhub/pkg/types"

var rolePhrases = map[types.AIRole][]string{
	types.RoleModerator: {
		"That's an interesting perspective. What do others think about this approach?",
		"Let's explore this idea further. Can you provide a specific example?",
		"I'd like to hear different viewpoints on this topic.",
	},
	types.RoleParticipant: {
		"I believe this approach has merit because it addresses the core issues we're discussing.",
		"From my experience, I've seen similar situations where communication was the key factor.",
		"I'd like to build on that point and add that leadership requires adaptability.",
	},
	types.RoleInterviewer: {
		"Can you walk me through your thought process on that decision?",
		"How would you handle a situation where team members disagree?",
		"What would you consider your greatest strength in this area?",
	},
}

var (
	keyPoints = []string{
		"Demonstrated strong analytical thinking",
		"Provided relevant examples",
		"Engaged well with other participants",
	}

	improvements = []string{
		"Consider speaking more frequently",
		"Elaborate on key points with more detail",
	}

	silentImprovement = "Contribute at least one point to the discussion"

	keyInsights = []string{
		"Good overall participation from all members",
		"Strong collaborative discussion flow",
		"Effective use of examples and case studies",
	}

	recommendations = []string{
		"Continue practicing active listening",
		"Work on asking follow-up questions",
		"Focus on providing specific examples",
	}
)
