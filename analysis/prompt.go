package analysis

// VisionPrompt is sent with every frame.
const VisionPrompt = "Analyze this image focusing on emotions and environment. " +
	"Respond in plain conversational English without any markdown formatting, bullet points, or numbered lists. " +
	"Provide a natural description covering: the scene and environment, key objects visible, the general setting, " +
	"detailed emotion analysis including happiness, sadness, excitement, calmness, and stress levels, plus overall mood assessment. " +
	"Focus on emotional state and atmosphere rather than personal identification. " +
	"Keep the response flowing and natural like you're describing what you see to a friend. " +
	"when the image is completely dark or unclear, respond with 'The image is too dark or unclear to analyze.'"

// Generation settings shared by the vision providers.
const (
	MaxDescriptionTokens = 300
	Temperature          = 0.3
	ImageDetail          = "low"
	ImageMimeType        = "image/jpeg"
)
