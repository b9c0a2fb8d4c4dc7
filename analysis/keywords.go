package analysis

import (
	"math"
	"strings"
)

// DefaultScene is reported when no scene keyword matches.
const DefaultScene = "indoor space"

// DefaultMood is reported when no mood keyword matches.
const DefaultMood = "neutral"

// NeutralIntensity is the neutral score reported when no emotion keyword matches.
const NeutralIntensity = 0.7

var objectVocabulary = []string{
	"laptop", "computer", "monitor", "screen", "keyboard", "mouse",
	"chair", "desk", "table", "bed", "sofa",
	"book", "phone", "coffee", "cup", "bottle",
	"plant", "flower", "tree", "window", "door",
	"light", "lamp", "camera", "microphone",
	"cat", "dog", "bird", "car", "bicycle",
	"headphones", "glasses", "clock", "picture", "frame",
}

type labelRule struct {
	label    string
	keywords []string
}

// Checked in order; first match wins.
var sceneRules = []labelRule{
	{"office/workspace", []string{"office", "workspace", "desk"}},
	{"kitchen", []string{"kitchen"}},
	{"bedroom", []string{"bedroom", "bed"}},
	{"living room", []string{"living room", "sofa", "couch"}},
	{"outdoor", []string{"outdoor", "outside", "park"}},
	{"bathroom", []string{"bathroom"}},
}

// Sad is checked before happy because "unhappy" contains "happy".
var moodRules = []labelRule{
	{"angry", []string{"angry", "mad", "furious", "frown", "scowl", "irate"}},
	{"sad", []string{"sad", "melancholy", "unhappy", "sorrowful", "down", "depressed"}},
	{"happy", []string{"happy", "joy", "smiling", "cheerful", "delighted"}},
	{"excited", []string{"excited", "energetic", "enthusiastic", "thrilled"}},
	{"focused", []string{"focused", "concentrated", "attentive"}},
	{"calm", []string{"calm", "peaceful", "relaxed", "serene"}},
	{"stressed", []string{"stressed", "tense", "anxious", "worried"}},
}

type emotionRule struct {
	name   string
	weight float64
	words  []string
}

var emotionRules = []emotionRule{
	{"happiness", 0.2, []string{"happy", "joy", "joyful", "smiling", "cheerful", "pleased", "delighted", "content", "upbeat"}},
	{"sadness", 0.25, []string{"sad", "melancholy", "down", "depressed", "gloomy", "unhappy", "sorrowful"}},
	{"excitement", 0.25, []string{"excited", "energetic", "enthusiastic", "thrilled", "animated", "vibrant"}},
	{"calmness", 0.25, []string{"calm", "peaceful", "relaxed", "serene", "tranquil", "composed"}},
	{"stress", 0.25, []string{"stressed", "tense", "anxious", "worried", "overwhelmed", "frantic", "agitated"}},
	{"focus", 0.25, []string{"focused", "concentrated", "attentive", "engaged", "absorbed"}},
}

// ExtractObjects returns the vocabulary objects mentioned in text, in
// vocabulary order. Matching is case-insensitive substring matching.
func ExtractObjects(text string) []string {
	lower := strings.ToLower(text)
	objects := []string{}
	for _, obj := range objectVocabulary {
		if strings.Contains(lower, obj) {
			objects = append(objects, obj)
		}
	}
	return objects
}

// ExtractScene classifies the setting described by text.
func ExtractScene(text string) string {
	return firstLabel(strings.ToLower(text), sceneRules, DefaultScene)
}

// ExtractMood classifies the overall mood described by text.
func ExtractMood(text string) string {
	return firstLabel(strings.ToLower(text), moodRules, DefaultMood)
}

// ExtractEmotions scores each emotion by keyword hits, capped at 1.0. When
// nothing matches, a "neutral" score is added.
func ExtractEmotions(text string) map[string]float64 {
	lower := strings.ToLower(text)
	emotions := make(map[string]float64, len(emotionRules)+1)
	var total float64
	for _, rule := range emotionRules {
		var score float64
		for _, w := range rule.words {
			if strings.Contains(lower, w) {
				score += rule.weight
			}
		}
		score = math.Min(score, 1.0)
		emotions[rule.name] = score
		total += score
	}
	if total == 0 {
		emotions["neutral"] = NeutralIntensity
	}
	return emotions
}

func firstLabel(lower string, rules []labelRule, fallback string) string {
	for _, r := range rules {
		for _, kw := range r.keywords {
			if strings.Contains(lower, kw) {
				return r.label
			}
		}
	}
	return fallback
}
