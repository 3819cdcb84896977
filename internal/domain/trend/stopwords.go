// internal/domain/trend/stopwords.go

package trend

// stopWords excludes common English function words from the topic
// signal.
var stopWords = map[string]struct{}{}

func init() {
	words := []string{
		"the", "a", "an", "is", "are", "was", "were", "be", "been", "being",
		"have", "has", "had", "do", "does", "did", "will", "would", "could",
		"should", "may", "might", "must", "shall", "can", "need", "dare",
		"to", "of", "in", "for", "on", "with", "at", "by", "from", "as",
		"into", "through", "during", "before", "after", "above", "below",
		"and", "or", "but", "if", "because", "until", "while", "this", "that",
		"i", "me", "my", "you", "your", "he", "she", "it", "we", "they",
	}
	for _, w := range words {
		stopWords[w] = struct{}{}
	}
}
