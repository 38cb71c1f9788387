package model

type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
	SentimentUnknown  Sentiment = "unknown"
)

// RatingBounds is the star range consistent with a polarity bucket.
func (s Sentiment) RatingBounds() (lo, hi int) {
	switch s {
	case SentimentPositive:
		return 4, 5
	case SentimentNeutral:
		return 3, 3
	case SentimentNegative:
		return 1, 2
	default:
		return 1, 5
	}
}

// ClampRating forces rating into the bucket's range.
func (s Sentiment) ClampRating(rating int) int {
	lo, hi := s.RatingBounds()
	if rating < lo {
		return lo
	}
	if rating > hi {
		return hi
	}
	return rating
}
