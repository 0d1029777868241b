package mail

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"unicode"
)

// Scorer rates how likely a message is to be spam.
type Scorer interface {
	Score(subject, body string) float64
	IsSpam(subject, body string) bool
}

// DefaultSpamThreshold is the probability above which a message is spam.
const DefaultSpamThreshold = 0.5

// minTokenLength drops short words that carry no signal.
const minTokenLength = 3

// ErrInvalidThreshold is returned for thresholds outside [0, 1].
var ErrInvalidThreshold = errors.New("spam threshold must be within [0, 1]")

// Built-in training corpus used by NewDefaultNaiveBayesScorer.
var (
	defaultSpamSamples = []string{
		"Congratulations, you won a free prize. Click here to claim your money now!",
		"URGENT: your account is suspended. Verify your credit card details immediately.",
		"You are our lottery winner! Claim your cash bonus before the offer expires.",
		"Earn money fast working from home. Guaranteed income, click here for a free trial.",
		"Cheap pills and discount medication. Buy now while stock is limited.",
		"Win a free phone today! Urgent offer, click here to claim your reward.",
		"Casino bonus: play free games and win real money. Click now!",
		"Get rich quick with crypto. Guaranteed profit, limited time offer.",
		"Your parcel is waiting. Click here to claim your free gift.",
		"Security alert! Click here urgently to unlock your account.",
		"Low rate loan guaranteed. Free quote, click here now.",
		"Hot deal: designer watches and bags at 80% discount!",
	}
	defaultHamSamples = []string{
		"Can we meet tomorrow at ten to go over the project plan?",
		"Please review the attached draft and send feedback by Friday.",
		"The team meeting moved to Monday afternoon.",
		"Thanks for the help with the slides, the presentation went well.",
		"Could you share the latest version of the report before the review?",
		"Lunch at noon on Thursday to celebrate the release?",
		"I am out of the office next week, ask Sam if anything comes up.",
		"Reminder to submit your timesheet before the end of the day.",
		"The build server is down for maintenance on Saturday night.",
		"Here are the minutes and action items from this morning's meeting.",
		"Happy birthday, hope you have a great day with your family.",
		"The deadline moved to next month, please update the schedule.",
	}
)

// NaiveBayesScorer is a multinomial naive Bayes classifier over lower-cased
// alphanumeric words with Laplace smoothing. It is safe for concurrent use.
type NaiveBayesScorer struct {
	spamWords map[string]int
	hamWords  map[string]int
	spamTotal int
	hamTotal  int
	spamDocs  int
	hamDocs   int
	threshold float64
	mu        sync.RWMutex
}

// NewNaiveBayesScorer creates an untrained scorer. Until both classes have
// been trained every message scores 0.
func NewNaiveBayesScorer() *NaiveBayesScorer {
	return &NaiveBayesScorer{
		spamWords: make(map[string]int),
		hamWords:  make(map[string]int),
		threshold: DefaultSpamThreshold,
	}
}

// NewDefaultNaiveBayesScorer creates a scorer trained on a small built-in
// corpus of spam and ordinary office mail.
func NewDefaultNaiveBayesScorer() *NaiveBayesScorer {
	s := NewNaiveBayesScorer()
	for _, text := range defaultSpamSamples {
		s.Train(text, true)
	}
	for _, text := range defaultHamSamples {
		s.Train(text, false)
	}
	return s
}

// Train adds one labelled document to the model.
func (s *NaiveBayesScorer) Train(text string, spam bool) {
	words := tokenize(text)

	s.mu.Lock()
	defer s.mu.Unlock()

	if spam {
		s.spamDocs++
		s.spamTotal += len(words)
		for _, w := range words {
			s.spamWords[w]++
		}
		return
	}
	s.hamDocs++
	s.hamTotal += len(words)
	for _, w := range words {
		s.hamWords[w]++
	}
}

// SetThreshold sets the probability above which IsSpam reports true.
func (s *NaiveBayesScorer) SetThreshold(threshold float64) error {
	if threshold < 0 || threshold > 1 || math.IsNaN(threshold) {
		return fmt.Errorf("%w: %v", ErrInvalidThreshold, threshold)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threshold = threshold
	return nil
}

// Threshold returns the current spam threshold.
func (s *NaiveBayesScorer) Threshold() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.threshold
}

// Score returns P(spam | subject, body) in [0, 1]. Messages without any
// usable word score 0.
func (s *NaiveBayesScorer) Score(subject, body string) float64 {
	words := tokenize(subject + " " + body)
	if len(words) == 0 {
		return 0
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.spamDocs == 0 || s.hamDocs == 0 {
		return 0
	}

	vocabulary := len(s.spamWords)
	for w := range s.hamWords {
		if _, ok := s.spamWords[w]; !ok {
			vocabulary++
		}
	}

	docs := float64(s.spamDocs + s.hamDocs)
	logSpam := math.Log(float64(s.spamDocs) / docs)
	logHam := math.Log(float64(s.hamDocs) / docs)

	spamDenom := float64(s.spamTotal + vocabulary)
	hamDenom := float64(s.hamTotal + vocabulary)
	for _, w := range words {
		logSpam += math.Log(float64(s.spamWords[w]+1) / spamDenom)
		logHam += math.Log(float64(s.hamWords[w]+1) / hamDenom)
	}

	// Normalise in log space so long messages do not underflow.
	peak := math.Max(logSpam, logHam)
	spam := math.Exp(logSpam - peak)
	ham := math.Exp(logHam - peak)
	return spam / (spam + ham)
}

// IsSpam reports a score strictly above the threshold.
func (s *NaiveBayesScorer) IsSpam(subject, body string) bool {
	return s.Score(subject, body) > s.Threshold()
}

// Classification is a score with a human-readable confidence band.
type Classification struct {
	Spam       bool
	Score      float64
	Confidence string
}

// Classify scores a message and labels the result.
func (s *NaiveBayesScorer) Classify(subject, body string) Classification {
	score := s.Score(subject, body)
	c := Classification{Spam: score > s.Threshold(), Score: score}
	switch {
	case score < 0.3:
		c.Confidence = "clean"
	case score < 0.5:
		c.Confidence = "probably clean"
	case score < 0.7:
		c.Confidence = "probably spam"
	default:
		c.Confidence = "spam"
	}
	return c
}

// tokenize splits text on whitespace, keeps only ASCII letters and digits of
// each token and drops tokens shorter than minTokenLength.
func tokenize(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	words := make([]string, 0, len(fields))
	for _, f := range fields {
		w := strings.Map(func(r rune) rune {
			if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
				return r
			}
			return -1
		}, f)
		if len(w) >= minTokenLength {
			words = append(words, w)
		}
	}
	return words
}
