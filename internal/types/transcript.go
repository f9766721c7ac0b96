package types

// Utterance is one transcribed span of speech attributed to a channel.
type Utterance struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Speaker string  `json:"speaker"`
	Text    string  `json:"text"`
}

// Transcript is the committed output of the transcription stage.
type Transcript struct {
	Utterances []Utterance `json:"utterances"`
	Language   string      `json:"language,omitempty"`
	WordCount  int         `json:"word_count,omitempty"`
}
