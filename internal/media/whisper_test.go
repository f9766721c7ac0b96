package media

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseWhisperJSON(t *testing.T) {
	data := []byte(`{
		"result": {"language": "en"},
		"transcription": [
			{"offsets": {"from": 0, "to": 4200}, "text": " Welcome back to the show."},
			{"offsets": {"from": 4200, "to": 9500}, "text": " Thanks for having me."},
			{"offsets": {"from": 9500, "to": 9600}, "text": "   "}
		]
	}`)

	transcript, err := parseWhisperJSON(data)
	require.NoError(t, err)

	assert.Equal(t, "en", transcript.Language)
	require.Len(t, transcript.Utterances, 2)
	assert.Equal(t, 0.0, transcript.Utterances[0].Start)
	assert.Equal(t, 4.2, transcript.Utterances[0].End)
	assert.Equal(t, "Welcome back to the show.", transcript.Utterances[0].Text)
	assert.Equal(t, 9.5, transcript.Utterances[1].End)
}

func TestParseWhisperJSONRejectsGarbage(t *testing.T) {
	_, err := parseWhisperJSON([]byte("not json"))
	assert.Error(t, err)
}
