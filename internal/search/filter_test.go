package search

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sakif/qanda/internal/model"
)

func question(id string, text *string) model.Question {
	return model.Question{ID: id, Text: text, AskedBy: "a@x.com"}
}

func sampleFeed() []model.Question {
	return []model.Question{
		question("q1", model.StringPtr("What is 2+2?")),
		question("q2", model.StringPtr("How do I center a div?")),
		question("q3", nil), // image-only
		question("q4", model.StringPtr("WHAT is the capital of France?")),
	}
}

func ids(qs []model.Question) []string {
	out := make([]string, 0, len(qs))
	for _, q := range qs {
		out = append(out, q.ID)
	}
	return out
}

func TestFilter(t *testing.T) {
	tests := []struct {
		name string
		term string
		want []string
	}{
		{"empty term returns everything", "", []string{"q1", "q2", "q3", "q4"}},
		{"blank term returns everything", "   ", []string{"q1", "q2", "q3", "q4"}},
		{"exact substring", "2+2", []string{"q1"}},
		{"case-insensitive", "what", []string{"q1", "q4"}},
		{"no match", "kubernetes", []string{}},
		{"image-only question never matches text", "?", []string{"q1", "q2", "q4"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ids(Filter(sampleFeed(), tt.term)))
		})
	}
}

func TestFilter_KeepsOrder(t *testing.T) {
	feed := []model.Question{
		question("z", model.StringPtr("go channels")),
		question("a", model.StringPtr("go generics")),
	}
	assert.Equal(t, []string{"z", "a"}, ids(Filter(feed, "go")))
}

// Extending a term can only narrow the result.
func TestFilter_NarrowingNeverGrows(t *testing.T) {
	feed := sampleFeed()
	alphabet := []rune("what is 2+?ocdAW ")
	rng := rand.New(rand.NewSource(1))

	for i := 0; i < 500; i++ {
		n := rng.Intn(6)
		term := make([]rune, n)
		for j := range term {
			term[j] = alphabet[rng.Intn(len(alphabet))]
		}
		extended := string(term) + string(alphabet[rng.Intn(len(alphabet))])
		prefixed := string(alphabet[rng.Intn(len(alphabet))]) + string(term)

		base := len(Filter(feed, string(term)))
		assert.LessOrEqual(t, len(Filter(feed, extended)), base, "term %q → %q", string(term), extended)
		assert.LessOrEqual(t, len(Filter(feed, prefixed)), base, "term %q → %q", string(term), prefixed)
	}
}

func TestFilter_Idempotent(t *testing.T) {
	once := Filter(sampleFeed(), "what")
	twice := Filter(once, "what")
	assert.Equal(t, ids(once), ids(twice))
}
